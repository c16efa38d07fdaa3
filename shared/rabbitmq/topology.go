package rabbitmq

import (
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeclareWorkTopology declares the work queue and the dead-letter exchange/queue pair.
//
// A message rejected from, or expired in, the work queue goes to the dead-letter
// exchange. The dead-letter queue holds it for RetryDelay and then dead-letters it
// back to the work exchange, which routes it to the work queue again.
//
// Once declared, the topology is declared again on every reconnect.
func (c *Client) DeclareWorkTopology() error {
	channel, _, err := c.session()
	if err != nil {
		return err
	}

	if err := c.declareTopology(channel); err != nil {
		return err
	}

	c.topology.Store(true)
	return nil
}

func (c *Client) declareTopology(channel *amqp.Channel) error {
	if c.config.WorkExchange == "" {
		return fmt.Errorf("work exchange is required for the dead-letter return path")
	}

	err := channel.ExchangeDeclare(
		c.config.DeadLetterExchange, // name
		amqp.ExchangeDirect,         // type
		true,                        // durable
		false,                       // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.DeadLetterQueue, // name
		true,                     // durable
		false,                    // auto-delete
		false,                    // exclusive
		false,                    // no-wait
		c.deadLetterQueueArgs(),  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	err = channel.QueueBind(
		c.config.DeadLetterQueue,      // queue name
		c.config.DeadLetterRoutingKey, // routing key
		c.config.DeadLetterExchange,   // exchange
		false,                         // no-wait
		nil,                           // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.WorkQueue, // name
		true,               // durable
		false,              // auto-delete
		false,              // exclusive
		false,              // no-wait
		c.workQueueArgs(),  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare work queue: %w", err)
	}

	// amq.* exchanges are predeclared by the broker and cannot be redeclared by clients
	if !isReservedExchange(c.config.WorkExchange) {
		err = channel.ExchangeDeclare(
			c.config.WorkExchange, // name
			amqp.ExchangeDirect,   // type
			true,                  // durable
			false,                 // auto-deleted
			false,                 // internal
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare work exchange: %w", err)
		}
	}

	err = channel.QueueBind(
		c.config.WorkQueue,    // queue name
		c.config.WorkQueue,    // routing key
		c.config.WorkExchange, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind work queue: %w", err)
	}

	c.logger.Info("RabbitMQ work topology declared",
		slog.String("work_queue", c.config.WorkQueue),
		slog.String("work_exchange", c.config.WorkExchange),
		slog.String("dead_letter_exchange", c.config.DeadLetterExchange),
		slog.String("dead_letter_queue", c.config.DeadLetterQueue),
		slog.Duration("retry_delay", c.config.RetryDelay),
	)

	return nil
}

func (c *Client) workQueueArgs() amqp.Table {
	args := amqp.Table{
		"x-dead-letter-exchange":    c.config.DeadLetterExchange,
		"x-dead-letter-routing-key": c.config.DeadLetterRoutingKey,
	}
	if c.config.WorkQueueTTL > 0 {
		args["x-message-ttl"] = c.config.WorkQueueTTL.Milliseconds()
	}
	return args
}

func (c *Client) deadLetterQueueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             c.config.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    c.config.WorkExchange,
		"x-dead-letter-routing-key": c.config.WorkQueue,
	}
}

func isReservedExchange(name string) bool {
	return name == "" || strings.HasPrefix(name, "amq.")
}
