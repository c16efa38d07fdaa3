package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/inference-queue/shared/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome tells the consume loop how to settle a delivery
type Outcome int

const (
	// Ack acknowledges the delivery; the broker forgets it
	Ack Outcome = iota
	// Requeue negatively acknowledges the delivery and asks the broker to redeliver it
	Requeue
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Handler processes one envelope. It is never invoked concurrently for the same consumer.
type Handler func(ctx context.Context, env *job.Envelope) Outcome

// serve runs handler over deliveries sequentially. The handler context is detached from
// ctx cancellation so a message being processed at shutdown is finished and settled.
func (c *Client) serve(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			c.dispatch(handlerCtx, delivery, handler)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	env := fromDelivery(delivery)
	outcome := handler(ctx, env)

	var err error
	switch outcome {
	case Requeue:
		err = delivery.Nack(false, true)
	default:
		err = delivery.Ack(false)
	}

	if err != nil {
		c.logger.Error("Failed to settle message",
			slog.String("request_id", env.CorrelationID),
			slog.String("outcome", outcome.String()),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Any("error", err),
		)
		return
	}

	c.logger.Debug("Message settled",
		slog.String("request_id", env.CorrelationID),
		slog.String("outcome", outcome.String()),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
}

func toPublishing(env *job.Envelope) amqp.Publishing {
	mode := uint8(env.DeliveryMode)
	if mode == 0 {
		mode = amqp.Persistent
	}

	return amqp.Publishing{
		Headers:       amqp.Table(env.Headers()),
		ContentType:   env.ContentType,
		CorrelationId: env.CorrelationID,
		DeliveryMode:  mode,
		Timestamp:     time.Now(),
		Body:          env.Payload,
	}
}

func fromDelivery(delivery amqp.Delivery) *job.Envelope {
	return job.FromHeaders(
		delivery.Headers,
		delivery.Body,
		delivery.ContentType,
		job.DeliveryMode(delivery.DeliveryMode),
	)
}
