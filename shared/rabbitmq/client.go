package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/inference-queue/shared/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when an operation needs a channel and Connect has not succeeded
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrDelivery is returned when the broker did not accept a published message
	ErrDelivery = errors.New("message delivery failed")

	// ErrDeliveriesClosed is returned by Consume when the broker closes the delivery channel
	ErrDeliveriesClosed = errors.New("delivery channel closed")

	// ErrClientClosed is returned by WaitConnected once Close has been called
	ErrClientClosed = errors.New("RabbitMQ client closed")
)

// Config holds RabbitMQ connection and topology configuration
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	WorkExchange string
	WorkQueue    string
	WorkQueueTTL time.Duration

	DeadLetterExchange   string
	DeadLetterQueue      string
	DeadLetterRoutingKey string
	RetryDelay           time.Duration

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
	PublishTimeout    time.Duration
	PrefetchCount     int
}

// DSN returns the AMQP URL, building it from the discrete fields when URL is empty
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	vhost := c.VHost
	if vhost == "" || vhost == "/" {
		vhost = "/"
	} else if vhost[0] != '/' {
		vhost = "/" + url.PathEscape(vhost)
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   vhost,
	}
	return u.String()
}

// Client owns the connection and channel of a process. After Connect it
// watches both for closure and re-establishes them, redeclaring the work
// topology if it was declared before.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	returns chan amqp.Return

	stateMu   sync.Mutex
	ready     chan struct{}
	connected atomic.Bool
	topology  atomic.Bool

	publishMu sync.Mutex
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	dial  func(dsn string, cfg amqp.Config) (*amqp.Connection, error)
	sleep func(ctx context.Context, d time.Duration) error
	open  func(ctx context.Context) (<-chan *amqp.Error, error)
}

// NewClient creates a RabbitMQ client. No connection is made until Connect.
func NewClient(config *Config, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config: config,
		logger: logger,
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		dial:   amqp.DialConfig,
		sleep:  sleepContext,
	}
	c.open = c.openSession
	return c
}

// Connect establishes the connection and channel, retrying with exponential backoff,
// and starts watching them for closure
func (c *Client) Connect(ctx context.Context) error {
	lost, err := c.open(ctx)
	if err != nil {
		return err
	}

	c.setConnected(true)
	go c.supervise(lost)

	return nil
}

// WaitConnected blocks until the client holds a live channel
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.stateMu.Lock()
		ready := c.ready
		c.stateMu.Unlock()

		select {
		case <-ready:
			return nil
		case <-c.ctx.Done():
			return ErrClientClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) supervise(lost <-chan *amqp.Error) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case amqpErr := <-lost:
			if c.ctx.Err() != nil {
				return
			}

			c.setConnected(false)
			c.logger.Warn("RabbitMQ connection lost, reconnecting",
				slog.Any("error", amqpErr),
			)

			lost = c.reconnect()
			if lost == nil {
				return
			}
		}
	}
}

// reconnect runs connection rounds until one succeeds or the client is closed
func (c *Client) reconnect() <-chan *amqp.Error {
	c.teardown()

	for round := 1; ; round++ {
		lost, err := c.open(c.ctx)
		if err == nil {
			c.setConnected(true)
			c.logger.Info("Reconnected to RabbitMQ",
				slog.Int("round", round),
			)
			return lost
		}

		if c.ctx.Err() != nil {
			return nil
		}

		c.logger.Error("Failed to reconnect to RabbitMQ",
			slog.Int("round", round),
			slog.Any("error", err),
		)

		if err := c.sleep(c.ctx, c.config.RetryInterval); err != nil {
			return nil
		}
	}
}

// openSession dials with bounded exponential backoff and prepares a confirm-mode
// channel. The returned channel fires once when either the connection or the
// channel closes.
func (c *Client) openSession(ctx context.Context) (<-chan *amqp.Error, error) {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.config.RetryInterval

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = c.dial(c.config.DSN(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt == attempts {
			break
		}

		c.logger.Info("Retrying RabbitMQ connection",
			slog.Duration("retry_after", delay),
		)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, fmt.Errorf("connect to RabbitMQ interrupted: %w", sleepErr)
		}
		delay *= 2
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	prefetch := c.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if c.topology.Load() {
		if err := c.declareTopology(channel); err != nil {
			channel.Close()
			conn.Close()
			return nil, err
		}
	}

	returns := channel.NotifyReturn(make(chan amqp.Return, 16))
	lost := watchClose(
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		channel.NotifyClose(make(chan *amqp.Error, 1)),
	)

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.returns = returns
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		c.teardown()
		return nil, ErrClientClosed
	}

	c.logger.Info("Successfully connected to RabbitMQ",
		slog.Int("prefetch_count", prefetch),
	)

	return lost, nil
}

// watchClose merges the connection and channel close notifications into one
func watchClose(connClosed, chanClosed <-chan *amqp.Error) <-chan *amqp.Error {
	lost := make(chan *amqp.Error, 1)

	go func() {
		var err *amqp.Error
		select {
		case err = <-connClosed:
		case err = <-chanClosed:
		}
		lost <- err
	}()

	return lost
}

// teardown closes whatever is left of the current session
func (c *Client) teardown() {
	c.mu.Lock()
	conn, channel := c.conn, c.channel
	c.conn, c.channel, c.returns = nil, nil, nil
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
		}
	}
}

func (c *Client) setConnected(up bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.connected.Load() == up {
		return
	}

	c.connected.Store(up)
	if up {
		close(c.ready)
	} else {
		c.ready = make(chan struct{})
	}
}

func (c *Client) session() (*amqp.Channel, chan amqp.Return, error) {
	if !c.IsConnected() {
		return nil, nil, ErrNotConnected
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.channel == nil {
		return nil, nil, ErrNotConnected
	}
	return c.channel, c.returns, nil
}

// Publish sends an envelope through the default exchange as a mandatory message
// and waits for the broker confirm. An unroutable message is a delivery failure.
// It does not retry; the caller decides.
func (c *Client) Publish(ctx context.Context, routingKey string, env *job.Envelope) error {
	channel, returns, err := c.session()
	if err != nil {
		return err
	}

	if c.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.PublishTimeout)
		defer cancel()
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	drainReturns(returns)

	confirm, err := channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",         // default exchange
		routingKey, // routing key
		true,       // mandatory
		false,      // immediate
		toPublishing(env),
	)
	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.String("routing_key", routingKey),
			slog.String("request_id", env.CorrelationID),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			c.logger.Error("Publish confirm not received",
				slog.String("routing_key", routingKey),
				slog.String("request_id", env.CorrelationID),
				slog.Any("error", err),
			)
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		if !acked {
			c.logger.Error("Publish nacked by broker",
				slog.String("routing_key", routingKey),
				slog.String("request_id", env.CorrelationID),
			)
			return fmt.Errorf("%w: broker nacked message", ErrDelivery)
		}
	}

	// the broker sends basic.return ahead of the confirm
	if ret, ok := returnedFor(returns, env.CorrelationID); ok {
		c.logger.Error("Publish returned as unroutable",
			slog.String("routing_key", routingKey),
			slog.String("request_id", env.CorrelationID),
			slog.Int("reply_code", int(ret.ReplyCode)),
			slog.String("reply_text", ret.ReplyText),
		)
		return fmt.Errorf("%w: %s (%d) for routing key %q", ErrDelivery, ret.ReplyText, ret.ReplyCode, routingKey)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("routing_key", routingKey),
		slog.String("request_id", env.CorrelationID),
		slog.Int("retry_count", env.RetryCount),
		slog.Int("body_size", len(env.Payload)),
	)

	return nil
}

func drainReturns(returns <-chan amqp.Return) {
	for {
		select {
		case _, ok := <-returns:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// returnedFor reports whether a return for correlationID is waiting, discarding others
func returnedFor(returns <-chan amqp.Return, correlationID string) (amqp.Return, bool) {
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return amqp.Return{}, false
			}
			if ret.CorrelationId == correlationID {
				return ret, true
			}
		default:
			return amqp.Return{}, false
		}
	}
}

// Consume registers a manual-ack consumer on queue and calls handler for each delivery,
// one at a time. It blocks until ctx is canceled or the broker closes the deliveries.
func (c *Client) Consume(ctx context.Context, queue, consumerTag string, handler Handler) error {
	channel, _, err := c.session()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	err = c.serve(ctx, deliveries, handler)

	if ctx.Err() != nil && c.IsConnected() {
		if cancelErr := channel.Cancel(consumerTag, false); cancelErr != nil {
			c.logger.Warn("Failed to cancel consumer",
				slog.String("consumer_tag", consumerTag),
				slog.Any("error", cancelErr),
			)
		}
	}

	return err
}

// Close stops reconnection and closes the channel and connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Info("Closing RabbitMQ connection")
		c.cancel()
		c.setConnected(false)
		c.teardown()
		c.logger.Info("RabbitMQ connection closed")
	})

	return nil
}

// IsConnected reports whether both the connection and the channel are open
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
