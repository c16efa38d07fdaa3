package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/inference-queue/internal/worker/classifier"
	"github.com/cuongbtq/inference-queue/internal/worker/domain"
	"github.com/cuongbtq/inference-queue/shared/job"
	"github.com/cuongbtq/inference-queue/shared/rabbitmq"
)

// Broker consumes jobs and publishes retries
type Broker interface {
	Consume(ctx context.Context, queue, consumerTag string, handler rabbitmq.Handler) error
	Publish(ctx context.Context, routingKey string, env *job.Envelope) error
	WaitConnected(ctx context.Context) error
}

// resubscribeDelay is the pause between a lost subscription and the next Consume
const resubscribeDelay = time.Second

// ResultStore writes terminal job states
type ResultStore interface {
	SetIfOpen(ctx context.Context, key, value string) (bool, error)
}

// Ledger keeps jobs whose retries were exhausted
type Ledger interface {
	RecordFailure(ctx context.Context, f *domain.FailedJob) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Broker      Broker
	Store       ResultStore
	Model       classifier.Model
	Ledger      Ledger // optional
	Queue       string
	RetryKey    string // routing key of the delay queue
	ConsumerTag string
	MaxRetries  int
}

// Worker classifies queued images one at a time
type Worker struct {
	logger      *slog.Logger
	broker      Broker
	store       ResultStore
	model       classifier.Model
	ledger      Ledger
	queue       string
	retryKey    string
	consumerTag string
	maxRetries  int

	preprocess       func([]byte) (*classifier.Tensor, error)
	resubscribeDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:      cfg.Logger,
		broker:      cfg.Broker,
		store:       cfg.Store,
		model:       cfg.Model,
		ledger:      cfg.Ledger,
		queue:       cfg.Queue,
		retryKey:    cfg.RetryKey,
		consumerTag: cfg.ConsumerTag,
		maxRetries:  cfg.MaxRetries,
		preprocess:  classifier.Preprocess,

		resubscribeDelay: resubscribeDelay,
	}
}

// Start consumes the work queue until ctx is cancelled or Stop is called.
// A subscription lost with the broker connection is renewed once the client
// has reconnected. Start returns nil on cancellation and an error when the
// subscription cannot be renewed.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.running.Add(1)
	w.mu.Unlock()
	defer w.running.Done()

	w.logger.Info("Starting worker",
		slog.String("queue", w.queue),
		slog.String("model", w.model.Name()),
		slog.Int("max_retries", w.maxRetries),
		slog.Bool("ledger", w.ledger != nil),
	)

	return w.consume(ctx)
}

// Stop cancels consumption and waits for the in-flight message to be settled
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")

	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.running.Wait()
	w.logger.Info("Worker stopped")
}
