package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/inference-queue/shared/rabbitmq"
)

// consume registers the consumer and blocks while deliveries are handled,
// subscribing again after the broker connection comes back
func (w *Worker) consume(ctx context.Context) error {
	for subscription := 1; ; subscription++ {
		w.logger.Info("RabbitMQ consumer starting",
			slog.String("consumer_tag", w.consumerTag),
			slog.String("queue", w.queue),
			slog.Int("subscription", subscription),
		)

		err := w.broker.Consume(ctx, w.queue, w.consumerTag, w.HandleMessage)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			w.logger.Info("RabbitMQ consumer stopped - context canceled")
			return nil
		}

		if !resumable(err) {
			return fmt.Errorf("consumer stopped: %w", err)
		}

		w.logger.Warn("RabbitMQ consumer interrupted, waiting for reconnection",
			slog.String("error", err.Error()),
		)

		if err := w.waitResubscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consumer stopped: %w", err)
		}
	}
}

func (w *Worker) waitResubscribe(ctx context.Context) error {
	if w.resubscribeDelay > 0 {
		timer := time.NewTimer(w.resubscribeDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return w.broker.WaitConnected(ctx)
}

// resumable reports whether err comes from a lost connection rather than a rejected subscription
func resumable(err error) bool {
	return errors.Is(err, rabbitmq.ErrDeliveriesClosed) || errors.Is(err, rabbitmq.ErrNotConnected)
}
