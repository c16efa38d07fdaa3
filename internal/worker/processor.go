package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/inference-queue/internal/worker/domain"
	"github.com/cuongbtq/inference-queue/shared/job"
	"github.com/cuongbtq/inference-queue/shared/rabbitmq"
)

// HandleMessage runs one delivery through classification and decides how the
// broker should settle it
func (w *Worker) HandleMessage(ctx context.Context, env *job.Envelope) rabbitmq.Outcome {
	if !env.Valid() {
		w.logger.Warn("Discarding message",
			slog.Any("error", domain.ErrMalformedMessage),
		)
		return rabbitmq.Ack
	}

	logger := w.logger.With(
		slog.String("request_id", env.CorrelationID),
		slog.Int("retry_count", env.RetryCount),
	)

	logger.Info("Processing job",
		slog.String("content_type", env.ContentType),
		slog.Int("payload_size", len(env.Payload)),
	)

	start := time.Now()
	label, err := w.classify(ctx, env)
	if err != nil {
		return w.handleFailure(ctx, logger, env, err)
	}

	written, err := w.store.SetIfOpen(ctx, env.CorrelationID, label)
	if err != nil {
		logger.Error("Failed to store result, requeueing",
			slog.String("label", label),
			slog.String("error", err.Error()),
		)
		return rabbitmq.Requeue
	}

	if !written {
		logger.Warn("Job record already final, result discarded",
			slog.String("label", label),
		)
		return rabbitmq.Ack
	}

	logger.Info("Job completed successfully",
		slog.String("label", label),
		slog.Duration("duration", time.Since(start)),
	)

	return rabbitmq.Ack
}

func (w *Worker) classify(ctx context.Context, env *job.Envelope) (string, error) {
	tensor, err := w.preprocess(env.Payload)
	if err != nil {
		return "", domain.NewInferenceError(domain.StagePreprocess, err)
	}

	label, err := w.model.Predict(ctx, tensor)
	if err != nil {
		return "", domain.NewInferenceError(domain.StageForward, err)
	}

	return label, nil
}

// handleFailure sends the job round the delay queue while retries remain,
// otherwise marks it FAILED
func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, env *job.Envelope, cause error) rabbitmq.Outcome {
	if env.RetryCount < w.maxRetries {
		retry := env.Retry()

		if err := w.broker.Publish(ctx, w.retryKey, retry); err != nil {
			logger.Error("Failed to schedule retry, requeueing",
				slog.String("cause", cause.Error()),
				slog.String("error", err.Error()),
			)
			return rabbitmq.Requeue
		}

		logger.Warn("Job failed, retry scheduled",
			slog.String("error", cause.Error()),
			slog.Int("next_retry_count", retry.RetryCount),
			slog.Int("max_retries", w.maxRetries),
		)
		return rabbitmq.Ack
	}

	logger.Error("Job failed permanently",
		slog.String("error", fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, cause).Error()),
		slog.Int("max_retries", w.maxRetries),
	)

	if _, err := w.store.SetIfOpen(ctx, env.CorrelationID, job.FailedValue); err != nil {
		logger.Error("Failed to mark job as failed",
			slog.String("error", err.Error()),
		)
	}

	if w.ledger != nil {
		failed := &domain.FailedJob{
			RequestID:   env.CorrelationID,
			RetryCount:  env.RetryCount,
			Reason:      cause.Error(),
			PayloadSize: len(env.Payload),
			ContentType: env.ContentType,
			FailedAt:    time.Now().UTC(),
		}

		if err := w.ledger.RecordFailure(ctx, failed); err != nil {
			logger.Error("Failed to record failed job",
				slog.String("error", err.Error()),
			)
		}
	}

	return rabbitmq.Ack
}
