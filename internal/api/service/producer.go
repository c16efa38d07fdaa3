package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/inference-queue/shared/job"
	"github.com/cuongbtq/inference-queue/shared/rabbitmq"
	"github.com/google/uuid"
)

// maxMintAttempts bounds how many ids Submit tries before giving up on a collision
const maxMintAttempts = 3

var (
	// ErrDelivery is returned when the broker did not take the job
	ErrDelivery = rabbitmq.ErrDelivery

	// ErrIDExhausted is returned when every minted id was already taken
	ErrIDExhausted = errors.New("could not allocate a unique request id")
)

// Publisher sends an envelope to a queue
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *job.Envelope) error
}

// RecordOpener creates and discards job records
type RecordOpener interface {
	SetNX(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Submission is returned to the caller of Submit
type Submission struct {
	Status    job.Status
	RequestID string
}

// Producer turns uploaded images into queued jobs
type Producer struct {
	publisher Publisher
	records   RecordOpener
	queue     string
	logger    *slog.Logger
	newID     func() string
}

// NewProducer creates a Producer publishing to the given work queue
func NewProducer(publisher Publisher, records RecordOpener, queue string, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		records:   records,
		queue:     queue,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit opens a PROCESSING record under a fresh id and publishes the job.
// The record is removed again when the publish fails.
func (p *Producer) Submit(ctx context.Context, payload []byte, contentType string) (*Submission, error) {
	id, err := p.openRecord(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.publisher.Publish(ctx, p.queue, job.New(id, payload, contentType)); err != nil {
		p.logger.Error("Failed to publish job",
			slog.String("request_id", id),
			slog.Any("error", err),
		)

		if delErr := p.records.Delete(context.WithoutCancel(ctx), id); delErr != nil {
			p.logger.Error("Failed to remove job record after publish failure",
				slog.String("request_id", id),
				slog.Any("error", delErr),
			)
		}

		if errors.Is(err, ErrDelivery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	p.logger.Info("Job submitted",
		slog.String("request_id", id),
		slog.String("content_type", contentType),
		slog.Int("payload_size", len(payload)),
	)

	return &Submission{
		Status:    job.StatusProcessing,
		RequestID: id,
	}, nil
}

func (p *Producer) openRecord(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		id := p.newID()

		created, err := p.records.SetNX(ctx, id, job.PlaceholderValue)
		if err != nil {
			return "", fmt.Errorf("failed to open job record: %w", err)
		}

		if created {
			return id, nil
		}

		p.logger.Warn("Request id already in use, minting another",
			slog.String("request_id", id),
			slog.Int("attempt", attempt),
		)
	}

	return "", ErrIDExhausted
}
