package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/inference-queue/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

const schema = `
	CREATE TABLE IF NOT EXISTS failed_jobs (
		request_id   TEXT PRIMARY KEY,
		retry_count  INTEGER NOT NULL,
		reason       TEXT NOT NULL,
		payload_size INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		failed_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_failed_jobs_failed_at
		ON failed_jobs (failed_at DESC, request_id DESC);
`

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the failure ledger table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create failed_jobs table: %w", err)
	}
	return nil
}

// RecordFailure stores a job whose retries were exhausted.
// A redelivered failure for the same request replaces the earlier row.
func (s *Storage) RecordFailure(ctx context.Context, f *domain.FailedJob) error {
	query := `
		INSERT INTO failed_jobs (
			request_id, retry_count, reason,
			payload_size, content_type, failed_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6
		)
		ON CONFLICT (request_id) DO UPDATE
		SET retry_count = EXCLUDED.retry_count,
			reason = EXCLUDED.reason,
			failed_at = EXCLUDED.failed_at
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		f.RequestID,
		f.RetryCount,
		f.Reason,
		f.PayloadSize,
		f.ContentType,
		f.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record failed job: %w", err)
	}

	s.logger.Info("Failed job recorded",
		slog.String("request_id", f.RequestID),
		slog.Int("retry_count", f.RetryCount),
	)

	return nil
}
