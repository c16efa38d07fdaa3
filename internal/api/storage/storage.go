package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/inference-queue/internal/api/model"
	"github.com/cuongbtq/inference-queue/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

type FailureFilter struct {
	PageSize int
	Cursor   *FailureCursor
}

type FailureCursor struct {
	FailedAt  time.Time
	RequestID string
}

// ListFailures returns up to PageSize+1 rows so the caller can tell whether
// another page exists
func (s *Storage) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailedJob, error) {
	query := `
		SELECT
			request_id, retry_count, reason,
			payload_size, content_type, failed_at
		FROM failed_jobs
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Cursor != nil {
		query += fmt.Sprintf(" WHERE (failed_at, request_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FailedAt, filter.Cursor.RequestID)
		argIdx += 2
	}

	query += " ORDER BY failed_at DESC, request_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var failures []model.FailedJob
	err := s.db.SelectContext(ctx, &failures, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	return failures, nil
}
