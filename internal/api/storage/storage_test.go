package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/inference-queue/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var failureColumns = []string{"request_id", "retry_count", "reason", "payload_size", "content_type", "failed_at"}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), logger)

	return NewStorage(client), mock
}

func TestStorage_ListFailures(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first page", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM failed_jobs ORDER BY failed_at DESC, request_id DESC LIMIT $1")).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows(failureColumns).
				AddRow("b", 5, "inference failed", 1024, "image/png", failedAt).
				AddRow("a", 5, "invalid image", 12, "image/jpeg", failedAt.Add(-time.Minute)))

		failures, err := s.ListFailures(context.Background(), FailureFilter{PageSize: 2})
		require.NoError(t, err)
		require.Len(t, failures, 2)
		assert.Equal(t, "b", failures[0].RequestID)
		assert.Equal(t, 5, failures[0].RetryCount)
		assert.Equal(t, "image/png", failures[0].ContentType)
		assert.True(t, failedAt.Equal(failures[0].FailedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("with cursor", func(t *testing.T) {
		s, mock := newMockStorage(t)

		cursor := &FailureCursor{FailedAt: failedAt, RequestID: "b"}
		mock.ExpectQuery(regexp.QuoteMeta("WHERE (failed_at, request_id) < ($1, $2) ORDER BY failed_at DESC, request_id DESC LIMIT $3")).
			WithArgs(failedAt, "b", 11).
			WillReturnRows(sqlmock.NewRows(failureColumns))

		failures, err := s.ListFailures(context.Background(), FailureFilter{PageSize: 10, Cursor: cursor})
		require.NoError(t, err)
		assert.Empty(t, failures)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("FROM failed_jobs").WillReturnError(errors.New("relation does not exist"))

		_, err := s.ListFailures(context.Background(), FailureFilter{PageSize: 10})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list failed jobs")
	})
}
