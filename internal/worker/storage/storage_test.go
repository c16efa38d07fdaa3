package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/inference-queue/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "postgres"), logger), mock
}

func TestStorage_EnsureSchema(t *testing.T) {
	t.Run("creates table", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS failed_jobs").WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, s.EnsureSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

		err := s.EnsureSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create failed_jobs table")
	})
}

func TestStorage_RecordFailure(t *testing.T) {
	failedAt := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	f := &domain.FailedJob{
		RequestID:   "6f1c2a8e-3d4b-4f5a-9c7e-0a1b2c3d4e5f",
		RetryCount:  5,
		Reason:      "preprocess: invalid image: unexpected EOF",
		PayloadSize: 2048,
		ContentType: "image/png",
		FailedAt:    failedAt,
	}

	t.Run("insert", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec("INSERT INTO failed_jobs").
			WithArgs(f.RequestID, f.RetryCount, f.Reason, f.PayloadSize, f.ContentType, failedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.RecordFailure(context.Background(), f))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec("INSERT INTO failed_jobs").WillReturnError(errors.New("connection reset"))

		err := s.RecordFailure(context.Background(), f)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record failed job")
	})
}
