package model

import "time"

type FailedJob struct {
	RequestID   string    `db:"request_id"`
	RetryCount  int       `db:"retry_count"`
	Reason      string    `db:"reason"`
	PayloadSize int       `db:"payload_size"`
	ContentType string    `db:"content_type"`
	FailedAt    time.Time `db:"failed_at"`
}
