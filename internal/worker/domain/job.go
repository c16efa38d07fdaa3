package domain

import "time"

// FailedJob is a job whose retries were exhausted, as kept in the failure ledger
type FailedJob struct {
	RequestID   string
	RetryCount  int
	Reason      string
	PayloadSize int
	ContentType string
	FailedAt    time.Time
}
