package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/inference-queue/shared/job"
)

// ErrNotFound is returned for a request id that has no record
var ErrNotFound = errors.New("request not found")

// RecordReader reads job records
type RecordReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Result is the resolved state of a request. Label is set only when COMPLETED.
type Result struct {
	Status job.Status
	Label  string
}

// Resolver maps job records to request states
type Resolver struct {
	records RecordReader
}

func NewResolver(records RecordReader) *Resolver {
	return &Resolver{records: records}
}

// Resolve returns ErrNotFound only when the store confirms the key is absent
func (r *Resolver) Resolve(ctx context.Context, id string) (*Result, error) {
	value, found, err := r.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read job record: %w", err)
	}

	if !found {
		exists, err := r.records.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to check job record: %w", err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return &Result{Status: job.StatusProcessing}, nil
	}

	status := job.StatusOf(value)
	if status == job.StatusCompleted {
		return &Result{Status: status, Label: value}, nil
	}

	return &Result{Status: status}, nil
}
