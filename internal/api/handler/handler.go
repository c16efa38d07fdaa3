package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/inference-queue/internal/api/model"
	"github.com/cuongbtq/inference-queue/internal/api/service"
	"github.com/cuongbtq/inference-queue/internal/api/storage"
)

// Submitter queues an uploaded image
type Submitter interface {
	Submit(ctx context.Context, payload []byte, contentType string) (*service.Submission, error)
}

// StatusResolver looks up the state of a request
type StatusResolver interface {
	Resolve(ctx context.Context, id string) (*service.Result, error)
}

// FailureLister reads the failure ledger
type FailureLister interface {
	ListFailures(ctx context.Context, filter storage.FailureFilter) ([]model.FailedJob, error)
}

// HealthCheck reports whether a backing service answers
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Producer      Submitter
	Resolver      StatusResolver
	Failures      FailureLister // nil when no database is configured
	Checks        map[string]HealthCheck
	APIPrefix     string
	MaxUploadSize int64
	CORSOrigins   []string
}

// InferenceHandler handles inference request HTTP endpoints
type InferenceHandler struct {
	logger        *slog.Logger
	producer      Submitter
	resolver      StatusResolver
	failures      FailureLister
	maxUploadSize int64
}

// NewInferenceHandler creates a new InferenceHandler instance
func NewInferenceHandler(deps *Dependencies) *InferenceHandler {
	return &InferenceHandler{
		logger:        deps.Logger,
		producer:      deps.Producer,
		resolver:      deps.Resolver,
		failures:      deps.Failures,
		maxUploadSize: deps.MaxUploadSize,
	}
}
