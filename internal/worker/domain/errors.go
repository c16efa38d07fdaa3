package domain

import "errors"

var (
	// ErrMalformedMessage is reported for a delivery without a request id
	ErrMalformedMessage = errors.New("malformed message: missing request id")

	// ErrRetriesExhausted is reported when a job has failed on its last allowed delivery
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Inference stages
const (
	StagePreprocess = "preprocess"
	StageForward    = "forward"
)

// InferenceError records which stage of classification failed
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// NewInferenceError wraps err with the stage it came from
func NewInferenceError(stage string, err error) error {
	return &InferenceError{Stage: stage, Err: err}
}
