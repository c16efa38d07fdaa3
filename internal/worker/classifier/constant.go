package classifier

import (
	"context"
	"errors"
)

// Constant labels every image the same way. It stands in for a real model in
// development and in end-to-end tests of the queue.
type Constant struct {
	label string
}

func NewConstant(label string) (*Constant, error) {
	if label == "" {
		return nil, errors.New("constant model requires a label")
	}
	return &Constant{label: label}, nil
}

func (m *Constant) Predict(ctx context.Context, _ *Tensor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.label, nil
}

func (m *Constant) Name() string {
	return TypeConstant
}
