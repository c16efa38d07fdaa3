// Package classifier turns image bytes into a class label.
//
// Preprocess decodes and normalises an image into a Tensor; a Model maps the
// tensor to a label. New builds the Model selected by configuration.
package classifier

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidImage is returned when the payload cannot be decoded as an image
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnknownModel is returned by New for an unsupported model type
	ErrUnknownModel = errors.New("unknown model type")
)

const (
	TypeLinear   = "linear"
	TypeConstant = "constant"
)

// Tensor is a dense float32 tensor in channel-major (CHW) layout
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Plane returns the values of channel c
func (t *Tensor) Plane(c int) []float32 {
	size := t.Height * t.Width
	return t.Data[c*size : (c+1)*size]
}

// Model maps a preprocessed image to a class label
type Model interface {
	Predict(ctx context.Context, input *Tensor) (string, error)
	Name() string
}

// Config selects and configures a Model
type Config struct {
	Type        string
	WeightsPath string
	Label       string
}

// New returns the Model named by cfg.Type
func New(cfg Config) (Model, error) {
	switch cfg.Type {
	case TypeLinear:
		return LoadLinear(cfg.WeightsPath)
	case TypeConstant:
		return NewConstant(cfg.Label)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Type)
	}
}
