package classifier

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// featureCount is the per-channel mean and standard deviation of an RGB tensor
const featureCount = 6

// LinearWeights is the on-disk form of a Linear model
type LinearWeights struct {
	Classes []string    `yaml:"classes"`
	Weights [][]float64 `yaml:"weights"`
	Bias    []float64   `yaml:"bias"`
}

// Linear scores each class as a linear function of per-channel image
// statistics and returns the highest scoring class
type Linear struct {
	w LinearWeights
}

// LoadLinear reads weights from a YAML file
func LoadLinear(path string) (*Linear, error) {
	if path == "" {
		return nil, fmt.Errorf("linear model requires weights_path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model weights: %w", err)
	}

	var w LinearWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse model weights: %w", err)
	}

	return NewLinear(w)
}

// NewLinear validates the weight shapes
func NewLinear(w LinearWeights) (*Linear, error) {
	if len(w.Classes) == 0 {
		return nil, fmt.Errorf("linear model has no classes")
	}

	if len(w.Weights) != len(w.Classes) {
		return nil, fmt.Errorf("linear model has %d weight rows for %d classes", len(w.Weights), len(w.Classes))
	}

	for i, row := range w.Weights {
		if len(row) != featureCount {
			return nil, fmt.Errorf("weight row %d has %d values, want %d", i, len(row), featureCount)
		}
	}

	if w.Bias == nil {
		w.Bias = make([]float64, len(w.Classes))
	}

	if len(w.Bias) != len(w.Classes) {
		return nil, fmt.Errorf("linear model has %d biases for %d classes", len(w.Bias), len(w.Classes))
	}

	return &Linear{w: w}, nil
}

func (m *Linear) Predict(ctx context.Context, input *Tensor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if input.Channels != 3 || len(input.Data) != input.Channels*input.Height*input.Width || len(input.Data) == 0 {
		return "", fmt.Errorf("unexpected input shape %dx%dx%d", input.Channels, input.Height, input.Width)
	}

	features := channelFeatures(input)

	best, bestScore := 0, math.Inf(-1)
	for i, row := range m.w.Weights {
		score := m.w.Bias[i]
		for j, f := range features {
			score += row[j] * f
		}
		if math.IsNaN(score) {
			return "", fmt.Errorf("score for class %q is NaN", m.w.Classes[i])
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	return m.w.Classes[best], nil
}

func (m *Linear) Name() string {
	return TypeLinear
}

// channelFeatures returns mean and standard deviation for each of the three channels
func channelFeatures(t *Tensor) [featureCount]float64 {
	var out [featureCount]float64

	for c := 0; c < 3; c++ {
		plane := t.Plane(c)

		var sum float64
		for _, v := range plane {
			sum += float64(v)
		}
		mean := sum / float64(len(plane))

		var sq float64
		for _, v := range plane {
			d := float64(v) - mean
			sq += d * d
		}

		out[c] = mean
		out[3+c] = math.Sqrt(sq / float64(len(plane)))
	}

	return out
}
