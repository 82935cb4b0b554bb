package main

import (
	"fmt"
	"math/rand"
)

// Dropout declares a dropout stage. Ratio is the fraction of activations
// dropped during training (0.5 drops half).
type Dropout struct {
	Ratio float64 `json:"ratio"`
}

// Build validates the ratio. Shape passes through unchanged.
func (s Dropout) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if s.Ratio < 0 || s.Ratio >= 1 {
		return nil, nil, fmt.Errorf("dropout: ratio must be in [0, 1), got %g", s.Ratio)
	}
	return []Layer{NewDropoutLayer(s.Ratio, rng)}, inShape, nil
}

// DropoutLayer implements inverted dropout: surviving activations are
// scaled by 1/(1-ratio) during training so that inference is a plain
// identity - no test-time rescaling to forget.
type DropoutLayer struct {
	ratio float64
	rng   *rand.Rand
	mask  []float64 // 0 or 1/(1-ratio) per element, cached for backward
}

// NewDropoutLayer creates a dropout layer drawing masks from rng.
func NewDropoutLayer(ratio float64, rng *rand.Rand) *DropoutLayer {
	return &DropoutLayer{ratio: ratio, rng: rng}
}

func (l *DropoutLayer) Name() string { return "dropout" }

func (l *DropoutLayer) Forward(x *Tensor, train bool) *Tensor {
	if !train || l.ratio == 0 {
		l.mask = nil
		return x
	}

	scale := 1.0 / (1.0 - l.ratio)
	l.mask = make([]float64, len(x.data))

	out := NewTensor(x.shape...)
	for i := range x.data {
		if l.rng.Float64() >= l.ratio {
			l.mask[i] = scale
			out.data[i] = x.data[i] * scale
		}
	}
	return out
}

func (l *DropoutLayer) Backward(grad *Tensor) *Tensor {
	if l.mask == nil {
		// Eval-mode or zero-ratio forward: identity.
		return grad
	}

	out := NewTensor(grad.shape...)
	for i := range grad.data {
		out.data[i] = grad.data[i] * l.mask[i]
	}
	return out
}

func (l *DropoutLayer) Params() []*Tensor { return nil }
