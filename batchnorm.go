package main

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Batch normalization. Each feature (each channel, for convolutional
// inputs) is standardized against the statistics of the current minibatch,
// then rescaled by two learned parameters:
//
//   xhat = (x - μ_batch) / sqrt(σ²_batch + ε)
//   y    = γ·xhat + β
//
// Training keeps exponential running averages of μ and σ²; inference uses
// those instead of batch statistics, so a single image predicts the same
// way regardless of what else is in its batch.
//
// The backward pass is the subtle part: μ and σ² are themselves functions
// of x, so dL/dx picks up correction terms beyond dL/dxhat·γ:
//
//   dx = (γ/√(σ²+ε)) · (dxhat - mean(dxhat) - xhat·mean(dxhat·xhat))
//
// Deriving this is a rite of passage; see Ioffe & Szegedy (2015) and the
// many chain-rule walkthroughs it spawned.
//
// ===========================================================================

// BatchNorm declares a standalone batch normalization stage. The BatchNorm
// flag on Affine and Conv is the usual way in; this spec exists for
// architectures that need one elsewhere. Momentum is the running-average
// decay (default 0.9).
type BatchNorm struct {
	Momentum float64 `json:"momentum,omitempty"`
}

// Build normalizes over the leading feature dimension of inShape.
func (s BatchNorm) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if len(inShape) != 1 && len(inShape) != 3 {
		return nil, nil, fmt.Errorf("batchnorm: input shape %v is not flat or (channels, height, width)", inShape)
	}
	return []Layer{NewBatchNormLayer(inShape[0], s.Momentum)}, inShape, nil
}

// BatchNormLayer is the runtime normalization stage. It accepts both
// (batch, features) and (batch, channels, h, w) inputs, normalizing per
// feature or per channel respectively.
type BatchNormLayer struct {
	features int
	momentum float64
	eps      float64

	gamma *Tensor // (features), learned gain
	beta  *Tensor // (features), learned shift

	runMean *Tensor // (features), running statistics for inference
	runVar  *Tensor

	// Forward caches for backward.
	xhat    []float64
	invStd  []float64 // per feature, 1/sqrt(var+eps)
	inShape []int
}

// NewBatchNormLayer creates a batch norm layer. momentum 0 selects the
// default of 0.9.
func NewBatchNormLayer(features int, momentum float64) *BatchNormLayer {
	if momentum == 0 {
		momentum = 0.9
	}

	gamma := NewTensor(features)
	for i := range gamma.data {
		gamma.data[i] = 1
	}

	runVar := NewTensor(features)
	for i := range runVar.data {
		runVar.data[i] = 1
	}

	return &BatchNormLayer{
		features: features,
		momentum: momentum,
		eps:      1e-5,
		gamma:    gamma,
		beta:     NewTensor(features),
		runMean:  NewTensor(features),
		runVar:   runVar,
	}
}

func (l *BatchNormLayer) Name() string { return "batchnorm" }

// dims maps the input shape onto (batch, features, spatial): flat inputs
// have spatial 1, convolutional inputs have spatial h·w.
func (l *BatchNormLayer) dims(shape []int) (int, int) {
	switch len(shape) {
	case 2:
		if shape[1] != l.features {
			panic(fmt.Sprintf("batchnorm: expected %d features, got %v", l.features, shape))
		}
		return shape[0], 1
	case 4:
		if shape[1] != l.features {
			panic(fmt.Sprintf("batchnorm: expected %d channels, got %v", l.features, shape))
		}
		return shape[0], shape[2] * shape[3]
	default:
		panic(fmt.Sprintf("batchnorm: expected 2D or 4D input, got %v", shape))
	}
}

func (l *BatchNormLayer) Forward(x *Tensor, train bool) *Tensor {
	n, spatial := l.dims(x.shape)
	m := float64(n * spatial)

	l.inShape = x.Shape()
	out := NewTensor(x.shape...)

	if train {
		l.xhat = make([]float64, len(x.data))
		l.invStd = make([]float64, l.features)

		for f := 0; f < l.features; f++ {
			// Batch statistics for this feature.
			sum := 0.0
			for i := 0; i < n; i++ {
				base := (i*l.features + f) * spatial
				for s := 0; s < spatial; s++ {
					sum += x.data[base+s]
				}
			}
			mean := sum / m

			varSum := 0.0
			for i := 0; i < n; i++ {
				base := (i*l.features + f) * spatial
				for s := 0; s < spatial; s++ {
					d := x.data[base+s] - mean
					varSum += d * d
				}
			}
			variance := varSum / m

			invStd := 1.0 / math.Sqrt(variance+l.eps)
			l.invStd[f] = invStd

			g, b := l.gamma.data[f], l.beta.data[f]
			for i := 0; i < n; i++ {
				base := (i*l.features + f) * spatial
				for s := 0; s < spatial; s++ {
					xh := (x.data[base+s] - mean) * invStd
					l.xhat[base+s] = xh
					out.data[base+s] = g*xh + b
				}
			}

			l.runMean.data[f] = l.momentum*l.runMean.data[f] + (1-l.momentum)*mean
			l.runVar.data[f] = l.momentum*l.runVar.data[f] + (1-l.momentum)*variance
		}
		return out
	}

	// Inference: running statistics, no caching.
	for f := 0; f < l.features; f++ {
		mean := l.runMean.data[f]
		invStd := 1.0 / math.Sqrt(l.runVar.data[f]+l.eps)
		g, b := l.gamma.data[f], l.beta.data[f]

		for i := 0; i < n; i++ {
			base := (i*l.features + f) * spatial
			for s := 0; s < spatial; s++ {
				out.data[base+s] = g*(x.data[base+s]-mean)*invStd + b
			}
		}
	}
	return out
}

func (l *BatchNormLayer) Backward(grad *Tensor) *Tensor {
	if l.xhat == nil {
		panic("batchnorm: Backward called before training-mode Forward")
	}

	n, spatial := l.dims(l.inShape)
	m := float64(n * spatial)
	dx := NewTensor(l.inShape...)

	for f := 0; f < l.features; f++ {
		// dβ, dγ, and the two means the dx formula needs.
		sumDy := 0.0
		sumDyXhat := 0.0
		for i := 0; i < n; i++ {
			base := (i*l.features + f) * spatial
			for s := 0; s < spatial; s++ {
				dy := grad.data[base+s]
				sumDy += dy
				sumDyXhat += dy * l.xhat[base+s]
			}
		}

		l.beta.grad[f] += sumDy
		l.gamma.grad[f] += sumDyXhat

		scale := l.gamma.data[f] * l.invStd[f]
		meanDy := sumDy / m
		meanDyXhat := sumDyXhat / m

		for i := 0; i < n; i++ {
			base := (i*l.features + f) * spatial
			for s := 0; s < spatial; s++ {
				dy := grad.data[base+s]
				dx.data[base+s] = scale * (dy - meanDy - l.xhat[base+s]*meanDyXhat)
			}
		}
	}

	return dx
}

func (l *BatchNormLayer) Params() []*Tensor {
	return []*Tensor{l.gamma, l.beta}
}

// State returns the running statistics, which checkpoints must persist
// even though the optimizer never touches them.
func (l *BatchNormLayer) State() []*Tensor {
	return []*Tensor{l.runMean, l.runVar}
}
