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
// Weight initialization schemes. How you initialize weights decides whether
// gradients flow on step one: too large and activations saturate, too small
// and signals vanish layer by layer. The classic tutorial setup - and the
// default here - is a plain Gaussian with std 0.01, which works fine for
// shallow MLPs. The fan-aware schemes (Glorot, He, LeCun) scale the spread
// to the layer's connectivity and matter once networks get deep.
//
// InitSpec is deliberately a plain data struct rather than an interface:
// it serializes into checkpoint headers as JSON, so a saved model records
// how it was initialized and reloading reproduces the exact architecture.
//
// ===========================================================================

// Initializer type names accepted in InitSpec.Type.
const (
	InitGaussian      = "gaussian"
	InitUniform       = "uniform"
	InitGlorotUniform = "glorot_uniform"
	InitHeNormal      = "he_normal"
	InitLecunNormal   = "lecun_normal"
	InitZeros         = "zeros"
	InitOnes          = "ones"
)

// InitSpec describes a weight initialization scheme. The zero value is not
// valid; use one of the constructors.
type InitSpec struct {
	Type string  `json:"type"`
	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`
	Low  float64 `json:"low,omitempty"`
	High float64 `json:"high,omitempty"`
}

// Gaussian samples from N(mean, std²). Gaussian(0, 0.01) is the
// traditional choice for shallow image classifiers.
func Gaussian(mean, std float64) InitSpec {
	return InitSpec{Type: InitGaussian, Mean: mean, Std: std}
}

// Uniform samples from U[low, high).
func Uniform(low, high float64) InitSpec {
	return InitSpec{Type: InitUniform, Low: low, High: high}
}

// GlorotUniform samples from U[-l, l) with l = sqrt(6 / (fanIn + fanOut)).
// Balances forward activation variance against backward gradient variance.
func GlorotUniform() InitSpec {
	return InitSpec{Type: InitGlorotUniform}
}

// HeNormal samples from N(0, 2/fanIn). The right scaling for ReLU
// networks, which zero out half their inputs.
func HeNormal() InitSpec {
	return InitSpec{Type: InitHeNormal}
}

// LecunNormal samples from N(0, 1/fanIn).
func LecunNormal() InitSpec {
	return InitSpec{Type: InitLecunNormal}
}

// Zeros fills with zero. The standard choice for biases.
func Zeros() InitSpec {
	return InitSpec{Type: InitZeros}
}

// Ones fills with one. Used for batch norm gain parameters.
func Ones() InitSpec {
	return InitSpec{Type: InitOnes}
}

// DefaultInit is the initializer layers fall back to when a spec leaves
// Init unset.
func DefaultInit() InitSpec {
	return Gaussian(0, 0.01)
}

// Fill populates t's data in place. fanIn and fanOut describe the layer's
// connectivity (for a conv filter, fanIn counts the full receptive field).
// rng supplies all randomness so that a seeded run is reproducible.
// Panics on an unknown Type - that's a construction bug, not input.
func (s InitSpec) Fill(t *Tensor, rng *rand.Rand, fanIn, fanOut int) {
	switch s.Type {
	case InitGaussian:
		for i := range t.data {
			t.data[i] = rng.NormFloat64()*s.Std + s.Mean
		}

	case InitUniform:
		span := s.High - s.Low
		for i := range t.data {
			t.data[i] = s.Low + rng.Float64()*span
		}

	case InitGlorotUniform:
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		for i := range t.data {
			t.data[i] = (rng.Float64()*2 - 1) * limit
		}

	case InitHeNormal:
		std := math.Sqrt(2.0 / float64(fanIn))
		for i := range t.data {
			t.data[i] = rng.NormFloat64() * std
		}

	case InitLecunNormal:
		std := math.Sqrt(1.0 / float64(fanIn))
		for i := range t.data {
			t.data[i] = rng.NormFloat64() * std
		}

	case InitZeros:
		for i := range t.data {
			t.data[i] = 0
		}

	case InitOnes:
		for i := range t.data {
			t.data[i] = 1
		}

	default:
		panic(fmt.Sprintf("initializer: unknown type %q", s.Type))
	}
}
