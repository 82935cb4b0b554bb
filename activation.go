package main

import (
	"fmt"
	"math/rand"
)

// Activation declares a standalone activation stage. Most recipes set the
// Activation field on Affine/Conv instead; this exists for architectures
// that need a nonlinearity in an unusual position.
type Activation struct {
	Atype string `json:"atype"`
}

// Build validates the activation name. Shape passes through unchanged.
func (s Activation) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if s.Atype == ActIdentity || !validActivation(s.Atype) {
		return nil, nil, fmt.Errorf("activation: unknown atype %q", s.Atype)
	}
	return []Layer{NewActivationLayer(s.Atype)}, inShape, nil
}

// ActivationLayer applies an element-wise nonlinearity. It has no
// parameters; Forward caches what the derivative needs.
type ActivationLayer struct {
	atype string
	x     *Tensor // cached input (relu)
	y     *Tensor // cached output (sigmoid, tanh, softmax)
}

// NewActivationLayer creates an activation layer. Panics on an unknown
// name; specs validate before reaching here.
func NewActivationLayer(atype string) *ActivationLayer {
	if !validActivation(atype) || atype == ActIdentity {
		panic(fmt.Sprintf("activation: unknown atype %q", atype))
	}
	return &ActivationLayer{atype: atype}
}

func (l *ActivationLayer) Name() string { return l.atype }

func (l *ActivationLayer) Forward(x *Tensor, train bool) *Tensor {
	l.x = x
	switch l.atype {
	case ActReLU:
		l.y = ReLU(x)
	case ActSigmoid:
		l.y = Sigmoid(x)
	case ActTanh:
		l.y = TanH(x)
	case ActSoftmax:
		l.y = Softmax(x)
	default:
		panic(fmt.Sprintf("activation: unknown atype %q", l.atype))
	}
	return l.y
}

// Backward applies the chain rule through the nonlinearity.
//
// ReLU uses the cached input's sign; sigmoid and tanh express their
// derivatives in terms of the cached output, which is both cheaper and
// the numerically standard formulation. Softmax needs the full per-row
// Jacobian (diag(p) - p·pᵀ) because each output depends on every input
// in its row.
func (l *ActivationLayer) Backward(grad *Tensor) *Tensor {
	if l.y == nil {
		panic("activation: Backward called before Forward")
	}

	out := NewTensor(grad.shape...)

	switch l.atype {
	case ActReLU:
		for i := range grad.data {
			if l.x.data[i] > 0 {
				out.data[i] = grad.data[i]
			}
		}

	case ActSigmoid:
		for i := range grad.data {
			y := l.y.data[i]
			out.data[i] = grad.data[i] * y * (1 - y)
		}

	case ActTanh:
		for i := range grad.data {
			y := l.y.data[i]
			out.data[i] = grad.data[i] * (1 - y*y)
		}

	case ActSoftmax:
		batch, classes := l.y.shape[0], l.y.shape[1]
		for b := 0; b < batch; b++ {
			row := b * classes
			// dot = Σ_j grad_j * p_j, then dx_i = p_i * (grad_i - dot)
			dot := 0.0
			for j := 0; j < classes; j++ {
				dot += grad.data[row+j] * l.y.data[row+j]
			}
			for i := 0; i < classes; i++ {
				out.data[row+i] = l.y.data[row+i] * (grad.data[row+i] - dot)
			}
		}

	default:
		panic(fmt.Sprintf("activation: unknown atype %q", l.atype))
	}

	return out
}

func (l *ActivationLayer) Params() []*Tensor { return nil }
