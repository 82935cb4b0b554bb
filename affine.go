package main

import (
	"fmt"
	"math/rand"
)

// Affine declares a fully connected layer: y = xW + b.
//
// Nout is the output width. Init covers the weight matrix; biases start at
// zero. Activation optionally appends a nonlinearity, and BatchNorm inserts
// normalization between the affine transform and the activation.
type Affine struct {
	Nout       int      `json:"nout"`
	Init       InitSpec `json:"init,omitempty"`
	Activation string   `json:"activation,omitempty"`
	BatchNorm  bool     `json:"batch_norm,omitempty"`
}

// Build expands the spec into affine [-> batchnorm] [-> activation].
func (s Affine) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if len(inShape) != 1 {
		return nil, nil, fmt.Errorf("affine: input shape %v is not flat (insert Flatten first)", inShape)
	}
	if s.Nout <= 0 {
		return nil, nil, fmt.Errorf("affine: nout must be positive, got %d", s.Nout)
	}

	init := s.Init
	if init.Type == "" {
		init = DefaultInit()
	}

	layers := []Layer{NewAffineLayer(inShape[0], s.Nout, init, rng)}
	if s.BatchNorm {
		layers = append(layers, NewBatchNormLayer(s.Nout, 0))
	}
	layers, err := buildActivation(layers, s.Activation)
	if err != nil {
		return nil, nil, fmt.Errorf("affine: %w", err)
	}
	return layers, []int{s.Nout}, nil
}

// AffineLayer is the runtime fully connected layer.
type AffineLayer struct {
	nin, nout int
	w         *Tensor // (nin, nout)
	b         *Tensor // (nout)
	x         *Tensor // cached input for backward
}

// NewAffineLayer allocates and initializes a fully connected layer.
func NewAffineLayer(nin, nout int, init InitSpec, rng *rand.Rand) *AffineLayer {
	w := NewTensor(nin, nout)
	init.Fill(w, rng, nin, nout)

	return &AffineLayer{
		nin:  nin,
		nout: nout,
		w:    w,
		b:    NewTensor(nout), // zeros
	}
}

func (l *AffineLayer) Name() string { return "affine" }

// Forward computes y = xW + b for x of shape (batch, nin).
func (l *AffineLayer) Forward(x *Tensor, train bool) *Tensor {
	if len(x.shape) != 2 || x.shape[1] != l.nin {
		panic(fmt.Sprintf("affine: expected input (batch, %d), got %v", l.nin, x.shape))
	}

	l.x = x
	return AddRowVector(MatMul(x, l.w), l.b)
}

// Backward accumulates dW = xᵀ·grad and db = Σ grad over the batch,
// and returns dx = grad·Wᵀ.
func (l *AffineLayer) Backward(grad *Tensor) *Tensor {
	if l.x == nil {
		panic("affine: Backward called before Forward")
	}

	dw := MatMul(Transpose(l.x), grad)
	for i := range l.w.grad {
		l.w.grad[i] += dw.data[i]
	}

	db := SumRows(grad)
	for i := range l.b.grad {
		l.b.grad[i] += db.data[i]
	}

	return MatMul(grad, Transpose(l.w))
}

func (l *AffineLayer) Params() []*Tensor {
	return []*Tensor{l.w, l.b}
}
