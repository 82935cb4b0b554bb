package main

import (
	"fmt"
	"math/rand"
)

// Flatten declares the transition from spatial feature maps to a flat
// feature vector, (batch, C, H, W) -> (batch, C*H*W). Every convolutional
// recipe needs one before its first Affine.
type Flatten struct{}

// Build computes the flattened width.
func (s Flatten) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if len(inShape) == 0 {
		return nil, nil, fmt.Errorf("flatten: empty input shape")
	}
	width := 1
	for _, d := range inShape {
		width *= d
	}
	return []Layer{&FlattenLayer{}}, []int{width}, nil
}

// FlattenLayer reshapes without copying. Reshape shares data and grad
// slices, so the backward pass is just the inverse reshape.
type FlattenLayer struct {
	inShape []int // cached batch-inclusive input shape
}

func (l *FlattenLayer) Name() string { return "flatten" }

func (l *FlattenLayer) Forward(x *Tensor, train bool) *Tensor {
	l.inShape = x.Shape()

	width := 1
	for _, d := range l.inShape[1:] {
		width *= d
	}
	return x.Reshape(l.inShape[0], width)
}

func (l *FlattenLayer) Backward(grad *Tensor) *Tensor {
	if l.inShape == nil {
		panic("flatten: Backward called before Forward")
	}
	return grad.Reshape(l.inShape...)
}

func (l *FlattenLayer) Params() []*Tensor { return nil }
