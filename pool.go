package main

import (
	"fmt"
	"math"
	"math/rand"
)

// Pool declares a spatial pooling stage. Op is "max" (default), "avg",
// or "global-avg". Stride defaults to Size, giving the usual
// non-overlapping windows. Global average pooling covers the whole
// feature map and takes no window: it collapses (channels, h, w) to a
// flat (channels,) vector, so no Flatten is needed after it.
type Pool struct {
	Size   int    `json:"size,omitempty"`
	Stride int    `json:"stride,omitempty"`
	Op     string `json:"op,omitempty"`
}

// Build validates the window and computes the output spatial shape.
func (s Pool) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if len(inShape) != 3 {
		return nil, nil, fmt.Errorf("pool: input shape %v is not (channels, height, width)", inShape)
	}
	if s.Op == "global-avg" {
		if s.Size != 0 || s.Stride != 0 {
			return nil, nil, fmt.Errorf("pool: global-avg covers the whole feature map; leave size and stride unset")
		}
		return []Layer{&GlobalAvgPoolLayer{}}, []int{inShape[0]}, nil
	}
	if s.Size <= 0 {
		return nil, nil, fmt.Errorf("pool: size must be positive, got %d", s.Size)
	}

	stride := s.Stride
	if stride == 0 {
		stride = s.Size
	}

	op := s.Op
	if op == "" {
		op = "max"
	}
	if op != "max" && op != "avg" {
		return nil, nil, fmt.Errorf("pool: unknown op %q (want max or avg)", s.Op)
	}

	c, h, w := inShape[0], inShape[1], inShape[2]
	// Check the window fits before the division: Go truncates toward
	// zero, so a negative h-s.Size would still yield oh = 1.
	if s.Size > h || s.Size > w {
		return nil, nil, fmt.Errorf("pool: window %d does not fit input %dx%d", s.Size, h, w)
	}
	oh := (h-s.Size)/stride + 1
	ow := (w-s.Size)/stride + 1

	return []Layer{NewPoolLayer(s.Size, stride, op)}, []int{c, oh, ow}, nil
}

// PoolLayer is the runtime pooling stage. Max pooling remembers which
// input position won each window so the backward pass can route the
// gradient to it alone; average pooling spreads the gradient uniformly.
type PoolLayer struct {
	size   int
	stride int
	op     string

	inShape []int
	argmax  []int // flat input index of each window winner (max only)
}

// NewPoolLayer creates a pooling layer.
func NewPoolLayer(size, stride int, op string) *PoolLayer {
	return &PoolLayer{size: size, stride: stride, op: op}
}

func (l *PoolLayer) Name() string { return l.op + "pool" }

func (l *PoolLayer) Forward(x *Tensor, train bool) *Tensor {
	if len(x.shape) != 4 {
		panic(fmt.Sprintf("pool: expected 4D input, got %v", x.shape))
	}

	n, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	oh := (h-l.size)/l.stride + 1
	ow := (w-l.size)/l.stride + 1

	l.inShape = x.Shape()
	out := NewTensor(n, c, oh, ow)

	if l.op == "max" {
		l.argmax = make([]int, n*c*oh*ow)
	} else {
		l.argmax = nil
	}
	window := float64(l.size * l.size)

	parallelFor(n, globalComputeConfig, func(start, end int) {
		for i := start; i < end; i++ {
			for ch := 0; ch < c; ch++ {
				chanBase := (i*c + ch) * h * w
				outBase := (i*c + ch) * oh * ow

				for outY := 0; outY < oh; outY++ {
					for outX := 0; outX < ow; outX++ {
						y0 := outY * l.stride
						x0 := outX * l.stride
						outIdx := outBase + outY*ow + outX

						if l.op == "max" {
							best := math.Inf(-1)
							bestIdx := -1
							for ky := 0; ky < l.size; ky++ {
								rowBase := chanBase + (y0+ky)*w + x0
								for kx := 0; kx < l.size; kx++ {
									if v := x.data[rowBase+kx]; v > best {
										best = v
										bestIdx = rowBase + kx
									}
								}
							}
							out.data[outIdx] = best
							l.argmax[outIdx] = bestIdx
						} else {
							sum := 0.0
							for ky := 0; ky < l.size; ky++ {
								rowBase := chanBase + (y0+ky)*w + x0
								for kx := 0; kx < l.size; kx++ {
									sum += x.data[rowBase+kx]
								}
							}
							out.data[outIdx] = sum / window
						}
					}
				}
			}
		}
	})

	return out
}

func (l *PoolLayer) Backward(grad *Tensor) *Tensor {
	if l.inShape == nil {
		panic("pool: Backward called before Forward")
	}

	n := l.inShape[0]
	c, h, w := l.inShape[1], l.inShape[2], l.inShape[3]
	oh, ow := grad.shape[2], grad.shape[3]
	dx := NewTensor(l.inShape...)
	window := float64(l.size * l.size)

	parallelFor(n, globalComputeConfig, func(start, end int) {
		for i := start; i < end; i++ {
			for ch := 0; ch < c; ch++ {
				chanBase := (i*c + ch) * h * w
				outBase := (i*c + ch) * oh * ow

				for outY := 0; outY < oh; outY++ {
					for outX := 0; outX < ow; outX++ {
						outIdx := outBase + outY*ow + outX
						g := grad.data[outIdx]

						if l.op == "max" {
							// Overlapping windows can pick the same winner,
							// so accumulate rather than assign.
							dx.data[l.argmax[outIdx]] += g
						} else {
							share := g / window
							y0 := outY * l.stride
							x0 := outX * l.stride
							for ky := 0; ky < l.size; ky++ {
								rowBase := chanBase + (y0+ky)*w + x0
								for kx := 0; kx < l.size; kx++ {
									dx.data[rowBase+kx] += share
								}
							}
						}
					}
				}
			}
		}
	})

	return dx
}

func (l *PoolLayer) Params() []*Tensor { return nil }

// GlobalAvgPoolLayer reduces each channel's entire feature map to its
// mean, turning (batch, channels, h, w) into (batch, channels).
// Residual stacks end with this instead of flattening: it has no
// parameters and makes the head insensitive to feature map size.
type GlobalAvgPoolLayer struct {
	inShape []int
}

func (l *GlobalAvgPoolLayer) Name() string { return "globalavgpool" }

func (l *GlobalAvgPoolLayer) Forward(x *Tensor, train bool) *Tensor {
	if len(x.shape) != 4 {
		panic(fmt.Sprintf("pool: expected 4D input, got %v", x.shape))
	}

	n, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	plane := h * w
	l.inShape = x.Shape()
	out := NewTensor(n, c)

	parallelFor(n, globalComputeConfig, func(start, end int) {
		for i := start; i < end; i++ {
			for ch := 0; ch < c; ch++ {
				base := (i*c + ch) * plane
				sum := 0.0
				for p := 0; p < plane; p++ {
					sum += x.data[base+p]
				}
				out.data[i*c+ch] = sum / float64(plane)
			}
		}
	})

	return out
}

func (l *GlobalAvgPoolLayer) Backward(grad *Tensor) *Tensor {
	if l.inShape == nil {
		panic("pool: Backward called before Forward")
	}

	n, c := l.inShape[0], l.inShape[1]
	plane := l.inShape[2] * l.inShape[3]
	dx := NewTensor(l.inShape...)

	parallelFor(n, globalComputeConfig, func(start, end int) {
		for i := start; i < end; i++ {
			for ch := 0; ch < c; ch++ {
				share := grad.data[i*c+ch] / float64(plane)
				base := (i*c + ch) * plane
				for p := 0; p < plane; p++ {
					dx.data[base+p] = share
				}
			}
		}
	})

	return dx
}

func (l *GlobalAvgPoolLayer) Params() []*Tensor { return nil }
