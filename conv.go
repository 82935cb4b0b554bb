package main

import (
	"fmt"
	"math/rand"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// 2D convolution via im2col lowering.
//
// A direct convolution is six nested loops and painful to make fast. The
// standard trick - used by every major framework's CPU path - is to lower
// convolution to matrix multiplication:
//
//   1. im2col: unroll each kernel-sized input window into a column.
//      For input (C, H, W) with an F-filter K×K kernel, this produces a
//      matrix of shape (C·K·K, OH·OW): one row per weight position, one
//      column per output pixel.
//   2. Reshape the filters to a (F, C·K·K) matrix.
//   3. One matmul: (F, C·K·K) @ (C·K·K, OH·OW) = (F, OH·OW), which is
//      exactly the output feature map.
//
// The cost is memory: im2col duplicates each input pixel up to K·K times.
// We keep that bounded by lowering one image at a time and spreading the
// batch across cores with parallelFor - each worker owns a reusable
// scratch buffer and a private gradient accumulator, merged under a mutex
// when its range is done.
//
// BACKWARD PASS:
// Three products, all reusing the same lowered matrix:
//   dW     += dOut @ colsᵀ        (F, C·K·K)
//   db     += Σ dOut              (F)
//   dcols   = Wᵀ @ dOut           (C·K·K, OH·OW)
// and col2im scatter-adds dcols back into input coordinates - the exact
// adjoint of the im2col gather, overlapping windows summing their
// contributions.
//
// ===========================================================================

// Conv declares a 2D convolution with square kernels.
//
// Stride defaults to 1. Pad is symmetric zero padding. Init covers the
// filter bank; biases start at zero. Activation and BatchNorm expand the
// same way they do on Affine.
type Conv struct {
	Filters    int      `json:"filters"`
	Size       int      `json:"size"`
	Stride     int      `json:"stride,omitempty"`
	Pad        int      `json:"pad,omitempty"`
	Init       InitSpec `json:"init,omitempty"`
	Activation string   `json:"activation,omitempty"`
	BatchNorm  bool     `json:"batch_norm,omitempty"`
}

// Build expands the spec into conv [-> batchnorm] [-> activation] and
// computes the output spatial shape.
func (s Conv) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if len(inShape) != 3 {
		return nil, nil, fmt.Errorf("conv: input shape %v is not (channels, height, width)", inShape)
	}
	if s.Filters <= 0 || s.Size <= 0 {
		return nil, nil, fmt.Errorf("conv: filters and size must be positive, got %d and %d", s.Filters, s.Size)
	}

	stride := s.Stride
	if stride == 0 {
		stride = 1
	}
	if stride < 0 || s.Pad < 0 {
		return nil, nil, fmt.Errorf("conv: stride and pad must be non-negative")
	}

	c, h, w := inShape[0], inShape[1], inShape[2]
	// Check the kernel fits before the division: Go truncates toward
	// zero, so at stride >= 2 a negative numerator would still yield
	// oh = 1 and the layer would quietly treat the overhang as padding.
	if h+2*s.Pad < s.Size || w+2*s.Pad < s.Size {
		return nil, nil, fmt.Errorf("conv: kernel %dx%d pad %d does not fit input %dx%d",
			s.Size, s.Size, s.Pad, h, w)
	}
	oh := (h+2*s.Pad-s.Size)/stride + 1
	ow := (w+2*s.Pad-s.Size)/stride + 1

	init := s.Init
	if init.Type == "" {
		init = DefaultInit()
	}

	layers := []Layer{NewConvLayer(c, s.Filters, s.Size, stride, s.Pad, init, rng)}
	if s.BatchNorm {
		layers = append(layers, NewBatchNormLayer(s.Filters, 0))
	}
	layers, err := buildActivation(layers, s.Activation)
	if err != nil {
		return nil, nil, fmt.Errorf("conv: %w", err)
	}
	return layers, []int{s.Filters, oh, ow}, nil
}

// ConvLayer is the runtime convolution. Filters are stored pre-lowered as
// a (filters, channels·size·size) matrix so Forward never reshapes them.
type ConvLayer struct {
	channels int
	filters  int
	size     int
	stride   int
	pad      int

	w *Tensor // (filters, channels*size*size)
	b *Tensor // (filters)

	x *Tensor // cached input for backward
}

// NewConvLayer allocates and initializes a convolution layer.
func NewConvLayer(channels, filters, size, stride, pad int, init InitSpec, rng *rand.Rand) *ConvLayer {
	fanIn := channels * size * size
	fanOut := filters * size * size

	w := NewTensor(filters, fanIn)
	init.Fill(w, rng, fanIn, fanOut)

	return &ConvLayer{
		channels: channels,
		filters:  filters,
		size:     size,
		stride:   stride,
		pad:      pad,
		w:        w,
		b:        NewTensor(filters),
	}
}

func (l *ConvLayer) Name() string { return "conv" }

// outSize returns the spatial output dimensions for an input of h×w.
func (l *ConvLayer) outSize(h, w int) (int, int) {
	oh := (h+2*l.pad-l.size)/l.stride + 1
	ow := (w+2*l.pad-l.size)/l.stride + 1
	return oh, ow
}

func (l *ConvLayer) Forward(x *Tensor, train bool) *Tensor {
	if len(x.shape) != 4 || x.shape[1] != l.channels {
		panic(fmt.Sprintf("conv: expected input (batch, %d, h, w), got %v", l.channels, x.shape))
	}

	n, h, w := x.shape[0], x.shape[2], x.shape[3]
	oh, ow := l.outSize(h, w)
	ckk := l.channels * l.size * l.size
	ohw := oh * ow

	l.x = x
	out := NewTensor(n, l.filters, oh, ow)

	parallelFor(n, globalComputeConfig, func(start, end int) {
		cols := make([]float64, ckk*ohw) // per-worker scratch, reused per image
		for i := start; i < end; i++ {
			l.im2col(x, i, h, w, oh, ow, cols)

			// out_i = W @ cols, written straight into the output slab
			slab := out.data[i*l.filters*ohw : (i+1)*l.filters*ohw]
			matmulInto(l.w.data, cols, slab, l.filters, ohw, ckk)

			for f := 0; f < l.filters; f++ {
				bias := l.b.data[f]
				row := f * ohw
				for o := 0; o < ohw; o++ {
					slab[row+o] += bias
				}
			}
		}
	})

	return out
}

func (l *ConvLayer) Backward(grad *Tensor) *Tensor {
	if l.x == nil {
		panic("conv: Backward called before Forward")
	}

	n, h, w := l.x.shape[0], l.x.shape[2], l.x.shape[3]
	oh, ow := l.outSize(h, w)
	ckk := l.channels * l.size * l.size
	ohw := oh * ow

	dx := NewTensor(l.x.shape...)

	var mu sync.Mutex
	parallelFor(n, globalComputeConfig, func(start, end int) {
		cols := make([]float64, ckk*ohw)
		dcols := make([]float64, ckk*ohw)
		dwLocal := make([]float64, len(l.w.data))
		dbLocal := make([]float64, l.filters)

		for i := start; i < end; i++ {
			l.im2col(l.x, i, h, w, oh, ow, cols)
			g := grad.data[i*l.filters*ohw : (i+1)*l.filters*ohw]

			// dW += g @ colsᵀ
			matmulABtInto(g, cols, dwLocal, l.filters, ckk, ohw)

			// db += row sums of g
			for f := 0; f < l.filters; f++ {
				row := f * ohw
				sum := 0.0
				for o := 0; o < ohw; o++ {
					sum += g[row+o]
				}
				dbLocal[f] += sum
			}

			// dcols = Wᵀ @ g, then scatter back to input coordinates
			for j := range dcols {
				dcols[j] = 0
			}
			matmulAtBInto(l.w.data, g, dcols, ckk, ohw, l.filters)
			l.col2im(dcols, dx, i, h, w, oh, ow)
		}

		mu.Lock()
		for j, v := range dwLocal {
			l.w.grad[j] += v
		}
		for f, v := range dbLocal {
			l.b.grad[f] += v
		}
		mu.Unlock()
	})

	return dx
}

func (l *ConvLayer) Params() []*Tensor {
	return []*Tensor{l.w, l.b}
}

// im2col lowers image i of x into cols, shaped (channels·size·size, oh·ow).
// Out-of-bounds positions (padding) contribute zeros.
func (l *ConvLayer) im2col(x *Tensor, i, h, w, oh, ow int, cols []float64) {
	imgBase := i * l.channels * h * w
	ohw := oh * ow

	for c := 0; c < l.channels; c++ {
		chanBase := imgBase + c*h*w
		for kh := 0; kh < l.size; kh++ {
			for kw := 0; kw < l.size; kw++ {
				rowBase := ((c*l.size+kh)*l.size + kw) * ohw
				for outY := 0; outY < oh; outY++ {
					inY := outY*l.stride - l.pad + kh
					colBase := rowBase + outY*ow
					if inY < 0 || inY >= h {
						for outX := 0; outX < ow; outX++ {
							cols[colBase+outX] = 0
						}
						continue
					}
					srcBase := chanBase + inY*w
					for outX := 0; outX < ow; outX++ {
						inX := outX*l.stride - l.pad + kw
						if inX < 0 || inX >= w {
							cols[colBase+outX] = 0
						} else {
							cols[colBase+outX] = x.data[srcBase+inX]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: scatter-adds the lowered gradient dcols
// back into image i of dx. Overlapping windows accumulate.
func (l *ConvLayer) col2im(dcols []float64, dx *Tensor, i, h, w, oh, ow int) {
	imgBase := i * l.channels * h * w
	ohw := oh * ow

	for c := 0; c < l.channels; c++ {
		chanBase := imgBase + c*h*w
		for kh := 0; kh < l.size; kh++ {
			for kw := 0; kw < l.size; kw++ {
				rowBase := ((c*l.size+kh)*l.size + kw) * ohw
				for outY := 0; outY < oh; outY++ {
					inY := outY*l.stride - l.pad + kh
					if inY < 0 || inY >= h {
						continue
					}
					colBase := rowBase + outY*ow
					dstBase := chanBase + inY*w
					for outX := 0; outX < ow; outX++ {
						inX := outX*l.stride - l.pad + kw
						if inX < 0 || inX >= w {
							continue
						}
						dx.data[dstBase+inX] += dcols[colBase+outX]
					}
				}
			}
		}
	}
}

// ===========================================================================
// FLAT MATMUL KERNELS
// ===========================================================================
//
// Serial kernels over raw float64 slices. The conv layer parallelizes
// across the batch, so each per-image multiply stays single-threaded -
// nesting goroutines inside parallelFor would just thrash the scheduler.

// matmulInto computes out = a @ b for a (m×k), b (k×n), out (m×n).
// out is overwritten.
func matmulInto(a, b, out []float64, m, n, k int) {
	for i := range out[:m*n] {
		out[i] = 0
	}
	for i := 0; i < m; i++ {
		aRow := i * k
		outRow := i * n
		for kk := 0; kk < k; kk++ {
			av := a[aRow+kk]
			if av == 0 {
				continue
			}
			bRow := kk * n
			for j := 0; j < n; j++ {
				out[outRow+j] += av * b[bRow+j]
			}
		}
	}
}

// matmulABtInto accumulates out += a @ bᵀ for a (m×k), b (n×k), out (m×n).
func matmulABtInto(a, b, out []float64, m, n, k int) {
	for i := 0; i < m; i++ {
		aRow := i * k
		outRow := i * n
		for j := 0; j < n; j++ {
			bRow := j * k
			sum := 0.0
			for kk := 0; kk < k; kk++ {
				sum += a[aRow+kk] * b[bRow+kk]
			}
			out[outRow+j] += sum
		}
	}
}

// matmulAtBInto accumulates out += aᵀ @ b for a (k×m), b (k×n), out (m×n).
func matmulAtBInto(a, b, out []float64, m, n, k int) {
	for kk := 0; kk < k; kk++ {
		aRow := kk * m
		bRow := kk * n
		for i := 0; i < m; i++ {
			av := a[aRow+i]
			if av == 0 {
				continue
			}
			outRow := i * n
			for j := 0; j < n; j++ {
				out[outRow+j] += av * b[bRow+j]
			}
		}
	}
}
