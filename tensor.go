package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RECOMMENDED READING:
//
// Deep Learning Foundations:
// - "Deep Learning" by Goodfellow, Bengio, Courville (2016)
//   Chapter 6: Deep Feedforward Networks - backpropagation
//   Chapter 9: Convolutional Networks - the operations in conv.go build on this
//
// Numerical Computing:
// - "Numerical Linear Algebra" by Trefethen & Bau (1997)
//   Explains stability, conditioning of matrix operations

var (
	// ErrShapeMismatch indicates incompatible tensor shapes for an operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidShape indicates an invalid tensor shape.
	ErrInvalidShape = errors.New("tensor: invalid shape")

	// ErrInvalidIndex indicates an out-of-bounds index access.
	ErrInvalidIndex = errors.New("tensor: invalid index")
)

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in row-major (C-contiguous) order. Image batches use the
// (batch, channels, height, width) layout throughout this codebase.
//
// Tensor is not safe for concurrent use. Synchronization must be
// handled by the caller if needed.
type Tensor struct {
	data  []float64 // Flat array storing all elements
	shape []int     // Dimensions [batch, channels, height, width] etc.
	grad  []float64 // Gradient for backpropagation
}

// NewTensor creates a tensor with the given shape, initialized to zero.
// Panics if shape is invalid (empty or contains non-positive dimensions).
//
// This is idiomatic Go for ML code - shape errors are programmer bugs,
// not runtime conditions that should be handled gracefully.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	// Copy shape slice to prevent external mutation
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorRand creates a tensor with values from a normal distribution
// with standard deviation 0.02, via the Box-Muller transform. Layer weights
// go through the initializers in initializer.go instead; this constructor
// remains for quick experiments and tests.
func NewTensorRand(shape ...int) *Tensor {
	t := NewTensor(shape...)

	// Box-Muller transform for normal distribution
	// Generate pairs of independent standard normal variables
	for i := 0; i < len(t.data); i += 2 {
		u1, u2 := rand.Float64(), rand.Float64()
		mag := 0.02 * math.Sqrt(-2*math.Log(u1))
		z0 := mag * math.Cos(2*math.Pi*u2)

		t.data[i] = z0
		if i+1 < len(t.data) {
			z1 := mag * math.Sin(2*math.Pi*u2)
			t.data[i+1] = z1
		}
	}

	return t
}

// Shape returns a copy of the tensor's shape.
// The returned slice can be safely modified without affecting the tensor.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// At returns the element at the given indices.
// Panics if indices are invalid - this is a programmer error.
func (t *Tensor) At(indices ...int) float64 {
	idx := t.flatIndex(indices)
	return t.data[idx]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	idx := t.flatIndex(indices)
	t.data[idx] = value
}

// flatIndex converts multi-dimensional indices to a flat index.
// Panics on invalid indices.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1

	// Compute flat index in row-major order
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// ZeroGrad clears the gradient tensor. Call before backward pass.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	copy(clone.grad, t.grad)
	return clone
}

// Reshape returns a new view of the tensor with a different shape.
// The total number of elements must remain the same.
// The returned tensor shares the underlying data and gradient. Flatten
// relies on this: gradients written through the view are visible through
// the original.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	newSize := 1
	for _, dim := range newShape {
		newSize *= dim
	}

	if newSize != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v (size %d)", len(t.data), newShape, newSize))
	}

	shapeCopy := make([]int, len(newShape))
	copy(shapeCopy, newShape)

	return &Tensor{
		data:  t.data, // Share underlying data
		shape: shapeCopy,
		grad:  t.grad, // Share gradient too
	}
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition: out = a + b.
// Panics if shapes don't match.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}

	return out
}

// Sub performs element-wise subtraction: out = a - b.
// Panics if shapes don't match.
func Sub(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot subtract shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] - b.data[i]
	}

	return out
}

// Mul performs element-wise multiplication: out = a * b (Hadamard product).
// Panics if shapes don't match.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}

	return out
}

// Scale multiplies all elements by a scalar: out = a * scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// MatMul performs matrix multiplication: C = A @ B.
// A must be (M, K), B must be (K, N), result is (M, N).
//
// This is the O(M*N*K) operation at the heart of both the affine layers and
// the im2col convolution path. Dispatches through the strategy and compute
// configuration the backend installed at startup, recording the op in the
// global compute statistics.
func MatMul(a, b *Tensor) *Tensor {
	start := time.Now()
	out := MatMulWithStrategy(a, b, globalMatMulStrategy, globalComputeConfig)
	globalStats.RecordOp(globalComputeConfig.shouldParallelize(a.shape[0]), time.Since(start).Nanoseconds())
	return out
}

// Transpose returns the transpose of a 2D matrix: A^T.
// A: (M, N) -> A^T: (N, M).
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}

	return out
}

// AddRowVector adds a length-N vector to every row of an (M, N) matrix.
// This is how biases are applied after a matmul.
func AddRowVector(a, v *Tensor) *Tensor {
	if len(a.shape) != 2 || len(v.shape) != 1 || v.shape[0] != a.shape[1] {
		panic(fmt.Sprintf("tensor: cannot add row vector %v to %v", v.shape, a.shape))
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(m, n)
	for i := 0; i < m; i++ {
		row := i * n
		for j := 0; j < n; j++ {
			out.data[row+j] = a.data[row+j] + v.data[j]
		}
	}
	return out
}

// SumRows sums an (M, N) matrix over its rows, producing a length-N vector.
// This is the gradient of AddRowVector with respect to the vector.
func SumRows(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: SumRows requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n)
	for i := 0; i < m; i++ {
		row := i * n
		for j := 0; j < n; j++ {
			out.data[j] += a.data[row+j]
		}
	}
	return out
}

// ArgMaxRow returns the index of the largest element in row i of a 2D
// tensor. Ties resolve to the lowest index. This is how a row of logits
// (or probabilities) becomes a predicted class label.
func ArgMaxRow(t *Tensor, i int) int {
	if len(t.shape) != 2 {
		panic("tensor: ArgMaxRow requires 2D tensor")
	}

	n := t.shape[1]
	row := i * n
	best := 0
	bestVal := t.data[row]
	for j := 1; j < n; j++ {
		if t.data[row+j] > bestVal {
			bestVal = t.data[row+j]
			best = j
		}
	}
	return best
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================
//
// These are the functional forms. ActivationLayer in activation.go wraps
// them with the cached state the backward pass needs.

// ReLU applies Rectified Linear Unit: f(x) = max(0, x).
// The most widely used activation - simple and effective.
func ReLU(x *Tensor) *Tensor {
	return ParallelApply(x, func(v float64) float64 {
		return math.Max(0, v)
	}, globalComputeConfig)
}

// Sigmoid applies the logistic function: f(x) = 1 / (1 + exp(-x)).
// Squashes values into (0, 1).
func Sigmoid(x *Tensor) *Tensor {
	return ParallelApply(x, func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	}, globalComputeConfig)
}

// TanH applies the hyperbolic tangent activation. Squashes values
// into (-1, 1), zero-centered unlike Sigmoid.
func TanH(x *Tensor) *Tensor {
	return ParallelApply(x, math.Tanh, globalComputeConfig)
}

// Softmax applies softmax row-wise: p_i = exp(x_i) / Σ exp(x_j).
// Converts logits to probabilities (each row sums to 1).
//
// Numerically stable version: subtract max before exp to prevent overflow.
// Requires a 2D tensor (batch, classes).
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax requires 2D tensor")
	}

	batch, classes := x.shape[0], x.shape[1]
	out := NewTensor(batch, classes)

	// Process each row independently
	for b := 0; b < batch; b++ {
		row := b * classes

		// Find max for numerical stability
		maxVal := x.data[row]
		for c := 1; c < classes; c++ {
			if v := x.data[row+c]; v > maxVal {
				maxVal = v
			}
		}

		// Compute exp(x - max) and sum
		sum := 0.0
		for c := 0; c < classes; c++ {
			expVal := math.Exp(x.data[row+c] - maxVal)
			out.data[row+c] = expVal
			sum += expVal
		}

		// Normalize to get probabilities
		for c := 0; c < classes; c++ {
			out.data[row+c] /= sum
		}
	}

	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
