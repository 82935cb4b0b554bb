package main

import (
	"math"
	"testing"
)

func TestNewTensor(t *testing.T) {
	tensor := NewTensor(2, 3)

	if got := tensor.Shape(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected shape [2 3], got %v", got)
	}
	if tensor.Dims() != 2 {
		t.Errorf("expected 2 dimensions, got %d", tensor.Dims())
	}
	if tensor.Size() != 6 {
		t.Errorf("expected size 6, got %d", tensor.Size())
	}
	for i, v := range tensor.data {
		if v != 0 {
			t.Errorf("expected zero initialization, data[%d] = %f", i, v)
		}
	}
	if len(tensor.grad) != 6 {
		t.Errorf("expected gradient of size 6, got %d", len(tensor.grad))
	}
}

func TestNewTensorPanics(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
	}{
		{"empty shape", []int{}},
		{"zero dimension", []int{2, 0}},
		{"negative dimension", []int{-1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("NewTensor(%v) did not panic", tt.shape)
				}
			}()
			NewTensor(tt.shape...)
		})
	}
}

func TestTensorShapeIsCopy(t *testing.T) {
	tensor := NewTensor(2, 3)
	shape := tensor.Shape()
	shape[0] = 99

	if tensor.Shape()[0] != 2 {
		t.Error("mutating the returned shape changed the tensor")
	}
}

func TestTensorAtSet(t *testing.T) {
	tensor := NewTensor(2, 3)
	tensor.Set(1.5, 0, 0)
	tensor.Set(2.5, 1, 2)

	if got := tensor.At(0, 0); got != 1.5 {
		t.Errorf("At(0,0) = %f, want 1.5", got)
	}
	if got := tensor.At(1, 2); got != 2.5 {
		t.Errorf("At(1,2) = %f, want 2.5", got)
	}

	// Row-major layout: element (1, 2) of a (2, 3) tensor is flat index
	// 1*3 + 2 = 5.
	if tensor.data[5] != 2.5 {
		t.Errorf("expected row-major layout, data[5] = %f", tensor.data[5])
	}
}

func TestTensorAtPanicsOutOfBounds(t *testing.T) {
	tensor := NewTensor(2, 3)

	tests := []struct {
		name    string
		indices []int
	}{
		{"row out of bounds", []int{2, 0}},
		{"col out of bounds", []int{0, 3}},
		{"negative index", []int{-1, 0}},
		{"wrong rank", []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("At(%v) did not panic", tt.indices)
				}
			}()
			tensor.At(tt.indices...)
		})
	}
}

func TestTensorClone(t *testing.T) {
	tensor := NewTensor(2, 2)
	tensor.Set(3.0, 0, 1)
	tensor.grad[0] = 7.0

	clone := tensor.Clone()
	clone.Set(99.0, 0, 1)
	clone.grad[0] = 0

	if tensor.At(0, 1) != 3.0 {
		t.Error("mutating the clone changed the original data")
	}
	if tensor.grad[0] != 7.0 {
		t.Error("mutating the clone changed the original gradient")
	}
	if clone.At(0, 1) != 99.0 {
		t.Errorf("clone data not written, got %f", clone.At(0, 1))
	}
}

func TestTensorReshapeSharesData(t *testing.T) {
	tensor := NewTensor(2, 3)
	view := tensor.Reshape(3, 2)

	view.Set(5.0, 2, 1) // flat index 5
	if tensor.At(1, 2) != 5.0 {
		t.Error("reshape did not share data with the original")
	}

	view.grad[0] = 1.0
	if tensor.grad[0] != 1.0 {
		t.Error("reshape did not share the gradient with the original")
	}
}

func TestTensorReshapePanicsOnSizeMismatch(t *testing.T) {
	tensor := NewTensor(2, 3)
	defer func() {
		if recover() == nil {
			t.Error("Reshape(4, 2) did not panic")
		}
	}()
	tensor.Reshape(4, 2)
}

func TestZeroGrad(t *testing.T) {
	tensor := NewTensor(3)
	tensor.grad[0] = 1
	tensor.grad[2] = -4

	tensor.ZeroGrad()
	for i, g := range tensor.grad {
		if g != 0 {
			t.Errorf("grad[%d] = %f after ZeroGrad", i, g)
		}
	}
}

func TestElementwiseOps(t *testing.T) {
	a := NewTensor(2, 2)
	b := NewTensor(2, 2)
	copy(a.data, []float64{1, 2, 3, 4})
	copy(b.data, []float64{10, 20, 30, 40})

	sum := Add(a, b)
	if !tensorsEqual(sum, tensorFrom([]int{2, 2}, []float64{11, 22, 33, 44}), 0) {
		t.Errorf("Add produced %v", sum.data)
	}

	diff := Sub(b, a)
	if !tensorsEqual(diff, tensorFrom([]int{2, 2}, []float64{9, 18, 27, 36}), 0) {
		t.Errorf("Sub produced %v", diff.data)
	}

	prod := Mul(a, b)
	if !tensorsEqual(prod, tensorFrom([]int{2, 2}, []float64{10, 40, 90, 160}), 0) {
		t.Errorf("Mul produced %v", prod.data)
	}

	scaled := Scale(a, 0.5)
	if !tensorsEqual(scaled, tensorFrom([]int{2, 2}, []float64{0.5, 1, 1.5, 2}), 0) {
		t.Errorf("Scale produced %v", scaled.data)
	}
}

func TestAddPanicsOnShapeMismatch(t *testing.T) {
	a := NewTensor(2, 2)
	b := NewTensor(2, 3)
	defer func() {
		if recover() == nil {
			t.Error("Add with mismatched shapes did not panic")
		}
	}()
	Add(a, b)
}

func TestMatMul(t *testing.T) {
	// A = |1 2 3|   B = |7  8 |
	//     |4 5 6|       |9  10|
	//                   |11 12|
	//
	// C[0,0] = 1*7 + 2*9 + 3*11 = 58
	// C[0,1] = 1*8 + 2*10 + 3*12 = 64
	// C[1,0] = 4*7 + 5*9 + 6*11 = 139
	// C[1,1] = 4*8 + 5*10 + 6*12 = 154
	a := tensorFrom([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	b := tensorFrom([]int{3, 2}, []float64{7, 8, 9, 10, 11, 12})

	c := MatMul(a, b)
	want := tensorFrom([]int{2, 2}, []float64{58, 64, 139, 154})
	if !tensorsEqual(c, want, 1e-12) {
		t.Errorf("MatMul produced %v, want %v", c.data, want.data)
	}
}

func TestMatMulIdentity(t *testing.T) {
	a := tensorFrom([]int{2, 2}, []float64{1, 2, 3, 4})
	eye := tensorFrom([]int{2, 2}, []float64{1, 0, 0, 1})

	if got := MatMul(a, eye); !tensorsEqual(got, a, 1e-12) {
		t.Errorf("A @ I = %v, want %v", got.data, a.data)
	}
	if got := MatMul(eye, a); !tensorsEqual(got, a, 1e-12) {
		t.Errorf("I @ A = %v, want %v", got.data, a.data)
	}
}

func TestTranspose(t *testing.T) {
	a := tensorFrom([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	at := Transpose(a)

	want := tensorFrom([]int{3, 2}, []float64{1, 4, 2, 5, 3, 6})
	if !tensorsEqual(at, want, 0) {
		t.Errorf("Transpose produced %v, want %v", at.data, want.data)
	}
}

func TestAddRowVectorAndSumRows(t *testing.T) {
	a := tensorFrom([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	v := tensorFrom([]int{3}, []float64{10, 20, 30})

	biased := AddRowVector(a, v)
	want := tensorFrom([]int{2, 3}, []float64{11, 22, 33, 14, 25, 36})
	if !tensorsEqual(biased, want, 0) {
		t.Errorf("AddRowVector produced %v, want %v", biased.data, want.data)
	}

	// SumRows is the vector's gradient: column sums of a.
	sums := SumRows(a)
	wantSums := tensorFrom([]int{3}, []float64{5, 7, 9})
	if !tensorsEqual(sums, wantSums, 0) {
		t.Errorf("SumRows produced %v, want %v", sums.data, wantSums.data)
	}
}

func TestArgMaxRow(t *testing.T) {
	logits := tensorFrom([]int{3, 4}, []float64{
		0.1, 0.7, 0.1, 0.1, // clear winner at 1
		5, 5, 5, 5, // tie resolves to lowest index
		-3, -1, -2, -9, // negative values
	})

	for i, want := range []int{1, 0, 1} {
		if got := ArgMaxRow(logits, i); got != want {
			t.Errorf("ArgMaxRow(row %d) = %d, want %d", i, got, want)
		}
	}
}

func TestReLU(t *testing.T) {
	x := tensorFrom([]int{4}, []float64{-2, -0.5, 0, 3})
	y := ReLU(x)

	want := tensorFrom([]int{4}, []float64{0, 0, 0, 3})
	if !tensorsEqual(y, want, 0) {
		t.Errorf("ReLU produced %v, want %v", y.data, want.data)
	}
}

func TestSigmoid(t *testing.T) {
	x := tensorFrom([]int{3}, []float64{0, 100, -100})
	y := Sigmoid(x)

	if math.Abs(y.data[0]-0.5) > 1e-12 {
		t.Errorf("sigmoid(0) = %f, want 0.5", y.data[0])
	}
	if math.Abs(y.data[1]-1) > 1e-12 {
		t.Errorf("sigmoid(100) = %f, want ~1", y.data[1])
	}
	if y.data[2] > 1e-12 {
		t.Errorf("sigmoid(-100) = %f, want ~0", y.data[2])
	}
}

func TestTanH(t *testing.T) {
	x := tensorFrom([]int{3}, []float64{0, 1, -1})
	y := TanH(x)

	if y.data[0] != 0 {
		t.Errorf("tanh(0) = %f, want 0", y.data[0])
	}
	if math.Abs(y.data[1]-math.Tanh(1)) > 1e-15 {
		t.Errorf("tanh(1) = %f, want %f", y.data[1], math.Tanh(1))
	}
	if y.data[1]+y.data[2] != 0 {
		t.Error("tanh is not odd")
	}
}

func TestSoftmax(t *testing.T) {
	t.Run("rows sum to one", func(t *testing.T) {
		x := tensorFrom([]int{2, 3}, []float64{1, 2, 3, -1, 0, 1})
		p := Softmax(x)

		for b := 0; b < 2; b++ {
			sum := p.At(b, 0) + p.At(b, 1) + p.At(b, 2)
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("row %d sums to %f", b, sum)
			}
		}
	})

	t.Run("uniform logits give uniform probabilities", func(t *testing.T) {
		x := tensorFrom([]int{1, 4}, []float64{2, 2, 2, 2})
		p := Softmax(x)
		for c := 0; c < 4; c++ {
			if math.Abs(p.At(0, c)-0.25) > 1e-12 {
				t.Errorf("p[%d] = %f, want 0.25", c, p.At(0, c))
			}
		}
	})

	t.Run("stable for large logits", func(t *testing.T) {
		x := tensorFrom([]int{1, 2}, []float64{1000, 1001})
		p := Softmax(x)
		for c := 0; c < 2; c++ {
			if math.IsNaN(p.At(0, c)) || math.IsInf(p.At(0, c), 0) {
				t.Fatalf("softmax overflowed: %v", p.data)
			}
		}
		// softmax(0, 1) = (1/(1+e), e/(1+e))
		want := math.Exp(1) / (1 + math.Exp(1))
		if math.Abs(p.At(0, 1)-want) > 1e-12 {
			t.Errorf("p[1] = %f, want %f", p.At(0, 1), want)
		}
	})
}

// tensorFrom builds a tensor with the given shape and contents, for
// writing expectations compactly.
func tensorFrom(shape []int, data []float64) *Tensor {
	t := NewTensor(shape...)
	if len(data) != len(t.data) {
		panic("tensorFrom: data length does not match shape")
	}
	copy(t.data, data)
	return t
}
