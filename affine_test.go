package main

import (
	"math/rand"
	"testing"
)

func TestAffineForward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := NewAffineLayer(3, 2, Zeros(), rng)

	// W = |1 2|   b = (0.5, -0.5)
	//     |3 4|
	//     |5 6|
	copy(layer.w.data, []float64{1, 2, 3, 4, 5, 6})
	copy(layer.b.data, []float64{0.5, -0.5})

	// x = (1, 1, 1): y = (1+3+5+0.5, 2+4+6-0.5) = (9.5, 11.5)
	// x = (1, 0, -1): y = (1-5+0.5, 2-6-0.5) = (-3.5, -4.5)
	x := tensorFrom([]int{2, 3}, []float64{1, 1, 1, 1, 0, -1})
	y := layer.Forward(x, true)

	want := tensorFrom([]int{2, 2}, []float64{9.5, 11.5, -3.5, -4.5})
	if !tensorsEqual(y, want, 1e-12) {
		t.Errorf("Forward produced %v, want %v", y.data, want.data)
	}
}

func TestAffineForwardPanicsOnWidthMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := NewAffineLayer(3, 2, Zeros(), rng)

	defer func() {
		if recover() == nil {
			t.Error("Forward with the wrong input width did not panic")
		}
	}()
	layer.Forward(NewTensor(2, 4), true)
}

func TestAffineGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	layer := NewAffineLayer(4, 3, Gaussian(0, 0.5), rng)

	x := randomTensorAwayFromZero(3, 5, 4)
	checkLayerGradients(t, layer, x, 1e-6)
}

func TestAffineGradientsAccumulate(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	layer := NewAffineLayer(2, 2, Gaussian(0, 0.5), rng)
	x := randomTensorAwayFromZero(5, 3, 2)

	y := layer.Forward(x, true)
	g := sumSquaresGrad(y)

	layer.Backward(g)
	once := append([]float64(nil), layer.w.grad...)

	layer.Forward(x, true)
	layer.Backward(g)

	for i := range once {
		if got, want := layer.w.grad[i], 2*once[i]; !gradClose(got, want, 1e-12) {
			t.Fatalf("grad[%d] after two backwards = %g, want %g", i, got, want)
		}
	}
}

func TestAffineParams(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := NewAffineLayer(3, 2, Zeros(), rng)

	params := layer.Params()
	if len(params) != 2 {
		t.Fatalf("expected 2 parameter tensors, got %d", len(params))
	}
	if params[0].Size() != 6 { // 3*2 weights
		t.Errorf("weight size = %d, want 6", params[0].Size())
	}
	if params[1].Size() != 2 { // biases
		t.Errorf("bias size = %d, want 2", params[1].Size())
	}
	for i, v := range params[1].data {
		if v != 0 {
			t.Errorf("bias[%d] = %f, want zero init", i, v)
		}
	}
}

func TestAffineSpecBuild(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	t.Run("expands batchnorm and activation", func(t *testing.T) {
		layers, outShape, err := Affine{Nout: 8, Activation: ActReLU, BatchNorm: true}.Build([]int{4}, rng)
		if err != nil {
			t.Fatal(err)
		}
		if len(layers) != 3 {
			t.Fatalf("expected affine+batchnorm+relu, got %d layers", len(layers))
		}
		if layers[0].Name() != "affine" || layers[1].Name() != "batchnorm" || layers[2].Name() != "relu" {
			t.Errorf("layer order: %s, %s, %s", layers[0].Name(), layers[1].Name(), layers[2].Name())
		}
		if len(outShape) != 1 || outShape[0] != 8 {
			t.Errorf("output shape = %v, want [8]", outShape)
		}
	})

	t.Run("rejects spatial input", func(t *testing.T) {
		if _, _, err := (Affine{Nout: 8}).Build([]int{3, 32, 32}, rng); err == nil {
			t.Error("expected an error for unflattened input")
		}
	})

	t.Run("rejects non-positive width", func(t *testing.T) {
		if _, _, err := (Affine{Nout: 0}).Build([]int{4}, rng); err == nil {
			t.Error("expected an error for nout = 0")
		}
	})

	t.Run("rejects unknown activation", func(t *testing.T) {
		if _, _, err := (Affine{Nout: 8, Activation: "gelu"}).Build([]int{4}, rng); err == nil {
			t.Error("expected an error for unknown activation")
		}
	})
}
