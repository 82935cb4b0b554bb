package main

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mlpSpecs() []LayerSpec {
	return []LayerSpec{
		Flatten{},
		Affine{Nout: 100, Init: Gaussian(0, 0.01), Activation: ActReLU},
		Affine{Nout: 10, Init: Gaussian(0, 0.01), Activation: ActSoftmax},
	}
}

func TestNewNetworkShapeInference(t *testing.T) {
	net, err := NewNetwork([]int{1, 28, 28}, mlpSpecs(), 1)
	if err != nil {
		t.Fatal(err)
	}

	if !shapeEqual(net.InputShape(), []int{1, 28, 28}) {
		t.Errorf("InputShape() = %v", net.InputShape())
	}
	if !shapeEqual(net.OutputShape(), []int{10}) {
		t.Errorf("OutputShape() = %v, want [10]", net.OutputShape())
	}
	if net.Classes() != 10 {
		t.Errorf("Classes() = %d, want 10", net.Classes())
	}

	// 784*100 + 100 + 100*10 + 10
	if got := net.NumParams(); got != 79510 {
		t.Errorf("NumParams() = %d, want 79510", got)
	}

	// The trailing softmax is popped into the output activation, leaving
	// flatten + affine + relu + affine.
	if len(net.layers) != 4 {
		t.Errorf("built %d layers, want 4", len(net.layers))
	}
	if net.outputActivation != ActSoftmax {
		t.Errorf("outputActivation = %q, want softmax", net.outputActivation)
	}
}

func TestNewNetworkErrors(t *testing.T) {
	if _, err := NewNetwork([]int{1, 28, 28}, nil, 1); err == nil {
		t.Error("expected an error for an empty recipe")
	}

	_, err := NewNetwork([]int{3, 32, 32}, []LayerSpec{Affine{Nout: 10}}, 1)
	if err == nil || !strings.Contains(err.Error(), "layer 0") {
		t.Errorf("shape error should name the layer, got %v", err)
	}
}

func TestNetworkSeedDeterminism(t *testing.T) {
	a, err := NewNetwork([]int{1, 8, 8}, mlpSpecs(), 42)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewNetwork([]int{1, 8, 8}, mlpSpecs(), 42)
	c, _ := NewNetwork([]int{1, 8, 8}, mlpSpecs(), 43)

	for i, p := range a.Params() {
		if !tensorsEqual(p, b.Params()[i], 0) {
			t.Fatalf("same seed produced different weights in param %d", i)
		}
	}

	same := true
	for i, p := range a.Params() {
		if !tensorsEqual(p, c.Params()[i], 0) {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical weights")
	}
}

func TestNetworkPredictAppliesSoftmax(t *testing.T) {
	net, err := NewNetwork([]int{1, 4, 4}, []LayerSpec{
		Flatten{},
		Affine{Nout: 5, Init: Gaussian(0, 0.5), Activation: ActSoftmax},
	}, 7)
	if err != nil {
		t.Fatal(err)
	}

	x := randomTensorAwayFromZero(1, 3, 1, 4, 4)

	logits := net.Forward(x, false)
	probs := net.Predict(x)

	if !tensorsEqual(probs, Softmax(logits), 1e-12) {
		t.Error("Predict should be Softmax(Forward)")
	}
	for r := 0; r < 3; r++ {
		sum := 0.0
		for c := 0; c < 5; c++ {
			sum += probs.At(r, c)
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d probabilities sum to %f", r, sum)
		}
	}
}

func TestNetworkZeroGrad(t *testing.T) {
	net, err := NewNetwork([]int{1, 4, 4}, mlpSpecs(), 3)
	if err != nil {
		t.Fatal(err)
	}

	x := randomTensorAwayFromZero(2, 2, 1, 4, 4)
	y := net.Forward(x, true)
	net.Backward(sumSquaresGrad(y))

	nonzero := false
	for _, p := range net.Params() {
		for _, g := range p.grad {
			if g != 0 {
				nonzero = true
			}
		}
	}
	if !nonzero {
		t.Fatal("backward left every gradient at zero")
	}

	net.ZeroGrad()
	for _, p := range net.Params() {
		for i, g := range p.grad {
			if g != 0 {
				t.Fatalf("grad[%d] = %g after ZeroGrad", i, g)
			}
		}
	}
}

func TestNetworkFeatures(t *testing.T) {
	net, err := NewNetwork([]int{1, 4, 4}, []LayerSpec{
		Flatten{},
		Affine{Nout: 5, Init: Gaussian(0, 0.5), Activation: ActReLU},
		Affine{Nout: 3, Init: Gaussian(0, 0.5), Activation: ActSoftmax},
	}, 11)
	if err != nil {
		t.Fatal(err)
	}

	// Features stop just before the classification head: the (batch, 5)
	// post-relu representation.
	f := net.Features(randomTensorAwayFromZero(4, 2, 1, 4, 4))
	if !shapeEqual(f.shape, []int{2, 5}) {
		t.Fatalf("Features shape = %v, want [2 5]", f.shape)
	}
	for i, v := range f.data {
		if v < 0 {
			t.Errorf("feature[%d] = %f, want relu output >= 0", i, v)
		}
	}
}

func TestNetworkClassName(t *testing.T) {
	net, err := NewNetwork([]int{1, 4, 4}, mlpSpecs(), 1)
	if err != nil {
		t.Fatal(err)
	}

	if got := net.ClassName(7); got != "class7" {
		t.Errorf("unnamed ClassName(7) = %q, want class7", got)
	}

	net.ClassNames = []string{"cat", "dog"}
	if got := net.ClassName(1); got != "dog" {
		t.Errorf("ClassName(1) = %q, want dog", got)
	}
	if got := net.ClassName(5); got != "class5" {
		t.Errorf("out-of-range ClassName(5) = %q, want class5", got)
	}
}

func TestNetworkSummary(t *testing.T) {
	net, err := NewNetwork([]int{1, 28, 28}, mlpSpecs(), 1)
	if err != nil {
		t.Fatal(err)
	}

	s := net.Summary()
	for _, want := range []string{"flatten", "affine", "relu", "output activation: softmax", "total parameters: 79510"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary() missing %q:\n%s", want, s)
		}
	}
}

func TestNetworkSaveLoadRoundTrip(t *testing.T) {
	net, err := NewNetwork([]int{1, 6, 6}, []LayerSpec{
		Conv{Filters: 4, Size: 3, Pad: 1, Init: HeNormal(), Activation: ActReLU, BatchNorm: true},
		Flatten{},
		Affine{Nout: 3, Init: Gaussian(0, 0.1), Activation: ActSoftmax},
	}, 13)
	if err != nil {
		t.Fatal(err)
	}

	// Move the batch norm running statistics off their defaults so the
	// roundtrip has real state to carry.
	net.Forward(randomTensorAwayFromZero(1, 4, 1, 6, 6), true)

	net.ClassNames = []string{"a", "b", "c"}
	net.RunID = "0f32c44e-test"
	net.Means = []float64{0.1307}

	path := filepath.Join(t.TempDir(), "model.ckpt")
	if err := net.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadNetwork(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.RunID != net.RunID {
		t.Errorf("RunID = %q, want %q", loaded.RunID, net.RunID)
	}
	if len(loaded.ClassNames) != 3 || loaded.ClassNames[2] != "c" {
		t.Errorf("ClassNames = %v", loaded.ClassNames)
	}
	if len(loaded.Means) != 1 || loaded.Means[0] != 0.1307 {
		t.Errorf("Means = %v", loaded.Means)
	}
	if loaded.NumParams() != net.NumParams() {
		t.Errorf("NumParams = %d, want %d", loaded.NumParams(), net.NumParams())
	}

	// Same parameters, same running statistics: inference must agree
	// bit for bit.
	x := randomTensorAwayFromZero(2, 2, 1, 6, 6)
	if !tensorsEqual(loaded.Predict(x), net.Predict(x), 0) {
		t.Error("loaded network predicts differently from the saved one")
	}
}

func TestLoadNetworkRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.ckpt")
	header := []byte(`{"version":99,"input_shape":[1,4,4],"layers":[]}`)

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(header))); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(header); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = LoadNetwork(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported checkpoint version") {
		t.Errorf("expected a version error, got %v", err)
	}
}

func TestLoadNetworkMissingFile(t *testing.T) {
	if _, err := LoadNetwork(filepath.Join(t.TempDir(), "nope.ckpt")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
