package main

import (
	"math"
	"testing"
)

func TestSoftmaxCrossEntropyUniformLogits(t *testing.T) {
	cost := SoftmaxCrossEntropy{}
	if cost.Name() != "softmax cross-entropy" {
		t.Errorf("Name() = %q", cost.Name())
	}

	// All-zero logits: every class gets probability 1/4, so the loss is
	// ln(4) regardless of the labels.
	logits := NewTensor(2, 4)
	loss, grad := cost.Loss(logits, []int{0, 3})

	if math.Abs(loss-math.Log(4)) > 1e-12 {
		t.Errorf("loss = %f, want ln(4) = %f", loss, math.Log(4))
	}

	// grad = (1/4 - onehot)/batch
	want := tensorFrom([]int{2, 4}, []float64{
		-0.375, 0.125, 0.125, 0.125,
		0.125, 0.125, 0.125, -0.375,
	})
	if !tensorsEqual(grad, want, 1e-12) {
		t.Errorf("grad = %v, want %v", grad.data, want.data)
	}
}

func TestSoftmaxCrossEntropyHandComputed(t *testing.T) {
	// exp(logits) proportional to (1, 2, 3, 4), so the probabilities are
	// exactly (0.1, 0.2, 0.3, 0.4).
	logits := tensorFrom([]int{1, 4}, []float64{
		math.Log(1), math.Log(2), math.Log(3), math.Log(4),
	})
	loss, grad := SoftmaxCrossEntropy{}.Loss(logits, []int{2})

	if want := -math.Log(0.3); math.Abs(loss-want) > 1e-12 {
		t.Errorf("loss = %f, want %f", loss, want)
	}

	want := tensorFrom([]int{1, 4}, []float64{0.1, 0.2, 0.3 - 1, 0.4})
	if !tensorsEqual(grad, want, 1e-12) {
		t.Errorf("grad = %v, want %v", grad.data, want.data)
	}
}

func TestSoftmaxCrossEntropyLargeLogits(t *testing.T) {
	// Naive exp would overflow at 1000; log-sum-exp must not.
	logits := tensorFrom([]int{1, 2}, []float64{1000, 0})

	loss, grad := SoftmaxCrossEntropy{}.Loss(logits, []int{0})
	if math.IsNaN(loss) || math.IsInf(loss, 0) || loss > 1e-9 {
		t.Errorf("confident correct prediction: loss = %g, want ~0", loss)
	}
	for i, g := range grad.data {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Errorf("grad[%d] = %f", i, g)
		}
	}

	loss, _ = SoftmaxCrossEntropy{}.Loss(logits, []int{1})
	if math.Abs(loss-1000) > 1e-9 {
		t.Errorf("confident wrong prediction: loss = %f, want 1000", loss)
	}
}

func TestSoftmaxCrossEntropyGradientNumeric(t *testing.T) {
	logits := randomTensorAwayFromZero(1, 3, 5)
	labels := []int{4, 0, 2}

	_, grad := SoftmaxCrossEntropy{}.Loss(logits, labels)

	loss := func() float64 {
		l, _ := SoftmaxCrossEntropy{}.Loss(logits, labels)
		return l
	}
	for i := range logits.data {
		numeric := centralDiff(loss, logits.data, i)
		if !gradClose(grad.data[i], numeric, 1e-7) {
			t.Errorf("dL/dlogit[%d]: analytic %g, numeric %g", i, grad.data[i], numeric)
		}
	}
}

func TestSoftmaxCrossEntropyPanics(t *testing.T) {
	tests := []struct {
		name   string
		logits *Tensor
		labels []int
	}{
		{"1D logits", NewTensor(4), []int{0}},
		{"label count mismatch", NewTensor(2, 4), []int{1}},
		{"label out of range", NewTensor(2, 4), []int{1, 4}},
		{"negative label", NewTensor(2, 4), []int{-1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected a panic")
				}
			}()
			SoftmaxCrossEntropy{}.Loss(tt.logits, tt.labels)
		})
	}
}
