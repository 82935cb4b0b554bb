package main

import (
	"math"
	"math/rand"
	"testing"
)

// Numeric gradient checking for layer tests. The analytic Backward of a
// layer is compared against central differences of a scalar loss
// L = sum(y^2), whose gradient with respect to the layer output is the
// convenient closed form 2y. With float64 and a step of 1e-5 the two
// should agree to several significant digits everywhere the layer is
// differentiable; tests pick inputs that stay away from ReLU and
// max-pool kinks.

const gradCheckStep = 1e-5

func sumSquares(y *Tensor) float64 {
	total := 0.0
	for _, v := range y.data {
		total += v * v
	}
	return total
}

func sumSquaresGrad(y *Tensor) *Tensor {
	g := NewTensor(y.shape...)
	for i, v := range y.data {
		g.data[i] = 2 * v
	}
	return g
}

// centralDiff estimates dL/dxs[i] by symmetric perturbation, restoring
// xs[i] before returning.
func centralDiff(loss func() float64, xs []float64, i int) float64 {
	orig := xs[i]
	xs[i] = orig + gradCheckStep
	plus := loss()
	xs[i] = orig - gradCheckStep
	minus := loss()
	xs[i] = orig
	return (plus - minus) / (2 * gradCheckStep)
}

// gradClose compares an analytic and a numeric derivative with a mixed
// absolute/relative tolerance.
func gradClose(analytic, numeric, tol float64) bool {
	diff := math.Abs(analytic - numeric)
	return diff <= tol*(1+math.Abs(analytic)+math.Abs(numeric))
}

// checkLayerGradients verifies every derivative a layer produces: the
// returned input gradient and the accumulated parameter gradients.
func checkLayerGradients(t *testing.T, layer Layer, x *Tensor, tol float64) {
	t.Helper()

	for _, p := range layer.Params() {
		p.ZeroGrad()
	}

	y := layer.Forward(x, true)
	dx := layer.Backward(sumSquaresGrad(y))

	// Snapshot analytic gradients before numeric probing reruns Forward
	// and overwrites the layer's caches.
	analyticDx := append([]float64(nil), dx.data...)
	var analyticParams [][]float64
	for _, p := range layer.Params() {
		analyticParams = append(analyticParams, append([]float64(nil), p.grad...))
	}

	loss := func() float64 { return sumSquares(layer.Forward(x, true)) }

	for i := range x.data {
		numeric := centralDiff(loss, x.data, i)
		if !gradClose(analyticDx[i], numeric, tol) {
			t.Fatalf("%s: input grad[%d] = %g, numeric %g",
				layer.Name(), i, analyticDx[i], numeric)
		}
	}

	for pi, p := range layer.Params() {
		for i := range p.data {
			numeric := centralDiff(loss, p.data, i)
			if !gradClose(analyticParams[pi][i], numeric, tol) {
				t.Fatalf("%s: param %d grad[%d] = %g, numeric %g",
					layer.Name(), pi, i, analyticParams[pi][i], numeric)
			}
		}
	}
}

// randomTensorAwayFromZero draws values in [-1, -0.2] ∪ [0.2, 1] so that
// gradient probes never cross a ReLU kink.
func randomTensorAwayFromZero(seed int64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	rng := rand.New(rand.NewSource(seed))
	for i := range t.data {
		v := 0.2 + 0.8*rng.Float64()
		if rng.Intn(2) == 0 {
			v = -v
		}
		t.data[i] = v
	}
	return t
}
