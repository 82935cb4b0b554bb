package main

import "math"

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Optimizers turn gradients into parameter updates. The fit loop computes
// dL/dθ for every parameter, then hands the whole list to the optimizer;
// nothing else in the codebase ever writes to parameter data.
//
// Two optimizers, matching the two regimes the recipes use:
//
//   GradientDescentMomentum - SGD with a velocity term. The classic image
//       classification optimizer: every tutorial MLP and residual network
//       here trains with it. Supports weight decay (L2) and the Nesterov
//       variant, which evaluates momentum "one step ahead".
//
//   Adam - per-parameter adaptive learning rates from running first and
//       second gradient moments. More forgiving of a poorly tuned learning
//       rate; useful when experimenting with new architectures.
//
// Optimizers own their state (velocity, moments) keyed by parameter index,
// so a parameter list must be stable across Step calls - Network.Params
// guarantees that.
//
// ===========================================================================

// Optimizer updates parameters in place from their accumulated gradients.
// Step must be the only code path that mutates parameter values during
// training.
type Optimizer interface {
	Name() string
	Step(params []*Tensor, lr float64)
}

// GradientDescentMomentum implements SGD with momentum:
//
//	v = momentum·v - lr·(grad + weightDecay·param)
//	param += v
//
// With Nesterov enabled the update applies the velocity lookahead:
//
//	param += momentum·v - lr·grad̃
//
// Momentum 0 reduces to plain SGD.
type GradientDescentMomentum struct {
	Momentum    float64
	WeightDecay float64
	Nesterov    bool

	velocity [][]float64 // one slice per parameter, lazily sized
}

// NewGradientDescentMomentum creates the optimizer. momentum and
// weightDecay of 0 are valid (plain SGD).
func NewGradientDescentMomentum(momentum, weightDecay float64) *GradientDescentMomentum {
	return &GradientDescentMomentum{Momentum: momentum, WeightDecay: weightDecay}
}

func (o *GradientDescentMomentum) Name() string {
	if o.Nesterov {
		return "nesterov-momentum"
	}
	return "gradient-descent-momentum"
}

// Step applies one momentum update to every parameter.
func (o *GradientDescentMomentum) Step(params []*Tensor, lr float64) {
	if o.velocity == nil {
		o.velocity = make([][]float64, len(params))
		for i, p := range params {
			o.velocity[i] = make([]float64, len(p.data))
		}
	}

	for i, p := range params {
		v := o.velocity[i]
		for j := range p.data {
			grad := p.grad[j] + o.WeightDecay*p.data[j]
			v[j] = o.Momentum*v[j] - lr*grad

			if o.Nesterov {
				p.data[j] += o.Momentum*v[j] - lr*grad
			} else {
				p.data[j] += v[j]
			}
		}
	}
}

// Adam implements the Adam optimizer (Kingma & Ba, 2015):
//
//	m = beta1·m + (1-beta1)·grad        first moment
//	s = beta2·s + (1-beta2)·grad²       second moment
//	m̂ = m / (1 - beta1^t)               bias correction
//	ŝ = s / (1 - beta2^t)
//	param -= lr · m̂ / (sqrt(ŝ) + eps)
type Adam struct {
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64

	m [][]float64
	s [][]float64
	t int
}

// NewAdam creates an Adam optimizer with the conventional defaults for any
// zero-valued field: beta1 0.9, beta2 0.999, epsilon 1e-8.
func NewAdam(beta1, beta2, epsilon, weightDecay float64) *Adam {
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	if epsilon == 0 {
		epsilon = 1e-8
	}
	return &Adam{Beta1: beta1, Beta2: beta2, Epsilon: epsilon, WeightDecay: weightDecay}
}

func (o *Adam) Name() string { return "adam" }

// Step applies one Adam update to every parameter.
func (o *Adam) Step(params []*Tensor, lr float64) {
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.s = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, len(p.data))
			o.s[i] = make([]float64, len(p.data))
		}
	}

	o.t++
	bias1 := 1.0 - math.Pow(o.Beta1, float64(o.t))
	bias2 := 1.0 - math.Pow(o.Beta2, float64(o.t))

	for i, p := range params {
		m, s := o.m[i], o.s[i]
		for j := range p.data {
			grad := p.grad[j] + o.WeightDecay*p.data[j]

			m[j] = o.Beta1*m[j] + (1.0-o.Beta1)*grad
			s[j] = o.Beta2*s[j] + (1.0-o.Beta2)*grad*grad

			mHat := m[j] / bias1
			sHat := s[j] / bias2

			p.data[j] -= lr * mHat / (math.Sqrt(sHat) + o.Epsilon)
		}
	}
}

// ClipGradients scales all gradients down so their global L2 norm does not
// exceed maxNorm. A blown-up batch then costs one slow step instead of a
// diverged run. Returns the pre-clip norm.
func ClipGradients(params []*Tensor, maxNorm float64) float64 {
	norm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			norm += g * g
		}
	}
	norm = math.Sqrt(norm)

	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}

	return norm
}
