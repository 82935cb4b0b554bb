package main

import "math"

// Schedule maps training progress to a learning rate. epoch counts from 0
// and advances per pass over the data; step counts from 0 and advances per
// batch. Schedules are stateless so a restarted run resumes at the same
// rate it left off.
type Schedule interface {
	Name() string
	LearningRate(base float64, epoch, step int) float64
}

// ConstantSchedule keeps the base learning rate for the whole run. The
// default when no schedule is configured.
type ConstantSchedule struct{}

func (ConstantSchedule) Name() string { return "constant" }

func (ConstantSchedule) LearningRate(base float64, epoch, step int) float64 {
	return base
}

// StepSchedule multiplies the base rate by Gamma at each epoch breakpoint.
// Breakpoints {40, 60} with Gamma 0.1 gives base·1 until epoch 40, base·0.1
// until epoch 60, base·0.01 after. The classic residual-network recipe.
type StepSchedule struct {
	Breakpoints []int
	Gamma       float64
}

func (s StepSchedule) Name() string { return "step" }

func (s StepSchedule) LearningRate(base float64, epoch, step int) float64 {
	lr := base
	for _, bp := range s.Breakpoints {
		if epoch >= bp {
			lr *= s.Gamma
		}
	}
	return lr
}

// WarmupCosineSchedule ramps linearly from 0 to the base rate over
// WarmupSteps batches, then decays along a half cosine to MinRate at
// TotalSteps. Warmup keeps the first updates small while batchnorm
// statistics and Adam moments are still garbage.
type WarmupCosineSchedule struct {
	WarmupSteps int
	TotalSteps  int
	MinRate     float64
}

func (s WarmupCosineSchedule) Name() string { return "warmup-cosine" }

func (s WarmupCosineSchedule) LearningRate(base float64, epoch, step int) float64 {
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		return base * float64(step+1) / float64(s.WarmupSteps)
	}
	if s.TotalSteps <= s.WarmupSteps {
		return base
	}
	progress := float64(step-s.WarmupSteps) / float64(s.TotalSteps-s.WarmupSteps)
	if progress > 1 {
		progress = 1
	}
	cosine := 0.5 * (1 + math.Cos(math.Pi*progress))
	return s.MinRate + (base-s.MinRate)*cosine
}
