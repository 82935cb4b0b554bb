package main

import (
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Network.Fit is the training driver: the one call that turns a dataset and
// a recipe into trained parameters. Everything the rest of the codebase
// builds culminates in this call, so the loop is written to be read:
//
//	for each epoch:
//	    reshuffle the training set
//	    for each batch:
//	        lr    = schedule(base, epoch, step)
//	        zero gradients
//	        loss, dL/dlogits = cost(forward(x), labels)
//	        backward(dL/dlogits)
//	        clip gradients
//	        optimizer.Step(params, lr)
//	    end-of-epoch callbacks (validation, checkpoint, early stop, ...)
//
// Parameters change in exactly one place: optimizer.Step. The forward and
// backward passes only read parameters and write gradients. Everything else
// a run does (printing, plotting, saving) happens in callbacks, described
// in callback.go.
//
// INTENTION: determinism. Given the same seed, the same data, and the same
// config, two runs produce bit-identical parameters: shuffling, weight init,
// and dropout all draw from rand.Rand sources fixed at construction, and
// the loop itself introduces no other randomness.
//
// ===========================================================================

// FitConfig configures a training run. Zero values get sensible defaults:
// SoftmaxCrossEntropy cost, momentum-0.9 SGD, constant schedule.
type FitConfig struct {
	Epochs       int
	LearningRate float64

	Cost      Cost      // default SoftmaxCrossEntropy
	Optimizer Optimizer // default GradientDescentMomentum{0.9, 0}
	Schedule  Schedule  // default ConstantSchedule

	// ClipNorm caps the global gradient norm before each step; 0 disables
	// clipping.
	ClipNorm float64

	// MaxSteps stops the run after this many optimizer steps, mid-epoch if
	// necessary; 0 means no cap. Handy for smoke tests and benchmarks.
	MaxSteps int

	Callbacks []Callback
}

// Fit trains the network on train for cfg.Epochs passes. When valid is
// non-nil, validation loss and misclassification are computed at the end of
// every epoch and fed to the callbacks; when nil, validation is skipped
// entirely. Returns the completed run.
func (n *Network) Fit(train, valid *BatchIterator, cfg FitConfig) (*TrainRun, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("fit: epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("fit: learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.Cost == nil {
		cfg.Cost = SoftmaxCrossEntropy{}
	}
	if cfg.Optimizer == nil {
		cfg.Optimizer = NewGradientDescentMomentum(0.9, 0)
	}
	if cfg.Schedule == nil {
		cfg.Schedule = ConstantSchedule{}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("fit: failed to generate run id: %w", err)
	}
	n.RunID = id.String()

	run := &TrainRun{
		ID:        n.RunID,
		Net:       n,
		Optimizer: cfg.Optimizer,
		Schedule:  cfg.Schedule,
		Epochs:    cfg.Epochs,
		Batches:   train.Batches(),
	}

	// The eval callback runs first so later callbacks (checkpoint-best,
	// early stop, progress) see the validation numbers it fills in.
	callbacks := cfg.Callbacks
	if valid != nil {
		callbacks = append([]Callback{&EvalCallback{Iter: valid, Cost: cfg.Cost}}, callbacks...)
	}

	zlog.Infow("training started",
		"run_id", run.ID,
		"epochs", cfg.Epochs,
		"batches_per_epoch", run.Batches,
		"params", n.NumParams(),
		"optimizer", cfg.Optimizer.Name(),
		"schedule", cfg.Schedule.Name(),
		"base_lr", cfg.LearningRate)

	params := n.Params()
	step := 0

	for _, cb := range callbacks {
		cb.TrainBegin(run)
	}

	for epoch := 0; epoch < cfg.Epochs && !run.Stop; epoch++ {
		epochStart := time.Now()
		train.Reset()

		lossSum := 0.0
		batches := 0

		for batch := 0; ; batch++ {
			x, labels, ok := train.Next()
			if !ok {
				break
			}

			lr := cfg.Schedule.LearningRate(cfg.LearningRate, epoch, step)

			n.ZeroGrad()
			logits := n.Forward(x, true)
			loss, grad := cfg.Cost.Loss(logits, labels)
			n.Backward(grad)

			norm := ClipGradients(params, cfg.ClipNorm)
			cfg.Optimizer.Step(params, lr)

			lossSum += loss
			batches++

			stats := BatchStats{
				Epoch:        epoch,
				Batch:        batch,
				Step:         step,
				Loss:         loss,
				LearningRate: lr,
				GradNorm:     norm,
			}
			step++

			for _, cb := range callbacks {
				cb.BatchEnd(run, stats)
			}

			if cfg.MaxSteps > 0 && step >= cfg.MaxSteps {
				run.Stop = true
				run.StopReason = fmt.Sprintf("reached max steps (%d)", cfg.MaxSteps)
			}
			if run.Stop {
				break
			}
		}

		epochStats := EpochStats{
			Epoch:      epoch,
			Step:       step,
			TrainLoss:  math.NaN(),
			ValidLoss:  math.NaN(),
			ValidError: math.NaN(),
			Elapsed:    time.Since(epochStart),
		}
		if batches > 0 {
			epochStats.TrainLoss = lossSum / float64(batches)
		}

		for _, cb := range callbacks {
			cb.EpochEnd(run, &epochStats)
		}

		zlog.Infow("epoch finished",
			"run_id", run.ID,
			"epoch", epoch+1,
			"train_loss", epochStats.TrainLoss,
			"valid_loss", epochStats.ValidLoss,
			"valid_error", epochStats.ValidError,
			"elapsed", epochStats.Elapsed)
	}

	for _, cb := range callbacks {
		cb.TrainEnd(run)
	}

	zlog.Infow("training finished", "run_id", run.ID, "steps", step, "reason", run.StopReason)
	return run, nil
}
