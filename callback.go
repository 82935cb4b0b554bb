package main

import (
	"fmt"
	"math"
	"time"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Callbacks are how a training run reports progress and reacts to it without
// the fit loop growing a flag for every behavior. The loop stays small: it
// iterates batches and invokes hooks. Everything observable about a run -
// console progress, validation metrics, checkpoints, plots, early stopping -
// is a callback.
//
// Hooks fire in a fixed order per epoch:
//
//	TrainBegin                once, before the first batch
//	BatchEnd                  after every optimizer step
//	EpochEnd                  after the last batch of each epoch
//	TrainEnd                  once, after the final epoch or early stop
//
// EpochEnd receives *EpochStats so callbacks can enrich it: EvalCallback
// fills in validation loss and error, and callbacks registered after it
// (checkpoint-best, early stop, the progress printer) read those fields.
// Registration order is therefore meaningful; the fit loop prepends the
// eval callback so the others always see fresh numbers.
//
// A callback asks for the run to end by setting run.Stop. The loop checks
// the flag between batches and between epochs.
//
// ===========================================================================

// TrainRun is the shared state of one training run, passed to every
// callback hook. Callbacks may set Stop to end the run after the current
// batch.
type TrainRun struct {
	ID         string // UUID, also recorded in checkpoints saved by the run
	Net        *Network
	Optimizer  Optimizer
	Schedule   Schedule
	Epochs     int // requested epochs
	Batches    int // batches per epoch
	Stop       bool
	StopReason string
}

// BatchStats describes one completed optimizer step.
type BatchStats struct {
	Epoch        int // 0-based
	Batch        int // 0-based index within the epoch
	Step         int // global 0-based step counter
	Loss         float64
	LearningRate float64
	GradNorm     float64 // pre-clip global gradient norm
}

// EpochStats describes one completed epoch. ValidLoss and ValidError are
// NaN unless an EvalCallback (or the caller) fills them in.
type EpochStats struct {
	Epoch      int
	Step       int // global step count at epoch end
	TrainLoss  float64
	ValidLoss  float64
	ValidError float64
	Elapsed    time.Duration
}

// Callback observes a training run. Implementations embed NopCallback and
// override the hooks they care about.
type Callback interface {
	TrainBegin(run *TrainRun)
	BatchEnd(run *TrainRun, stats BatchStats)
	EpochEnd(run *TrainRun, stats *EpochStats)
	TrainEnd(run *TrainRun)
}

// NopCallback implements Callback with empty hooks, for embedding.
type NopCallback struct{}

func (NopCallback) TrainBegin(run *TrainRun)                  {}
func (NopCallback) BatchEnd(run *TrainRun, stats BatchStats)  {}
func (NopCallback) EpochEnd(run *TrainRun, stats *EpochStats) {}
func (NopCallback) TrainEnd(run *TrainRun)                    {}

// ---------------------------------------------------------------------------
// Progress printer
// ---------------------------------------------------------------------------

// ProgressCallback prints training progress to stdout: a line every Every
// batches and a summary line per epoch. This is the console output a reader
// watches during the tutorial runs, so it favors legibility over log
// structure.
type ProgressCallback struct {
	NopCallback
	Every int // batch lines every N batches; 0 disables batch lines

	start time.Time
}

func (cb *ProgressCallback) TrainBegin(run *TrainRun) {
	cb.start = time.Now()
	fmt.Printf("Training run %s\n", run.ID)
	fmt.Printf("  %s parameters, optimizer %s, schedule %s, %d epochs x %d batches\n",
		formatParamCount(run.Net.NumParams()), run.Optimizer.Name(), run.Schedule.Name(),
		run.Epochs, run.Batches)
}

func (cb *ProgressCallback) BatchEnd(run *TrainRun, stats BatchStats) {
	if cb.Every <= 0 || (stats.Batch+1)%cb.Every != 0 {
		return
	}
	fmt.Printf("  epoch %2d | batch %4d/%d | loss %.4f | lr %.5f | grad %.3f\n",
		stats.Epoch+1, stats.Batch+1, run.Batches, stats.Loss, stats.LearningRate, stats.GradNorm)
}

func (cb *ProgressCallback) EpochEnd(run *TrainRun, stats *EpochStats) {
	line := fmt.Sprintf("epoch %2d/%d | train loss %.4f", stats.Epoch+1, run.Epochs, stats.TrainLoss)
	if !math.IsNaN(stats.ValidLoss) {
		line += fmt.Sprintf(" | valid loss %.4f", stats.ValidLoss)
	}
	if !math.IsNaN(stats.ValidError) {
		line += fmt.Sprintf(" | valid error %.2f%%", stats.ValidError*100)
	}
	line += fmt.Sprintf(" | %s", stats.Elapsed.Round(time.Millisecond))
	fmt.Println(line)
}

func (cb *ProgressCallback) TrainEnd(run *TrainRun) {
	fmt.Printf("Done in %s", time.Since(cb.start).Round(time.Second))
	if run.StopReason != "" {
		fmt.Printf(" (%s)", run.StopReason)
	}
	fmt.Println()
}

// formatParamCount renders 1234567 as "1.23M" for progress banners.
func formatParamCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// ---------------------------------------------------------------------------
// Validation evaluation
// ---------------------------------------------------------------------------

// EvalCallback runs the network over a validation iterator at the end of
// every epoch and fills EpochStats.ValidLoss and ValidError. Register it
// before any callback that reads those fields.
type EvalCallback struct {
	NopCallback
	Iter *BatchIterator
	Cost Cost
}

func (cb *EvalCallback) EpochEnd(run *TrainRun, stats *EpochStats) {
	loss, errRate := evalLossAndError(run.Net, cb.Iter, cb.Cost)
	stats.ValidLoss = loss
	stats.ValidError = errRate
}

// ---------------------------------------------------------------------------
// Checkpointing
// ---------------------------------------------------------------------------

// CheckpointCallback saves the network to Path at the end of each epoch.
// With BestOnly set it saves only when validation error improves, so Path
// ends up holding the best model seen rather than the last one. A failed
// save is logged and skipped; it does not abort training.
type CheckpointCallback struct {
	NopCallback
	Path     string
	BestOnly bool

	best float64
}

func (cb *CheckpointCallback) TrainBegin(run *TrainRun) {
	cb.best = math.Inf(1)
}

func (cb *CheckpointCallback) EpochEnd(run *TrainRun, stats *EpochStats) {
	if cb.BestOnly {
		if math.IsNaN(stats.ValidError) || stats.ValidError >= cb.best {
			return
		}
		cb.best = stats.ValidError
	}
	if err := run.Net.Save(cb.Path); err != nil {
		zlog.Warnw("checkpoint save failed", "path", cb.Path, "error", err)
		return
	}
	zlog.Debugw("checkpoint saved", "path", cb.Path, "epoch", stats.Epoch+1)
}

// ---------------------------------------------------------------------------
// Metric history
// ---------------------------------------------------------------------------

// HistoryCallback records per-batch and per-epoch metrics into a
// TrainingHistory for plotting after the run.
type HistoryCallback struct {
	NopCallback
	History *TrainingHistory
}

func (cb *HistoryCallback) TrainBegin(run *TrainRun) {
	cb.History.RunID = run.ID
}

func (cb *HistoryCallback) BatchEnd(run *TrainRun, stats BatchStats) {
	cb.History.RecordBatch(stats.Step, stats.Epoch, stats.Loss, stats.LearningRate)
}

func (cb *HistoryCallback) EpochEnd(run *TrainRun, stats *EpochStats) {
	cb.History.RecordEpoch(stats.Epoch, stats.Step, stats.TrainLoss, stats.ValidLoss, stats.ValidError)
}

// ---------------------------------------------------------------------------
// Early stopping
// ---------------------------------------------------------------------------

// EarlyStopCallback stops the run when validation error has not improved by
// at least MinDelta for Patience consecutive epochs. It does nothing when
// no EvalCallback feeds it a validation error.
type EarlyStopCallback struct {
	NopCallback
	Patience int
	MinDelta float64

	best float64
	wait int
}

func (cb *EarlyStopCallback) TrainBegin(run *TrainRun) {
	cb.best = math.Inf(1)
	cb.wait = 0
}

func (cb *EarlyStopCallback) EpochEnd(run *TrainRun, stats *EpochStats) {
	if math.IsNaN(stats.ValidError) {
		return
	}
	if stats.ValidError < cb.best-cb.MinDelta {
		cb.best = stats.ValidError
		cb.wait = 0
		return
	}
	cb.wait++
	if cb.wait >= cb.Patience {
		run.Stop = true
		run.StopReason = fmt.Sprintf("early stop: no improvement for %d epochs (best %.2f%%)",
			cb.Patience, cb.best*100)
	}
}
