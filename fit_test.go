package main

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// twoBlobSet builds a linearly separable toy dataset: class 0 images are
// dark (pixels near 30), class 1 images bright (near 220), with a little
// jitter so batches are not degenerate.
func twoBlobSet(n int, seed int64) *ImageSet {
	s := NewImageSet("blobs", []int{1, 2, 2}, []string{"dark", "bright"})
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		base, label := 30, 0
		if i%2 == 1 {
			base, label = 220, 1
		}
		px := make([]uint8, 4)
		for j := range px {
			px[j] = uint8(base + rng.Intn(21))
		}
		s.Add(px, label)
	}
	return s
}

func blobNetwork(t *testing.T, seed int64) *Network {
	t.Helper()
	net, err := NewNetwork([]int{1, 2, 2}, []LayerSpec{
		Flatten{},
		Affine{Nout: 2, Init: Gaussian(0, 0.1), Activation: ActSoftmax},
	}, seed)
	if err != nil {
		t.Fatal(err)
	}
	return net
}

func blobIterator(t *testing.T, set *ImageSet, seed int64) *BatchIterator {
	t.Helper()
	it, err := NewBatchIterator(set, BatchOptions{
		BatchSize: 8,
		Shuffle:   true,
		Scale:     true,
		Seed:      seed,
	})
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func TestFitConverges(t *testing.T) {
	set := twoBlobSet(40, 1)
	net := blobNetwork(t, 5)

	history := NewTrainingHistory()
	run, err := net.Fit(blobIterator(t, set, 9), nil, FitConfig{
		Epochs:       15,
		LearningRate: 0.5,
		Callbacks:    []Callback{&HistoryCallback{History: history}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if run.ID == "" || net.RunID != run.ID {
		t.Errorf("run ID %q not recorded on the network (%q)", run.ID, net.RunID)
	}

	first := history.TrainLosses[0]
	last := history.TrainLosses[len(history.TrainLosses)-1]
	if !(last < first/2) {
		t.Errorf("loss barely moved: first epoch %.4f, last %.4f", first, last)
	}

	eval, err := NewEvalIterator(set, 8, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if errRate := net.Misclassification(eval); errRate != 0 {
		t.Errorf("misclassification = %.2f on a separable toy set, want 0", errRate)
	}
}

func TestFitDeterminism(t *testing.T) {
	train := func() *Network {
		net := blobNetwork(t, 21)
		_, err := net.Fit(blobIterator(t, twoBlobSet(40, 3), 17), nil, FitConfig{
			Epochs:       5,
			LearningRate: 0.3,
		})
		if err != nil {
			t.Fatal(err)
		}
		return net
	}

	a := train()
	b := train()
	for i, p := range a.Params() {
		if !tensorsEqual(p, b.Params()[i], 0) {
			t.Fatalf("param %d differs between identically seeded runs", i)
		}
	}
}

func TestFitConfigErrors(t *testing.T) {
	net := blobNetwork(t, 1)
	it := blobIterator(t, twoBlobSet(16, 1), 1)

	if _, err := net.Fit(it, nil, FitConfig{LearningRate: 0.1}); err == nil {
		t.Error("expected an error for zero epochs")
	}
	if _, err := net.Fit(it, nil, FitConfig{Epochs: 1}); err == nil {
		t.Error("expected an error for zero learning rate")
	}
}

func TestFitDefaults(t *testing.T) {
	net := blobNetwork(t, 1)
	run, err := net.Fit(blobIterator(t, twoBlobSet(16, 1), 1), nil, FitConfig{
		Epochs:       1,
		LearningRate: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := run.Optimizer.(*GradientDescentMomentum); !ok {
		t.Errorf("default optimizer is %T", run.Optimizer)
	}
	if _, ok := run.Schedule.(ConstantSchedule); !ok {
		t.Errorf("default schedule is %T", run.Schedule)
	}
	if len(run.ID) != 36 {
		t.Errorf("run ID %q does not look like a UUID", run.ID)
	}
}

// recordingCallback captures hook invocations for order and count checks.
type recordingCallback struct {
	NopCallback
	begins  int
	batches int
	epochs  []EpochStats
	ends    int
}

func (cb *recordingCallback) TrainBegin(run *TrainRun)                 { cb.begins++ }
func (cb *recordingCallback) BatchEnd(run *TrainRun, stats BatchStats) { cb.batches++ }
func (cb *recordingCallback) EpochEnd(run *TrainRun, stats *EpochStats) {
	cb.epochs = append(cb.epochs, *stats)
}
func (cb *recordingCallback) TrainEnd(run *TrainRun) { cb.ends++ }

func TestFitValidationFillsEpochStats(t *testing.T) {
	set := twoBlobSet(40, 1)
	net := blobNetwork(t, 5)
	rec := &recordingCallback{}

	valid, err := NewEvalIterator(set, 8, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = net.Fit(blobIterator(t, set, 9), valid, FitConfig{
		Epochs:       2,
		LearningRate: 0.3,
		Callbacks:    []Callback{rec},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.begins != 1 || rec.ends != 1 {
		t.Errorf("TrainBegin/TrainEnd fired %d/%d times", rec.begins, rec.ends)
	}
	if rec.batches != 10 { // 2 epochs x ceil(40/8)
		t.Errorf("BatchEnd fired %d times, want 10", rec.batches)
	}
	if len(rec.epochs) != 2 {
		t.Fatalf("EpochEnd fired %d times, want 2", len(rec.epochs))
	}

	// The eval callback is prepended, so user callbacks see its numbers.
	for i, es := range rec.epochs {
		if math.IsNaN(es.ValidLoss) || math.IsNaN(es.ValidError) {
			t.Errorf("epoch %d: validation stats not filled in", i)
		}
		if math.IsNaN(es.TrainLoss) {
			t.Errorf("epoch %d: train loss missing", i)
		}
	}
}

func TestFitMaxSteps(t *testing.T) {
	net := blobNetwork(t, 1)
	rec := &recordingCallback{}

	run, err := net.Fit(blobIterator(t, twoBlobSet(40, 1), 1), nil, FitConfig{
		Epochs:       10,
		LearningRate: 0.1,
		MaxSteps:     3,
		Callbacks:    []Callback{rec},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !run.Stop {
		t.Error("run.Stop not set")
	}
	if !strings.Contains(run.StopReason, "max steps") {
		t.Errorf("StopReason = %q", run.StopReason)
	}
	if rec.batches != 3 {
		t.Errorf("took %d steps, want 3", rec.batches)
	}
}

func TestEarlyStopCallback(t *testing.T) {
	cb := &EarlyStopCallback{Patience: 2}
	run := &TrainRun{}
	cb.TrainBegin(run)

	feed := func(errRate float64) {
		cb.EpochEnd(run, &EpochStats{ValidError: errRate, ValidLoss: errRate})
	}

	feed(0.50) // first observation becomes best
	feed(0.40) // improvement, wait resets
	feed(0.40) // no improvement, wait 1
	if run.Stop {
		t.Fatal("stopped before patience ran out")
	}
	feed(0.41) // no improvement, wait 2 -> stop
	if !run.Stop {
		t.Fatal("did not stop after patience epochs without improvement")
	}
	if !strings.Contains(run.StopReason, "early stop") {
		t.Errorf("StopReason = %q", run.StopReason)
	}
}

func TestEarlyStopIgnoresMissingValidation(t *testing.T) {
	cb := &EarlyStopCallback{Patience: 1}
	run := &TrainRun{}
	cb.TrainBegin(run)

	for i := 0; i < 5; i++ {
		cb.EpochEnd(run, &EpochStats{ValidError: math.NaN(), ValidLoss: math.NaN()})
	}
	if run.Stop {
		t.Error("early stop should be inert without validation numbers")
	}
}

func TestCheckpointCallbackBestOnly(t *testing.T) {
	net := blobNetwork(t, 1)
	path := filepath.Join(t.TempDir(), "best.ckpt")
	cb := &CheckpointCallback{Path: path, BestOnly: true}
	run := &TrainRun{Net: net}
	cb.TrainBegin(run)

	saved := func() bool {
		_, err := os.Stat(path)
		return err == nil
	}

	// NaN validation error: nothing to rank by, skip.
	cb.EpochEnd(run, &EpochStats{ValidError: math.NaN()})
	if saved() {
		t.Fatal("saved a checkpoint without a validation error")
	}

	cb.EpochEnd(run, &EpochStats{ValidError: 0.5})
	if !saved() {
		t.Fatal("first real validation error should save")
	}

	os.Remove(path)
	cb.EpochEnd(run, &EpochStats{ValidError: 0.6}) // worse: no save
	if saved() {
		t.Fatal("saved although validation error regressed")
	}

	cb.EpochEnd(run, &EpochStats{ValidError: 0.3}) // better: save again
	if !saved() {
		t.Fatal("improvement should save")
	}
}

func TestCheckpointCallbackAlways(t *testing.T) {
	net := blobNetwork(t, 1)
	path := filepath.Join(t.TempDir(), "last.ckpt")
	cb := &CheckpointCallback{Path: path}
	run := &TrainRun{Net: net}
	cb.TrainBegin(run)

	// Without BestOnly every epoch saves, validation or not.
	cb.EpochEnd(run, &EpochStats{ValidError: math.NaN()})
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected a checkpoint after the epoch")
	}
}

func TestHistoryCallback(t *testing.T) {
	h := NewTrainingHistory()
	cb := &HistoryCallback{History: h}
	run := &TrainRun{ID: "run-1"}

	cb.TrainBegin(run)
	cb.BatchEnd(run, BatchStats{Step: 0, Epoch: 0, Loss: 2.3, LearningRate: 0.1})
	cb.BatchEnd(run, BatchStats{Step: 1, Epoch: 0, Loss: 2.1, LearningRate: 0.1})
	cb.EpochEnd(run, &EpochStats{Epoch: 0, Step: 2, TrainLoss: 2.2, ValidLoss: 2.4, ValidError: 0.8, Elapsed: time.Second})

	if h.RunID != "run-1" {
		t.Errorf("RunID = %q", h.RunID)
	}
	if len(h.Steps) != 2 || h.Losses[1] != 2.1 {
		t.Errorf("batch series = %v / %v", h.Steps, h.Losses)
	}
	if len(h.EpochNumbers) != 1 || h.ValidErrors[0] != 0.8 {
		t.Errorf("epoch series not recorded: %v / %v", h.EpochNumbers, h.ValidErrors)
	}
}

func TestFormatParamCount(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{532, "532"},
		{1500, "1.5K"},
		{79510, "79.5K"},
		{2_340_000, "2.34M"},
	}
	for _, tt := range tests {
		if got := formatParamCount(tt.n); got != tt.want {
			t.Errorf("formatParamCount(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
