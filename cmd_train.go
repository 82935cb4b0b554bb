package main

import (
	"flag"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The train command: dataset in, checkpoint and training curves out. This is
// the CLI face of Network.Fit and the run every walkthrough builds toward:
//
//	go run . train -dataset mnist                      # the two-layer MLP
//	go run . train -dataset cifar10 -model convnet     # the VGG-style stack
//	go run . train -dataset cifar10 -model resnet \
//	    -epochs 80 -schedule step -schedule-breaks 40,60
//
// INTENTION:
// Every hyperparameter is a flag with a sane default, layered over the
// config file and environment (config.go), so the quick-start commands above
// work bare while a real experiment can pin everything. The run directory
// collects what a run produces: the best checkpoint and an HTML plot of the
// training curves.
//
// The test split doubles as the validation set, evaluated at the end of
// every epoch - the classic tutorial arrangement. The reported "valid error"
// is therefore test error; there is no third held-out split.
//
// ===========================================================================

// RunTrainCommand implements the train subcommand.
func RunTrainCommand(args []string) error {
	cfg, err := LoadConfig(configFlagValue(args))
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("train", flag.ExitOnError)
	fs.String("config", "", "config file (yaml/toml/json), read before other flags")

	dataset := fs.String("dataset", cfg.Data.Dataset, "dataset: mnist, cifar10, or an ingested directory")
	dataDir := fs.String("data-dir", cfg.Data.Dir, "cache directory for downloaded datasets")
	model := fs.String("model", "", "model recipe: mlp, convnet, or resnet (default picked per dataset)")
	resnetN := fs.Int("resnet-n", 3, "residual blocks per stage for -model resnet (depth 6n+2)")

	epochs := fs.Int("epochs", cfg.Train.Epochs, "training epochs")
	batch := fs.Int("batch", cfg.Backend.BatchSize, "batch size")
	lr := fs.Float64("lr", cfg.Train.LearningRate, "base learning rate")
	momentum := fs.Float64("momentum", cfg.Train.Momentum, "sgd momentum")
	wdecay := fs.Float64("weight-decay", cfg.Train.WeightDecay, "L2 weight decay")
	clip := fs.Float64("clip-norm", cfg.Train.ClipNorm, "max global gradient norm, 0 disables clipping")
	seed := fs.Int64("seed", cfg.Train.Seed, "random seed for init, shuffle and augmentation; 0 seeds from the clock")
	optName := fs.String("optimizer", "sgd", "optimizer: sgd, nesterov, or adam")

	schedName := fs.String("schedule", "", "lr schedule: constant, step, or cosine (default: step when breakpoints are set)")
	schedBreaks := fs.String("schedule-breaks", intListString(cfg.Train.ScheduleBreaks), "step schedule epoch breakpoints, e.g. 40,60")
	schedFactor := fs.Float64("schedule-factor", cfg.Train.ScheduleFactor, "step schedule multiplier applied at each breakpoint")

	backendName := fs.String("backend", cfg.Backend.Name, "compute backend: cpu or cuda")
	noAugment := fs.Bool("no-augment", false, "disable training-time augmentation")
	limit := fs.Int("limit", 0, "cap the number of samples per split, 0 uses all (smoke runs)")
	maxSteps := fs.Int("max-steps", 0, "stop after N optimizer steps, 0 disables (smoke runs)")
	patience := fs.Int("patience", 0, "stop early after N epochs without validation improvement, 0 disables")
	every := fs.Int("progress-every", 100, "print a progress line every N batches, 0 disables")
	runsDir := fs.String("runs-dir", cfg.Runs.Dir, "directory for run artifacts (checkpoint, curves)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	backend, err := GenBackend(*backendName, *batch)
	if err != nil {
		return err
	}
	fmt.Printf("Backend: %s (%s)\n\n", backend.Name, backend.Device)

	fmt.Printf("Step 1: Loading dataset %q\n", *dataset)
	trainSet, testSet, err := LoadDataset(*dataset, *dataDir)
	if err != nil {
		return err
	}
	if *limit > 0 {
		trainSet = trainSet.Head(*limit)
		testSet = testSet.Head(*limit)
	}
	fmt.Printf("  train %s\n", trainSet)
	fmt.Printf("  test  %s\n", testSet)
	fmt.Println()

	// Color sets get the photographic treatment: mean centering plus
	// flip-and-crop augmentation. Grayscale digit sets get neither - a
	// mirrored "5" is not a "5".
	color := trainSet.Shape[0] == 3
	var means []float64
	if color {
		means = trainSet.ChannelMeans()
	}
	var aug *Augmenter
	if color && !*noAugment {
		aug = &Augmenter{FlipH: true, Pad: 4}
	}

	trainIt, err := NewBatchIterator(trainSet, BatchOptions{
		BatchSize:  *batch,
		Shuffle:    true,
		Scale:      true,
		CenterMean: color,
		Means:      means,
		Augment:    aug,
		Seed:       *seed,
	})
	if err != nil {
		return err
	}
	validIt, err := NewEvalIterator(testSet, *batch, true, means)
	if err != nil {
		return err
	}

	modelName := *model
	if modelName == "" {
		modelName = DefaultModelFor(*dataset)
	}
	fmt.Printf("Step 2: Building model %q\n", modelName)
	specs, err := BuildModel(modelName, *resnetN)
	if err != nil {
		return err
	}
	net, err := NewNetwork(trainIt.InputShape(), specs, *seed)
	if err != nil {
		return err
	}
	net.ClassNames = trainIt.Classes()
	net.Means = means
	fmt.Println(net.Summary())

	optimizer, err := buildOptimizer(*optName, *momentum, *wdecay)
	if err != nil {
		return err
	}
	breaks, err := parseIntList(*schedBreaks)
	if err != nil {
		return fmt.Errorf("train: bad -schedule-breaks: %w", err)
	}
	schedule, err := buildSchedule(*schedName, breaks, *schedFactor, *epochs*trainIt.Batches())
	if err != nil {
		return err
	}

	runDir := filepath.Join(*runsDir, fmt.Sprintf("%s-%s", *dataset, modelName))
	if err := EnsureDir(runDir); err != nil {
		return err
	}
	checkpointPath := filepath.Join(runDir, "checkpoint.bin")
	historyPath := filepath.Join(runDir, "history.html")

	history := NewTrainingHistory()
	callbacks := []Callback{
		&HistoryCallback{History: history},
		&CheckpointCallback{Path: checkpointPath, BestOnly: true},
		&ProgressCallback{Every: *every},
	}
	if *patience > 0 {
		callbacks = append(callbacks, &EarlyStopCallback{Patience: *patience, MinDelta: 0.0001})
	}

	fmt.Println("Step 3: Training")
	cost := SoftmaxCrossEntropy{}
	_, err = net.Fit(trainIt, validIt, FitConfig{
		Epochs:       *epochs,
		LearningRate: *lr,
		Cost:         cost,
		Optimizer:    optimizer,
		Schedule:     schedule,
		ClipNorm:     *clip,
		MaxSteps:     *maxSteps,
		Callbacks:    callbacks,
	})
	if err != nil {
		return err
	}
	fmt.Println()

	// The checkpoint on disk holds the best epoch; the numbers below
	// describe the final state of the run.
	fmt.Println("Step 4: Final evaluation on the test split")
	testLoss, testErr := evalLossAndError(net, validIt, cost)
	fmt.Printf("  test loss %.4f | test error %.2f%%", testLoss, testErr*100)
	if best := history.BestValidError(); !math.IsNaN(best) && best < testErr {
		fmt.Printf(" (best epoch: %.2f%%)", best*100)
	}
	fmt.Println()

	if err := history.SaveHTML(historyPath); err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Checkpoint: %s\n", checkpointPath)
	fmt.Printf("Curves:     %s\n", historyPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  go run . evaluate -checkpoint %s -dataset %s\n", checkpointPath, *dataset)
	fmt.Printf("  go run . predict -checkpoint %s -image <path or url>\n", checkpointPath)
	fmt.Printf("  go run . serve -checkpoint %s\n", checkpointPath)

	return nil
}

func buildOptimizer(name string, momentum, weightDecay float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewGradientDescentMomentum(momentum, weightDecay), nil
	case "nesterov":
		o := NewGradientDescentMomentum(momentum, weightDecay)
		o.Nesterov = true
		return o, nil
	case "adam":
		return NewAdam(0, 0, 0, weightDecay), nil
	default:
		return nil, fmt.Errorf("train: unknown optimizer %q (want sgd, nesterov, or adam)", name)
	}
}

// buildSchedule resolves the schedule flags. An empty name picks the step
// schedule when breakpoints were given and constant otherwise, so the
// common cases need one flag, not two.
func buildSchedule(name string, breaks []int, factor float64, totalSteps int) (Schedule, error) {
	if name == "" {
		if len(breaks) > 0 {
			name = "step"
		} else {
			name = "constant"
		}
	}
	switch name {
	case "constant":
		return ConstantSchedule{}, nil
	case "step":
		if len(breaks) == 0 {
			return nil, fmt.Errorf("train: step schedule needs -schedule-breaks")
		}
		return StepSchedule{Breakpoints: breaks, Gamma: factor}, nil
	case "cosine":
		return WarmupCosineSchedule{
			WarmupSteps: totalSteps / 20,
			TotalSteps:  totalSteps,
		}, nil
	default:
		return nil, fmt.Errorf("train: unknown schedule %q (want constant, step, or cosine)", name)
	}
}

// parseIntList parses "40,60" into {40, 60}. Empty input is an empty list.
func parseIntList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func intListString(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
