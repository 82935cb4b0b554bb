package main

import (
	"flag"
	"fmt"
)

// RunEvaluateCommand implements the evaluate subcommand: load a checkpoint,
// walk a dataset split through it in inference mode, and report loss and
// error rates. The checkpoint carries its own preprocessing (the training
// means), so the numbers here match what the training run reported.
func RunEvaluateCommand(args []string) error {
	cfg, err := LoadConfig(configFlagValue(args))
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	fs.String("config", "", "config file (yaml/toml/json), read before other flags")

	checkpoint := fs.String("checkpoint", "", "trained checkpoint to evaluate (required)")
	dataset := fs.String("dataset", cfg.Data.Dataset, "dataset: mnist, cifar10, or an ingested directory")
	dataDir := fs.String("data-dir", cfg.Data.Dir, "cache directory for downloaded datasets")
	split := fs.String("split", "test", "split to evaluate: test or train")
	batch := fs.Int("batch", cfg.Backend.BatchSize, "batch size")
	topK := fs.Int("top-k", 0, "additionally report top-K error, 0 disables")
	limit := fs.Int("limit", 0, "cap the number of samples, 0 uses all")
	backendName := fs.String("backend", cfg.Backend.Name, "compute backend: cpu or cuda")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return fmt.Errorf("evaluate: -checkpoint is required")
	}

	if _, err := GenBackend(*backendName, *batch); err != nil {
		return err
	}

	net, err := LoadNetwork(*checkpoint)
	if err != nil {
		return err
	}

	trainSet, testSet, err := LoadDataset(*dataset, *dataDir)
	if err != nil {
		return err
	}
	var set *ImageSet
	switch *split {
	case "test":
		set = testSet
	case "train":
		set = trainSet
	default:
		return fmt.Errorf("evaluate: unknown split %q (want test or train)", *split)
	}
	if *limit > 0 {
		set = set.Head(*limit)
	}
	if !shapeEqual(net.InputShape(), set.Shape) {
		return fmt.Errorf("evaluate: checkpoint expects input shape %v, dataset %q provides %v",
			net.InputShape(), *dataset, set.Shape)
	}

	it, err := NewEvalIterator(set, *batch, true, net.Means)
	if err != nil {
		return err
	}

	fmt.Printf("Evaluating %s on %s\n", *checkpoint, set)
	loss, errRate := evalLossAndError(net, it, SoftmaxCrossEntropy{})
	fmt.Printf("  loss      %.4f\n", loss)
	fmt.Printf("  error     %.2f%%\n", errRate*100)
	fmt.Printf("  accuracy  %.2f%%\n", (1-errRate)*100)
	if *topK > 1 {
		topErr := net.TopKMisclassification(it, *topK)
		fmt.Printf("  top-%d error %.2f%%\n", *topK, topErr*100)
	}

	return nil
}
