package main

import (
	"flag"
	"fmt"
)

// RunFeaturesCommand implements the features subcommand: push a sample of
// images through a trained network, take the activations feeding the final
// classifier, project them to 2D with PCA, and write an HTML scatter plot.
// On a trained network the classes separate into visible clusters; on an
// untrained one the plot is noise, which makes this a satisfying before and
// after comparison.
func RunFeaturesCommand(args []string) error {
	cfg, err := LoadConfig(configFlagValue(args))
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("features", flag.ExitOnError)
	fs.String("config", "", "config file (yaml/toml/json), read before other flags")

	checkpoint := fs.String("checkpoint", "", "trained checkpoint (required)")
	dataset := fs.String("dataset", cfg.Data.Dataset, "dataset: mnist, cifar10, or an ingested directory")
	dataDir := fs.String("data-dir", cfg.Data.Dir, "cache directory for downloaded datasets")
	split := fs.String("split", "test", "split to sample: test or train")
	samples := fs.Int("samples", 2000, "number of images to project")
	batch := fs.Int("batch", cfg.Backend.BatchSize, "batch size for the forward passes")
	out := fs.String("out", "features.html", "output HTML file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return fmt.Errorf("features: -checkpoint is required")
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
		return fmt.Errorf("features: unknown split %q (want test or train)", *split)
	}
	set = set.Head(*samples)
	if !shapeEqual(net.InputShape(), set.Shape) {
		return fmt.Errorf("features: checkpoint expects input shape %v, dataset %q provides %v",
			net.InputShape(), *dataset, set.Shape)
	}

	it, err := NewEvalIterator(set, *batch, true, net.Means)
	if err != nil {
		return err
	}

	fmt.Printf("Extracting features from %d images with %s\n", set.Len(), *checkpoint)
	features, labels, err := collectFeatures(net, it)
	if err != nil {
		return err
	}
	fmt.Printf("  feature dimension %d, projecting to 2D with PCA\n", features.Shape()[1])

	points, err := PCA(features)
	if err != nil {
		return err
	}
	if err := FeatureScatterHTML(points, labels, set.Classes, *out); err != nil {
		return err
	}

	fmt.Printf("  wrote %s\n", *out)
	return nil
}

// collectFeatures walks the iterator once and stacks per-batch feature
// matrices into a single (samples, features) tensor.
func collectFeatures(net *Network, it *BatchIterator) (*Tensor, []int, error) {
	it.Reset()

	var rows []*Tensor
	var labels []int
	dim := 0
	total := 0
	for {
		x, batchLabels, ok := it.Next()
		if !ok {
			break
		}
		f := net.Features(x)
		if dim == 0 {
			dim = f.Shape()[1]
		}
		rows = append(rows, f)
		labels = append(labels, batchLabels...)
		total += f.Shape()[0]
	}
	if total == 0 {
		return nil, nil, fmt.Errorf("features: iterator yielded no samples")
	}

	out := NewTensor(total, dim)
	offset := 0
	for _, f := range rows {
		copy(out.data[offset:], f.data)
		offset += len(f.data)
	}
	return out, labels, nil
}
