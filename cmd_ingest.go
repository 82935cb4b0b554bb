package main

import (
	"flag"
	"fmt"
	"path/filepath"
)

// RunIngestCommand implements the ingest subcommand: materialize a dataset
// as PNG files plus manifests, the directory layout the loaders accept in
// place of a named dataset. Exists so you can eyeball the actual training
// images, and as the template for bringing your own labeled data.
func RunIngestCommand(args []string) error {
	cfg, err := LoadConfig(configFlagValue(args))
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fs.String("config", "", "config file (yaml/toml/json), read before other flags")

	dataset := fs.String("dataset", cfg.Data.Dataset, "dataset to materialize: mnist or cifar10")
	dataDir := fs.String("data-dir", cfg.Data.Dir, "cache directory for downloaded datasets")
	out := fs.String("out", "", "output directory (required)")
	limit := fs.Int("limit", 0, "cap the number of samples per split, 0 writes all")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("ingest: -out is required")
	}

	trainSet, testSet, err := LoadDataset(*dataset, *dataDir)
	if err != nil {
		return err
	}
	if *limit > 0 {
		trainSet = trainSet.Head(*limit)
		testSet = testSet.Head(*limit)
	}

	fmt.Printf("Ingesting %q into %s\n", *dataset, *out)
	for _, split := range []struct {
		name string
		set  *ImageSet
	}{
		{"train", trainSet},
		{"test", testSet},
	} {
		dir := filepath.Join(*out, split.name)
		if err := IngestImageSet(split.set, dir); err != nil {
			return err
		}
		fmt.Printf("  %s: %d images -> %s\n", split.name, split.set.Len(), dir)
	}
	if err := WriteClassList(filepath.Join(*out, "classes.txt"), trainSet.Classes); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Load it back with:")
	fmt.Printf("  go run . train -dataset %s\n", *out)
	return nil
}
