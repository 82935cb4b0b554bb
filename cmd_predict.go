package main

import (
	"flag"
	"fmt"
)

// RunPredictCommand implements the predict subcommand: classify one image
// with a trained checkpoint. The image may be a local file or an http(s)
// URL; it is resized to the network's input shape and preprocessed exactly
// as training data was.
func RunPredictCommand(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)

	checkpoint := fs.String("checkpoint", "", "trained checkpoint (required)")
	imageSrc := fs.String("image", "", "image to classify: file path or http(s) URL (required)")
	top := fs.Int("top", 5, "number of classes to list")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return fmt.Errorf("predict: -checkpoint is required")
	}
	if *imageSrc == "" {
		return fmt.Errorf("predict: -image is required")
	}

	net, err := LoadNetwork(*checkpoint)
	if err != nil {
		return err
	}
	img, err := LoadInputImage(*imageSrc)
	if err != nil {
		return err
	}
	pred, err := net.ClassifyImage(img)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s (%.1f%%)\n", *imageSrc, pred.Class, pred.Confidence*100)
	fmt.Println()
	for i, p := range pred.TopPredictions() {
		if *top > 0 && i >= *top {
			break
		}
		fmt.Printf("  %-12s %6.2f%%  %s\n", p.Class, p.Prob*100, probBar(p.Prob, 40))
	}

	return nil
}

// probBar renders a probability as a fixed-width text bar for the console.
func probBar(p float64, width int) string {
	fill := int(p*float64(width) + 0.5)
	if fill > width {
		fill = width
	}
	bar := make([]byte, width)
	for i := range bar {
		if i < fill {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return string(bar)
}
