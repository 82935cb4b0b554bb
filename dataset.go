package main

/*
WHAT'S GOING ON HERE?

This file defines ImageSet, the in-memory form every dataset is loaded
into before training. An ImageSet is deliberately dumb: a flat slice of
raw uint8 pixels (channel-major planes, one block per sample), a label
per sample, and the class names. No tensors, no normalization, no
augmentation.

Keeping the raw bytes around matters for two reasons:
1. Memory. MNIST is 47 MB as uint8 but 375 MB as float64. The float
   conversion happens per batch inside BatchIterator, so only one
   batch of float64 data is alive at a time.
2. Augmentation. Random crops and flips operate on images, not
   tensors. Uint8 planes convert to image.Image and back without
   rounding drift.

WHERE THIS SITS:
- mnist.go, cifar10.go and manifest.go produce ImageSets
- iterator.go consumes them, producing shuffled, normalized batches
- ingest (manifest.go) round-trips them to PNG files on disk
*/

import "fmt"

// ImageSet is a labeled image dataset held fully in memory.
//
// Pixels stores one channels*height*width block of uint8 values per
// sample, channel-major: all of channel 0's rows, then channel 1's,
// and so on. Grayscale sets have channels = 1.
type ImageSet struct {
	Name    string
	Classes []string
	Shape   []int // per-sample shape: (channels, height, width)
	Pixels  []uint8
	Labels  []int
}

// NewImageSet creates an empty dataset with the given per-sample shape.
// Shape must be (channels, height, width) with positive dimensions.
func NewImageSet(name string, shape []int, classes []string) *ImageSet {
	if len(shape) != 3 {
		panic(fmt.Sprintf("dataset: sample shape must be (channels, height, width), got %v", shape))
	}
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("dataset: sample shape dimensions must be positive, got %v", shape))
		}
	}
	return &ImageSet{
		Name:    name,
		Classes: append([]string(nil), classes...),
		Shape:   append([]int(nil), shape...),
	}
}

// Len returns the number of samples.
func (s *ImageSet) Len() int { return len(s.Labels) }

// SampleSize returns the number of pixels per sample.
func (s *ImageSet) SampleSize() int { return s.Shape[0] * s.Shape[1] * s.Shape[2] }

// Add appends one sample. The pixel slice is copied. Length and label
// range are programmer contracts: parsers validate file contents before
// calling Add, so a violation here is a bug, not bad data.
func (s *ImageSet) Add(pixels []uint8, label int) {
	if len(pixels) != s.SampleSize() {
		panic(fmt.Sprintf("dataset: sample has %d pixels, want %d", len(pixels), s.SampleSize()))
	}
	if label < 0 || (len(s.Classes) > 0 && label >= len(s.Classes)) {
		panic(fmt.Sprintf("dataset: label %d out of range [0, %d)", label, len(s.Classes)))
	}
	s.Pixels = append(s.Pixels, pixels...)
	s.Labels = append(s.Labels, label)
}

// Sample returns the raw pixel block for sample i. The returned slice
// aliases the dataset's storage.
func (s *ImageSet) Sample(i int) []uint8 {
	n := s.SampleSize()
	return s.Pixels[i*n : (i+1)*n]
}

// Label returns the class index for sample i.
func (s *ImageSet) Label(i int) int { return s.Labels[i] }

// Head returns a view of the first n samples, sharing storage with the
// original set. Useful for quick runs and feature extraction.
func (s *ImageSet) Head(n int) *ImageSet {
	if n > s.Len() {
		n = s.Len()
	}
	return &ImageSet{
		Name:    s.Name,
		Classes: s.Classes,
		Shape:   s.Shape,
		Pixels:  s.Pixels[:n*s.SampleSize()],
		Labels:  s.Labels[:n],
	}
}

// ChannelMeans computes the mean pixel value per channel over the whole
// set, in the scaled [0, 1] domain. BatchIterator subtracts these when
// mean centering is enabled.
func (s *ImageSet) ChannelMeans() []float64 {
	channels := s.Shape[0]
	plane := s.Shape[1] * s.Shape[2]
	sums := make([]float64, channels)
	for i := 0; i < s.Len(); i++ {
		px := s.Sample(i)
		for c := 0; c < channels; c++ {
			for p := 0; p < plane; p++ {
				sums[c] += float64(px[c*plane+p])
			}
		}
	}
	total := float64(s.Len() * plane)
	means := make([]float64, channels)
	for c := range sums {
		means[c] = sums[c] / total / 255.0
	}
	return means
}

// String summarizes the set for log lines and CLI output.
func (s *ImageSet) String() string {
	return fmt.Sprintf("%s: %d samples, %dx%dx%d, %d classes",
		s.Name, s.Len(), s.Shape[0], s.Shape[1], s.Shape[2], len(s.Classes))
}

// LoadDataset loads a named dataset, downloading it into dir when the
// files are not already cached. Recognized names are "mnist" and
// "cifar10"; anything else is treated as a directory produced by the
// ingest command.
func LoadDataset(name, dir string) (train, test *ImageSet, err error) {
	switch name {
	case "mnist":
		return LoadMNIST(dir)
	case "cifar10":
		return LoadCIFAR10(dir)
	default:
		return LoadManifestDataset(name)
	}
}
