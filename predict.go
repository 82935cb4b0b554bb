package main

/*
WHAT'S GOING ON HERE?

Single-image inference: take an arbitrary image file, squeeze it into
the network's input shape, and classify it. Used by both the predict
command and the HTTP server.

The preprocessing must mirror training exactly or accuracy silently
collapses: resize to the trained resolution (Lanczos resampling),
grayscale conversion when the network expects one channel, scale by
1/255, and subtract the per-channel training means the checkpoint
carries. A photo of a cat fed to an MNIST model still classifies; it
is just confidently wrong, which is its own kind of educational.
*/

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"
	"strings"

	"github.com/nfnt/resize"
)

// Prediction is the result of classifying one image.
type Prediction struct {
	Class       string             `json:"class"`
	Confidence  float64            `json:"confidence"`
	Predictions map[string]float64 `json:"predictions"`
}

// ClassifyImage classifies one image, resizing and normalizing it to
// match the network's training setup.
func (n *Network) ClassifyImage(img image.Image) (*Prediction, error) {
	shape := n.InputShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("predict: network input shape %v is not (channels, height, width)", shape)
	}
	c, h, w := shape[0], shape[1], shape[2]
	plane := h * w

	resized := resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	planes := make([]uint8, c*plane)
	imageToPlanes(resized, shape, planes)

	x := NewTensor(1, c, h, w)
	for j, v := range planes {
		f := float64(v) / 255.0
		if n.Means != nil {
			f -= n.Means[j/plane]
		}
		x.data[j] = f
	}

	probs := n.Predict(x)
	classes := probs.Shape()[1]

	best := 0
	predictions := make(map[string]float64, classes)
	for i := 0; i < classes; i++ {
		p := probs.At(0, i)
		predictions[n.ClassName(i)] = p
		if p > probs.At(0, best) {
			best = i
		}
	}

	return &Prediction{
		Class:       n.ClassName(best),
		Confidence:  probs.At(0, best),
		Predictions: predictions,
	}, nil
}

// TopPredictions returns the prediction map sorted by descending
// probability, for printing.
func (p *Prediction) TopPredictions() []struct {
	Class string
	Prob  float64
} {
	out := make([]struct {
		Class string
		Prob  float64
	}, 0, len(p.Predictions))
	for class, prob := range p.Predictions {
		out = append(out, struct {
			Class string
			Prob  float64
		}{class, prob})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Prob != out[j].Prob {
			return out[i].Prob > out[j].Prob
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// LoadInputImage reads an image from a local path or an http(s) URL.
func LoadInputImage(src string) (image.Image, error) {
	var data []byte
	var err error
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		data, err = fetchBytes(newDownloadClient(), src)
	} else {
		data, err = os.ReadFile(src)
		if err != nil {
			err = fmt.Errorf("read %s: %w", src, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return decodeImage(data)
}

// decodeImage decodes PNG, JPEG, or GIF bytes.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
