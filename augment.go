package main

/*
WHAT'S GOING ON HERE?

Data augmentation: random, label-preserving distortions applied to
training images so the network never sees the exact same input twice.
Two classics are implemented here:

- Random horizontal flip. A mirrored cat is still a cat. (Not true for
  digits, so MNIST trains without it.)
- Pad-and-crop. Zero-pad the image by a few pixels, then crop back to
  the original size at a random offset. The network sees the subject
  shifted a couple of pixels in a random direction each epoch.

INTENTION: augmentation belongs to the training iterator only. The
evaluation path must see images exactly as they are stored, otherwise
reported error rates measure the wrong distribution. NewEvalIterator
never attaches an Augmenter, so evaluation stays clean by construction.

Augmenting happens on image.Image values rather than float tensors:
the disintegration/imaging ops are written for images, and uint8
round-trips are exact.
*/

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Augmenter applies random distortions to one training sample at a
// time. The zero value applies nothing.
type Augmenter struct {
	// FlipH mirrors the image left-right with probability 1/2.
	FlipH bool
	// Pad zero-pads by this many pixels on every side, then crops back
	// to the original size at a random offset. 0 disables.
	Pad int
}

func (a *Augmenter) active() bool {
	return a != nil && (a.FlipH || a.Pad > 0)
}

// Apply returns a distorted copy of one sample. The input slice is
// never written: it usually aliases the dataset's backing storage.
func (a *Augmenter) Apply(px []uint8, shape []int, rng *rand.Rand) []uint8 {
	img := planesToImage(px, shape)

	if a.FlipH && rng.Intn(2) == 1 {
		img = imaging.FlipH(img)
	}
	if a.Pad > 0 {
		h, w := shape[1], shape[2]
		canvas := imaging.New(w+2*a.Pad, h+2*a.Pad, color.NRGBA{0, 0, 0, 255})
		canvas = imaging.Paste(canvas, img, image.Pt(a.Pad, a.Pad))
		dx := rng.Intn(2*a.Pad + 1)
		dy := rng.Intn(2*a.Pad + 1)
		img = imaging.Crop(canvas, image.Rect(dx, dy, dx+w, dy+h))
	}

	out := make([]uint8, len(px))
	imageToPlanes(img, shape, out)
	return out
}

// planesToImage converts channel-major uint8 planes into an NRGBA
// image. Grayscale samples replicate their single channel.
func planesToImage(px []uint8, shape []int) *image.NRGBA {
	c, h, w := shape[0], shape[1], shape[2]
	plane := h * w
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			var r, g, b uint8
			if c == 1 {
				v := px[i]
				r, g, b = v, v, v
			} else {
				r, g, b = px[i], px[plane+i], px[2*plane+i]
			}
			img.SetNRGBA(x, y, color.NRGBA{r, g, b, 255})
		}
	}
	return img
}

// imageToPlanes fills dst with channel-major planes read from src,
// which must already have the target height and width. One-channel
// shapes get the standard luminance conversion.
func imageToPlanes(src image.Image, shape []int, dst []uint8) {
	c, h, w := shape[0], shape[1], shape[2]
	b := src.Bounds()
	if b.Dx() != w || b.Dy() != h {
		panic("augment: image size does not match sample shape")
	}

	img := imaging.Clone(src) // normalizes to NRGBA with origin (0, 0)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			px := img.NRGBAAt(x, y)
			if c == 1 {
				dst[i] = color.GrayModel.Convert(px).(color.Gray).Y
			} else {
				dst[i] = px.R
				dst[plane+i] = px.G
				dst[2*plane+i] = px.B
			}
		}
	}
}
