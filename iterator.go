package main

/*
WHAT'S GOING ON HERE?

BatchIterator turns an ImageSet into the stream of (tensor, labels)
pairs the training loop consumes. This is where raw uint8 pixels become
float64 values: scaling by 1/255, per-channel mean centering, and
augmentation all happen here, one batch at a time, so the full float
copy of the dataset never exists in memory.

EPOCH SEMANTICS:
- Reset starts a new epoch. With Shuffle on, it draws a fresh
  permutation from the iterator's own seeded generator, so a run with
  a fixed seed visits batches in a reproducible order.
- Every sample appears exactly once per epoch. The final batch is
  short when the set's size is not a multiple of the batch size;
  DropLast discards it instead, which keeps batch statistics uniform
  (some batchnorm setups prefer that).

The iterator owns a rand.Rand. Augmentation draws from it too, so a
seeded training run is deterministic end to end.
*/

import (
	"fmt"
	"math/rand"
	"time"
)

// BatchOptions configures a BatchIterator.
type BatchOptions struct {
	// BatchSize is the number of samples per batch. Required.
	BatchSize int
	// Shuffle draws a new sample order on every Reset.
	Shuffle bool
	// Scale divides pixel values by 255, mapping them into [0, 1].
	Scale bool
	// CenterMean subtracts the per-channel dataset mean from every
	// pixel. Centering operates on scaled values, so enabling it
	// turns Scale on.
	CenterMean bool
	// Means overrides the centering means (scaled domain). Evaluation
	// iterators pass the training set's means here so both splits see
	// the same transform; nil computes them from this set.
	Means []float64
	// DropLast discards the final short batch of an epoch.
	DropLast bool
	// Augment, when set, distorts each training sample. Evaluation
	// iterators must leave this nil.
	Augment *Augmenter
	// Seed fixes the shuffle and augmentation generator. 0 seeds from
	// the clock.
	Seed int64
}

// BatchIterator yields shuffled, normalized batches from an ImageSet.
type BatchIterator struct {
	set     *ImageSet
	opts    BatchOptions
	rng     *rand.Rand
	indices []int
	pos     int
	means   []float64 // per-channel, scaled domain; nil unless centering
}

// NewBatchIterator validates the options and builds an iterator. The
// set must be non-empty.
func NewBatchIterator(set *ImageSet, opts BatchOptions) (*BatchIterator, error) {
	if set.Len() == 0 {
		return nil, fmt.Errorf("iterator: dataset %q is empty", set.Name)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("iterator: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.CenterMean {
		opts.Scale = true
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	it := &BatchIterator{
		set:     set,
		opts:    opts,
		rng:     rand.New(rand.NewSource(seed)),
		indices: make([]int, set.Len()),
	}
	for i := range it.indices {
		it.indices[i] = i
	}
	if opts.CenterMean {
		switch {
		case len(opts.Means) == 0:
			it.means = set.ChannelMeans()
		case len(opts.Means) != set.Shape[0]:
			return nil, fmt.Errorf("iterator: got %d means for %d channels", len(opts.Means), set.Shape[0])
		default:
			it.means = opts.Means
		}
	}
	return it, nil
}

// NewEvalIterator builds the iterator used for loss and error
// measurement: sequential order, full coverage, no augmentation.
// Non-nil means enables centering with exactly those values, so
// evaluation sees the same transform training did.
func NewEvalIterator(set *ImageSet, batchSize int, scale bool, means []float64) (*BatchIterator, error) {
	return NewBatchIterator(set, BatchOptions{
		BatchSize:  batchSize,
		Scale:      scale,
		CenterMean: len(means) > 0,
		Means:      means,
	})
}

// Len returns the number of samples in the underlying set.
func (it *BatchIterator) Len() int { return it.set.Len() }

// Batches returns the number of batches one epoch yields.
func (it *BatchIterator) Batches() int {
	n := it.set.Len()
	if it.opts.DropLast {
		return n / it.opts.BatchSize
	}
	return (n + it.opts.BatchSize - 1) / it.opts.BatchSize
}

// Classes returns the class names of the underlying set.
func (it *BatchIterator) Classes() []string { return it.set.Classes }

// InputShape returns the per-sample tensor shape (channels, height,
// width).
func (it *BatchIterator) InputShape() []int {
	return append([]int(nil), it.set.Shape...)
}

// Reset starts a new epoch, reshuffling when configured.
func (it *BatchIterator) Reset() {
	it.pos = 0
	if it.opts.Shuffle {
		it.rng.Shuffle(len(it.indices), func(i, j int) {
			it.indices[i], it.indices[j] = it.indices[j], it.indices[i]
		})
	}
}

// Next returns the next batch as a (batch, channels, height, width)
// tensor plus its labels. ok is false once the epoch is exhausted.
func (it *BatchIterator) Next() (x *Tensor, labels []int, ok bool) {
	remaining := len(it.indices) - it.pos
	if remaining <= 0 {
		return nil, nil, false
	}
	bs := it.opts.BatchSize
	if remaining < bs {
		if it.opts.DropLast {
			return nil, nil, false
		}
		bs = remaining
	}

	c, h, w := it.set.Shape[0], it.set.Shape[1], it.set.Shape[2]
	plane := h * w
	sample := c * plane
	x = NewTensor(bs, c, h, w)
	labels = make([]int, bs)

	for b := 0; b < bs; b++ {
		idx := it.indices[it.pos+b]
		px := it.set.Sample(idx)
		if it.opts.Augment.active() {
			px = it.opts.Augment.Apply(px, it.set.Shape, it.rng)
		}

		base := b * sample
		for j, v := range px {
			f := float64(v)
			if it.opts.Scale {
				f /= 255.0
			}
			if it.means != nil {
				f -= it.means[j/plane]
			}
			x.data[base+j] = f
		}
		labels[b] = it.set.Label(idx)
	}

	it.pos += bs
	return x, labels, true
}
