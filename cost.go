package main

import (
	"fmt"
	"math"
)

// Cost scores a batch of network outputs against integer class labels and
// produces the gradient that starts backpropagation. Loss returns the mean
// per-example loss and dL/d(logits), both for a (batch, classes) tensor.
type Cost interface {
	Name() string
	Loss(logits *Tensor, labels []int) (float64, *Tensor)
}

// SoftmaxCrossEntropy is the standard multiclass classification cost,
// fused with the softmax the network popped off its layer stack.
//
// Computing log(softmax(x)) directly overflows for large logits, so the
// loss uses the log-sum-exp identity:
//
//	loss = logsumexp(x) - x[label]
//
// and the fused gradient collapses to the famously tidy
//
//	dL/dx = softmax(x) - onehot(label)
//
// divided by the batch size, since the loss is the batch mean.
type SoftmaxCrossEntropy struct{}

func (SoftmaxCrossEntropy) Name() string { return "softmax cross-entropy" }

// Loss computes the mean cross-entropy and its gradient in one pass.
// Panics on malformed shapes or out-of-range labels - those are bugs in
// the caller, not data conditions.
func (SoftmaxCrossEntropy) Loss(logits *Tensor, labels []int) (float64, *Tensor) {
	if len(logits.shape) != 2 {
		panic("cost: SoftmaxCrossEntropy expects 2D logits")
	}

	batch, classes := logits.shape[0], logits.shape[1]
	if len(labels) != batch {
		panic(fmt.Sprintf("cost: %d labels for batch of %d", len(labels), batch))
	}

	grad := NewTensor(batch, classes)
	inv := 1.0 / float64(batch)
	total := 0.0

	for b := 0; b < batch; b++ {
		label := labels[b]
		if label < 0 || label >= classes {
			panic(fmt.Sprintf("cost: label %d out of [0, %d)", label, classes))
		}

		row := b * classes

		// Stable log-sum-exp: shift by the row max before exponentiating.
		maxVal := logits.data[row]
		for c := 1; c < classes; c++ {
			if v := logits.data[row+c]; v > maxVal {
				maxVal = v
			}
		}

		sumExp := 0.0
		for c := 0; c < classes; c++ {
			e := math.Exp(logits.data[row+c] - maxVal)
			grad.data[row+c] = e // reuse as scratch; normalized below
			sumExp += e
		}

		total += maxVal + math.Log(sumExp) - logits.data[row+label]

		// grad = (probabilities - onehot) / batch
		for c := 0; c < classes; c++ {
			grad.data[row+c] = grad.data[row+c] / sumExp * inv
		}
		grad.data[row+label] -= inv
	}

	return total * inv, grad
}
