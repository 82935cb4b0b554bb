package main

/*
WHAT'S GOING ON HERE?

Evaluation passes over a dataset: mean loss, misclassification rate,
and top-k misclassification. These run the network in inference mode
(dropout off, batchnorm using running statistics) and never touch
gradients, so they are safe to call mid-training from callbacks.

All three walk a BatchIterator once. Iterators hand out uneven final
batches, so totals are weighted by actual batch size rather than
assuming every batch is full.
*/

import "math"

// EvaluateLoss computes the mean per-sample cost over every batch the
// iterator yields. The iterator is reset first, so repeated calls see
// the full set each time.
func (n *Network) EvaluateLoss(it *BatchIterator, cost Cost) float64 {
	it.Reset()
	total := 0.0
	count := 0
	for {
		x, labels, ok := it.Next()
		if !ok {
			break
		}
		logits := n.Forward(x, false)
		loss, _ := cost.Loss(logits, labels)
		total += loss * float64(len(labels))
		count += len(labels)
	}
	if count == 0 {
		return math.NaN()
	}
	return total / float64(count)
}

// Misclassification returns the fraction of samples whose highest
// scoring class differs from the label, in [0, 1].
func (n *Network) Misclassification(it *BatchIterator) float64 {
	return n.TopKMisclassification(it, 1)
}

// TopKMisclassification returns the fraction of samples whose label is
// not among the k highest scoring classes. k = 1 is the ordinary error
// rate; k = 5 gives the top-5 error often reported for larger label
// sets.
func (n *Network) TopKMisclassification(it *BatchIterator, k int) float64 {
	if k < 1 {
		panic("evaluate: top-k requires k >= 1")
	}
	it.Reset()
	wrong := 0
	count := 0
	for {
		x, labels, ok := it.Next()
		if !ok {
			break
		}
		logits := n.Forward(x, false)
		cols := logits.Shape()[1]
		for r := range labels {
			if !labelInTopK(logits, r, cols, labels[r], k) {
				wrong++
			}
		}
		count += len(labels)
	}
	if count == 0 {
		return math.NaN()
	}
	return float64(wrong) / float64(count)
}

// labelInTopK reports whether label ranks among the k largest entries
// of row r. Softmax is monotone, so ranking logits and ranking
// probabilities give the same answer.
func labelInTopK(logits *Tensor, r, cols, label, k int) bool {
	if k >= cols {
		return true
	}
	target := logits.At(r, label)
	higher := 0
	for c := 0; c < cols; c++ {
		if c == label {
			continue
		}
		if logits.At(r, c) > target {
			higher++
			if higher >= k {
				return false
			}
		}
	}
	return true
}

// evalLossAndError computes mean loss and top-1 error rate in a single
// pass. EvalCallback uses this at every epoch end, where walking the
// validation set twice would double the cost.
func evalLossAndError(n *Network, it *BatchIterator, cost Cost) (float64, float64) {
	it.Reset()
	totalLoss := 0.0
	wrong := 0
	count := 0
	for {
		x, labels, ok := it.Next()
		if !ok {
			break
		}
		logits := n.Forward(x, false)
		loss, _ := cost.Loss(logits, labels)
		totalLoss += loss * float64(len(labels))

		for i, label := range labels {
			if ArgMaxRow(logits, i) != label {
				wrong++
			}
		}
		count += len(labels)
	}
	if count == 0 {
		return math.NaN(), math.NaN()
	}
	return totalLoss / float64(count), float64(wrong) / float64(count)
}
