// Package generate holds the decoding math shared by the classifier and the
// summarizer: probability normalization and beam search.
package generate

import "math"

// Softmax converts logits into a probability distribution.
// It subtracts the max logit first so large values cannot overflow.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxv {
			maxv = float64(v)
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - maxv)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// LogSoftmax returns log probabilities.
func LogSoftmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxv {
			maxv = float64(v)
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxv)
	}
	lse := maxv + math.Log(sum)
	for i, v := range logits {
		out[i] = float64(v) - lse
	}
	return out
}

// Argmax returns the index of the largest value. Ties go to the lowest index;
// an empty slice yields -1.
func Argmax(xs []float64) int {
	if len(xs) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}
