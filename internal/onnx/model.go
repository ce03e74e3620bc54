// Package onnx runs encoder-style models (sequence classifiers and
// encoder-decoder summarizers) through ONNX Runtime.
package onnx

import (
	"context"
	"errors"

	"clinicd/internal/device"
)

// ErrUnavailable is returned when the binary was built without ONNX Runtime.
var ErrUnavailable = errors.New("onnx runtime support not built (missing 'ort' build tag)")

// Options configure session creation.
type Options struct {
	Provider    device.Provider
	Threads     int
	LibraryPath string
}

// SequenceClassifier maps a token sequence to one logit per class.
type SequenceClassifier interface {
	Logits(ctx context.Context, ids []int) ([]float32, error)
	NumLabels() int
	Close() error
}

// EncoderState is the host-side encoder output for a batch.
// Hidden is laid out [batch, seq, dim].
type EncoderState struct {
	Hidden []float32
	Batch  int
	Seq    int
	Dim    int
	Mask   []int64
}

// Row returns the hidden states and mask of one batch row.
func (e *EncoderState) Row(i int) ([]float32, []int64) {
	h := e.Seq * e.Dim
	return e.Hidden[i*h : (i+1)*h], e.Mask[i*e.Seq : (i+1)*e.Seq]
}

// Seq2Seq is an encoder-decoder language model.
type Seq2Seq interface {
	// Encode runs the encoder over a batch of id sequences, padding with pad.
	Encode(ctx context.Context, batch [][]int, pad int) (*EncoderState, error)
	// DecodeStep returns next-token logits for each prefix. rows[i] selects
	// the encoder row prefix i attends to. All prefixes share one length.
	DecodeStep(ctx context.Context, enc *EncoderState, rows []int, prefixes [][]int) ([][]float32, error)
	Close() error
}

// padBatch right-pads sequences to a common length and builds the mask.
func padBatch(batch [][]int, pad int) (ids, mask []int64, seq int) {
	for _, b := range batch {
		if len(b) > seq {
			seq = len(b)
		}
	}
	ids = make([]int64, len(batch)*seq)
	mask = make([]int64, len(batch)*seq)
	for r, b := range batch {
		for c := 0; c < seq; c++ {
			if c < len(b) {
				ids[r*seq+c] = int64(b[c])
				mask[r*seq+c] = 1
			} else {
				ids[r*seq+c] = int64(pad)
			}
		}
	}
	return ids, mask, seq
}

// tileRows gathers encoder rows into a new batch, one per hypothesis.
func tileRows(enc *EncoderState, rows []int) (hidden []float32, mask []int64) {
	hidden = make([]float32, 0, len(rows)*enc.Seq*enc.Dim)
	mask = make([]int64, 0, len(rows)*enc.Seq)
	for _, r := range rows {
		h, m := enc.Row(r)
		hidden = append(hidden, h...)
		mask = append(mask, m...)
	}
	return hidden, mask
}
