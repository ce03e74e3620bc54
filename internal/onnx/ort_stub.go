//go:build !ort

package onnx

// Built reports whether this binary links ONNX Runtime.
const Built = false

// OpenClassifier fails in builds without ONNX Runtime.
func OpenClassifier(dir string, numLabels int, opts Options) (SequenceClassifier, error) {
	return nil, ErrUnavailable
}

// OpenSeq2Seq fails in builds without ONNX Runtime.
func OpenSeq2Seq(dir string, opts Options) (Seq2Seq, error) {
	return nil, ErrUnavailable
}

// Shutdown is a no-op without ONNX Runtime.
func Shutdown() error { return nil }
