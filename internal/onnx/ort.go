//go:build ort

package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"clinicd/internal/device"
)

// Built reports whether this binary links ONNX Runtime.
const Built = true

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes ONNX Runtime once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Shutdown releases the ONNX Runtime environment.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func newSessionOptions(opts Options) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	if opts.Threads > 0 {
		if err := so.SetIntraOpNumThreads(opts.Threads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}
	switch opts.Provider {
	case device.ProviderCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			so.Destroy()
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		if err := so.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	case device.ProviderCoreML:
		if err := so.AppendExecutionProviderCoreML(0); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("append coreml provider: %w", err)
		}
	}
	return so, nil
}

func openSession(path string, inputs, outputs []string, opts Options) (*ort.DynamicAdvancedSession, error) {
	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx runtime init: %w", err)
	}
	so, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer so.Destroy()
	s, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, so)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

func inputNames(path string) (map[string]bool, error) {
	ins, _, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	out := make(map[string]bool, len(ins))
	for _, in := range ins {
		out[in.Name] = true
	}
	return out, nil
}

func destroyAll(vs []ort.Value) {
	for _, v := range vs {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

func float32Output(v ort.Value) (*ort.Tensor[float32], error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", v)
	}
	return t, nil
}

type ortClassifier struct {
	mu         sync.Mutex
	sess       *ort.DynamicAdvancedSession
	tokenTypes bool
	numLabels  int
}

// OpenClassifier opens dir/model.onnx. numLabels is the expected class count.
func OpenClassifier(dir string, numLabels int, opts Options) (SequenceClassifier, error) {
	path := FindONNXFile(dir, classifierFiles)
	if path == "" {
		return nil, fmt.Errorf("no classifier graph in %s", dir)
	}
	names, err := inputNames(path)
	if err != nil {
		return nil, err
	}
	in := []string{"input_ids", "attention_mask"}
	if names["token_type_ids"] {
		in = append(in, "token_type_ids")
	}
	sess, err := openSession(path, in, []string{"logits"}, opts)
	if err != nil {
		return nil, err
	}
	return &ortClassifier{sess: sess, tokenTypes: names["token_type_ids"], numLabels: numLabels}, nil
}

func (c *ortClassifier) NumLabels() int { return c.numLabels }

func (c *ortClassifier) Logits(ctx context.Context, ids []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("empty input")
	}
	idv, mask, seq := padBatch([][]int{ids}, 0)
	shape := ort.NewShape(1, int64(seq))
	inputs := make([]ort.Value, 0, 3)
	defer func() { destroyAll(inputs) }()
	idT, err := ort.NewTensor(shape, idv)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, idT)
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, maskT)
	if c.tokenTypes {
		ttT, err := ort.NewTensor(shape, make([]int64, seq))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, ttT)
	}
	outputs := []ort.Value{nil}
	c.mu.Lock()
	err = c.sess.Run(inputs, outputs)
	c.mu.Unlock()
	defer destroyAll(outputs)
	if err != nil {
		return nil, fmt.Errorf("classifier run: %w", err)
	}
	logits, err := float32Output(outputs[0])
	if err != nil {
		return nil, err
	}
	data := logits.GetData()
	if c.numLabels > 0 && len(data) != c.numLabels {
		return nil, fmt.Errorf("classifier returned %d logits, want %d", len(data), c.numLabels)
	}
	return append([]float32(nil), data...), nil
}

func (c *ortClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	err := c.sess.Destroy()
	c.sess = nil
	return err
}

type ortSeq2Seq struct {
	mu      sync.Mutex
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
}

// OpenSeq2Seq opens the encoder and decoder graphs found in dir.
func OpenSeq2Seq(dir string, opts Options) (Seq2Seq, error) {
	encPath := FindONNXFile(dir, encoderFiles)
	decPath := FindONNXFile(dir, decoderFiles)
	if encPath == "" || decPath == "" {
		return nil, fmt.Errorf("encoder/decoder graphs not found in %s", dir)
	}
	enc, err := openSession(encPath, []string{"input_ids", "attention_mask"}, []string{"last_hidden_state"}, opts)
	if err != nil {
		return nil, err
	}
	dec, err := openSession(decPath,
		[]string{"input_ids", "encoder_attention_mask", "encoder_hidden_states"},
		[]string{"logits"}, opts)
	if err != nil {
		enc.Destroy()
		return nil, err
	}
	return &ortSeq2Seq{encoder: enc, decoder: dec}, nil
}

func (s *ortSeq2Seq) Encode(ctx context.Context, batch [][]int, pad int) (*EncoderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, errors.New("empty batch")
	}
	ids, mask, seq := padBatch(batch, pad)
	shape := ort.NewShape(int64(len(batch)), int64(seq))
	idT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, err
	}
	defer idT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()
	outputs := []ort.Value{nil}
	s.mu.Lock()
	err = s.encoder.Run([]ort.Value{idT, maskT}, outputs)
	s.mu.Unlock()
	defer destroyAll(outputs)
	if err != nil {
		return nil, fmt.Errorf("encoder run: %w", err)
	}
	hidden, err := float32Output(outputs[0])
	if err != nil {
		return nil, err
	}
	dims := hidden.GetShape()
	if len(dims) != 3 {
		return nil, fmt.Errorf("encoder output rank %d, want 3", len(dims))
	}
	return &EncoderState{
		Hidden: append([]float32(nil), hidden.GetData()...),
		Batch:  int(dims[0]),
		Seq:    int(dims[1]),
		Dim:    int(dims[2]),
		Mask:   mask,
	}, nil
}

func (s *ortSeq2Seq) DecodeStep(ctx context.Context, enc *EncoderState, rows []int, prefixes [][]int) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) != len(prefixes) || len(prefixes) == 0 {
		return nil, fmt.Errorf("decode: %d rows for %d prefixes", len(rows), len(prefixes))
	}
	n := len(prefixes)
	plen := len(prefixes[0])
	ids := make([]int64, 0, n*plen)
	for _, p := range prefixes {
		if len(p) != plen {
			return nil, errors.New("decode: prefixes differ in length")
		}
		for _, id := range p {
			ids = append(ids, int64(id))
		}
	}
	hidden, mask := tileRows(enc, rows)

	inputs := make([]ort.Value, 0, 3)
	defer func() { destroyAll(inputs) }()
	idT, err := ort.NewTensor(ort.NewShape(int64(n), int64(plen)), ids)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, idT)
	maskT, err := ort.NewTensor(ort.NewShape(int64(n), int64(enc.Seq)), mask)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, maskT)
	hT, err := ort.NewTensor(ort.NewShape(int64(n), int64(enc.Seq), int64(enc.Dim)), hidden)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, hT)

	outputs := []ort.Value{nil}
	s.mu.Lock()
	err = s.decoder.Run(inputs, outputs)
	s.mu.Unlock()
	defer destroyAll(outputs)
	if err != nil {
		return nil, fmt.Errorf("decoder run: %w", err)
	}
	logits, err := float32Output(outputs[0])
	if err != nil {
		return nil, err
	}
	dims := logits.GetShape()
	if len(dims) != 3 {
		return nil, fmt.Errorf("decoder output rank %d, want 3", len(dims))
	}
	vocab := int(dims[2])
	data := logits.GetData()
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		// last position of row i
		off := (i*plen + plen - 1) * vocab
		out[i] = append([]float32(nil), data[off:off+vocab]...)
	}
	return out, nil
}

func (s *ortSeq2Seq) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.encoder != nil {
		errs = append(errs, s.encoder.Destroy())
		s.encoder = nil
	}
	if s.decoder != nil {
		errs = append(errs, s.decoder.Destroy())
		s.decoder = nil
	}
	return errors.Join(errs...)
}
