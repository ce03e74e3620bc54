package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicd/internal/generate"
	"clinicd/internal/onnx"
	"clinicd/internal/tokenizer"
)

// Summarizer condenses cleaned clinical text. The pipeline only talks to
// this interface; the device decides which implementation backs it.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Close() error
}

// defaultSummaryPrefix is the T5 task prefix used by the raw path.
const defaultSummaryPrefix = "summarize: "

// summaryParams are the decoding settings shared by both summarizers.
type summaryParams struct {
	prefix   string
	maxInput int
	pad      int
	beam     generate.BeamParams
}

// encode tokenizes prefix+text and cuts it to the encoder's input window.
func (p summaryParams) encode(tok tokenizer.Tokenizer, text string) ([]int, error) {
	ids, err := tok.Encode(p.prefix+text, true)
	if err != nil {
		return nil, err
	}
	return tokenizer.TruncateHead(ids, p.maxInput, true), nil
}

// beamDecode runs beam search against encoder row of enc.
func beamDecode(ctx context.Context, model onnx.Seq2Seq, enc *onnx.EncoderState, row int, p generate.BeamParams) ([]int, error) {
	step := func(ctx context.Context, prefixes [][]int) ([][]float32, error) {
		rows := make([]int, len(prefixes))
		for i := range rows {
			rows[i] = row
		}
		return model.DecodeStep(ctx, enc, rows, prefixes)
	}
	return generate.BeamSearch(ctx, step, p)
}

// rawSummarizer drives the seq2seq model directly, one request at a time.
// Used on Metal and CPU.
type rawSummarizer struct {
	model  onnx.Seq2Seq
	tok    tokenizer.Tokenizer
	params summaryParams
}

func (s *rawSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	ids, err := s.params.encode(s.tok, text)
	if err != nil {
		return "", err
	}
	enc, err := s.model.Encode(ctx, [][]int{ids}, s.params.pad)
	if err != nil {
		return "", err
	}
	out, err := beamDecode(ctx, s.model, enc, 0, s.params.beam)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s.tok.Decode(out, true)), nil
}

func (s *rawSummarizer) Close() error { return s.model.Close() }

// batchSummarizer groups concurrent requests so the encoder runs once per
// batch. Used on CUDA.
type batchSummarizer struct {
	model  onnx.Seq2Seq
	tok    tokenizer.Tokenizer
	params summaryParams
	size   int
	window time.Duration
	log    zerolog.Logger

	jobs     chan summaryJob
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type summaryJob struct {
	ctx  context.Context
	ids  []int
	resp chan summaryResult
}

type summaryResult struct {
	text string
	err  error
}

var errSummarizerClosed = errors.New("summarizer closed")

func newBatchSummarizer(model onnx.Seq2Seq, tok tokenizer.Tokenizer, params summaryParams, size int, window time.Duration, log zerolog.Logger) *batchSummarizer {
	if size <= 0 {
		size = 1
	}
	s := &batchSummarizer{
		model:  model,
		tok:    tok,
		params: params,
		size:   size,
		window: window,
		log:    log,
		jobs:   make(chan summaryJob),
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *batchSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	ids, err := s.params.encode(s.tok, text)
	if err != nil {
		return "", err
	}
	job := summaryJob{ctx: ctx, ids: ids, resp: make(chan summaryResult, 1)}
	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.stop:
		return "", errSummarizerClosed
	}
	select {
	case r := <-job.resp:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *batchSummarizer) loop() {
	defer s.wg.Done()
	for {
		var first summaryJob
		select {
		case first = <-s.jobs:
		case <-s.stop:
			return
		}
		batch := s.collect(first)
		s.run(batch)
	}
}

// collect gathers up to size jobs arriving within window of the first.
func (s *batchSummarizer) collect(first summaryJob) []summaryJob {
	batch := []summaryJob{first}
	if s.size == 1 {
		return batch
	}
	timer := time.NewTimer(s.window)
	defer timer.Stop()
	for len(batch) < s.size {
		select {
		case j := <-s.jobs:
			batch = append(batch, j)
		case <-timer.C:
			return batch
		case <-s.stop:
			return batch
		}
	}
	return batch
}

func (s *batchSummarizer) run(batch []summaryJob) {
	live := batch[:0:0]
	for _, j := range batch {
		if err := j.ctx.Err(); err != nil {
			j.resp <- summaryResult{err: err}
			continue
		}
		live = append(live, j)
	}
	if len(live) == 0 {
		return
	}
	inputs := make([][]int, len(live))
	for i, j := range live {
		inputs[i] = j.ids
	}
	// The encoder pass is shared, so it is only bounded by shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()
	enc, err := s.model.Encode(ctx, inputs, s.params.pad)
	if err != nil {
		for _, j := range live {
			j.resp <- summaryResult{err: err}
		}
		return
	}
	s.log.Debug().Int("batch", len(live)).Msg("summarizer batch encoded")
	for row, j := range live {
		out, err := beamDecode(j.ctx, s.model, enc, row, s.params.beam)
		if err != nil {
			j.resp <- summaryResult{err: err}
			continue
		}
		j.resp <- summaryResult{text: strings.TrimSpace(s.tok.Decode(out, true))}
	}
}

// Close stops the batching goroutine and releases the model.
func (s *batchSummarizer) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.model.Close()
}
