package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicd/internal/config"
	"clinicd/internal/device"
	"clinicd/internal/onnx"
	"clinicd/internal/tokenizer"
)

// createModelFile creates a file of sizeKB kilobytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeKB int) string {
	t.Helper()
	if sizeKB <= 0 {
		sizeKB = 1
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, make([]byte, sizeKB*1024), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// Special ids of fakeTokenizer. Word ids start at firstWordID.
const (
	fakePAD     = 0
	fakeBOS     = 1
	fakeEOS     = 2
	fakeEOT     = 3
	firstWordID = 10
)

// fakeTokenizer splits on whitespace and hands out ids on first sight.
type fakeTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
	noPad bool
}

func newFakeTokenizer(words ...string) *fakeTokenizer {
	t := &fakeTokenizer{ids: map[string]int{}}
	t.idsOf(words...)
	return t
}

func (t *fakeTokenizer) idsOf(words ...string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(words))
	for _, w := range words {
		if w == tokenizer.Llama3EOT {
			out = append(out, fakeEOT)
			continue
		}
		id, ok := t.ids[w]
		if !ok {
			id = firstWordID + len(t.words)
			t.ids[w] = id
			t.words = append(t.words, w)
		}
		out = append(out, id)
	}
	return out
}

func (t *fakeTokenizer) Encode(text string, addSpecial bool) ([]int, error) {
	ids := t.idsOf(strings.Fields(text)...)
	if addSpecial {
		ids = append(ids, fakeEOS)
	}
	return ids, nil
}

func (t *fakeTokenizer) Decode(ids []int, skipSpecial bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		switch {
		case id >= firstWordID && id-firstWordID < len(t.words):
			parts = append(parts, t.words[id-firstWordID])
		case skipSpecial:
		case id == fakeEOT:
			parts = append(parts, tokenizer.Llama3EOT)
		case id == fakeEOS:
			parts = append(parts, "</s>")
		}
	}
	return strings.Join(parts, " ")
}

func (t *fakeTokenizer) TokenID(token string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[token]
	return id, ok
}

func (t *fakeTokenizer) EOS() int { return fakeEOS }

func (t *fakeTokenizer) PAD() int {
	if t.noPad {
		return fakeEOS
	}
	return fakePAD
}

// fakeClassifier returns fixed logits.
type fakeClassifier struct {
	logits    []float32
	numLabels int
	err       error
	panicMsg  string
	calls     atomic.Int32
	closed    atomic.Int32
}

func (c *fakeClassifier) Logits(ctx context.Context, ids []int) ([]float32, error) {
	c.calls.Add(1)
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.err != nil {
		return nil, c.err
	}
	return append([]float32(nil), c.logits...), nil
}

func (c *fakeClassifier) NumLabels() int { return c.numLabels }

func (c *fakeClassifier) Close() error { c.closed.Add(1); return nil }

// fakeSeq2Seq emits script one token per step, then EOS.
type fakeSeq2Seq struct {
	script []int
	vocab  int
	err    error
	delay  time.Duration

	mu      sync.Mutex
	batches []int
	closed  atomic.Int32
}

func (s *fakeSeq2Seq) Encode(ctx context.Context, batch [][]int, pad int) (*onnx.EncoderState, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	s.batches = append(s.batches, len(batch))
	s.mu.Unlock()
	seq := 0
	for _, b := range batch {
		seq = max(seq, len(b))
	}
	return &onnx.EncoderState{
		Hidden: make([]float32, len(batch)*seq),
		Batch:  len(batch),
		Seq:    seq,
		Dim:    1,
		Mask:   make([]int64, len(batch)*seq),
	}, nil
}

func (s *fakeSeq2Seq) DecodeStep(ctx context.Context, enc *onnx.EncoderState, rows []int, prefixes [][]int) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(prefixes))
	for i, p := range prefixes {
		next := fakeEOS
		if n := len(p) - 1; n < len(s.script) {
			next = s.script[n]
		}
		logits := make([]float32, s.vocab)
		logits[next] = 10
		out[i] = logits
	}
	return out, nil
}

func (s *fakeSeq2Seq) Close() error { s.closed.Add(1); return nil }

func (s *fakeSeq2Seq) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

// fakeRuntime hands out fakeSessions and records what it was asked for.
type fakeRuntime struct {
	mu      sync.Mutex
	specs   []GeneratorSpec
	journal []string
	loadErr error
	reply   string
	genErr  error
	// block makes Generate wait for ctx to end.
	block bool
	// loadDelay stretches Load, as large weights do.
	loadDelay time.Duration
	loads atomic.Int32
	calls atomic.Int32
}

func (r *fakeRuntime) Load(ctx context.Context, spec GeneratorSpec) (GeneratorSession, error) {
	n := r.loads.Add(1)
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.journal = append(r.journal, "load")
	err, reply, delay := r.loadErr, r.reply, r.loadDelay
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fakeSession{r: r, id: int(n), reply: reply}, nil
}

func (r *fakeRuntime) setReply(s string) {
	r.mu.Lock()
	r.reply = s
	r.mu.Unlock()
}

func (r *fakeRuntime) setLoadDelay(d time.Duration) {
	r.mu.Lock()
	r.loadDelay = d
	r.mu.Unlock()
}

func (r *fakeRuntime) setLoadErr(err error) {
	r.mu.Lock()
	r.loadErr = err
	r.mu.Unlock()
}

func (r *fakeRuntime) lastSpec() GeneratorSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.specs) == 0 {
		return GeneratorSpec{}
	}
	return r.specs[len(r.specs)-1]
}

func (r *fakeRuntime) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.journal...)
}

type fakeSession struct {
	r      *fakeRuntime
	id     int
	reply  string
	closed atomic.Bool
}

func (s *fakeSession) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (FinalResult, error) {
	s.r.calls.Add(1)
	if s.closed.Load() {
		return FinalResult{}, errors.New("generate on closed session")
	}
	if s.r.block {
		<-ctx.Done()
		return FinalResult{}, ctx.Err()
	}
	if s.r.genErr != nil {
		return FinalResult{}, s.r.genErr
	}
	return FinalResult{Content: s.reply, FinishReason: "stop"}, nil
}

func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.r.mu.Lock()
		s.r.journal = append(s.r.journal, "close")
		s.r.mu.Unlock()
	}
	return nil
}

// summaryWords is what fakeSeq2Seq produces for every input.
var summaryWords = []string{"patient", "reports", "persistent", "low", "mood"}

const (
	sampleText  = "I have been feeling sad and empty for weeks and I cannot sleep or focus at work anymore."
	sampleReply = "Recommendation: Start weekly cognitive behavioural therapy sessions."
)

// testEnv wires a Manager to in-memory fakes.
type testEnv struct {
	m      *Manager
	cfg    ManagerConfig
	tok    *fakeTokenizer
	genTok *fakeTokenizer
	cls    *fakeClassifier
	s2s    *fakeSeq2Seq
	rt     *fakeRuntime
	pub    *MemoryPublisher
	genDir string

	clsErr    error
	s2sErr    error
	clsOpens  atomic.Int32
	s2sOpens  atomic.Int32
	tokenLoad atomic.Int32
}

func newTestEnv(t *testing.T, kind device.Kind, mutate func(*ManagerConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		tok:    newFakeTokenizer(summaryWords...),
		genTok: newFakeTokenizer(),
		cls:    &fakeClassifier{logits: []float32{0.1, 0.2, 4, 0.3, 0.1}},
		rt:     &fakeRuntime{reply: sampleReply},
		pub:    NewMemoryPublisher(),
		genDir: t.TempDir(),
	}
	env.s2s = &fakeSeq2Seq{script: env.tok.idsOf(summaryWords...), vocab: 64}

	clsDir := t.TempDir()
	sumDir := t.TempDir()
	writeFile(t, sumDir, "config.json", `{"model_type":"t5","eos_token_id":2,"pad_token_id":0,"decoder_start_token_id":0}`)

	d := config.Default()
	cfg := ManagerConfig{
		Device:     kind,
		Labels:     append([]string(nil), config.DefaultLabels...),
		Classifier: d.Classifier,
		Summarizer: d.Summarizer,
		Generator:  d.Generator,
		Logger:     zerolog.Nop(),
		Publisher:  env.pub,
		Runtime:    env.rt,
		MaxWait:    time.Second,
	}
	cfg.Classifier.Path = clsDir
	cfg.Summarizer.Path = sumDir
	cfg.Summarizer.MinLength = 0
	cfg.Summarizer.MaxLength = 16
	cfg.Summarizer.MaxInputLength = 64
	cfg.Summarizer.NumBeams = 2
	cfg.Summarizer.BatchWindow = config.Duration(20 * time.Millisecond)
	cfg.Generator.ModelPath = createModelFile(t, env.genDir, "base.gguf", 4)
	cfg.Generator.QuantizedPath = createModelFile(t, env.genDir, "base.Q4_K_M.gguf", 1)
	cfg.Generator.AdapterPath = createModelFile(t, env.genDir, "adapter.gguf", 1)
	cfg.OpenClassifier = func(dir string, n int, opts onnx.Options) (onnx.SequenceClassifier, error) {
		env.clsOpens.Add(1)
		if env.clsErr != nil {
			return nil, env.clsErr
		}
		return env.cls, nil
	}
	cfg.OpenSeq2Seq = func(dir string, opts onnx.Options) (onnx.Seq2Seq, error) {
		env.s2sOpens.Add(1)
		if env.s2sErr != nil {
			return nil, env.s2sErr
		}
		return env.s2s, nil
	}
	cfg.LoadTokenizer = func(path string) (tokenizer.Tokenizer, error) {
		env.tokenLoad.Add(1)
		if path == env.genDir {
			return env.genTok, nil
		}
		return env.tok, nil
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.cfg = cfg
	env.m = NewWithConfig(cfg)
	t.Cleanup(func() { _ = env.m.Close() })
	return env
}

// loadedEnv returns an env with all three slots populated.
func loadedEnv(t *testing.T, kind device.Kind, mutate func(*ManagerConfig)) *testEnv {
	t.Helper()
	env := newTestEnv(t, kind, mutate)
	if !env.m.LoadAll(testCtx(t)) {
		t.Fatalf("LoadAll reported not ready: %+v", env.m.Status())
	}
	if !env.m.GeneratorLoaded() {
		t.Fatalf("generator not loaded: %+v", env.m.Status())
	}
	return env
}
