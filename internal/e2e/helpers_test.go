package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
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
	"clinicd/internal/httpapi"
	"clinicd/internal/manager"
	"clinicd/internal/onnx"
	"clinicd/internal/tokenizer"
	"clinicd/pkg/types"
)

const sampleText = "For weeks I have felt empty and hopeless, I sleep badly and I cannot concentrate at work anymore."

// summaryWords is what the fake summarizer produces for every input.
var summaryWords = []string{"patient", "reports", "persistent", "low", "mood"}

// wordTokenizer splits on whitespace and hands out ids on first sight.
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

const (
	padID       = 0
	eosID       = 2
	firstWordID = 10
)

func newWordTokenizer(words ...string) *wordTokenizer {
	t := &wordTokenizer{ids: map[string]int{}}
	t.idsOf(words...)
	return t
}

func (t *wordTokenizer) idsOf(words ...string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(words))
	for _, w := range words {
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

func (t *wordTokenizer) Encode(text string, addSpecial bool) ([]int, error) {
	ids := t.idsOf(strings.Fields(text)...)
	if addSpecial {
		ids = append(ids, eosID)
	}
	return ids, nil
}

func (t *wordTokenizer) Decode(ids []int, skipSpecial bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= firstWordID && id-firstWordID < len(t.words) {
			parts = append(parts, t.words[id-firstWordID])
		}
	}
	return strings.Join(parts, " ")
}

func (t *wordTokenizer) TokenID(token string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[token]
	return id, ok
}

func (t *wordTokenizer) EOS() int { return eosID }
func (t *wordTokenizer) PAD() int { return padID }

// stubClassifier always favours one label.
type stubClassifier struct {
	logits []float32
	calls  atomic.Int32
}

func (c *stubClassifier) Logits(ctx context.Context, ids []int) ([]float32, error) {
	c.calls.Add(1)
	return append([]float32(nil), c.logits...), nil
}
func (c *stubClassifier) NumLabels() int { return len(c.logits) }
func (c *stubClassifier) Close() error   { return nil }

// scriptedSeq2Seq emits script one token per decode step, then EOS.
type scriptedSeq2Seq struct {
	script []int
	vocab  int
}

func (s *scriptedSeq2Seq) Encode(ctx context.Context, batch [][]int, pad int) (*onnx.EncoderState, error) {
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

func (s *scriptedSeq2Seq) DecodeStep(ctx context.Context, enc *onnx.EncoderState, rows []int, prefixes [][]int) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(prefixes))
	for i, p := range prefixes {
		next := eosID
		if n := len(p) - 1; n < len(s.script) {
			next = s.script[n]
		}
		logits := make([]float32, s.vocab)
		logits[next] = 10
		out[i] = logits
	}
	return out, nil
}

func (s *scriptedSeq2Seq) Close() error { return nil }

// fakeLlama is a minimal llama-server: /v1/models answers 200 and
// /v1/completions streams reply as server-sent events.
type fakeLlama struct {
	*httptest.Server
	reply string

	mu      sync.Mutex
	prompts []string
	// gate, when set, holds completions until closed or the client leaves.
	gate    chan struct{}
	started chan struct{}
}

func newFakeLlama(t *testing.T, reply string) *fakeLlama {
	t.Helper()
	f := &fakeLlama{reply: reply, started: make(chan struct{}, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"clinical"}]}`)
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Prompt)
		gate := f.gate
		f.mu.Unlock()
		select {
		case f.started <- struct{}{}:
		default:
		}
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range strings.SplitAfter(f.reply, " ") {
			chunk, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"text": word}}})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"text\":\"\",\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLlama) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeLlama) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// stack is a running HTTP server over a real Manager whose model slots are
// backed by in-memory models and a remote generator.
type stack struct {
	srv *httptest.Server
	mgr *manager.Manager
	cls *stubClassifier
}

// newStack wires the Manager with the remote runtime pointed at llamaURL and
// loads every slot. mutate may adjust the config before construction.
func newStack(t *testing.T, llamaURL string, mutate func(*manager.ManagerConfig)) *stack {
	t.Helper()
	tok := newWordTokenizer(summaryWords...)
	genTok := newWordTokenizer()
	cls := &stubClassifier{logits: []float32{0.1, 0.2, 4, 0.3, 0.1}}
	s2s := &scriptedSeq2Seq{script: tok.idsOf(summaryWords...), vocab: 64}

	clsDir, sumDir, genDir := t.TempDir(), t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(sumDir, "config.json"),
		[]byte(`{"model_type":"t5","eos_token_id":2,"pad_token_id":0,"decoder_start_token_id":0}`), 0o644); err != nil {
		t.Fatalf("write summarizer config: %v", err)
	}

	d := config.Default()
	cfg := manager.ManagerConfig{
		Device:        device.CPU,
		Labels:        append([]string(nil), config.DefaultLabels...),
		Classifier:    d.Classifier,
		Summarizer:    d.Summarizer,
		Generator:     d.Generator,
		MaxConcurrent: 1,
		MaxQueueDepth: 8,
		MaxWait:       5 * time.Second,
		Logger:        zerolog.Nop(),
	}
	cfg.Classifier.Path = clsDir
	cfg.Summarizer.Path = sumDir
	cfg.Summarizer.MinLength = 0
	cfg.Summarizer.MaxLength = 16
	cfg.Summarizer.MaxInputLength = 64
	cfg.Summarizer.NumBeams = 2
	cfg.Generator.Runtime = config.RuntimeRemote
	cfg.Generator.RemoteURL = llamaURL
	cfg.Generator.TokenizerPath = genDir
	cfg.OpenClassifier = func(string, int, onnx.Options) (onnx.SequenceClassifier, error) { return cls, nil }
	cfg.OpenSeq2Seq = func(string, onnx.Options) (onnx.Seq2Seq, error) { return s2s, nil }
	cfg.LoadTokenizer = func(path string) (tokenizer.Tokenizer, error) {
		if path == genDir {
			return genTok, nil
		}
		return tok, nil
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := manager.NewWithConfig(cfg)
	t.Cleanup(func() { _ = mgr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.LoadAll(ctx)
	if !mgr.Ready() {
		t.Fatalf("models not ready: %+v", mgr.Status())
	}

	srv := httptest.NewServer(httpapi.NewMux(mgr, httpapi.Options{MinTextLength: 50}))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, mgr: mgr, cls: cls}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// postAnalyze is safe to call from goroutines: it reports failures through
// the returned error instead of t.
func postAnalyze(url string, req types.AnalyzeRequest) (int, []byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}
	hreq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url+"/api/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(hreq)
	if err != nil {
		return 0, nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, body, err
}

func analyzeOK(t *testing.T, url string, req types.AnalyzeRequest) types.AnalyzeResponse {
	t.Helper()
	code, body, err := postAnalyze(url, req)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("analyze status=%d body=%s", code, string(body))
	}
	var out types.AnalyzeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("analyze json: %v body=%s", err, string(body))
	}
	return out
}
