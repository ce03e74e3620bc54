package e2e

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicd/internal/manager"
	"clinicd/pkg/types"
)

const llamaReply = "Recommendation: Start weekly cognitive behavioural therapy and review sleep hygiene."

func TestE2E_AnalyzeAuto(t *testing.T) {
	llama := newFakeLlama(t, llamaReply)
	st := newStack(t, llama.URL, nil)

	resp, body := httpGet(t, st.srv.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz status=%d body=%s", resp.StatusCode, string(body))
	}

	out := analyzeOK(t, st.srv.URL, types.AnalyzeRequest{Text: sampleText})
	if out.Classification.Pathology != "Depression" {
		t.Fatalf("pathology=%q", out.Classification.Pathology)
	}
	if out.Classification.Confidence == nil || *out.Classification.Confidence < 0.6 {
		t.Fatalf("confidence=%v", out.Classification.Confidence)
	}
	if len(out.Classification.AllProbabilities) != 5 {
		t.Fatalf("all_probabilities=%v", out.Classification.AllProbabilities)
	}
	if out.Summary != strings.Join(summaryWords, " ") {
		t.Fatalf("summary=%q", out.Summary)
	}
	if out.Recommendation != "Start weekly cognitive behavioural therapy and review sleep hygiene." {
		t.Fatalf("recommendation=%q", out.Recommendation)
	}
	if out.Metadata.GeneratorFallback {
		t.Fatalf("unexpected template fallback")
	}
	if out.Metadata.Mode != string(manager.ModeAuto) || out.Metadata.Device != "cpu" {
		t.Fatalf("metadata=%+v", out.Metadata)
	}

	p := llama.lastPrompt()
	for _, want := range []string{"Diagnosed Pathology: Depression", "Clinical Summary: patient reports persistent low mood", "<|start_header_id|>assistant<|end_header_id|>"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestE2E_ManualModeSkipsClassifier(t *testing.T) {
	llama := newFakeLlama(t, llamaReply)
	st := newStack(t, llama.URL, nil)
	before := st.cls.calls.Load()

	auto := false
	out := analyzeOK(t, st.srv.URL, types.AnalyzeRequest{Text: sampleText, AutoClassify: &auto, Pathology: "Anxiety"})
	if out.Classification.Pathology != "Anxiety" || out.Classification.Confidence != nil {
		t.Fatalf("classification=%+v", out.Classification)
	}
	if out.Metadata.Mode != string(manager.ModeManual) {
		t.Fatalf("mode=%q", out.Metadata.Mode)
	}
	if got := st.cls.calls.Load(); got != before {
		t.Fatalf("classifier ran in manual mode: %d calls", got-before)
	}
	if !strings.Contains(llama.lastPrompt(), "Detected/Selected pathology: Anxiety") {
		t.Fatalf("manual prompt not used:\n%s", llama.lastPrompt())
	}

	code, body, err := postAnalyze(st.srv.URL, types.AnalyzeRequest{Text: sampleText, AutoClassify: &auto, Pathology: "Insomnia"})
	if err != nil {
		t.Fatal(err)
	}
	if code != http.StatusBadRequest {
		t.Fatalf("unknown pathology status=%d body=%s", code, string(body))
	}
}

func TestE2E_GeneratorUnreachableUsesTemplate(t *testing.T) {
	// a port nothing listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadURL := "http://" + ln.Addr().String()
	_ = ln.Close()

	st := newStack(t, deadURL, nil)
	if st.mgr.GeneratorLoaded() {
		t.Fatalf("generator should not load against %s", deadURL)
	}

	out := analyzeOK(t, st.srv.URL, types.AnalyzeRequest{Text: sampleText})
	if !out.Metadata.GeneratorFallback {
		t.Fatalf("expected template fallback")
	}
	if !strings.Contains(out.Recommendation, "indicators consistent with Depression") {
		t.Fatalf("recommendation=%q", out.Recommendation)
	}

	resp, body := httpGet(t, st.srv.URL+"/health/detailed")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health/detailed status=%d body=%s", resp.StatusCode, string(body))
	}
	var h types.DetailedHealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatalf("/health/detailed json: %v", err)
	}
	if h.Status != "degraded" || h.Models["generator"] || !h.Models["classifier"] {
		t.Fatalf("detailed health=%+v", h)
	}
}

// TestE2E_Backpressure429 verifies a full admission queue is rejected with
// 429 while earlier requests still complete.
func TestE2E_Backpressure429(t *testing.T) {
	llama := newFakeLlama(t, llamaReply)
	st := newStack(t, llama.URL, func(c *manager.ManagerConfig) {
		c.MaxConcurrent = 1
		c.MaxQueueDepth = 1
		c.MaxWait = 5 * time.Second
	})
	gate := llama.hold()

	codes := make(chan int, 2)
	go func() {
		code, _, _ := postAnalyze(st.srv.URL, types.AnalyzeRequest{Text: sampleText})
		codes <- code
	}()
	select {
	case <-llama.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the generator")
	}
	go func() {
		code, _, _ := postAnalyze(st.srv.URL, types.AnalyzeRequest{Text: sampleText})
		codes <- code
	}()
	// the second request occupies the only queue slot
	deadline := time.Now().Add(5 * time.Second)
	for st.mgr.Status().QueueLen < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("second request never queued: %+v", st.mgr.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, body, err := postAnalyze(st.srv.URL, types.AnalyzeRequest{Text: sampleText})
	if err != nil {
		t.Fatal(err)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("third request status=%d body=%s", code, string(body))
	}

	close(gate)
	for i := 0; i < 2; i++ {
		select {
		case c := <-codes:
			if c != http.StatusOK {
				t.Fatalf("admitted request status=%d", c)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("admitted requests did not finish")
		}
	}
}

// TestE2E_ReloadUnderLoad swaps the generator while requests are running.
// No request may observe an empty slot.
func TestE2E_ReloadUnderLoad(t *testing.T) {
	llama := newFakeLlama(t, llamaReply)
	st := newStack(t, llama.URL, func(c *manager.ManagerConfig) {
		c.MaxConcurrent = 4
		c.MaxQueueDepth = 64
	})

	const workers, perWorker = 4, 5
	var wg sync.WaitGroup
	errs := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				code, body, err := postAnalyze(st.srv.URL, types.AnalyzeRequest{Text: sampleText})
				switch {
				case err != nil:
					errs <- err.Error()
				case code != http.StatusOK:
					errs <- string(body)
				case strings.Contains(string(body), `"generator_fallback":true`):
					errs <- "template fallback during reload"
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		if !st.mgr.ReloadGenerator(t.Context()) {
			t.Fatalf("reload %d failed", i)
		}
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	if got := st.mgr.Status().ReloadsTotal; got < 3 {
		t.Fatalf("reloads_total=%d", got)
	}
}
