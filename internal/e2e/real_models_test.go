package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicd/internal/config"
	"clinicd/internal/device"
	"clinicd/internal/httpapi"
	"clinicd/internal/manager"
	"clinicd/internal/onnx"
	"clinicd/internal/registry"
	"clinicd/pkg/types"
)

// TestRealModels_Analyze runs the whole pipeline over real artifacts.
// Skips unless:
// - CLINICD_E2E_CONFIG points to a config file whose models exist, and
// - the binary is built with the ort tag.
func TestRealModels_Analyze(t *testing.T) {
	path := strings.TrimSpace(os.Getenv("CLINICD_E2E_CONFIG"))
	if path == "" {
		t.Skip("CLINICD_E2E_CONFIG not set; skipping real-model test")
	}
	if !onnx.Built {
		t.Skip("built without the ort tag; skipping real-model test")
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if _, err := registry.Fill(&cfg); err != nil {
		t.Fatalf("discover artifacts: %v", err)
	}
	kind := device.NewResolver(cfg.Device, device.SystemProbes()).Kind()
	mgr := manager.NewWithConfig(manager.ConfigFrom(cfg, kind, zerolog.New(zerolog.NewTestWriter(t))))
	t.Cleanup(func() { _ = mgr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	mgr.LoadAll(ctx)
	if !mgr.Ready() {
		t.Fatalf("models not ready: %+v", mgr.Status())
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr, httpapi.Options{MinTextLength: cfg.MinTextLength}))
	t.Cleanup(srv.Close)

	text := "For the past three months I have had trouble sleeping, I feel worthless most days, " +
		"I lost interest in my hobbies and I sometimes think everyone would be better off without me."
	out := analyzeOK(t, srv.URL, types.AnalyzeRequest{Text: text})
	if out.Summary == "" || out.Recommendation == "" {
		t.Fatalf("empty output: %+v", out)
	}
	t.Logf("\n----- %s (%s, fallback=%v) -----\nSUMMARY: %s\n\n%s\n",
		out.Classification.Pathology, out.Metadata.Device, out.Metadata.GeneratorFallback, out.Summary, out.Recommendation)
}
