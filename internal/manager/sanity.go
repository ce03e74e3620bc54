package manager

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"clinicd/internal/config"
	"clinicd/internal/onnx"
)

// SanityCheck is one artifact or dependency check.
type SanityCheck struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// SanityReport describes runtime checks for artifacts and external dependencies.
type SanityReport struct {
	Device string        `json:"device"`
	Checks []SanityCheck `json:"checks"`
}

// OK reports whether every critical check passed.
func (r SanityReport) OK() bool {
	for _, c := range r.Checks {
		if c.Critical && !c.OK {
			return false
		}
	}
	return true
}

// Sanity validates that configured artifacts and runtimes are present
// without loading anything. It does not mutate state and is safe to call at
// any time.
func (m *Manager) Sanity() SanityReport {
	r := SanityReport{Device: m.cfg.Device.String()}
	add := func(name string, critical bool, err error) {
		c := SanityCheck{Name: name, Critical: critical, OK: err == nil}
		if err != nil {
			c.Detail = err.Error()
		}
		r.Checks = append(r.Checks, c)
	}

	var ortErr error
	if !onnx.Built {
		ortErr = onnx.ErrUnavailable
	}
	add("onnxruntime", true, ortErr)
	add("classifier", true, dirCheck(m.cfg.Classifier.Path, onnx.CheckClassifierDir))
	add("summarizer", true, dirCheck(m.cfg.Summarizer.Path, onnx.CheckSeq2SeqDir))

	plan, err := planGenerator(m.cfg.Generator, m.cfg.Device.Capabilities())
	if err != nil {
		add("generator", false, err)
		return r
	}
	if m.cfg.Generator.Runtime != config.RuntimeRemote {
		add("generator.weights", false, fileCheck(plan.spec.ModelPath))
	}
	add("generator.tokenizer", false, tokenizerCheck(plan.tokenizerPath))
	if plan.spec.AdapterPath != "" {
		add("generator.adapter", false, fileCheck(plan.spec.AdapterPath))
	}
	if plan.adapterFallback {
		add("generator.adapter", false, errors.New(plan.fallbackReason))
	}
	add("generator.runtime", false, m.runtimeCheck())
	return r
}

func (m *Manager) runtimeCheck() error {
	g := m.cfg.Generator
	switch g.Runtime {
	case config.RuntimeSpawn:
		if _, err := exec.LookPath(g.LlamaBin); err != nil {
			return fmt.Errorf("%s not found: %w", g.LlamaBin, err)
		}
	case config.RuntimeRemote:
		if strings.TrimSpace(g.RemoteURL) == "" {
			return errors.New("remote_url not set")
		}
	default:
		if !llamaBuilt {
			return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
		}
	}
	return nil
}

func dirCheck(path string, check func(string) error) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path not configured")
	}
	return check(path)
}

func fileCheck(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path not configured")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func tokenizerCheck(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fileCheck(path + string(os.PathSeparator) + "tokenizer.json")
	}
	return nil
}
