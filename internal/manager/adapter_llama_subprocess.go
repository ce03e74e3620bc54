package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// SubprocessConfig configures spawned llama-server processes.
type SubprocessConfig struct {
	Bin          string
	Host         string
	PortStart    int
	PortEnd      int
	ContextSize  int
	Threads      int
	ExtraArgs    []string
	ReadyTimeout time.Duration
}

// llamaSubprocessAdapter spawns and manages one llama-server per weights spec.
type llamaSubprocessAdapter struct {
	cfg        SubprocessConfig
	mu         sync.Mutex
	procs      map[string]*procInfo // key: specKey
	httpClient *http.Client
	publisher  EventPublisher
}

type procInfo struct {
	cmd     *exec.Cmd
	baseURL string
	ready   bool
	pid     int
	done    chan struct{}
}

// NewLlamaSubprocessAdapter constructs a subprocess-backed runtime.
func NewLlamaSubprocessAdapter(cfg SubprocessConfig) *llamaSubprocessAdapter {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Bin == "" {
		cfg.Bin = "llama-server"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 120 * time.Second
	}
	// Timeout=0: readiness probes and Generate carry context deadlines.
	return &llamaSubprocessAdapter{cfg: cfg, procs: make(map[string]*procInfo), httpClient: &http.Client{Timeout: 0}, publisher: noopPublisher{}}
}

func specKey(spec GeneratorSpec) string {
	return spec.ModelPath + "|" + spec.AdapterPath
}

// spawnArgs builds the llama-server command line for spec.
func (a *llamaSubprocessAdapter) spawnArgs(spec GeneratorSpec, port int) []string {
	args := []string{
		"-m", spec.ModelPath,
		"--host", a.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	ctxSize := spec.ContextSize
	if ctxSize <= 0 {
		ctxSize = a.cfg.ContextSize
	}
	if ctxSize > 0 {
		args = append(args, "-c", strconv.Itoa(ctxSize))
	}
	switch {
	case spec.GPULayers < 0:
		args = append(args, "-ngl", "999")
	case spec.GPULayers > 0:
		args = append(args, "-ngl", strconv.Itoa(spec.GPULayers))
	}
	threads := spec.Threads
	if threads <= 0 {
		threads = a.cfg.Threads
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	if spec.AdapterPath != "" {
		args = append(args, "--lora", spec.AdapterPath)
	}
	if spec.F16Memory {
		args = append(args, "--cache-type-k", "f16", "--cache-type-v", "f16")
	}
	return append(args, a.cfg.ExtraArgs...)
}

func (a *llamaSubprocessAdapter) Load(ctx context.Context, spec GeneratorSpec) (GeneratorSession, error) {
	if strings.TrimSpace(spec.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	baseURL, err := a.ensureProcess(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &subprocessSession{
		completionSession: completionSession{client: a.httpClient, baseURL: baseURL},
		a:                 a,
		key:               specKey(spec),
	}, nil
}

// subprocessSession streams completions and stops its process on Close.
type subprocessSession struct {
	completionSession
	a   *llamaSubprocessAdapter
	key string
}

func (s *subprocessSession) Close() error { return s.a.Stop(s.key) }

// ensureProcess starts (or returns existing) llama-server for spec and waits for readiness.
func (a *llamaSubprocessAdapter) ensureProcess(ctx context.Context, spec GeneratorSpec) (string, error) {
	key := specKey(spec)
	a.mu.Lock()
	p := a.procs[key]
	a.mu.Unlock()
	if p != nil {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		err := probeModels(pctx, a.httpClient, p.baseURL, "")
		cancel()
		if err == nil {
			return p.baseURL, nil
		}
		_ = a.Stop(key)
	}

	var port int
	var err error
	if a.cfg.PortStart > 0 && a.cfg.PortEnd >= a.cfg.PortStart {
		port, err = pickPortInRange(a.cfg.Host, a.cfg.PortStart, a.cfg.PortEnd)
	} else {
		port, err = pickFreePort(a.cfg.Host)
	}
	if err != nil {
		return "", err
	}
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(a.cfg.Host, strconv.Itoa(port)))

	cmd := exec.Command(a.cfg.Bin, a.spawnArgs(spec, port)...)
	// Capture stderr for diagnostics; the tail is included on failure.
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start llama-server: %w", err)
	}
	pid := cmd.Process.Pid
	log.Info().Str("adapter", "llama_subprocess").Str("model", spec.ModelPath).Int("pid", pid).Str("url", baseURL).Msg("spawned llama-server")
	a.publisher.Publish(Event{Name: EventSpawnStart, Model: SlotGenerator, Fields: map[string]any{"pid": pid, "url": baseURL}})

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()
	a.mu.Lock()
	a.procs[key] = &procInfo{cmd: cmd, baseURL: baseURL, pid: pid, done: done}
	a.mu.Unlock()

	drop := func() {
		a.mu.Lock()
		delete(a.procs, key)
		a.mu.Unlock()
	}
	deadline := time.NewTimer(a.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-done:
			drop()
			a.publisher.Publish(Event{Name: EventSpawnExit, Model: SlotGenerator, Fields: map[string]any{"pid": pid, "before_ready": true}})
			if waitErr != nil {
				return "", fmt.Errorf("llama-server exited early: %v; stderr tail: %s", waitErr, stderr.Tail(4096))
			}
			return "", fmt.Errorf("llama-server exited before ready: %s", baseURL)
		case <-deadline.C:
			_ = a.Stop(key)
			a.publisher.Publish(Event{Name: EventSpawnTimeout, Model: SlotGenerator, Fields: map[string]any{"pid": pid}})
			return "", fmt.Errorf("llama-server not ready in time: %s", baseURL)
		case <-ctx.Done():
			_ = a.Stop(key)
			return "", ctx.Err()
		case <-tick.C:
		}
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		err := probeModels(pctx, a.httpClient, baseURL, "")
		cancel()
		if err == nil {
			break
		}
	}
	a.mu.Lock()
	if p := a.procs[key]; p != nil {
		p.ready = true
	}
	a.mu.Unlock()
	log.Info().Str("adapter", "llama_subprocess").Int("pid", pid).Str("url", baseURL).Msg("llama-server ready")
	a.publisher.Publish(Event{Name: EventSpawnReady, Model: SlotGenerator, Fields: map[string]any{"pid": pid, "url": baseURL}})
	return baseURL, nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// getProcInfo returns a snapshot of the process serving key.
func (a *llamaSubprocessAdapter) getProcInfo(key string) (pid int, baseURL string, ready bool, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p := a.procs[key]; p != nil {
		return p.pid, p.baseURL, p.ready, true
	}
	return 0, "", false, false
}

// Stop terminates the llama-server for key, if present: SIGTERM first,
// then kill after two seconds.
func (a *llamaSubprocessAdapter) Stop(key string) error {
	a.mu.Lock()
	p := a.procs[key]
	delete(a.procs, key)
	a.mu.Unlock()
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	a.publisher.Publish(Event{Name: EventSpawnStop, Model: SlotGenerator, Fields: map[string]any{"pid": p.pid}})
	return nil
}

// StopAll terminates all managed subprocesses. Best effort.
func (a *llamaSubprocessAdapter) StopAll() {
	a.mu.Lock()
	keys := make([]string, 0, len(a.procs))
	for k := range a.procs {
		keys = append(keys, k)
	}
	a.mu.Unlock()
	for _, k := range keys {
		_ = a.Stop(k)
	}
}

// setPublisher installs an EventPublisher for emitting adapter events.
func (a *llamaSubprocessAdapter) setPublisher(p EventPublisher) {
	if p == nil {
		a.publisher = noopPublisher{}
		return
	}
	a.publisher = p
}

// lockedBuffer is a bytes.Buffer safe for the exec copier goroutine and readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Tail returns at most n trailing bytes.
func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
