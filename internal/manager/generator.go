package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"clinicd/internal/config"
	"clinicd/internal/device"
	"clinicd/internal/tokenizer"
)

// generatorPlan is what LoadGenerator will ask the runtime for, after the
// device's quantization and adapter rules are applied.
type generatorPlan struct {
	spec            GeneratorSpec
	tokenizerPath   string
	adapterFallback bool
	fallbackReason  string
}

// planGenerator applies the device capability table to the generator config.
func planGenerator(g config.GeneratorConfig, caps device.Capabilities) (generatorPlan, error) {
	p := generatorPlan{spec: GeneratorSpec{
		ModelPath:   g.ModelPath,
		GPULayers:   caps.GPULayers,
		ContextSize: g.ContextSize,
		Threads:     g.Threads,
	}}
	if g.Quantize && caps.Quantization && g.QuantizedPath != "" {
		p.spec.ModelPath = g.QuantizedPath
		p.spec.Quantized = true
		p.spec.F16Memory = halfPrecision(g.ComputeDType)
	}
	if strings.TrimSpace(p.spec.ModelPath) == "" && g.Runtime != config.RuntimeRemote {
		return p, errors.New("generator model path not configured")
	}
	if g.UseAdapter {
		switch {
		case !caps.Adapter:
			p.adapterFallback = true
			p.fallbackReason = "adapter requires 4-bit weights on cuda; using base weights"
		case strings.TrimSpace(g.AdapterPath) == "":
			p.adapterFallback = true
			p.fallbackReason = "adapter path not configured; using base weights"
		default:
			p.spec.AdapterPath = g.AdapterPath
			if p.spec.Quantized {
				p.spec.BasePath = g.ModelPath
			}
		}
	}
	p.tokenizerPath = g.TokenizerPath
	if p.tokenizerPath == "" {
		src := g.ModelPath
		if src == "" {
			src = p.spec.ModelPath
		}
		if src == "" {
			return p, errors.New("generator tokenizer path not configured")
		}
		p.tokenizerPath = filepath.Dir(src)
	}
	return p, nil
}

func halfPrecision(dtype string) bool {
	switch strings.ToLower(strings.TrimSpace(dtype)) {
	case "bfloat16", "bf16", "float16", "fp16", "f16", "half":
		return true
	}
	return false
}

// loadedGenerator is a fully opened generator waiting to be installed.
type loadedGenerator struct {
	plan    generatorPlan
	session GeneratorSession
	tok     tokenizer.Tokenizer
}

// openGenerator loads tokenizer and weights per plan. Nothing is installed.
func (m *Manager) openGenerator(ctx context.Context) (lg loadedGenerator, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading generator: %v", r)
		}
	}()
	plan, err := planGenerator(m.cfg.Generator, m.cfg.Device.Capabilities())
	if err != nil {
		return lg, err
	}
	if plan.adapterFallback {
		m.log.Warn().Str("device", m.cfg.Device.String()).Str("reason", plan.fallbackReason).Msg("adapter fallback")
		m.cfg.Publisher.Publish(Event{Name: EventAdapterFallback, Model: SlotGenerator, Fields: map[string]any{"device": m.cfg.Device.String(), "reason": plan.fallbackReason}})
		generatorFallbacks.WithLabelValues("adapter").Inc()
	}
	if m.cfg.Generator.Quantize && m.cfg.Device.Capabilities().Quantization && !plan.spec.Quantized {
		m.log.Warn().Msg("quantized generator weights not found; loading full precision")
	}
	tok, err := m.cfg.LoadTokenizer(plan.tokenizerPath)
	if err != nil {
		return lg, err
	}
	if err := ctx.Err(); err != nil {
		return lg, err
	}
	sess, err := m.cfg.Runtime.Load(ctx, plan.spec)
	if err != nil {
		return lg, err
	}
	return loadedGenerator{plan: plan, session: sess, tok: tok}, nil
}

// install populates the generator slot. Caller holds m.generator.mu.
func (m *Manager) install(lg loadedGenerator) {
	s := &m.generator
	s.session, s.tok, s.spec = lg.session, lg.tok, lg.plan.spec
	s.adapterFallback = lg.plan.adapterFallback
	s.padFromEOS = lg.tok.PAD() == lg.tok.EOS()
	if s.padFromEOS {
		m.log.Info().Int("eos", lg.tok.EOS()).Msg("generator tokenizer has no pad token; using EOS")
	}
}

// LoadGenerator populates the generator slot. Quantized weights are used
// only where the device supports them and the adapter only on CUDA; a
// requested adapter that cannot be applied is recorded as a fallback.
// Failure leaves the slot empty and the rest of the pipeline usable.
func (m *Manager) LoadGenerator(ctx context.Context) bool {
	return m.loadOnce(string(SlotGenerator), func() bool {
		if m.GeneratorLoaded() {
			return true
		}
		start := m.beginLoad(SlotGenerator, m.generatorPath())
		// Weights load outside the slot lock so requests keep using the
		// fallback template meanwhile.
		lg, err := m.openGenerator(ctx)
		s := &m.generator
		if lerr := s.mu.Lock(ctx); lerr != nil {
			if lg.session != nil {
				_ = lg.session.Close()
			}
			m.failLoad(SlotGenerator, start, lerr)
			return false
		}
		defer s.mu.Unlock()
		if s.session != nil {
			// A reload installed a session first.
			if lg.session != nil {
				_ = lg.session.Close()
			}
			m.updateInfo(SlotGenerator, func(in *slotInfo) {
				in.state = StateReady
				in.lastError = ""
			})
			return true
		}
		if err != nil {
			s.reset()
			m.failLoad(SlotGenerator, start, err)
			return false
		}
		m.install(lg)
		m.finishLoad(SlotGenerator, start)
		return true
	})
}

// generatorPath is the weights file a load would use, for status reporting.
func (m *Manager) generatorPath() string {
	plan, err := planGenerator(m.cfg.Generator, m.cfg.Device.Capabilities())
	if err != nil {
		return m.cfg.Generator.ModelPath
	}
	return plan.spec.ModelPath
}
