package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"clinicd/internal/onnx"
)

func (m *Manager) infoOf(kind SlotKind) *slotInfo {
	switch kind {
	case SlotClassifier:
		return &m.classifier.info
	case SlotSummarizer:
		return &m.summarizer.info
	default:
		return &m.generator.info
	}
}

func (m *Manager) updateInfo(kind SlotKind, fn func(*slotInfo)) {
	m.infoMu.Lock()
	fn(m.infoOf(kind))
	m.infoMu.Unlock()
}

// loadOnce collapses concurrent calls for key and returns fn's verdict.
func (m *Manager) loadOnce(key string, fn func() bool) bool {
	v, _, _ := m.loads.Do(key, func() (any, error) { return fn(), nil })
	return v.(bool)
}

func (m *Manager) beginLoad(kind SlotKind, path string) time.Time {
	m.updateInfo(kind, func(in *slotInfo) {
		in.state = StateLoading
		in.path = path
		in.lastError = ""
	})
	m.cfg.Publisher.Publish(Event{Name: EventLoadStart, Model: kind, Fields: map[string]any{"path": path}})
	m.log.Info().Str("model", string(kind)).Str("path", path).Str("device", m.cfg.Device.String()).Msg("loading model")
	return time.Now()
}

func (m *Manager) finishLoad(kind SlotKind, start time.Time) {
	d := time.Since(start)
	var size int64
	m.updateInfo(kind, func(in *slotInfo) {
		in.state = StateReady
		in.loadedAt = time.Now()
		in.loadDuration = d
		in.sizeBytes = artifactSize(in.path)
		size = in.sizeBytes
	})
	m.loadsTotal.Add(1)
	observeLoad(kind, d, true)
	modelSizeBytes.WithLabelValues(string(kind)).Set(float64(size))
	m.cfg.Publisher.Publish(Event{Name: EventLoadReady, Model: kind, Fields: map[string]any{"duration_ms": d.Milliseconds()}})
	m.log.Info().Str("model", string(kind)).Dur("took", d).Int64("size_bytes", size).Msg("model ready")
}

// failLoad records a load failure. The caller has already reset the slot.
func (m *Manager) failLoad(kind SlotKind, start time.Time, err error) {
	d := time.Since(start)
	m.updateInfo(kind, func(in *slotInfo) {
		in.state = StateError
		in.lastError = err.Error()
		in.loadDuration = d
	})
	observeLoad(kind, d, false)
	modelSizeBytes.WithLabelValues(string(kind)).Set(0)
	m.cfg.Publisher.Publish(Event{Name: EventLoadFailed, Model: kind, Fields: map[string]any{"error": err.Error()}})
	m.log.Error().Err(err).Str("model", string(kind)).Dur("took", d).Msg("model load failed")
}

func (m *Manager) ortOptions() onnx.Options {
	return onnx.Options{
		Provider:    m.cfg.Device.Capabilities().Provider,
		Threads:     m.cfg.ORT.Threads,
		LibraryPath: m.cfg.ORT.LibraryPath,
	}
}

// LoadClassifier populates the classifier slot. It returns true at once when
// the slot is already populated and false, with the slot left empty, when
// loading fails.
func (m *Manager) LoadClassifier(ctx context.Context) bool {
	return m.loadOnce(string(SlotClassifier), func() bool {
		s := &m.classifier
		s.mu.RLock()
		loaded := s.model != nil
		s.mu.RUnlock()
		if loaded {
			return true
		}
		path := m.cfg.Classifier.Path
		start := m.beginLoad(SlotClassifier, path)
		err := m.openClassifier(ctx, path)
		if err != nil {
			m.failLoad(SlotClassifier, start, err)
			return false
		}
		m.finishLoad(SlotClassifier, start)
		return true
	})
}

func (m *Manager) openClassifier(ctx context.Context, path string) (err error) {
	s := &m.classifier
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading classifier: %v", r)
		}
	}()
	if strings.TrimSpace(path) == "" {
		return errors.New("classifier path not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := m.cfg.LoadTokenizer(path)
	if err != nil {
		return err
	}
	mc, err := onnx.LoadModelConfig(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		m.checkLabelMap(mc.ID2Label)
	}
	model, err := m.cfg.OpenClassifier(path, len(m.labels), m.ortOptions())
	if err != nil {
		return err
	}
	if n := model.NumLabels(); n > 0 && n != len(m.labels) {
		_ = model.Close()
		return fmt.Errorf("classifier has %d outputs, label map has %d entries", n, len(m.labels))
	}
	s.mu.Lock()
	s.model, s.tok = model, tok
	s.mu.Unlock()
	return nil
}

// checkLabelMap warns when the artifact's id2label disagrees with the
// configured labels. The configured map wins.
func (m *Manager) checkLabelMap(id2label []string) {
	if len(id2label) != len(m.labels) {
		return
	}
	for i, l := range id2label {
		if l != m.labels[i] {
			m.log.Warn().Int("index", i).Str("artifact", l).Str("configured", m.labels[i]).Msg("classifier id2label differs from configured labels; using configured labels")
			return
		}
	}
}

// LoadSummarizer populates the summarizer slot. On CUDA the seq2seq model is
// wrapped in the batching pipeline; elsewhere it is driven directly.
func (m *Manager) LoadSummarizer(ctx context.Context) bool {
	return m.loadOnce(string(SlotSummarizer), func() bool {
		s := &m.summarizer
		s.mu.RLock()
		loaded := s.summ != nil
		s.mu.RUnlock()
		if loaded {
			return true
		}
		path := m.cfg.Summarizer.Path
		start := m.beginLoad(SlotSummarizer, path)
		if err := m.openSummarizer(ctx, path); err != nil {
			m.failLoad(SlotSummarizer, start, err)
			return false
		}
		m.finishLoad(SlotSummarizer, start)
		return true
	})
}

func (m *Manager) openSummarizer(ctx context.Context, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading summarizer: %v", r)
		}
	}()
	if strings.TrimSpace(path) == "" {
		return errors.New("summarizer path not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := m.cfg.LoadTokenizer(path)
	if err != nil {
		return err
	}
	mc, err := onnx.LoadModelConfig(path)
	if err != nil {
		return err
	}
	raw, err := m.cfg.OpenSeq2Seq(path, m.ortOptions())
	if err != nil {
		return err
	}
	batched := m.cfg.Device.Capabilities().BatchedSummarizer
	params := m.summaryParams(mc, batched)
	var summ Summarizer
	if batched {
		summ = newBatchSummarizer(raw, tok, params, m.cfg.Summarizer.BatchSize, m.cfg.Summarizer.BatchWindow.Std(), m.log)
	} else {
		summ = &rawSummarizer{model: raw, tok: tok, params: params}
	}
	s := &m.summarizer
	s.mu.Lock()
	s.summ, s.raw, s.tok, s.batched = summ, raw, tok, batched
	s.mu.Unlock()
	return nil
}

// summaryParams merges configured bounds with the model's own task settings.
// The batched path honours the artifact's prefix and n-gram blocking.
func (m *Manager) summaryParams(mc onnx.ModelConfig, batched bool) summaryParams {
	c := m.cfg.Summarizer
	p := summaryParams{
		prefix:   defaultSummaryPrefix,
		maxInput: c.MaxInputLength,
		pad:      mc.PadTokenID,
	}
	p.beam.NumBeams = c.NumBeams
	p.beam.MinLength = c.MinLength
	p.beam.MaxLength = c.MaxLength
	p.beam.DecoderStart = mc.DecoderStartTokenID
	p.beam.EOS = mc.EOSTokenID
	p.beam.LengthPenalty = c.LengthPenalty
	p.beam.EarlyStopping = true
	if batched {
		ts := mc.Summarization
		p.prefix = ts.Prefix
		if ts.NumBeams > 0 {
			p.beam.NumBeams = ts.NumBeams
		}
		if ts.LengthPenalty > 0 {
			p.beam.LengthPenalty = ts.LengthPenalty
		}
		p.beam.NoRepeatNgram = ts.NoRepeatNgramSize
		p.beam.EarlyStopping = ts.EarlyStopping || ts.NumBeams == 0
	}
	return p
}

// LoadAll runs every loader and reports whether all three slots loaded.
// Failures are isolated per slot: a missing generator still leaves the
// Manager Ready, but LoadAll returns false.
func (m *Manager) LoadAll(ctx context.Context) bool {
	var results [3]bool
	loaders := []func(context.Context) bool{m.LoadClassifier, m.LoadSummarizer, m.LoadGenerator}
	start := time.Now()
	if m.cfg.ParallelLoad {
		var g errgroup.Group
		for i, load := range loaders {
			g.Go(func() error {
				results[i] = load(ctx)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, load := range loaders {
			results[i] = load(ctx)
		}
	}
	ready := m.Ready()
	m.log.Info().
		Bool("classifier", results[0]).
		Bool("summarizer", results[1]).
		Bool("generator", results[2]).
		Bool("ready", ready).
		Dur("took", time.Since(start)).
		Msg("model loading finished")
	if ready && !results[2] {
		m.log.Warn().Msg("generator unavailable; recommendations will use the fallback template")
	}
	return results[0] && results[1] && results[2]
}
