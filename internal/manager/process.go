package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"clinicd/internal/generate"
	"clinicd/internal/textclean"
	"clinicd/internal/tokenizer"
)

// Process runs classify, summarize and generate over req. The classifier is
// skipped in manual mode and the generator is replaced by a fixed template
// when its slot is empty.
func (m *Manager) Process(ctx context.Context, req Request) (res *PipelineResult, err error) {
	start := time.Now()
	stage := "prepare"
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("stage", stage).Interface("panic", r).Msg("pipeline panic")
			res, err = nil, &ProcessingError{Stage: stage, Cause: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			err = m.classifyErr(ctx, stage, err)
		}
	}()

	if !m.canServe(req.AutoClassify) {
		return nil, ErrModelsUnavailable
	}
	cleaned := textclean.Clean(req.Text)
	if cleaned == "" {
		return nil, ErrEmptyText
	}

	mode := ModeAuto
	var cls ClassificationResult
	low := false
	if req.AutoClassify {
		stage = "classify"
		cls, low, err = m.classify(ctx, cleaned)
		if err != nil {
			return nil, err
		}
	} else {
		mode = ModeManual
		idx, ok := m.lookupLabel(req.Pathology)
		if !ok {
			return nil, ErrInvalidPathology
		}
		cls = ClassificationResult{Label: m.labels[idx], LabelID: idx, Distribution: map[string]float64{}}
	}

	stage = "summarize"
	summary, err := m.summarize(ctx, cleaned)
	if err != nil {
		return nil, err
	}

	stage = "generate"
	rec, fallback, err := m.recommend(ctx, cls.Label, summary, mode)
	if err != nil {
		return nil, err
	}

	return &PipelineResult{
		Classification: cls,
		Summary:        summary,
		Recommendation: rec,
		Metadata: Metadata{
			InputLength:          textclean.Len(req.Text),
			SummaryLength:        textclean.Len(summary),
			RecommendationLength: textclean.Len(rec),
			ProcessingTime:       math.Round(time.Since(start).Seconds()*1000) / 1000,
			Device:               m.cfg.Device.String(),
			Mode:                 mode,
			GeneratorFallback:    fallback,
			LowConfidence:        low,
		},
	}, nil
}

// classifyErr maps stage failures onto the error taxonomy and counts them.
func (m *Manager) classifyErr(ctx context.Context, stage string, err error) error {
	var he interface{ StatusCode() int }
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = ErrTimeout
	case errors.Is(err, context.Canceled):
	case errors.As(err, &he):
	default:
		m.log.Error().Err(err).Str("stage", stage).Msg("pipeline stage failed")
		err = &ProcessingError{Stage: stage, Cause: err}
	}
	pipelineErrors.WithLabelValues(errorType(err)).Inc()
	return err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrModelsUnavailable):
		return "models_unavailable"
	case errors.Is(err, ErrClassificationFailed):
		return "classification_failed"
	case errors.Is(err, ErrInvalidPathology):
		return "invalid_pathology"
	case errors.Is(err, ErrEmptyText):
		return "empty_text"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case IsProcessingError(err):
		return "processing"
	}
	return "other"
}

// lookupLabel resolves an exact label name to its index.
func (m *Manager) lookupLabel(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	i, ok := m.labelIdx[name]
	return i, ok
}

func (m *Manager) classify(ctx context.Context, text string) (ClassificationResult, bool, error) {
	defer observeStage("classify", time.Now())
	s := &m.classifier
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return ClassificationResult{}, false, ErrModelsUnavailable
	}
	ids, err := s.tok.Encode(text, true)
	if err != nil {
		return ClassificationResult{}, false, fmt.Errorf("%w: tokenize: %v", ErrClassificationFailed, err)
	}
	ids = tokenizer.TruncateHead(ids, m.cfg.Classifier.MaxLength, true)
	logits, err := s.model.Logits(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return ClassificationResult{}, false, ctx.Err()
		}
		return ClassificationResult{}, false, fmt.Errorf("%w: %v", ErrClassificationFailed, err)
	}
	if len(logits) != len(m.labels) {
		return ClassificationResult{}, false, fmt.Errorf("%w: got %d logits for %d labels", ErrClassificationFailed, len(logits), len(m.labels))
	}
	probs := generate.Softmax(logits)
	idx := generate.Argmax(probs)
	if idx < 0 || math.IsNaN(probs[idx]) {
		return ClassificationResult{}, false, fmt.Errorf("%w: invalid logits", ErrClassificationFailed)
	}
	dist := make(map[string]float64, len(probs))
	for i, p := range probs {
		dist[m.labels[i]] = p
	}
	conf := probs[idx]
	res := ClassificationResult{Label: m.labels[idx], LabelID: idx, Confidence: &conf, Distribution: dist}

	low := conf < m.cfg.Classifier.ConfidenceThreshold
	if low {
		ev := m.log.Warn().Float64("confidence", conf).Float64("threshold", m.cfg.Classifier.ConfidenceThreshold)
		for rank, i := range topIndices(probs, 3) {
			ev = ev.Float64(fmt.Sprintf("top%d_%s", rank+1, m.labels[i]), probs[i])
		}
		ev.Str("label", res.Label).Msg("low classification confidence")
	}
	return res, low, nil
}

// topIndices returns the indices of the n largest values, highest first.
func topIndices(xs []float64, n int) []int {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] > xs[idx[b]] })
	if n < len(idx) {
		idx = idx[:n]
	}
	return idx
}

func (m *Manager) summarize(ctx context.Context, text string) (string, error) {
	defer observeStage("summarize", time.Now())
	s := &m.summarizer
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summ == nil {
		return "", ErrModelsUnavailable
	}
	return s.summ.Summarize(ctx, text)
}

// recommend generates the treatment text, or the fallback template when the
// generator slot is empty. fallback reports which one was used.
func (m *Manager) recommend(ctx context.Context, label, summary string, mode Mode) (text string, fallback bool, err error) {
	defer observeStage("generate", time.Now())
	s := &m.generator
	if err := s.mu.RLock(ctx); err != nil {
		return "", false, err
	}
	defer s.mu.RUnlock()
	if s.session == nil {
		generatorFallbacks.WithLabelValues("template").Inc()
		return fallbackRecommendation(label), true, nil
	}

	prompt, err := m.renderPrompt(s.tok, promptMessages(label, summary, mode))
	if err != nil {
		return "", false, err
	}
	g := m.cfg.Generator
	params := GenerateParams{
		Temperature:   float32(g.Temperature),
		TopP:          float32(g.TopP),
		TopK:          g.TopK,
		MaxTokens:     g.MaxNewTokens,
		Stop:          []string{tokenizer.Llama3EOT},
		Seed:          g.Seed,
		RepeatPenalty: float32(g.RepetitionPenalty),
	}
	out, err := s.session.Generate(ctx, prompt, params, nil)
	if err != nil {
		return "", false, err
	}
	return cleanRecommendation(decodeContinuation(s.tok, out.Content)), false, nil
}

// renderPrompt applies the chat template and keeps the last
// max_prompt_tokens tokens so the assistant header survives truncation.
// The runtime adds the BOS token itself.
func (m *Manager) renderPrompt(tok tokenizer.Tokenizer, msgs []tokenizer.ChatMessage) (string, error) {
	prompt := tokenizer.NewLlama3Template("").Apply(msgs)
	limit := m.cfg.Generator.MaxPromptTokens
	if limit <= 0 {
		return prompt, nil
	}
	ids, err := tok.Encode(prompt, false)
	if err != nil {
		return "", fmt.Errorf("tokenize prompt: %w", err)
	}
	if len(ids) <= limit {
		return prompt, nil
	}
	m.log.Warn().Int("tokens", len(ids)).Int("max", limit).Msg("prompt truncated")
	return tok.Decode(tokenizer.TruncateTail(ids, limit), false), nil
}

// decodeContinuation drops special tokens from generated text.
func decodeContinuation(tok tokenizer.Tokenizer, s string) string {
	ids, err := tok.Encode(s, false)
	if err != nil {
		return s
	}
	return tok.Decode(ids, true)
}
