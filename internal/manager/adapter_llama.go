//go:build llama

package manager

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// allGPULayers is large enough for llama.cpp to offload every layer.
const allGPULayers = 999

// llamaAdapter loads GGUF weights in-process through go-llama.cpp.
type llamaAdapter struct{}

func NewLlamaAdapter() GeneratorRuntime { return &llamaAdapter{} }

// llamaSession owns the loaded model. go-llama.cpp models are not safe for
// concurrent prediction, so Generate is serialized.
type llamaSession struct {
	mu      chan struct{}
	model   *llama.LLama
	threads int
}

func (a *llamaAdapter) Load(ctx context.Context, spec GeneratorSpec) (GeneratorSession, error) {
	if strings.TrimSpace(spec.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{
		llama.SetContext(spec.ContextSize),
		llama.SetMMap(true),
	}
	switch {
	case spec.GPULayers < 0:
		mo = append(mo, llama.SetGPULayers(allGPULayers))
	case spec.GPULayers > 0:
		mo = append(mo, llama.SetGPULayers(spec.GPULayers))
	}
	if spec.F16Memory {
		mo = append(mo, llama.EnableF16Memory)
	}
	if spec.AdapterPath != "" {
		mo = append(mo, llama.SetLoraAdapter(spec.AdapterPath))
		if spec.BasePath != "" {
			mo = append(mo, llama.SetLoraBase(spec.BasePath))
		}
	}
	m, err := llama.New(spec.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaSession{mu: make(chan struct{}, 1), model: m, threads: spec.Threads}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (FinalResult, error) {
	select {
	case s.mu <- struct{}{}:
		defer func() { <-s.mu }()
	case <-ctx.Done():
		return FinalResult{}, ctx.Err()
	}
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	// Bridge token streaming to onToken and respect cancellation
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken == nil {
			return true
		}
		return onToken(tok) == nil
	})
	defer s.model.SetTokenCallback(nil)

	text, err := s.model.Predict(prompt, predictOptions(params, s.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	if ctx.Err() != nil {
		return FinalResult{}, ctx.Err()
	}
	return FinalResult{Content: text, FinishReason: "stop"}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts sampling params into go-llama.cpp options.
func predictOptions(params GenerateParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
