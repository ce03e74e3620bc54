package manager

import "context"

// GeneratorRuntime abstracts the llama.cpp runtime used for the generator
// slot. Implementations: in-process (cgo, 'llama' tag), spawned
// llama-server subprocess, and a remote llama-server.
type GeneratorRuntime interface {
	// Load prepares a session for the weights described by spec.
	Load(ctx context.Context, spec GeneratorSpec) (GeneratorSession, error)
}

// GeneratorSession is a loaded generator, reused across requests.
type GeneratorSession interface {
	// Generate streams tokens for the given prompt and returns only the
	// continuation. Implementations must return when ctx is canceled.
	Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (FinalResult, error)
	// Close releases any resources associated with the session.
	Close() error
}

// GeneratorSpec describes which weights to load and where.
type GeneratorSpec struct {
	ModelPath string
	// BasePath is the full-precision model the adapter was trained on; set
	// when ModelPath is a quantized variant and an adapter is applied.
	BasePath    string
	AdapterPath string
	// Quantized marks ModelPath as the 4-bit variant.
	Quantized bool
	// F16Memory keeps the KV cache in half precision.
	F16Memory   bool
	GPULayers   int
	ContextSize int
	Threads     int
}

// GenerateParams captures sampling parameters.
type GenerateParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
