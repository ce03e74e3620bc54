//go:build !llama

package manager

// No-CGO stub for the in-process runtime, compiled when the 'llama' build
// tag is not set. The spawn and remote runtimes work in either build.

import "context"

var llamaBuilt = false

type llamaAdapter struct{}

func NewLlamaAdapter() GeneratorRuntime { return &llamaAdapter{} }

func (a *llamaAdapter) Load(ctx context.Context, spec GeneratorSpec) (GeneratorSession, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
