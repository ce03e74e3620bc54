// Package manager owns the three model slots (classifier, summarizer,
// generator) and runs the analysis pipeline over them. It is structured into
// small files by concern:
//
//   - manager.go: core Manager type, readiness, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: slot, request and result types.
//   - errors.go: error taxonomy with HTTP status codes.
//   - ensure.go: classifier and summarizer loaders, LoadAll.
//   - generator.go: generator loader with the quantization and adapter rules.
//   - unload.go, evict.go: forced generator reload and memory reclaim.
//   - summarizer.go: raw and batched seq2seq summarizers.
//   - process.go, prompts.go: the three-stage pipeline.
//   - admission.go, analyze.go: bounded admission and the request entry point.
//   - status_report.go, sanity.go: status and artifact checks.
//
// Generator runtimes:
//
//   - In-process llama.cpp via go-llama.cpp. Enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub exists when the tag is not set: adapter_llama_stub.go.
//
//   - Spawned llama-server (generator.runtime: spawn), one process per
//     weights file, talked to over the OpenAI-compatible completions API.
//
//   - Remote llama-server (generator.runtime: remote).
//
// The classifier and summarizer run through ONNX Runtime (package onnx,
// `-tags=ort`).
package manager
