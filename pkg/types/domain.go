package types

// Artifact is a model artifact discovered on disk.
type Artifact struct {
	// classifier, summarizer, generator or adapter.
	// example: generator
	Kind string `json:"kind" example:"generator"`
	// example: Meta-Llama-3-8B-Instruct.Q4_K_M.gguf
	Name string `json:"name" example:"Meta-Llama-3-8B-Instruct.Q4_K_M.gguf"`
	// Absolute path to the file or directory.
	Path string `json:"path"`
	// Quantization variant parsed from the file name, if any.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Size in bytes (directories are summed).
	SizeBytes int64 `json:"size_bytes"`
}

// ModelStatus summarizes one model slot for /status.
type ModelStatus struct {
	// classifier, summarizer or generator.
	// example: generator
	Kind string `json:"kind" example:"generator"`
	// empty, loading, ready or error.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: true
	Loaded bool   `json:"loaded" example:"true"`
	Path   string `json:"path,omitempty"`
	// Artifact size on disk in bytes.
	SizeBytes int64 `json:"size_bytes,omitempty"`
	// When the slot was populated (unix seconds).
	LoadedAt int64 `json:"loaded_at_unix,omitempty"`
	// Load duration in seconds.
	LoadSeconds float64 `json:"load_seconds,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
	// Generator runtime: inprocess, spawn or remote.
	Runtime string `json:"runtime,omitempty"`
	// Summarizer runs behind the batching pipeline.
	Batched bool `json:"batched,omitempty"`
	// Generator weights are the 4-bit variant.
	Quantized bool `json:"quantized,omitempty"`
	// Generator runs with the fine-tuning adapter applied.
	AdapterApplied bool `json:"adapter_applied,omitempty"`
	// Adapter was requested but the device cannot host it; base weights are used.
	AdapterFallback bool `json:"adapter_fallback,omitempty"`
	// Tokenizer had no pad token; EOS is used instead.
	PadFromEOS bool `json:"pad_from_eos,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// ready, degraded (generator missing) or unavailable.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: cuda
	Device string        `json:"device" example:"cuda"`
	Models []ModelStatus `json:"models"`
	// Requests waiting for an inference slot.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Requests currently running the pipeline.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// example: 1
	MaxConcurrent int `json:"max_concurrent" example:"1"`
	// Successful model loads since start.
	LoadsTotal uint64 `json:"loads_total"`
	// Forced generator reloads since start.
	ReloadsTotal uint64 `json:"reloads_total"`
	// Last load error across slots.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
