package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Duration decodes from strings like "30s" in every supported file format.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds runtime parameters for the service.
// Zero values left after Load are replaced by Default() values.
type Config struct {
	Server        ServerConfig     `json:"server" yaml:"server" toml:"server"`
	Log           LogConfig        `json:"log" yaml:"log" toml:"log"`
	Device        string           `json:"device" yaml:"device" toml:"device"`
	ModelsDir     string           `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Classifier    ClassifierConfig `json:"classifier" yaml:"classifier" toml:"classifier"`
	Summarizer    SummarizerConfig `json:"summarizer" yaml:"summarizer" toml:"summarizer"`
	Generator     GeneratorConfig  `json:"generator" yaml:"generator" toml:"generator"`
	Labels        []string         `json:"labels" yaml:"labels" toml:"labels"`
	MinTextLength int              `json:"min_text_length" yaml:"min_text_length" toml:"min_text_length"`
	Manager       ManagerConfig    `json:"manager" yaml:"manager" toml:"manager"`
	Auth          AuthConfig       `json:"auth" yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig  `json:"ratelimit" yaml:"ratelimit" toml:"ratelimit"`
	ORT           ORTConfig        `json:"ort" yaml:"ort" toml:"ort"`
}

type ServerConfig struct {
	Addr            string     `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes    int64      `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	Swagger         bool       `json:"swagger" yaml:"swagger" toml:"swagger"`
	ShutdownTimeout Duration   `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	CORS            CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// ClassifierConfig points at a directory holding model.onnx, tokenizer.json
// and config.json of a sequence classification model.
type ClassifierConfig struct {
	Path                string  `json:"path" yaml:"path" toml:"path"`
	MaxLength           int     `json:"max_length" yaml:"max_length" toml:"max_length"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" toml:"confidence_threshold"`
}

// SummarizerConfig points at a directory holding the encoder and decoder
// graphs of a seq2seq model plus its tokenizer and config.
type SummarizerConfig struct {
	Path           string   `json:"path" yaml:"path" toml:"path"`
	MinLength      int      `json:"min_length" yaml:"min_length" toml:"min_length"`
	MaxLength      int      `json:"max_length" yaml:"max_length" toml:"max_length"`
	MaxInputLength int      `json:"max_input_length" yaml:"max_input_length" toml:"max_input_length"`
	NumBeams       int      `json:"num_beams" yaml:"num_beams" toml:"num_beams"`
	LengthPenalty  float64  `json:"length_penalty" yaml:"length_penalty" toml:"length_penalty"`
	BatchSize      int      `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	BatchWindow    Duration `json:"batch_window" yaml:"batch_window" toml:"batch_window"`
}

// Generator runtimes.
const (
	RuntimeInProcess = "inprocess"
	RuntimeSpawn     = "spawn"
	RuntimeRemote    = "remote"
)

type GeneratorConfig struct {
	Runtime           string  `json:"runtime" yaml:"runtime" toml:"runtime"`
	ModelPath         string  `json:"model_path" yaml:"model_path" toml:"model_path"`
	QuantizedPath     string  `json:"quantized_path" yaml:"quantized_path" toml:"quantized_path"`
	TokenizerPath     string  `json:"tokenizer_path" yaml:"tokenizer_path" toml:"tokenizer_path"`
	AdapterPath       string  `json:"adapter_path" yaml:"adapter_path" toml:"adapter_path"`
	UseAdapter        bool    `json:"use_adapter" yaml:"use_adapter" toml:"use_adapter"`
	Quantize          bool    `json:"quantize" yaml:"quantize" toml:"quantize"`
	QuantType         string  `json:"quant_type" yaml:"quant_type" toml:"quant_type"`
	ComputeDType      string  `json:"compute_dtype" yaml:"compute_dtype" toml:"compute_dtype"`
	MaxNewTokens      int     `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
	MaxPromptTokens   int     `json:"max_prompt_tokens" yaml:"max_prompt_tokens" toml:"max_prompt_tokens"`
	Temperature       float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP              float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK              int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty" yaml:"repetition_penalty" toml:"repetition_penalty"`
	Seed              int     `json:"seed" yaml:"seed" toml:"seed"`
	ContextSize       int     `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads           int     `json:"threads" yaml:"threads" toml:"threads"`
	LlamaBin          string  `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	RemoteURL         string  `json:"remote_url" yaml:"remote_url" toml:"remote_url"`
	AccessToken       string  `json:"-" yaml:"-" toml:"-"`
}

type ManagerConfig struct {
	MaxConcurrent  int      `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	MaxQueueDepth  int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait        Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	ProcessTimeout Duration `json:"process_timeout" yaml:"process_timeout" toml:"process_timeout"`
	ParallelLoad   bool     `json:"parallel_load" yaml:"parallel_load" toml:"parallel_load"`
}

type AuthConfig struct {
	Enabled    bool         `json:"enabled" yaml:"enabled" toml:"enabled"`
	Secret     string       `json:"-" yaml:"-" toml:"-"`
	AccessTTL  Duration     `json:"access_ttl" yaml:"access_ttl" toml:"access_ttl"`
	RefreshTTL Duration     `json:"refresh_ttl" yaml:"refresh_ttl" toml:"refresh_ttl"`
	Users      []UserConfig `json:"users" yaml:"users" toml:"users"`
}

// UserConfig is a static account. PasswordHash is a bcrypt hash.
type UserConfig struct {
	Username     string `json:"username" yaml:"username" toml:"username"`
	Email        string `json:"email" yaml:"email" toml:"email"`
	PasswordHash string `json:"password_hash" yaml:"password_hash" toml:"password_hash"`
	Tier         string `json:"tier" yaml:"tier" toml:"tier"`
}

// RateLimitConfig holds requests allowed per Window for each tier.
type RateLimitConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Anonymous     int      `json:"anonymous" yaml:"anonymous" toml:"anonymous"`
	Authenticated int      `json:"authenticated" yaml:"authenticated" toml:"authenticated"`
	Premium       int      `json:"premium" yaml:"premium" toml:"premium"`
	Window        Duration `json:"window" yaml:"window" toml:"window"`
}

type ORTConfig struct {
	LibraryPath string `json:"library_path" yaml:"library_path" toml:"library_path"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
}

// DefaultLabels is the condition vocabulary the bundled classifier was trained on.
var DefaultLabels = []string{"BPD", "Bipolar Disorder", "Depression", "Anxiety", "Schizophrenia"}

// Default returns a Config populated with production defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: Duration(10 * time.Second),
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "OPTIONS"},
				Headers: []string{"Authorization", "Content-Type", "X-Request-Id"},
			},
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		Device:    "auto",
		ModelsDir: "./models",
		Classifier: ClassifierConfig{
			MaxLength:           192,
			ConfidenceThreshold: 0.6,
		},
		Summarizer: SummarizerConfig{
			MinLength:      128,
			MaxLength:      256,
			MaxInputLength: 1024,
			NumBeams:       4,
			LengthPenalty:  1.0,
			BatchSize:      4,
			BatchWindow:    Duration(10 * time.Millisecond),
		},
		Generator: GeneratorConfig{
			Runtime:           RuntimeInProcess,
			UseAdapter:        true,
			Quantize:          true,
			QuantType:         "nf4",
			ComputeDType:      "bfloat16",
			MaxNewTokens:      512,
			MaxPromptTokens:   2048,
			Temperature:       0.7,
			TopP:              0.9,
			TopK:              50,
			RepetitionPenalty: 1.15,
			ContextSize:       4096,
			LlamaBin:          "llama-server",
		},
		Labels:        append([]string(nil), DefaultLabels...),
		MinTextLength: 50,
		Manager: ManagerConfig{
			MaxConcurrent:  1,
			MaxQueueDepth:  32,
			MaxWait:        Duration(30 * time.Second),
			ProcessTimeout: Duration(120 * time.Second),
		},
		Auth: AuthConfig{
			AccessTTL:  Duration(30 * time.Minute),
			RefreshTTL: Duration(7 * 24 * time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Anonymous:     10,
			Authenticated: 100,
			Premium:       1000,
			Window:        Duration(time.Minute),
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	switch strings.ToLower(c.Device) {
	case "", "auto", "cuda", "mps", "metal", "cpu":
	default:
		return fmt.Errorf("device: unknown value %q", c.Device)
	}
	if err := ValidateLabels(c.Labels); err != nil {
		return err
	}
	if c.MinTextLength < 0 {
		return errors.New("min_text_length must be >= 0")
	}
	if c.Classifier.MaxLength <= 0 {
		return errors.New("classifier.max_length must be > 0")
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return errors.New("classifier.confidence_threshold must be within [0,1]")
	}
	s := c.Summarizer
	if s.MinLength < 0 || s.MaxLength <= 0 || s.MinLength > s.MaxLength {
		return fmt.Errorf("summarizer: need 0 <= min_length (%d) <= max_length (%d)", s.MinLength, s.MaxLength)
	}
	if s.NumBeams <= 0 {
		return errors.New("summarizer.num_beams must be > 0")
	}
	g := c.Generator
	switch g.Runtime {
	case RuntimeInProcess, RuntimeSpawn:
	case RuntimeRemote:
		if strings.TrimSpace(g.RemoteURL) == "" {
			return errors.New("generator.remote_url is required for the remote runtime")
		}
	default:
		return fmt.Errorf("generator.runtime: unknown value %q", g.Runtime)
	}
	if g.MaxNewTokens <= 0 {
		return errors.New("generator.max_new_tokens must be > 0")
	}
	if g.Temperature < 0 || g.TopP < 0 || g.TopP > 1 {
		return errors.New("generator: temperature must be >= 0 and top_p within [0,1]")
	}
	if c.Manager.MaxConcurrent <= 0 || c.Manager.MaxQueueDepth <= 0 {
		return errors.New("manager: max_concurrent and max_queue_depth must be > 0")
	}
	if c.Auth.Enabled && len(c.Auth.Secret) < 16 {
		return errors.New("auth: secret must be at least 16 bytes when auth is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Anonymous <= 0 || c.RateLimit.Authenticated <= 0 || c.RateLimit.Premium <= 0) {
		return errors.New("ratelimit: per-tier limits must be > 0")
	}
	return nil
}

// ValidateLabels checks that labels form a bijection between indices and names.
func ValidateLabels(labels []string) error {
	if len(labels) < 2 {
		return fmt.Errorf("labels: need at least 2 entries, got %d", len(labels))
	}
	seen := make(map[string]int, len(labels))
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("labels[%d] is empty", i)
		}
		if j, ok := seen[l]; ok {
			return fmt.Errorf("labels: %q appears at %d and %d", l, j, i)
		}
		seen[l] = i
	}
	return nil
}
