package manager

import (
	"time"

	"github.com/rs/zerolog"

	"clinicd/internal/config"
	"clinicd/internal/device"
	"clinicd/internal/onnx"
	"clinicd/internal/tokenizer"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth  = 32
	defaultMaxWait        = 30 * time.Second
	defaultProcessTimeout = 120 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Device     device.Kind
	Labels     []string
	Classifier config.ClassifierConfig
	Summarizer config.SummarizerConfig
	Generator  config.GeneratorConfig
	ORT        config.ORTConfig

	MaxConcurrent  int
	MaxQueueDepth  int
	MaxWait        time.Duration
	ProcessTimeout time.Duration
	ParallelLoad   bool

	Logger    zerolog.Logger
	Publisher EventPublisher

	// Runtime hooks. Nil selects the ONNX Runtime, sugarme and llama.cpp
	// implementations.
	OpenClassifier func(dir string, numLabels int, opts onnx.Options) (onnx.SequenceClassifier, error)
	OpenSeq2Seq    func(dir string, opts onnx.Options) (onnx.Seq2Seq, error)
	LoadTokenizer  func(path string) (tokenizer.Tokenizer, error)
	Runtime        GeneratorRuntime
}

// ConfigFrom maps the service configuration onto ManagerConfig.
func ConfigFrom(c config.Config, kind device.Kind, log zerolog.Logger) ManagerConfig {
	return ManagerConfig{
		Device:         kind,
		Labels:         append([]string(nil), c.Labels...),
		Classifier:     c.Classifier,
		Summarizer:     c.Summarizer,
		Generator:      c.Generator,
		ORT:            c.ORT,
		MaxConcurrent:  c.Manager.MaxConcurrent,
		MaxQueueDepth:  c.Manager.MaxQueueDepth,
		MaxWait:        c.Manager.MaxWait.Std(),
		ProcessTimeout: c.Manager.ProcessTimeout.Std(),
		ParallelLoad:   c.Manager.ParallelLoad,
		Logger:         log,
	}
}

// NewWithConfig constructs a Manager from ManagerConfig. No model is loaded.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if len(cfg.Labels) == 0 {
		cfg.Labels = append([]string(nil), config.DefaultLabels...)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.OpenClassifier == nil {
		cfg.OpenClassifier = onnx.OpenClassifier
	}
	if cfg.OpenSeq2Seq == nil {
		cfg.OpenSeq2Seq = onnx.OpenSeq2Seq
	}
	if cfg.LoadTokenizer == nil {
		cfg.LoadTokenizer = loadHFTokenizer
	}
	if cfg.Runtime == nil {
		cfg.Runtime = newRuntime(cfg.Generator, cfg.Publisher)
	}
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		labels:    cfg.Labels,
		labelIdx:  make(map[string]int, len(cfg.Labels)),
		queueCh:   make(chan struct{}, cfg.MaxQueueDepth+cfg.MaxConcurrent),
		genCh:     make(chan struct{}, cfg.MaxConcurrent),
		startTime: time.Now(),
	}
	m.generator.mu = newSlotLock()
	for i, l := range cfg.Labels {
		m.labelIdx[l] = i
	}
	return m
}

// newRuntime picks the generator runtime named in the configuration.
func newRuntime(g config.GeneratorConfig, pub EventPublisher) GeneratorRuntime {
	switch g.Runtime {
	case config.RuntimeSpawn:
		a := NewLlamaSubprocessAdapter(SubprocessConfig{
			Bin:         g.LlamaBin,
			ContextSize: g.ContextSize,
			Threads:     g.Threads,
		})
		a.setPublisher(pub)
		return a
	case config.RuntimeRemote:
		return NewLlamaServerAdapter(g.RemoteURL, g.AccessToken, 0, 10*time.Second)
	default:
		return NewLlamaAdapter()
	}
}

func loadHFTokenizer(path string) (tokenizer.Tokenizer, error) {
	return tokenizer.LoadHF(path)
}
