package manager

import (
	"sync"
	"time"

	"clinicd/internal/onnx"
	"clinicd/internal/tokenizer"
)

// State represents the lifecycle state of a model slot.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// SlotKind names one of the three model slots.
type SlotKind string

const (
	SlotClassifier SlotKind = "classifier"
	SlotSummarizer SlotKind = "summarizer"
	SlotGenerator  SlotKind = "generator"
)

// Mode selects how the condition is obtained.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Request is one pipeline invocation. Pathology is required when
// AutoClassify is false.
type Request struct {
	Text         string
	AutoClassify bool
	Pathology    string
}

// ClassificationResult is the classifier verdict. In manual mode Confidence
// is nil and Distribution is empty.
type ClassificationResult struct {
	Label        string
	LabelID      int
	Confidence   *float64
	Distribution map[string]float64
}

// Metadata describes one pipeline run. Lengths count runes.
type Metadata struct {
	InputLength          int
	SummaryLength        int
	RecommendationLength int
	ProcessingTime       float64
	Device               string
	Mode                 Mode
	GeneratorFallback    bool
	LowConfidence        bool
}

// PipelineResult is assembled fresh for every request.
type PipelineResult struct {
	Classification ClassificationResult
	Summary        string
	Recommendation string
	Metadata       Metadata
}

// slotInfo is the bookkeeping shared by all slots.
type slotInfo struct {
	state        State
	path         string
	sizeBytes    int64
	loadedAt     time.Time
	loadDuration time.Duration
	lastError    string
}

// A slot is either empty (all handles nil) or fully populated. Inference
// holds mu.RLock for the duration of its stage; installing, reloading and
// closing hold mu.Lock. info is guarded by Manager.infoMu, not mu.
type classifierSlot struct {
	mu    sync.RWMutex
	model onnx.SequenceClassifier
	tok   tokenizer.Tokenizer
	info  slotInfo
}

func (s *classifierSlot) reset() {
	if s.model != nil {
		_ = s.model.Close()
	}
	s.model, s.tok = nil, nil
}

type summarizerSlot struct {
	mu      sync.RWMutex
	summ    Summarizer
	raw     onnx.Seq2Seq
	tok     tokenizer.Tokenizer
	batched bool
	info    slotInfo
}

func (s *summarizerSlot) reset() {
	if s.summ != nil {
		_ = s.summ.Close()
	} else if s.raw != nil {
		_ = s.raw.Close()
	}
	s.summ, s.raw, s.tok, s.batched = nil, nil, nil, false
}

type generatorSlot struct {
	// mu is context aware: a reload holds it while weights load.
	mu      slotLock
	session GeneratorSession
	tok     tokenizer.Tokenizer
	spec    GeneratorSpec
	// adapterFallback records that an adapter was requested but the base
	// weights were loaded instead.
	adapterFallback bool
	padFromEOS      bool
	info            slotInfo
}

func (s *generatorSlot) reset() {
	if s.session != nil {
		_ = s.session.Close()
	}
	s.session, s.tok = nil, nil
	s.spec = GeneratorSpec{}
	s.adapterFallback, s.padFromEOS = false, false
}
