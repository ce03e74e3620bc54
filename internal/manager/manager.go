package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"clinicd/internal/device"
)

// Manager owns the classifier, summarizer and generator slots and runs the
// analysis pipeline over them. It is created once per process and shared.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	classifier classifierSlot
	summarizer summarizerSlot
	generator  generatorSlot
	// infoMu guards the info field of every slot so status reads never wait
	// behind a load holding a slot lock.
	infoMu sync.Mutex

	labels   []string
	labelIdx map[string]int

	// loads collapses concurrent calls to the same loader.
	loads singleflight.Group

	// Admission primitives
	queueCh chan struct{}
	genCh   chan struct{}

	loadsTotal   atomic.Uint64
	reloadsTotal atomic.Uint64
	closed       atomic.Bool
	startTime    time.Time
}

// New builds a Manager for the given device and labels with default tunables.
func New(kind device.Kind, labels []string, log zerolog.Logger) *Manager {
	return NewWithConfig(ManagerConfig{Device: kind, Labels: labels, Logger: log})
}

// Ready reports whether the classifier and summarizer are loaded. The
// generator is optional: without it recommendations use the fallback template.
func (m *Manager) Ready() bool {
	m.infoMu.Lock()
	defer m.infoMu.Unlock()
	return m.classifier.info.state == StateReady && m.summarizer.info.state == StateReady
}

// canServe reports whether the slots a request needs are loaded: the
// summarizer always, the classifier only in auto mode.
func (m *Manager) canServe(auto bool) bool {
	m.infoMu.Lock()
	defer m.infoMu.Unlock()
	if m.summarizer.info.state != StateReady {
		return false
	}
	return !auto || m.classifier.info.state == StateReady
}

// GeneratorLoaded reports whether the generator slot is populated.
func (m *Manager) GeneratorLoaded() bool {
	m.infoMu.Lock()
	defer m.infoMu.Unlock()
	return m.generator.info.state == StateReady
}

// Device returns the device models are placed on.
func (m *Manager) Device() device.Kind { return m.cfg.Device }

// Labels returns the label map in index order.
func (m *Manager) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// Close releases every loaded model. Subsequent calls are no-ops.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	_ = m.generator.mu.Lock(context.Background())
	if m.generator.session != nil {
		if err := m.generator.session.Close(); err != nil {
			errs = append(errs, err)
		}
		m.generator.session = nil
	}
	m.generator.reset()
	m.generator.mu.Unlock()

	m.summarizer.mu.Lock()
	m.summarizer.reset()
	m.summarizer.mu.Unlock()

	m.classifier.mu.Lock()
	m.classifier.reset()
	m.classifier.mu.Unlock()

	for _, k := range []SlotKind{SlotClassifier, SlotSummarizer, SlotGenerator} {
		m.updateInfo(k, func(in *slotInfo) { in.state = StateEmpty })
	}

	if s, ok := m.cfg.Runtime.(interface{ StopAll() }); ok {
		s.StopAll()
	}
	for _, k := range []SlotKind{SlotClassifier, SlotSummarizer, SlotGenerator} {
		setLoadedGauge(k, false)
	}
	return errors.Join(errs...)
}
