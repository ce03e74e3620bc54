package manager

import (
	"context"
	"time"
)

// ReloadGenerator replaces the generator session. The slot write lock is held
// for the whole swap, so requests already generating finish first and new
// ones wait for the replacement: nobody observes a half-swapped slot. The old
// session is closed and memory reclaimed before the new weights load.
// On failure the slot is left empty and recommendations fall back to the
// template.
func (m *Manager) ReloadGenerator(ctx context.Context) bool {
	return m.loadOnce(string(SlotGenerator)+":reload", func() bool {
		s := &m.generator
		if err := s.mu.Lock(ctx); err != nil {
			m.log.Warn().Err(err).Msg("generator reload abandoned")
			return false
		}
		defer s.mu.Unlock()
		m.reloadsTotal.Add(1)
		m.cfg.Publisher.Publish(Event{Name: EventReload, Model: SlotGenerator, Fields: map[string]any{"had_session": s.session != nil}})
		if s.session != nil {
			s.reset()
			setLoadedGauge(SlotGenerator, false)
		}
		m.reclaim()

		start := m.beginLoad(SlotGenerator, m.generatorPath())
		lg, err := m.openGenerator(ctx)
		if err != nil {
			s.reset()
			m.failLoad(SlotGenerator, start, err)
			return false
		}
		m.install(lg)
		m.finishLoad(SlotGenerator, start)
		m.log.Info().Dur("took", time.Since(start)).Msg("generator reloaded")
		return true
	})
}
