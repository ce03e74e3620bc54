package manager

import (
	"time"

	"clinicd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	resp := types.StatusResponse{
		Device:         m.cfg.Device.String(),
		QueueLen:       max(0, len(m.queueCh)-len(m.genCh)),
		Inflight:       len(m.genCh),
		MaxQueueDepth:  m.cfg.MaxQueueDepth,
		MaxConcurrent:  m.cfg.MaxConcurrent,
		LoadsTotal:     m.loadsTotal.Load(),
		ReloadsTotal:   m.reloadsTotal.Load(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}

	// Generator runtime details are read before infoMu; the slot lock may be
	// held by a reload, in which case they are omitted.
	var gen types.ModelStatus
	if m.generator.mu.TryRLock() {
		s := &m.generator
		gen.Quantized = s.spec.Quantized
		gen.AdapterApplied = s.session != nil && s.spec.AdapterPath != ""
		gen.AdapterFallback = s.adapterFallback
		gen.PadFromEOS = s.padFromEOS
		s.mu.RUnlock()
	}
	var batched bool
	if m.summarizer.mu.TryRLock() {
		batched = m.summarizer.batched
		m.summarizer.mu.RUnlock()
	}

	m.infoMu.Lock()
	defer m.infoMu.Unlock()
	for _, k := range []SlotKind{SlotClassifier, SlotSummarizer, SlotGenerator} {
		in := m.infoOf(k)
		ms := types.ModelStatus{
			Kind:      string(k),
			State:     string(stateOrEmpty(in.state)),
			Loaded:    in.state == StateReady,
			Path:      in.path,
			SizeBytes: in.sizeBytes,
			LastError: in.lastError,
		}
		if !in.loadedAt.IsZero() {
			ms.LoadedAt = in.loadedAt.Unix()
		}
		if in.loadDuration > 0 {
			ms.LoadSeconds = in.loadDuration.Seconds()
		}
		switch k {
		case SlotSummarizer:
			ms.Batched = batched
		case SlotGenerator:
			ms.Runtime = m.cfg.Generator.Runtime
			ms.Quantized = gen.Quantized
			ms.AdapterApplied = gen.AdapterApplied
			ms.AdapterFallback = gen.AdapterFallback
			ms.PadFromEOS = gen.PadFromEOS
		}
		if in.lastError != "" {
			resp.LastError = in.lastError
		}
		resp.Models = append(resp.Models, ms)
	}
	switch {
	case m.classifier.info.state != StateReady || m.summarizer.info.state != StateReady:
		resp.State = "unavailable"
	case m.generator.info.state != StateReady:
		resp.State = "degraded"
	default:
		resp.State = "ready"
	}
	return resp
}

func stateOrEmpty(s State) State {
	if s == "" {
		return StateEmpty
	}
	return s
}
