package manager

import (
	"context"
	"errors"
)

// Analyze is the request entry point: it waits for an admission slot, then
// runs Process under the configured per-request timeout.
func (m *Manager) Analyze(ctx context.Context, req Request) (*PipelineResult, error) {
	if !m.canServe(req.AutoClassify) {
		pipelineErrors.WithLabelValues("models_unavailable").Inc()
		return nil, ErrModelsUnavailable
	}
	release, err := m.beginRequest(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	defer release()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProcessTimeout)
	defer cancel()
	return m.Process(ctx, req)
}
