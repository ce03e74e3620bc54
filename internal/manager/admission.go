package manager

import (
	"context"
	"time"
)

// beginRequest reserves a queue slot and then one of the in-flight slots.
// Returns a release func to be deferred.
func (m *Manager) beginRequest(ctx context.Context) (func(), error) {
	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()

	// Reserving a queue slot must not block: a full queue is rejected at once.
	select {
	case m.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	default:
		admissionRejected.WithLabelValues("queue_full").Inc()
		return func() {}, tooBusyError{reason: "queue full"}
	}
	queueDepth.Set(float64(len(m.queueCh)))

	acquired := false
	defer func() {
		if !acquired {
			<-m.queueCh
			queueDepth.Set(float64(len(m.queueCh)))
		}
	}()
	select {
	case m.genCh <- struct{}{}:
		acquired = true
		return func() {
			<-m.genCh
			<-m.queueCh
			queueDepth.Set(float64(len(m.queueCh)))
		}, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		admissionRejected.WithLabelValues("wait_timeout").Inc()
		return func() {}, tooBusyError{reason: "timed out waiting for an inference slot"}
	}
}
