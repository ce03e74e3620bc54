package httpapi

import (
	"context"
)

// joinContexts derives from base a context that is also canceled when req is
// done. Analyses then stop on either server shutdown or client disconnect.
// The returned cancel func must be called when the handler ends.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(req, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
