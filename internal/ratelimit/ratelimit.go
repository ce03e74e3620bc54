// Package ratelimit applies per-tier token buckets keyed by tier and client
// address.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clinicd/internal/auth"
	"clinicd/internal/config"
	"clinicd/pkg/types"
)

// Limiter holds one bucket per tier:address. Buckets hold a full window of
// requests and refill continuously.
type Limiter struct {
	mu       sync.Mutex
	perTier  map[auth.Tier]int
	window   time.Duration
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time

	// OnReject is called for every rejected request.
	OnReject func(tier auth.Tier)
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// New builds a Limiter from the rate limit config.
func New(c config.RateLimitConfig) *Limiter {
	window := c.Window.Std()
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		perTier: map[auth.Tier]int{
			auth.TierAnonymous:     c.Anonymous,
			auth.TierAuthenticated: c.Authenticated,
			auth.TierPremium:       c.Premium,
		},
		window:   window,
		idle:     2 * window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Limit returns the number of requests per window allowed for tier.
// Unknown tiers get the anonymous limit.
func (l *Limiter) Limit(tier auth.Tier) int {
	if n, ok := l.perTier[tier]; ok {
		return n
	}
	return l.perTier[auth.TierAnonymous]
}

// Allow consumes one token for key under tier. When the bucket is empty it
// returns false and how long until a token is available.
func (l *Limiter) Allow(tier auth.Tier, addr string) (bool, time.Duration) {
	n := l.Limit(tier)
	if n <= 0 {
		return true, 0
	}
	now := l.now()
	key := string(tier) + ":" + addr

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Every(l.window/time.Duration(n)), n)}
		l.visitors[key] = v
	}
	v.seen = now
	l.mu.Unlock()

	r := v.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep drops buckets not used for twice the window. It returns how many
// were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, v := range l.visitors {
		if v.seen.Before(cutoff) {
			delete(l.visitors, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Run sweeps idle buckets every window until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.Sweep()
		}
	}
}

// Middleware rejects requests over their tier's limit with 429 and a
// Retry-After header. The tier comes from the auth identity in the context.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := auth.TierOf(r)
		ok, wait := l.Allow(tier, clientAddr(r))
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		if l.OnReject != nil {
			l.OnReject(tier)
		}
		secs := int((wait + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Limit(tier)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{
			Error: "rate limit exceeded, try again in " + strconv.Itoa(secs) + " seconds",
			Code:  http.StatusTooManyRequests,
		})
	})
}

// clientAddr is the remote host without port. chi's RealIP middleware has
// already replaced RemoteAddr from X-Forwarded-For when present.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
