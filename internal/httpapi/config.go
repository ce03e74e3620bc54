package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"clinicd/internal/auth"
	"clinicd/internal/config"
	"clinicd/internal/ratelimit"
)

// defaultMaxBodyBytes caps JSON request bodies when no limit is configured.
const defaultMaxBodyBytes int64 = 1 << 20

// Options configures the HTTP layer. The zero value serves every route
// without auth or rate limiting.
type Options struct {
	// MaxBodyBytes limits JSON request bodies. Non-positive means 1 MiB.
	MaxBodyBytes int64
	// MinTextLength is the minimum trimmed length of analyze text, in runes.
	MinTextLength int
	CORS          config.CORSConfig
	// Swagger mounts /swagger/* when the binary is built with -tags swagger.
	Swagger bool

	// BaseContext is canceled on shutdown; in-flight analyses observe it.
	BaseContext context.Context
	Logger      zerolog.Logger
	// LogLevel is the default request log level: off, error, info or debug.
	LogLevel string

	// Issuer enables the token endpoints and bearer identification.
	Issuer *auth.Issuer
	// RequireAuth rejects anonymous analyze requests.
	RequireAuth bool
	// Limiter applies tiered rate limits to the analyze route.
	Limiter *ratelimit.Limiter

	Version   string
	StartTime time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.MinTextLength < 0 {
		o.MinTextLength = 0
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.StartTime.IsZero() {
		o.StartTime = time.Now()
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	return o
}
