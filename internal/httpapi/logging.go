package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// requestLogLevel applies the ?log= and X-Log-Level overrides to def.
func requestLogLevel(r *http.Request, def LogLevel) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return def
}

// loggerFrom returns the request-scoped logger installed by requestLogger.
func loggerFrom(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}

// requestLogger installs a logger carrying the request id into the request
// context and logs one line per request at the effective level.
func requestLogger(base zerolog.Logger, def LogLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lvl := requestLogLevel(r, def)
			l := base.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			switch lvl {
			case LevelOff:
				l = l.Level(zerolog.Disabled)
			case LevelError:
				l = l.Level(zerolog.ErrorLevel)
			case LevelInfo:
				l = l.Level(zerolog.InfoLevel)
			case LevelDebug:
				l = l.Level(zerolog.DebugLevel)
			}
			r = r.WithContext(l.WithContext(r.Context()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if lvl == LevelOff || (lvl == LevelError && status < http.StatusInternalServerError) {
				return
			}
			ev := l.Info()
			if status >= http.StatusInternalServerError {
				ev = l.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("dur", time.Since(start)).
				Msg("request")
		})
	}
}
