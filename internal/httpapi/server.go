package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinicd/internal/auth"
	"clinicd/internal/device"
	"clinicd/internal/manager"
	"clinicd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Analyze(ctx context.Context, req manager.Request) (*manager.PipelineResult, error)
	Ready() bool
	GeneratorLoaded() bool
	Status() types.StatusResponse
	Device() device.Kind
	Labels() []string
}

type server struct {
	svc  Service
	opts Options
}

// NewMux builds the HTTP handler for svc.
func NewMux(svc Service, opts Options) http.Handler {
	s := &server{svc: svc, opts: opts.withDefaults()}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.opts.Logger, parseLevel(s.opts.LogLevel)))
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if c := s.opts.CORS; c.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: c.Origins,
			AllowedMethods: c.Methods,
			AllowedHeaders: c.Headers,
			ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				w.Header().Set("X-Request-Id", rid)
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(s.opts.Issuer.Identify)

	r.Get("/", s.handleRoot)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.handleHealth)
		r.Get("/live", s.handleLive)
		r.Get("/ready", s.handleReady)
		r.Get("/detailed", s.handleDetailed)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleAPIHealth)
		r.Get("/get_status", s.handleDeviceStatus)
		r.Get("/labels", s.handleLabels)

		r.Group(func(r chi.Router) {
			if s.opts.RequireAuth {
				r.Use(auth.RequireUser)
			}
			if l := s.opts.Limiter; l != nil {
				if l.OnReject == nil {
					l.OnReject = func(auth.Tier) { IncrementBackpressure("ratelimit") }
				}
				r.Use(l.Middleware)
			}
			r.Post("/analyze", s.handleAnalyze)
		})

		if s.opts.Issuer != nil {
			r.Post("/auth/token", s.handleToken)
			r.Post("/auth/refresh", s.handleRefresh)
		}
	})

	if s.opts.Swagger && !MountSwagger(r) {
		s.opts.Logger.Warn().Msg("swagger requested but binary built without the swagger tag")
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
