package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"clinicd/internal/auth"
	"clinicd/internal/config"
	"clinicd/internal/device"
	"clinicd/internal/httpapi"
	"clinicd/internal/manager"
	"clinicd/internal/ratelimit"
	"clinicd/internal/registry"
)

// app holds everything serve and check share once the config is loaded.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	device device.Kind
	mgr    *manager.Manager
}

func setup(cmd *cobra.Command, v *viper.Viper) (*app, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	zlog.Logger = logger

	arts, err := registry.Fill(&cfg)
	if err != nil {
		return nil, err
	}
	kind := device.NewResolver(cfg.Device, device.SystemProbes()).Kind()
	logger.Info().
		Str("device", kind.String()).
		Int("artifacts", len(arts)).
		Str("classifier", cfg.Classifier.Path).
		Str("summarizer", cfg.Summarizer.Path).
		Str("generator", cfg.Generator.ModelPath).
		Msg("configuration resolved")

	mgr := manager.NewWithConfig(manager.ConfigFrom(cfg, kind, logger))
	return &app{cfg: cfg, log: logger, device: kind, mgr: mgr}, nil
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	a, err := setup(cmd, v)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.mgr.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close models")
		}
	}()
	cfg := a.cfg

	var issuer *auth.Issuer
	if cfg.Auth.Secret != "" {
		if issuer, err = auth.NewIssuer(cfg.Auth); err != nil {
			return err
		}
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// base is canceled only after the shutdown grace period, so in-flight
	// analyses get a chance to finish.
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	handler := httpapi.NewMux(a.mgr, httpapi.Options{
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		MinTextLength: cfg.MinTextLength,
		CORS:          cfg.Server.CORS,
		Swagger:       cfg.Server.Swagger,
		BaseContext:   base,
		Logger:        a.log,
		LogLevel:      cfg.Log.Level,
		Issuer:        issuer,
		RequireAuth:   cfg.Auth.Enabled,
		Limiter:       limiter,
		Version:       version,
		StartTime:     time.Now(),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("auth", issuer != nil).
			Bool("auth_required", cfg.Auth.Enabled).
			Bool("ratelimit", limiter != nil).
			Msg("clinicd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		err := srv.Shutdown(sctx)
		cancelBase()
		if err != nil {
			a.log.Warn().Err(err).Msg("graceful shutdown incomplete")
		}
		return nil
	})
	// models load in the background; /readyz reports loading until done
	g.Go(func() error {
		a.mgr.LoadAll(gctx)
		if !a.mgr.Ready() && gctx.Err() == nil {
			a.log.Error().Msg("critical models failed to load; analyze returns 503")
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx) })
	}
	g.Go(func() error { return reloadOnHangup(gctx, a) })

	return g.Wait()
}

// reloadOnHangup swaps the generator in place on SIGHUP.
func reloadOnHangup(ctx context.Context, a *app) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.log.Info().Msg("SIGHUP: reloading generator")
			if !a.mgr.ReloadGenerator(ctx) {
				a.log.Warn().Msg("generator reload failed; template recommendations in use")
			}
		}
	}
}
