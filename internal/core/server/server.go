package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/config"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/health"
	middleware "github.com/mohammed-shakir/survey-spatial-api/internal/core/middleware"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/router"
)

// Handler assembles the full HTTP surface: probes, metrics and the API
// mounted under cfg.APIPrefix.
func Handler(cfg config.Config, logger *slog.Logger, api *router.API, ready map[string]health.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ready, cfg.StoreOpTimeout))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if cfg.APIPrefix == "" {
		api.Register(r)
	} else {
		r.Route(cfg.APIPrefix, api.Register)
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
