package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/survey-spatial-api/internal/cache/redisstore"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/config"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/health"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/router"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/server"
	"github.com/mohammed-shakir/survey-spatial-api/internal/events"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features/cached"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features/memindex"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features/postgis"
	"github.com/mohammed-shakir/survey-spatial-api/internal/ingest"
	"github.com/mohammed-shakir/survey-spatial-api/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/survey-spatial-api/internal/logger"
	h3mapper "github.com/mohammed-shakir/survey-spatial-api/internal/mapper/h3"
	"github.com/mohammed-shakir/survey-spatial-api/internal/metrics"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses/memrepo"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses/redisrepo"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

type responseStore interface {
	responses.Repository
	ingest.Inserter
}

func run() int {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "survey-api",
		Component: "api",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	setupMetrics(ctx)
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting survey api",
		"addr", cfg.Addr,
		"version", Version,
		"feature_store", cfg.Features.Store,
		"response_store", cfg.Responses.Store)

	ready := map[string]health.Pinger{}

	featureRepo, closeFeatures, err := openFeatures(ctx, cfg.Features, ready)
	if err != nil {
		appLog.Error("feature store setup failed", "err", err)
		return 1
	}
	defer closeFeatures()
	featureCache := cached.New(featureRepo, cfg.Features.CacheSize, cfg.Features.CacheTTL)

	respRepo, closeResponses, err := openResponses(ctx, cfg.Responses, appLog)
	if err != nil {
		appLog.Error("response store setup failed", "err", err)
		return 1
	}
	defer closeResponses()
	ready["responses"] = respRepo

	var (
		respOpts   []responses.Option
		ingestOpts = []ingest.Option{ingest.WithLogger(appLog)}
	)
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.QueueSize, appLog)
		if err != nil {
			appLog.Error("event publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		respOpts = append(respOpts, responses.WithNotifier(pub))
		ingestOpts = append(ingestOpts, ingest.WithNotifier(pub))
	}

	if cfg.Invalidation.Enabled {
		kcfg := kafkaconsumer.FromEnv()
		kcfg.Brokers = cfg.Invalidation.Brokers
		kcfg.Topic = cfg.Invalidation.Topic
		kcfg.GroupID = cfg.Invalidation.GroupID
		cons := kafkaconsumer.New(kcfg, appLog, featureCache)
		go func() {
			if err := cons.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	api := router.New(
		features.NewService(featureCache, appLog),
		responses.NewService(respRepo, appLog, respOpts...),
		ingest.New(respRepo, cfg.IngestWorkers, ingestOpts...),
		appLog,
		router.Options{
			AnswersVisible: router.TokenGate(cfg.PublicAnswers, cfg.AdminToken),
			MaxBatchBytes:  cfg.MaxBatchBytes,
			StoreOpTimeout: cfg.StoreOpTimeout,
		},
	)

	if err := server.Run(ctx, cfg, appLog, server.Handler(cfg, appLog, api, ready)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openFeatures(ctx context.Context, fc config.FeatureCfg, ready map[string]health.Pinger) (features.Repository, func(), error) {
	switch fc.Store {
	case "memory":
		idx := memindex.New()
		if fc.File != "" {
			f, err := os.Open(fc.File)
			if err != nil {
				return nil, nil, fmt.Errorf("open features file: %w", err)
			}
			defer f.Close()
			if _, err := memindex.LoadGeoJSON(f, idx); err != nil {
				return nil, nil, err
			}
		}
		return idx, func() {}, nil
	case "postgis":
		st, err := postgis.Open(ctx, fc.DatabaseURL, fc.Table)
		if err != nil {
			return nil, nil, err
		}
		ready["features"] = st
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown FEATURE_STORE %q", fc.Store)
	}
}

func openResponses(ctx context.Context, rc config.ResponseCfg, l *slog.Logger) (responseStore, func(), error) {
	switch rc.Store {
	case "memory":
		return memrepo.New(), func() {}, nil
	case "redis":
		c, err := redisstore.New(ctx, rc.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return redisrepo.New(c, h3mapper.New(rc.MaxCells), rc.H3Res, l), func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown RESPONSE_STORE %q", rc.Store)
	}
}

// setupMetrics serves a dedicated registry on METRICS_ADDR when
// METRICS_ENABLED=true. Otherwise collectors stay on the default registry
// exposed at /metrics.
func setupMetrics(ctx context.Context) {
	if os.Getenv("METRICS_ENABLED") != "true" {
		observability.Init(nil, false)
		return
	}
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	path := os.Getenv("METRICS_PATH")
	if path == "" {
		path = "/metrics"
	}

	p := metrics.Init(metrics.Config{
		Enabled: true,
		Addr:    addr,
		Path:    path,
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)

	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("metrics: listening on %s%s", addr, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
	}()
}
