package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/context"

	"github.com/cvemind/cvemind/pkg/etc"
	"github.com/cvemind/cvemind/pkg/genai"
	"github.com/cvemind/cvemind/pkg/http/api"
	v1 "github.com/cvemind/cvemind/pkg/http/api/v1"
	"github.com/cvemind/cvemind/pkg/lookup"
	"github.com/cvemind/cvemind/pkg/metrics"
	"github.com/cvemind/cvemind/pkg/nvd"
	"github.com/cvemind/cvemind/pkg/persistence"
	"github.com/cvemind/cvemind/pkg/persistence/redis"
	"github.com/cvemind/cvemind/pkg/persistence/sqlite"
	"github.com/cvemind/cvemind/pkg/ratelimit"
	"github.com/cvemind/cvemind/pkg/redisx"
	"github.com/cvemind/cvemind/pkg/telemetry"
)

var (
	// Default wise GoReleaser sets three ldflags:
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env file is not an error; the environment may already be populated.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: etc.GetLogLevel(),
	}))
	slog.SetDefault(logger)

	info := etc.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	if err := run(info); err != nil {
		slog.Error("Error while running cvemind", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(info etc.BuildInfo) error {
	slog.Info("Starting cvemind",
		slog.String("version", info.Version),
		slog.String("commit", info.Commit),
		slog.String("built_at", info.Date),
	)

	config, err := etc.GetConfig()
	if err != nil {
		return fmt.Errorf("getting config: %w", err)
	}
	if err = etc.Check(config); err != nil {
		return fmt.Errorf("checking config: %w", err)
	}

	shutdownTracer := func(context.Context) error { return nil }
	if config.Tracing.Enabled {
		if shutdownTracer, err = telemetry.InitTracer(context.Background(), info, os.Stdout); err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	store, closeStore, err := setupStore(config)
	if err != nil {
		return err
	}

	remote, err := nvd.NewClient(config.NVD, m)
	if err != nil {
		return fmt.Errorf("creating nvd client: %w", err)
	}
	summarizer := genai.NewClient(config.GenAI, m)
	service := lookup.NewService(store, remote, config.Lookup, m)
	limiter := ratelimit.NewLimiter(config.RateLimit.Capacity, config.RateLimit.RefillPeriod)

	apiHandler := v1.NewAPIHandler(service, remote, summarizer, limiter, m)
	apiServer, err := api.NewServer(config.API, apiHandler)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	var metricsServer *metrics.Server
	if config.Metrics.Enabled {
		metricsServer = metrics.NewServer(config.Metrics, prometheus.DefaultGatherer)
	}

	shutdownComplete := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		captured := <-sigint
		slog.Debug("Trapped os signal", slog.String("signal", captured.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		apiServer.Shutdown(ctx)
		if metricsServer != nil {
			metricsServer.Shutdown(ctx)
		}
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("Error while flushing traces", slog.String("err", err.Error()))
		}
		closeStore()

		close(shutdownComplete)
	}()

	apiServer.ListenAndServe()
	if metricsServer != nil {
		metricsServer.ListenAndServe()
	}

	<-shutdownComplete
	return nil
}

func setupStore(config etc.Config) (persistence.Store, func(), error) {
	switch config.Store.Type {
	case etc.StoreTypeRedis:
		rdb, err := redisx.NewClient(config.RedisPool)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis client: %w", err)
		}
		closeStore := func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Error while closing redis client", slog.String("err", err.Error()))
			}
		}
		return redis.NewStore(config.Store, rdb), closeStore, nil
	case etc.StoreTypeSQLite:
		db, err := sqlite.Open(config.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		store, err := sqlite.NewStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("migrating sqlite database: %w", err)
		}
		closeStore := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, closeStore, nil
	default:
		return nil, nil, fmt.Errorf("invalid store type %s", config.Store.Type)
	}
}
