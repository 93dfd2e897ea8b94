// Package main is the entrypoint for the FluxGate rate-limiting gateway.
//
// FluxGate sits in front of an application's request handling and decides,
// per request, whether to admit, delay, or reject it based on rules held
// in Postgres and token-bucket state held in Redis.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/bucket"
	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/health"
	"github.com/fluxgate/fluxgate/internal/keyresolver"
	"github.com/fluxgate/fluxgate/internal/limiter"
	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
	"github.com/fluxgate/fluxgate/internal/notify"
	"github.com/fluxgate/fluxgate/internal/orchestrator"
	"github.com/fluxgate/fluxgate/internal/reload"
	"github.com/fluxgate/fluxgate/internal/reset"
	"github.com/fluxgate/fluxgate/internal/rulecache"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// Version information (set during build via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("application failed to start")
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	} else {
		log.Debug().Msg("loaded configuration from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("environment", cfg.Environment).
		Msg("FluxGate starting")

	db, err := rules.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to rule store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("error closing rule store connection")
		}
	}()

	store, err := bucket.NewRedisStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to connect to bucket store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing bucket store connection")
		}
	}()

	repo := rules.NewPostgresRuleRepository(db)
	resolver := keyresolver.NewResolver()
	rateLimiter := limiter.New(store, resolver)

	cache, err := rulecache.NewCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("failed to build rule cache: %w", err)
	}
	defer cache.Close()

	source := rulecache.NewRepositorySource(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadStrategy, err := buildReloadStrategy(cfg.Reload, cfg.Store, repo, cache)
	if err != nil {
		return fmt.Errorf("failed to build reload strategy: %w", err)
	}

	provider := rulecache.NewCachingRuleSetProvider(source, cache, reloadStrategy)

	resetHandler := reset.NewHandler(store)
	if cfg.Reload.ResetBucketsOnReload {
		reloadStrategy.AddListener(resetHandler)
	}

	reloadErrors := make(chan error, 1)
	go func() {
		reloadErrors <- reloadStrategy.Start(ctx)
	}()
	defer func() {
		if err := reloadStrategy.Stop(); err != nil {
			log.Error().Err(err).Msg("error stopping reload strategy")
		}
	}()

	registry := prometheus.NewRegistry()
	recorder := metrics.NewComposite(metrics.NewPrometheusRecorder(registry))

	orch := orchestrator.New(rateLimiter, provider, recorder, cfg.RateLimit, cfg.WaitForRefill)

	healthHandler := health.NewHandler(db, store)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler.Health)
	mux.HandleFunc("/ready", healthHandler.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", orch.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.ServerAddress()).Msg("HTTP server starting")
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case err := <-reloadErrors:
		if err != nil {
			log.Error().Err(err).Msg("reload strategy stopped unexpectedly")
		}

	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received, starting graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during graceful shutdown, forcing shutdown")
			if err := server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		log.Info().Msg("server stopped gracefully")
	}

	return nil
}

// buildReloadStrategy constructs the configured ReloadStrategy. POLLING
// tracks whatever rule-set IDs are currently resident in cache, re-reading
// that set fresh on every tick rather than a list fixed at startup, so a
// rule set created after the process starts is picked up as soon as a
// request first resolves and caches it.
func buildReloadStrategy(cfg config.ReloadConfig, storeCfg config.StoreConfig, repo rules.RuleRepository, cache *rulecache.Cache) (reload.Strategy, error) {
	switch cfg.Strategy {
	case "POLLING":
		return reload.NewPollingStrategy(repo, cache, cfg.PollingInterval, cfg.InitialDelay), nil

	case "KAFKA":
		return reload.NewKafkaStrategy(reload.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic, "fluxgate-reload"), nil

	default: // PUBSUB
		opt, err := redis.ParseURL(storeCfg.URI)
		if err != nil {
			return nil, fmt.Errorf("invalid store uri for pubsub reload: %w", err)
		}
		client := redis.NewClient(opt)
		return reload.NewPubSubStrategy(client, cfg.PubSubChannel), nil
	}
}

// This assertion keeps notify.RedisPublisher satisfying RuleChangePublisher,
// for an admin-facing process to wire into the same transport the gateway
// listens on; the gateway process itself only ever consumes reload events.
var _ notify.RuleChangePublisher = (*notify.RedisPublisher)(nil)
