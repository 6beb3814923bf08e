package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devkdas/causeway/internal/api"
	"github.com/devkdas/causeway/internal/cache"
	"github.com/devkdas/causeway/internal/config"
	"github.com/devkdas/causeway/internal/engine"
	"github.com/devkdas/causeway/internal/enrich"
	"github.com/devkdas/causeway/internal/history"
	"github.com/devkdas/causeway/internal/lifecycle"
	"github.com/devkdas/causeway/internal/metrics"
	"github.com/devkdas/causeway/internal/notify"
	"github.com/devkdas/causeway/internal/registry"
	"github.com/devkdas/causeway/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting causeway", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, running in-memory only", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Warn("nats unavailable, lifecycle events disabled", slog.Any("error", err))
		} else {
			publisher = notify.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix, logger)
			defer conn.Drain()
		}
	}

	recorder, err := history.NewRecorder(logger, cfg.Correlation.HistoryEntries, cacheProvider, cfg.Cache.HistoryTTL)
	if err != nil {
		logger.Error("failed to build outcome recorder", slog.Any("error", err))
		os.Exit(1)
	}

	actionRules, err := engine.LoadActionRules(cfg.Actions.Path, logger)
	if err != nil {
		logger.Error("failed to load action rules", slog.Any("error", err))
		os.Exit(1)
	}

	scorer := engine.NewScorer(logger, cfg.Correlation.Weights, recorder, actionRules)

	var enricher lifecycle.Enricher
	if cfg.Enrichment.Enabled {
		enricher = enrich.NewAnthropicEnricher("", enrich.Config{
			Model:     cfg.Enrichment.Model,
			MaxTokens: cfg.Enrichment.MaxTokens,
		}, logger)
	}

	eventRegistry := registry.New()

	manager, err := lifecycle.NewManager(logger, lifecycle.Config{
		CorrelationWindow:   cfg.Correlation.Window,
		DedupWindow:         cfg.Correlation.DedupWindow,
		MitigationThreshold: cfg.Correlation.MitigationThreshold,
		MaxResolvedRetained: cfg.Correlation.MaxResolvedRetained,
		EnrichmentTimeout:   cfg.Enrichment.Timeout,
	}, eventRegistry, scorer, publisher, recorder, enricher)
	if err != nil {
		logger.Error("failed to build lifecycle manager", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(logger, manager, eventRegistry)
	server, err := api.NewServer(cfg.Server, handler)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Registry eviction runs on its own clock; analysis always sees at most
	// Retention worth of change events.
	go func() {
		ticker := time.NewTicker(cfg.Correlation.EvictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				horizon := time.Now().UTC().Add(-cfg.Correlation.Retention)
				if n := eventRegistry.Evict(horizon); n > 0 {
					logger.Debug("evicted change events", slog.Int("count", n), slog.Time("horizon", horizon))
				}
			}
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("api server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if err := manager.Drain(shutdownCtx); err != nil {
		logger.Warn("analysis drain incomplete", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("causeway stopped")
}
