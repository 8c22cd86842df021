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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/sentinelstack/sentinel-correlate/internal/api"
	"github.com/sentinelstack/sentinel-correlate/internal/cache"
	"github.com/sentinelstack/sentinel-correlate/internal/config"
	"github.com/sentinelstack/sentinel-correlate/internal/correlator"
	"github.com/sentinelstack/sentinel-correlate/internal/feedback"
	"github.com/sentinelstack/sentinel-correlate/internal/ledger"
	"github.com/sentinelstack/sentinel-correlate/internal/metrics"
	"github.com/sentinelstack/sentinel-correlate/internal/patterns"
	"github.com/sentinelstack/sentinel-correlate/internal/repo"
	"github.com/sentinelstack/sentinel-correlate/internal/retrain"
	"github.com/sentinelstack/sentinel-correlate/internal/services"
	"github.com/sentinelstack/sentinel-correlate/internal/utils"
	"github.com/sentinelstack/sentinel-correlate/internal/watch"
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
	logger.Info("starting correlate-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
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
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	artifacts := repo.NewArtifactRepo(cfg.Storage.AnomalyDir, cfg.Storage.IncidentDir, logger)
	feedbackStore := repo.NewJSONStore(cfg.Storage.FeedbackFile, logger)
	ledgerStore := repo.NewJSONStore(cfg.Storage.LedgerFile, logger)
	vectorIndex := repo.NewVectorIndex(cfg.Storage.IndexFile, cfg.Storage.MetaFile, logger)
	snapshots := repo.NewSnapshotStore(cfg.Storage.SnapshotDir, logger)

	embedder := repo.NewHTTPEmbedder(
		cfg.Embedder.BaseURL,
		cfg.Embedder.Path,
		cfg.Embedder.APIKey,
		cfg.Embedder.Timeout,
		cfg.Embedder.CacheTTL,
	)
	scorer := repo.NewHTTPScorer(
		cfg.Scorer.BaseURL,
		cfg.Scorer.FitPath,
		cfg.Scorer.ScorePath,
		cfg.Scorer.PredictPath,
		cfg.Scorer.Timeout,
	)

	weightLedger := ledger.New(ledgerStore, logger, ledger.Options{
		Decay:         cfg.Ledger.Decay,
		ImmediateStep: cfg.Ledger.ImmediateStep,
		Reward:        cfg.Ledger.Reward,
		Penalty:       cfg.Ledger.Penalty,
	})

	feedbackSvc := feedback.NewService(
		feedbackStore,
		vectorIndex,
		embedder,
		weightLedger,
		cacheProvider,
		cfg.Cache.SimilarSearchTTL,
		cfg.Ledger.SearchK,
		logger,
	)

	retrainer := retrain.NewTrigger(
		artifacts,
		feedbackSvc,
		weightLedger,
		scorer,
		snapshots,
		repo.FitOptions{Contamination: cfg.Scorer.Contamination, Seed: cfg.Scorer.Seed},
		logger,
	)

	engineSvc := services.NewEngineService(
		logger,
		correlator.New(logger, cfg.Correlator.WindowMinutes),
		artifacts,
		feedbackSvc,
		weightLedger,
		retrainer,
		patterns.NewMiner(logger),
	)

	server, err := api.NewServer(cfg.Server, engineSvc, logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if cfg.Watch.Enabled {
		watcher, err := watch.New(artifacts.AnomalyDir(), cfg.Watch.Debounce, engineSvc.Correlate, logger)
		if err != nil {
			logger.Error("failed to start anomaly watcher", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			logger.Info("watching anomaly drop directory", slog.String("dir", artifacts.AnomalyDir()))
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("anomaly watcher exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var scheduler *cron.Cron
	if cfg.Retrain.Schedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Retrain.Schedule, func() {
			runCtx, cancel := context.WithTimeout(ctx, cfg.Scorer.Timeout+time.Minute)
			defer cancel()
			result, err := engineSvc.Retrain(runCtx)
			if err != nil {
				logger.Error("scheduled retraining failed", slog.Any("error", err))
				return
			}
			logger.Info("scheduled retraining finished",
				slog.String("status", string(result.Status)),
				slog.Uint64("snapshot", result.Snapshot.Sequence))
		})
		if err != nil {
			logger.Error("invalid retrain schedule",
				slog.String("schedule", cfg.Retrain.Schedule), slog.Any("error", err))
			os.Exit(1)
		}
		scheduler.Start()
		logger.Info("retraining scheduled", slog.String("schedule", cfg.Retrain.Schedule))
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("correlate-engine stopped")
}
