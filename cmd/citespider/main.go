// Package main wires the citation crawler binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantcites/citespider/internal/config"
	"github.com/quantcites/citespider/internal/engine"
	"github.com/quantcites/citespider/internal/fetchcache"
	"github.com/quantcites/citespider/internal/frontier"
	"github.com/quantcites/citespider/internal/logging"
	"github.com/quantcites/citespider/internal/notify"
	"github.com/quantcites/citespider/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("crawl aborted", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	graph, err := store.NewPostgres(ctx, store.PostgresConfig{DSN: cfg.DB.DSN})
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer graph.Close()
	if err := graph.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate graph store: %w", err)
	}

	queue, err := frontier.Open(cfg.Frontier.Path)
	if err != nil {
		return fmt.Errorf("open frontier: %w", err)
	}
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			logger.Warn("frontier close failed", zap.Error(closeErr))
		}
	}()

	fetcher := fetchcache.NewCollyFetcher(fetchcache.CollyConfig{
		UserAgent: "citespider/0.1",
		Timeout:   cfg.Cache.Timeout(),
	})
	cache, err := fetchcache.New(fetchcache.Config{
		Root:           cfg.Cache.Root,
		CitecUsername:  cfg.Cache.CitecUsername,
		RePEcInterval:  cfg.Cache.RePEcInterval(),
		CiTEcInterval:  cfg.Cache.CiTEcInterval(),
		Timeout:        cfg.Cache.Timeout(),
		BackoffInitial: cfg.Cache.BackoffInitial(),
		BackoffCeiling: cfg.Cache.BackoffMax(),
	}, fetcher, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("init fetch cache: %w", err)
	}

	eng := engine.New(
		engine.Config{Seeds: cfg.Crawl.Seeds, LinkBudget: cfg.Crawl.LinkBudget},
		queue,
		cache,
		engine.LiveExtractor{},
		graph,
		logger.Named("engine"),
	)
	notifier := notify.NewLogNotifier(logger.Named("notify"), cfg.Notify.Recipient)

	srv := metricsServer(cfg.Metrics.Port)
	go func() {
		logger.Info("metrics server started", zap.Int("port", cfg.Metrics.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}()

	if err := notifier.Started(ctx, eng.RunID(), cfg.Crawl.Seeds); err != nil {
		logger.Warn("start notification failed", zap.Error(err))
	}
	if err := eng.Run(ctx); err != nil {
		if notifyErr := notifier.Failed(context.Background(), eng.RunID(), err); notifyErr != nil {
			logger.Warn("failure notification failed", zap.Error(notifyErr))
		}
		return err
	}
	if err := notifier.Completed(ctx, eng.RunID()); err != nil {
		logger.Warn("completion notification failed", zap.Error(err))
	}
	return nil
}

func metricsServer(port int) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
