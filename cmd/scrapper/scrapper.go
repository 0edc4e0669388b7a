package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/abelzeko/sensor-archive/internal/app"
	"github.com/abelzeko/sensor-archive/internal/config"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

// catalogRefresher is the part of the use case the schedule drives
type catalogRefresher interface {
	ImportCatalog(ctx context.Context) error
	ImportArchiveTypes(ctx context.Context, date time.Time) (int, error)
}

// refreshCatalog imports the live directory and the archive index of the previous day
func refreshCatalog(ctx context.Context, uc catalogRefresher, logger *logging.Logger, now time.Time) error {
	var errs []error

	if err := uc.ImportCatalog(ctx); err != nil {
		logger.WithError(err).Error("Sensor directory import failed")
		errs = append(errs, err)
	}

	y, m, d := now.UTC().AddDate(0, 0, -1).Date()
	yesterday := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if _, err := uc.ImportArchiveTypes(ctx, yesterday); err != nil {
		logger.WithError(err).Error("Archive index import failed")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// newScheduler registers the catalog refresh on the given cron schedule
func newScheduler(ctx context.Context, uc catalogRefresher, logger *logging.Logger, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		logger.Info("Running scheduled catalog refresh")
		if err := refreshCatalog(ctx, uc, logger, time.Now()); err != nil {
			logger.WithError(err).Warn("Scheduled catalog refresh finished with errors")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// metricsServer exposes the registry on /metrics
func metricsServer(listen string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger = logger.WithComponent(logging.ComponentScheduler)
	logger.Info("Starting Sensor Catalog Scraper...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	a, err := app.Build(ctx, cfg, logger, app.Options{Registry: registry})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	uc := a.UseCase

	// Run once immediately on startup
	if err := refreshCatalog(ctx, uc, logger, time.Now()); err != nil {
		logger.WithError(err).Warn("Initial catalog refresh finished with errors")
	}

	c, err := newScheduler(ctx, uc, logger, cfg.Catalog.Schedule)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up cron job")
	}
	logger.Infof("Catalog refresh scheduled with %q", cfg.Catalog.Schedule)
	c.Start()

	var server *http.Server
	if cfg.Metrics.Enabled {
		server = metricsServer(cfg.Metrics.Listen, registry)
		go func() {
			logger.Infof("Serving metrics on %s/metrics", cfg.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	<-c.Stop().Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Metrics server shutdown failed")
		}
	}
}
