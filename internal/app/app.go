// Package app wires configuration, storage and the archive clients into a SensorUseCase
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abelzeko/sensor-archive/internal/config"
	"github.com/abelzeko/sensor-archive/internal/integration"
	"github.com/abelzeko/sensor-archive/internal/integration/openai"
	"github.com/abelzeko/sensor-archive/internal/logging"
	"github.com/abelzeko/sensor-archive/internal/metrics"
	"github.com/abelzeko/sensor-archive/internal/repository"
	"github.com/abelzeko/sensor-archive/internal/usecases"
)

// App holds everything a binary needs to run
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Repo    *repository.SQLiteSensorRepository
	Fetcher *integration.ArchiveFetcher
	Index   *integration.ArchiveIndex
	UseCase *usecases.SensorUseCase
}

// Options tune Build for a single binary
type Options struct {
	// Registry receives the metrics; nil keeps them unregistered
	Registry prometheus.Registerer
	// WithAssistant enables the OpenAI assistant when a key is configured
	WithAssistant bool
}

// NewLogger creates the logger described by the logging section
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.InitLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// Build opens the store and creates the use case. Close must be called when done.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.NewNop()
	if opts.Registry != nil {
		m = metrics.NewMetrics(opts.Registry)
	}

	repo, err := repository.NewSQLiteSensorRepository(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	fetcher := integration.NewArchiveFetcher(cfg.Archive.BaseURL, cfg.Cache.Dir, cfg.Archive.Timeout, logger, m)
	index := integration.NewArchiveIndex(cfg.Archive.BaseURL, cfg.Archive.Timeout, logger)

	deps := usecases.Dependencies{
		Repo:    repo,
		Fetcher: fetcher,
		Catalog: integration.NewCatalogClient(cfg.Catalog.URL, cfg.Archive.Timeout, logger),
		Index:   index,
		CheckConnection: func(ctx context.Context) error {
			return integration.CheckConnection(ctx, cfg.Connectivity.URL, cfg.Connectivity.Timeout)
		},
		Logger:            logger,
		Metrics:           m,
		TypeSearchTimeout: cfg.Ingest.TypeSearchTimeout,
	}

	if opts.WithAssistant && cfg.OpenAI.APIKey != "" {
		assistant, err := openai.NewOpenAIService(cfg.OpenAI.APIKey, logger)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to initialize OpenAI service: %w", err)
		}
		deps.OpenAI = assistant
	}

	useCase, err := usecases.NewSensorUseCase(ctx, deps)
	if err != nil {
		repo.Close()
		return nil, err
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Repo:    repo,
		Fetcher: fetcher,
		Index:   index,
		UseCase: useCase,
	}, nil
}

// ImportCatalogInBackground refreshes the type catalog from the sensor directory
// without holding up startup. The channel receives the result once. A failure keeps
// the stored catalog.
func (a *App) ImportCatalogInBackground(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := a.UseCase.ImportCatalog(ctx)
		if err != nil {
			a.Logger.WithError(err).Warn("Startup catalog import failed, keeping the stored catalog")
		}
		done <- err
	}()
	return done
}

// Close releases the store
func (a *App) Close() error {
	return a.Repo.Close()
}
