package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abelzeko/sensor-archive/internal/logging"
	"github.com/abelzeko/sensor-archive/internal/metrics"
	"github.com/abelzeko/sensor-archive/internal/repository"
)

// DayFetcher retrieves the raw CSV of one sensor day
type DayFetcher interface {
	FetchDay(ctx context.Context, date time.Time, sensorType string, sensorID int64, indoor bool) ([]byte, bool, error)
	ClearCache() (int, error)
}

// TypeResolver finds the type of a sensor by trying every
// catalog type until a day file exists
type TypeResolver struct {
	repo    repository.SensorRepository
	fetcher DayFetcher
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTypeResolver creates a new type resolver
func NewTypeResolver(repo repository.SensorRepository, fetcher DayFetcher, logger *logging.Logger, m *metrics.Metrics) *TypeResolver {
	return &TypeResolver{
		repo:    repo,
		fetcher: fetcher,
		logger:  logger.WithComponent(logging.ComponentResolver),
		metrics: m,
		now:     time.Now,
	}
}

// Resolve returns the stored type of a sensor, or tries each day of year with each
// catalog type in order. The first hit is recorded and returned. When nothing
// matches, found is false and the store is left unchanged.
func (r *TypeResolver) Resolve(ctx context.Context, sensorID int64, year int, indoor bool) (string, bool, error) {
	stored, found, err := r.repo.SensorType(ctx, sensorID)
	if err != nil {
		return "", false, err
	}
	if found {
		return stored, true, nil
	}

	types, err := r.repo.SearchTypes(ctx)
	if err != nil {
		return "", false, err
	}

	logger := r.logger.WithSensor(sensorID)
	logger.Infof("Searching type across %d catalog types for %d", len(types), year)

	for _, day := range YearRange(year, r.now()) {
		for _, typ := range types {
			if err := ctx.Err(); err != nil {
				return "", false, err
			}

			_, hit, err := r.fetcher.FetchDay(ctx, day, typ, sensorID, indoor)
			if err != nil {
				if ctx.Err() != nil {
					return "", false, ctx.Err()
				}
				logger.WithError(err).Warnf("Lookup of type %s failed", typ)
				r.metrics.RecordTypeLookup(false)
				continue
			}
			r.metrics.RecordTypeLookup(hit)
			if !hit {
				continue
			}

			recorded, _, err := r.repo.SaveSensorType(ctx, sensorID, strings.ToLower(typ), indoor)
			if err != nil {
				return "", false, fmt.Errorf("failed to record type of sensor %d: %w", sensorID, err)
			}
			logger.Infof("Found type %s", recorded)
			return recorded, true, nil
		}
	}

	logger.Warn("No catalog type matched")
	return "", false, nil
}
