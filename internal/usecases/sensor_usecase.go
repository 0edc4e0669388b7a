// Package usecases contains the application's business logic
package usecases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/integration"
	"github.com/abelzeko/sensor-archive/internal/integration/openai"
	"github.com/abelzeko/sensor-archive/internal/logging"
	"github.com/abelzeko/sensor-archive/internal/metrics"
	"github.com/abelzeko/sensor-archive/internal/repository"
)

// CatalogSource lists sensors of the live directory
type CatalogSource interface {
	FetchEntries(ctx context.Context) ([]entities.CatalogEntry, error)
}

// DayIndex lists sensors that have a file in the archive on one day
type DayIndex interface {
	ListDay(ctx context.Context, date time.Time) ([]entities.CatalogEntry, error)
}

// Dependencies wires the collaborators of a SensorUseCase. Only Repo and Fetcher
// are required.
type Dependencies struct {
	Repo              repository.SensorRepository
	Fetcher           DayFetcher
	Catalog           CatalogSource
	Index             DayIndex
	OpenAI            openai.OpenAIService
	CheckConnection   func(ctx context.Context) error
	Logger            *logging.Logger
	Metrics           *metrics.Metrics
	TypeSearchTimeout time.Duration
}

// SensorUseCase handles business logic related to sensor archives
type SensorUseCase struct {
	repo              repository.SensorRepository
	fetcher           DayFetcher
	catalog           CatalogSource
	index             DayIndex
	openAIService     openai.OpenAIService
	checkConnection   func(ctx context.Context) error
	resolver          *TypeResolver
	cache             *SensorIDCache
	logger            *logging.Logger
	metrics           *metrics.Metrics
	typeSearchTimeout time.Duration
	now               func() time.Time

	jobMu sync.Mutex
	job   *IngestJob
}

// NewSensorUseCase creates a new sensor use case and fills the sensor cache from the store
func NewSensorUseCase(ctx context.Context, deps Dependencies) (*SensorUseCase, error) {
	if deps.Repo == nil || deps.Fetcher == nil {
		return nil, errors.New("repository and fetcher are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.CheckConnection == nil {
		deps.CheckConnection = func(context.Context) error { return nil }
	}

	uc := &SensorUseCase{
		repo:              deps.Repo,
		fetcher:           deps.Fetcher,
		catalog:           deps.Catalog,
		index:             deps.Index,
		openAIService:     deps.OpenAI,
		checkConnection:   deps.CheckConnection,
		resolver:          NewTypeResolver(deps.Repo, deps.Fetcher, deps.Logger, deps.Metrics),
		cache:             NewSensorIDCache(deps.Metrics.KnownSensors),
		logger:            deps.Logger.WithComponent(logging.ComponentIngest),
		metrics:           deps.Metrics,
		typeSearchTimeout: deps.TypeSearchTimeout,
		now:               time.Now,
	}

	if err := uc.cache.Reload(ctx, deps.Repo); err != nil {
		return nil, err
	}
	uc.logger.Infof("Sensor cache holds %d sensors", uc.cache.Len())
	return uc, nil
}

// SetClock replaces the clock used for year ranges and validation
func (uc *SensorUseCase) SetClock(now func() time.Time) {
	uc.now = now
	uc.resolver.now = now
}

// Cache returns the sensor-ID cache
func (uc *SensorUseCase) Cache() *SensorIDCache {
	return uc.cache
}

// CheckConnection checks the archive before a bulk import
func (uc *SensorUseCase) CheckConnection(ctx context.Context) error {
	if err := uc.checkConnection(ctx); err != nil {
		if errors.Is(err, ErrNoConnection) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	return nil
}

// ResolveType returns the type of a sensor, probing the archive when it is unknown
func (uc *SensorUseCase) ResolveType(ctx context.Context, sensorID int64, year int, indoor bool) (string, bool, error) {
	if err := validateFetchRequest(FetchRequest{Year: year, SensorID: sensorID, Indoor: indoor}, uc.now()); err != nil {
		return "", false, err
	}
	return uc.resolver.Resolve(ctx, sensorID, year, indoor)
}

// SearchType is ResolveType bounded by the type-search watchdog. A search that runs
// longer than the configured limit returns ErrTypeSearchTimeout.
func (uc *SensorUseCase) SearchType(ctx context.Context, sensorID int64, year int, indoor bool) (string, bool, error) {
	req := FetchRequest{Year: year, SensorID: sensorID, Indoor: indoor}
	if err := validateFetchRequest(req, uc.now()); err != nil {
		return "", false, err
	}

	typ, err := uc.resolveWithWatchdog(ctx, req)
	if errors.Is(err, ErrTypeUnknown) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return typ, true, nil
}

// HasYear reports whether readings of the sensor are already stored for the year
func (uc *SensorUseCase) HasYear(ctx context.Context, sensorID int64, year int) (bool, error) {
	if err := validateSensorID(sensorID); err != nil {
		return false, err
	}
	return uc.repo.HasDataInYear(ctx, sensorID, year)
}

// IsIndoor returns the recorded indoor flag of a sensor
func (uc *SensorUseCase) IsIndoor(ctx context.Context, sensorID int64) (bool, bool, error) {
	if err := validateSensorID(sensorID); err != nil {
		return false, false, err
	}
	return uc.repo.IsIndoor(ctx, sensorID)
}

// FetchYear downloads and parses every day of a year. Missing, unreadable and
// malformed days are skipped. A cancelled context stops the loop between days; the
// readings collected so far are returned together with the context error.
func (uc *SensorUseCase) FetchYear(ctx context.Context, req FetchRequest, progress ProgressFunc) (*entities.Sensor, error) {
	if err := validateFetchRequest(req, uc.now()); err != nil {
		return nil, err
	}

	sensorType := strings.ToLower(strings.TrimSpace(req.Type))
	if sensorType == "" {
		typ, found, err := uc.resolver.Resolve(ctx, req.SensorID, req.Year, req.Indoor)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrTypeUnknown
		}
		sensorType = typ
	}

	logger := uc.logger.WithSensor(req.SensorID)
	days := YearRange(req.Year, uc.now())
	total := len(days)
	sensor := entities.NewSensor(req.SensorID, sensorType, req.Indoor)

	logger.Infof("Importing %d days of %d as %s", total, req.Year, sensorType)

	last := 0
	for i, day := range days {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Import cancelled after %d of %d days", i, total)
			return sensor, err
		}
		last = i
		if progress != nil {
			progress(float64(i)/float64(total), total, i)
		}

		// The request in flight is allowed to finish even when ctx is cancelled
		data, found, err := uc.fetcher.FetchDay(context.WithoutCancel(ctx), day, sensorType, req.SensorID, req.Indoor)
		if err != nil {
			logger.WithError(err).Warnf("Failed to fetch %s", day.Format(entities.DateLayout))
			uc.metrics.RecordDay("error")
			continue
		}
		if !found {
			uc.metrics.RecordDay("missing")
			continue
		}

		result, err := integration.ParseDump(bytes.NewReader(data), req.SensorID)
		if err != nil {
			logger.WithError(err).Warnf("Skipping malformed file of %s", day.Format(entities.DateLayout))
			uc.metrics.RecordDay("malformed")
			continue
		}

		if result.Rows > 0 {
			if result.Type != "" && result.Type != sensor.Type {
				logger.Debugf("File of %s reports type %s", day.Format(entities.DateLayout), result.Type)
			}
			sensor.Lat = result.Lat
			sensor.Lon = result.Lon
		}
		sensor.Readings = append(sensor.Readings, result.Readings...)
		uc.metrics.RecordDay("ingested")
	}

	if progress != nil {
		progress(1, total, last)
	}
	logger.Infof("Collected %d readings", len(sensor.Readings))
	return sensor, nil
}

// StartIngest runs a full year import in the background: connectivity check, type
// search under a watchdog, download and save. Only one job may run at a time.
func (uc *SensorUseCase) StartIngest(ctx context.Context, req FetchRequest, progress ProgressFunc) (*IngestJob, error) {
	if err := validateFetchRequest(req, uc.now()); err != nil {
		return nil, err
	}

	uc.jobMu.Lock()
	defer uc.jobMu.Unlock()
	if uc.job != nil && !uc.job.finished() {
		return nil, ErrJobRunning
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := newIngestJob(req, cancel)
	uc.job = job

	go uc.runIngest(jobCtx, job, progress)
	return job, nil
}

// CurrentJob returns the most recent ingestion job, if any
func (uc *SensorUseCase) CurrentJob() *IngestJob {
	uc.jobMu.Lock()
	defer uc.jobMu.Unlock()
	return uc.job
}

// SyncYear runs an ingestion job and waits for its outcome
func (uc *SensorUseCase) SyncYear(ctx context.Context, req FetchRequest, progress ProgressFunc) (*entities.Sensor, error) {
	job, err := uc.StartIngest(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

func (uc *SensorUseCase) runIngest(ctx context.Context, job *IngestJob, progress ProgressFunc) {
	defer job.cancel()

	req := job.Request()
	logger := uc.logger.WithSensor(req.SensorID)

	job.setState(JobCheckingConnection)
	if err := uc.CheckConnection(ctx); err != nil {
		logger.WithError(err).Error("Archive is not reachable")
		job.finish(JobFailed, nil, err)
		return
	}

	// A recorded indoor flag wins over the caller's choice
	if indoor, found, err := uc.repo.IsIndoor(ctx, req.SensorID); err != nil {
		job.finish(JobFailed, nil, err)
		return
	} else if found {
		req.Indoor = indoor
	}

	if strings.TrimSpace(req.Type) == "" {
		job.setState(JobSearchingType)
		typ, err := uc.resolveWithWatchdog(ctx, req)
		if err != nil {
			logger.WithError(err).Error("Type search failed")
			job.finish(stateFor(err), nil, err)
			return
		}
		req.Type = typ
	}

	job.setState(JobDownloading)
	sensor, fetchErr := uc.FetchYear(ctx, req, func(fraction float64, total, index int) {
		job.setProgress(fraction, total, index)
		if progress != nil {
			progress(fraction, total, index)
		}
	})
	if sensor == nil {
		job.finish(stateFor(fetchErr), nil, fetchErr)
		return
	}
	if len(sensor.Readings) == 0 {
		err := fetchErr
		if err == nil {
			err = ErrNoData
		}
		job.finish(stateFor(err), sensor, err)
		return
	}

	job.setState(JobSaving)
	if err := uc.SaveSensor(context.WithoutCancel(ctx), sensor); err != nil {
		logger.WithError(err).Error("Failed to save sensor")
		job.finish(JobFailed, sensor, err)
		return
	}

	if fetchErr != nil {
		logger.Warn("Import was cancelled, days fetched so far were saved")
		job.finish(JobCancelled, sensor, fetchErr)
		return
	}
	logger.Info("Import finished")
	job.finish(JobDone, sensor, nil)
}

func stateFor(err error) JobState {
	if errors.Is(err, context.Canceled) {
		return JobCancelled
	}
	return JobFailed
}

// resolveWithWatchdog aborts the type search once typeSearchTimeout has elapsed
func (uc *SensorUseCase) resolveWithWatchdog(ctx context.Context, req FetchRequest) (string, error) {
	searchCtx, cancelSearch := context.WithCancel(ctx)
	defer cancelSearch()

	var timedOut atomic.Bool
	if uc.typeSearchTimeout > 0 {
		watchdog := time.AfterFunc(uc.typeSearchTimeout, func() {
			timedOut.Store(true)
			uc.logger.WithSensor(req.SensorID).Warnf("Type search exceeded %s, cancelling", uc.typeSearchTimeout)
			cancelSearch()
		})
		defer watchdog.Stop()
	}

	typ, found, err := uc.resolver.Resolve(searchCtx, req.SensorID, req.Year, req.Indoor)
	if timedOut.Load() {
		return "", ErrTypeSearchTimeout
	}
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrTypeUnknown
	}
	return typ, nil
}

// LoadSensor returns a stored sensor with its sorted readings and the three summaries
// computed with the current bucket format
func (uc *SensorUseCase) LoadSensor(ctx context.Context, sensorID int64) (*entities.Sensor, bool, error) {
	if err := validateSensorID(sensorID); err != nil {
		return nil, false, err
	}

	exists, err := uc.repo.SensorExists(ctx, sensorID)
	if err != nil || !exists {
		return nil, false, err
	}

	sensor, found, err := uc.repo.GetSensor(ctx, sensorID)
	if err != nil || !found {
		return nil, false, err
	}

	if sensor.Stored, err = uc.repo.CountReadings(ctx, sensorID); err != nil {
		return nil, false, err
	}

	bucketFormat, err := uc.repo.GetSetting(ctx, entities.SettingBucketFormat)
	if errors.Is(err, ErrSettingNotFound) {
		bucketFormat = entities.DefaultBucketFormat
	} else if err != nil {
		return nil, false, err
	}
	sensor.BucketFormat = bucketFormat

	if sensor.Sorted, err = uc.repo.SortedReadings(ctx, sensorID); err != nil {
		return nil, false, err
	}
	if sensor.Maximum, err = uc.aggregate(ctx, sensorID, entities.StatMax, bucketFormat); err != nil {
		return nil, false, err
	}
	if sensor.Minimum, err = uc.aggregate(ctx, sensorID, entities.StatMin, bucketFormat); err != nil {
		return nil, false, err
	}
	if sensor.Average, err = uc.aggregate(ctx, sensorID, entities.StatAvg, bucketFormat); err != nil {
		return nil, false, err
	}

	uc.logger.WithSensor(sensorID).Infof("Loaded sensor from database, %d buckets", len(sensor.Maximum))
	return sensor, true, nil
}

func (uc *SensorUseCase) aggregate(ctx context.Context, sensorID int64, stat entities.Statistic, bucketFormat string) (map[string][]entities.Reading, error) {
	start := time.Now()
	result, err := uc.repo.Aggregate(ctx, sensorID, stat, bucketFormat)
	uc.metrics.ObserveAggregation(string(stat), time.Since(start))
	return result, err
}

// SaveSensor stores a sensor with its readings and records it in the cache
func (uc *SensorUseCase) SaveSensor(ctx context.Context, sensor *entities.Sensor) error {
	if sensor == nil {
		return &ValidationError{Field: "Sensor", Err: errors.New("sensor is nil")}
	}
	if err := validateSensorID(sensor.ID); err != nil {
		return err
	}
	if err := uc.repo.SaveSensor(ctx, sensor); err != nil {
		return err
	}
	uc.cache.Add(sensor.ID)
	uc.metrics.ReadingsSaved.Add(float64(len(sensor.Readings)))
	return nil
}

// SaveReading stores a single reading
func (uc *SensorUseCase) SaveReading(ctx context.Context, reading entities.Reading) error {
	if err := validateSensorID(reading.SensorID); err != nil {
		return err
	}
	if err := uc.repo.SaveReading(ctx, reading); err != nil {
		return err
	}
	uc.metrics.ReadingsSaved.Inc()
	return nil
}

// DeleteSensor removes a sensor and its readings. The recorded type is kept.
func (uc *SensorUseCase) DeleteSensor(ctx context.Context, sensorID int64) error {
	if err := validateSensorID(sensorID); err != nil {
		return err
	}
	if err := uc.repo.DeleteSensor(ctx, sensorID); err != nil {
		return err
	}
	uc.cache.Remove(sensorID)
	return nil
}

// ClearCache deletes the cached day files. With wipeAll the store's sensors,
// readings and type pairings are removed as well.
func (uc *SensorUseCase) ClearCache(ctx context.Context, wipeAll bool) error {
	if job := uc.CurrentJob(); job != nil && !job.finished() {
		return ErrJobRunning
	}

	if _, err := uc.fetcher.ClearCache(); err != nil {
		return err
	}
	if !wipeAll {
		return nil
	}

	if err := uc.repo.Truncate(ctx); err != nil {
		return err
	}
	uc.cache.Clear()
	return uc.cache.Reload(ctx, uc.repo)
}

// GetSetting returns the value of a setting
func (uc *SensorUseCase) GetSetting(ctx context.Context, name string) (string, error) {
	return uc.repo.GetSetting(ctx, name)
}

// SetSetting changes an existing setting. Bucket formats and line styles are
// checked against their allowed values.
func (uc *SensorUseCase) SetSetting(ctx context.Context, name, value string) error {
	if _, err := uc.repo.GetSetting(ctx, name); err != nil {
		return err
	}

	switch strings.ToLower(name) {
	case entities.SettingBucketFormat:
		if !entities.IsBucketFormat(value) {
			return &ValidationError{
				Field: name,
				Err:   fmt.Errorf("'%s' is not one of %s", value, strings.Join(entities.BucketFormats, ", ")),
			}
		}
	case entities.SettingLineStyle:
		if err := validate.Var(value, "oneof="+strings.Join(entities.LineStyles, " ")); err != nil {
			return &ValidationError{Field: name, Err: err}
		}
	}

	return uc.repo.SetSetting(ctx, name, value)
}

// SensorIDs returns the IDs of stored sensors from the cache
func (uc *SensorUseCase) SensorIDs() []int64 {
	return uc.cache.IDs()
}

// ListSensorTypes returns the type catalog in search order
func (uc *SensorUseCase) ListSensorTypes(ctx context.Context) ([]string, error) {
	return uc.repo.SearchTypes(ctx)
}

// AddSearchTypes appends type names to the catalog tried during type search and
// returns how many were new
func (uc *SensorUseCase) AddSearchTypes(ctx context.Context, names []string) (int, error) {
	types := make([]string, 0, len(names))
	for _, name := range names {
		typ := entities.NormalizeType(name)
		if err := validate.Var(typ, "required,max=64"); err != nil {
			return 0, &ValidationError{Field: "Type", Err: fmt.Errorf("'%s' is not a valid type name", name)}
		}
		types = append(types, typ)
	}
	return uc.repo.AddSearchTypes(ctx, types)
}

// ImportCatalog pulls the live sensor directory and seeds the type catalog and the
// type pairings. Existing rows are kept.
func (uc *SensorUseCase) ImportCatalog(ctx context.Context) error {
	if uc.catalog == nil {
		return errors.New("no catalog source configured")
	}

	logger := uc.logger.WithComponent(logging.ComponentCatalog)
	entries, err := uc.catalog.FetchEntries(ctx)
	if err == nil {
		var inserted int
		inserted, err = uc.repo.ImportCatalog(ctx, entries)
		if err == nil {
			logger.Infof("Imported sensor types, %d of %d sensors were new", inserted, len(entries))
		}
	}
	uc.metrics.RecordCatalogImport("directory", err)
	if err != nil {
		return fmt.Errorf("failed to import sensor catalog: %w", err)
	}
	return nil
}

// ImportArchiveTypes seeds the type catalog from the file names in the archive
// directory of one day and returns how many type pairings were new
func (uc *SensorUseCase) ImportArchiveTypes(ctx context.Context, date time.Time) (int, error) {
	if uc.index == nil {
		return 0, errors.New("no archive index configured")
	}

	entries, err := uc.index.ListDay(ctx, date)
	inserted := 0
	if err == nil {
		inserted, err = uc.repo.ImportCatalog(ctx, entries)
	}
	uc.metrics.RecordCatalogImport("archive", err)
	if err != nil {
		return 0, fmt.Errorf("failed to import archive types of %s: %w", date.Format(entities.DateLayout), err)
	}

	uc.logger.WithComponent(logging.ComponentCatalog).Infof("Archive index of %s listed %d sensors, %d new",
		date.Format(entities.DateLayout), len(entries), inserted)
	return inserted, nil
}
