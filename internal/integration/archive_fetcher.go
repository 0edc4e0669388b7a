// Package integration handles external service interactions
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/logging"
	"github.com/abelzeko/sensor-archive/internal/metrics"
)

// DefaultArchiveURL is the public sensor.community archive
const DefaultArchiveURL = "https://archive.sensor.community"

// ArchiveFetcher retrieves per-day sensor CSV dumps, keeping a copy of every
// downloaded file in a local cache directory
type ArchiveFetcher struct {
	baseURL  string
	cacheDir string
	client   *http.Client
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewArchiveFetcher creates a new archive fetcher
func NewArchiveFetcher(baseURL, cacheDir string, timeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *ArchiveFetcher {
	if baseURL == "" {
		baseURL = DefaultArchiveURL
	}
	if cacheDir == "" {
		cacheDir = filepath.Join("cache", "sensors")
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ArchiveFetcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.WithComponent(logging.ComponentFetcher),
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock replaces the clock used to decide which archive layout applies
func (f *ArchiveFetcher) SetClock(now func() time.Time) {
	f.now = now
}

// CacheDir returns the directory holding cached day files
func (f *ArchiveFetcher) CacheDir() string {
	return f.cacheDir
}

// CacheFileName returns the archive file name of one sensor day:
// <YYYY-MM-DD>_<type>_sensor_<id>[_indoor].csv
func CacheFileName(date time.Time, sensorType string, sensorID int64, indoor bool) string {
	var b strings.Builder
	b.WriteString(date.Format(entities.DateLayout))
	b.WriteString("_")
	b.WriteString(sensorType)
	b.WriteString("_sensor_")
	b.WriteString(strconv.FormatInt(sensorID, 10))
	if indoor {
		b.WriteString("_indoor")
	}
	b.WriteString(".csv")
	return b.String()
}

// CachePath returns the location of a sensor day inside the cache directory
func (f *ArchiveFetcher) CachePath(date time.Time, sensorType string, sensorID int64, indoor bool) string {
	return filepath.Join(f.cacheDir, CacheFileName(date, sensorType, sensorID, indoor))
}

// URLFor returns the archive URL of a sensor day. Days of the current year live
// directly below the base URL, older days below a per-year directory.
func (f *ArchiveFetcher) URLFor(date time.Time, sensorType string, sensorID int64, indoor bool) string {
	return dayDirURL(f.baseURL, date, f.now()) + url.PathEscape(CacheFileName(date, sensorType, sensorID, indoor))
}

func dayDirURL(baseURL string, date, now time.Time) string {
	day := date.Format(entities.DateLayout)
	if date.Year() == now.Year() {
		return fmt.Sprintf("%s/%s/", baseURL, day)
	}
	return fmt.Sprintf("%s/%04d/%s/", baseURL, date.Year(), day)
}

// FetchDay returns the raw CSV of one sensor day. A cached file is returned without
// touching the network. Otherwise a single GET is issued; a non-2xx answer means the
// day does not exist and yields found=false with a nil error.
func (f *ArchiveFetcher) FetchDay(ctx context.Context, date time.Time, sensorType string, sensorID int64, indoor bool) ([]byte, bool, error) {
	path := f.CachePath(date, sensorType, sensorID, indoor)
	logger := f.logger.WithSensor(sensorID).WithFields(map[string]interface{}{
		"date": date.Format(entities.DateLayout),
		"type": sensorType,
	})

	if data, err := os.ReadFile(path); err == nil {
		f.metrics.RecordFetch(metrics.FetchCacheHit)
		logger.Debug("Cache hit")
		return data, true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		f.metrics.RecordFetch(metrics.FetchError)
		return nil, false, fmt.Errorf("failed to read cache file %s: %w", path, err)
	}

	target := f.URLFor(date, sensorType, sensorID, indoor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		f.metrics.RecordFetch(metrics.FetchError)
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	res, err := f.client.Do(req)
	f.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		f.metrics.RecordFetch(metrics.FetchError)
		return nil, false, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		f.metrics.RecordFetch(metrics.FetchNotFound)
		logger.Debugf("Archive answered %d for %s", res.StatusCode, target)
		return nil, false, nil
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		f.metrics.RecordFetch(metrics.FetchError)
		return nil, false, fmt.Errorf("failed to read body of %s: %w", target, err)
	}

	if err := f.writeCache(path, data); err != nil {
		f.metrics.RecordFetch(metrics.FetchError)
		return nil, false, err
	}

	f.metrics.RecordFetch(metrics.FetchDownloaded)
	logger.Infof("Downloaded %d bytes", len(data))
	return data, true, nil
}

// writeCache stores a downloaded day. An existing file is never overwritten.
func (f *ArchiveFetcher) writeCache(path string, data []byte) error {
	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		f.logger.Debugf("Cache file %s appeared concurrently, keeping it", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create cache file %s: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write cache file %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close cache file %s: %w", path, err)
	}
	return nil
}

// ClearCache removes every cached CSV file and returns how many were deleted
func (f *ArchiveFetcher) ClearCache() (int, error) {
	entries, err := os.ReadDir(f.cacheDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		if err := os.Remove(filepath.Join(f.cacheDir, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}

	f.logger.Infof("Cache folder was cleared, %d files removed", removed)
	return removed, nil
}
