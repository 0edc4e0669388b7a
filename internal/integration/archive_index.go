package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

var dayFilePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_(.+)_sensor_(\d+)(_indoor)?\.csv$`)

// ArchiveIndex reads the HTML directory listings of the archive
type ArchiveIndex struct {
	baseURL string
	client  *http.Client
	logger  *logging.Logger
	now     func() time.Time
}

// NewArchiveIndex creates a new archive index reader
func NewArchiveIndex(baseURL string, timeout time.Duration, logger *logging.Logger) *ArchiveIndex {
	if baseURL == "" {
		baseURL = DefaultArchiveURL
	}
	return &ArchiveIndex{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.WithComponent(logging.ComponentCatalog),
		now:     time.Now,
	}
}

// SetClock replaces the clock used to decide which archive layout applies
func (a *ArchiveIndex) SetClock(now func() time.Time) {
	a.now = now
}

// ParseDayFileName extracts the sensor described by an archive file name
func ParseDayFileName(name string) (entities.CatalogEntry, bool) {
	m := dayFilePattern.FindStringSubmatch(name)
	if m == nil {
		return entities.CatalogEntry{}, false
	}
	id, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil || id <= 0 {
		return entities.CatalogEntry{}, false
	}
	return entities.CatalogEntry{
		SensorID: id,
		Type:     entities.NormalizeType(m[2]),
		Indoor:   m[4] != "",
	}, true
}

// ListDay lists the sensors that have a file in the archive directory of one day
func (a *ArchiveIndex) ListDay(ctx context.Context, date time.Time) ([]entities.CatalogEntry, error) {
	target := dayDirURL(a.baseURL, date, a.now())
	a.logger.Infof("Reading archive index %s", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archive index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d %s", res.StatusCode, res.Status)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive index: %w", err)
	}

	var entries []entities.CatalogEntry
	seen := make(map[int64]bool)
	links := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		links++
		href, _ := s.Attr("href")
		name := path.Base(href)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		entry, ok := ParseDayFileName(name)
		if !ok || seen[entry.SensorID] {
			return
		}
		seen[entry.SensorID] = true
		entries = append(entries, entry)
	})

	a.logger.Infof("Parsed %d links, found %d sensor files", links, len(entries))
	return entries, nil
}
