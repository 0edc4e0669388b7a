package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

// DefaultCatalogURL is the live sensor directory of sensor.community
const DefaultCatalogURL = "https://data.sensor.community/static/v2/data.json"

// CatalogClient downloads the live sensor directory
type CatalogClient struct {
	url    string
	client *http.Client
	logger *logging.Logger
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(url string, timeout time.Duration, logger *logging.Logger) *CatalogClient {
	if url == "" {
		url = DefaultCatalogURL
	}
	return &CatalogClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.WithComponent(logging.ComponentCatalog),
	}
}

type catalogRecord struct {
	Sensor struct {
		ID         int64 `json:"id"`
		SensorType struct {
			Name string `json:"name"`
		} `json:"sensor_type"`
	} `json:"sensor"`
	Location struct {
		Indoor flexBool `json:"indoor"`
	} `json:"location"`
}

// flexBool accepts 0/1 as well as true/false
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.Trim(data, `"`)) {
	case "1", "true":
		*b = true
	case "0", "false", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid indoor flag %s", data)
	}
	return nil
}

// FetchEntries downloads the directory and returns one entry per sensor with a
// normalized type name. Records without an ID or type are skipped.
func (c *CatalogClient) FetchEntries(ctx context.Context) ([]entities.CatalogEntry, error) {
	c.logger.Info("Importing sensor types")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sensor directory: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d %s", res.StatusCode, res.Status)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode sensor directory: %w", err)
	}

	seen := make(map[int64]bool)
	entries := make([]entities.CatalogEntry, 0, len(raw))
	skipped := 0
	for _, msg := range raw {
		var rec catalogRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			skipped++
			continue
		}
		name := entities.NormalizeType(rec.Sensor.SensorType.Name)
		if rec.Sensor.ID <= 0 || name == "" {
			skipped++
			continue
		}
		if seen[rec.Sensor.ID] {
			continue
		}
		seen[rec.Sensor.ID] = true
		entries = append(entries, entities.CatalogEntry{
			SensorID: rec.Sensor.ID,
			Type:     name,
			Indoor:   bool(rec.Location.Indoor),
		})
	}

	c.logger.WithFields(map[string]interface{}{
		"records": len(raw),
		"sensors": len(entries),
		"skipped": skipped,
	}).Info("Fetched sensor directory")
	return entries, nil
}
