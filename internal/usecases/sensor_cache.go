package usecases

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// idLister is the part of the repository the cache is rebuilt from
type idLister interface {
	SensorIDs(ctx context.Context) ([]int64, error)
}

// SensorIDCache is the process-wide set of sensor IDs present in the store
type SensorIDCache struct {
	mu    sync.RWMutex
	ids   map[int64]struct{}
	gauge prometheus.Gauge
}

// NewSensorIDCache creates an empty cache. gauge may be nil.
func NewSensorIDCache(gauge prometheus.Gauge) *SensorIDCache {
	return &SensorIDCache{
		ids:   make(map[int64]struct{}),
		gauge: gauge,
	}
}

// Reload replaces the content with one full read of the store
func (c *SensorIDCache) Reload(ctx context.Context, repo idLister) error {
	ids, err := repo.SensorIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sensor cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	c.updateGauge()
	return nil
}

// Add records a sensor ID
func (c *SensorIDCache) Add(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = struct{}{}
	c.updateGauge()
}

// Remove forgets a sensor ID
func (c *SensorIDCache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
	c.updateGauge()
}

// Clear empties the cache
func (c *SensorIDCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[int64]struct{})
	c.updateGauge()
}

// Contains reports whether the ID is cached
func (c *SensorIDCache) Contains(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// IDs returns the cached IDs in ascending order
func (c *SensorIDCache) IDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of cached IDs
func (c *SensorIDCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// caller holds mu
func (c *SensorIDCache) updateGauge() {
	if c.gauge != nil {
		c.gauge.Set(float64(len(c.ids)))
	}
}
