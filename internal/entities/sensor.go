// Package entities contains the core domain objects for the sensor archive application
package entities

import (
	"fmt"
	"time"
)

// TimestampLayout is the fixed timestamp format used by the archive CSV files and the database
const TimestampLayout = "2006-01-02T15:04:05"

// DateLayout is the day format used in archive paths and cache file names
const DateLayout = "2006-01-02"

// Reading represents a single measured value of a sensor at a point in time
type Reading struct {
	Timestamp time.Time // Second precision, no time zone
	Value     string    // Kept as text, may be empty or "nan"
	ValueName string    // Measured quantity, e.g. P1 or temperature
	SensorID  int64
}

// Equal reports whether all four fields of the readings match
func (r Reading) Equal(o Reading) bool {
	return r.Timestamp.Equal(o.Timestamp) &&
		r.Value == o.Value &&
		r.ValueName == o.ValueName &&
		r.SensorID == o.SensorID
}

// Less orders readings by timestamp only
func (r Reading) Less(o Reading) bool {
	return r.Timestamp.Before(o.Timestamp)
}

func (r Reading) String() string {
	return fmt.Sprintf("(timestamp=%s, value=%s, value_name=%s, sensor_id=%d)",
		r.Timestamp.Format(TimestampLayout), r.Value, r.ValueName, r.SensorID)
}

// Sensor represents a sensor together with its readings and computed summaries
type Sensor struct {
	ID     int64
	Type   string // Lower-cased instrument type, e.g. sds011
	Indoor bool
	Lat    float64
	Lon    float64

	// Readings holds freshly ingested readings waiting to be saved
	Readings []Reading

	// Sorted holds stored readings per value name in chronological order
	Sorted map[string][]Reading

	// Maximum, Minimum and Average are keyed by bucket label
	Maximum map[string][]Reading
	Minimum map[string][]Reading
	Average map[string][]Reading

	// BucketFormat is the bucket granularity the summaries were computed with
	BucketFormat string

	// Stored is the number of readings in the database, set when loading
	Stored int
}

// NewSensor creates a sensor without any data attached
func NewSensor(id int64, sensorType string, indoor bool) *Sensor {
	return &Sensor{
		ID:      id,
		Type:    sensorType,
		Indoor:  indoor,
		Sorted:  map[string][]Reading{},
		Maximum: map[string][]Reading{},
		Minimum: map[string][]Reading{},
		Average: map[string][]Reading{},
	}
}

// Buckets returns the bucket labels of the maximum summary in ascending order
func (s *Sensor) Buckets() []string {
	return sortedKeys(s.Maximum)
}

// ValueNames returns the value names present in the sorted readings in ascending order
func (s *Sensor) ValueNames() []string {
	return sortedKeys(s.Sorted)
}

func (s *Sensor) String() string {
	return fmt.Sprintf("(id=%d type=%s, lat=%f, lon=%f, indoor=%t, readings=%d, buckets=%d)",
		s.ID, s.Type, s.Lat, s.Lon, s.Indoor, len(s.Readings), len(s.Maximum))
}
