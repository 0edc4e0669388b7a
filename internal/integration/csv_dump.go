package integration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
)

// Reserved column positions of an archive day file
const (
	columnType      = 1
	columnLat       = 3
	columnLon       = 4
	columnTimestamp = 5
	firstValue      = 6
)

// DayResult is the parsed content of one archive day file
type DayResult struct {
	Type     string // observed type of the last row, lower-cased
	Lat      float64
	Lon      float64
	Rows     int
	Readings []entities.Reading
}

// ParseDump converts a semicolon-delimited archive day file into readings. The
// first row is the header naming each column. Every measured column of every data
// row becomes one reading tagged with sensorID. Any malformed row fails the file.
func ParseDump(r io.Reader, sensorID int64) (*DayResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = 0
	reader.LazyQuotes = true

	result := &DayResult{}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < firstValue {
		return nil, fmt.Errorf("header has %d columns, at least %d required", len(header), firstValue)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", result.Rows+1, err)
		}
		result.Rows++

		lat, err := strconv.ParseFloat(strings.TrimSpace(record[columnLat]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid latitude '%s': %w", result.Rows, record[columnLat], err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[columnLon]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid longitude '%s': %w", result.Rows, record[columnLon], err)
		}
		ts, err := time.Parse(entities.TimestampLayout, strings.TrimSpace(record[columnTimestamp]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp '%s': %w", result.Rows, record[columnTimestamp], err)
		}

		result.Type = strings.ToLower(strings.TrimSpace(record[columnType]))
		result.Lat = lat
		result.Lon = lon

		for i := firstValue; i < len(record); i++ {
			result.Readings = append(result.Readings, entities.Reading{
				Timestamp: ts,
				Value:     record[i],
				ValueName: header[i],
				SensorID:  sensorID,
			})
		}
	}

	return result, nil
}
