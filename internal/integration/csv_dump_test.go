package integration

import (
	"strings"
	"testing"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
)

func TestParseDump(t *testing.T) {
	result, err := ParseDump(strings.NewReader(sampleDump), 4242)
	if err != nil {
		t.Fatalf("Failed to parse dump: %v", err)
	}

	if result.Type != "sds011" {
		t.Errorf("Expected lower-cased type sds011, got %s", result.Type)
	}
	if result.Lat != 48.8 || result.Lon != 9.002 {
		t.Errorf("Unexpected coordinates %f/%f", result.Lat, result.Lon)
	}
	if result.Rows != 2 {
		t.Errorf("Expected 2 rows, got %d", result.Rows)
	}
	// 6 measured columns per row
	if len(result.Readings) != 12 {
		t.Fatalf("Expected 12 readings, got %d", len(result.Readings))
	}

	first := result.Readings[0]
	want := entities.Reading{
		Timestamp: time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
		Value:     "12.5",
		ValueName: "P1",
		SensorID:  4242,
	}
	if !first.Equal(want) {
		t.Errorf("Expected %s, got %s", want, first)
	}

	for _, rd := range result.Readings {
		if rd.SensorID != 4242 {
			t.Errorf("Reading must carry the caller's sensor ID, got %d", rd.SensorID)
		}
	}

	if result.Readings[1].ValueName != "durP1" || result.Readings[1].Value != "" {
		t.Errorf("Empty measured column must be kept, got %s", result.Readings[1])
	}
	if result.Readings[9].Value != "nan" || result.Readings[9].ValueName != "P2" {
		t.Errorf("Expected nan P2 reading, got %s", result.Readings[9])
	}
}

func TestParseDump_Empty(t *testing.T) {
	result, err := ParseDump(strings.NewReader(""), 1)
	if err != nil {
		t.Fatalf("Empty file must not fail: %v", err)
	}
	if len(result.Readings) != 0 || result.Rows != 0 {
		t.Errorf("Expected no readings, got %d", len(result.Readings))
	}
}

func TestParseDump_HeaderOnly(t *testing.T) {
	result, err := ParseDump(strings.NewReader("sensor_id;sensor_type;location;lat;lon;timestamp;temperature\n"), 1)
	if err != nil {
		t.Fatalf("Header-only file must not fail: %v", err)
	}
	if len(result.Readings) != 0 {
		t.Errorf("Expected no readings, got %d", len(result.Readings))
	}
}

func TestParseDump_Malformed(t *testing.T) {
	header := "sensor_id;sensor_type;location;lat;lon;timestamp;temperature;humidity\n"
	tests := []struct {
		name string
		body string
	}{
		{"short header", "sensor_id;sensor_type;lat\n"},
		{"column count", header + "1;DHT22;2;48.1;9.2;2022-01-01T00:00:00;3.5\n"},
		{"latitude", header + "1;DHT22;2;north;9.2;2022-01-01T00:00:00;3.5;80\n"},
		{"longitude", header + "1;DHT22;2;48.1;;2022-01-01T00:00:00;3.5;80\n"},
		{"timestamp", header + "1;DHT22;2;48.1;9.2;01.01.2022 00:00;3.5;80\n"},
		{"late bad row", header +
			"1;DHT22;2;48.1;9.2;2022-01-01T00:00:00;3.5;80\n" +
			"1;DHT22;2;48.1;9.2;2022-01-01T00:05:00;3.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDump(strings.NewReader(tt.body), 1); err == nil {
				t.Error("Expected the whole file to fail")
			}
		})
	}
}
