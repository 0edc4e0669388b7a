package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

func createTestRepository(t *testing.T) *SQLiteSensorRepository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test-sensors.db")
	repo, err := NewSQLiteSensorRepository(dbPath, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to initialize repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(entities.TimestampLayout, value)
	if err != nil {
		t.Fatalf("Bad timestamp %s: %v", value, err)
	}
	return parsed
}

func testSensor(t *testing.T) *entities.Sensor {
	t.Helper()
	sensor := entities.NewSensor(113, "sds011", false)
	sensor.Lat = 48.8
	sensor.Lon = 9.002
	sensor.Readings = []entities.Reading{
		{Timestamp: ts(t, "2022-01-01T00:00:15"), Value: "12.5", ValueName: "P1", SensorID: 113},
		{Timestamp: ts(t, "2022-01-01T00:00:15"), Value: "7.25", ValueName: "P2", SensorID: 113},
		{Timestamp: ts(t, "2022-01-15T12:00:00"), Value: "20", ValueName: "P1", SensorID: 113},
		{Timestamp: ts(t, "2022-01-15T12:00:00"), Value: "nan", ValueName: "P2", SensorID: 113},
		{Timestamp: ts(t, "2022-01-20T08:30:00"), Value: "", ValueName: "P1", SensorID: 113},
		{Timestamp: ts(t, "2022-01-21T08:30:00"), Value: "err", ValueName: "P1", SensorID: 113},
		{Timestamp: ts(t, "2022-02-03T10:00:00"), Value: "3", ValueName: "P1", SensorID: 113},
		{Timestamp: ts(t, "2022-02-04T10:00:00"), Value: "5", ValueName: "P1", SensorID: 113},
	}
	return sensor
}

func TestNewSQLiteSensorRepository_SeedsDefaults(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	types, err := repo.SearchTypes(ctx)
	if err != nil {
		t.Fatalf("Failed to get search types: %v", err)
	}
	if len(types) != len(entities.DefaultSearchTypes) {
		t.Fatalf("Expected %d search types, got %d", len(entities.DefaultSearchTypes), len(types))
	}
	for i, typ := range entities.DefaultSearchTypes {
		if types[i] != typ {
			t.Errorf("Expected search type %d to be %s, got %s", i, typ, types[i])
		}
	}

	bucket, err := repo.GetSetting(ctx, entities.SettingBucketFormat)
	if err != nil {
		t.Fatalf("Failed to get setting: %v", err)
	}
	if bucket != entities.DefaultBucketFormat {
		t.Errorf("Expected default bucket format %s, got %s", entities.DefaultBucketFormat, bucket)
	}

	lineStyle, err := repo.GetSetting(ctx, "LINESTYLE")
	if err != nil {
		t.Fatalf("Failed to get setting case-insensitively: %v", err)
	}
	if lineStyle != entities.DefaultLineStyle {
		t.Errorf("Expected default line style %s, got %s", entities.DefaultLineStyle, lineStyle)
	}
}

func TestReopenKeepsChangedSettings(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	repo, err := NewSQLiteSensorRepository(dbPath, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to initialize repository: %v", err)
	}
	if err := repo.SetSetting(ctx, entities.SettingBucketFormat, "%Y-%m-%d"); err != nil {
		t.Fatalf("Failed to set setting: %v", err)
	}
	repo.Close()

	repo, err = NewSQLiteSensorRepository(dbPath, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to reopen repository: %v", err)
	}
	defer repo.Close()

	value, err := repo.GetSetting(ctx, entities.SettingBucketFormat)
	if err != nil {
		t.Fatalf("Failed to get setting: %v", err)
	}
	if value != "%Y-%m-%d" {
		t.Errorf("Seeding must not overwrite a changed setting, got %s", value)
	}
}

func TestGetSetting_Unknown(t *testing.T) {
	repo := createTestRepository(t)

	_, err := repo.GetSetting(context.Background(), "colour")
	if !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("Expected ErrSettingNotFound, got %v", err)
	}
}

func TestSaveSensor_Idempotent(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	sensor := testSensor(t)

	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}
	first, err := repo.CountReadings(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to count readings: %v", err)
	}
	if first != len(sensor.Readings) {
		t.Errorf("Expected %d readings, got %d", len(sensor.Readings), first)
	}

	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Saving the same sensor twice must not fail: %v", err)
	}
	for _, rd := range sensor.Readings {
		if err := repo.SaveReading(ctx, rd); err != nil {
			t.Fatalf("Saving an existing reading must not fail: %v", err)
		}
	}

	second, err := repo.CountReadings(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to count readings: %v", err)
	}
	if first != second {
		t.Errorf("Expected row count to stay %d, got %d", first, second)
	}
}

func TestSaveSensor_RoundTrip(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	sensor := testSensor(t)

	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}

	loaded, found, err := repo.GetSensor(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to get sensor: %v", err)
	}
	if !found {
		t.Fatal("Expected sensor to be found")
	}
	if loaded.Type != "sds011" || loaded.Indoor || loaded.Lat != 48.8 || loaded.Lon != 9.002 {
		t.Errorf("Unexpected sensor attributes: %s", loaded)
	}

	sorted, err := repo.SortedReadings(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to get sorted readings: %v", err)
	}

	var total int
	for _, readings := range sorted {
		total += len(readings)
		for i := 1; i < len(readings); i++ {
			if readings[i].Less(readings[i-1]) {
				t.Errorf("Readings for %s are not in chronological order", readings[i].ValueName)
			}
		}
	}
	if total != len(sensor.Readings) {
		t.Errorf("Expected %d readings back, got %d", len(sensor.Readings), total)
	}

	for _, want := range sensor.Readings {
		matched := false
		for _, got := range sorted[want.ValueName] {
			if got.Equal(want) {
				matched = true
				break
			}
		}
		if !matched {
			t.Errorf("Reading %s was not reproduced", want)
		}
	}
}

func TestSaveSensorType_KeepsFirstPairing(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	typ, indoor, err := repo.SaveSensorType(ctx, 42, "bme280", true)
	if err != nil {
		t.Fatalf("Failed to save sensor type: %v", err)
	}
	if typ != "bme280" || !indoor {
		t.Errorf("Expected bme280/indoor, got %s/%t", typ, indoor)
	}

	typ, indoor, err = repo.SaveSensorType(ctx, 42, "dht22", false)
	if err != nil {
		t.Fatalf("Failed to save sensor type: %v", err)
	}
	if typ != "bme280" || !indoor {
		t.Errorf("Expected recorded pairing bme280/indoor to be kept, got %s/%t", typ, indoor)
	}

	sensor := entities.NewSensor(42, "sds011", false)
	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}
	stored, found, err := repo.SensorType(ctx, 42)
	if err != nil || !found {
		t.Fatalf("Expected type to be found, err=%v", err)
	}
	if stored != "bme280" {
		t.Errorf("SaveSensor must not overwrite the recorded type, got %s", stored)
	}

	isIndoor, found, err := repo.IsIndoor(ctx, 42)
	if err != nil || !found {
		t.Fatalf("Expected indoor flag to be found, err=%v", err)
	}
	if !isIndoor {
		t.Error("Expected sensor 42 to stay indoor")
	}

	if _, found, _ := repo.IsIndoor(ctx, 999); found {
		t.Error("Expected unknown sensor to have no indoor flag")
	}
}

func TestDeleteSensor_KeepsTypePairing(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	sensor := testSensor(t)

	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}
	if err := repo.DeleteSensor(ctx, sensor.ID); err != nil {
		t.Fatalf("Failed to delete sensor: %v", err)
	}

	exists, err := repo.SensorExists(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to check sensor: %v", err)
	}
	if exists {
		t.Error("Expected sensor row to be deleted")
	}

	count, err := repo.CountReadings(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to count readings: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected readings to be deleted, %d left", count)
	}

	if _, found, _ := repo.GetSensor(ctx, sensor.ID); found {
		t.Error("Expected deleted sensor to be absent")
	}

	typ, found, err := repo.SensorType(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("Failed to get sensor type: %v", err)
	}
	if !found || typ != "sds011" {
		t.Errorf("Expected type pairing to survive deletion, got %q found=%t", typ, found)
	}
}

func TestSensorIDs(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	for _, id := range []int64{300, 7, 113} {
		if err := repo.SaveSensor(ctx, entities.NewSensor(id, "sds011", false)); err != nil {
			t.Fatalf("Failed to save sensor %d: %v", id, err)
		}
	}

	ids, err := repo.SensorIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to get sensor ids: %v", err)
	}
	want := []int64{7, 113, 300}
	if len(ids) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, ids)
		}
	}
}

func TestHasDataInYear(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	if err := repo.SaveSensor(ctx, testSensor(t)); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}

	has, err := repo.HasDataInYear(ctx, 113, 2022)
	if err != nil {
		t.Fatalf("Failed to check year: %v", err)
	}
	if !has {
		t.Error("Expected data in 2022")
	}

	has, err = repo.HasDataInYear(ctx, 113, 2021)
	if err != nil {
		t.Fatalf("Failed to check year: %v", err)
	}
	if has {
		t.Error("Expected no data in 2021")
	}
}

func TestImportCatalog(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	entries := []entities.CatalogEntry{
		{SensorID: 1001, Type: "sps30", Indoor: false},
		{SensorID: 1002, Type: "scd30", Indoor: true},
		{SensorID: 1003, Type: "scd30", Indoor: false},
	}

	inserted, err := repo.ImportCatalog(ctx, entries)
	if err != nil {
		t.Fatalf("Failed to import catalog: %v", err)
	}
	if inserted != 3 {
		t.Errorf("Expected 3 new type pairings, got %d", inserted)
	}

	inserted, err = repo.ImportCatalog(ctx, entries)
	if err != nil {
		t.Fatalf("Failed to re-import catalog: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Expected re-import to be a no-op, got %d", inserted)
	}

	types, err := repo.SearchTypes(ctx)
	if err != nil {
		t.Fatalf("Failed to get search types: %v", err)
	}
	if len(types) != len(entities.DefaultSearchTypes)+1 {
		t.Errorf("Expected only scd30 to be added, got %v", types)
	}
	if types[len(types)-1] != "scd30" {
		t.Errorf("Expected new type appended last, got %v", types)
	}

	indoor, found, err := repo.IsIndoor(ctx, 1002)
	if err != nil || !found || !indoor {
		t.Errorf("Expected sensor 1002 to be indoor, got indoor=%t found=%t err=%v", indoor, found, err)
	}
}

func TestTruncate(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	if err := repo.SaveSensor(ctx, testSensor(t)); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}
	if err := repo.Truncate(ctx); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	ids, err := repo.SensorIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to get sensor ids: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no sensors, got %v", ids)
	}
	if _, found, _ := repo.SensorType(ctx, 113); found {
		t.Error("Expected type pairings to be cleared")
	}

	types, err := repo.SearchTypes(ctx)
	if err != nil {
		t.Fatalf("Failed to get search types: %v", err)
	}
	if len(types) == 0 {
		t.Error("Type catalog must survive a wipe")
	}
}

func TestAggregate_MonthBuckets(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	if err := repo.SaveSensor(ctx, testSensor(t)); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}

	maximum, err := repo.Aggregate(ctx, 113, entities.StatMax, "%Y-%m")
	if err != nil {
		t.Fatalf("Failed to aggregate max: %v", err)
	}
	minimum, err := repo.Aggregate(ctx, 113, entities.StatMin, "%Y-%m")
	if err != nil {
		t.Fatalf("Failed to aggregate min: %v", err)
	}
	average, err := repo.Aggregate(ctx, 113, entities.StatAvg, "%Y-%m")
	if err != nil {
		t.Fatalf("Failed to aggregate avg: %v", err)
	}

	if len(maximum) != 2 {
		t.Fatalf("Expected buckets 2022-01 and 2022-02, got %v", maximum)
	}

	find := func(m map[string][]entities.Reading, bucket, name string) (entities.Reading, bool) {
		for _, rd := range m[bucket] {
			if rd.ValueName == name {
				return rd, true
			}
		}
		return entities.Reading{}, false
	}

	tests := []struct {
		bucket, name     string
		max, min, avg    string
		maxTime, minTime string
	}{
		{"2022-01", "P1", "20", "12.5", "16.25", "2022-01-15T12:00:00", "2022-01-01T00:00:15"},
		{"2022-01", "P2", "7.25", "7.25", "7.25", "2022-01-01T00:00:15", "2022-01-01T00:00:15"},
		{"2022-02", "P1", "5", "3", "4", "2022-02-04T10:00:00", "2022-02-03T10:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.bucket+"/"+tt.name, func(t *testing.T) {
			mx, ok := find(maximum, tt.bucket, tt.name)
			if !ok {
				t.Fatal("Missing max entry")
			}
			mn, ok := find(minimum, tt.bucket, tt.name)
			if !ok {
				t.Fatal("Missing min entry")
			}
			av, ok := find(average, tt.bucket, tt.name)
			if !ok {
				t.Fatal("Missing avg entry")
			}

			if mx.Value != tt.max || mn.Value != tt.min || av.Value != tt.avg {
				t.Errorf("Expected max/min/avg %s/%s/%s, got %s/%s/%s", tt.max, tt.min, tt.avg, mx.Value, mn.Value, av.Value)
			}
			if mx.Timestamp.Format(entities.TimestampLayout) != tt.maxTime {
				t.Errorf("Expected max timestamp %s, got %s", tt.maxTime, mx.Timestamp.Format(entities.TimestampLayout))
			}
			if mn.Timestamp.Format(entities.TimestampLayout) != tt.minTime {
				t.Errorf("Expected min timestamp %s, got %s", tt.minTime, mn.Timestamp.Format(entities.TimestampLayout))
			}
		})
	}

	if _, ok := find(maximum, "2022-02", "P2"); ok {
		t.Error("Bucket without numeric P2 values must not produce an entry")
	}
}

func TestAggregate_MinAvgMaxOrdering(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	sensor := entities.NewSensor(7, "bme280", false)
	start := ts(t, "2023-03-01T00:00:00")
	for i := 0; i < 96; i++ {
		sensor.Readings = append(sensor.Readings, entities.Reading{
			Timestamp: start.Add(time.Duration(i) * 45 * time.Minute),
			Value:     strconv.FormatFloat(float64((i*37)%23)-4.5, 'f', -1, 64),
			ValueName: "temperature",
			SensorID:  7,
		})
	}
	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}

	for _, bucketFormat := range entities.BucketFormats {
		maximum, err := repo.Aggregate(ctx, 7, entities.StatMax, bucketFormat)
		if err != nil {
			t.Fatalf("Failed to aggregate max: %v", err)
		}
		minimum, err := repo.Aggregate(ctx, 7, entities.StatMin, bucketFormat)
		if err != nil {
			t.Fatalf("Failed to aggregate min: %v", err)
		}
		average, err := repo.Aggregate(ctx, 7, entities.StatAvg, bucketFormat)
		if err != nil {
			t.Fatalf("Failed to aggregate avg: %v", err)
		}

		for bucket, maxReadings := range maximum {
			mx, _ := strconv.ParseFloat(maxReadings[0].Value, 64)
			mn, _ := strconv.ParseFloat(minimum[bucket][0].Value, 64)
			av, _ := strconv.ParseFloat(average[bucket][0].Value, 64)
			if !(mn <= av && av <= mx) {
				t.Errorf("%s bucket %s: expected min <= avg <= max, got %v %v %v", bucketFormat, bucket, mn, av, mx)
			}
		}
	}
}

func TestAggregate_UnknownStatistic(t *testing.T) {
	repo := createTestRepository(t)

	if _, err := repo.Aggregate(context.Background(), 1, entities.Statistic("median"), "%Y"); err == nil {
		t.Error("Expected error for unknown statistic")
	}
}

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
	}{
		{"12.5", 1},
		{" 3 ", 1},
		{"-0.25", 1},
		{"nan", 0},
		{"NaN", 0},
		{"inf", 0},
		{"0x1p4", 0},
		{"-0X10", 0},
		{"0", 1},
		{"", 0},
		{"err", 0},
		{[]byte("4"), 1},
		{int64(5), 1},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := isNumeric(tt.in); got != tt.want {
			t.Errorf("isNumeric(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAggregate_SkipsHexValues(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	sensor := entities.NewSensor(7, "sds011", false)
	sensor.Readings = []entities.Reading{
		{Timestamp: ts(t, "2022-03-01T00:00:00"), Value: "0x1p4", ValueName: "P1", SensorID: 7},
		{Timestamp: ts(t, "2022-03-02T00:00:00"), Value: "3", ValueName: "P1", SensorID: 7},
		{Timestamp: ts(t, "2022-03-03T00:00:00"), Value: "5", ValueName: "P1", SensorID: 7},
	}
	if err := repo.SaveSensor(ctx, sensor); err != nil {
		t.Fatalf("Failed to save sensor: %v", err)
	}

	minimum, err := repo.Aggregate(ctx, 7, entities.StatMin, "%Y")
	if err != nil {
		t.Fatalf("Failed to aggregate min: %v", err)
	}
	if got := minimum["2022"]; len(got) != 1 || got[0].Value != "3" {
		t.Errorf("Expected minimum 3 without the hex value, got %v", got)
	}
}

func TestAddSearchTypes(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	added, err := repo.AddSearchTypes(ctx, []string{"scd30", "sds011", "", "scd30"})
	if err != nil {
		t.Fatalf("Failed to add search types: %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 new type, got %d", added)
	}

	types, err := repo.SearchTypes(ctx)
	if err != nil {
		t.Fatalf("Failed to list search types: %v", err)
	}
	if types[len(types)-1] != "scd30" {
		t.Errorf("Expected scd30 appended last, got %v", types)
	}
}
