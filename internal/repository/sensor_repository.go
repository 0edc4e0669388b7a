// Package repository provides data access implementations
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

// ErrSettingNotFound is returned when a setting name is not present in the store
var ErrSettingNotFound = errors.New("setting not found")

// SensorRepository defines the interface for sensor persistence operations
type SensorRepository interface {
	SaveSensor(ctx context.Context, sensor *entities.Sensor) error
	SaveReading(ctx context.Context, reading entities.Reading) error
	SaveSensorType(ctx context.Context, sensorID int64, sensorType string, indoor bool) (string, bool, error)
	SensorType(ctx context.Context, sensorID int64) (string, bool, error)
	IsIndoor(ctx context.Context, sensorID int64) (bool, bool, error)
	SensorExists(ctx context.Context, sensorID int64) (bool, error)
	GetSensor(ctx context.Context, sensorID int64) (*entities.Sensor, bool, error)
	SortedReadings(ctx context.Context, sensorID int64) (map[string][]entities.Reading, error)
	CountReadings(ctx context.Context, sensorID int64) (int, error)
	HasDataInYear(ctx context.Context, sensorID int64, year int) (bool, error)
	Aggregate(ctx context.Context, sensorID int64, stat entities.Statistic, bucketFormat string) (map[string][]entities.Reading, error)
	DeleteSensor(ctx context.Context, sensorID int64) error
	SensorIDs(ctx context.Context) ([]int64, error)
	SearchTypes(ctx context.Context) ([]string, error)
	AddSearchTypes(ctx context.Context, types []string) (int, error)
	ImportCatalog(ctx context.Context, entries []entities.CatalogEntry) (int, error)
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error
	Truncate(ctx context.Context) error
	Close() error
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLiteSensorRepository implements SensorRepository using SQLite
type SQLiteSensorRepository struct {
	db     *sql.DB
	logger *logging.Logger
	DBPath string
}

// NewSQLiteSensorRepository creates and initializes a new SQLite repository
func NewSQLiteSensorRepository(dbPath string, logger *logging.Logger) (*SQLiteSensorRepository, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "sensors.db")
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	logger = logger.WithComponent(logging.ComponentRepository)

	logger.Infof("Opening database at %s", dbPath)
	db, err := sql.Open(driverName, dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One shared handle; writers are serialized by SQLite itself
	db.SetMaxOpenConns(1)

	repo := &SQLiteSensorRepository{
		db:     db,
		logger: logger,
		DBPath: dbPath,
	}

	if err := repo.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *SQLiteSensorRepository) createTables(ctx context.Context) error {
	createTablesSQL := `
	CREATE TABLE IF NOT EXISTS sensor_type (
		sensor_id INTEGER PRIMARY KEY,
		sensor_type TEXT NOT NULL,
		indoor INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS sensor (
		id INTEGER PRIMARY KEY,
		lat REAL,
		lon REAL,
		FOREIGN KEY (id) REFERENCES sensor_type(sensor_id)
	);
	CREATE TABLE IF NOT EXISTS data (
		time TEXT NOT NULL,
		sensor_id INTEGER NOT NULL,
		value_name TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (time, sensor_id, value_name),
		FOREIGN KEY (sensor_id) REFERENCES sensor(id)
	);
	CREATE INDEX IF NOT EXISTS idx_data_sensor_time ON data(sensor_id, time);
	CREATE TABLE IF NOT EXISTS sensor_search_types (
		type TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS gui_settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := r.db.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	seedSettings := map[string]string{
		entities.SettingLineStyle:    entities.DefaultLineStyle,
		entities.SettingBucketFormat: entities.DefaultBucketFormat,
	}
	for name, value := range seedSettings {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO gui_settings(name, value) VALUES (?, ?)`, name, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to seed setting %s: %w", name, err)
		}
	}
	for _, typ := range entities.DefaultSearchTypes {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sensor_search_types(type) VALUES (?)`, typ); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to seed search type %s: %w", typ, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed data: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteSensorRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSensor stores the type pairing, the coordinates and every attached reading.
// Each row is written with insert-if-absent semantics.
func (r *SQLiteSensorRepository) SaveSensor(ctx context.Context, sensor *entities.Sensor) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, _, err := saveSensorType(ctx, tx, r.logger, sensor.ID, sensor.Type, sensor.Indoor); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sensor(id, lat, lon) VALUES (?, ?, ?)`,
		sensor.ID, sensor.Lat, sensor.Lon,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert sensor %d: %w", sensor.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO data(time, sensor_id, value_name, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rd := range sensor.Readings {
		if _, err := stmt.ExecContext(ctx,
			rd.Timestamp.Format(entities.TimestampLayout),
			rd.SensorID,
			rd.ValueName,
			rd.Value,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert reading %s for sensor %d: %w", rd, sensor.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.WithSensor(sensor.ID).Infof("Saved sensor with %d readings", len(sensor.Readings))
	return nil
}

// SaveReading stores a single reading with insert-if-absent semantics
func (r *SQLiteSensorRepository) SaveReading(ctx context.Context, reading entities.Reading) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO data(time, sensor_id, value_name, value)
		VALUES (?, ?, ?, ?)`,
		reading.Timestamp.Format(entities.TimestampLayout),
		reading.SensorID,
		reading.ValueName,
		reading.Value,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading %s: %w", reading, err)
	}
	return nil
}

// SaveSensorType records the type/indoor pairing of a sensor unless one is already stored.
// It returns the pairing that is in the store afterwards.
func (r *SQLiteSensorRepository) SaveSensorType(ctx context.Context, sensorID int64, sensorType string, indoor bool) (string, bool, error) {
	return saveSensorType(ctx, r.db, r.logger, sensorID, sensorType, indoor)
}

func saveSensorType(ctx context.Context, q querier, logger *logging.Logger, sensorID int64, sensorType string, indoor bool) (string, bool, error) {
	var storedType string
	var storedIndoor bool
	err := q.QueryRowContext(ctx,
		`SELECT sensor_type, indoor FROM sensor_type WHERE sensor_id = ?`, sensorID,
	).Scan(&storedType, &storedIndoor)
	switch {
	case err == nil:
		if storedType != sensorType || storedIndoor != indoor {
			logger.WithSensor(sensorID).WithFields(map[string]interface{}{
				"stored_type":   storedType,
				"stored_indoor": storedIndoor,
				"type":          sensorType,
				"indoor":        indoor,
			}).Debug("Keeping recorded sensor type")
		}
		return storedType, storedIndoor, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return "", false, fmt.Errorf("failed to query type of sensor %d: %w", sensorID, err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO sensor_type(sensor_id, sensor_type, indoor) VALUES (?, ?, ?)`,
		sensorID, sensorType, indoor,
	); err != nil {
		return "", false, fmt.Errorf("failed to insert type of sensor %d: %w", sensorID, err)
	}
	return sensorType, indoor, nil
}

// SensorType returns the recorded type of a sensor
func (r *SQLiteSensorRepository) SensorType(ctx context.Context, sensorID int64) (string, bool, error) {
	var sensorType string
	err := r.db.QueryRowContext(ctx,
		`SELECT sensor_type FROM sensor_type WHERE sensor_id = ?`, sensorID,
	).Scan(&sensorType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query type of sensor %d: %w", sensorID, err)
	}
	return sensorType, true, nil
}

// IsIndoor returns the recorded indoor flag of a sensor
func (r *SQLiteSensorRepository) IsIndoor(ctx context.Context, sensorID int64) (bool, bool, error) {
	var indoor bool
	err := r.db.QueryRowContext(ctx,
		`SELECT indoor FROM sensor_type WHERE sensor_id = ?`, sensorID,
	).Scan(&indoor)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to query indoor flag of sensor %d: %w", sensorID, err)
	}
	return indoor, true, nil
}

// SensorExists reports whether a sensor row is stored
func (r *SQLiteSensorRepository) SensorExists(ctx context.Context, sensorID int64) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sensor WHERE id = ?`, sensorID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check sensor %d: %w", sensorID, err)
	}
	return n > 0, nil
}

// GetSensor loads the sensor row joined with its type pairing, without readings
func (r *SQLiteSensorRepository) GetSensor(ctx context.Context, sensorID int64) (*entities.Sensor, bool, error) {
	var (
		sensorType sql.NullString
		indoor     sql.NullBool
		lat, lon   sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT sensor_type.sensor_type, sensor_type.indoor, sensor.lat, sensor.lon
		FROM sensor
		LEFT JOIN sensor_type ON sensor.id = sensor_type.sensor_id
		WHERE sensor.id = ?`, sensorID,
	).Scan(&sensorType, &indoor, &lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query sensor %d: %w", sensorID, err)
	}

	sensor := entities.NewSensor(sensorID, sensorType.String, indoor.Bool)
	sensor.Lat = lat.Float64
	sensor.Lon = lon.Float64
	return sensor, true, nil
}

// SortedReadings returns every stored reading of a sensor grouped by value name in
// chronological order
func (r *SQLiteSensorRepository) SortedReadings(ctx context.Context, sensorID int64) (map[string][]entities.Reading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT time, value_name, value
		FROM data
		WHERE sensor_id = ?
		ORDER BY time, value_name`, sensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings of sensor %d: %w", sensorID, err)
	}
	defer rows.Close()

	result := map[string][]entities.Reading{}
	for rows.Next() {
		var ts, valueName, value string
		if err := rows.Scan(&ts, &valueName, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		result[valueName] = append(result[valueName], entities.Reading{
			Timestamp: parsed,
			Value:     value,
			ValueName: valueName,
			SensorID:  sensorID,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// CountReadings returns the number of stored readings of a sensor
func (r *SQLiteSensorRepository) CountReadings(ctx context.Context, sensorID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data WHERE sensor_id = ?`, sensorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings of sensor %d: %w", sensorID, err)
	}
	return n, nil
}

// HasDataInYear reports whether any reading of the sensor falls into the given year
func (r *SQLiteSensorRepository) HasDataInYear(ctx context.Context, sensorID int64, year int) (bool, error) {
	from := fmt.Sprintf("%04d-01-01", year)
	to := fmt.Sprintf("%04d-01-01", year+1)

	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM data
		WHERE sensor_id = ? AND time >= ? AND time < ?`, sensorID, from, to,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check data of sensor %d in %d: %w", sensorID, year, err)
	}
	return n > 0, nil
}

// DeleteSensor removes the readings and the sensor row. The type pairing is kept.
func (r *SQLiteSensorRepository) DeleteSensor(ctx context.Context, sensorID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM data WHERE sensor_id = ?`, sensorID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete readings of sensor %d: %w", sensorID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sensor WHERE id = ?`, sensorID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete sensor %d: %w", sensorID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.WithSensor(sensorID).Info("Deleted sensor from database")
	return nil
}

// SensorIDs returns the IDs of all stored sensors in ascending order
func (r *SQLiteSensorRepository) SensorIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM sensor ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}

// SearchTypes returns the type catalog in insertion order
func (r *SQLiteSensorRepository) SearchTypes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type FROM sensor_search_types ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query search types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		types = append(types, typ)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return types, nil
}

// AddSearchTypes appends type names to the catalog and returns how many were new
func (r *SQLiteSensorRepository) AddSearchTypes(ctx context.Context, types []string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	added, err := addSearchTypes(ctx, tx, types)
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return added, nil
}

func addSearchTypes(ctx context.Context, q querier, types []string) (int, error) {
	added := 0
	for _, typ := range types {
		if typ == "" {
			continue
		}
		res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO sensor_search_types(type) VALUES (?)`, typ)
		if err != nil {
			return added, fmt.Errorf("failed to insert search type %s: %w", typ, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// ImportCatalog seeds the type catalog and the type table from directory entries.
// It returns the number of newly recorded sensor types.
func (r *SQLiteSensorRepository) ImportCatalog(ctx context.Context, entries []entities.CatalogEntry) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO sensor_type(sensor_id, sensor_type, indoor) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool)
	var types []string
	inserted := 0
	for _, entry := range entries {
		if !seen[entry.Type] {
			seen[entry.Type] = true
			types = append(types, entry.Type)
		}
		res, err := stmt.ExecContext(ctx, entry.SensorID, entry.Type, entry.Indoor)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert catalog entry for sensor %d: %w", entry.SensorID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if _, err := addSearchTypes(ctx, tx, types); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// GetSetting returns the value of a setting, matching the name case-insensitively
func (r *SQLiteSensorRepository) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM gui_settings WHERE lower(name) = lower(?)`, name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting %s: %w", name, err)
	}
	return value, nil
}

// SetSetting stores the value of a setting
func (r *SQLiteSensorRepository) SetSetting(ctx context.Context, name, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gui_settings(name, value) VALUES (lower(?), ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", name, err)
	}
	return nil
}

// Truncate removes all sensors, readings and type pairings. The type catalog and
// settings are kept.
func (r *SQLiteSensorRepository) Truncate(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, table := range []string{"data", "sensor", "sensor_type"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Database was cleared")
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(entities.TimestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", value, err)
	}
	return ts, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
