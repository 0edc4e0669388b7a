package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/abelzeko/sensor-archive/internal/entities"
)

// driverName is the sqlite3 driver extended with the is_numeric SQL function
const driverName = "sqlite3_sensors"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("is_numeric", isNumeric, true)
		},
	})
}

// isNumeric returns 1 when value parses as a finite float. SQLite's CAST turns any
// text into a number, so it cannot be used to filter non-numeric markers.
func isNumeric(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return 1
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return 1
	case string:
		return parseNumeric(v)
	case []byte:
		return parseNumeric(string(v))
	default:
		return 0
	}
}

// parseNumeric matches what CAST(value AS REAL) reads as a number. Hex floats are
// rejected because SQLite casts them to 0.
func parseNumeric(s string) int64 {
	s = strings.TrimSpace(s)
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return 1
}

// Extreme statistics keep the timestamp and text value of the winning row, relying on
// SQLite's bare-column rule for MIN/MAX. The average uses the earliest timestamp of
// the group.
var aggregateQueries = map[entities.Statistic]string{
	entities.StatMax: `
		SELECT time, value_name, value, MAX(CAST(value AS REAL)) AS stat, strftime(?, time) AS bucket
		FROM data
		WHERE sensor_id = ? AND value <> '' AND value IS NOT 'nan' AND is_numeric(value)
		GROUP BY bucket, value_name
		ORDER BY bucket, value_name`,
	entities.StatMin: `
		SELECT time, value_name, value, MIN(CAST(value AS REAL)) AS stat, strftime(?, time) AS bucket
		FROM data
		WHERE sensor_id = ? AND value <> '' AND value IS NOT 'nan' AND is_numeric(value)
		GROUP BY bucket, value_name
		ORDER BY bucket, value_name`,
	entities.StatAvg: `
		SELECT MIN(time), value_name, '', AVG(CAST(value AS REAL)) AS stat, strftime(?, time) AS bucket
		FROM data
		WHERE sensor_id = ? AND value <> '' AND value IS NOT 'nan' AND is_numeric(value)
		GROUP BY bucket, value_name
		ORDER BY bucket, value_name`,
}

// Aggregate computes one statistic per (bucket, value name) over the numeric readings of
// a sensor. The result is keyed by bucket label.
func (r *SQLiteSensorRepository) Aggregate(ctx context.Context, sensorID int64, stat entities.Statistic, bucketFormat string) (map[string][]entities.Reading, error) {
	query, ok := aggregateQueries[stat]
	if !ok {
		return nil, fmt.Errorf("unknown statistic: %s", stat)
	}

	rows, err := r.db.QueryContext(ctx, query, bucketFormat, sensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s for sensor %d: %w", stat, sensorID, err)
	}
	defer rows.Close()

	result := map[string][]entities.Reading{}
	for rows.Next() {
		var (
			ts, valueName, value string
			statValue            float64
			bucket               sql.NullString
		)
		if err := rows.Scan(&ts, &valueName, &value, &statValue, &bucket); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		if stat == entities.StatAvg {
			value = formatFloat(statValue)
		}
		result[bucket.String] = append(result[bucket.String], entities.Reading{
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
