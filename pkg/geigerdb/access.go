package geigerdb

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// roundToDayStart returns the Unix timestamp of the start of the day for the given time
func roundToDayStart(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour
func getHourEnd(hourStart int64) int64 {
	return time.Unix(hourStart, 0).Add(time.Hour).Unix() - 1
}

// getDayEnd returns the Unix timestamp of the last second of the day
func getDayEnd(dayStart int64) int64 {
	return time.Unix(dayStart, 0).AddDate(0, 0, 1).Unix() - 1
}

// InsertReading stores one completed poll cycle.
func (s *Store) InsertReading(r *types.Reading) error {
	_, err := s.db.Exec(
		"INSERT INTO readings (timestamp, cpm, usvh, battery_volts, gps, device_serial, device_version) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.Timestamp.Unix(),
		r.CPM,
		r.DoseRateUSvH,
		r.BatteryVolts,
		r.GpsCoords,
		r.DeviceSerial,
		r.DeviceVersion,
	)
	if err != nil {
		return err
	}
	return nil
}

// LatestReading returns the newest raw reading, or nil when the store is
// still empty.
func (s *Store) LatestReading() (*GeigerDbReading, error) {
	query := `
		SELECT timestamp, cpm, usvh, battery_volts, gps, device_serial, device_version
		FROM readings
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var r GeigerDbReading
	err := s.db.QueryRow(query).Scan(
		&r.Timestamp, &r.CPM, &r.USvH, &r.BatteryVolts,
		&r.Gps, &r.DeviceSerial, &r.DeviceVersion,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// ReadingsBetween returns raw readings in [from, to], oldest first.
func (s *Store) ReadingsBetween(from, to int64) ([]GeigerDbReading, error) {
	query := `
		SELECT timestamp, cpm, usvh, battery_volts, gps, device_serial, device_version
		FROM readings
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []GeigerDbReading
	for rows.Next() {
		var r GeigerDbReading
		if err := rows.Scan(
			&r.Timestamp, &r.CPM, &r.USvH, &r.BatteryVolts,
			&r.Gps, &r.DeviceSerial, &r.DeviceVersion,
		); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// aggregateRange rolls the raw readings of [start, end] into the given
// aggregate table. Re-running for the same period replaces the row.
func (s *Store) aggregateRange(table, keyColumn string, periodStart, periodEnd int64) error {
	query := `
		SELECT AVG(cpm), AVG(usvh), MAX(cpm), COUNT(*)
		FROM readings
		WHERE timestamp >= ? AND timestamp <= ?
	`

	var avgCpm, avgUsvh sql.NullFloat64
	var maxCpm sql.NullInt64
	var sampleCount uint32
	err := s.db.QueryRow(query, periodStart, periodEnd).Scan(&avgCpm, &avgUsvh, &maxCpm, &sampleCount)
	if err != nil {
		return err
	}

	// Only insert if we have data
	if sampleCount == 0 {
		return nil
	}

	insertQuery := `
		INSERT OR REPLACE INTO ` + table + `
		(` + keyColumn + `, avg_cpm, avg_usvh, max_cpm, sample_count)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(insertQuery, periodStart, avgCpm.Float64, avgUsvh.Float64, maxCpm.Int64, sampleCount)
	return err
}

// AggregateHourly rolls up the hour beginning at hourStart.
func (s *Store) AggregateHourly(hourStart int64) error {
	return s.aggregateRange("aggregate_readings_hourly", "hour_start", hourStart, getHourEnd(hourStart))
}

// AggregateDaily rolls up the day beginning at dayStart.
func (s *Store) AggregateDaily(dayStart int64) error {
	return s.aggregateRange("aggregate_readings_daily", "day_start", dayStart, getDayEnd(dayStart))
}

// HourlyAggregate fetches one hourly roll-up, or nil when the hour was
// never aggregated.
func (s *Store) HourlyAggregate(hourStart int64) (*GeigerDbAggregateHourly, error) {
	return s.fetchAggregate("aggregate_readings_hourly", "hour_start", hourStart)
}

// DailyAggregate fetches one daily roll-up, or nil when the day was never
// aggregated.
func (s *Store) DailyAggregate(dayStart int64) (*GeigerDbAggregateDaily, error) {
	return s.fetchAggregate("aggregate_readings_daily", "day_start", dayStart)
}

func (s *Store) fetchAggregate(table, keyColumn string, periodStart int64) (*GeigerDbAggregateReading, error) {
	query := `
		SELECT ` + keyColumn + `, avg_cpm, avg_usvh, max_cpm, sample_count
		FROM ` + table + `
		WHERE ` + keyColumn + ` = ?
	`

	var a GeigerDbAggregateReading
	err := s.db.QueryRow(query, periodStart).Scan(
		&a.PeriodStart, &a.AvgCPM, &a.AvgUSvH, &a.MaxCPM, &a.SampleCount,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// cleanupOldReadings removes raw readings older than 3 months once the
// aggregates cover them.
func (s *Store) cleanupOldReadings() error {
	threeMonthsAgo := time.Now().UTC().AddDate(0, -3, 0)
	cutoffTimestamp := threeMonthsAgo.Unix()

	// Only clean up when aggregation has caught up past the cutoff
	var lastAggregateHour sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(hour_start) FROM aggregate_readings_hourly").Scan(&lastAggregateHour)
	if err != nil {
		return err
	}
	if !lastAggregateHour.Valid || lastAggregateHour.Int64 < cutoffTimestamp {
		return nil
	}

	result, err := s.db.Exec("DELETE FROM readings WHERE timestamp < ?", cutoffTimestamp)
	if err != nil {
		return err
	}
	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		log.Info().
			Int64("rows", deleted).
			Str("cutoff", threeMonthsAgo.Format(time.RFC3339)).
			Msg("cleaned up old raw readings")
	}
	return nil
}

// AggregateAndCleanup performs all aggregation and cleanup tasks. Meant to
// run once per hour.
func (s *Store) AggregateAndCleanup() error {
	now := time.Now().UTC()

	// Aggregate the previous hour (the current one is still ongoing)
	hourStart := roundToHourStart(now.Add(-time.Hour))
	if err := s.AggregateHourly(hourStart); err != nil {
		return err
	}

	// Aggregate the previous day once it has fully passed
	if now.Hour() == 0 {
		dayStart := roundToDayStart(now.AddDate(0, 0, -1))
		if err := s.AggregateDaily(dayStart); err != nil {
			return err
		}
	}

	return s.cleanupOldReadings()
}
