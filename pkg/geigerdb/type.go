package geigerdb

type GeigerDbReading struct {
	Timestamp     int64   `db:"timestamp" json:"timestamp"`
	CPM           uint16  `db:"cpm" json:"cpm"`
	USvH          float64 `db:"usvh" json:"usvh"`
	BatteryVolts  float64 `db:"battery_volts" json:"battery_volts"`
	Gps           string  `db:"gps" json:"gps"`
	DeviceSerial  string  `db:"device_serial" json:"device_serial"`
	DeviceVersion string  `db:"device_version" json:"device_version"`
}

// Aggregate models - one row per completed timeframe
type GeigerDbAggregateReading struct {
	PeriodStart int64   `db:"period_start" json:"period_start"`
	AvgCPM      float64 `db:"avg_cpm" json:"avg_cpm"`
	AvgUSvH     float64 `db:"avg_usvh" json:"avg_usvh"`
	MaxCPM      uint16  `db:"max_cpm" json:"max_cpm"`
	SampleCount uint32  `db:"sample_count" json:"sample_count"`
}

type GeigerDbAggregateHourly = GeigerDbAggregateReading
type GeigerDbAggregateDaily = GeigerDbAggregateReading
