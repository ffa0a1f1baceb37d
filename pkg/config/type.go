package config

type LoggerConfig struct {
	// Empty means auto-detect the port
	SerialDevice string `toml:"serial_device"`
	Baudrate     uint   `toml:"baudrate"`

	CsvFilename string `toml:"csv_filename"`
	// Stamped onto every reading, e.g. "53.4096, -2.5737"
	GpsCoords string `toml:"gps_coords"`

	ListenAddress string `toml:"listen_address"`
	// 0 disables the live feed
	ListenPort int `toml:"listen_port"`

	DatabaseEnabled bool `toml:"database_enabled"`

	CpmPollSeconds     int `toml:"cpm_poll_seconds"`
	BatteryPollSeconds int `toml:"battery_poll_seconds"`
	ClockSyncMinutes   int `toml:"clock_sync_minutes"`
	ResponseTimeoutMs  int `toml:"response_timeout_ms"`
}
