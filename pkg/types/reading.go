package types

import "time"

// Reading is one complete sample from the counter. It is assembled once per
// poll cycle and handed to the sinks as-is.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`

	// Measurement
	CPM          uint16  `json:"cpm"`
	DoseRateUSvH float64 `json:"usvh"`

	// Last known battery level; 0.0 when unknown or implausible
	BatteryVolts float64 `json:"battery_volts"`

	// Station/device identity
	GpsCoords     string `json:"gps"`
	DeviceSerial  string `json:"device_serial"`
	DeviceVersion string `json:"device_version"`
}
