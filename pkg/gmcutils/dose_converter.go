package gmcutils

// Tube sensitivity for the M4011 fitted in the GMC-300 series
const uSvHPerCPM = 0.0065

// A single LiPo cell cannot sit above this; readings beyond it are misreads
const maxPlausibleVolts = 5.0

func CpmToUSvH(cpm uint16) float64 {
	return float64(cpm) * uSvHPerCPM
}

// No implausible values - out-of-range readings store as 0.0
func ClampBatteryVolts(volts float64) (float64, bool) {
	if volts < 0 || volts > maxPlausibleVolts {
		return 0.0, false
	}
	return volts, true
}
