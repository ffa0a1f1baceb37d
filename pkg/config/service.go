package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/pathing"
)

var ActiveLoggerConfig *LoggerConfig

// DefaultLoggerConfig holds the compiled-in defaults for a GMC-300 on a
// battery-powered field deployment.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		SerialDevice:       "", // auto-detect
		Baudrate:           57600,
		CsvFilename:        "geiger_log.csv",
		GpsCoords:          "53.4096, -2.5737",
		ListenAddress:      "0.0.0.0",
		ListenPort:         9040,
		DatabaseEnabled:    true,
		CpmPollSeconds:     4,
		BatteryPollSeconds: 60,
		ClockSyncMinutes:   30,
		ResponseTimeoutMs:  3000,
	}
}

func LoadLoggerConfig() error {
	configPath := filepath.Join(pathing.GetConfigDir(), "geiger_logger.toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultLoggerConfig()
		// Create file
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		toml.NewEncoder(cfgFile).Encode(cfg)
		applyEnvOverrides(cfg)
		ActiveLoggerConfig = cfg
		return nil
	}

	// Load existing config
	var config LoggerConfig
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return err
	}
	applyEnvOverrides(&config)
	ActiveLoggerConfig = &config
	return nil
}

// applyEnvOverrides lets deployments pin the port without editing the
// config file.
func applyEnvOverrides(cfg *LoggerConfig) {
	if device := os.Getenv("GMC_SERIAL_DEVICE"); device != "" {
		cfg.SerialDevice = device
	}
}
