package pathing

import (
	"os"
	"path/filepath"
)

// EnsureDirs creates the data and config directories. Must be called on
// startup before anything opens files.
func EnsureDirs() error {
	// Directories that must exist:
	dirs := []string{
		GetDataDir(),
		GetConfigDir(),
	}

	// Create all directories
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}
	return nil
}

func GetRecordStorePath(filename string) string {
	// Join path
	return filepath.Join(GetDataDir(), filename)
}

func GetGeigerDbPath() string {
	return filepath.Join(GetDataDir(), "gmc-readings.db")
}

func GetDataDir() string {
	if dir := os.Getenv("GMC_LOGGER_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/gmc_radiation_logger"
}

func GetConfigDir() string {
	if dir := os.Getenv("GMC_LOGGER_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/gmc_radiation_logger"
}
