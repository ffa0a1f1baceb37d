package port_discovery

import (
	"errors"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrNoPortFound means no serial device node is present on this machine.
var ErrNoPortFound = errors.New("no serial port found")

// Probed in order. The by-id symlinks survive replugging, the raw tty
// nodes do not.
var candidatePatterns = []string{
	"/dev/serial/by-id/*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
}

// FindFirst returns the first serial device node present, probing the
// stable paths before the numbered ones.
func FindFirst() (string, error) {
	return findFirst(candidatePatterns)
}

func findFirst(patterns []string) (string, error) {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		if len(matches) > 0 {
			log.Info().
				Str("port", matches[0]).
				Int("candidates", len(matches)).
				Msg("auto-detected serial port")
			return matches[0], nil
		}
	}
	return "", ErrNoPortFound
}
