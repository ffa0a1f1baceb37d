package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

// Column order is part of the format and never changes.
var header = []string{"Timestamp", "CPM", "uSv/h", "Battery Voltage", "GPS", "Device Serial", "Device Version"}

// Local time, second precision, no zone suffix
const timestampLayout = "2006-01-02T15:04:05"

// Store appends readings to a CSV file, one row per completed poll cycle.
// The header goes in exactly once, when the file is first created; existing
// files are never rewritten.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// Open attaches to the record file, creating it with a header when it does
// not exist yet.
func Open(path string) (*Store, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	created := err == nil
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create record store %s: %w", path, err)
		}
		file, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open record store %s: %w", path, err)
		}
	}

	s := &Store{path: path, file: file, writer: csv.NewWriter(file)}
	if created {
		s.writer.Write(header)
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write record store header: %w", err)
		}
		log.Info().Str("path", path).Msg("created new record store")
	} else {
		log.Info().Str("path", path).Msg("appending to existing record store")
	}
	return s, nil
}

// Append writes one reading as one row and flushes it to the file.
func (s *Store) Append(r *types.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		r.Timestamp.Format(timestampLayout),
		strconv.FormatUint(uint64(r.CPM), 10),
		strconv.FormatFloat(r.DoseRateUSvH, 'f', 4, 64),
		strconv.FormatFloat(r.BatteryVolts, 'f', 2, 64),
		r.GpsCoords,
		r.DeviceSerial,
		r.DeviceVersion,
	}
	s.writer.Write(row)
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("append to record store %s: %w", s.path, err)
	}
	return nil
}

// Close flushes pending rows and closes the file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
