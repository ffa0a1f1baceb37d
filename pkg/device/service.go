package device

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/gmcutils"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/gqproto"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/transport"
)

const (
	defaultResponseTimeout = 3 * time.Second

	// Pause after the wake preamble before talking to the device
	wakeSettle = 200 * time.Millisecond

	// Gap that marks the end of a variable-length reply
	versionIdleGap = 100 * time.Millisecond
)

// NewSession wraps an exclusive serial channel. A zero responseTimeout
// selects the default.
func NewSession(link *transport.Channel, responseTimeout time.Duration) *Session {
	if responseTimeout <= 0 {
		responseTimeout = defaultResponseTimeout
	}
	return &Session{link: link, timeout: responseTimeout}
}

// Init fetches firmware version and serial number, in that order, each as
// its own exclusive exchange. Called once before polling starts; a failure
// here means no usable device.
func (s *Session) Init(ctx context.Context) error {
	version, err := s.fetchVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	serial, err := s.fetchSerialNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	s.identity = Identity{Version: version, SerialNumber: serial}
	log.Info().
		Str("version", version).
		Str("serial", serial).
		Msg("device identified")
	return nil
}

// Identity returns the cached device identity; zero value until Init
// succeeded.
func (s *Session) Identity() Identity {
	return s.identity
}

func (s *Session) fetchVersion(ctx context.Context) (string, error) {
	ex, err := s.link.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer ex.Release()

	// A unit in power saving ignores the first bytes it sees
	if err := ex.Send(gqproto.WakePreamble); err != nil {
		return "", err
	}
	time.Sleep(wakeSettle)
	ex.DrainInput()

	if err := ex.Send(gqproto.CmdGetVersion); err != nil {
		return "", err
	}
	resp, err := ex.ReadUntil(gqproto.VersionMaxLen, s.timeout, versionIdleGap)
	if err != nil {
		return "", err
	}
	return gqproto.DecodeVersion(resp)
}

func (s *Session) fetchSerialNumber(ctx context.Context) (string, error) {
	ex, err := s.link.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer ex.Release()

	ex.DrainInput()
	if err := ex.Send(gqproto.CmdGetSerial); err != nil {
		return "", err
	}
	resp, err := ex.ReadExact(gqproto.SerialResponseLen, s.timeout)
	if err != nil {
		return "", err
	}
	return gqproto.DecodeSerialNumber(resp)
}

// PollCPM runs one exclusive count query and returns the count with its
// equivalent dose rate.
func (s *Session) PollCPM(ctx context.Context) (uint16, float64, error) {
	ex, err := s.link.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer ex.Release()

	ex.DrainInput()
	if err := ex.Send(gqproto.CmdGetCPM); err != nil {
		return 0, 0, err
	}
	resp, err := ex.ReadExact(gqproto.CPMResponseLen, s.timeout)
	if err != nil {
		return 0, 0, err
	}
	cpm, err := gqproto.DecodeCPM(resp)
	if err != nil {
		return 0, 0, err
	}
	return cpm, gmcutils.CpmToUSvH(cpm), nil
}

// PollVoltage runs one exclusive battery query and stores the result as
// the last known level. An implausible reading stores 0.0 and reports
// clamped=true; that is a data point, not an error.
func (s *Session) PollVoltage(ctx context.Context) (float64, bool, error) {
	ex, err := s.link.Acquire(ctx)
	if err != nil {
		return 0, false, err
	}
	defer ex.Release()

	ex.DrainInput()
	if err := ex.Send(gqproto.CmdGetVoltage); err != nil {
		return 0, false, err
	}
	resp, err := ex.ReadExact(gqproto.VoltageResponseLen, s.timeout)
	if err != nil {
		return 0, false, err
	}
	raw, err := gqproto.DecodeVoltage(resp)
	if err != nil {
		return 0, false, err
	}

	volts, plausible := gmcutils.ClampBatteryVolts(raw)
	if !plausible {
		log.Warn().
			Float64("raw_volts", raw).
			Msg("implausible battery voltage, storing 0.0")
	}
	s.setBatteryVolts(volts)
	return volts, !plausible, nil
}

// SyncClock pushes the host clock onto the device and waits for the
// one-byte acknowledgment.
func (s *Session) SyncClock(ctx context.Context, now time.Time) error {
	ex, err := s.link.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClockSync, err)
	}
	defer ex.Release()

	ex.DrainInput()
	if err := ex.Send(gqproto.CmdSetDateTime(now)); err != nil {
		return fmt.Errorf("%w: %v", ErrClockSync, err)
	}
	resp, err := ex.ReadExact(gqproto.AckResponseLen, s.timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClockSync, err)
	}
	if err := gqproto.DecodeAck(resp); err != nil {
		return fmt.Errorf("%w: %v", ErrClockSync, err)
	}
	return nil
}

// BatteryVolts reports the last level stored by the voltage poll; 0.0
// until the first poll lands.
func (s *Session) BatteryVolts() float64 {
	s.batteryMu.RLock()
	defer s.batteryMu.RUnlock()
	return s.batteryVolts
}

func (s *Session) setBatteryVolts(v float64) {
	s.batteryMu.Lock()
	s.batteryVolts = v
	s.batteryMu.Unlock()
}
