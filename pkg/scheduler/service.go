package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/device"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

const (
	defaultCPMInterval       = 4 * time.Second
	defaultBatteryInterval   = 60 * time.Second
	defaultClockSyncInterval = 30 * time.Minute

	// Log level escalates after this many consecutive failed cycles
	maxFailuresBeforeEscalation = 10

	shutdownGrace = 5 * time.Second
)

// New binds a scheduler to a session, applying interval defaults.
func New(session *device.Session, cfg Config) *Scheduler {
	if cfg.CPMInterval <= 0 {
		cfg.CPMInterval = defaultCPMInterval
	}
	if cfg.BatteryInterval <= 0 {
		cfg.BatteryInterval = defaultBatteryInterval
	}
	if cfg.ClockSyncInterval <= 0 {
		cfg.ClockSyncInterval = defaultClockSyncInterval
	}
	return &Scheduler{session: session, cfg: cfg}
}

// Run starts the three activities and blocks until the context is
// cancelled and they wound down. In-flight exchanges are never cut off;
// they complete or hit their own response timeout.
func (s *Scheduler) Run(ctx context.Context) {
	activities := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"cpm_poll", s.cfg.CPMInterval, s.pollCPMOnce},
		{"battery_poll", s.cfg.BatteryInterval, s.pollBatteryOnce},
		{"clock_sync", s.cfg.ClockSyncInterval, s.syncClockOnce},
	}

	for _, a := range activities {
		s.wg.Add(1)
		go s.runActivity(ctx, a.name, a.interval, a.fn)
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn().Msg("timeout waiting for polling activities to stop")
	}
}

// runActivity runs fn immediately, then on every tick. A failed cycle is
// skipped entirely; the activity itself never stops while the context
// lives.
func (s *Scheduler) runActivity(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	cycle := func() {
		if err := fn(ctx); err != nil {
			// A cancelled context means shutdown, not a device fault
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			evt := log.Warn()
			if consecutiveFailures >= maxFailuresBeforeEscalation {
				evt = log.Error()
			}
			evt.Err(err).
				Str("activity", name).
				Int("consecutive_failures", consecutiveFailures).
				Msg("poll cycle skipped")
		} else {
			consecutiveFailures = 0
		}
		// Discard the tick that may have fired while fn was busy
		select {
		case <-ticker.C:
		default:
		}
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		}
	}
}

// pollCPMOnce completes one measurement cycle: query the count, assemble
// the full reading, hand it to the sink. No reading is emitted on failure.
func (s *Scheduler) pollCPMOnce(ctx context.Context) error {
	cpm, doseRate, err := s.session.PollCPM(ctx)
	if err != nil {
		return err
	}

	id := s.session.Identity()
	reading := &types.Reading{
		Timestamp:     time.Now().Truncate(time.Second),
		CPM:           cpm,
		DoseRateUSvH:  doseRate,
		BatteryVolts:  s.session.BatteryVolts(),
		GpsCoords:     s.cfg.GpsCoords,
		DeviceSerial:  id.SerialNumber,
		DeviceVersion: id.Version,
	}

	log.Debug().
		Uint16("cpm", cpm).
		Float64("usvh", doseRate).
		Msg("reading collected")

	if s.cfg.OnReading != nil {
		if err := s.cfg.OnReading(reading); err != nil {
			log.Error().Err(err).Msg("reading handler failed")
		}
	}
	return nil
}

func (s *Scheduler) pollBatteryOnce(ctx context.Context) error {
	volts, _, err := s.session.PollVoltage(ctx)
	if err != nil {
		return err
	}
	log.Debug().Float64("volts", volts).Msg("battery level updated")
	return nil
}

func (s *Scheduler) syncClockOnce(ctx context.Context) error {
	if err := s.session.SyncClock(ctx, time.Now()); err != nil {
		return err
	}
	log.Debug().Msg("device clock synchronized")
	return nil
}
