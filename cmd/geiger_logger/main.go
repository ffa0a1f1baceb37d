// Geiger logger samples a GQ GMC-300 over its serial port and records the
// readings. Runs in the foreground until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/config"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/csvlog"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/device"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/geigerdb"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/livefeed"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/pathing"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/port_discovery"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/scheduler"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/transport"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

// The unit needs a moment after the port opens before it answers commands.
const portSettleDelay = 2 * time.Second

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("GMC_LOGGER_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := pathing.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directories")
	}
	if err := config.LoadLoggerConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load logger config")
	}
	cfg := config.ActiveLoggerConfig

	// The CSV record store is the point of the whole process; no store, no
	// reason to run.
	records, err := csvlog.Open(pathing.GetRecordStorePath(cfg.CsvFilename))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer records.Close()

	portName := cfg.SerialDevice
	if portName == "" {
		portName, err = port_discovery.FindFirst()
		if err != nil {
			log.Fatal().Err(err).Msg("no usable serial port")
		}
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        cfg.Baudrate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		log.Fatal().Err(err).Str("port", portName).Msg("failed to open serial port")
	}
	log.Info().Str("port", portName).Uint("baudrate", cfg.Baudrate).Msg("connected to GMC port")

	time.Sleep(portSettleDelay)

	link := transport.New(port)
	defer link.Close()

	session := device.NewSession(link, time.Duration(cfg.ResponseTimeoutMs)*time.Millisecond)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("no usable device on the port")
	}

	sinks := []scheduler.ReadingHandler{records.Append}

	var db *geigerdb.Store
	if cfg.DatabaseEnabled {
		db, err = geigerdb.Open(pathing.GetGeigerDbPath())
		if err != nil {
			// Degraded but alive: the CSV log keeps recording
			log.Error().Err(err).Msg("measurement database unavailable, continuing without it")
			db = nil
		} else {
			defer db.Close()
			sinks = append(sinks, db.InsertReading)
			go runAggregation(ctx, db)
		}
	}

	if cfg.ListenPort != 0 {
		feed := livefeed.New(db)
		sinks = append(sinks, feed.Publish)
		go func() {
			if err := feed.ListenAndServe(ctx, cfg.ListenAddress, cfg.ListenPort); err != nil {
				log.Error().Err(err).Msg("live feed stopped")
			}
		}()
	}

	sched := scheduler.New(session, scheduler.Config{
		CPMInterval:       time.Duration(cfg.CpmPollSeconds) * time.Second,
		BatteryInterval:   time.Duration(cfg.BatteryPollSeconds) * time.Second,
		ClockSyncInterval: time.Duration(cfg.ClockSyncMinutes) * time.Minute,
		GpsCoords:         cfg.GpsCoords,
		OnReading:         fanOut(sinks),
	})

	log.Info().
		Int("cpm_poll_seconds", cfg.CpmPollSeconds).
		Int("battery_poll_seconds", cfg.BatteryPollSeconds).
		Int("clock_sync_minutes", cfg.ClockSyncMinutes).
		Msg("starting polling activities")
	sched.Run(ctx)
	log.Info().Msg("shut down cleanly")
}

// fanOut hands each reading to every sink; one failing sink must not
// starve the others of the row.
func fanOut(sinks []scheduler.ReadingHandler) scheduler.ReadingHandler {
	return func(reading *types.Reading) error {
		for _, sink := range sinks {
			if err := sink(reading); err != nil {
				log.Error().Err(err).Msg("record sink write failed")
			}
		}
		return nil
	}
}

// runAggregation rolls raw samples into hourly aggregates and prunes what
// they cover.
func runAggregation(ctx context.Context, db *geigerdb.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.AggregateAndCleanup(); err != nil {
				log.Error().Err(err).Msg("hourly aggregation failed")
			}
		}
	}
}
