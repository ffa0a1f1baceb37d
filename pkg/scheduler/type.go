package scheduler

import (
	"sync"
	"time"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/device"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

// ReadingHandler consumes one completed reading. It runs on the CPM
// activity's goroutine; a returned error is logged and the cycle moves on.
type ReadingHandler func(reading *types.Reading) error

// Config carries the activity cadences and the reading fan-out. Zero
// intervals select the defaults.
type Config struct {
	CPMInterval       time.Duration
	BatteryInterval   time.Duration
	ClockSyncInterval time.Duration

	// Station position stamped onto every reading
	GpsCoords string

	OnReading ReadingHandler
}

// Scheduler drives the periodic polling activities against one device
// session. Activities are fixed-rate with at most one run in flight: a
// tick that fires while the previous run is still busy is dropped, never
// queued.
type Scheduler struct {
	session *device.Session
	cfg     Config
	wg      sync.WaitGroup
}
