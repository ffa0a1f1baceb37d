package device

import (
	"errors"
	"sync"
	"time"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/transport"
)

var (
	// ErrInitFailed means the device never presented a usable identity;
	// callers treat it as fatal.
	ErrInitFailed = errors.New("device identity fetch failed")

	// ErrClockSync wraps any failure while pushing the host clock.
	ErrClockSync = errors.New("device clock sync failed")
)

// Identity describes the connected counter. Fetched once during Init and
// immutable afterwards.
type Identity struct {
	Version      string
	SerialNumber string
}

// Session binds the typed GQ operations to one physical device. The battery
// level is the only mutable state: the voltage poll writes it, the CPM poll
// reads it.
type Session struct {
	link    *transport.Channel
	timeout time.Duration

	identity Identity

	batteryMu    sync.RWMutex
	batteryVolts float64
}
