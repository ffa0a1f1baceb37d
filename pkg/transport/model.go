package transport

import (
	"errors"
	"io"
)

// Channel-level failure classes. The transport never retries; callers own
// that policy.
var (
	ErrTimeout = errors.New("response deadline exceeded")
	ErrRead    = errors.New("serial read failed")
	ErrWrite   = errors.New("serial write failed")
)

// Channel owns one open serial connection. All traffic goes through
// Exchange handles, so two pollers can never interleave their commands on
// the wire.
type Channel struct {
	port io.ReadWriteCloser

	// Capacity 1: holding a slot is holding the port
	sem chan struct{}

	// Fed by the reader pump; closed when the connection dies
	incoming chan byte
	readErr  error
}

// Exchange is scoped ownership of the channel for one command/response
// round trip. Callers defer Release on acquisition; it is safe to call
// more than once.
type Exchange struct {
	ch       *Channel
	released bool
}
