package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

const incomingBufferSize = 512

// New wraps an open serial connection and starts the reader pump. The
// caller keeps ownership of closing the connection via Close.
func New(port io.ReadWriteCloser) *Channel {
	c := &Channel{
		port:     port,
		sem:      make(chan struct{}, 1),
		incoming: make(chan byte, incomingBufferSize),
	}
	go c.pump()
	return c
}

// pump moves bytes from the serial connection into the incoming queue
// until the connection dies. Closing the port ends it.
func (c *Channel) pump() {
	buf := make([]byte, 64)
	for {
		n, err := c.port.Read(buf)
		for _, b := range buf[:n] {
			c.incoming <- b
		}
		if err != nil {
			// Must be set before close so readers observe it
			c.readErr = err
			close(c.incoming)
			return
		}
	}
}

// Acquire blocks until exclusive ownership of the channel is granted. The
// context is only consulted while waiting; a granted exchange always runs
// to completion or timeout.
func (c *Channel) Acquire(ctx context.Context) (*Exchange, error) {
	select {
	case c.sem <- struct{}{}:
		return &Exchange{ch: c}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the serial connection, which also stops the pump.
func (c *Channel) Close() error {
	log.Debug().Msg("closing serial channel")
	return c.port.Close()
}

// Release returns channel ownership.
func (e *Exchange) Release() {
	if e.released {
		return
	}
	e.released = true
	<-e.ch.sem
}

// Send writes one complete command frame to the device.
func (e *Exchange) Send(cmd []byte) error {
	n, err := e.ch.port.Write(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if n < len(cmd) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrWrite, n, len(cmd))
	}
	return nil
}

// ReadExact blocks until exactly n response bytes arrived or the deadline
// passed. On timeout the bytes read so far are discarded.
func (e *Exchange) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	resp := make([]byte, 0, n)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(resp) < n {
		select {
		case b, ok := <-e.ch.incoming:
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrRead, e.ch.readErr)
			}
			resp = append(resp, b)
		case <-deadline.C:
			return nil, fmt.Errorf("%w: got %d of %d bytes after %s", ErrTimeout, len(resp), n, timeout)
		}
	}
	return resp, nil
}

// ReadUntil collects a response of unknown length: it waits up to timeout
// for the first byte, then keeps reading until the line stays idle for
// idleGap or max bytes arrived.
func (e *Exchange) ReadUntil(max int, timeout, idleGap time.Duration) ([]byte, error) {
	resp, err := e.ReadExact(1, timeout)
	if err != nil {
		return nil, err
	}

	gap := time.NewTimer(idleGap)
	defer gap.Stop()

	for len(resp) < max {
		select {
		case b, ok := <-e.ch.incoming:
			if !ok {
				// Connection died after the response; keep what arrived
				return resp, nil
			}
			resp = append(resp, b)
			gap.Reset(idleGap)
		case <-gap.C:
			return resp, nil
		}
	}
	return resp, nil
}

// DrainInput discards anything the device pushed that no exchange
// consumed, like the stray 0xAA marker some firmware emits between
// commands. Never blocks.
func (e *Exchange) DrainInput() {
	discarded := 0
	for {
		select {
		case _, ok := <-e.ch.incoming:
			if !ok {
				return
			}
			discarded++
		default:
			if discarded > 0 {
				log.Debug().Int("bytes", discarded).Msg("discarded unsolicited serial input")
			}
			return
		}
	}
}
