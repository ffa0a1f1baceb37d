package gqproto

import "errors"

// ErrBadResponse covers every malformed device answer: wrong length,
// missing acknowledgment, empty banner.
var ErrBadResponse = errors.New("malformed device response")

// Fixed response sizes per GQ-RFC1201
const (
	CPMResponseLen     = 2
	VoltageResponseLen = 1
	SerialResponseLen  = 6
	AckResponseLen     = 1

	// Version replies are unterminated ASCII of model-dependent length
	VersionMaxLen = 64
)
