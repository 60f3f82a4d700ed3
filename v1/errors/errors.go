package errors

import "errors"

var (
	// ErrLoopClosed is returned when work is submitted to a stopped loop.
	ErrLoopClosed = errors.New("loop closed")
	// ErrBusClosed is returned by bus operations after Close.
	ErrBusClosed = errors.New("bus closed")
	// ErrCircuitOpen is returned while a bus circuit breaker rejects publishes.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrMissingKey is returned when a stream request names no key.
	ErrMissingKey = errors.New("missing key")
	// ErrUnsupportedFormat is returned for configuration in an unknown format.
	ErrUnsupportedFormat = errors.New("unsupported config format")
	// ErrUnknownBus is returned when the configured bus driver does not exist.
	ErrUnknownBus = errors.New("unknown bus driver")
)
