package canbus

import "errors"

var (
	// ErrInvalidID indicates a frame identifier out of range for its format
	// (11-bit standard, 29-bit extended).
	ErrInvalidID = errors.New("canbus: invalid frame identifier")

	// ErrPayloadTooLarge indicates a frame payload longer than 8 bytes.
	ErrPayloadTooLarge = errors.New("canbus: payload exceeds 8 bytes")

	// ErrDeviceClosed indicates an operation on a closed device.
	ErrDeviceClosed = errors.New("canbus: device closed")

	// ErrNotRunning indicates that the receiver is not running.
	ErrNotRunning = errors.New("canbus: receiver not running")

	// ErrAlreadyRunning indicates a second Start on a running receiver.
	ErrAlreadyRunning = errors.New("canbus: receiver already running")

	// ErrStopPending indicates a Start while the receive goroutine
	// abandoned by an earlier timed-out Stop has still not exited.
	ErrStopPending = errors.New("canbus: previous receive goroutine still stopping")
)
