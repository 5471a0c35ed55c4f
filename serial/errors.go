package serial

import "errors"

// Sentinel errors for the byte-stream channel. Transport failures are
// reported through the error callback and never terminate the process.
var (
	// ErrDeviceNotFound indicates that the configured device path does not
	// exist on this system.
	ErrDeviceNotFound = errors.New("serial: device not found")

	// ErrPermissionDenied indicates that the device exists but the process
	// lacks permission to open it.
	ErrPermissionDenied = errors.New("serial: permission denied")

	// ErrOpenFailed indicates that the device could not be opened for a
	// reason other than existence or permission.
	ErrOpenFailed = errors.New("serial: open failed")

	// ErrReadFailed indicates a failed read on an open port.
	ErrReadFailed = errors.New("serial: read failed")

	// ErrWriteFailed indicates a failed write on an open port.
	ErrWriteFailed = errors.New("serial: write failed")

	// ErrResourceGone indicates that the device disappeared while open,
	// typically an unplugged USB adapter.
	ErrResourceGone = errors.New("serial: device resource gone")

	// ErrTimeout indicates that a bounded wait expired.
	ErrTimeout = errors.New("serial: timeout")

	// ErrClosed indicates an operation on a closed channel.
	ErrClosed = errors.New("serial: channel closed")
)
