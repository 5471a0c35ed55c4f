package protocol

import "errors"

var (
	// ErrInvalidTransition is returned when an attempt is made to transition
	// the connection state to an invalid state.
	ErrInvalidTransition = errors.New("protocol: invalid state transition")

	// ErrDuplicateName indicates that a protocol instance with the same name
	// is already registered.
	ErrDuplicateName = errors.New("protocol: duplicate instance name")

	// ErrNotFound indicates that no protocol instance is registered under the
	// requested name.
	ErrNotFound = errors.New("protocol: instance not found")

	// ErrUnknownKind indicates that no factory is registered for the
	// requested protocol kind.
	ErrUnknownKind = errors.New("protocol: unknown protocol kind")

	// ErrManagerStopped indicates that the task manager has already been stopped.
	ErrManagerStopped = errors.New("protocol: task manager already stopped")
)
