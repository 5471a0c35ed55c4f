package protocol

// Kind identifies one of the supported protocol implementations.
type Kind uint8

const (
	// KindUnknown is the zero value; no factory is ever registered for it.
	KindUnknown Kind = iota
	// KindRTUMaster is a Modbus RTU master on a serial line.
	KindRTUMaster
	// KindTCPMaster is a Modbus TCP master on a stream socket.
	KindTCPMaster
	// KindRTUSlave is a Modbus RTU slave responder on a serial line.
	KindRTUSlave
)

// String returns string representation of the protocol kind.
func (k Kind) String() string {
	switch k {
	case KindRTUMaster:
		return "modbus-rtu-master"
	case KindTCPMaster:
		return "modbus-tcp-master"
	case KindRTUSlave:
		return "modbus-rtu-slave"
	default:
		return "unknown"
	}
}

// Protocol is the uniform capability set exposed by every protocol instance.
//
// Connect and Disconnect are idempotent: connecting an already connected
// instance and disconnecting an already disconnected instance are no-ops.
// Transport failures after a successful Connect are reported through the
// state machine (ErrorState) and the instance's own notification callbacks,
// never by terminating the process.
type Protocol interface {
	// Name returns the registry name of this instance.
	Name() string
	// Kind returns the protocol kind of this instance.
	Kind() Kind
	// Connect establishes the underlying transport.
	Connect() error
	// Disconnect tears down the underlying transport.
	Disconnect() error
	// IsConnected reports whether the transport is currently established.
	IsConnected() bool
	// State returns the current connection state.
	State() State
	// OnStateChange registers a handler invoked on every state transition.
	OnStateChange(handler StateChangeHandler)
}
