// Package protocol defines the uniform capability surface shared by all
// fieldbus protocol implementations, the connection state machine, and the
// named-instance registry that owns protocol instances.
//
// A protocol instance (Modbus RTU master, Modbus TCP master, Modbus RTU
// slave) implements the Protocol interface and drives a StateManager through
// the Disconnected → Connecting → Connected → {Error, Disconnected} cycle.
// Every transition is delivered to registered state-change handlers.
//
// The Registry is constructed explicitly at startup and passed to consumers;
// there is no package-level singleton. Instances are created through
// per-kind factories registered on the Registry, looked up by name or kind,
// and destroyed individually or all at once. ConnectAll and DisconnectAll
// fan out across all registered instances.
package protocol
