// Package modbus implements Modbus RTU and TCP masters and a Modbus RTU
// slave for the fieldbus gateway.
//
// The masters share one PDU codec and differ only in framing: RTU wraps the
// PDU in [unit][pdu][crc16] over a serial byte-stream channel, TCP wraps it
// in an MBAP header over a stream socket. The slave assembles RTU frames by
// inter-byte silence and serves two 256-entry register banks.
//
// All three implement protocol.Protocol and are registered with the
// protocol registry by kind.
package modbus
