package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that no valid response arrived within the
	// response timeout.
	ErrTimeout = errors.New("modbus: response timeout")

	// ErrChecksum indicates an RTU frame with an invalid CRC.
	ErrChecksum = errors.New("modbus: checksum mismatch")

	// ErrInvalidResponse indicates a response that is well-formed on the
	// wire but inconsistent with the request.
	ErrInvalidResponse = errors.New("modbus: invalid response")

	// ErrInvalidRequest indicates request parameters outside the protocol
	// limits, rejected before anything is sent.
	ErrInvalidRequest = errors.New("modbus: invalid request")

	// ErrNotConnected indicates an operation on a disconnected master.
	ErrNotConnected = errors.New("modbus: not connected")

	// ErrAddressOutOfRange indicates a register bank access outside the
	// bank bounds.
	ErrAddressOutOfRange = errors.New("modbus: register address out of range")
)

// ExceptionError is a Modbus exception response: the slave answered with
// the request's function code's high bit set and a one-byte reason code.
type ExceptionError struct {
	// Function is the original request function code.
	Function byte
	// Code is the exception code.
	Code byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X (%s) for function 0x%02X",
		e.Code, exceptionName(e.Code), e.Function)
}

func exceptionName(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	default:
		return "unknown"
	}
}
