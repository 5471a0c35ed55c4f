package modbus

import (
	"encoding/binary"
	"fmt"
)

// transport exchanges one request PDU ([fc][data...], no unit id or
// framing) for the matching response PDU. Implementations own framing,
// addressing and timeout; they never return exception responses as data.
type transport interface {
	exchange(request []byte) ([]byte, error)
}

// client implements the Modbus data operations over a transport. Both
// masters embed it; the PDU layout is identical on RTU and TCP.
type client struct {
	t transport
}

// readBits performs a coil or discrete-input read (0x01/0x02).
func (c *client) readBits(fc byte, addr uint16, count uint16) ([]bool, error) {
	if count < 1 || count > MaxReadBits {
		return nil, fmt.Errorf("%w: bit count %d out of range [1,%d]", ErrInvalidRequest, count, MaxReadBits)
	}

	resp, err := c.t.exchange(buildReadRequest(fc, addr, count))
	if err != nil {
		return nil, err
	}

	data, err := parseReadResponse(fc, resp, (int(count)+7)/8)
	if err != nil {
		return nil, err
	}

	return unpackBits(data, int(count)), nil
}

// readRegisters performs a holding or input register read (0x03/0x04).
func (c *client) readRegisters(fc byte, addr uint16, count uint16) ([]uint16, error) {
	if count < 1 || count > MaxReadRegisters {
		return nil, fmt.Errorf("%w: register count %d out of range [1,%d]", ErrInvalidRequest, count, MaxReadRegisters)
	}

	resp, err := c.t.exchange(buildReadRequest(fc, addr, count))
	if err != nil {
		return nil, err
	}

	data, err := parseReadResponse(fc, resp, int(count)*2)
	if err != nil {
		return nil, err
	}

	return unpackRegisters(data), nil
}

// ReadCoils reads count coil states starting at addr (0x01).
func (c *client) ReadCoils(addr uint16, count uint16) ([]bool, error) {
	return c.readBits(FuncReadCoils, addr, count)
}

// ReadDiscreteInputs reads count discrete inputs starting at addr (0x02).
func (c *client) ReadDiscreteInputs(addr uint16, count uint16) ([]bool, error) {
	return c.readBits(FuncReadDiscreteInputs, addr, count)
}

// ReadHoldingRegisters reads count holding registers starting at addr (0x03).
func (c *client) ReadHoldingRegisters(addr uint16, count uint16) ([]uint16, error) {
	return c.readRegisters(FuncReadHoldingRegisters, addr, count)
}

// ReadInputRegisters reads count input registers starting at addr (0x04).
func (c *client) ReadInputRegisters(addr uint16, count uint16) ([]uint16, error) {
	return c.readRegisters(FuncReadInputRegisters, addr, count)
}

// WriteSingleCoil writes one coil (0x05).
func (c *client) WriteSingleCoil(addr uint16, on bool) error {
	value := uint16(coilOff)
	if on {
		value = coilOn
	}

	return c.writeEcho(FuncWriteSingleCoil, addr, value)
}

// WriteSingleRegister writes one holding register (0x06).
func (c *client) WriteSingleRegister(addr uint16, value uint16) error {
	return c.writeEcho(FuncWriteSingleRegister, addr, value)
}

// writeEcho issues a single-write request and validates the echoed
// response (0x05/0x06 echo the request PDU verbatim).
func (c *client) writeEcho(fc byte, addr uint16, value uint16) error {
	req := make([]byte, 5)
	req[0] = fc
	binary.BigEndian.PutUint16(req[1:], addr)
	binary.BigEndian.PutUint16(req[3:], value)

	resp, err := c.t.exchange(req)
	if err != nil {
		return err
	}

	if len(resp) != 5 || resp[0] != fc ||
		binary.BigEndian.Uint16(resp[1:]) != addr ||
		binary.BigEndian.Uint16(resp[3:]) != value {
		return fmt.Errorf("%w: single write echo mismatch", ErrInvalidResponse)
	}

	return nil
}

// WriteMultipleCoils writes a run of coils starting at addr (0x0F).
func (c *client) WriteMultipleCoils(addr uint16, values []bool) error {
	if len(values) < 1 || len(values) > MaxWriteBits {
		return fmt.Errorf("%w: coil count %d out of range [1,%d]", ErrInvalidRequest, len(values), MaxWriteBits)
	}

	packed := packBits(values)
	req := make([]byte, 6, 6+len(packed))
	req[0] = FuncWriteMultipleCoils
	binary.BigEndian.PutUint16(req[1:], addr)
	binary.BigEndian.PutUint16(req[3:], uint16(len(values)))
	req[5] = byte(len(packed))
	req = append(req, packed...)

	return c.writeMultiple(req, addr, uint16(len(values)))
}

// WriteMultipleRegisters writes a run of holding registers starting at
// addr (0x10).
func (c *client) WriteMultipleRegisters(addr uint16, values []uint16) error {
	if len(values) < 1 || len(values) > MaxWriteRegisters {
		return fmt.Errorf("%w: register count %d out of range [1,%d]", ErrInvalidRequest, len(values), MaxWriteRegisters)
	}

	packed := packRegisters(values)
	req := make([]byte, 6, 6+len(packed))
	req[0] = FuncWriteMultipleRegisters
	binary.BigEndian.PutUint16(req[1:], addr)
	binary.BigEndian.PutUint16(req[3:], uint16(len(values)))
	req[5] = byte(len(packed))
	req = append(req, packed...)

	return c.writeMultiple(req, addr, uint16(len(values)))
}

// writeMultiple issues a multiple-write request and validates the
// [fc][addr][count] acknowledgement.
func (c *client) writeMultiple(req []byte, addr uint16, count uint16) error {
	resp, err := c.t.exchange(req)
	if err != nil {
		return err
	}

	if len(resp) != 5 || resp[0] != req[0] ||
		binary.BigEndian.Uint16(resp[1:]) != addr ||
		binary.BigEndian.Uint16(resp[3:]) != count {
		return fmt.Errorf("%w: multiple write acknowledgement mismatch", ErrInvalidResponse)
	}

	return nil
}

// buildReadRequest builds the PDU [fc][addr:2][count:2].
func buildReadRequest(fc byte, addr uint16, count uint16) []byte {
	req := make([]byte, 5)
	req[0] = fc
	binary.BigEndian.PutUint16(req[1:], addr)
	binary.BigEndian.PutUint16(req[3:], count)

	return req
}

// parseReadResponse validates a read response PDU [fc][byteCount][data] and
// returns the data bytes.
func parseReadResponse(fc byte, resp []byte, wantBytes int) ([]byte, error) {
	if len(resp) < 2 || resp[0] != fc {
		return nil, fmt.Errorf("%w: unexpected function code", ErrInvalidResponse)
	}

	byteCount := int(resp[1])
	if byteCount != wantBytes || len(resp) != 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d, want %d", ErrInvalidResponse, byteCount, wantBytes)
	}

	return resp[2:], nil
}

// checkException converts an exception response PDU into an
// *ExceptionError. It returns nil for normal responses.
func checkException(resp []byte) error {
	if len(resp) >= 2 && resp[0]&exceptionBit != 0 {
		return &ExceptionError{Function: resp[0] &^ exceptionBit, Code: resp[1]}
	}

	return nil
}

// packBits packs booleans LSB-first into bytes per the Modbus coil layout.
func packBits(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << (i % 8)
		}
	}

	return packed
}

// unpackBits unpacks count booleans from the Modbus coil layout.
func unpackBits(data []byte, count int) []bool {
	values := make([]bool, count)
	for i := range values {
		values[i] = data[i/8]&(1<<(i%8)) != 0
	}

	return values
}

// packRegisters encodes registers as big-endian 16-bit words.
func packRegisters(values []uint16) []byte {
	packed := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(packed[i*2:], v)
	}

	return packed
}

// unpackRegisters decodes big-endian 16-bit words.
func unpackRegisters(data []byte) []uint16 {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}

	return values
}
