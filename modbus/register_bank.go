package modbus

import (
	"fmt"
	"sync"
)

// BankSize is the number of registers in a bank.
const BankSize = 256

// RegisterBank is a fixed array of 16-bit registers. Every access is
// bounds checked; out-of-range access is a protocol-level error, never a
// panic.
//
// The bank carries its own lock so collaborator services may push values
// concurrently with the owning slave serving bus requests. The lock is
// scoped to single accesses; a multi-register read is atomic with respect
// to a multi-register write but not with respect to interleaved single
// writes at other addresses.
type RegisterBank struct {
	mu   sync.RWMutex
	regs [BankSize]uint16
}

// NewRegisterBank creates a zero-initialized bank.
func NewRegisterBank() *RegisterBank {
	return &RegisterBank{}
}

// Size returns the number of registers in the bank.
func (b *RegisterBank) Size() int { return BankSize }

// InRange reports whether the run [addr, addr+count) lies inside the bank.
func (b *RegisterBank) InRange(addr uint16, count uint16) bool {
	return count > 0 && int(addr)+int(count) <= BankSize
}

// Get returns the register at addr.
func (b *RegisterBank) Get(addr uint16) (uint16, error) {
	if !b.InRange(addr, 1) {
		return 0, fmt.Errorf("%w: %d", ErrAddressOutOfRange, addr)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.regs[addr], nil
}

// Set stores value at addr.
func (b *RegisterBank) Set(addr uint16, value uint16) error {
	if !b.InRange(addr, 1) {
		return fmt.Errorf("%w: %d", ErrAddressOutOfRange, addr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[addr] = value

	return nil
}

// GetRange returns count registers starting at addr.
func (b *RegisterBank) GetRange(addr uint16, count uint16) ([]uint16, error) {
	if !b.InRange(addr, count) {
		return nil, fmt.Errorf("%w: [%d,%d)", ErrAddressOutOfRange, addr, int(addr)+int(count))
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	values := make([]uint16, count)
	copy(values, b.regs[addr:int(addr)+int(count)])

	return values, nil
}

// SetRange stores values starting at addr.
func (b *RegisterBank) SetRange(addr uint16, values []uint16) error {
	if !b.InRange(addr, uint16(len(values))) {
		return fmt.Errorf("%w: [%d,%d)", ErrAddressOutOfRange, addr, int(addr)+len(values))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.regs[addr:], values)

	return nil
}
