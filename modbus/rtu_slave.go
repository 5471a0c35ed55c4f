package modbus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/Alexchinaxian/fieldbus/logger"
	"github.com/Alexchinaxian/fieldbus/protocol"
	"github.com/Alexchinaxian/fieldbus/serial"
)

// Well-known register addresses served by the typed setters.
const (
	// RegTemperatureInt holds the integer part of the temperature.
	RegTemperatureInt = 0x0000
	// RegTemperatureFrac holds the fractional part times 100.
	RegTemperatureFrac = 0x0001
	// RegSystemStatus holds the system status word.
	RegSystemStatus = 0x0002
)

// WriteNotification describes a successful write served by the slave.
// Count is 1 for single writes and the register count for 0x10.
type WriteNotification struct {
	Function byte
	Address  uint16
	Value    uint16
	Count    uint16
}

// ReadNotification describes a read served by the slave.
type ReadNotification struct {
	Function byte
	Address  uint16
	Count    uint16
}

// WriteHandler is invoked after every successful bus write.
type WriteHandler func(n WriteNotification)

// ReadHandler is invoked after every successful bus read.
type ReadHandler func(n ReadNotification)

// ExceptionHandler is invoked whenever the slave answers a request with a
// Modbus exception.
type ExceptionHandler func(function byte, code byte)

// RTUSlave is a Modbus RTU slave responder over a serial byte-stream
// channel, holding a read/write holding bank and a read-only input bank.
//
// Frames are delimited by inter-byte silence: every received chunk restarts
// the frame-gap timer; when it fires the accumulated bytes are one frame.
// CRC failures and frames addressed to other units are silently discarded
// per multi-drop bus semantics. Supported function codes are 0x03, 0x04,
// 0x06 and 0x10; violations answer with Modbus exceptions.
type RTUSlave struct {
	name     string
	cfg      *RTUSlaveConfig
	logger   logger.Logger
	stateMgr *protocol.StateManager

	holding *RegisterBank
	input   *RegisterBank

	mu       sync.Mutex // guards channel and frame assembly
	channel  *serial.Channel
	frameBuf []byte
	gapTimer *time.Timer

	handlerMu         sync.RWMutex
	writeHandlers     []WriteHandler
	readHandlers      []ReadHandler
	exceptionHandlers []ExceptionHandler

	// openChannel is swapped by tests to inject a fake port.
	openChannel func(cfg *serial.Config, l logger.Logger) (*serial.Channel, error)
}

var _ protocol.Protocol = (*RTUSlave)(nil)

// NewRTUSlave creates an RTU slave. The serial port is not opened until
// Connect.
func NewRTUSlave(name string, cfg *RTUSlaveConfig, l logger.Logger) (*RTUSlave, error) {
	if cfg == nil {
		cfg = &RTUSlaveConfig{}
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if l == nil {
		l = logger.GetLogger()
	}

	s := &RTUSlave{
		name:        name,
		cfg:         cfg,
		logger:      l.With("protocol", name),
		holding:     NewRegisterBank(),
		input:       NewRegisterBank(),
		openChannel: serial.Open,
	}
	s.stateMgr = protocol.NewStateManager(s.logger)

	return s, nil
}

// Name returns the registry name of this instance.
func (s *RTUSlave) Name() string { return s.name }

// Kind returns protocol.KindRTUSlave.
func (s *RTUSlave) Kind() protocol.Kind { return protocol.KindRTUSlave }

// State returns the current connection state.
func (s *RTUSlave) State() protocol.State { return s.stateMgr.State() }

// IsConnected reports whether the serial channel is open.
func (s *RTUSlave) IsConnected() bool { return s.stateMgr.State().IsConnected() }

// OnStateChange registers a handler invoked on every state transition.
func (s *RTUSlave) OnStateChange(handler protocol.StateChangeHandler) {
	s.stateMgr.AddHandler(handler)
}

// OnWrite registers a handler invoked after every successful bus write, so
// collaborator services can react to register changes.
func (s *RTUSlave) OnWrite(handler WriteHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.writeHandlers = append(s.writeHandlers, handler)
}

// OnRead registers a handler invoked after every successful bus read.
func (s *RTUSlave) OnRead(handler ReadHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.readHandlers = append(s.readHandlers, handler)
}

// OnException registers a handler invoked whenever the slave answers a
// request with a Modbus exception.
func (s *RTUSlave) OnException(handler ExceptionHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.exceptionHandlers = append(s.exceptionHandlers, handler)
}

// Connect opens the serial channel and starts serving requests. It is a
// no-op when already connected.
func (s *RTUSlave) Connect() error {
	if s.IsConnected() {
		return nil
	}

	if err := s.stateMgr.ToConnecting(); err != nil {
		return err
	}

	ch, err := s.openChannel(&s.cfg.Serial, s.logger)
	if err != nil {
		s.stateMgr.ToDisconnected()

		return fmt.Errorf("connect rtu slave %s: %w", s.name, err)
	}

	ch.OnDataReceived(s.onData)
	ch.OnError(func(err error) {
		s.logger.Error("serial channel failed", "error", err)
		_ = s.stateMgr.ToError()
	})

	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()

	if err := s.stateMgr.ToConnected(); err != nil {
		_ = ch.Close()

		return err
	}

	s.logger.Info("rtu slave connected",
		"device", s.cfg.Serial.Device, "unit", s.cfg.UnitID, "frame_gap", s.cfg.FrameGap)

	return nil
}

// Disconnect closes the serial channel. It is a no-op when already
// disconnected.
func (s *RTUSlave) Disconnect() error {
	s.mu.Lock()
	if s.gapTimer != nil {
		s.gapTimer.Stop()
		s.gapTimer = nil
	}
	ch := s.channel
	s.channel = nil
	s.frameBuf = nil
	s.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	s.stateMgr.ToDisconnected()

	return nil
}

// HoldingRegisters returns the read/write register bank.
func (s *RTUSlave) HoldingRegisters() *RegisterBank { return s.holding }

// InputRegisters returns the read-only register bank.
func (s *RTUSlave) InputRegisters() *RegisterBank { return s.input }

// SetHoldingRegister stores value in the holding bank.
func (s *RTUSlave) SetHoldingRegister(addr uint16, value uint16) error {
	return s.holding.Set(addr, value)
}

// GetHoldingRegister returns the holding register at addr.
func (s *RTUSlave) GetHoldingRegister(addr uint16) (uint16, error) {
	return s.holding.Get(addr)
}

// SetInputRegister stores value in the input bank.
func (s *RTUSlave) SetInputRegister(addr uint16, value uint16) error {
	return s.input.Set(addr, value)
}

// SetTemperature maps a temperature onto the well-known registers: integer
// part at RegTemperatureInt, fractional part times 100 at
// RegTemperatureFrac, mirrored into the input bank.
func (s *RTUSlave) SetTemperature(temperature float64) {
	intPart := uint16(temperature)
	fracPart := uint16((temperature - float64(intPart)) * 100)

	_ = s.holding.Set(RegTemperatureInt, intPart)
	_ = s.holding.Set(RegTemperatureFrac, fracPart)
	_ = s.input.Set(RegTemperatureInt, intPart)
	_ = s.input.Set(RegTemperatureFrac, fracPart)
}

// SetSystemStatus stores the status word at RegSystemStatus in both banks.
func (s *RTUSlave) SetSystemStatus(status uint16) {
	_ = s.holding.Set(RegSystemStatus, status)
	_ = s.input.Set(RegSystemStatus, status)
}

// onData accumulates received bytes and restarts the frame-gap timer;
// silence of FrameGap delimits one frame.
func (s *RTUSlave) onData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frameBuf = append(s.frameBuf, data...)

	if s.gapTimer != nil {
		s.gapTimer.Stop()
	}
	s.gapTimer = time.AfterFunc(s.cfg.FrameGap, s.onFrameGap)
}

// onFrameGap fires when the line has been silent for FrameGap: the
// accumulated buffer is one complete frame.
func (s *RTUSlave) onFrameGap() {
	s.mu.Lock()
	frame := s.frameBuf
	s.frameBuf = nil
	ch := s.channel
	s.mu.Unlock()

	if len(frame) == 0 || ch == nil {
		return
	}

	if resp := s.processFrame(frame); resp != nil {
		ch.Write(resp)
	}
}

// processFrame validates one assembled frame and builds the response.
// A nil response means silent discard.
func (s *RTUSlave) processFrame(frame []byte) []byte {
	if len(frame) < 4 {
		return nil
	}

	if !verifyCRC(frame) {
		// corruption may originate from another device on the bus
		s.logger.Debug("discarding frame with bad crc", "len", len(frame))

		return nil
	}

	if frame[0] != s.cfg.UnitID {
		// multi-drop bus: frames for other slaves are not errors
		return nil
	}

	fc := frame[1]
	data := frame[2 : len(frame)-2]

	switch fc {
	case FuncReadHoldingRegisters:
		return s.serveRead(fc, data, s.holding)
	case FuncReadInputRegisters:
		return s.serveRead(fc, data, s.input)
	case FuncWriteSingleRegister:
		return s.serveWriteSingle(data)
	case FuncWriteMultipleRegisters:
		return s.serveWriteMultiple(data)
	default:
		return s.exceptionResponse(fc, ExceptionIllegalFunction)
	}
}

// serveRead handles 0x03/0x04 against the given bank.
func (s *RTUSlave) serveRead(fc byte, data []byte, bank *RegisterBank) []byte {
	if len(data) != 4 {
		return s.exceptionResponse(fc, ExceptionIllegalDataValue)
	}

	addr := binary.BigEndian.Uint16(data[0:])
	count := binary.BigEndian.Uint16(data[2:])

	if count < 1 || count > MaxReadRegisters {
		return s.exceptionResponse(fc, ExceptionIllegalDataValue)
	}
	if !bank.InRange(addr, count) {
		return s.exceptionResponse(fc, ExceptionIllegalDataAddress)
	}

	values, err := bank.GetRange(addr, count)
	if err != nil {
		return s.exceptionResponse(fc, ExceptionIllegalDataAddress)
	}

	resp := make([]byte, 0, 3+len(values)*2+2)
	resp = append(resp, s.cfg.UnitID, fc, byte(len(values)*2))
	resp = append(resp, packRegisters(values)...)

	s.notifyRead(ReadNotification{Function: fc, Address: addr, Count: count})

	return appendCRC(resp)
}

// serveWriteSingle handles 0x06; the response echoes the request.
func (s *RTUSlave) serveWriteSingle(data []byte) []byte {
	const fc = FuncWriteSingleRegister

	if len(data) != 4 {
		return s.exceptionResponse(fc, ExceptionIllegalDataValue)
	}

	addr := binary.BigEndian.Uint16(data[0:])
	value := binary.BigEndian.Uint16(data[2:])

	if err := s.holding.Set(addr, value); err != nil {
		return s.exceptionResponse(fc, ExceptionIllegalDataAddress)
	}

	resp := make([]byte, 0, 6+2)
	resp = append(resp, s.cfg.UnitID, fc)
	resp = append(resp, data...)

	s.notifyWrite(WriteNotification{Function: fc, Address: addr, Value: value, Count: 1})

	return appendCRC(resp)
}

// serveWriteMultiple handles 0x10.
func (s *RTUSlave) serveWriteMultiple(data []byte) []byte {
	const fc = FuncWriteMultipleRegisters

	if len(data) < 5 {
		return s.exceptionResponse(fc, ExceptionIllegalDataValue)
	}

	addr := binary.BigEndian.Uint16(data[0:])
	count := binary.BigEndian.Uint16(data[2:])
	byteCount := int(data[4])

	if count < 1 || count > MaxWriteRegisters ||
		byteCount != int(count)*2 || len(data) != 5+byteCount {
		return s.exceptionResponse(fc, ExceptionIllegalDataValue)
	}
	if !s.holding.InRange(addr, count) {
		return s.exceptionResponse(fc, ExceptionIllegalDataAddress)
	}

	if err := s.holding.SetRange(addr, unpackRegisters(data[5:])); err != nil {
		return s.exceptionResponse(fc, ExceptionIllegalDataAddress)
	}

	resp := make([]byte, 0, 6+2)
	resp = append(resp, s.cfg.UnitID, fc)
	resp = append(resp, data[0:4]...)

	s.notifyWrite(WriteNotification{Function: fc, Address: addr, Count: count})

	return appendCRC(resp)
}

// exceptionResponse builds [unit][fc|0x80][code][crc].
func (s *RTUSlave) exceptionResponse(fc byte, code byte) []byte {
	s.logger.Debug("answering exception", "function", fc, "code", code)

	s.handlerMu.RLock()
	handlers := s.exceptionHandlers
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(fc, code)
	}

	return appendCRC([]byte{s.cfg.UnitID, fc | exceptionBit, code})
}

func (s *RTUSlave) notifyWrite(n WriteNotification) {
	s.handlerMu.RLock()
	handlers := s.writeHandlers
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(n)
	}
}

func (s *RTUSlave) notifyRead(n ReadNotification) {
	s.handlerMu.RLock()
	handlers := s.readHandlers
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(n)
	}
}
