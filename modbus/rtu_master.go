package modbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/Alexchinaxian/fieldbus/internal/pool"
	"github.com/Alexchinaxian/fieldbus/logger"
	"github.com/Alexchinaxian/fieldbus/protocol"
	"github.com/Alexchinaxian/fieldbus/serial"
)

// responsePollInterval is the polling interval of the master send-and-wait
// loop. Cooperative polling keeps the wait bounded without blocking an OS
// thread on the port.
const responsePollInterval = 5 * time.Millisecond

// RTUMaster is a Modbus RTU master over a serial byte-stream channel.
//
// Requests are strictly sequential: one outstanding transaction per master.
// Each operation clears the channel, transmits the request frame and polls
// for a complete, CRC-valid response addressed by the configured unit id
// until the response timeout expires.
type RTUMaster struct {
	client

	name     string
	cfg      *RTUMasterConfig
	logger   logger.Logger
	stateMgr *protocol.StateManager

	mu      sync.Mutex // serializes transactions and guards channel
	channel *serial.Channel

	// openChannel is swapped by tests to inject a fake port.
	openChannel func(cfg *serial.Config, l logger.Logger) (*serial.Channel, error)
}

var _ protocol.Protocol = (*RTUMaster)(nil)

// NewRTUMaster creates an RTU master. The serial port is not opened until
// Connect.
func NewRTUMaster(name string, cfg *RTUMasterConfig, l logger.Logger) (*RTUMaster, error) {
	if cfg == nil {
		cfg = &RTUMasterConfig{}
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if l == nil {
		l = logger.GetLogger()
	}

	m := &RTUMaster{
		name:        name,
		cfg:         cfg,
		logger:      l.With("protocol", name),
		openChannel: serial.Open,
	}
	m.client.t = m
	m.stateMgr = protocol.NewStateManager(m.logger)

	return m, nil
}

// Name returns the registry name of this instance.
func (m *RTUMaster) Name() string { return m.name }

// Kind returns protocol.KindRTUMaster.
func (m *RTUMaster) Kind() protocol.Kind { return protocol.KindRTUMaster }

// State returns the current connection state.
func (m *RTUMaster) State() protocol.State { return m.stateMgr.State() }

// IsConnected reports whether the serial channel is open.
func (m *RTUMaster) IsConnected() bool { return m.stateMgr.State().IsConnected() }

// OnStateChange registers a handler invoked on every state transition.
func (m *RTUMaster) OnStateChange(handler protocol.StateChangeHandler) {
	m.stateMgr.AddHandler(handler)
}

// Connect opens the serial channel. It is a no-op when already connected.
func (m *RTUMaster) Connect() error {
	if m.IsConnected() {
		return nil
	}

	if err := m.stateMgr.ToConnecting(); err != nil {
		return err
	}

	ch, err := m.openChannel(&m.cfg.Serial, m.logger)
	if err != nil {
		m.stateMgr.ToDisconnected()

		return fmt.Errorf("connect rtu master %s: %w", m.name, err)
	}

	ch.OnError(func(err error) {
		m.logger.Error("serial channel failed", "error", err)
		_ = m.stateMgr.ToError()
	})

	m.mu.Lock()
	m.channel = ch
	m.mu.Unlock()

	if err := m.stateMgr.ToConnected(); err != nil {
		_ = ch.Close()

		return err
	}

	m.logger.Info("rtu master connected", "device", m.cfg.Serial.Device, "unit", m.cfg.UnitID)

	return nil
}

// Disconnect closes the serial channel. It is a no-op when already
// disconnected.
func (m *RTUMaster) Disconnect() error {
	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	m.stateMgr.ToDisconnected()

	return nil
}

// exchange implements the transport contract: frame the PDU for RTU, send
// it and wait for the matching response PDU.
func (m *RTUMaster) exchange(request []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.channel
	if ch == nil || !m.IsConnected() {
		return nil, ErrNotConnected
	}

	adu := make([]byte, 0, len(request)+3)
	adu = append(adu, m.cfg.UnitID)
	adu = append(adu, request...)
	adu = appendCRC(adu)

	// stale bytes would desynchronize response matching
	ch.Clear()
	ch.Write(adu)

	frame, err := m.awaitResponse(ch)
	if err != nil {
		return nil, err
	}

	pdu := frame[1 : len(frame)-2]
	if err := checkException(pdu); err != nil {
		return nil, err
	}

	return pdu, nil
}

// awaitResponse polls the channel until a complete CRC-valid frame with
// this master's unit address arrives or the response timeout expires.
// Leading garbage and corrupt candidates are skipped byte-wise to regain
// frame alignment.
func (m *RTUMaster) awaitResponse(ch *serial.Channel) ([]byte, error) {
	deadline := time.Now().Add(m.cfg.ResponseTimeout)

	var buf []byte
	for {
		if data := ch.ReadAvailable(); len(data) > 0 {
			buf = append(buf, data...)
		}

		for {
			frame, rest, ok := m.extractFrame(buf)
			buf = rest
			if !ok {
				break
			}

			return frame, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: unit %d after %v", ErrTimeout, m.cfg.UnitID, m.cfg.ResponseTimeout)
		}

		timer := pool.GetTimer(responsePollInterval)
		<-timer.C
		pool.PutTimer(timer)
	}
}

// extractFrame tries to parse one valid response frame from the head of
// buf. It returns the frame and the remaining bytes; when no complete frame
// is parseable yet, ok is false and rest holds buf realigned past any
// garbage prefix.
func (m *RTUMaster) extractFrame(buf []byte) (frame []byte, rest []byte, ok bool) {
	for {
		// realign on the expected unit address
		for len(buf) > 0 && buf[0] != m.cfg.UnitID {
			buf = buf[1:]
		}
		if len(buf) < 2 {
			return nil, buf, false
		}

		frameLen, known := rtuResponseLength(buf)
		if !known {
			// unknown function code, skip the false sync point
			buf = buf[1:]

			continue
		}
		if frameLen == 0 || len(buf) < frameLen {
			return nil, buf, false
		}

		candidate := buf[:frameLen]
		if !verifyCRC(candidate) {
			m.logger.Debug("discarding frame", "error", ErrChecksum)
			buf = buf[1:]

			continue
		}

		return candidate, buf[frameLen:], true
	}
}

// rtuResponseLength determines the total length of the response frame
// starting at buf, based on its function code. known is false for an
// unrecognized function code; a zero length means more bytes are needed.
func rtuResponseLength(buf []byte) (int, bool) {
	fc := buf[1]

	if fc&exceptionBit != 0 {
		// unit + fc + exception code + crc
		return 5, true
	}

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		if len(buf) < 3 {
			return 0, true
		}
		// unit + fc + byte count + data + crc
		return 5 + int(buf[2]), true
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		// unit + fc + addr + value/count + crc
		return 8, true
	default:
		return 0, false
	}
}
