package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/Alexchinaxian/fieldbus/logger"
	"github.com/Alexchinaxian/fieldbus/protocol"
)

const (
	// mbapHeaderLen is the MBAP header size:
	// [txn:2][proto:2][len:2][unit:1].
	mbapHeaderLen = 7

	// maxPDULen bounds a Modbus PDU (function code + 252 data bytes).
	maxPDULen = 253

	// dialRetryDelay spaces consecutive connect attempts.
	dialRetryDelay = 500 * time.Millisecond
)

// TCPMaster is a Modbus TCP master over a stream socket.
//
// Each request carries an incrementing transaction id; responses whose
// transaction id, protocol id or unit id do not match are ignored and the
// master keeps waiting until the response timeout. Requests are strictly
// sequential per master.
type TCPMaster struct {
	client

	name     string
	cfg      *TCPMasterConfig
	logger   logger.Logger
	stateMgr *protocol.StateManager

	mu    sync.Mutex // serializes transactions and guards conn
	conn  net.Conn
	txnID uint16

	// dial is swapped by tests to inject a net.Pipe peer.
	dial func() (net.Conn, error)
}

var _ protocol.Protocol = (*TCPMaster)(nil)

// NewTCPMaster creates a TCP master. The socket is not dialed until
// Connect.
func NewTCPMaster(name string, cfg *TCPMasterConfig, l logger.Logger) (*TCPMaster, error) {
	if cfg == nil {
		cfg = &TCPMasterConfig{}
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if l == nil {
		l = logger.GetLogger()
	}

	m := &TCPMaster{
		name:   name,
		cfg:    cfg,
		logger: l.With("protocol", name),
	}
	m.client.t = m
	m.stateMgr = protocol.NewStateManager(m.logger)
	m.dial = func() (net.Conn, error) {
		return net.DialTimeout("tcp", cfg.Address, cfg.DialTimeout)
	}

	return m, nil
}

// Name returns the registry name of this instance.
func (m *TCPMaster) Name() string { return m.name }

// Kind returns protocol.KindTCPMaster.
func (m *TCPMaster) Kind() protocol.Kind { return protocol.KindTCPMaster }

// State returns the current connection state.
func (m *TCPMaster) State() protocol.State { return m.stateMgr.State() }

// IsConnected reports whether the socket is established.
func (m *TCPMaster) IsConnected() bool { return m.stateMgr.State().IsConnected() }

// OnStateChange registers a handler invoked on every state transition.
func (m *TCPMaster) OnStateChange(handler protocol.StateChangeHandler) {
	m.stateMgr.AddHandler(handler)
}

// Connect dials the configured server, retrying up to DialAttempts times.
// It is a no-op when already connected.
func (m *TCPMaster) Connect() error {
	if m.IsConnected() {
		return nil
	}

	if err := m.stateMgr.ToConnecting(); err != nil {
		return err
	}

	var conn net.Conn
	err := retry.Do(
		func() error {
			var dialErr error
			conn, dialErr = m.dial()

			return dialErr
		},
		retry.Attempts(m.cfg.DialAttempts),
		retry.Delay(dialRetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		m.stateMgr.ToDisconnected()

		return fmt.Errorf("connect tcp master %s to %s: %w", m.name, m.cfg.Address, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := m.stateMgr.ToConnected(); err != nil {
		_ = conn.Close()

		return err
	}

	m.logger.Info("tcp master connected", "address", m.cfg.Address, "unit", m.cfg.UnitID)

	return nil
}

// Disconnect closes the socket. It is a no-op when already disconnected.
func (m *TCPMaster) Disconnect() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.stateMgr.ToDisconnected()

	return nil
}

// exchange implements the transport contract: frame the PDU with an MBAP
// header, send it and wait for the response with the matching transaction
// id.
func (m *TCPMaster) exchange(request []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.conn
	if conn == nil || !m.IsConnected() {
		return nil, ErrNotConnected
	}

	m.txnID++
	txn := m.txnID

	adu := make([]byte, mbapHeaderLen+len(request))
	binary.BigEndian.PutUint16(adu[0:], txn)
	binary.BigEndian.PutUint16(adu[2:], 0) // protocol id
	binary.BigEndian.PutUint16(adu[4:], uint16(len(request)+1))
	adu[6] = m.cfg.UnitID
	copy(adu[mbapHeaderLen:], request)

	deadline := time.Now().Add(m.cfg.ResponseTimeout)
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(adu); err != nil {
		return nil, m.fail(fmt.Errorf("modbus: write request: %w", err))
	}

	for {
		pdu, err := m.readResponse(conn, txn)
		if err != nil {
			return nil, err
		}
		if pdu == nil {
			// mismatched response, keep waiting
			continue
		}

		if err := checkException(pdu); err != nil {
			return nil, err
		}

		return pdu, nil
	}
}

// readResponse reads one MBAP-framed response. It returns a nil PDU for a
// well-formed response that does not match the pending transaction.
func (m *TCPMaster) readResponse(conn net.Conn, txn uint16) ([]byte, error) {
	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, m.classifyReadError(err)
	}

	respTxn := binary.BigEndian.Uint16(header[0:])
	protoID := binary.BigEndian.Uint16(header[2:])
	length := binary.BigEndian.Uint16(header[4:])
	unit := header[6]

	pduLen := int(length) - 1
	if pduLen < 1 || pduLen > maxPDULen {
		return nil, m.fail(fmt.Errorf("%w: mbap length %d", ErrInvalidResponse, length))
	}

	pdu := make([]byte, pduLen)
	if _, err := io.ReadFull(conn, pdu); err != nil {
		return nil, m.classifyReadError(err)
	}

	if respTxn != txn || protoID != 0 || unit != m.cfg.UnitID {
		m.logger.Debug("ignoring mismatched response",
			"txn", respTxn, "want_txn", txn, "proto", protoID, "unit", unit)

		return nil, nil
	}

	return pdu, nil
}

// classifyReadError maps a socket read failure: deadline expiry is the
// defined timeout outcome, everything else poisons the connection.
func (m *TCPMaster) classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: no valid response within %v", ErrTimeout, m.cfg.ResponseTimeout)
	}

	return m.fail(fmt.Errorf("modbus: read response: %w", err))
}

// fail transitions the master to the error state and returns err.
func (m *TCPMaster) fail(err error) error {
	m.logger.Error("tcp master transport failure", "error", err)
	_ = m.stateMgr.ToError()

	return err
}
