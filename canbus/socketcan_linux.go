package canbus

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// wireFrameSize is the size of a classic struct can_frame on the wire:
// 4-byte id, 1-byte dlc, 3 bytes of padding, 8 data bytes.
const wireFrameSize = 16

// SocketCAN is a Device backed by a raw AF_CAN socket bound to one network
// interface. The socket is non-blocking so ReadFrame never stalls the
// caller when the bus is quiet.
type SocketCAN struct {
	fd     int
	name   string
	closed atomic.Bool
}

var _ Device = (*SocketCAN)(nil)

// OpenSocketCAN binds a raw CAN socket to the named interface, e.g. "can0".
// The interface bitrate is configured by the operating system.
func OpenSocketCAN(ifname string) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("canbus: interface %s: %w", ifname, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", ifname, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("canbus: set nonblock: %w", err)
	}

	return &SocketCAN{fd: fd, name: ifname}, nil
}

// InterfaceName returns the bound interface name.
func (s *SocketCAN) InterfaceName() string { return s.name }

// FramesAvailable reports whether at least one frame is queued in the
// kernel. TIOCINQ (Linux FIONREAD) on a raw CAN socket returns the size
// of the next pending datagram, so the count here is a lower bound, which
// is enough for the drain loops.
func (s *SocketCAN) FramesAvailable() int {
	if s.closed.Load() {
		return 0
	}

	n, err := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
	if err != nil || n < wireFrameSize {
		return 0
	}

	return n / wireFrameSize
}

// ReadFrame reads one frame from the socket. It returns false when no
// frame is pending or the socket has been closed.
func (s *SocketCAN) ReadFrame() (Frame, bool) {
	if s.closed.Load() {
		return Frame{}, false
	}

	var buf [wireFrameSize]byte

	n, err := unix.Read(s.fd, buf[:])
	if err != nil || n < wireFrameSize {
		return Frame{}, false
	}

	return decodeWireFrame(buf), true
}

// WriteFrame writes one frame to the socket.
func (s *SocketCAN) WriteFrame(frame Frame) error {
	if s.closed.Load() {
		return ErrDeviceClosed
	}

	if err := frame.Validate(); err != nil {
		return err
	}

	buf := encodeWireFrame(frame)

	if _, err := unix.Write(s.fd, buf[:]); err != nil {
		return fmt.Errorf("canbus: write %s: %w", s.name, err)
	}

	return nil
}

// Close shuts the socket down. Further reads and writes fail.
func (s *SocketCAN) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return unix.Close(s.fd)
}

func decodeWireFrame(buf [wireFrameSize]byte) Frame {
	// can_id is in host byte order; every supported CAN platform here is
	// little endian.
	raw := binary.LittleEndian.Uint32(buf[0:4])

	frame := Frame{Kind: DataFrame}

	switch {
	case raw&unix.CAN_ERR_FLAG != 0:
		frame.Kind = ErrorFrame
	case raw&unix.CAN_RTR_FLAG != 0:
		frame.Kind = RemoteFrame
	}

	if raw&unix.CAN_EFF_FLAG != 0 {
		frame.Extended = true
		frame.ID = raw & unix.CAN_EFF_MASK
	} else {
		frame.ID = raw & unix.CAN_SFF_MASK
	}

	dlc := int(buf[4])
	if dlc > MaxDataLen {
		dlc = MaxDataLen
	}

	if frame.Kind == DataFrame && dlc > 0 {
		frame.Data = make([]byte, dlc)
		copy(frame.Data, buf[8:8+dlc])
	}

	if frame.Kind == RemoteFrame {
		frame.Data = make([]byte, dlc)
	}

	return frame
}

func encodeWireFrame(frame Frame) [wireFrameSize]byte {
	raw := frame.ID

	if frame.Extended {
		raw |= unix.CAN_EFF_FLAG
	}

	switch frame.Kind {
	case RemoteFrame:
		raw |= unix.CAN_RTR_FLAG
	case ErrorFrame:
		raw |= unix.CAN_ERR_FLAG
	case DataFrame:
	}

	var buf [wireFrameSize]byte

	binary.LittleEndian.PutUint32(buf[0:4], raw)
	buf[4] = byte(len(frame.Data))
	copy(buf[8:], frame.Data)

	return buf
}
