//go:build !linux

package canbus

import "fmt"

// SocketCAN devices are only available on Linux.
type SocketCAN struct{}

// OpenSocketCAN always fails on this platform.
func OpenSocketCAN(ifname string) (*SocketCAN, error) {
	return nil, fmt.Errorf("canbus: socketcan is not supported on this platform")
}

func (s *SocketCAN) InterfaceName() string        { return "" }
func (s *SocketCAN) FramesAvailable() int         { return 0 }
func (s *SocketCAN) ReadFrame() (Frame, bool)     { return Frame{}, false }
func (s *SocketCAN) WriteFrame(frame Frame) error { return ErrDeviceClosed }
func (s *SocketCAN) Close() error                 { return nil }
