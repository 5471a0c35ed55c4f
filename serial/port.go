package serial

import (
	"errors"
	"fmt"

	goserial "go.bug.st/serial"
)

// Port is the narrow contract the channel requires from a serial port.
// go.bug.st/serial ports satisfy it directly; tests inject in-memory fakes.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// openPort opens the configured device through go.bug.st/serial and maps
// backend failures onto the package sentinels.
func openPort(cfg *Config) (Port, error) {
	port, err := goserial.Open(cfg.Device, cfg.mode())
	if err != nil {
		return nil, classifyOpenError(cfg.Device, err)
	}

	return port, nil
}

func classifyOpenError(device string, err error) error {
	var portErr *goserial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case goserial.PortNotFound:
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
		case goserial.PermissionDenied:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, device)
		}
	}

	return fmt.Errorf("%w: %s: %v", ErrOpenFailed, device, err)
}
