package serial

import (
	"fmt"

	goserial "go.bug.st/serial"
)

// Default configuration values.
const (
	DefaultBaudRate      = 9600
	DefaultDataBits      = 8
	DefaultParity        = "N"
	DefaultStopBits      = 1
	DefaultReadBufferCap = 64 * 1024
)

// writeChunkSize is the maximum number of bytes handed to the port per
// write call while draining the write queue.
const writeChunkSize = 4 * 1024

// Config holds the options of one serial byte-stream channel.
//
// The zero value of every field except Device means "use the default".
type Config struct {
	// Device is the port device path, e.g. "/dev/ttyS0". Required.
	Device string `toml:"device"`

	// BaudRate is the line speed in bits per second. Default 9600.
	BaudRate int `toml:"baud_rate"`

	// DataBits is the number of data bits per character, one of 5, 6, 7
	// or 8. Default 8.
	DataBits int `toml:"data_bits"`

	// Parity is the parity scheme: "N" (none), "E" (even) or "O" (odd).
	// Default "N".
	Parity string `toml:"parity"`

	// StopBits is the number of stop bits, 1 or 2. Default 1.
	StopBits int `toml:"stop_bits"`

	// ReadBufferCap is the soft cap of the read buffer in bytes. When the
	// buffer exceeds the cap only the newest half of the cap is retained.
	// Default 64 KiB.
	ReadBufferCap int `toml:"read_buffer_cap"`
}

// ApplyDefaults fills every unset field with its documented default.
func (cfg *Config) ApplyDefaults() {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = DefaultDataBits
	}
	if cfg.Parity == "" {
		cfg.Parity = DefaultParity
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = DefaultStopBits
	}
	if cfg.ReadBufferCap == 0 {
		cfg.ReadBufferCap = DefaultReadBufferCap
	}
}

// Validate checks the configuration after defaults have been applied.
func (cfg *Config) Validate() error {
	if cfg.Device == "" {
		return fmt.Errorf("serial: device is required")
	}
	if cfg.BaudRate <= 0 {
		return fmt.Errorf("serial: invalid baud rate %d", cfg.BaudRate)
	}

	switch cfg.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("serial: invalid data bits %d", cfg.DataBits)
	}

	switch cfg.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("serial: invalid parity %q", cfg.Parity)
	}

	switch cfg.StopBits {
	case 1, 2:
	default:
		return fmt.Errorf("serial: invalid stop bits %d", cfg.StopBits)
	}

	return nil
}

// mode converts the configuration into a go.bug.st/serial port mode.
func (cfg *Config) mode() *goserial.Mode {
	mode := &goserial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.Parity {
	case "E":
		mode.Parity = goserial.EvenParity
	case "O":
		mode.Parity = goserial.OddParity
	default:
		mode.Parity = goserial.NoParity
	}

	if cfg.StopBits == 2 {
		mode.StopBits = goserial.TwoStopBits
	} else {
		mode.StopBits = goserial.OneStopBit
	}

	return mode
}
