package modbus

import (
	"fmt"
	"time"

	"github.com/Alexchinaxian/fieldbus/serial"
)

// Default timing values.
const (
	// DefaultRTUTimeout is the RTU master response timeout.
	DefaultRTUTimeout = time.Second
	// DefaultTCPTimeout is the TCP master response timeout.
	DefaultTCPTimeout = 3 * time.Second
	// DefaultDialTimeout bounds one TCP connect attempt.
	DefaultDialTimeout = 5 * time.Second
	// DefaultDialAttempts is the number of TCP connect attempts.
	DefaultDialAttempts = 3
	// DefaultFrameGap is the slave inter-byte silence that delimits one
	// RTU frame.
	DefaultFrameGap = 50 * time.Millisecond
	// DefaultUnitID is the default unit identifier.
	DefaultUnitID = 1
)

func validateUnitID(id uint8) error {
	if id < MinUnitID || id > MaxUnitID {
		return fmt.Errorf("%w: unit id %d out of range [%d,%d]", ErrInvalidRequest, id, MinUnitID, MaxUnitID)
	}

	return nil
}

// RTUMasterConfig holds the options of a Modbus RTU master.
type RTUMasterConfig struct {
	// Serial configures the underlying byte-stream channel.
	Serial serial.Config `toml:"serial"`

	// UnitID is the target slave address, 1-247. Default 1.
	UnitID uint8 `toml:"unit_id"`

	// ResponseTimeout bounds one send-and-wait transaction. Default 1s.
	ResponseTimeout time.Duration `toml:"response_timeout"`
}

func (cfg *RTUMasterConfig) ApplyDefaults() {
	cfg.Serial.ApplyDefaults()
	if cfg.UnitID == 0 {
		cfg.UnitID = DefaultUnitID
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultRTUTimeout
	}
}

// Validate checks the configuration after defaults have been applied.
func (cfg *RTUMasterConfig) Validate() error {
	if err := cfg.Serial.Validate(); err != nil {
		return err
	}

	return validateUnitID(cfg.UnitID)
}

// TCPMasterConfig holds the options of a Modbus TCP master.
type TCPMasterConfig struct {
	// Address is the server "host:port". Required.
	Address string `toml:"address"`

	// UnitID is the target unit identifier, 1-247. Default 1.
	UnitID uint8 `toml:"unit_id"`

	// ResponseTimeout bounds one request/response exchange. Default 3s.
	ResponseTimeout time.Duration `toml:"response_timeout"`

	// DialTimeout bounds one connect attempt. Default 5s.
	DialTimeout time.Duration `toml:"dial_timeout"`

	// DialAttempts is the number of connect attempts before Connect
	// fails. Default 3.
	DialAttempts uint `toml:"dial_attempts"`
}

func (cfg *TCPMasterConfig) ApplyDefaults() {
	if cfg.UnitID == 0 {
		cfg.UnitID = DefaultUnitID
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultTCPTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
}

// Validate checks the configuration after defaults have been applied.
func (cfg *TCPMasterConfig) Validate() error {
	if cfg.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidRequest)
	}

	return validateUnitID(cfg.UnitID)
}

// RTUSlaveConfig holds the options of a Modbus RTU slave.
type RTUSlaveConfig struct {
	// Serial configures the underlying byte-stream channel.
	Serial serial.Config `toml:"serial"`

	// UnitID is this slave's address, 1-247. Default 1.
	UnitID uint8 `toml:"unit_id"`

	// FrameGap is the inter-byte silence that delimits one frame.
	// Default 50ms.
	FrameGap time.Duration `toml:"frame_gap"`
}

func (cfg *RTUSlaveConfig) ApplyDefaults() {
	cfg.Serial.ApplyDefaults()
	if cfg.UnitID == 0 {
		cfg.UnitID = DefaultUnitID
	}
	if cfg.FrameGap == 0 {
		cfg.FrameGap = DefaultFrameGap
	}
}

// Validate checks the configuration after defaults have been applied.
func (cfg *RTUSlaveConfig) Validate() error {
	if err := cfg.Serial.Validate(); err != nil {
		return err
	}

	return validateUnitID(cfg.UnitID)
}
