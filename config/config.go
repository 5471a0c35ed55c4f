// Package config loads the gateway configuration from a TOML document.
//
// The document groups protocol instances by kind, keyed by instance name:
//
//	[serial.plc1]
//	device = "/dev/ttyUSB0"
//	baud_rate = 19200
//	unit_id = 1
//	response_timeout = "1s"
//
//	[tcp.meter]
//	address = "10.0.0.5:502"
//	unit_id = 2
//
//	[slave.panel]
//	device = "/dev/ttyUSB1"
//	unit_id = 1
//	frame_gap = "50ms"
//
//	[can.engine]
//	interface = "can0"
//	queue_cap = 1000
//
// Durations are TOML strings in Go duration syntax.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Alexchinaxian/fieldbus/canbus"
	"github.com/Alexchinaxian/fieldbus/modbus"
	"github.com/Alexchinaxian/fieldbus/serial"
)

// Errors returned by the loader.
var (
	ErrParse         = fmt.Errorf("config: parse failed")
	ErrUnknownKey    = fmt.Errorf("config: unknown key")
	ErrDuplicateName = fmt.Errorf("config: duplicate instance name")
	ErrInvalid       = fmt.Errorf("config: invalid value")
)

// RTUMasterSection is one [serial.<name>] table. The serial port options
// sit inline next to the Modbus ones.
type RTUMasterSection struct {
	serial.Config
	UnitID          uint8         `toml:"unit_id"`
	ResponseTimeout time.Duration `toml:"response_timeout"`
}

// MasterConfig converts the section into a typed RTU master configuration.
func (s RTUMasterSection) MasterConfig() modbus.RTUMasterConfig {
	return modbus.RTUMasterConfig{
		Serial:          s.Config,
		UnitID:          s.UnitID,
		ResponseTimeout: s.ResponseTimeout,
	}
}

// RTUSlaveSection is one [slave.<name>] table.
type RTUSlaveSection struct {
	serial.Config
	UnitID   uint8         `toml:"unit_id"`
	FrameGap time.Duration `toml:"frame_gap"`
}

// SlaveConfig converts the section into a typed RTU slave configuration.
func (s RTUSlaveSection) SlaveConfig() modbus.RTUSlaveConfig {
	return modbus.RTUSlaveConfig{
		Serial:   s.Config,
		UnitID:   s.UnitID,
		FrameGap: s.FrameGap,
	}
}

// CANSection is one [can.<name>] table.
type CANSection struct {
	// Interface is the CAN network interface name, e.g. "can0".
	Interface string `toml:"interface"`

	// Bitrate is informational. The interface bitrate is set by the
	// operating system, not by the gateway.
	Bitrate int `toml:"bitrate"`

	canbus.ReceiverConfig
}

// Config is the full gateway configuration, one map entry per protocol
// instance. Instance names must be unique across all sections because the
// registry keys instances by name alone.
type Config struct {
	Serial map[string]RTUMasterSection       `toml:"serial"`
	TCP    map[string]modbus.TCPMasterConfig `toml:"tcp"`
	Slave  map[string]RTUSlaveSection        `toml:"slave"`
	CAN    map[string]CANSection             `toml:"can"`
}

// Load reads and validates the TOML document at path.
func Load(path string) (*Config, error) {
	var cfg Config

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	return finish(&cfg, meta)
}

// Parse decodes and validates a TOML document held in memory.
func Parse(data string) (*Config, error) {
	var cfg Config

	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return finish(&cfg, meta)
}

func finish(cfg *Config, meta toml.MetaData) (*Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every section and rejects instance names reused across
// sections. Defaults are applied to working copies only, so zero-valued
// fields stay zero until the protocol constructor fills them in.
func (c *Config) Validate() error {
	seen := make(map[string]struct{})
	claim := func(name string) error {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		seen[name] = struct{}{}

		return nil
	}

	for name, section := range c.Serial {
		if err := claim(name); err != nil {
			return err
		}
		mc := section.MasterConfig()
		mc.ApplyDefaults()
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("serial.%s: %w", name, err)
		}
	}

	for name, mc := range c.TCP {
		if err := claim(name); err != nil {
			return err
		}
		mc.ApplyDefaults()
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("tcp.%s: %w", name, err)
		}
	}

	for name, section := range c.Slave {
		if err := claim(name); err != nil {
			return err
		}
		sc := section.SlaveConfig()
		sc.ApplyDefaults()
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("slave.%s: %w", name, err)
		}
	}

	for name, section := range c.CAN {
		if err := claim(name); err != nil {
			return err
		}
		if section.Interface == "" {
			return fmt.Errorf("%w: can.%s: interface is required", ErrInvalid, name)
		}
		if section.QueueCap < 0 {
			return fmt.Errorf("%w: can.%s: queue_cap must not be negative", ErrInvalid, name)
		}
	}

	return nil
}

// Count returns the total number of configured protocol instances.
func (c *Config) Count() int {
	return len(c.Serial) + len(c.TCP) + len(c.Slave) + len(c.CAN)
}
