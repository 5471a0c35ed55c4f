package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDocument = `
[serial.plc1]
device = "/dev/ttyUSB0"
baud_rate = 19200
data_bits = 8
parity = "E"
stop_bits = 1
unit_id = 3
response_timeout = "750ms"

[tcp.meter]
address = "10.0.0.5:502"
unit_id = 2
response_timeout = "2s"
dial_timeout = "1s"
dial_attempts = 5

[slave.panel]
device = "/dev/ttyUSB1"
unit_id = 1
frame_gap = "30ms"

[can.engine]
interface = "can0"
bitrate = 250000
queue_cap = 500
niceness = -10
`

func TestLoad_FullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullDocument), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Count())

	master, ok := cfg.Serial["plc1"]
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", master.Device)
	assert.Equal(t, 19200, master.BaudRate)
	assert.Equal(t, "E", master.Parity)
	assert.Equal(t, uint8(3), master.UnitID)
	assert.Equal(t, 750*time.Millisecond, master.ResponseTimeout)

	tcp, ok := cfg.TCP["meter"]
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5:502", tcp.Address)
	assert.Equal(t, uint8(2), tcp.UnitID)
	assert.Equal(t, 2*time.Second, tcp.ResponseTimeout)
	assert.Equal(t, time.Second, tcp.DialTimeout)
	assert.Equal(t, uint(5), tcp.DialAttempts)

	slave, ok := cfg.Slave["panel"]
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB1", slave.Device)
	assert.Equal(t, 30*time.Millisecond, slave.FrameGap)

	can, ok := cfg.CAN["engine"]
	require.True(t, ok)
	assert.Equal(t, "can0", can.Interface)
	assert.Equal(t, 250000, can.Bitrate)
	assert.Equal(t, 500, can.QueueCap)
	assert.Equal(t, -10, can.Niceness)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, ErrParse)
}

func TestParse_MinimalSections(t *testing.T) {
	cfg, err := Parse(`
[serial.plc1]
device = "/dev/ttyUSB0"

[can.engine]
interface = "can0"
`)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Count())

	// Unset fields stay zero. Defaults are applied by the protocol
	// constructors, not by the loader.
	master := cfg.Serial["plc1"]
	assert.Zero(t, master.BaudRate)
	assert.Zero(t, master.UnitID)
	assert.Zero(t, master.ResponseTimeout)

	mc := master.MasterConfig()
	mc.ApplyDefaults()
	assert.Equal(t, 9600, mc.Serial.BaudRate)
	assert.Equal(t, uint8(1), mc.UnitID)
	assert.Equal(t, time.Second, mc.ResponseTimeout)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "syntax error",
			doc:     "[serial.plc1\ndevice=",
			wantErr: ErrParse,
		},
		{
			name:    "unknown key",
			doc:     "[serial.plc1]\ndevice = \"/dev/ttyUSB0\"\nbaudrate = 9600",
			wantErr: ErrUnknownKey,
		},
		{
			name:    "duplicate name across sections",
			doc:     "[serial.plc1]\ndevice = \"/dev/ttyUSB0\"\n\n[tcp.plc1]\naddress = \"10.0.0.5:502\"",
			wantErr: ErrDuplicateName,
		},
		{
			name:    "serial without device",
			doc:     "[serial.plc1]\nbaud_rate = 9600",
			wantErr: nil, // wrapped modbus/serial error, just non-nil
		},
		{
			name:    "tcp without address",
			doc:     "[tcp.meter]\nunit_id = 2",
			wantErr: nil,
		},
		{
			name:    "unit id out of range",
			doc:     "[tcp.meter]\naddress = \"10.0.0.5:502\"\nunit_id = 248",
			wantErr: nil,
		},
		{
			name:    "can without interface",
			doc:     "[can.engine]\nqueue_cap = 100",
			wantErr: ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
