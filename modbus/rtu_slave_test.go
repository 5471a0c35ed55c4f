package modbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexchinaxian/fieldbus/logger"
	"github.com/Alexchinaxian/fieldbus/serial"
)

const testFrameGap = 20 * time.Millisecond

func newTestRTUSlave(t *testing.T, port *fakePort, unitID uint8) *RTUSlave {
	t.Helper()

	cfg := &RTUSlaveConfig{
		Serial:   serial.Config{Device: "/dev/ttyTEST"},
		UnitID:   unitID,
		FrameGap: testFrameGap,
	}

	s, err := NewRTUSlave("slave-test", cfg, nil)
	require.NoError(t, err)

	s.openChannel = func(scfg *serial.Config, l logger.Logger) (*serial.Channel, error) {
		ch := serial.NewChannel(port, scfg, nil)
		if err := ch.Start(); err != nil {
			return nil, err
		}

		return ch, nil
	}

	require.NoError(t, s.Connect())
	t.Cleanup(func() { _ = s.Disconnect() })

	return s
}

// awaitResponse waits for the slave to write a complete frame back.
func awaitResponse(t *testing.T, port *fakePort) []byte {
	t.Helper()

	var resp []byte
	require.Eventually(t, func() bool {
		resp = port.writtenBytes()

		return len(resp) >= 4 && verifyCRC(resp)
	}, 2*time.Second, time.Millisecond)

	return resp
}

// awaitSilence verifies that the slave writes nothing for a few frame gaps.
func awaitSilence(t *testing.T, port *fakePort) {
	t.Helper()

	time.Sleep(4 * testFrameGap)
	assert.Empty(t, port.writtenBytes())
}

func TestRTUSlave_WriteSingleRegisterEcho(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)

	var notified []WriteNotification
	s.OnWrite(func(n WriteNotification) { notified = append(notified, n) })

	// write single register addr 0, value 1234
	request := appendCRC([]byte{0x01, 0x06, 0x00, 0x00, 0x04, 0xD2})
	port.feed(request)

	resp := awaitResponse(t, port)
	assert.Equal(request, resp) // 0x06 echoes the request verbatim

	value, err := s.GetHoldingRegister(0)
	require.NoError(err)
	assert.Equal(uint16(1234), value)

	require.Len(notified, 1)
	assert.Equal(WriteNotification{
		Function: FuncWriteSingleRegister, Address: 0, Value: 1234, Count: 1,
	}, notified[0])
}

func TestRTUSlave_ReadHoldingRegisters(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)

	require.NoError(s.SetHoldingRegister(5, 0xBEEF))
	require.NoError(s.SetHoldingRegister(6, 0x1234))

	var reads []ReadNotification
	s.OnRead(func(n ReadNotification) { reads = append(reads, n) })

	port.feed(appendCRC([]byte{0x01, 0x03, 0x00, 0x05, 0x00, 0x02}))

	resp := awaitResponse(t, port)
	want := appendCRC([]byte{0x01, 0x03, 0x04, 0xBE, 0xEF, 0x12, 0x34})
	assert.Equal(want, resp)

	require.Len(reads, 1)
	assert.Equal(ReadNotification{Function: FuncReadHoldingRegisters, Address: 5, Count: 2}, reads[0])
}

func TestRTUSlave_ReadInputRegisters(t *testing.T) {
	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)

	require.NoError(t, s.SetInputRegister(0, 0x00AA))

	port.feed(appendCRC([]byte{0x01, 0x04, 0x00, 0x00, 0x00, 0x01}))

	resp := awaitResponse(t, port)
	assert.Equal(t, appendCRC([]byte{0x01, 0x04, 0x02, 0x00, 0xAA}), resp)
}

func TestRTUSlave_WriteMultipleRegisters(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)

	request := appendCRC([]byte{
		0x01, 0x10, 0x00, 0x10, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44,
	})
	port.feed(request)

	resp := awaitResponse(t, port)
	assert.Equal(appendCRC([]byte{0x01, 0x10, 0x00, 0x10, 0x00, 0x02}), resp)

	values, err := s.holding.GetRange(0x10, 2)
	require.NoError(err)
	assert.Equal([]uint16{0x1122, 0x3344}, values)
}

func TestRTUSlave_FrameSplitAcrossChunks(t *testing.T) {
	// chunks inside the frame gap assemble into one frame
	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)
	require.NoError(t, s.SetHoldingRegister(0, 7))

	request := appendCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	port.feed(request[:3])
	time.Sleep(testFrameGap / 4)
	port.feed(request[3:])

	resp := awaitResponse(t, port)
	assert.Equal(t, appendCRC([]byte{0x01, 0x03, 0x02, 0x00, 0x07}), resp)
}

func TestRTUSlave_ForeignAddressSilentlyDiscarded(t *testing.T) {
	port := newFakePort()
	newTestRTUSlave(t, port, 5)

	// well-formed frame for unit 1, slave is unit 5
	port.feed(appendCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}))
	awaitSilence(t, port)
}

func TestRTUSlave_BadCRCSilentlyDiscarded(t *testing.T) {
	port := newFakePort()
	newTestRTUSlave(t, port, 1)

	frame := appendCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	frame[len(frame)-1] ^= 0xFF
	port.feed(frame)
	awaitSilence(t, port)
}

func TestRTUSlave_Exceptions(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
		want []byte
	}{
		{
			name: "illegal function",
			pdu:  []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x01},
			want: []byte{0x01, 0x81, ExceptionIllegalFunction},
		},
		{
			name: "read out of bank bounds",
			pdu:  []byte{0x01, 0x03, 0x00, 0xFF, 0x00, 0x02},
			want: []byte{0x01, 0x83, ExceptionIllegalDataAddress},
		},
		{
			name: "write single out of bounds",
			pdu:  []byte{0x01, 0x06, 0x01, 0x00, 0x00, 0x01},
			want: []byte{0x01, 0x86, ExceptionIllegalDataAddress},
		},
		{
			name: "write multiple byte count mismatch",
			pdu:  []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x02, 0x02, 0x11, 0x22},
			want: []byte{0x01, 0x90, ExceptionIllegalDataValue},
		},
		{
			name: "read count zero",
			pdu:  []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x00},
			want: []byte{0x01, 0x83, ExceptionIllegalDataValue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort()
			s := newTestRTUSlave(t, port, 1)

			notified := make(chan [2]byte, 1)
			s.OnException(func(function byte, code byte) {
				notified <- [2]byte{function, code}
			})

			port.feed(appendCRC(append([]byte{}, tt.pdu...)))

			resp := awaitResponse(t, port)
			assert.Equal(t, appendCRC(append([]byte{}, tt.want...)), resp)

			select {
			case got := <-notified:
				assert.Equal(t, [2]byte{tt.pdu[1], tt.want[2]}, got)
			default:
				t.Fatal("no exception notification")
			}
		})
	}
}

func TestRTUSlave_TypedSetters(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)

	s.SetTemperature(23.57)

	intPart, err := s.GetHoldingRegister(RegTemperatureInt)
	require.NoError(err)
	assert.Equal(uint16(23), intPart)

	fracPart, err := s.GetHoldingRegister(RegTemperatureFrac)
	require.NoError(err)
	assert.InDelta(57, int(fracPart), 1) // float truncation

	// mirrored into the input bank
	inputInt, err := s.input.Get(RegTemperatureInt)
	require.NoError(err)
	assert.Equal(uint16(23), inputInt)

	s.SetSystemStatus(0x0102)
	status, err := s.GetHoldingRegister(RegSystemStatus)
	require.NoError(err)
	assert.Equal(uint16(0x0102), status)

	inputStatus, err := s.input.Get(RegSystemStatus)
	require.NoError(err)
	assert.Equal(uint16(0x0102), inputStatus)
}

func TestRTUSlave_ProtocolSurface(t *testing.T) {
	port := newFakePort()
	s := newTestRTUSlave(t, port, 1)

	assert.Equal(t, "slave-test", s.Name())
	assert.Equal(t, "modbus-rtu-slave", s.Kind().String())
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Disconnect())
	assert.False(t, s.IsConnected())
}
