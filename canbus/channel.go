package canbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Alexchinaxian/fieldbus/logger"
)

// DefaultBufferCap is the default capacity of the reception buffers.
const DefaultBufferCap = 1000

// FrameHandler is invoked with each received frame.
type FrameHandler func(frame Frame)

// Channel is the normal, event-driven reception path over a CAN device.
//
// Callers invoke Poll from their event loop (typically on a readiness
// notification); each Poll drains all frames currently available on the
// device into a bounded buffer, trimming the oldest excess when the buffer
// overflows. Channel methods are safe for concurrent use.
type Channel struct {
	device    Device
	logger    logger.Logger
	bufferCap int

	mu     sync.Mutex
	buffer []Frame

	received atomic.Uint64
	sent     atomic.Uint64

	handlerMu     sync.RWMutex
	frameHandlers []FrameHandler
}

// NewChannel creates a channel over an opened device. bufferCap bounds the
// reception buffer; zero or negative selects DefaultBufferCap.
func NewChannel(device Device, bufferCap int, l logger.Logger) *Channel {
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCap
	}
	if l == nil {
		l = logger.GetLogger()
	}

	return &Channel{
		device:    device,
		logger:    l,
		bufferCap: bufferCap,
	}
}

// OnFrameReceived registers a handler invoked for every frame drained by
// Poll.
func (c *Channel) OnFrameReceived(handler FrameHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.frameHandlers = append(c.frameHandlers, handler)
}

// Poll drains every frame currently available on the device into the
// buffer and returns the number of frames drained. Invalid frames are
// discarded.
func (c *Channel) Poll() int {
	drained := 0

	for c.device.FramesAvailable() > 0 {
		frame, ok := c.device.ReadFrame()
		if !ok {
			break
		}

		if err := frame.Validate(); err != nil {
			c.logger.Debug("discarding invalid frame", "error", err)

			continue
		}

		c.received.Add(1)
		drained++

		c.mu.Lock()
		c.buffer = append(c.buffer, frame)
		if len(c.buffer) > c.bufferCap {
			excess := len(c.buffer) - c.bufferCap
			c.buffer = c.buffer[excess:]
			c.logger.Warn("receive buffer overflow, oldest frames trimmed",
				"trimmed", excess, "cap", c.bufferCap)
		}
		c.mu.Unlock()

		c.handlerMu.RLock()
		handlers := c.frameHandlers
		c.handlerMu.RUnlock()

		for _, handler := range handlers {
			handler(frame)
		}
	}

	return drained
}

// WriteFrame validates and transmits one frame.
func (c *Channel) WriteFrame(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	if err := c.device.WriteFrame(frame); err != nil {
		return fmt.Errorf("canbus: write frame %s: %w", frame, err)
	}

	c.sent.Add(1)
	c.logger.Debug("frame sent", "frame", frame.String())

	return nil
}

// WriteData transmits a standard data frame.
func (c *Channel) WriteData(id uint32, data []byte) error {
	return c.WriteFrame(NewFrame(id, data))
}

// WriteExtendedData transmits an extended data frame.
func (c *Channel) WriteExtendedData(id uint32, data []byte) error {
	return c.WriteFrame(NewExtendedFrame(id, data))
}

// WriteRemote transmits a remote request frame with the given DLC.
func (c *Channel) WriteRemote(id uint32, dlc uint8) error {
	return c.WriteFrame(NewRemoteFrame(id, dlc))
}

// ReadFrame pops the oldest buffered frame; ok is false when the buffer is
// empty.
func (c *Channel) ReadFrame() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffer) == 0 {
		return Frame{}, false
	}

	frame := c.buffer[0]
	c.buffer = c.buffer[1:]

	return frame, true
}

// ReadAllFrames drains and returns all buffered frames in arrival order.
func (c *Channel) ReadAllFrames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := c.buffer
	c.buffer = nil

	return frames
}

// BufferedCount returns the number of buffered frames.
func (c *Channel) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.buffer)
}

// ReceivedCount returns the total number of frames drained from the device.
func (c *Channel) ReceivedCount() uint64 { return c.received.Load() }

// SentCount returns the total number of frames transmitted.
func (c *Channel) SentCount() uint64 { return c.sent.Load() }

// ClearBuffer discards all buffered frames.
func (c *Channel) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = nil
}
