package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	goserial "go.bug.st/serial"

	"github.com/Alexchinaxian/fieldbus/internal/pool"
	"github.com/Alexchinaxian/fieldbus/internal/queue"
	"github.com/Alexchinaxian/fieldbus/logger"
	"github.com/Alexchinaxian/fieldbus/protocol"
)

const (
	// readChunkSize is the size of the scratch buffer handed to the port
	// per read call.
	readChunkSize = 4 * 1024

	// writerIdleTimeout is the timeout for polling the write queue when
	// the writer task is idle.
	writerIdleTimeout = 50 * time.Millisecond

	// waitReadyInterval is the polling interval of WaitReady.
	waitReadyInterval = 5 * time.Millisecond

	// flushInterval is the polling interval of Flush.
	flushInterval = time.Millisecond
)

// DataHandler is invoked from the reader task with each chunk of bytes
// received from the port. The slice is owned by the handler.
type DataHandler func(data []byte)

// ErrorHandler is invoked when a transport failure closes the channel.
type ErrorHandler func(err error)

// OverflowHandler is invoked when the read buffer exceeds its cap and the
// oldest bytes are discarded. discarded is the number of bytes dropped.
type OverflowHandler func(discarded int)

// NewChannel creates a channel over an already-opened port. The channel is
// not started; call Start to launch the reader and writer tasks.
func NewChannel(port Port, cfg *Config, l logger.Logger) *Channel {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	if l == nil {
		l = logger.GetLogger()
	}

	return &Channel{
		cfg:         cfg,
		port:        port,
		logger:      l,
		taskMgr:     protocol.NewTaskManager(context.Background(), l),
		writeQueue:  queue.New[[]byte](8),
		writeSignal: make(chan struct{}, 1),
	}
}

// Channel is a buffered byte-stream over a serial port.
//
// A background reader task accumulates incoming bytes into a bounded read
// buffer, and a background writer task drains queued writes in fixed-size
// chunks. All public operations are non-blocking except WaitReady and Flush,
// which are explicit bounded waits. The channel is safe for concurrent use.
//
// The read buffer has a soft cap (Config.ReadBufferCap). When an append
// pushes it past the cap only the newest half of the cap is retained and an
// overflow notification fires. Eviction operates on raw bytes, so a frame
// that straddles the eviction boundary is truncated; consumers relying on
// frame integrity must drain the buffer faster than the line fills it.
type Channel struct {
	cfg     *Config
	port    Port
	logger  logger.Logger
	taskMgr *protocol.TaskManager

	readMu  sync.Mutex
	readBuf []byte

	writeMu      sync.Mutex
	writeQueue   *queue.FIFO[[]byte]
	pendingBytes int
	writeSignal  chan struct{}

	closed atomic.Bool

	handlerMu        sync.RWMutex
	dataHandlers     []DataHandler
	errorHandlers    []ErrorHandler
	overflowHandlers []OverflowHandler
}

// Open opens the configured device and returns a started channel.
func Open(cfg *Config, l logger.Logger) (*Channel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config is nil")
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	port, err := openPort(cfg)
	if err != nil {
		return nil, err
	}

	ch := NewChannel(port, cfg, l)
	if err := ch.Start(); err != nil {
		_ = port.Close()

		return nil, err
	}

	return ch, nil
}

// Start launches the reader and writer tasks. It is called by Open; tests
// using NewChannel with a fake port call it directly.
func (c *Channel) Start() error {
	if c.closed.Load() {
		return ErrClosed
	}

	if err := c.taskMgr.Start("serial-reader", c.readerTask, nil); err != nil {
		return err
	}

	return c.taskMgr.Start("serial-writer", c.writerTask, nil)
}

// OnDataReceived registers a handler invoked with every received chunk.
func (c *Channel) OnDataReceived(handler DataHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.dataHandlers = append(c.dataHandlers, handler)
}

// OnError registers a handler invoked when a transport failure closes the
// channel.
func (c *Channel) OnError(handler ErrorHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.errorHandlers = append(c.errorHandlers, handler)
}

// OnBufferOverflow registers a handler invoked when read-buffer eviction
// discards bytes.
func (c *Channel) OnBufferOverflow(handler OverflowHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.overflowHandlers = append(c.overflowHandlers, handler)
}

// Write queues data for transmission and returns the total number of bytes
// pending in the write queue after the append. It never blocks; queued data
// is drained by the writer task in order. Writing to a closed channel is a
// no-op returning 0.
func (c *Channel) Write(data []byte) int {
	if c.closed.Load() || len(data) == 0 {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		return c.pendingBytes
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	c.writeMu.Lock()
	c.writeQueue.Enqueue(buf)
	c.pendingBytes += len(buf)
	pending := c.pendingBytes
	c.writeMu.Unlock()

	select {
	case c.writeSignal <- struct{}{}:
	default:
	}

	return pending
}

// ReadAvailable returns and removes all buffered bytes. It returns nil when
// the buffer is empty.
func (c *Channel) ReadAvailable() []byte {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.readBuf) == 0 {
		return nil
	}

	out := c.readBuf
	c.readBuf = nil

	return out
}

// ReadLine returns and removes the first buffered line including its '\n'
// terminator. It returns nil when no complete line is buffered yet.
func (c *Channel) ReadLine() []byte {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	idx := bytes.IndexByte(c.readBuf, '\n')
	if idx < 0 {
		return nil
	}

	line := make([]byte, idx+1)
	copy(line, c.readBuf[:idx+1])
	c.readBuf = c.readBuf[idx+1:]

	return line
}

// BytesAvailable returns the number of buffered unread bytes.
func (c *Channel) BytesAvailable() int {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	return len(c.readBuf)
}

// PendingWriteBytes returns the number of queued bytes not yet written to
// the port.
func (c *Channel) PendingWriteBytes() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.pendingBytes
}

// WaitReady waits until at least one byte is buffered or the timeout
// expires. It reports whether data is available.
func (c *Channel) WaitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if c.BytesAvailable() > 0 {
			return true
		}
		if c.closed.Load() || !time.Now().Before(deadline) {
			return false
		}

		timer := pool.GetTimer(waitReadyInterval)
		<-timer.C
		pool.PutTimer(timer)
	}
}

// Clear discards all buffered unread bytes.
func (c *Channel) Clear() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.readBuf = nil
}

// Flush waits until the write queue is fully drained. It returns ErrClosed
// when the channel closes first and ErrTimeout when the queue has not
// drained within timeout.
func (c *Channel) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for c.PendingWriteBytes() > 0 {
		if c.closed.Load() {
			return ErrClosed
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}

		timer := pool.GetTimer(flushInterval)
		<-timer.C
		pool.PutTimer(timer)
	}

	return nil
}

// IsClosed reports whether the channel has been closed.
func (c *Channel) IsClosed() bool {
	return c.closed.Load()
}

// Close stops the reader and writer tasks and closes the underlying port.
// It is idempotent.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// closing the port unblocks the reader task
	err := c.port.Close()

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	c.logger.Debug("serial channel closed", "device", c.cfg.Device)

	return err
}

// readerTask reads from the port and appends into the read buffer.
func (c *Channel) readerTask() bool {
	buf := make([]byte, readChunkSize)

	n, err := c.port.Read(buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		c.appendRead(chunk)
	}

	if err != nil {
		if c.closed.Load() {
			return false
		}

		c.fail(c.classifyReadError(err))

		return false
	}

	return true
}

// appendRead appends a received chunk, evicting the oldest bytes when the
// buffer exceeds its cap, then delivers the chunk to the data handlers.
func (c *Channel) appendRead(chunk []byte) {
	discarded := 0

	c.readMu.Lock()
	c.readBuf = append(c.readBuf, chunk...)
	if len(c.readBuf) > c.cfg.ReadBufferCap {
		keep := c.cfg.ReadBufferCap / 2
		discarded = len(c.readBuf) - keep
		tail := make([]byte, keep)
		copy(tail, c.readBuf[len(c.readBuf)-keep:])
		c.readBuf = tail
	}
	c.readMu.Unlock()

	if discarded > 0 {
		c.logger.Warn("read buffer overflow, oldest bytes discarded",
			"device", c.cfg.Device, "discarded", discarded)

		c.handlerMu.RLock()
		overflowHandlers := c.overflowHandlers
		c.handlerMu.RUnlock()

		for _, handler := range overflowHandlers {
			handler(discarded)
		}
	}

	c.handlerMu.RLock()
	dataHandlers := c.dataHandlers
	c.handlerMu.RUnlock()

	for _, handler := range dataHandlers {
		handler(chunk)
	}
}

// writerTask drains the write queue, writing at most writeChunkSize bytes
// per port write.
func (c *Channel) writerTask() bool {
	timer := pool.GetTimer(writerIdleTimeout)
	select {
	case <-c.writeSignal:
		pool.PutTimer(timer)
	case <-timer.C:
		pool.PutTimer(timer)

		return !c.closed.Load()
	}

	for {
		c.writeMu.Lock()
		buf, ok := c.writeQueue.Dequeue()
		c.writeMu.Unlock()

		if !ok {
			return !c.closed.Load()
		}

		for len(buf) > 0 {
			chunk := buf
			if len(chunk) > writeChunkSize {
				chunk = chunk[:writeChunkSize]
			}

			n, err := c.port.Write(chunk)
			if n > 0 {
				buf = buf[n:]

				c.writeMu.Lock()
				c.pendingBytes -= n
				c.writeMu.Unlock()
			}

			if err != nil {
				if !c.closed.Load() {
					c.fail(fmt.Errorf("%w: %v", ErrWriteFailed, err))
				}

				return false
			}
		}
	}
}

// fail reports a transport failure and closes the channel.
func (c *Channel) fail(err error) {
	c.logger.Error("serial channel failure", "device", c.cfg.Device, "error", err)

	c.handlerMu.RLock()
	errorHandlers := c.errorHandlers
	c.handlerMu.RUnlock()

	for _, handler := range errorHandlers {
		handler(err)
	}

	if c.closed.CompareAndSwap(false, true) {
		_ = c.port.Close()
		c.taskMgr.Stop()
	}
}

// classifyReadError maps a port read failure onto the package sentinels.
func (c *Channel) classifyReadError(err error) error {
	var portErr *goserial.PortError
	if errors.As(err, &portErr) && portErr.Code() == goserial.PortClosed {
		return fmt.Errorf("%w: %s", ErrResourceGone, c.cfg.Device)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s", ErrResourceGone, c.cfg.Device)
	}

	return fmt.Errorf("%w: %v", ErrReadFailed, err)
}
