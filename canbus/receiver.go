package canbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexchinaxian/fieldbus/internal/pool"
	"github.com/Alexchinaxian/fieldbus/internal/queue"
	"github.com/Alexchinaxian/fieldbus/logger"
)

const (
	// idleSleep is how long the receive goroutine sleeps when the device
	// has no frames. 10 ms bounds CPU use while keeping added latency
	// under one poll interval once data arrives.
	idleSleep = 10 * time.Millisecond

	// stopTimeout bounds how long Stop waits for the receive goroutine.
	stopTimeout = 3 * time.Second

	// overflowNotifyInterval rate-limits overflow notifications to one
	// every N dropped frames.
	overflowNotifyInterval = 100
)

// OverflowHandler is invoked with the cumulative dropped-frame count, once
// every overflowNotifyInterval drops.
type OverflowHandler func(dropped uint64)

// ReceiverConfig holds the options of the high-performance receive path.
type ReceiverConfig struct {
	// QueueCap bounds the frame queue. Default 1000.
	QueueCap int `toml:"queue_cap"`

	// Niceness is the scheduling niceness applied to the receive
	// goroutine's OS thread, best effort. Negative values raise priority
	// and usually require privileges. Zero leaves the default.
	Niceness int `toml:"niceness"`
}

func (cfg *ReceiverConfig) applyDefaults() {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultBufferCap
	}
}

// Receiver is the high-performance reception path: a dedicated goroutine
// batch-reads every available frame from the device into a bounded queue,
// sleeping idleSleep when the bus is quiet.
//
// Overflow drops the oldest queued frame and increments the dropped
// counter; an overflow notification fires every 100th drop. The queue mutex
// is held only around enqueue/dequeue, never during handler delivery.
type Receiver struct {
	device Device
	logger logger.Logger
	cfg    ReceiverConfig

	running atomic.Bool
	done    chan struct{}

	mu    sync.Mutex
	queue *queue.FIFO[Frame]

	received atomic.Uint64
	dropped  atomic.Uint64

	handlerMu        sync.RWMutex
	frameHandlers    []FrameHandler
	overflowHandlers []OverflowHandler
}

// NewReceiver creates a receiver over an opened device. It does not start
// receiving; call Start.
func NewReceiver(device Device, cfg ReceiverConfig, l logger.Logger) *Receiver {
	cfg.applyDefaults()

	if l == nil {
		l = logger.GetLogger()
	}

	return &Receiver{
		device: device,
		logger: l,
		cfg:    cfg,
		queue:  queue.New[Frame](cfg.QueueCap),
	}
}

// OnFrameReceived registers a handler invoked from the receive goroutine
// for every queued frame. Handlers must be fast; slow handlers delay the
// receive loop itself.
func (r *Receiver) OnFrameReceived(handler FrameHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.frameHandlers = append(r.frameHandlers, handler)
}

// OnBufferOverflow registers a handler for the rate-limited overflow
// notification.
func (r *Receiver) OnBufferOverflow(handler OverflowHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.overflowHandlers = append(r.overflowHandlers, handler)
}

// Start launches the receive goroutine. If an earlier Stop timed out and
// abandoned its goroutine, Start returns ErrStopPending until that
// goroutine has exited, so the device never has two concurrent readers.
func (r *Receiver) Start() error {
	if r.done != nil {
		select {
		case <-r.done:
		default:
			if r.running.Load() {
				return ErrAlreadyRunning
			}

			return ErrStopPending
		}
	}

	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	r.done = make(chan struct{})
	go r.run()

	r.logger.Info("can receiver started", "queue_cap", r.cfg.QueueCap)

	return nil
}

// Stop clears the running flag and waits up to stopTimeout for the receive
// goroutine to exit. An unresponsive goroutine is abandoned with an error
// log so shutdown cannot hang.
func (r *Receiver) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	timer := pool.GetTimer(stopTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-r.done:
		r.logger.Info("can receiver stopped",
			"received", r.received.Load(), "dropped", r.dropped.Load())
	case <-timer.C:
		r.logger.Error("can receiver unresponsive, abandoning goroutine")
	}

	return nil
}

// IsRunning reports whether the receive goroutine is active.
func (r *Receiver) IsRunning() bool { return r.running.Load() }

// ReadFrame pops the oldest queued frame; ok is false when the queue is
// empty.
func (r *Receiver) ReadFrame() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.queue.Dequeue()
}

// ReadAllFrames drains and returns all queued frames in arrival order.
func (r *Receiver) ReadAllFrames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.queue.Drain()
}

// BufferedCount returns the number of queued frames.
func (r *Receiver) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.queue.Length()
}

// ReceivedCount returns the total number of frames read from the device.
func (r *Receiver) ReceivedCount() uint64 { return r.received.Load() }

// DroppedCount returns the total number of frames dropped on overflow.
func (r *Receiver) DroppedCount() uint64 { return r.dropped.Load() }

// ClearBuffer discards all queued frames.
func (r *Receiver) ClearBuffer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue.Reset()
}

// run is the receive loop.
func (r *Receiver) run() {
	defer close(r.done)

	if r.cfg.Niceness != 0 {
		r.applyNiceness()
	}

	for r.running.Load() {
		if r.device.FramesAvailable() > 0 {
			r.drainDevice()

			continue
		}

		timer := pool.GetTimer(idleSleep)
		<-timer.C
		pool.PutTimer(timer)
	}
}

// drainDevice batch-reads every currently available frame into the queue.
func (r *Receiver) drainDevice() {
	for r.device.FramesAvailable() > 0 {
		frame, ok := r.device.ReadFrame()
		if !ok {
			return
		}

		if err := frame.Validate(); err != nil {
			r.logger.Debug("discarding invalid frame", "error", err)

			continue
		}

		r.received.Add(1)

		notifyDropped := uint64(0)

		r.mu.Lock()
		if r.queue.Length() >= r.cfg.QueueCap {
			r.queue.Dequeue()
			dropped := r.dropped.Add(1)
			if dropped%overflowNotifyInterval == 0 {
				notifyDropped = dropped
			}
		}
		r.queue.Enqueue(frame)
		r.mu.Unlock()

		r.handlerMu.RLock()
		frameHandlers := r.frameHandlers
		overflowHandlers := r.overflowHandlers
		r.handlerMu.RUnlock()

		if notifyDropped > 0 {
			r.logger.Warn("frame queue overflow", "dropped", notifyDropped)
			for _, handler := range overflowHandlers {
				handler(notifyDropped)
			}
		}

		for _, handler := range frameHandlers {
			handler(frame)
		}
	}
}
