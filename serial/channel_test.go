package serial

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory Port; tests feed incoming bytes and inspect
// written bytes.
type fakePort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	incoming []byte
	written  []byte
	readErr  error
	closed   bool
}

func newFakePort() *fakePort {
	p := &fakePort{}
	p.cond = sync.NewCond(&p.mu)

	return p
}

func (p *fakePort) feed(data []byte) {
	p.mu.Lock()
	p.incoming = append(p.incoming, data...)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.incoming) == 0 && p.readErr == nil && !p.closed {
		p.cond.Wait()
	}

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		return 0, p.readErr
	}

	n := copy(buf, p.incoming)
	p.incoming = p.incoming[n:]

	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.written = append(p.written, buf...)

	return len(buf), nil
}

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]byte, len(p.written))
	copy(out, p.written)

	return out
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()

	return nil
}

func startTestChannel(t *testing.T, port Port, cfg *Config) *Channel {
	t.Helper()

	ch := NewChannel(port, cfg, nil)
	require.NoError(t, ch.Start())
	t.Cleanup(func() { _ = ch.Close() })

	return ch
}

func TestChannel_ReadAvailable(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	port.feed([]byte{0x01, 0x02, 0x03})
	require.True(t, ch.WaitReady(time.Second))

	assert.Equal(t, 3, ch.BytesAvailable())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, ch.ReadAvailable())
	assert.Equal(t, 0, ch.BytesAvailable())
	assert.Nil(t, ch.ReadAvailable())
}

func TestChannel_ReadLine(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	port.feed([]byte("partial"))
	require.True(t, ch.WaitReady(time.Second))
	assert.Nil(t, ch.ReadLine())

	port.feed([]byte(" line\nrest"))
	require.Eventually(t, func() bool {
		return ch.BytesAvailable() == len("partial line\nrest")
	}, time.Second, time.Millisecond)

	assert.Equal(t, []byte("partial line\n"), ch.ReadLine())
	assert.Equal(t, []byte("rest"), ch.ReadAvailable())
}

func TestChannel_WriteOrderPreserved(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	// second chunk exceeds the 4 KiB drain size to cross a chunk boundary
	first := []byte{0xAA, 0xBB}
	second := bytes.Repeat([]byte{0x55}, writeChunkSize+100)
	third := []byte{0xCC}

	ch.Write(first)
	ch.Write(second)
	ch.Write(third)
	require.NoError(t, ch.Flush(time.Second))

	want := append(append(append([]byte{}, first...), second...), third...)
	assert.Equal(t, want, port.writtenBytes())
	assert.Equal(t, 0, ch.PendingWriteBytes())
}

func TestChannel_WriteReturnsQueuedLength(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(port, nil, nil)
	// not started, so nothing drains the queue

	assert.Equal(t, 3, ch.Write([]byte{1, 2, 3}))
	assert.Equal(t, 5, ch.Write([]byte{4, 5}))
	assert.Equal(t, 5, ch.PendingWriteBytes())
}

func TestChannel_ReadBufferEviction(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, &Config{ReadBufferCap: 64})

	var mu sync.Mutex
	var discarded int
	ch.OnBufferOverflow(func(n int) {
		mu.Lock()
		discarded += n
		mu.Unlock()
	})

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	port.feed(data)

	// cap 64, keep newest 32 bytes, drop the oldest 68
	require.Eventually(t, func() bool {
		return ch.BytesAvailable() == 32
	}, time.Second, time.Millisecond)

	assert.Equal(t, data[68:], ch.ReadAvailable())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 68, discarded)
}

func TestChannel_DataHandler(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	received := make(chan []byte, 1)
	ch.OnDataReceived(func(data []byte) { received <- data })

	port.feed([]byte{0xDE, 0xAD})

	select {
	case data := <-received:
		assert.Equal(t, []byte{0xDE, 0xAD}, data)
	case <-time.After(time.Second):
		t.Fatal("data handler not invoked")
	}
}

func TestChannel_WaitReadyTimeout(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	start := time.Now()
	assert.False(t, ch.WaitReady(30*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestChannel_ReadErrorClosesChannel(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	failures := make(chan error, 1)
	ch.OnError(func(err error) { failures <- err })

	port.failReads(errors.New("input/output error"))

	select {
	case err := <-failures:
		require.ErrorIs(t, err, ErrReadFailed)
	case <-time.After(time.Second):
		t.Fatal("error handler not invoked")
	}

	require.Eventually(t, ch.IsClosed, time.Second, time.Millisecond)
	assert.Equal(t, 0, ch.Write([]byte{1}))
}

func TestChannel_Clear(t *testing.T) {
	port := newFakePort()
	ch := startTestChannel(t, port, nil)

	port.feed([]byte{1, 2, 3})
	require.True(t, ch.WaitReady(time.Second))

	ch.Clear()
	assert.Equal(t, 0, ch.BytesAvailable())
}

func TestChannel_CloseIdempotent(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(port, nil, nil)
	require.NoError(t, ch.Start())

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.True(t, ch.IsClosed())
}

func TestConfig_Validate(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		cfg := &Config{Device: "/dev/ttyS0"}
		cfg.ApplyDefaults()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, DefaultBaudRate, cfg.BaudRate)
		assert.Equal(t, DefaultDataBits, cfg.DataBits)
		assert.Equal(t, DefaultParity, cfg.Parity)
		assert.Equal(t, DefaultStopBits, cfg.StopBits)
		assert.Equal(t, DefaultReadBufferCap, cfg.ReadBufferCap)
	})

	t.Run("missing device", func(t *testing.T) {
		cfg := &Config{}
		cfg.ApplyDefaults()
		require.Error(t, cfg.Validate())
	})

	t.Run("bad data bits", func(t *testing.T) {
		cfg := &Config{Device: "/dev/ttyS0", DataBits: 9}
		cfg.ApplyDefaults()
		require.Error(t, cfg.Validate())
	})

	t.Run("bad parity", func(t *testing.T) {
		cfg := &Config{Device: "/dev/ttyS0", Parity: "X"}
		cfg.ApplyDefaults()
		require.Error(t, cfg.Validate())
	})

	t.Run("bad stop bits", func(t *testing.T) {
		cfg := &Config{Device: "/dev/ttyS0", StopBits: 3}
		cfg.ApplyDefaults()
		require.Error(t, cfg.Validate())
	})
}
