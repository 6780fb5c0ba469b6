package modem

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// This is needed because the Loop's reader goroutine continuously reads from the transport,
// and we need reads to block until data is available (like a real serial port would).
//
// Writes are recorded. A Responder, when set, is called after each write
// with everything written so far and may queue modem output.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	closed    bool
	written   bytes.Buffer
	writes    int
	responder func(t *TestTransport, written []byte)
	// pending holds the unread tail of the last queued chunk. Only the
	// reading goroutine touches it.
	pending []byte
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
	}
}

// OnWrite installs a responder.
func (t *TestTransport) OnWrite(fn func(t *TestTransport, written []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responder = fn
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	t.written.Write(p)
	t.writes++
	fn := t.responder
	snapshot := bytes.Clone(t.written.Bytes())
	t.mu.Unlock()

	if fn != nil {
		fn(t, snapshot)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.pending) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.pending = data
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Written returns everything written so far.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// Writes returns the number of Write calls.
func (t *TestTransport) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// Reset forgets recorded writes.
func (t *TestTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written.Reset()
	t.writes = 0
}

// TestDialer returns a fixed transport.
type TestDialer struct {
	Transport Transport
}

func (d TestDialer) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Transport, nil
}
