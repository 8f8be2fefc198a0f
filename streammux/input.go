package streammux

import (
	"io"
	"sync"

	"github.com/benoitc/gaffer/gerrors"
)

// ErrWouldBlock is returned by InputMux.TryWrite when another writer
// currently holds the mux. A full pipe is not detected: once TryWrite holds
// the mux, its write to the pipe blocks just as Write's does.
var ErrWouldBlock = gerrors.BackpressureDroppedf("stdin write would block")

// InputMux serializes writes from any number of concurrent producers onto a
// single OS pipe (stdin), guaranteeing that no two concurrent Write calls
// interleave their bytes.
type InputMux struct {
	pid int64

	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewInputMux wraps w (the write end of the child's stdin pipe) for pid.
func NewInputMux(pid int64, w io.Writer) *InputMux {
	return &InputMux{pid: pid, w: w}
}

// Write blocks until data has been fully written to the pipe, serialized
// against concurrent writers. Safe to call from any goroutine.
func (m *InputMux) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, gerrors.InvalidStatef("stdin closed for pid %d", m.pid)
	}
	return m.w.Write(data)
}

// TryWrite attempts the same write as Write but does not wait for other
// writers: if the mutex is already held by another writer, it returns
// ErrWouldBlock immediately rather than queueing. The write to the pipe
// itself is not made non-blocking and blocks while the pipe is full.
func (m *InputMux) TryWrite(data []byte) (int, error) {
	if !m.mu.TryLock() {
		return 0, ErrWouldBlock
	}
	defer m.mu.Unlock()
	if m.closed {
		return 0, gerrors.InvalidStatef("stdin closed for pid %d", m.pid)
	}
	return m.w.Write(data)
}

// Close marks the mux closed; subsequent writes fail with InvalidState. If
// the underlying writer is an io.Closer, it is closed too.
func (m *InputMux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (m *InputMux) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
