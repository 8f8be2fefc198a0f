package streammux

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/shoenig/test/must"
)

func TestOutputMux_PumpPublishesChunks(t *testing.T) {
	emitter := events.New(nil)
	var got []Chunk
	var mu sync.Mutex
	_, err := emitter.Subscribe(Topic(7, "out"), events.ListenerFunc(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Payload.(Chunk))
	}), events.SubscribeOptions{})
	must.NoError(t, err)

	mux, err := NewOutputMux(7, "out", emitter, 1024, nil)
	must.NoError(t, err)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- mux.Pump(pr) }()

	pw.Write([]byte("hello "))
	pw.Write([]byte("world"))
	pw.Close()
	<-done

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var all bytes.Buffer
	for _, c := range got {
		all.Write(c.Data)
		must.Eq(t, "out", c.Label)
		must.Eq(t, int64(7), c.PID)
	}
	must.Eq(t, "hello world", all.String())
}

func TestOutputMux_BacklogBounded(t *testing.T) {
	emitter := events.New(nil)
	mux, err := NewOutputMux(1, "out", emitter, 8, nil)
	must.NoError(t, err)

	pr, pw := io.Pipe()
	go mux.Pump(pr)
	pw.Write([]byte("0123456789"))
	pw.Close()

	time.Sleep(20 * time.Millisecond)
	must.True(t, len(mux.Backlog()) <= 8)
}

func TestInputMux_SerializesWriters(t *testing.T) {
	var buf bytes.Buffer
	mux := NewInputMux(1, &lockedWriter{w: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mux.Write([]byte("x"))
			must.NoError(t, err)
		}()
	}
	wg.Wait()
	must.Eq(t, 20, buf.Len())
}

func TestInputMux_CloseRejectsWrites(t *testing.T) {
	var buf bytes.Buffer
	mux := NewInputMux(1, &buf)
	must.NoError(t, mux.Close())
	_, err := mux.Write([]byte("x"))
	must.Error(t, err)
}

// lockedWriter guards an underlying writer so the test can assert
// byte-for-byte totals without worrying about bytes.Buffer's own
// non-thread-safety under concurrent access outside InputMux's serialization.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
