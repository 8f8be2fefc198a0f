// Package streammux implements the per-instance stdio fan-out/fan-in
// component of spec.md §4.5: one OutputMux per declared output label
// forwarding OS pipe chunks to the EventEmitter with a bounded backlog ring,
// and one InputMux multiplexing concurrent stdin writers onto a single pipe
// with back-pressure.
package streammux

import (
	"fmt"
	"io"
	"sync"

	"github.com/armon/circbuf"
	"github.com/benoitc/gaffer/events"
	"github.com/hashicorp/go-hclog"
)

// DefaultRingSize is the default per-stream backlog capacity (spec.md §4.5:
// "default 64 KiB").
const DefaultRingSize = 64 * 1024

// Chunk is the wire payload published per spec.md §4.5 under
// stream.<pid>.<label>.
type Chunk struct {
	Data  []byte `json:"data"`
	Label string `json:"label"`
	PID   int64  `json:"pid"`
}

// Topic returns the canonical stream.<pid>.<label> topic for pid/label.
func Topic(pid int64, label string) string {
	return fmt.Sprintf("stream.%d.%s", pid, label)
}

// OutputMux reads raw byte chunks from an OS pipe (stdout/stderr/a custom
// channel) and fans them out to the EventEmitter, preserving each Read's
// original chunk boundaries best-effort (spec.md §4.5).
type OutputMux struct {
	pid     int64
	label   string
	emitter *events.Emitter
	log     hclog.Logger

	mu   sync.Mutex
	ring *circbuf.Buffer
}

// NewOutputMux constructs an OutputMux publishing under pid/label. ringSize
// <= 0 uses DefaultRingSize.
func NewOutputMux(pid int64, label string, emitter *events.Emitter, ringSize int64, log hclog.Logger) (*OutputMux, error) {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	ring, err := circbuf.NewBuffer(ringSize)
	if err != nil {
		return nil, fmt.Errorf("streammux: allocate ring buffer: %w", err)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &OutputMux{pid: pid, label: label, emitter: emitter, ring: ring, log: log.Named("streammux")}, nil
}

// Pump reads from r until EOF or error, publishing each chunk as it arrives.
// It is meant to run in its own goroutine for the lifetime of the instance's
// pipe; it returns the terminal read error (io.EOF included).
func (m *OutputMux) Pump(r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.publish(chunk)
		}
		if err != nil {
			return err
		}
	}
}

func (m *OutputMux) publish(data []byte) {
	m.mu.Lock()
	_, _ = m.ring.Write(data)
	m.mu.Unlock()

	m.emitter.Publish(Topic(m.pid, m.label), Chunk{Data: data, Label: m.label, PID: m.pid})
}

// Backlog returns the current ring buffer contents, for the opt-in replay
// path of spec.md §9 ("stream backlog replay ... opt-in per subscription").
func (m *OutputMux) Backlog() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.ring.Bytes()))
	copy(out, m.ring.Bytes())
	return out
}
