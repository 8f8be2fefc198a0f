package events

import (
	"io"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
)

// wireEvent is the msgpack-serializable projection of Event; Payload is
// carried as-is and must itself be msgpack-encodable for Snapshot/Replay to
// round-trip it (lifecycle payloads in this package always are: plain maps
// and structs of primitives).
type wireEvent struct {
	Topic     string
	Payload   any
	UnixNanos int64
}

var msgpackHandle = &msgpack.MsgpackHandle{}

// EnableRecording turns on the bounded per-topic recent-event ring
// used by Snapshot. Recording is off by default; this is a debug aid (see
// SPEC_FULL.md §2), not part of the delivery guarantees in spec.md §4.6.
func (e *Emitter) EnableRecording(capacityPerTopic int) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.recording = true
	if capacityPerTopic > 0 {
		e.recentCap = capacityPerTopic
	}
}

func (e *Emitter) recordIfEnabled(topic string, ev Event) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if !e.recording {
		return
	}
	ring := e.recent[topic]
	ring = append(ring, ev)
	if len(ring) > e.recentCap {
		ring = ring[len(ring)-e.recentCap:]
	}
	e.recent[topic] = ring
}

// Snapshot msgpack-encodes the current recent-event rings to w.
func (e *Emitter) Snapshot(w io.Writer) error {
	e.recMu.Lock()
	out := make([]wireEvent, 0)
	for _, ring := range e.recent {
		for _, ev := range ring {
			out = append(out, wireEvent{Topic: ev.Topic, Payload: ev.Payload, UnixNanos: ev.Timestamp.UnixNano()})
		}
	}
	e.recMu.Unlock()

	enc := msgpack.NewEncoder(w, msgpackHandle)
	return enc.Encode(out)
}

// Replay decodes a prior Snapshot and republishes each event in snapshot
// order: events of one topic keep their recorded order, while the order of
// topics relative to each other is not defined. It is intended for post-mortem debugging, not production replay:
// subscribers observe these as freshly-published events on their original
// topics.
func Replay(r io.Reader, into *Emitter) error {
	dec := msgpack.NewDecoder(r, msgpackHandle)
	var wire []wireEvent
	if err := dec.Decode(&wire); err != nil {
		return err
	}
	for _, w := range wire {
		into.Publish(w.Topic, w.Payload)
	}
	return nil
}
