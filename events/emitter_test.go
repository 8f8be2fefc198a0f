package events

import (
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"
)

type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingListener) Deliver(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingListener) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestEmitter_ExactTopic(t *testing.T) {
	e := New(nil)
	lis := &recordingListener{}
	_, err := e.Subscribe("proc.dummy.exit", lis, SubscribeOptions{})
	must.NoError(t, err)

	e.Publish("proc.dummy.exit", map[string]any{"pid": 1})
	e.Publish("proc.other.exit", map[string]any{"pid": 2})

	waitFor(t, func() bool { return len(lis.snapshot()) == 1 })
	must.Eq(t, "proc.dummy.exit", lis.snapshot()[0].Topic)
}

func TestEmitter_WildcardSegment(t *testing.T) {
	e := New(nil)
	lis := &recordingListener{}
	_, err := e.Subscribe("proc.*.spawn", lis, SubscribeOptions{})
	must.NoError(t, err)

	e.Publish("proc.web.spawn", nil)
	e.Publish("proc.worker.spawn", nil)
	e.Publish("proc.web.exit", nil) // must not match

	waitFor(t, func() bool { return len(lis.snapshot()) == 2 })
}

func TestEmitter_UnsubscribeIsSynchronous(t *testing.T) {
	e := New(nil)
	lis := &recordingListener{}
	id, err := e.Subscribe("stream.1.out", lis, SubscribeOptions{})
	must.NoError(t, err)

	e.Publish("stream.1.out", "a")
	waitFor(t, func() bool { return len(lis.snapshot()) == 1 })

	e.Unsubscribe(id)
	e.Publish("stream.1.out", "b")
	time.Sleep(20 * time.Millisecond)
	must.Eq(t, 1, len(lis.snapshot()))
}

func TestEmitter_OverflowDropOldest(t *testing.T) {
	e := New(nil)
	blocker := make(chan struct{})
	released := false
	lis := ListenerFunc(func(ev Event) {
		if !released {
			<-blocker
		}
	})
	_, err := e.Subscribe("stats.1", lis, SubscribeOptions{QueueSize: 2, Overflow: DropOldest})
	must.NoError(t, err)

	for i := 0; i < 10; i++ {
		e.Publish("stats.1", i)
	}
	released = true
	close(blocker)
}

func TestEmitter_PerSubscriberOrderPreserved(t *testing.T) {
	e := New(nil)
	lis := &recordingListener{}
	_, err := e.Subscribe("stream.7.out", lis, SubscribeOptions{QueueSize: 100})
	must.NoError(t, err)

	for i := 0; i < 50; i++ {
		e.Publish("stream.7.out", i)
	}

	waitFor(t, func() bool { return len(lis.snapshot()) == 50 })
	evs := lis.snapshot()
	for i, ev := range evs {
		must.Eq(t, i, ev.Payload)
	}
}
