// Package events implements the topic-tree pub/sub bus described in
// spec.md §4.6: dot-separated topics, single-segment wildcard patterns,
// per-subscription bounded queues with a configurable overflow policy, and
// delivery-order guarantees scoped to (topic, subscriber) pairs.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	glob "github.com/ryanuber/go-glob"
)

// Event is the payload delivered to subscribers. Topic is the concrete,
// fully-qualified topic the event was published on (never a pattern).
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// OverflowPolicy decides what happens when a subscriber's queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued event to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the event that was about to be enqueued.
	DropNewest
	// Disconnect unsubscribes the listener and stops delivering to it.
	Disconnect
)

// Listener receives delivered events. Implementations must not block for
// long; the emitter calls Deliver on a per-subscription goroutine, so a slow
// listener only delays its own queue, never the publisher or other
// subscribers.
type Listener interface {
	Deliver(Event)
}

// ListenerFunc adapts a function to the Listener capability.
type ListenerFunc func(Event)

func (f ListenerFunc) Deliver(e Event) { f(e) }

// SubscribeOptions configures a subscription's queue and heartbeat.
type SubscribeOptions struct {
	QueueSize int // default 256
	Overflow  OverflowPolicy
	// Heartbeat, if non-zero, causes an Event with an empty Topic, a nil
	// Payload and the current Timestamp to be delivered on this cadence.
	// It is delivered on every tick, whether or not real events were
	// delivered since the previous one.
	Heartbeat time.Duration
}

type subscription struct {
	id       string
	pattern  []string
	listener Listener
	opts     SubscribeOptions

	mu       sync.Mutex
	queue    []Event
	notEmpty chan struct{}
	closed   bool

	cancel context.CancelFunc
}

// Emitter is the concrete EventEmitter.
type Emitter struct {
	log hclog.Logger

	mu   sync.RWMutex
	subs map[string]*subscription

	recMu     sync.Mutex
	recording bool
	recent    map[string][]Event
	recentCap int
}

// New constructs an Emitter. log may be nil, in which case a discarding
// logger is used.
func New(log hclog.Logger) *Emitter {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Emitter{
		log:       log.Named("events"),
		subs:      make(map[string]*subscription),
		recent:    make(map[string][]Event),
		recentCap: 64,
	}
}

func splitTopic(topic string) []string { return strings.Split(topic, ".") }

func matches(pattern, topic []string) bool {
	if len(pattern) != len(topic) {
		return false
	}
	for i, seg := range pattern {
		if !glob.Glob(seg, topic[i]) {
			return false
		}
	}
	return true
}

// Subscribe registers pattern (a dot-path, each segment either literal or
// the single-segment wildcard "*") against listener and returns a
// subscription id usable with Unsubscribe. Safe to call concurrently with
// Publish.
func (e *Emitter) Subscribe(pattern string, listener Listener, opts SubscribeOptions) (string, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id:       id,
		pattern:  splitTopic(pattern),
		listener: listener,
		opts:     opts,
		notEmpty: make(chan struct{}, 1),
		cancel:   cancel,
	}

	e.mu.Lock()
	e.subs[id] = sub
	e.mu.Unlock()

	go e.pump(ctx, sub)
	if opts.Heartbeat > 0 {
		go e.heartbeat(ctx, sub)
	}

	e.log.Trace("subscribed", "pattern", pattern, "id", id)
	return id, nil
}

// Unsubscribe removes a subscription. It is synchronous: once it returns,
// the listener is guaranteed to receive no further events (spec.md §8).
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	sub, ok := e.subs[id]
	if ok {
		delete(e.subs, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.cancel()
}

// Publish delivers an event to every matching subscription. Publish never
// blocks on a slow subscriber: it enqueues per the subscription's bounded
// queue and overflow policy, then returns.
func (e *Emitter) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	segs := splitTopic(topic)

	e.recordIfEnabled(topic, ev)

	e.mu.RLock()
	targets := make([]*subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		if matches(sub.pattern, segs) {
			targets = append(targets, sub)
		}
	}
	e.mu.RUnlock()

	for _, sub := range targets {
		e.enqueue(sub, ev)
	}
}

func (e *Emitter) enqueue(sub *subscription, ev Event) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	if len(sub.queue) >= sub.opts.QueueSize {
		switch sub.opts.Overflow {
		case DropOldest:
			sub.queue = append(sub.queue[1:], ev)
		case DropNewest:
			// drop ev, keep queue as-is
		case Disconnect:
			sub.closed = true
			sub.mu.Unlock()
			e.log.Warn("subscriber queue overflow, disconnecting", "id", sub.id, "topic", ev.Topic)
			go func() { e.Unsubscribe(sub.id) }()
			return
		}
	} else {
		sub.queue = append(sub.queue, ev)
	}
	sub.mu.Unlock()

	select {
	case sub.notEmpty <- struct{}{}:
	default:
	}
}

func (e *Emitter) pump(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.notEmpty:
		}
		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			ev := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()
			sub.listener.Deliver(ev)
		}
	}
}

func (e *Emitter) heartbeat(ctx context.Context, sub *subscription) {
	t := time.NewTicker(sub.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sub.listener.Deliver(Event{Timestamp: time.Now()})
		}
	}
}

// SubscriberCount returns how many live subscriptions currently match
// pattern, with wildcards honored on either side (used by the stats
// sampler's gating logic, §4.4).
func (e *Emitter) SubscriberCount(pattern string) int {
	segs := splitTopic(pattern)
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, sub := range e.subs {
		if matches(sub.pattern, segs) || matches(segs, sub.pattern) {
			n++
		}
	}
	return n
}
