// Package manager implements the Manager of spec.md §4.1: the template
// registry and scheduler. All registry mutation is confined to a single
// "loop" goroutine (spec.md §5); public methods are thread-safe entry
// points that enqueue a command and block for its result, the same
// thread-safety contract the teacher's single-threaded-reactor-plus-
// channel-entry-points design promises its callers.
package manager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/flapping"
	"github.com/benoitc/gaffer/gerrors"
	"github.com/benoitc/gaffer/instance"
	"github.com/benoitc/gaffer/template"
	"github.com/hashicorp/go-hclog"
)

// entry tracks one registered template plus its live/ordered instances.
type entry struct {
	tpl *template.Template

	// order is the spawn-order list of internal pids, oldest first, used
	// for LIFO scale-down (spec.md §4.1).
	order []int64

	retryUntil  time.Time // non-zero while Retrying
	draining    bool
	drainNotify []chan struct{}

	runningTimers map[int64]*time.Timer // per-instance "window elapsed" timers
}

// Manager is the concrete spec.md §4.1 Manager.
type Manager struct {
	log     hclog.Logger
	emitter *events.Emitter
	sess    *template.SessionRegistry
	flap    *flapping.Detector

	nextPID int64 // atomic

	cmdCh chan func()
	done  chan struct{}

	mu        sync.RWMutex // guards entries/instances maps themselves (not their contents, which are loop-owned)
	entries   map[string]*entry
	instances map[int64]*instance.Instance
}

// New constructs a Manager publishing to emitter. log may be nil.
func New(emitter *events.Emitter, log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	m := &Manager{
		log:       log.Named("manager"),
		emitter:   emitter,
		sess:      template.NewSessionRegistry(),
		flap:      flapping.NewDetector(),
		cmdCh:     make(chan func(), 256),
		done:      make(chan struct{}),
		entries:   make(map[string]*entry),
		instances: make(map[int64]*instance.Instance),
	}
	go m.loop()
	return m
}

// loop is the Manager's single owner goroutine: every registry mutation,
// every convergence tick, and every instance-reaped callback funnels
// through here, serialized (spec.md §5 "Shared-resource policy").
func (m *Manager) loop() {
	for {
		select {
		case fn := <-m.cmdCh:
			fn()
		case <-m.done:
			return
		}
	}
}

// Close stops the Manager's loop goroutine. It does not terminate running
// instances; callers should UnloadTemplate everything first if a clean
// shutdown is desired (see apphost for the ordering ApplicationHost uses).
func (m *Manager) Close() {
	close(m.done)
}

// do enqueues fn on the loop goroutine and blocks until it has run,
// returning fn's result. This is the thread-safe entry point every public
// Manager method funnels through.
func do[T any](m *Manager, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resCh := make(chan result, 1)
	m.cmdCh <- func() {
		v, err := fn()
		resCh <- result{v, err}
	}
	r := <-resCh
	return r.v, r.err
}

func (m *Manager) nextInternalPID() int64 {
	return atomic.AddInt64(&m.nextPID, 1)
}

// entryFor looks up (without creating) the entry for qname. Must be called
// from the loop goroutine.
func (m *Manager) entryFor(qname string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[qname]
	return e, ok
}

// sortedQualifiedNames returns every registered qualified template name,
// ordered by ascending priority then registration time (spec.md §4.1
// "Scheduling discipline").
func (m *Manager) sortedQualifiedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ei, ej := m.entries[names[i]], m.entries[names[j]]
		if ei.tpl.Spec.Priority != ej.tpl.Spec.Priority {
			return ei.tpl.Spec.Priority < ej.tpl.Spec.Priority
		}
		return ei.tpl.RegisteredAt.Before(ej.tpl.RegisteredAt)
	})
	return names
}

var errNotFound = gerrors.NotFoundf("not found")
