package manager

import (
	"fmt"
	"syscall"
	"time"

	"github.com/benoitc/gaffer/gerrors"
	"github.com/benoitc/gaffer/instance"
	"github.com/benoitc/gaffer/template"
	"github.com/hashicorp/go-uuid"
)

// LoadTemplate registers a new ProcessTemplate under session (spec.md §4.1
// `loadTemplate`). The template starts Active, so if NumProcesses > 0 this
// immediately converges and spawns toward the target count.
func (m *Manager) LoadTemplate(session string, spec template.Spec) (string, error) {
	return do(m, func() (string, error) {
		tpl, err := template.New(session, spec)
		if err != nil {
			return "", err
		}
		qname := tpl.QualifiedName()

		m.mu.Lock()
		if _, exists := m.entries[qname]; exists {
			m.mu.Unlock()
			return "", gerrors.AlreadyExistsf("template %q already registered", qname)
		}
		m.entries[qname] = &entry{tpl: tpl, runningTimers: make(map[int64]*time.Timer)}
		m.mu.Unlock()

		m.sess.Add(session, spec.Name)
		m.emitter.Publish("create", map[string]any{"name": qname})
		m.reconcile(qname)
		return qname, nil
	})
}

// UpdateTemplate replaces the Spec for an already-registered template
// (spec.md §4.1 `updateTemplate`). If the change touches any of
// template.MaterialFields, every existing instance of that template is
// respawned under the new spec; otherwise already-running instances are left
// untouched and only future spawns see the new spec.
func (m *Manager) UpdateTemplate(qname string, next template.Spec) error {
	_, err := do(m, func() (struct{}, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return struct{}{}, errNotFound
		}
		next, err := template.Validate(next)
		if err != nil {
			return struct{}{}, err
		}
		material := template.MaterialDiff(e.tpl.Spec, next)
		e.tpl.Spec = next

		if material {
			toRespawn := append([]int64(nil), e.order...)
			for _, pid := range toRespawn {
				m.stopInstanceLocked(e, pid, syscall.SIGTERM)
			}
		}
		m.emitter.Publish("update", map[string]any{"name": qname, "material": material})
		m.reconcile(qname)
		return struct{}{}, nil
	})
	return err
}

// UnloadTemplate drains and removes a template (spec.md §4.1
// `unloadTemplate`): it transitions to Draining, stops every running
// instance, and waits for the drain to finish before deregistering. The wait
// is bounded by the template's graceful_timeout plus instance.ForcedKillGrace
// plus one second; the template is deregistered once that bound elapses even
// if the drain has not finished.
func (m *Manager) UnloadTemplate(qname string) error {
	e, ok := m.entryFor(qname)
	if !ok {
		return errNotFound
	}

	waitCh, err := do(m, func() (chan struct{}, error) {
		e.tpl.State = template.Draining
		e.draining = true
		ch := make(chan struct{})
		if len(e.order) == 0 {
			close(ch)
			return ch, nil
		}
		e.drainNotify = append(e.drainNotify, ch)
		for _, pid := range append([]int64(nil), e.order...) {
			m.stopInstanceLocked(e, pid, syscall.SIGTERM)
		}
		return ch, nil
	})
	if err != nil {
		return err
	}

	select {
	case <-waitCh:
	case <-time.After(e.tpl.Spec.GracefulTimeout + instance.ForcedKillGrace + time.Second):
	}

	_, err = do(m, func() (struct{}, error) {
		m.mu.Lock()
		delete(m.entries, qname)
		m.mu.Unlock()
		m.sess.Remove(e.tpl.Session, e.tpl.Spec.Name)
		m.flap.Forget(qname)
		m.emitter.Publish("delete", map[string]any{"name": qname})
		return struct{}{}, nil
	})
	return err
}

// ScaleRequest describes a `scale` call: exactly one of Delta or Absolute
// should be set (spec.md §4.1 `scale`).
type ScaleRequest struct {
	Delta    *int
	Absolute *int
}

// Scale adjusts NumProcesses and triggers convergence, returning the new
// target count.
func (m *Manager) Scale(qname string, req ScaleRequest) (int, error) {
	return do(m, func() (int, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return 0, errNotFound
		}
		switch {
		case req.Absolute != nil:
			if *req.Absolute < 0 {
				return 0, gerrors.InvalidSpec("numprocesses", "must be >= 0")
			}
			e.tpl.Spec.NumProcesses = *req.Absolute
		case req.Delta != nil:
			n := e.tpl.Spec.NumProcesses + *req.Delta
			if n < 0 {
				n = 0
			}
			e.tpl.Spec.NumProcesses = n
		default:
			return 0, gerrors.InvalidSpec("scale", "one of delta or absolute is required")
		}
		m.reconcile(qname)
		return e.tpl.Spec.NumProcesses, nil
	})
}

// Start activates qname (spec.md §4.1 `start`), allowing convergence to
// spawn toward NumProcesses.
func (m *Manager) Start(qname string) error {
	_, err := do(m, func() (struct{}, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return struct{}{}, errNotFound
		}
		switch e.tpl.State {
		case template.Paused, template.Draining, template.StoppedFlapping:
			e.tpl.State = template.Active
			e.retryUntil = time.Time{}
		}
		m.reconcile(qname)
		m.emitter.Publish("start", map[string]any{"name": qname})
		m.emitter.Publish(fmt.Sprintf("proc.%s.start", qname), map[string]any{"name": qname})
		return struct{}{}, nil
	})
	return err
}

// StartAll activates and converges every registered template in ascending
// (priority, registration-time) order (spec.md §4.1 "Scheduling
// discipline"), used by ApplicationHost at boot. Because each template's
// instances are spawned synchronously, in priority order, before moving to
// the next template, the spawn events StartAll itself causes are observed in
// the same strict order. A template already at its target (as after
// LoadTemplate, which spawns immediately) spawns nothing here.
func (m *Manager) StartAll() error {
	for _, qname := range m.sortedQualifiedNames() {
		if err := m.Start(qname); err != nil {
			return err
		}
	}
	return nil
}

// Stop pauses qname: no further spawns are scheduled, and every running
// instance is sent a graceful stop (spec.md §4.1 `stop`). The template
// remains registered.
func (m *Manager) Stop(qname string) error {
	_, err := do(m, func() (struct{}, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return struct{}{}, errNotFound
		}
		e.tpl.State = template.Paused
		for _, pid := range append([]int64(nil), e.order...) {
			m.stopInstanceLocked(e, pid, syscall.SIGTERM)
		}
		m.emitter.Publish("stop", map[string]any{"name": qname})
		m.emitter.Publish(fmt.Sprintf("proc.%s.stop", qname), map[string]any{"name": qname})
		return struct{}{}, nil
	})
	return err
}

// Reload stops then restarts every instance of qname under its current spec
// (spec.md §4.1 `reload`), without touching NumProcesses.
func (m *Manager) Reload(qname string) error {
	_, err := do(m, func() (struct{}, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return struct{}{}, errNotFound
		}
		for _, pid := range append([]int64(nil), e.order...) {
			m.stopInstanceLocked(e, pid, syscall.SIGTERM)
		}
		m.reconcile(qname)
		m.emitter.Publish("restart", map[string]any{"name": qname})
		return struct{}{}, nil
	})
	return err
}

// Signal delivers sig to every running instance of qname, or to a single
// instance if pid is non-nil (spec.md §4.1 `signal`).
func (m *Manager) Signal(qname string, pid *int64, sig syscall.Signal) error {
	_, err := do(m, func() (struct{}, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return struct{}{}, errNotFound
		}
		targets := e.order
		if pid != nil {
			targets = []int64{*pid}
		}
		for _, p := range targets {
			m.mu.RLock()
			in := m.instances[p]
			m.mu.RUnlock()
			if in != nil {
				_ = in.Signal(sig)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// CommitResult is the outcome of a one-off `commit` spawn.
type CommitResult struct {
	PID   int64
	Token string
}

// Commit spawns a single unsupervised, one-off instance outside the managed
// pool (spec.md §4.1 `commit`): it is never restarted, never counted toward
// NumProcesses, and not tracked by the FlappingDetector. Token is a unique
// identifier the caller can use to correlate the resulting spawn/exit events.
func (m *Manager) Commit(session string, spec template.Spec) (CommitResult, error) {
	spec, err := template.Validate(spec)
	if err != nil {
		return CommitResult{}, err
	}
	token, err := uuid.GenerateUUID()
	if err != nil {
		return CommitResult{}, err
	}
	qname := template.Qualify(session, spec.Name)

	pid, err := do(m, func() (int64, error) {
		return m.nextInternalPID(), nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	in := instance.New(pid, qname, spec, false, m.log)
	m.mu.Lock()
	m.instances[pid] = in
	m.mu.Unlock()

	m.emitter.Publish(fmt.Sprintf("commit.%s.requested", qname), map[string]any{"pid": pid, "token": token})
	if err := in.Spawn(m.emitter, func(done *instance.Instance) {
		m.cmdCh <- func() {
			m.mu.Lock()
			delete(m.instances, done.PID)
			m.mu.Unlock()
		}
	}); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{PID: pid, Token: token}, nil
}

// Monitor subscribes listener to pattern on the Manager's EventEmitter
// (spec.md §4.1 `monitor`), returning a subscription id for Unmonitor.
func (m *Manager) Monitor(pattern string, listener func(topic string, payload any)) (string, error) {
	return m.emitter.Subscribe(pattern, eventsListenerFunc(listener), defaultSubscribeOptions())
}

// Unmonitor cancels a subscription created by Monitor.
func (m *Manager) Unmonitor(subID string) {
	m.emitter.Unsubscribe(subID)
}

// stopInstanceLocked requests termination of pid, expected to be called
// from within the loop goroutine (e.g. from inside a do() callback).
func (m *Manager) stopInstanceLocked(e *entry, pid int64, sig syscall.Signal) {
	m.mu.RLock()
	in := m.instances[pid]
	m.mu.RUnlock()
	if in == nil {
		return
	}
	if w := e.runningTimers[pid]; w != nil {
		w.Stop()
		delete(e.runningTimers, pid)
	}
	_ = in.Stop(sig)
}
