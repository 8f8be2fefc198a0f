package manager

import (
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/flapping"
	"github.com/benoitc/gaffer/instance"
	"github.com/benoitc/gaffer/template"
)

// reconcile drives qname's running instance count toward its target,
// spawning or stopping as needed (spec.md §4.1 "Convergence loop"). It must
// be called from the loop goroutine.
func (m *Manager) reconcile(qname string) {
	e, ok := m.entryFor(qname)
	if !ok {
		return
	}
	if e.draining {
		m.checkDrainComplete(e)
		return
	}
	if e.tpl.State == template.Retrying && m.retryGateOpen(e) {
		e.tpl.State = template.Active
	}

	target := 0
	if e.tpl.State == template.Active {
		target = e.tpl.Spec.NumProcesses
	}

	running := len(e.order)
	switch {
	case running < target:
		if !m.retryGateOpen(e) {
			return
		}
		for i := running; i < target; i++ {
			m.spawnOne(e)
		}
	case running > target:
		// LIFO: stop the most recently spawned instances first.
		toStop := e.order[target:]
		for _, pid := range append([]int64(nil), toStop...) {
			m.stopInstanceLocked(e, pid, 0)
		}
	}
}

// retryGateOpen reports whether enough time has passed since a flapping trip
// to attempt another spawn.
func (m *Manager) retryGateOpen(e *entry) bool {
	if e.retryUntil.IsZero() {
		return true
	}
	if time.Now().Before(e.retryUntil) {
		return false
	}
	e.retryUntil = time.Time{}
	return true
}

func (m *Manager) spawnOne(e *entry) {
	qname := e.tpl.QualifiedName()
	pid := m.nextInternalPID()
	in := instance.New(pid, qname, e.tpl.Spec, true, m.log)

	m.mu.Lock()
	m.instances[pid] = in
	m.mu.Unlock()
	e.order = append(e.order, pid)

	if err := in.Spawn(m.emitter, func(done *instance.Instance) { m.onInstanceReaped(qname, done) }); err != nil {
		e.order = removePID(e.order, pid)
		m.mu.Lock()
		delete(m.instances, pid)
		m.mu.Unlock()
		m.log.Warn("spawn failed", "template", qname, "pid", pid, "error", err)
		return
	}

	if e.tpl.Spec.Flapping.Enabled() {
		win := e.tpl.Spec.Flapping.Window
		e.runningTimers[pid] = time.AfterFunc(win, func() {
			m.cmdCh <- func() {
				m.flap.WindowFor(qname, e.tpl.Spec.Flapping).RecordLongLivedRun()
			}
		})
	}
}

// onInstanceReaped is the Instance reapedCB, invoked from the instance's own
// reap goroutine; it re-enters the loop goroutine to keep every registry
// mutation serialized (spec.md §5).
func (m *Manager) onInstanceReaped(qname string, in *instance.Instance) {
	m.cmdCh <- func() {
		e, ok := m.entryFor(qname)
		if !ok {
			m.mu.Lock()
			delete(m.instances, in.PID)
			m.mu.Unlock()
			return
		}

		if timer := e.runningTimers[in.PID]; timer != nil {
			timer.Stop()
			delete(e.runningTimers, in.PID)
		}
		e.order = removePID(e.order, in.PID)

		m.mu.Lock()
		delete(m.instances, in.PID)
		m.mu.Unlock()

		requested, requestedAt := in.WasRequested()
		info := in.ExitInfo()
		exitStatus := -1
		if info != nil {
			exitStatus = info.ExitStatus
		}
		unexpected := flapping.IsUnexpected(requested, exitStatus, requestedAt, time.Now(), e.tpl.Spec.GracefulTimeout)

		if unexpected && e.tpl.Spec.Flapping.Enabled() {
			verdict := m.flap.WindowFor(qname, e.tpl.Spec.Flapping).RecordExit(time.Now())
			switch verdict {
			case flapping.Retrying:
				e.tpl.State = template.Retrying
				e.retryUntil = time.Now().Add(e.tpl.Spec.Flapping.RetryIn)
				m.emitter.Publish("retrying", map[string]any{"name": qname})
				time.AfterFunc(e.tpl.Spec.Flapping.RetryIn, func() { m.cmdCh <- func() { m.reconcile(qname) } })
			case flapping.StoppedFlapping:
				e.tpl.State = template.StoppedFlapping
				m.emitter.Publish("stopped_flapping", map[string]any{"name": qname})
			}
		}

		if e.draining {
			m.checkDrainComplete(e)
			return
		}

		if e.tpl.State != template.StoppedFlapping {
			m.reconcile(qname)
		}
	}
}

func (m *Manager) checkDrainComplete(e *entry) {
	if len(e.order) != 0 {
		return
	}
	for _, ch := range e.drainNotify {
		close(ch)
	}
	e.drainNotify = nil
}

func removePID(list []int64, pid int64) []int64 {
	out := list[:0]
	for _, p := range list {
		if p != pid {
			out = append(out, p)
		}
	}
	return out
}

func eventsListenerFunc(fn func(topic string, payload any)) events.Listener {
	return events.ListenerFunc(func(ev events.Event) { fn(ev.Topic, ev.Payload) })
}

func defaultSubscribeOptions() events.SubscribeOptions {
	return events.SubscribeOptions{QueueSize: 256, Overflow: events.DropOldest}
}
