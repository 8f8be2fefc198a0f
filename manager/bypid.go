package manager

import (
	"fmt"
	"syscall"

	"github.com/benoitc/gaffer/instance"
	"github.com/benoitc/gaffer/procstats"
)

// Instance returns the live Instance for an internal pid, used by the
// `/<pid>` family of endpoints (spec.md §6) which address instances
// directly rather than through their owning template.
func (m *Manager) Instance(pid int64) (*instance.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[pid]
	return in, ok
}

// PIDs returns every internal pid currently tracked, supervised or one-off
// (spec.md §6 `GET /pids`).
func (m *Manager) PIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.instances))
	for pid := range m.instances {
		out = append(out, pid)
	}
	return out
}

// StopPID requests termination of a single instance by internal pid
// (spec.md §6 `DELETE /<pid>`), independent of its owning template's scale.
func (m *Manager) StopPID(pid int64) error {
	in, ok := m.Instance(pid)
	if !ok {
		return errNotFound
	}
	if err := in.Stop(0); err != nil {
		return err
	}
	payload := map[string]any{"pid": pid, "name": in.QName}
	m.emitter.Publish("stop_pid", payload)
	m.emitter.Publish(fmt.Sprintf("proc.%s.stop_pid", in.QName), payload)
	return nil
}

// SignalPID delivers sig directly to a single instance (spec.md §6
// `POST /<pid>/signal`).
func (m *Manager) SignalPID(pid int64, sig syscall.Signal) error {
	in, ok := m.Instance(pid)
	if !ok {
		return errNotFound
	}
	return in.Signal(sig)
}

// StatsPID samples a single instance's process tree (spec.md §6
// `GET /<pid>/stats`).
func (m *Manager) StatsPID(pid int64) (procstats.Aggregate, error) {
	in, ok := m.Instance(pid)
	if !ok || in.State() != instance.Running {
		return procstats.Aggregate{}, errNotFound
	}
	col, err := procstats.NewCollector(int32(in.OSPID()))
	if err != nil {
		return procstats.Aggregate{}, err
	}
	sample, err := col.Sample()
	if err != nil {
		return procstats.Aggregate{}, err
	}
	agg := procstats.Aggregate{CPUPercent: sample.CPUPercent, RSSBytes: sample.RSSBytes}
	if children, err := procstats.Descendants(in.OSPID()); err == nil {
		for _, cpid := range children {
			ccol, err := procstats.NewCollector(int32(cpid))
			if err != nil {
				continue
			}
			if cs, err := ccol.Sample(); err == nil {
				agg.Children = append(agg.Children, cs)
				agg.CPUPercent += cs.CPUPercent
				agg.RSSBytes += cs.RSSBytes
			}
		}
	}
	return agg, nil
}
