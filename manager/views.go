package manager

import (
	"github.com/benoitc/gaffer/instance"
	"github.com/benoitc/gaffer/procstats"
	"github.com/benoitc/gaffer/template"
)

// TemplateView is the read-only snapshot returned by ListTemplates, from
// which the `/jobs` family of HTTP handlers builds its responses.
type TemplateView struct {
	Name         string
	Session      string
	State        string
	NumProcesses int
	Running      int
	Spec         template.Spec
}

// ListTemplates returns a snapshot of every registered template.
func (m *Manager) ListTemplates() ([]TemplateView, error) {
	return do(m, func() ([]TemplateView, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]TemplateView, 0, len(m.entries))
		for qname, e := range m.entries {
			out = append(out, TemplateView{
				Name:         qname,
				Session:      e.tpl.Session,
				State:        e.tpl.State.String(),
				NumProcesses: e.tpl.Spec.NumProcesses,
				Running:      len(e.order),
				Spec:         e.tpl.Spec,
			})
		}
		return out, nil
	})
}

// InstanceView is the read-only snapshot returned by ListInstances.
type InstanceView struct {
	PID        int64
	QName      string
	State      string
	OSPID      int
	Supervised bool
}

// ListInstances returns a snapshot of every instance of qname, or every
// instance in the Manager if qname is empty.
func (m *Manager) ListInstances(qname string) ([]InstanceView, error) {
	return do(m, func() ([]InstanceView, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]InstanceView, 0, len(m.instances))
		for _, in := range m.instances {
			if qname != "" && in.QName != qname {
				continue
			}
			out = append(out, InstanceView{
				PID:        in.PID,
				QName:      in.QName,
				State:      in.State().String(),
				OSPID:      in.OSPID(),
				Supervised: in.Supervised,
			})
		}
		return out, nil
	})
}

// GetStats samples CPU/memory for every running instance of qname plus its
// descendant OS processes (spec.md §6 `GET /jobs/<name>/stats`). Sampling is
// one-shot and unconditional: it reads each process directly through a
// procstats.Collector, independent of whether any caller is currently
// streaming the live stats.<pid> topic.
func (m *Manager) GetStats(qname string) (map[int64]procstats.Aggregate, error) {
	views, err := do(m, func() ([]instanceHandle, error) {
		e, ok := m.entryFor(qname)
		if !ok {
			return nil, errNotFound
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]instanceHandle, 0, len(e.order))
		for _, pid := range e.order {
			if in, ok := m.instances[pid]; ok && in.State() == instance.Running {
				out = append(out, instanceHandle{pid: pid, osPID: in.OSPID()})
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	result := make(map[int64]procstats.Aggregate, len(views))
	for _, v := range views {
		col, err := procstats.NewCollector(int32(v.osPID))
		if err != nil {
			continue
		}
		sample, err := col.Sample()
		if err != nil {
			continue
		}
		agg := procstats.Aggregate{CPUPercent: sample.CPUPercent, RSSBytes: sample.RSSBytes}
		if children, err := procstats.Descendants(v.osPID); err == nil {
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
		result[v.pid] = agg
	}
	return result, nil
}

type instanceHandle struct {
	pid   int64
	osPID int
}
