// Package apphost implements the ApplicationHost of spec.md §4.7: a
// supervisor for auxiliary long-lived collaborators (HTTP server, webhook
// dispatcher, scheduler) that is started after the Manager is live and
// stopped before the Manager tears down its instances.
package apphost

import (
	"fmt"
	"sync"

	"github.com/benoitc/gaffer/manager"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Capability is one auxiliary collaborator managed by a Host (spec.md §4.7:
// "Each exposes three operations").
type Capability interface {
	Name() string
	Start(m *manager.Manager) error
	Stop() error
	Restart(m *manager.Manager) error
}

// Host is the concrete ApplicationHost.
type Host struct {
	log hclog.Logger

	mu     sync.Mutex
	apps   []Capability
	failed map[string]error
}

// New constructs an empty Host. log may be nil.
func New(log hclog.Logger) *Host {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Host{log: log.Named("apphost"), failed: make(map[string]error)}
}

// Register adds cap to the host. Must be called before StartAll.
func (h *Host) Register(cap Capability) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.apps = append(h.apps, cap)
}

// StartAll starts every registered capability against m. A failing
// capability is marked failed and logged but does not abort startup of the
// remaining capabilities or the Manager itself (spec.md §4.7).
func (h *Host) StartAll(m *manager.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cap := range h.apps {
		if err := cap.Start(m); err != nil {
			h.failed[cap.Name()] = err
			h.log.Error("capability failed to start", "name", cap.Name(), "error", err)
			continue
		}
		delete(h.failed, cap.Name())
	}
}

// Failed reports the error a capability's Start returned, if any.
func (h *Host) Failed(name string) (error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	err, ok := h.failed[name]
	return err, ok
}

// StopAll stops every registered capability, in reverse registration order,
// aggregating failures into a single error.
func (h *Host) StopAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var result *multierror.Error
	for i := len(h.apps) - 1; i >= 0; i-- {
		cap := h.apps[i]
		if err := cap.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", cap.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// RestartAll restarts every registered capability against m.
func (h *Host) RestartAll(m *manager.Manager) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var result *multierror.Error
	for _, cap := range h.apps {
		if err := cap.Restart(m); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", cap.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
