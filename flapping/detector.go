// Package flapping implements the FlappingDetector of spec.md §4.3: a
// per-template sliding-window counter of unexpected exits that trips into a
// deferred-retry state and, eventually, a stopped_flapping state.
package flapping

import (
	"sync"
	"time"

	"github.com/benoitc/gaffer/template"
)

// Verdict is returned by Detector.RecordExit, telling the caller what the
// Manager should do next.
type Verdict int

const (
	// Continue means convergence may spawn a replacement immediately.
	Continue Verdict = iota
	// Retrying means the Manager must defer the next spawn by RetryDelay.
	Retrying
	// StoppedFlapping means MaxRetry was exhausted; the template should be
	// marked stopped and a stopped_flapping event emitted exactly once.
	StoppedFlapping
)

// Window is the runtime, per-template sliding-window state (spec.md §3
// "FlappingWindow").
type Window struct {
	mu sync.Mutex

	policy template.FlappingPolicy

	exits      []time.Time // unexpected-exit timestamps within policy.Window
	retryCount int
	tripped    bool
	stoppedAt  *time.Time
}

// NewWindow constructs a Window for policy. A disabled policy's Window
// never trips.
func NewWindow(policy template.FlappingPolicy) *Window {
	return &Window{policy: policy}
}

// RetryDelay is the deferred-retry delay to apply after a trip.
func (w *Window) RetryDelay() time.Duration { return w.policy.RetryIn }

// RecordExit registers an unexpected exit at t and returns the resulting
// verdict. Expected exits (stop/scale-down/unload/reload-initiated, or a
// clean exit within the template's graceful_timeout of such a request)
// must not be passed here — see IsUnexpected.
func (w *Window) RecordExit(t time.Time) Verdict {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.policy.Enabled() {
		return Continue
	}

	cutoff := t.Add(-w.policy.Window)
	kept := w.exits[:0]
	for _, e := range w.exits {
		if e.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.exits = append(kept, t)

	if len(w.exits) < w.policy.Attempts {
		return Continue
	}

	// Trip: attempts reached within the window. The window itself is not
	// cleared here — only a long-lived run (RecordLongLivedRun) resets the
	// failure count, so a further exit inside the same window re-trips
	// immediately rather than requiring a fresh full batch of attempts.
	w.tripped = true
	w.retryCount++
	if w.retryCount > w.policy.MaxRetry {
		return StoppedFlapping
	}
	return Retrying
}

// RecordLongLivedRun resets the failure counter when an instance stays
// alive longer than policy.Window (spec.md §4.3: "Any instance that stays
// alive longer than window resets the failure counter").
func (w *Window) RecordLongLivedRun() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exits = nil
	w.retryCount = 0
	w.tripped = false
}

// Tripped reports whether the window is currently in a tripped state
// (Retrying or StoppedFlapping was the last verdict).
func (w *Window) Tripped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tripped
}

// Detector owns one Window per qualified template name.
type Detector struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewDetector constructs an empty Detector.
func NewDetector() *Detector {
	return &Detector{windows: make(map[string]*Window)}
}

// WindowFor returns (creating if necessary) the Window for qname under
// policy. Calling it again with a changed policy (e.g. after updateTemplate)
// replaces the window's policy and keeps its recorded exits and retry count.
func (d *Detector) WindowFor(qname string, policy template.FlappingPolicy) *Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[qname]
	if !ok {
		w = NewWindow(policy)
		d.windows[qname] = w
		return w
	}
	w.mu.Lock()
	w.policy = policy
	w.mu.Unlock()
	return w
}

// Forget drops the Window for qname, called on unloadTemplate.
func (d *Detector) Forget(qname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, qname)
}

// IsUnexpected implements spec.md §4.3's definition of an unexpected exit:
// not explicitly requested by the Manager, and not a clean (status 0) exit
// within gracefulTimeout of such a request.
func IsUnexpected(requested bool, exitStatus int, requestedAt, exitedAt time.Time, gracefulTimeout time.Duration) bool {
	if !requested {
		return true
	}
	return !(exitStatus == 0 && exitedAt.Sub(requestedAt) <= gracefulTimeout)
}
