package template

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Template within the Manager's registry.
// It is orthogonal to ProcessInstance's state machine.
type State int

const (
	// Active: spawns are allowed to converge toward NumProcesses.
	Active State = iota
	// Paused: stop() was requested; convergence targets 0 running instances
	// without mutating NumProcesses. New templates start Active, not Paused.
	Paused
	// Retrying: FlappingDetector has deferred spawns.
	Retrying
	// StoppedFlapping: FlappingDetector exhausted MaxRetry.
	StoppedFlapping
	// Draining: unloadTemplate is in progress; no new spawns, existing
	// instances are being terminated.
	Draining
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Retrying:
		return "retrying"
	case StoppedFlapping:
		return "stopped_flapping"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Template is a registered ProcessTemplate: a validated Spec plus the
// session-qualified identity and registry bookkeeping (spec.md §3).
type Template struct {
	Session string
	Spec    Spec

	State       State
	RegisteredAt time.Time
}

// QualifiedName returns "session.name", the user-visible identity used in
// event topics and the HTTP surface (spec.md §9: "do not refactor into a
// nested structure that would change event topic names").
func (t *Template) QualifiedName() string {
	return Qualify(t.Session, t.Spec.Name)
}

// Qualify builds the "session.name" form without requiring a Template.
func Qualify(session, name string) string {
	return fmt.Sprintf("%s.%s", session, name)
}

// New validates spec and constructs a Template registered under session.
func New(session string, spec Spec) (*Template, error) {
	spec, err := Validate(spec)
	if err != nil {
		return nil, err
	}
	return &Template{
		Session:      session,
		Spec:         spec,
		State:        Active,
		RegisteredAt: time.Now(),
	}, nil
}
