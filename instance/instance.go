package instance

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/streammux"
	"github.com/benoitc/gaffer/template"
	"github.com/hashicorp/go-hclog"
)

// ForcedKillGrace bounds how long Instance waits for the OS to reap a
// process after escalating to SIGKILL before giving up and releasing
// resources anyway (spec.md §8: "no instance remains in TERMINATING longer
// than graceful_timeout + forced_kill_grace").
const ForcedKillGrace = 5 * time.Second

// Instance is a single ProcessInstance (spec.md §3): a live or
// just-terminated child process, its template snapshot, and its stdio
// multiplexers. All state transitions are serialized by mu.
type Instance struct {
	PID          int64 // manager-internal monotonic id, never reused
	QName        string
	Spec         template.Spec
	Supervised   bool // false for one-off `commit` instances
	CreatedAt    time.Time

	mu        sync.Mutex
	state     State
	osPID     int
	exitInfo  *ExitInfo
	cmd       *exec.Cmd
	requested bool      // a Manager-initiated stop/scale-down/unload/reload is in flight
	requestAt time.Time

	outputs map[string]*streammux.OutputMux
	input   *streammux.InputMux

	killTimer    *time.Timer
	forceTimer   *time.Timer
	escalated    bool
	finalizeOnce sync.Once

	emitter  *events.Emitter
	reapedCB func(*Instance)

	log hclog.Logger
}

// New constructs a PENDING Instance. pid is the Manager-assigned internal
// id; spec is the snapshot this instance will run under.
func New(pid int64, qname string, spec template.Spec, supervised bool, log hclog.Logger) *Instance {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Instance{
		PID:        pid,
		QName:      qname,
		Spec:       spec,
		Supervised: supervised,
		CreatedAt:  time.Now(),
		state:      Pending,
		outputs:    make(map[string]*streammux.OutputMux),
		log:        log.Named("instance").With("pid", pid, "template", qname),
	}
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// OSPID returns the backing OS pid, valid once Spawn has transitioned past
// SPAWNING.
func (in *Instance) OSPID() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.osPID
}

// ExitInfo returns exit details, or nil if the instance has not exited.
func (in *Instance) ExitInfo() *ExitInfo {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.exitInfo
}

// Output returns the OutputMux for label, or nil if not declared.
func (in *Instance) Output(label string) *streammux.OutputMux {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.outputs[label]
}

// Input returns the stdin InputMux, or nil if redirect_input was not set.
func (in *Instance) Input() *streammux.InputMux {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.input
}

// transition enforces the legal edges of the ProcessInstance state machine.
func (in *Instance) transition(to State) error {
	from := in.state
	ok := false
	switch from {
	case Pending:
		ok = to == Spawning
	case Spawning:
		ok = to == Running || to == SpawnFailed
	case Running:
		ok = to == Terminating || to == Exited
	case Terminating:
		ok = to == Exited
	}
	if !ok {
		return fmt.Errorf("instance %d: illegal transition %s -> %s", in.PID, from, to)
	}
	in.state = to
	return nil
}

// MarkRequested records that the Manager has requested termination, used by
// flapping.IsUnexpected to distinguish expected from unexpected exits
// (spec.md §4.3).
func (in *Instance) MarkRequested() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.requested {
		in.requested = true
		in.requestAt = time.Now()
	}
}

// WasRequested reports whether MarkRequested was called and, if so, when.
func (in *Instance) WasRequested() (bool, time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.requested, in.requestAt
}

// gracefulTimeout returns the instance's configured graceful shutdown
// window, defaulting defensively if the spec was somehow left at zero.
func (in *Instance) gracefulTimeout() time.Duration {
	if in.Spec.GracefulTimeout <= 0 {
		return 30 * time.Second
	}
	return in.Spec.GracefulTimeout
}

// withLock runs f with mu held, a small helper to keep transition call
// sites terse.
func (in *Instance) withLock(f func() error) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return f()
}

