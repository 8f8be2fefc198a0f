package instance

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/gerrors"
)

// Stop requests termination: RUNNING -> TERMINATING, sending sig (SIGTERM
// if sig == 0) and arming the graceful-timeout timer. A second call while
// already TERMINATING is a no-op that leaves the armed timer as it is, so
// the timer is never extended; it never blocks for the process to actually
// exit.
func (in *Instance) Stop(sig syscall.Signal) error {
	in.MarkRequested()

	in.mu.Lock()
	state := in.state
	if state == Exited || state == SpawnFailed {
		in.mu.Unlock()
		return nil // idempotent no-op per spec.md §8
	}
	if state == Terminating {
		in.mu.Unlock()
		return nil // collapse: timer already armed, do not extend it
	}
	if state != Running {
		in.mu.Unlock()
		return gerrors.InvalidStatef("instance %d: cannot stop from state %s", in.PID, state)
	}
	if err := in.transition(Terminating); err != nil {
		in.mu.Unlock()
		return err
	}
	cmd := in.cmd
	timeout := in.gracefulTimeout()
	in.killTimer = time.AfterFunc(timeout, in.escalate)
	in.mu.Unlock()

	if sig == 0 {
		sig = syscall.SIGTERM
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(sig)
	}
	return nil
}

// escalate fires once the graceful timer elapses without the process
// having been reaped: it sends SIGKILL and arms ForcedKillGrace as a last
// resort so the instance never stays TERMINATING indefinitely (spec.md §8).
func (in *Instance) escalate() {
	in.mu.Lock()
	if in.state != Terminating {
		in.mu.Unlock()
		return
	}
	in.escalated = true
	cmd := in.cmd
	in.forceTimer = time.AfterFunc(ForcedKillGrace, in.forceRelease)
	in.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGKILL)
	}
}

// forceRelease fires if even SIGKILL failed to produce a reap within
// ForcedKillGrace; it finalizes the instance as forcibly released so the
// Manager can proceed, independent of whether the OS ever actually reaps
// the (likely defunct) process.
func (in *Instance) forceRelease() {
	in.finalize(ExitInfo{ExitStatus: -1, TermSignal: int(syscall.SIGKILL), Reaped: ReapForced}, true)
}

// Signal delivers sig directly to the backing OS process. No-op for
// terminated instances (spec.md §4.1 `signal`).
func (in *Instance) Signal(sig syscall.Signal) error {
	in.mu.Lock()
	cmd := in.cmd
	state := in.state
	in.mu.Unlock()
	if state.Terminal() || cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(sig)
}

// waitAndReap blocks on the child process, then finalizes the instance's
// terminal state and publishes the exit event (spec.md §4.4). emitter and
// reaped are only actually used by whichever of waitAndReap/forceRelease
// finalizes first; finalize's sync.Once guards against double-publishing.
func (in *Instance) waitAndReap(emitter *events.Emitter, reaped func(*Instance)) {
	in.emitter = emitter
	in.reapedCB = reaped

	in.mu.Lock()
	cmd := in.cmd
	in.mu.Unlock()

	waitErr := cmd.Wait()

	in.mu.Lock()
	requested, requestAt := in.requested, in.requestAt
	escalated := in.escalated
	in.mu.Unlock()

	status, termSignal := exitCode(waitErr)

	reapKind := ReapNormal
	switch {
	case escalated:
		reapKind = ReapForced
	case requested:
		if time.Since(requestAt) <= in.gracefulTimeout() {
			reapKind = ReapGraceful
		} else {
			reapKind = ReapForced
		}
	}

	in.finalize(ExitInfo{ExitStatus: status, TermSignal: termSignal, Reaped: reapKind}, false)
}

// finalize transitions the instance to EXITED and publishes its exit events
// exactly once, regardless of whether it is called from waitAndReap's real
// reap or forceRelease's bounded-wait fallback.
func (in *Instance) finalize(info ExitInfo, fromForceRelease bool) {
	in.finalizeOnce.Do(func() {
		in.mu.Lock()
		if in.killTimer != nil {
			in.killTimer.Stop()
		}
		if in.forceTimer != nil && !fromForceRelease {
			in.forceTimer.Stop()
		}
		in.exitInfo = &info
		_ = in.transition(Exited)
		if in.input != nil {
			_ = in.input.Close()
		}
		emitter := in.emitter
		reaped := in.reapedCB
		in.mu.Unlock()

		if emitter != nil {
			emitter.Publish(fmt.Sprintf("proc.%s.exit", in.QName), ExitEventPayload(in))
			emitter.Publish("exit", ExitEventPayload(in))
			emitter.Publish(fmt.Sprintf("proc.%s.reap", in.QName), ExitEventPayload(in))
			emitter.Publish("reap", ExitEventPayload(in))
		}
		if reaped != nil {
			reaped(in)
		}
	})
}

// ExitEventPayload builds the {exit_status, term_signal, reaped} payload
// required by spec.md §4.4's exit event.
func ExitEventPayload(in *Instance) map[string]any {
	info := in.ExitInfo()
	if info == nil {
		return map[string]any{"pid": in.PID, "name": in.QName}
	}
	return map[string]any{
		"pid":         in.PID,
		"name":        in.QName,
		"exit_status": info.ExitStatus,
		"term_signal": info.TermSignal,
		"reaped":      string(info.Reaped),
	}
}

func exitCode(err error) (status int, termSignal int) {
	if err == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return -1, int(ws.Signal())
			}
			return ws.ExitStatus(), 0
		}
		return exitErr.ExitCode(), 0
	}
	return -1, 0
}
