package instance

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/gerrors"
	"github.com/benoitc/gaffer/streammux"
	"github.com/benoitc/gaffer/template"
	"github.com/creack/pty"
)

// Spawn transitions PENDING -> SPAWNING -> RUNNING (or SPAWN_FAILED),
// starting the OS process and wiring its stdio through StreamMux. emitter
// receives the spawn/spawn_error event. reaped is invoked exactly once,
// from a dedicated goroutine, once the process has been reaped.
func (in *Instance) Spawn(emitter *events.Emitter, reaped func(*Instance)) error {
	if err := in.withLock(func() error { return in.transition(Spawning) }); err != nil {
		return err
	}

	env := template.ResolveEnv(in.Spec)
	cmdPath, args := template.ResolvedCommand(in.Spec, env)

	cmd := exec.Command(cmdPath, args...)
	if in.Spec.Cwd != "" {
		cmd.Dir = in.Spec.Cwd
	}
	cmd.Env = envSlice(env)
	if err := applyCredential(cmd, in.Spec.UID, in.Spec.GID); err != nil {
		return in.fail(emitter, gerrors.SpawnError(err, "resolve uid/gid"))
	}

	labels := in.Spec.StreamLabels()
	outReaders := make(map[string]*os.File, len(labels))
	outWriters := make(map[string]*os.File, len(labels))
	cleanup := func() {
		for _, f := range outReaders {
			f.Close()
		}
		for _, f := range outWriters {
			f.Close()
		}
	}

	if !in.Spec.Shell {
		for _, label := range labels {
			pr, pw, err := os.Pipe()
			if err != nil {
				cleanup()
				return in.fail(emitter, gerrors.SpawnError(err, "create output pipe for %s", label))
			}
			outReaders[label], outWriters[label] = pr, pw
		}
		if len(labels) >= 1 {
			cmd.Stdout = outWriters[labels[0]]
		}
		if in.Spec.MergesStderr() {
			cmd.Stderr = outWriters[labels[0]]
		} else if len(labels) >= 2 {
			cmd.Stderr = outWriters[labels[1]]
		}
	}

	var stdinReader *os.File
	var stdinWriter *os.File
	if in.Spec.RedirectInput && !in.Spec.Shell {
		pr, pw, err := os.Pipe()
		if err != nil {
			cleanup()
			return in.fail(emitter, gerrors.SpawnError(err, "create stdin pipe"))
		}
		stdinReader, stdinWriter = pr, pw
		cmd.Stdin = stdinReader
	}

	var ptyMaster *os.File
	var startErr error
	if in.Spec.Shell {
		ptyMaster, startErr = pty.Start(cmd)
	} else {
		startErr = cmd.Start()
	}

	if startErr != nil {
		cleanup()
		if stdinWriter != nil {
			stdinWriter.Close()
		}
		if stdinReader != nil {
			stdinReader.Close()
		}
		return in.fail(emitter, gerrors.SpawnError(startErr, "exec %s", cmdPath))
	}

	in.mu.Lock()
	in.cmd = cmd
	in.osPID = cmd.Process.Pid
	_ = in.transition(Running)
	in.mu.Unlock()

	if ptyMaster != nil {
		// In pty mode stdout/stderr/stdin all multiplex over the pty
		// master; fold it into the first declared output label, if any.
		if len(labels) > 0 {
			in.attachOutput(emitter, labels[0], ptyMaster)
		}
		if in.Spec.RedirectInput {
			in.input = streammux.NewInputMux(in.PID, ptyMaster)
		}
	} else {
		for _, label := range labels {
			outWriters[label].Close() // parent's copy; child holds its own
			in.attachOutput(emitter, label, outReaders[label])
		}
		if stdinWriter != nil {
			stdinReader.Close() // parent's copy; child holds its own
			in.input = streammux.NewInputMux(in.PID, stdinWriter)
		}
	}

	emitter.Publish(fmt.Sprintf("proc.%s.spawn", in.QName), SpawnEventPayload(in))
	emitter.Publish("spawn", SpawnEventPayload(in))

	go in.waitAndReap(emitter, reaped)
	return nil
}

func (in *Instance) attachOutput(emitter *events.Emitter, label string, r *os.File) {
	out, err := streammux.NewOutputMux(in.PID, label, emitter, streammux.DefaultRingSize, in.log)
	if err != nil {
		in.log.Warn("failed to allocate output mux", "label", label, "error", err)
		return
	}
	in.mu.Lock()
	in.outputs[label] = out
	in.mu.Unlock()
	go func() { _ = out.Pump(r) }()
}

// SpawnEventPayload builds the {pid, os_pid, name, ...} payload required by
// spec.md §4.4's spawn event.
func SpawnEventPayload(in *Instance) map[string]any {
	return map[string]any{
		"pid":    in.PID,
		"os_pid": in.OSPID(),
		"name":   in.QName,
	}
}

func (in *Instance) fail(emitter *events.Emitter, err error) error {
	_ = in.withLock(func() error { return in.transition(SpawnFailed) })
	emitter.Publish(fmt.Sprintf("proc.%s.spawn_error", in.QName), map[string]any{
		"pid":   in.PID,
		"name":  in.QName,
		"error": err.Error(),
	})
	emitter.Publish("spawn_error", map[string]any{"pid": in.PID, "name": in.QName, "error": err.Error()})
	return err
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func applyCredential(cmd *exec.Cmd, uid, gid string) error {
	if uid == "" && gid == "" {
		return nil
	}
	cred := &syscall.Credential{}
	if uid != "" {
		n, err := strconv.ParseUint(uid, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid uid %q: %w", uid, err)
		}
		cred.Uid = uint32(n)
	}
	if gid != "" {
		n, err := strconv.ParseUint(gid, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid gid %q: %w", gid, err)
		}
		cred.Gid = uint32(n)
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = cred
	return nil
}
