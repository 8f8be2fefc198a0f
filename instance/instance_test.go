package instance

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/streammux"
	"github.com/benoitc/gaffer/template"
	"github.com/shoenig/test/must"
)

func waitForState(t *testing.T, in *Instance, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if in.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, in.State())
}

func TestInstance_SpawnAndExitNormally(t *testing.T) {
	emitter := events.New(nil)
	var reapedCalled sync.WaitGroup
	reapedCalled.Add(1)

	spec := template.Spec{Name: "w", Cmd: "/bin/true", GracefulTimeout: time.Second}
	in := New(1, "app.w", spec, true, nil)

	err := in.Spawn(emitter, func(*Instance) { reapedCalled.Done() })
	must.NoError(t, err)
	must.True(t, in.OSPID() > 0)

	reapedCalled.Wait()
	must.Eq(t, Exited, in.State())
	must.Eq(t, 0, in.ExitInfo().ExitStatus)
	must.Eq(t, ReapNormal, in.ExitInfo().Reaped)
}

func TestInstance_SpawnFailsOnMissingBinary(t *testing.T) {
	emitter := events.New(nil)
	spec := template.Spec{Name: "w", Cmd: "/no/such/binary-xyz", GracefulTimeout: time.Second}
	in := New(2, "app.w", spec, true, nil)

	err := in.Spawn(emitter, nil)
	must.Error(t, err)
	must.Eq(t, SpawnFailed, in.State())
}

func TestInstance_StopGraceful(t *testing.T) {
	emitter := events.New(nil)
	var reaped sync.WaitGroup
	reaped.Add(1)

	spec := template.Spec{Name: "w", Cmd: "/bin/sleep", Args: []string{"30"}, GracefulTimeout: 2 * time.Second}
	in := New(3, "app.w", spec, true, nil)
	must.NoError(t, in.Spawn(emitter, func(*Instance) { reaped.Done() }))
	waitForState(t, in, Running)

	must.NoError(t, in.Stop(0))
	reaped.Wait()
	must.Eq(t, Exited, in.State())
	must.Eq(t, ReapGraceful, in.ExitInfo().Reaped)
}

func TestInstance_StopForcedAfterGracefulTimeout(t *testing.T) {
	emitter := events.New(nil)
	var reaped sync.WaitGroup
	reaped.Add(1)

	// /bin/sleep exits on SIGTERM by default, so the shell below ignores TERM
	// with `trap`; the stop request is never honored within the short
	// graceful window, forcing escalation to SIGKILL.
	spec := template.Spec{Name: "w", Cmd: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 30"}, GracefulTimeout: 200 * time.Millisecond}
	in := New(4, "app.w", spec, true, nil)
	must.NoError(t, in.Spawn(emitter, func(*Instance) { reaped.Done() }))
	waitForState(t, in, Running)

	must.NoError(t, in.Stop(0))
	reaped.Wait()
	must.Eq(t, Exited, in.State())
	must.Eq(t, ReapForced, in.ExitInfo().Reaped)
}

func TestInstance_StopIsIdempotent(t *testing.T) {
	emitter := events.New(nil)
	var reaped sync.WaitGroup
	reaped.Add(1)

	spec := template.Spec{Name: "w", Cmd: "/bin/sleep", Args: []string{"30"}, GracefulTimeout: time.Second}
	in := New(5, "app.w", spec, true, nil)
	must.NoError(t, in.Spawn(emitter, func(*Instance) { reaped.Done() }))
	waitForState(t, in, Running)

	must.NoError(t, in.Stop(0))
	must.NoError(t, in.Stop(0)) // collapses, does not extend the timer
	reaped.Wait()
	must.Eq(t, Exited, in.State())
}

func TestInstance_SignalNoopAfterExit(t *testing.T) {
	emitter := events.New(nil)
	var reaped sync.WaitGroup
	reaped.Add(1)

	spec := template.Spec{Name: "w", Cmd: "/bin/true", GracefulTimeout: time.Second}
	in := New(6, "app.w", spec, true, nil)
	must.NoError(t, in.Spawn(emitter, func(*Instance) { reaped.Done() }))
	reaped.Wait()

	must.NoError(t, in.Signal(syscall.SIGHUP))
}

func TestInstance_StreamSubscriberSeesStdout(t *testing.T) {
	emitter := events.New(nil)
	var reaped sync.WaitGroup
	reaped.Add(1)

	var got []byte
	var mu sync.Mutex
	_, err := emitter.Subscribe("stream.7.out", events.ListenerFunc(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := ev.Payload.(streammux.Chunk); ok {
			got = append(got, c.Data...)
		}
	}), events.SubscribeOptions{})
	must.NoError(t, err)

	spec := template.Spec{Name: "w", Cmd: "/bin/echo", Args: []string{"hi"}, RedirectOutput: []string{"out"}, GracefulTimeout: time.Second}
	in := New(7, "app.w", spec, true, nil)
	must.NoError(t, in.Spawn(emitter, func(*Instance) { reaped.Done() }))
	reaped.Wait()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	must.StrContains(t, string(got), "hi")
}
