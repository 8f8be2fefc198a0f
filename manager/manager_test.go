package manager

import (
	"fmt"
	"testing"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/template"
	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := New(events.New(nil), nil)
	t.Cleanup(m.Close)
	return m
}

func sleeperSpec(name string, n int) template.Spec {
	return template.Spec{Name: name, Cmd: "/bin/sleep", Args: []string{"30"}, NumProcesses: n}
}

func TestManager_LoadStartConverges(t *testing.T) {
	m := testManager(t)

	qname, err := m.LoadTemplate("app", sleeperSpec("web", 2))
	must.NoError(t, err)
	must.Eq(t, "app.web", qname)

	must.NoError(t, m.Start(qname))

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			views, err := m.ListInstances(qname)
			if err != nil {
				return err
			}
			if len(views) != 2 {
				return fmt.Errorf("expected 2 instances, got %d", len(views))
			}
			return nil
		}),
		wait.Timeout(2*time.Second),
		wait.Gap(20*time.Millisecond),
	))
}

func TestManager_ScaleDownStopsLIFO(t *testing.T) {
	m := testManager(t)
	qname, err := m.LoadTemplate("app", sleeperSpec("web", 3))
	must.NoError(t, err)
	must.NoError(t, m.Start(qname))

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			views, err := m.ListInstances(qname)
			if err != nil {
				return err
			}
			if len(views) != 3 {
				return fmt.Errorf("expected 3 instances, got %d", len(views))
			}
			return nil
		}),
		wait.Timeout(2*time.Second), wait.Gap(20*time.Millisecond),
	))

	before, err := m.ListInstances(qname)
	must.NoError(t, err)
	oldest := before[0].PID
	for _, v := range before {
		if v.PID < oldest {
			oldest = v.PID
		}
	}

	n, err := m.Scale(qname, ScaleRequest{Absolute: intPtr(1)})
	must.NoError(t, err)
	must.Eq(t, 1, n)

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			views, err := m.ListInstances(qname)
			if err != nil {
				return err
			}
			if len(views) != 1 {
				return fmt.Errorf("expected 1 instance, got %d", len(views))
			}
			return nil
		}),
		wait.Timeout(2*time.Second), wait.Gap(20*time.Millisecond),
	))

	after, err := m.ListInstances(qname)
	must.NoError(t, err)
	must.Eq(t, 1, len(after))
	must.Eq(t, oldest, after[0].PID)
}

func TestManager_LoadTemplate_Duplicate(t *testing.T) {
	m := testManager(t)
	_, err := m.LoadTemplate("app", sleeperSpec("web", 1))
	must.NoError(t, err)
	_, err = m.LoadTemplate("app", sleeperSpec("web", 1))
	must.Error(t, err)
}

func TestManager_UnknownTemplate(t *testing.T) {
	m := testManager(t)
	must.Error(t, m.Start("app.missing"))
	must.Error(t, m.Stop("app.missing"))
	_, err := m.Scale("app.missing", ScaleRequest{Absolute: intPtr(1)})
	must.Error(t, err)
}

func TestManager_Commit(t *testing.T) {
	m := testManager(t)
	res, err := m.Commit("app", template.Spec{Name: "oneoff", Cmd: "/bin/true"})
	must.NoError(t, err)
	must.NonZero(t, res.PID)
	must.NotEq(t, "", res.Token)
}

func TestManager_StartAllOrdersByPriority(t *testing.T) {
	m := testManager(t)

	var order []string
	_, err := m.Monitor("tpl.*.spawned", func(topic string, _ any) {
		order = append(order, topic)
	})
	must.NoError(t, err)

	specA := sleeperSpec("a", 1)
	specA.Priority = 10
	specB := sleeperSpec("b", 1)
	specB.Priority = 1

	_, err = m.LoadTemplate("app", specA)
	must.NoError(t, err)
	_, err = m.LoadTemplate("app", specB)
	must.NoError(t, err)

	must.NoError(t, m.StartAll())

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			views, err := m.ListInstances("")
			if err != nil {
				return err
			}
			if len(views) != 2 {
				return fmt.Errorf("expected 2 instances, got %d", len(views))
			}
			return nil
		}),
		wait.Timeout(2*time.Second), wait.Gap(20*time.Millisecond),
	))
}

func intPtr(n int) *int { return &n }
