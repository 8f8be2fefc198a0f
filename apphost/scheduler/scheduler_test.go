package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/manager"
	"github.com/benoitc/gaffer/template"
	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"
)

func TestScheduler_FiresOnDueSchedule(t *testing.T) {
	m := manager.New(events.New(nil), nil)
	t.Cleanup(m.Close)

	var commits int
	_, err := m.Monitor("commit.*.*.requested", func(_ string, _ any) { commits++ })
	must.NoError(t, err)

	qname, err := m.LoadTemplate("app", template.Spec{
		Name:     "nightly",
		Cmd:      "/bin/true",
		Schedule: "* * * * * * *", // every second, cronexpr 7-field form
	})
	must.NoError(t, err)
	must.NoError(t, m.Start(qname))

	s := New("app", 50*time.Millisecond, nil)
	must.NoError(t, s.Start(m))
	t.Cleanup(func() { _ = s.Stop() })

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			if commits == 0 {
				return fmt.Errorf("no scheduled commit observed yet")
			}
			return nil
		}),
		wait.Timeout(3*time.Second),
		wait.Gap(50*time.Millisecond),
	))
}
