package apphost

import (
	"fmt"
	"testing"

	"github.com/benoitc/gaffer/manager"
	"github.com/shoenig/test/must"
)

type fakeCap struct {
	name      string
	failStart bool
	starts    *[]string
	stops     *[]string
}

func (f *fakeCap) Name() string { return f.name }

func (f *fakeCap) Start(m *manager.Manager) error {
	*f.starts = append(*f.starts, f.name)
	if f.failStart {
		return fmt.Errorf("%s: boom", f.name)
	}
	return nil
}

func (f *fakeCap) Stop() error {
	*f.stops = append(*f.stops, f.name)
	return nil
}

func (f *fakeCap) Restart(m *manager.Manager) error { return f.Start(m) }

func TestHost_StartAll_ContinuesPastFailure(t *testing.T) {
	var starts, stops []string
	h := New(nil)
	h.Register(&fakeCap{name: "a", starts: &starts, stops: &stops})
	h.Register(&fakeCap{name: "b", failStart: true, starts: &starts, stops: &stops})
	h.Register(&fakeCap{name: "c", starts: &starts, stops: &stops})

	h.StartAll(nil)

	must.Eq(t, []string{"a", "b", "c"}, starts)
	_, failed := h.Failed("b")
	must.True(t, failed)
	_, failed = h.Failed("a")
	must.False(t, failed)
}

func TestHost_StopAll_ReverseOrder(t *testing.T) {
	var starts, stops []string
	h := New(nil)
	h.Register(&fakeCap{name: "a", starts: &starts, stops: &stops})
	h.Register(&fakeCap{name: "b", starts: &starts, stops: &stops})

	h.StartAll(nil)
	must.NoError(t, h.StopAll())

	must.Eq(t, []string{"b", "a"}, stops)
}
