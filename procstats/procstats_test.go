package procstats

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	ps "github.com/mitchellh/go-ps"
	"github.com/shoenig/test/must"
)

type fakeProcess struct {
	pid  int
	ppid int
}

func (f fakeProcess) Pid() int          { return f.pid }
func (f fakeProcess) PPid() int         { return f.ppid }
func (f fakeProcess) Executable() string { return "fake" }

func TestCollector_SamplesSelf(t *testing.T) {
	c, err := NewCollector(int32(os.Getpid()))
	must.NoError(t, err)

	s, err := c.Sample()
	must.NoError(t, err)
	must.Eq(t, int32(os.Getpid()), s.PID)
	must.True(t, s.RSSBytes > 0)
}

func TestDescendantsOf_BuildsTree(t *testing.T) {
	// synthetic process table: 1 -> {2,3}, 2 -> {4}
	procs := []ps.Process{
		fakeProcess{pid: 2, ppid: 1},
		fakeProcess{pid: 3, ppid: 1},
		fakeProcess{pid: 4, ppid: 2},
		fakeProcess{pid: 99, ppid: 50}, // unrelated
	}
	got := descendantsOf(1, procs)
	must.Eq(t, 3, len(got))
	seen := map[int]bool{}
	for _, pid := range got {
		seen[pid] = true
	}
	for _, want := range []int{2, 3, 4} {
		must.True(t, seen[want])
	}
}

func TestSampler_SkipsWhenNoSubscribers(t *testing.T) {
	c, err := NewCollector(int32(os.Getpid()))
	must.NoError(t, err)

	gate := &staticGate{}
	var mu sync.Mutex
	var count int
	sampler, err := NewSampler(1, c, gate, "stats.1", func(Sample) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	must.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	sampler.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	must.Eq(t, 0, count)
}

func TestSampler_SamplesWhenSubscribed(t *testing.T) {
	c, err := NewCollector(int32(os.Getpid()))
	must.NoError(t, err)

	gate := &staticGate{}
	gate.set(1)
	var mu sync.Mutex
	var count int
	sampler, err := NewSampler(1, c, gate, "stats.1", func(Sample) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	must.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	sampler.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	must.True(t, count >= 1)
}
