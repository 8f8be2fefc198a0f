package procstats

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cadence is the stats sampling tick interval (spec.md §4.4: "100 ms").
const Cadence = 100 * time.Millisecond

// cacheTTL bounds how often two callers sampling within the same tick cause
// a second syscall round-trip; mirrors the teacher's taskProcStats cacheTTL
// pattern (drivers/shared/executor/procstats).
const cacheTTL = Cadence

// SubscriberGate reports whether at least one subscriber currently cares
// about an instance's or template's stats topic (spec.md §4.4: "Emission is
// gated"). Implemented by *events.Emitter via SubscriberCount.
type SubscriberGate interface {
	SubscriberCount(pattern string) int
}

// Sampler runs the 100ms gated sampling loop for a single instance.
type Sampler struct {
	pid       int64
	collector *Collector
	cache     *lru.Cache[int64, cachedSample]
	gate      SubscriberGate
	topic     string

	onSample func(Sample)
}

type cachedSample struct {
	sample Sample
	at     time.Time
}

// NewSampler constructs a Sampler for pid backed by collector. topic is the
// stats.<pid> pattern checked against gate before each tick's syscalls run.
// onSample is invoked with each freshly-taken Sample.
func NewSampler(pid int64, collector *Collector, gate SubscriberGate, topic string, onSample func(Sample)) (*Sampler, error) {
	cache, err := lru.New[int64, cachedSample](1)
	if err != nil {
		return nil, fmt.Errorf("procstats: new cache: %w", err)
	}
	return &Sampler{pid: pid, collector: collector, cache: cache, gate: gate, topic: topic, onSample: onSample}, nil
}

// Run blocks, ticking at Cadence, until ctx is cancelled. Each tick that
// finds no subscriber is skipped entirely (no syscalls issued).
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(Cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.gate.SubscriberCount(s.topic) == 0 {
				continue
			}
			sample, ok := s.sampleCached()
			if !ok {
				continue
			}
			s.onSample(sample)
		}
	}
}

func (s *Sampler) sampleCached() (Sample, bool) {
	if cached, ok := s.cache.Get(s.pid); ok && time.Since(cached.at) < cacheTTL {
		return cached.sample, true
	}
	sample, err := s.collector.Sample()
	if err != nil {
		return Sample{}, false
	}
	s.cache.Add(s.pid, cachedSample{sample: sample, at: time.Now()})
	return sample, true
}

// staticGate is a SubscriberGate that always reports n subscribers; used in
// tests.
type staticGate struct {
	mu sync.Mutex
	n  int
}

func (g *staticGate) SubscriberCount(string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func (g *staticGate) set(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = n
}

// AlwaysOn is a SubscriberGate that reports exactly one subscriber for every
// pattern, so a Sampler gated by it samples on every tick regardless of
// whether anyone is currently streaming.
var AlwaysOn SubscriberGate = alwaysOnGate{}

type alwaysOnGate struct{}

func (alwaysOnGate) SubscriberCount(string) int { return 1 }
