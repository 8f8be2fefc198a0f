// Package scheduler implements the scheduled-commit supplement described in
// SPEC_FULL.md §2: an ApplicationHost capability that fires Manager.Commit
// for every template carrying a non-empty Spec.Schedule cron expression,
// the `benoitc/gaffer` feature the distillation's spec.md dropped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benoitc/gaffer/manager"
	"github.com/hashicorp/cronexpr"
	"github.com/hashicorp/go-hclog"
)

// Scheduler polls registered templates for a Schedule cron expression and
// commits a one-off instance each time it fires.
type Scheduler struct {
	session string
	pollEvery time.Duration
	log     hclog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	next   map[string]time.Time // qname -> next scheduled fire time
}

// New constructs a Scheduler that evaluates every registered template's
// Spec.Schedule for session on a pollEvery cadence (1s if zero).
func New(session string, pollEvery time.Duration, log hclog.Logger) *Scheduler {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Scheduler{session: session, pollEvery: pollEvery, log: log.Named("scheduler"), next: make(map[string]time.Time)}
}

func (s *Scheduler) Name() string { return "scheduler" }

// Start begins polling m's template registry in the background.
func (s *Scheduler) Start(m *manager.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx, m)
	return nil
}

// Stop halts the background poller.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// Restart stops and starts the poller against m.
func (s *Scheduler) Restart(m *manager.Manager) error {
	_ = s.Stop()
	return s.Start(m)
}

func (s *Scheduler) run(ctx context.Context, m *manager.Manager) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(m)
		}
	}
}

func (s *Scheduler) tick(m *manager.Manager) {
	views, err := m.ListTemplates()
	if err != nil {
		return
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range views {
		if v.Spec.Schedule == "" {
			continue
		}
		expr, err := cronexpr.Parse(v.Spec.Schedule)
		if err != nil {
			s.log.Warn("invalid schedule", "template", v.Name, "schedule", v.Spec.Schedule, "error", err)
			continue
		}
		due, ok := s.next[v.Name]
		if !ok {
			s.next[v.Name] = expr.Next(now)
			continue
		}
		if now.Before(due) {
			continue
		}
		s.commit(m, v)
		s.next[v.Name] = expr.Next(now)
	}
}

func (s *Scheduler) commit(m *manager.Manager, v manager.TemplateView) {
	spec := v.Spec
	spec.NumProcesses = 0 // one-off: not part of the managed pool
	if _, err := m.Commit(s.session, spec); err != nil {
		s.log.Warn("scheduled commit failed", "template", v.Name, "error", err)
	}
}
