package agent

import (
	"github.com/benoitc/gaffer/apphost"
	"github.com/benoitc/gaffer/apphost/httpapi"
	"github.com/benoitc/gaffer/apphost/scheduler"
	"github.com/benoitc/gaffer/events"
	"github.com/benoitc/gaffer/manager"
	"github.com/hashicorp/go-hclog"
)

// Agent is the bootable daemon: an EventEmitter, a Manager, and an
// ApplicationHost running the reference HTTP adapter and the scheduled-
// commit capability.
type Agent struct {
	cfg *Config
	log hclog.Logger

	Emitter *events.Emitter
	Manager *manager.Manager
	Host    *apphost.Host
}

// New constructs an Agent from cfg without starting anything.
func New(cfg *Config) *Agent {
	log := cfg.Logger()
	emitter := events.New(log)
	mgr := manager.New(emitter, log)
	host := apphost.New(log)

	host.Register(httpapi.New(cfg.BindAddr, log))
	host.Register(scheduler.New(cfg.DefaultSession, cfg.SchedulerPoll, log))

	return &Agent{cfg: cfg, log: log, Emitter: emitter, Manager: mgr, Host: host}
}

// Start converges every pre-loaded template (none, for a fresh daemon) and
// brings up the ApplicationHost's capabilities, in that order (spec.md
// §4.7: "the host starts apps after the Manager is live").
func (a *Agent) Start() error {
	if err := a.Manager.StartAll(); err != nil {
		return err
	}
	a.Host.StartAll(a.Manager)
	return nil
}

// Dump logs the Manager's current template/instance status table at Info
// level. Wired to SIGHUP; not exposed as a stable wire contract.
func (a *Agent) Dump() {
	out, err := a.Manager.Dump()
	if err != nil {
		a.log.Warn("dump failed", "error", err)
		return
	}
	a.log.Info("status dump\n" + out)
}

// Shutdown stops the ApplicationHost's capabilities, then drains and
// unloads every template (spec.md §4.7: "stops them before the Manager
// tears down instances").
func (a *Agent) Shutdown() error {
	hostErr := a.Host.StopAll()
	mgrErr := a.Manager.ShutdownAll()
	if hostErr != nil {
		return hostErr
	}
	return mgrErr
}
