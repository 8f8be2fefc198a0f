// Package procstats implements the stats sampler referenced by spec.md
// §4.4: CPU%, RSS, VSZ, cumulative CPU time, and child-process aggregate,
// sampled at 100ms while an instance is RUNNING and only while at least one
// subscriber is listening.
package procstats

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one point-in-time reading for a single OS process.
type Sample struct {
	PID         int32
	CPUPercent  float64
	RSSBytes    uint64
	VSZBytes    uint64
	CPUTimeSecs float64
	SampledAt   time.Time
}

// Aggregate is a Sample plus its descendants, as returned by getStats
// (spec.md §6 "aggregate {cpu,mem,stats:[...]}").
type Aggregate struct {
	CPUPercent float64  `json:"cpu"`
	RSSBytes   uint64   `json:"mem"`
	Children   []Sample `json:"stats"`
}

// Collector samples a single OS process via gopsutil.
type Collector struct {
	proc *process.Process
}

// NewCollector attaches a Collector to osPID.
func NewCollector(osPID int32) (*Collector, error) {
	p, err := process.NewProcess(osPID)
	if err != nil {
		return nil, err
	}
	return &Collector{proc: p}, nil
}

// Sample reads current CPU%, memory, and cumulative CPU time.
func (c *Collector) Sample() (Sample, error) {
	s := Sample{PID: c.proc.Pid, SampledAt: time.Now()}

	cpuPct, err := c.proc.CPUPercent()
	if err != nil {
		return s, err
	}
	s.CPUPercent = cpuPct

	mem, err := c.proc.MemoryInfo()
	if err != nil {
		return s, err
	}
	if mem != nil {
		s.RSSBytes = mem.RSS
		s.VSZBytes = mem.VMS
	}

	times, err := c.proc.Times()
	if err == nil && times != nil {
		s.CPUTimeSecs = times.Total()
	}

	return s, nil
}
