// Package resources samples host resource usage with gopsutil rather than
// scraping /proc by hand, feeding the alert engine and the dashboard's
// resource stream.
package resources

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/events"
)

// Sample is one host resource reading.
type Sample struct {
	CPUPct   float64
	MemPct   float64
	DiskPct  float64
	Load1    float64
	Load5    float64
	Load15   float64
	Sampled  time.Time
}

// maxHistory bounds the retained sample ring: one hour at the 5s cadence.
const maxHistory = 720

// Sampler periodically reads host metrics and publishes ResourceSample
// events, retaining a bounded time-ordered ring of past readings.
type Sampler struct {
	diskPath string
	clk      clock.Clock
	bus      *events.Bus
	interval time.Duration

	mu      sync.Mutex
	history []Sample
}

// New creates a Sampler over diskPath (e.g. "/") at the given interval.
func New(diskPath string, interval time.Duration, clk clock.Clock, bus *events.Bus) *Sampler {
	return &Sampler{diskPath: diskPath, clk: clk, bus: bus, interval: interval}
}

// Read takes one instantaneous sample.
func (s *Sampler) Read(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	du, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return Sample{}, err
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		CPUPct:  cpuPct,
		MemPct:  vm.UsedPercent,
		DiskPct: du.UsedPercent,
		Load1:   avg.Load1,
		Load5:   avg.Load5,
		Load15:  avg.Load15,
		Sampled: s.clk.Now(),
	}, nil
}

func (s *Sampler) record(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, sample)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// History returns a copy of the retained sample ring, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.history))
	copy(out, s.history)
	return out
}

// Run samples every interval until ctx is cancelled, publishing each
// reading to the bus. slowMode, when non-nil, is consulted before each
// sample to widen the interval when every connected UI is backgrounded.
func (s *Sampler) Run(ctx context.Context, slowMode func() bool) {
	for {
		interval := s.interval
		if slowMode != nil && slowMode() {
			interval = 20 * time.Second
		}
		select {
		case <-s.clk.After(interval):
			sample, err := s.Read(ctx)
			if err != nil {
				continue
			}
			s.record(sample)
			s.bus.Publish(events.Event{
				Type:      events.ResourceSample,
				Payload:   sample,
				Timestamp: s.clk.Now(),
			})
		case <-ctx.Done():
			return
		}
	}
}
