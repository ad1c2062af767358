// Package core drives a prefetch engine with a trace of demand accesses. It
// connects the engine to a TLB, a cache and the request queue that carries
// the engine's requests to memory.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/loader"
	"github.com/sarchlab/pfsim/timing/cache"
	"github.com/sarchlab/pfsim/timing/config"
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/tlb"
)

// Stats holds the outcome of a run.
type Stats struct {
	// Cycles is the current cycle. Every access takes one cycle.
	Cycles uint64
	// Accesses is the number of demand accesses replayed.
	Accesses uint64
	// DemandLatency is the sum of the demand access latencies.
	DemandLatency uint64

	// PrefetchesSent counts prefetches the cache accepted.
	PrefetchesSent uint64
	// MetadataReads and MetadataWrites count metadata traffic to memory.
	MetadataReads  uint64
	MetadataWrites uint64

	Cache cache.Statistics
	TLB   tlb.Stats
	Queue QueueStats
}

// Coverage is the fraction of would-be misses a prefetch removed.
func (s Stats) Coverage() float64 {
	useful := s.Cache.PrefetchesUseful
	if useful+s.Cache.Misses == 0 {
		return 0
	}
	return float64(useful) / float64(useful+s.Cache.Misses)
}

// Accuracy is the fraction of prefetches sent to the cache that a demand
// access later touched.
func (s Stats) Accuracy() float64 {
	if s.PrefetchesSent == 0 {
		return 0
	}
	return float64(s.Cache.PrefetchesUseful) / float64(s.PrefetchesSent)
}

// AverageLatency is the mean demand access latency in cycles.
func (s Stats) AverageLatency() float64 {
	if s.Accesses == 0 {
		return 0
	}
	return float64(s.DemandLatency) / float64(s.Accesses)
}

// Driver replays demand accesses through the TLB, the cache and a prefetch
// engine. Stats and Inspect may be called from other goroutines while Run
// is in progress.
type Driver struct {
	mu sync.Mutex

	cache      *cache.Cache
	tlb        *tlb.TLB
	queue      *RequestQueue
	prefetcher prefetch.Prefetcher

	cycle atomic.Uint64
	stats Stats

	logger logrus.FieldLogger
}

// NewDriver builds the components c describes. Engines that track page
// residency are registered with the TLB.
func NewDriver(c *config.Config, logger logrus.FieldLogger) (*Driver, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Driver{
		cache:  cache.New(c.Cache),
		tlb:    config.BuildTLB(c),
		logger: logger,
	}
	d.queue = NewRequestQueue(c.Queue.Size, d)

	p, err := config.BuildPrefetcherWithLogger(c, d.queue, logger)
	if err != nil {
		return nil, err
	}
	d.prefetcher = p

	if o, ok := p.(prefetch.TLBObserver); ok {
		d.tlb.AddObserver(o)
	}

	return d, nil
}

// Cycle returns the current cycle.
func (d *Driver) Cycle() uint64 {
	return d.cycle.Load()
}

// AcceptHook registers hook with the engine and the request queue.
func (d *Driver) AcceptHook(hook sim.Hook) {
	if h, ok := d.prefetcher.(sim.Hookable); ok {
		h.AcceptHook(hook)
	}

	d.queue.AcceptHook(hook)
}

// Step replays one demand access.
func (d *Driver) Step(a loader.Access) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.step(a)
}

func (d *Driver) step(a loader.Access) {
	now := d.cycle.Add(1)

	d.cache.Tick(now)
	d.tlb.Translate(a.Addr)

	result := d.cache.Access(a.Addr, now, a.Write)
	d.stats.Accesses++
	d.stats.DemandLatency += result.Latency

	d.prefetcher.OnAccess(a.Key, a.Addr, result.MSHRHit, result.Hit)

	d.issue(now)
}

func (d *Driver) issue(now uint64) {
	for _, r := range d.queue.Drain(now) {
		switch r.Kind {
		case prefetch.RequestPrefetch:
			if d.cache.Prefetch(r.Addr, now) {
				d.stats.PrefetchesSent++
			}
		case prefetch.RequestMetadataRead:
			d.stats.MetadataReads++
		case prefetch.RequestMetadataWrite:
			d.stats.MetadataWrites++
		}
	}
}

// Run replays every access of trace and returns the resulting stats.
func (d *Driver) Run(trace *loader.Trace) Stats {
	d.logger.WithFields(logrus.Fields{
		"trace":    trace.Name,
		"accesses": trace.Len(),
	}).Info("run started")

	for _, a := range trace.Accesses {
		d.Step(a)
	}

	stats := d.Stats()

	d.logger.WithFields(logrus.Fields{
		"trace":    trace.Name,
		"coverage": stats.Coverage(),
		"accuracy": stats.Accuracy(),
	}).Info("run finished")

	return stats
}

// Stats returns a consistent snapshot of the counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Cycles = d.Cycle()
	s.Cache = d.cache.Stats()
	s.TLB = d.tlb.Stats()
	s.Queue = d.queue.Stats()

	return s
}

// Inspect calls fn with the engine while no access is being replayed.
func (d *Driver) Inspect(fn func(p prefetch.Prefetcher)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(d.prefetcher)
}

// Prefetcher returns the engine. It must not be used concurrently with Run.
func (d *Driver) Prefetcher() prefetch.Prefetcher {
	return d.prefetcher
}

// Reset clears every component and counter.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Reset()
	d.tlb.Reset()
	d.tlb.ResetStats()
	d.queue.Reset()

	type resetter interface {
		Reset()
		ResetStats()
	}
	if r, ok := d.prefetcher.(resetter); ok {
		r.Reset()
		r.ResetStats()
	}

	d.cycle.Store(0)
	d.stats = Stats{}
}
