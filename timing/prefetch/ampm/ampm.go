// Package ampm implements the Access Map Pattern Matching prefetcher.
//
// AMPM keeps a 2-bit state per line for recently touched 16 KiB zones. On
// each access it looks for strides that the map already shows at least twice
// behind the trigger and prefetches the lines they predict ahead of it.
package ampm

import (
	"log"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/prefetch"
)

// Defaults.
const (
	DefaultDegree = 4
	// DefaultModeEpoch is the number of accesses between mode evaluations.
	DefaultModeEpoch = 1 << 18
)

// Stats holds AMPM activity counters.
type Stats struct {
	Accesses uint64

	ForwardCandidates  uint64
	BackwardCandidates uint64

	// Enqueued counts candidates accepted by the tracker.
	Enqueued uint64
	// Merged counts candidates whose block was already pending.
	Merged uint64
	// TrackerStalls counts accesses that stopped issuing on a full tracker.
	TrackerStalls uint64

	PrefetchesIssued   uint64
	PrefetchesRejected uint64

	ModeSwitches uint64

	Table TableStats
}

// ModeEvent is the hook item of HookPosModeSwitch.
type ModeEvent struct {
	From Modes
	To   Modes
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithDegree sets the maximum number of prefetches per direction per access.
func WithDegree(degree int) Option {
	return func(p *Prefetcher) {
		p.degree = degree
	}
}

// WithTableGeometry sets the zone table shape.
func WithTableGeometry(sets, ways int) Option {
	return func(p *Prefetcher) {
		p.sets = sets
		p.ways = ways
	}
}

// WithRealisticTable uses the 4 x 13 zone table.
func WithRealisticTable() Option {
	return WithTableGeometry(RealisticSets, RealisticWays)
}

// WithTrackerSize sets the number of in-flight prefetches.
func WithTrackerSize(size int) Option {
	return func(p *Prefetcher) {
		p.trackerSize = size
	}
}

// WithAdaptiveModes turns the throttling mode switches on or off.
func WithAdaptiveModes(enabled bool) Option {
	return func(p *Prefetcher) {
		p.adaptive = enabled
	}
}

// WithModeEpoch sets how many accesses pass between mode evaluations.
func WithModeEpoch(accesses uint64) Option {
	return func(p *Prefetcher) {
		p.epoch = accesses
	}
}

// WithLogger sets the logger mode switches are reported to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Prefetcher) {
		p.logger = logger
	}
}

// Prefetcher is the AMPM engine.
type Prefetcher struct {
	prefetch.Emitter

	degree      int
	sets        int
	ways        int
	trackerSize int
	adaptive    bool
	epoch       uint64

	table   *AccessMapTable
	tracker *RequestTracker

	housekeepings uint64

	stats  Stats
	logger logrus.FieldLogger
}

// New creates an AMPM prefetcher that issues requests to sink.
func New(sink prefetch.Sink, opts ...Option) *Prefetcher {
	if sink == nil {
		log.Panic("ampm: sink is required")
	}

	p := &Prefetcher{
		Emitter:     prefetch.NewEmitter(sink),
		degree:      DefaultDegree,
		sets:        DefaultSets,
		ways:        DefaultWays,
		trackerSize: DefaultTrackerSize,
		epoch:       DefaultModeEpoch,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.degree < 1 {
		log.Panicf("ampm: degree %d must be positive", p.degree)
	}

	if p.epoch == 0 {
		log.Panic("ampm: mode epoch must be positive")
	}

	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}

	p.table = NewAccessMapTable(p.sets, p.ways)
	p.tracker = NewRequestTracker(p.trackerSize)

	return p
}

// Degree returns the per-direction prefetch limit.
func (p *Prefetcher) Degree() int {
	return p.degree
}

// AdaptiveModes reports whether mode switching is enabled.
func (p *Prefetcher) AdaptiveModes() bool {
	return p.adaptive
}

// Table exposes the access map table.
func (p *Prefetcher) Table() *AccessMapTable {
	return p.table
}

// Tracker exposes the request tracker.
func (p *Prefetcher) Tracker() *RequestTracker {
	return p.tracker
}

// Stats returns activity counters.
func (p *Prefetcher) Stats() Stats {
	s := p.stats
	s.Table = p.table.Stats()
	return s
}

// ResetStats clears activity counters.
func (p *Prefetcher) ResetStats() {
	p.stats = Stats{}
	p.table.ResetStats()
}

// Reset clears all learned state and pending requests.
func (p *Prefetcher) Reset() {
	p.table.Reset()
	p.tracker.Reset()
	p.housekeepings = 0
}

// OnAccess observes a demand access. The training key is not used.
func (p *Prefetcher) OnAccess(_, addr uint64, mshrHit, hit bool) {
	p.stats.Accesses++

	c := p.table.Lookup(addr, mshrHit, hit)
	base := addr &^ (BlockSize - 1)

	p.issueForward(base, &c)
	p.issueBackward(base, &c)

	p.tracker.Housekeeping(p.dispatch)
	p.housekeeping()
}

func (p *Prefetcher) issueForward(base uint64, c *Candidates) {
	count := 0
	for i := 1; c.NumForward > 0 && count < p.degree && i < MapSize/2; i++ {
		if p.tracker.Full() {
			p.stats.TrackerStalls++
			return
		}

		if !c.Forward[i] {
			continue
		}

		c.Forward[i] = false
		p.stats.ForwardCandidates++
		p.enqueue(base + uint64(i)*BlockSize)

		c.NumForward--
		count++
	}
}

func (p *Prefetcher) issueBackward(base uint64, c *Candidates) {
	count := 0
	for i := 1; c.NumBackward > 0 && count < p.degree && i < MapSize/2; i++ {
		if p.tracker.Full() {
			p.stats.TrackerStalls++
			return
		}

		offset := uint64(i) * BlockSize
		if !c.Backward[i] || base <= offset {
			continue
		}

		c.Backward[i] = false
		p.stats.BackwardCandidates++
		p.enqueue(base - offset)

		c.NumBackward--
		count++
	}
}

func (p *Prefetcher) enqueue(addr uint64) {
	p.table.MarkPrefetched(addr)

	if p.tracker.Issue(addr) {
		p.stats.Enqueued++
	} else {
		p.stats.Merged++
	}
}

func (p *Prefetcher) dispatch(addr uint64) {
	if p.Emit(p, prefetch.RequestPrefetch, addr, 0) {
		p.stats.PrefetchesIssued++
	} else {
		p.stats.PrefetchesRejected++
	}
}

func (p *Prefetcher) housekeeping() {
	p.table.Housekeeping()

	if !p.adaptive {
		return
	}

	p.housekeepings++
	if p.housekeepings%p.epoch != 0 {
		return
	}

	from := p.table.Modes()
	if !p.table.AdaptModes() {
		return
	}

	to := p.table.Modes()
	p.stats.ModeSwitches++

	p.logger.WithFields(logrus.Fields{
		"aggressive":     to.Aggressive,
		"save_entry":     to.SaveEntry,
		"conflict_avoid": to.ConflictAvoid,
	}).Debug("ampm: mode switch")

	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    prefetch.HookPosModeSwitch,
		Item:   ModeEvent{From: from, To: to},
	})
}
