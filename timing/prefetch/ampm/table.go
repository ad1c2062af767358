package ampm

import (
	"github.com/sarchlab/pfsim/timing/prefetch/assoc"
)

// Table geometries.
const (
	// DefaultSets and DefaultWays describe the fully associative table.
	DefaultSets = 1
	DefaultWays = 256

	// RealisticSets and RealisticWays fit the table in 32 Kbit of storage.
	RealisticSets = 4
	RealisticWays = 13
)

// Adaptive mode thresholds.
const (
	aggressiveThreshold    = 8
	saveEntryThreshold     = 128
	conflictAvoidThreshold = 256

	initialNeedEntry = 64
	initialConflict  = 16
)

// Modes are the throttling switches of the table.
type Modes struct {
	// Aggressive treats prefetched lines as accessed.
	Aggressive bool
	// SaveEntry stops reading neighbouring zones.
	SaveEntry bool
	// ConflictAvoid caps the prefetch budget at two per direction.
	ConflictAvoid bool
}

// Passive reports whether neighbouring zones are left alone.
func (m Modes) Passive() bool {
	return m.SaveEntry || m.ConflictAvoid
}

// Candidates is the outcome of a table lookup: per-direction candidate maps
// indexed by line distance from the trigger, and per-direction budgets.
type Candidates struct {
	Forward     [MapSize / 2]bool
	Backward    [MapSize / 2]bool
	NumForward  int
	NumBackward int
}

// AccessMapTable holds the access maps of recently touched zones.
type AccessMapTable struct {
	zones *assoc.Array[AccessMap]

	modes Modes

	needEntry int
	conflict  int
	prefFail  int
	prefSucc  int

	evictions uint64
	misses    uint64
	failed    uint64
	succeeded uint64
}

// NewAccessMapTable creates a table with sets x ways zones.
func NewAccessMapTable(sets, ways int) *AccessMapTable {
	t := &AccessMapTable{
		zones: assoc.New[AccessMap](assoc.Geometry{
			Sets:     sets,
			Ways:     ways,
			LineSize: 1,
		}),
	}
	t.Reset()

	return t
}

// Reset empties the table and restores the initial modes.
func (t *AccessMapTable) Reset() {
	t.zones.Reset()
	t.modes = Modes{Aggressive: true}
	t.needEntry = initialNeedEntry
	t.conflict = initialConflict
	t.prefFail = 0
	t.prefSucc = 0
	t.ResetStats()
}

// Modes returns the current mode switches.
func (t *AccessMapTable) Modes() Modes {
	return t.modes
}

// TableStats counts zone allocations and the prefetch outcome of evicted
// zones.
type TableStats struct {
	Misses            uint64
	Evictions         uint64
	PrefetchesUseful  uint64
	PrefetchesUseless uint64
}

// Stats returns the table counters.
func (t *AccessMapTable) Stats() TableStats {
	return TableStats{
		Misses:            t.misses,
		Evictions:         t.evictions,
		PrefetchesUseful:  t.succeeded,
		PrefetchesUseless: t.failed,
	}
}

// ResetStats clears the table counters. Mode counters are kept.
func (t *AccessMapTable) ResetStats() {
	t.misses = 0
	t.evictions = 0
	t.succeeded = 0
	t.failed = 0
}

// Len returns the number of resident zones.
func (t *AccessMapTable) Len() int {
	return t.zones.Len()
}

// Peek returns the map of addr's zone without touching recency.
func (t *AccessMapTable) Peek(addr uint64) (*AccessMap, bool) {
	return t.zones.Peek(ZoneTag(addr))
}

// Access returns the map of addr's zone, allocating it over the least
// recently used zone of its set if needed.
func (t *AccessMapTable) Access(addr uint64) *AccessMap {
	tag := ZoneTag(addr)

	if m, ok := t.zones.Probe(tag); ok {
		return m
	}

	m, _, evicted := t.zones.Select(tag)
	t.misses++

	if evicted {
		t.evictions++

		failed, succeeded := m.NumFailed(), m.NumSuccessful()
		t.prefFail += failed
		t.prefSucc += succeeded
		t.failed += uint64(failed)
		t.succeeded += uint64(succeeded)
	}

	m.reset(tag)

	return m
}

// MarkPrefetched records that addr was sent to memory. Recency is not
// touched and a non-resident zone is ignored.
func (t *AccessMapTable) MarkPrefetched(addr uint64) {
	if m, ok := t.Peek(addr); ok {
		m.markPrefetched(addr)
	}
}

func (t *AccessMapTable) isAccessed(s State) bool {
	switch s {
	case StateAccess, StateSuccess:
		return true
	case StatePrefetch:
		return t.modes.Aggressive
	}
	return false
}

func (t *AccessMapTable) isCandidate(s State, index int, passive bool) bool {
	return s == StateInit &&
		((index >= MapSize && index < 2*MapSize) || !passive)
}

// Lookup reads the trigger zone and its neighbours, derives the prefetch
// candidates around addr and then records the demand access.
func (t *AccessMapTable) Lookup(addr uint64, mshrHit, hit bool) Candidates {
	var window [3 * MapSize]State

	passive := t.modes.Passive()
	if !passive {
		window = t.readNeighbours(addr)
	}

	zone := t.Access(addr)
	copy(window[MapSize:2*MapSize], zone.Cells[:])

	t.profile(zone, addr, mshrHit, hit)

	c := Candidates{NumForward: 2, NumBackward: 2}
	if !t.modes.ConflictAvoid {
		c.NumForward += zone.MaxAccess()
		c.NumBackward += zone.MaxAccess()
	}

	idx := ZoneIndex(addr)
	for i := 0; i < MapSize/2; i++ {
		p := MapSize + idx + i
		n := MapSize + idx - i

		c.Forward[i] = t.isCandidate(window[p], p, passive) &&
			t.isAccessed(window[n]) &&
			(t.isAccessed(window[MapSize+idx-2*i]) ||
				t.isAccessed(window[MapSize+idx-2*i-1]))

		c.Backward[i] = t.isCandidate(window[n], n, passive) &&
			t.isAccessed(window[p]) &&
			(t.isAccessed(window[MapSize+idx+2*i]) ||
				t.isAccessed(window[MapSize+idx+2*i+1]))
	}

	zone.update(addr)
	zone.AccessFreq++
	if !hit {
		zone.MissFreq++
	}

	return c
}

func (t *AccessMapTable) readNeighbours(addr uint64) (window [3 * MapSize]State) {
	lower := t.Access(addr - ZoneSize)
	copy(window[:MapSize], lower.Cells[:])

	upper := t.Access(addr + ZoneSize)
	copy(window[2*MapSize:], upper.Cells[:])

	return window
}

// profile feeds the mode counters. A demand hit on a line the map never saw
// means the zone was evicted too early. A demand miss on a line the map
// already saw, with no fill in flight, is a cache conflict.
func (t *AccessMapTable) profile(zone *AccessMap, addr uint64, mshrHit, hit bool) {
	state := zone.State(addr)

	if hit && state == StateInit {
		t.needEntry++
	}

	if !hit && !mshrHit && state != StateInit {
		t.conflict++
	}
}

// Housekeeping ages every resident zone.
func (t *AccessMapTable) Housekeeping() {
	t.zones.ForEach(func(_ uint64, m *AccessMap) {
		m.housekeeping()
	})
}

// AdaptModes re-evaluates the mode switches from the profiled counters and
// decays the counters. It returns whether any switch changed.
func (t *AccessMapTable) AdaptModes() bool {
	old := t.modes

	if t.prefSucc > aggressiveThreshold*t.prefFail {
		t.modes.Aggressive = true
	} else if t.prefSucc < (aggressiveThreshold/2)*t.prefFail {
		t.modes.Aggressive = false
	}
	t.prefSucc >>= 1
	t.prefFail >>= 1

	if t.needEntry > saveEntryThreshold {
		t.modes.SaveEntry = true
	} else if t.needEntry > saveEntryThreshold/4 {
		t.modes.SaveEntry = false
	}
	t.needEntry >>= 1

	if t.conflict > conflictAvoidThreshold {
		t.modes.ConflictAvoid = true
	} else if t.conflict > conflictAvoidThreshold/4 {
		t.modes.ConflictAvoid = false
	}
	t.conflict >>= 1

	return old != t.modes
}
