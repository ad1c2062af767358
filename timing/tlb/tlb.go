// Package tlb models the translation lookaside buffer whose refills drive
// the page residency tracked by the temporal prefetcher.
package tlb

import (
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/assoc"
)

// DefaultNumWays is the size of the default fully associative TLB.
const DefaultNumWays = 64

// Entry is the payload of one TLB slot.
type Entry struct {
	Page uint64
	Hits uint64
}

// Stats holds TLB activity counters.
type Stats struct {
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Builder can build TLBs.
type Builder struct {
	numSets int
	numWays int
}

// MakeBuilder returns a Builder for a fully associative 64-entry TLB.
func MakeBuilder() Builder {
	return Builder{
		numSets: 1,
		numWays: DefaultNumWays,
	}
}

// WithNumSets sets the number of sets. It must be a power of 2.
func (b Builder) WithNumSets(n int) Builder {
	b.numSets = n
	return b
}

// WithNumWays sets the number of ways in each set.
func (b Builder) WithNumWays(n int) Builder {
	b.numWays = n
	return b
}

// Build creates the TLB. It panics on an invalid geometry.
func (b Builder) Build() *TLB {
	return &TLB{
		entries: assoc.New[Entry](assoc.SetAssociative(b.numSets, b.numWays, 1)),
	}
}

// TLB is a set-associative, LRU translation cache over 4 KiB pages.
// Translation is the identity; only residency is modeled.
type TLB struct {
	entries   *assoc.Array[Entry]
	observers []prefetch.TLBObserver
	stats     Stats
}

// AddObserver registers an observer notified of every refill.
func (t *TLB) AddObserver(o prefetch.TLBObserver) {
	t.observers = append(t.observers, o)
}

// NumSlots returns the total number of entries.
func (t *TLB) NumSlots() int {
	return t.entries.Geometry().Entries()
}

// Translate looks up addr's page. On a miss the page is installed over the
// LRU entry of its set and every observer is told the page and the slot it
// landed in. Slots are numbered set*ways+way.
func (t *TLB) Translate(addr uint64) bool {
	t.stats.Lookups++

	page := prefetch.PageOf(addr)

	if e, ok := t.entries.Probe(page); ok {
		t.stats.Hits++
		e.Hits++
		return true
	}

	t.stats.Misses++

	e, _, evicted := t.entries.Select(page)
	if evicted {
		t.stats.Evictions++
	}
	*e = Entry{Page: page}

	slot := t.Slot(page)
	for _, o := range t.observers {
		o.OnTLBEviction(page, slot)
	}

	return false
}

// Slot returns the slot holding page, or -1 if it is not resident.
func (t *TLB) Slot(page uint64) int {
	way, ok := t.entries.WayOf(page)
	if !ok {
		return -1
	}

	g := t.entries.Geometry()

	return g.SetOf(page)*g.Ways + way
}

// Contains reports whether page is resident.
func (t *TLB) Contains(page uint64) bool {
	return t.entries.Contains(page)
}

// Stats returns the activity counters.
func (t *TLB) Stats() Stats {
	return t.stats
}

// ResetStats clears the activity counters.
func (t *TLB) ResetStats() {
	t.stats = Stats{}
}

// Reset empties the TLB.
func (t *TLB) Reset() {
	t.entries.Reset()
}
