package isb

import (
	"github.com/sarchlab/pfsim/timing/prefetch"
)

// Default placement of correlation matrix entries in the metadata region.
const (
	DefaultMetadataBase   uint64 = 0xF000_0000_0000
	DefaultMetadataStride uint64 = 512
)

type corrEntry struct {
	slot uint64

	neighbor      [prefetch.LinesPerPage]uint64
	confidence    [prefetch.LinesPerPage]uint8
	neighborFound [prefetch.LinesPerPage]bool

	str        [prefetch.LinesPerPage]uint32
	strPresent [prefetch.LinesPerPage]bool
}

func (e *corrEntry) updateNeighbor(neighbor uint64, offset int) {
	if !e.neighborFound[offset] {
		e.neighbor[offset] = neighbor
		e.confidence[offset] = 1
		e.neighborFound[offset] = true
		return
	}

	if e.neighbor[offset] == neighbor {
		if e.confidence[offset] < MaxConfidence {
			e.confidence[offset]++
		}
		return
	}

	e.confidence[offset]--
	if e.confidence[offset] != 0 {
		return
	}

	e.neighbor[offset] = neighbor
	e.confidence[offset] = 1
}

// CorrelationMatrix is the off-chip store backing the AMC. It keeps, per
// physical page, a snapshot of the page's structural mappings and a
// same-page neighbor predictor. It is never evicted.
type CorrelationMatrix struct {
	entries map[uint64]*corrEntry
	base    uint64
	stride  uint64
}

// NewCorrelationMatrix creates an empty matrix whose entries are placed at
// base + slot*stride in the metadata address space.
func NewCorrelationMatrix(base, stride uint64) *CorrelationMatrix {
	return &CorrelationMatrix{
		entries: make(map[uint64]*corrEntry),
		base:    base,
		stride:  stride,
	}
}

// Len returns the number of pages with an entry.
func (m *CorrelationMatrix) Len() int {
	return len(m.entries)
}

func (m *CorrelationMatrix) entry(page uint64) *corrEntry {
	e, ok := m.entries[page]
	if !ok {
		e = &corrEntry{slot: uint64(len(m.entries))}
		m.entries[page] = e
	}
	return e
}

func (m *CorrelationMatrix) metadataAddr(e *corrEntry) uint64 {
	return m.base + e.slot*m.stride
}

// UpdateStrAddr overwrites page's mapping snapshot and returns the metadata
// address the write goes to.
func (m *CorrelationMatrix) UpdateStrAddr(
	page uint64,
	strs *[prefetch.LinesPerPage]uint32,
	present *[prefetch.LinesPerPage]bool,
) uint64 {
	e := m.entry(page)
	e.str = *strs
	e.strPresent = *present

	return m.metadataAddr(e)
}

// StructuralAddresses returns page's mapping snapshot and the metadata
// address it is read from.
func (m *CorrelationMatrix) StructuralAddresses(page uint64) (
	strs [prefetch.LinesPerPage]uint32,
	present [prefetch.LinesPerPage]bool,
	metaAddr uint64,
	ok bool,
) {
	e, ok := m.entries[page]
	if !ok {
		return strs, present, 0, false
	}

	return e.str, e.strPresent, m.metadataAddr(e), true
}

// UpdateNeighbor trains the neighbor slot of addr's line with neighbor.
func (m *CorrelationMatrix) UpdateNeighbor(addr, neighbor uint64) {
	m.entry(prefetch.PageOf(addr)).updateNeighbor(neighbor, prefetch.LineOffset(addr))
}

// Neighbor returns the neighbor predicted for addr's line.
func (m *CorrelationMatrix) Neighbor(addr uint64) (uint64, bool) {
	e, ok := m.entries[prefetch.PageOf(addr)]
	if !ok {
		return 0, false
	}

	offset := prefetch.LineOffset(addr)
	if !e.neighborFound[offset] {
		return 0, false
	}
	return e.neighbor[offset], true
}

// NeighborConfidence returns the confidence of addr's neighbor slot.
func (m *CorrelationMatrix) NeighborConfidence(addr uint64) uint8 {
	e, ok := m.entries[prefetch.PageOf(addr)]
	if !ok {
		return 0
	}
	return e.confidence[prefetch.LineOffset(addr)]
}
