// Package isb implements the Irregular Stream Buffer prefetcher.
//
// ISB maps correlated physical lines onto consecutive addresses of a
// structural address space. Irregular but repeating access sequences become
// sequential streams there, and prediction is a simple next-N walk of the
// stream followed by a translation back to physical space.
package isb

import (
	"log"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/prefetch"
)

// Stats holds ISB activity counters.
type Stats struct {
	// Accesses is the number of demand accesses observed.
	Accesses uint64
	// NotResident counts accesses ignored because the page was not encoded.
	NotResident uint64
	// Triggers counts accesses that had a structural address and predicted.
	Triggers uint64

	PrefetchesIssued   uint64
	PrefetchesRejected uint64
	// Buffered counts candidates parked in the prefetch buffer.
	Buffered uint64
	// BufferResolved counts parked candidates issued after a page fill.
	BufferResolved uint64

	PairsTrained      uint64
	StreamsAllocated  uint64
	ConfidenceRaised  uint64
	ConfidenceLowered uint64
	// Retrained counts mappings dropped after confidence reached zero.
	Retrained uint64
	// Divergences counts stream collisions resolved by reassignment.
	Divergences     uint64
	LinesReassigned uint64

	TLBEvictions        uint64
	TLBEvictionsIgnored uint64
	PagesWritten        uint64
	PagesRestored       uint64
	MetadataRejected    uint64
	// PageEntriesMapped[n] counts evicted pages that had n mapped lines.
	PageEntriesMapped [prefetch.LinesPerPage + 1]uint64

	// Agreement between the first ISB candidate and the neighbor predictor.
	NeighborAgree    uint64
	NeighborDisagree uint64
	NeighborOffPage  uint64
}

// Coverage returns the fraction of triggers among resident accesses.
func (s Stats) Coverage() float64 {
	resident := s.Accesses - s.NotResident
	if resident == 0 {
		return 0
	}
	return float64(s.Triggers) / float64(resident) * 100
}

// DivergenceEvent is the hook item of HookPosStreamDivergence.
type DivergenceEvent struct {
	From uint32
	To   uint32
}

// Prefetcher is the ISB engine.
type Prefetcher struct {
	prefetch.Emitter

	degree    int
	lookahead int

	trainingUnit *TrainingUnit
	amc          *AddressMappingCache
	encoder      *AddressEncoder
	corrMatrix   *CorrelationMatrix
	buffer       PrefetchBuffer

	allocCounter uint32
	lastPage     uint64

	stats  Stats
	logger logrus.FieldLogger
}

// Degree returns the maximum number of candidates per trigger.
func (p *Prefetcher) Degree() int {
	return p.degree
}

// Lookahead returns the structural distance of the first candidate.
func (p *Prefetcher) Lookahead() int {
	return p.lookahead
}

// AMC exposes the address mapping cache.
func (p *Prefetcher) AMC() *AddressMappingCache {
	return p.amc
}

// Encoder exposes the address encoder.
func (p *Prefetcher) Encoder() *AddressEncoder {
	return p.encoder
}

// TrainingUnit exposes the training unit.
func (p *Prefetcher) TrainingUnit() *TrainingUnit {
	return p.trainingUnit
}

// CorrelationMatrix exposes the off-chip correlation matrix.
func (p *Prefetcher) CorrelationMatrix() *CorrelationMatrix {
	return p.corrMatrix
}

// PrefetchBuffer exposes the prefetch buffer.
func (p *Prefetcher) PrefetchBuffer() *PrefetchBuffer {
	return &p.buffer
}

// Stats returns activity counters.
func (p *Prefetcher) Stats() Stats {
	return p.stats
}

// ResetStats clears activity counters.
func (p *Prefetcher) ResetStats() {
	p.stats = Stats{}
}

// Reset clears all learned state. Statistics are kept.
func (p *Prefetcher) Reset() {
	p.trainingUnit.Reset()
	p.amc.Reset()
	p.encoder.Reset()
	p.buffer.Reset()
	p.allocCounter = 0
	p.lastPage = 0
}

// AssignStructuralAddr allocates a fresh stream and returns its first
// address. Streams are never reused within a run.
func (p *Prefetcher) AssignStructuralAddr() uint32 {
	p.allocCounter += StreamLength
	p.stats.StreamsAllocated++

	return p.encoder.EncodeStrAddr(p.allocCounter)
}

func (p *Prefetcher) issue(kind prefetch.RequestKind, addr uint64, delay int) {
	if p.Emit(p, kind, addr, delay) {
		return
	}

	if kind == prefetch.RequestPrefetch {
		p.stats.PrefetchesRejected++
	} else {
		p.stats.MetadataRejected++
	}
}

// OnAccess observes a demand access to addrB under training key.
func (p *Prefetcher) OnAccess(key, addrB uint64, _, _ bool) {
	p.stats.Accesses++

	if !p.encoder.ExistsPhyPage(addrB) {
		p.stats.NotResident++
		return
	}

	encodedB := p.encoder.MustEncodePhyAddr(addrB)

	strB, ok := p.amc.StructuralAddress(encodedB)
	if ok {
		p.predict(addrB, strB)
	}

	pairFound, addrA, strA := p.trainingUnit.Access(key, addrB)
	if pairFound {
		p.corrMatrix.UpdateNeighbor(addrA, addrB)

		if strA == 0 && p.encoder.ExistsPhyPage(addrA) {
			strA = p.AssignStructuralAddr()
			p.amc.Update(p.encoder.MustEncodePhyAddr(addrA), strA)
		}

		strB = p.train(strA, encodedB)
	}

	p.trainingUnit.Update(key, addrB, strB)
}

func (p *Prefetcher) predict(trigger uint64, strB uint32) {
	p.stats.Triggers++

	var first uint64
	issued := false

	stream := strB / StreamLength
	for i := 0; i < p.degree; i++ {
		candidate := strB + uint32(p.lookahead+i)
		if candidate/StreamLength != stream {
			break
		}

		phy, ok := p.amc.PhysicalAddress(candidate)
		if !ok {
			p.buffer.Add(candidate)
			p.stats.Buffered++
			continue
		}

		addr := p.encoder.DecodePhyAddr(phy)
		p.issue(prefetch.RequestPrefetch, addr, 2*i)
		p.stats.PrefetchesIssued++

		if !issued {
			first = addr
			issued = true
		}
	}

	p.compareNeighbor(trigger, first, issued)
}

func (p *Prefetcher) compareNeighbor(trigger, candidate uint64, issued bool) {
	neighbor, ok := p.corrMatrix.Neighbor(trigger)
	if !ok {
		return
	}

	switch {
	case !p.encoder.ExistsPhyPage(neighbor):
		p.stats.NeighborOffPage++
	case !issued:
	case neighbor == candidate:
		p.stats.NeighborAgree++
	default:
		p.stats.NeighborDisagree++
	}
}

// train correlates B with the access A that preceded it and returns B's
// structural address.
func (p *Prefetcher) train(strA uint32, encodedB uint16) uint32 {
	p.stats.PairsTrained++

	strB, existsB := p.amc.StructuralAddress(encodedB)

	// A ends its stream, so B starts a new one if it has none.
	if (strA+1)%StreamLength == 0 {
		if !existsB {
			strB = p.AssignStructuralAddr()
			p.amc.Update(encodedB, strB)
		}
		return strB
	}

	if existsB {
		if strB == strA+1 {
			p.amc.IncreaseConfidence(encodedB)
			p.stats.ConfidenceRaised++
			return strB
		}

		p.stats.ConfidenceLowered++
		if p.amc.LowerConfidence(encodedB) {
			return strB
		}

		p.amc.Invalidate(encodedB, strB)
		p.stats.Retrained++
	}

	if _, taken := p.amc.PhysicalAddress(strA + 1); taken {
		p.divergeStream(strA + 1)
	}

	strB = strA + 1
	p.amc.Update(encodedB, strB)

	return strB
}

func (p *Prefetcher) divergeStream(from uint32) {
	to := p.AssignStructuralAddr()
	moved := p.amc.ReassignStream(from, to)

	p.stats.Divergences++
	p.stats.LinesReassigned += uint64(moved)

	p.logger.WithFields(logrus.Fields{
		"from":  from,
		"to":    to,
		"moved": moved,
	}).Debug("isb: stream divergence")

	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    prefetch.HookPosStreamDivergence,
		Item:   DivergenceEvent{From: from, To: to},
	})
}

// OnTLBEviction moves the mappings of the page leaving TLB way into the
// correlation matrix and brings in the mappings of the arriving page.
func (p *Prefetcher) OnTLBEviction(page uint64, way int) {
	if way < 0 || way >= EncoderSize {
		log.Panicf("TLB way %d out of encoder range", way)
	}

	if page == p.lastPage || p.encoder.ExistsPhyPage(page<<prefetch.PageBits) {
		p.stats.TLBEvictionsIgnored++
		return
	}

	p.stats.TLBEvictions++

	mapped := 0
	if evicted, ok := p.encoder.PhyPageAt(way); ok {
		mapped = p.spill(evicted, way)
		p.stats.PageEntriesMapped[mapped]++
	}

	p.encoder.InsertPhyPage(page, way)
	restored := p.restore(page)

	p.logger.WithFields(logrus.Fields{
		"page":     page,
		"way":      way,
		"spilled":  mapped,
		"restored": restored,
	}).Debug("isb: tlb eviction")

	p.lastPage = page

	p.drainBuffer()
}

// spill saves and invalidates every mapping of the page at way.
func (p *Prefetcher) spill(page uint64, way int) int {
	var strs [prefetch.LinesPerPage]uint32
	var present [prefetch.LinesPerPage]bool

	count := 0
	for i := 0; i < prefetch.LinesPerPage; i++ {
		phy := uint16(way)<<6 | uint16(i)

		str, ok := p.amc.StructuralAddress(phy)
		if !ok {
			continue
		}

		strs[i] = p.encoder.DecodeStrAddr(str)
		present[i] = true
		p.amc.Invalidate(phy, str)
		count++
	}

	metaAddr := p.corrMatrix.UpdateStrAddr(page, &strs, &present)
	p.stats.PagesWritten++
	p.issue(prefetch.RequestMetadataWrite, metaAddr, 0)

	return count
}

// restore reloads page's saved mappings into the AMC.
func (p *Prefetcher) restore(page uint64) int {
	strs, present, metaAddr, ok := p.corrMatrix.StructuralAddresses(page)
	if !ok {
		return 0
	}

	p.stats.PagesRestored++
	p.issue(prefetch.RequestMetadataRead, metaAddr, 0)

	count := 0
	for i := 0; i < prefetch.LinesPerPage; i++ {
		if !present[i] {
			continue
		}

		addr := page<<prefetch.PageBits | uint64(i)<<prefetch.LineBits
		p.amc.Update(p.encoder.MustEncodePhyAddr(addr), p.encoder.EncodeStrAddr(strs[i]))
		count++
	}

	return count
}

// drainBuffer issues every parked candidate that now has a physical address.
func (p *Prefetcher) drainBuffer() {
	for i := 0; i < PrefetchBufferSize; i++ {
		str, valid := p.buffer.At(i)
		if !valid {
			continue
		}

		phy, ok := p.amc.PhysicalAddress(str)
		if !ok {
			continue
		}

		p.issue(prefetch.RequestPrefetch, p.encoder.DecodePhyAddr(phy), 0)
		p.buffer.Issue(i)
		p.stats.BufferResolved++
		p.stats.PrefetchesIssued++
	}
}
