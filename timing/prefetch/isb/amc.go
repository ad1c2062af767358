package isb

import (
	"log"

	"github.com/sarchlab/pfsim/timing/prefetch/assoc"
)

// StreamLength is the number of structural addresses in a stream. Streams
// are the unit of structural address allocation.
const StreamLength = 256

// MaxConfidence is the saturation value of a mapping confidence counter.
const MaxConfidence = 3

// AMC geometry defaults.
const (
	AMCSetCount  = 128
	AMCWayCount  = 8
	AMCLineSize  = 8
	amcLineShift = 3
)

// psMap is one physical-to-structural sub-entry.
type psMap struct {
	str        uint32
	valid      bool
	confidence uint8
}

func (m *psMap) set(str uint32) {
	m.str = str
	m.valid = true
	m.confidence = 1
}

func (m *psMap) increaseConfidence() {
	if m.confidence < MaxConfidence {
		m.confidence++
	}
}

func (m *psMap) lowerConfidence() bool {
	if m.confidence > 0 {
		m.confidence--
	}
	return m.confidence != 0
}

type psLine struct {
	maps [AMCLineSize]psMap
}

func (l *psLine) reset() {
	*l = psLine{}
}

func (l *psLine) allInvalid() bool {
	for i := range l.maps {
		if l.maps[i].valid {
			return false
		}
	}
	return true
}

// spMap is one structural-to-physical sub-entry.
type spMap struct {
	phy   uint16
	valid bool
}

type spLine struct {
	maps [AMCLineSize]spMap
}

func (l *spLine) reset() {
	*l = spLine{}
}

func (l *spLine) allInvalid() bool {
	for i := range l.maps {
		if l.maps[i].valid {
			return false
		}
	}
	return true
}

// PSGeometry is the default physical-to-structural geometry. Its set index
// skips the way bits, so the eight lines of one page spread over a set.
func PSGeometry() assoc.Geometry {
	return assoc.Geometry{
		Sets:       AMCSetCount,
		Ways:       AMCWayCount,
		LineSize:   AMCLineSize,
		IndexShift: amcLineShift + 3,
	}
}

// SPGeometry is the default structural-to-physical geometry.
func SPGeometry() assoc.Geometry {
	return assoc.SetAssociative(AMCSetCount, AMCWayCount, AMCLineSize)
}

// AddressMappingCache translates between encoded physical indices and
// structural addresses in both directions.
//
// The two directions are separate tables and evict independently. A mapping
// evicted from one side may survive on the other; lookups tolerate that.
type AddressMappingCache struct {
	ps *assoc.Array[psLine]
	sp *assoc.Array[spLine]
}

// NewAddressMappingCache creates an AMC with the given geometries.
func NewAddressMappingCache(psGeometry, spGeometry assoc.Geometry) *AddressMappingCache {
	if psGeometry.LineSize != AMCLineSize || spGeometry.LineSize != AMCLineSize {
		log.Panicf("AMC lines must hold %d sub-entries", AMCLineSize)
	}

	return &AddressMappingCache{
		ps: assoc.New[psLine](psGeometry),
		sp: assoc.New[spLine](spGeometry),
	}
}

// Reset drops every mapping.
func (c *AddressMappingCache) Reset() {
	c.ps.Reset()
	c.sp.Reset()
}

// StructuralAddress returns the structural address mapped to phy.
func (c *AddressMappingCache) StructuralAddress(phy uint16) (uint32, bool) {
	line, ok := c.ps.Probe(uint64(phy))
	if !ok {
		return 0, false
	}

	m := &line.maps[phy%AMCLineSize]
	if !m.valid {
		return 0, false
	}
	return m.str, true
}

// PhysicalAddress returns the encoded physical index mapped to str.
func (c *AddressMappingCache) PhysicalAddress(str uint32) (uint16, bool) {
	line, ok := c.sp.Probe(uint64(str))
	if !ok {
		return 0, false
	}

	m := &line.maps[str%AMCLineSize]
	if !m.valid {
		return 0, false
	}
	return m.phy, true
}

// Confidence returns the confidence of phy's mapping, or 0 if unmapped.
func (c *AddressMappingCache) Confidence(phy uint16) uint8 {
	line, ok := c.ps.Peek(uint64(phy))
	if !ok || !line.maps[phy%AMCLineSize].valid {
		return 0
	}
	return line.maps[phy%AMCLineSize].confidence
}

func (c *AddressMappingCache) selectPS(phy uint16) *psLine {
	line, ok := c.ps.Probe(uint64(phy))
	if !ok {
		line, _, _ = c.ps.Select(uint64(phy))
		line.reset()
	}
	return line
}

func (c *AddressMappingCache) selectSP(str uint32) *spLine {
	line, ok := c.sp.Probe(uint64(str))
	if !ok {
		line, _, _ = c.sp.Select(uint64(str))
		line.reset()
	}
	return line
}

// Update maps phy to str in both directions. The physical sub-entry starts
// over with a confidence of 1.
func (c *AddressMappingCache) Update(phy uint16, str uint32) {
	c.selectPS(phy).maps[phy%AMCLineSize].set(str)

	sp := &c.selectSP(str).maps[str%AMCLineSize]
	sp.phy = phy
	sp.valid = true
}

// Invalidate removes the mapping between phy and str. phy must be mapped.
func (c *AddressMappingCache) Invalidate(phy uint16, str uint32) {
	ps, ok := c.ps.Probe(uint64(phy))
	if !ok {
		log.Panicf("invalidating unmapped physical index 0x%x", phy)
	}

	ps.maps[phy%AMCLineSize] = psMap{}
	if ps.allInvalid() {
		c.ps.Invalidate(uint64(phy))
	}

	if sp, ok := c.sp.Probe(uint64(str)); ok {
		sp.maps[str%AMCLineSize] = spMap{}
		if sp.allInvalid() {
			c.sp.Invalidate(uint64(str))
		}
	}
}

func (c *AddressMappingCache) mustPS(phy uint16) *psMap {
	line, ok := c.ps.Probe(uint64(phy))
	if !ok {
		log.Panicf("physical index 0x%x has no mapping line", phy)
	}
	return &line.maps[phy%AMCLineSize]
}

// IncreaseConfidence raises the confidence of phy's mapping, saturating at 3.
func (c *AddressMappingCache) IncreaseConfidence(phy uint16) {
	c.mustPS(phy).increaseConfidence()
}

// LowerConfidence lowers the confidence of phy's mapping. It returns false
// once the counter reaches 0, meaning the mapping is no longer trusted.
func (c *AddressMappingCache) LowerConfidence(phy uint16) bool {
	return c.mustPS(phy).lowerConfidence()
}

// ReassignStream moves every mapping from oldStart up to the end of its
// stream onto the addresses starting at newBase, keeping relative order.
func (c *AddressMappingCache) ReassignStream(oldStart, newBase uint32) int {
	moved := 0

	for addr, dst := oldStart, newBase; addr%StreamLength != 0; addr, dst = addr+1, dst+1 {
		line, ok := c.sp.Probe(uint64(addr))
		if !ok || !line.maps[addr%AMCLineSize].valid {
			continue
		}

		phy := line.maps[addr%AMCLineSize].phy
		line.maps[addr%AMCLineSize] = spMap{}
		if line.allInvalid() {
			c.sp.Invalidate(uint64(addr))
		}

		if ps, ok := c.ps.Probe(uint64(phy)); ok {
			ps.maps[phy%AMCLineSize].set(dst)
		}

		sp := &c.selectSP(dst).maps[dst%AMCLineSize]
		sp.phy = phy
		sp.valid = true

		moved++
	}

	return moved
}
