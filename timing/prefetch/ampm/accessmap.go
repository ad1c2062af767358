package ampm

import "fmt"

// Zone geometry. A zone is 256 lines, 16 KiB with 64-byte lines.
const (
	BlockBits  = 6
	IndexWidth = 8
	TagWidth   = 18

	ZoneBits = IndexWidth + BlockBits
	MapSize  = 1 << IndexWidth

	BlockSize uint64 = 1 << BlockBits
	ZoneSize  uint64 = 1 << ZoneBits

	tagMask   uint64 = 1<<TagWidth - 1
	indexMask uint64 = 1<<IndexWidth - 1
)

// ZoneTag returns the tag of the zone holding addr.
func ZoneTag(addr uint64) uint64 {
	return (addr >> ZoneBits) & tagMask
}

// ZoneIndex returns the line index of addr inside its zone.
func ZoneIndex(addr uint64) int {
	return int((addr >> BlockBits) & indexMask)
}

// State is the 2-bit state of one line in an access map.
type State uint8

// Line states.
const (
	StateInit State = iota
	StateAccess
	StatePrefetch
	StateSuccess
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAccess:
		return "access"
	case StatePrefetch:
		return "prefetch"
	case StateSuccess:
		return "success"
	}

	return fmt.Sprintf("State(%d)", uint8(s))
}

const (
	maxLastAccess = 65536
	numAccessCap  = 15
	maxStream     = 7
)

// AccessMap tracks the line states of one zone and a rough estimate of how
// often the zone is being touched.
type AccessMap struct {
	Tag uint64

	LastAccess uint64
	NumAccess  uint64

	AccessFreq uint64
	MissFreq   uint64

	Cells [MapSize]State
}

func (m *AccessMap) reset(tag uint64) {
	*m = AccessMap{Tag: tag}
}

// State returns the state of the line holding addr.
func (m *AccessMap) State(addr uint64) State {
	return m.Cells[ZoneIndex(addr)]
}

// update moves the demanded line forward. Already accessed lines do not
// count as new accesses.
func (m *AccessMap) update(addr uint64) {
	cell := &m.Cells[ZoneIndex(addr)]

	switch *cell {
	case StateInit:
		*cell = StateAccess
	case StatePrefetch:
		*cell = StateSuccess
	default:
		return
	}

	if m.NumAccess >= numAccessCap {
		m.NumAccess = 8
		m.LastAccess >>= 1
	} else {
		m.NumAccess++
	}
}

func (m *AccessMap) markPrefetched(addr uint64) {
	m.Cells[ZoneIndex(addr)] = StatePrefetch
}

func (m *AccessMap) count(s State) int {
	n := 0
	for _, c := range m.Cells {
		if c == s {
			n++
		}
	}
	return n
}

// NumSuccessful returns the number of prefetched lines later demanded.
func (m *AccessMap) NumSuccessful() int {
	return m.count(StateSuccess)
}

// NumFailed returns the number of prefetched lines not demanded yet.
func (m *AccessMap) NumFailed() int {
	return m.count(StatePrefetch)
}

// MaxAccess estimates how many extra prefetches the zone's access rate
// supports.
func (m *AccessMap) MaxAccess() int {
	req := m.NumAccess * 256 / (1 + m.LastAccess)
	if req > maxStream {
		return maxStream
	}
	return int(req)
}

func (m *AccessMap) housekeeping() {
	m.LastAccess++
	if m.LastAccess > maxLastAccess {
		m.LastAccess = maxLastAccess
	}
}
