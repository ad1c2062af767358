package isb

import "log"

// PrefetchBufferSize is the number of structural addresses the prefetch
// buffer parks.
const PrefetchBufferSize = 128

// PrefetchBuffer parks structural candidates whose physical address is not
// known yet. New candidates overwrite the oldest slot.
type PrefetchBuffer struct {
	addrs [PrefetchBufferSize]uint32
	valid [PrefetchBufferSize]bool
	next  int
}

// Reset empties the buffer.
func (b *PrefetchBuffer) Reset() {
	*b = PrefetchBuffer{}
}

// Add parks a structural address.
func (b *PrefetchBuffer) Add(str uint32) {
	b.addrs[b.next] = str
	b.valid[b.next] = true
	b.next = (b.next + 1) % PrefetchBufferSize
}

// Issue drops slot i, which must be valid.
func (b *PrefetchBuffer) Issue(i int) {
	if !b.valid[i] {
		log.Panicf("issuing empty prefetch buffer slot %d", i)
	}
	b.valid[i] = false
}

// At returns the structural address parked in slot i.
func (b *PrefetchBuffer) At(i int) (uint32, bool) {
	return b.addrs[i], b.valid[i]
}

// Len returns the number of parked addresses.
func (b *PrefetchBuffer) Len() int {
	n := 0
	for _, v := range b.valid {
		if v {
			n++
		}
	}
	return n
}
