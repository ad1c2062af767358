package isb

import (
	"log"

	"github.com/sarchlab/pfsim/timing/prefetch/assoc"
)

// TrainingUnitSize is the number of keys the training unit tracks.
const TrainingUnitSize = 64

type trainingEntry struct {
	addr uint64
	str  uint32
}

// TrainingUnit remembers the last access seen under each training key.
type TrainingUnit struct {
	entries *assoc.Array[trainingEntry]
}

// NewTrainingUnit creates a training unit with the given number of entries.
func NewTrainingUnit(size int) *TrainingUnit {
	return &TrainingUnit{
		entries: assoc.New[trainingEntry](assoc.FullyAssociative(size)),
	}
}

// Reset forgets every key.
func (t *TrainingUnit) Reset() {
	t.entries.Reset()
}

// Access looks up the previous access under key. pairFound is false when
// the key is new or when addrB repeats the previous address.
func (t *TrainingUnit) Access(key, addrB uint64) (pairFound bool, addrA uint64, strA uint32) {
	entry, ok := t.entries.Probe(key)
	if !ok {
		entry, _, _ = t.entries.Select(key)
		*entry = trainingEntry{}
	}

	if entry.addr == addrB {
		return false, entry.addr, entry.str
	}

	return ok, entry.addr, entry.str
}

// Update records (addrB, strB) as the latest access under key.
func (t *TrainingUnit) Update(key, addrB uint64, strB uint32) {
	entry, ok := t.entries.Probe(key)
	if !ok {
		log.Panicf("training key 0x%x updated before access", key)
	}

	entry.addr = addrB
	entry.str = strB
}

// Len returns the number of tracked keys.
func (t *TrainingUnit) Len() int {
	return t.entries.Len()
}
