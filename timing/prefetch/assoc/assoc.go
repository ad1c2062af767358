// Package assoc provides the fixed-geometry associative array that every
// prefetcher table is built from. Tags and recency are kept in an Akita cache
// directory; payloads live in a side array indexed by (set, way).
package assoc

import (
	"fmt"
	"log"
	"math/bits"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Geometry describes how keys are sliced into line tag and set index.
//
// A key addresses one sub-entry. Keys sharing key>>log2(LineSize) share a
// line. The set index is taken from the bits starting at IndexShift.
type Geometry struct {
	// Sets is the number of sets. Must be a power of 2.
	Sets int
	// Ways is the associativity.
	Ways int
	// LineSize is the number of sub-entries per line. Must be a power of 2.
	LineSize int
	// IndexShift is the position of the lowest set-index bit in a key.
	IndexShift uint
}

// FullyAssociative returns a single-set geometry with one key per line.
func FullyAssociative(ways int) Geometry {
	return Geometry{Sets: 1, Ways: ways, LineSize: 1}
}

// SetAssociative returns a geometry whose set index sits right above the
// line offset bits.
func SetAssociative(sets, ways, lineSize int) Geometry {
	return Geometry{
		Sets:       sets,
		Ways:       ways,
		LineSize:   lineSize,
		IndexShift: uint(log2(lineSize)),
	}
}

// Validate checks the geometry.
func (g Geometry) Validate() error {
	if g.Sets <= 0 || g.Sets&(g.Sets-1) != 0 {
		return fmt.Errorf("set count %d must be a positive power of 2", g.Sets)
	}
	if g.Ways <= 0 {
		return fmt.Errorf("way count %d must be positive", g.Ways)
	}
	if g.LineSize <= 0 || g.LineSize&(g.LineSize-1) != 0 {
		return fmt.Errorf("line size %d must be a positive power of 2", g.LineSize)
	}
	if g.IndexShift < uint(log2(g.LineSize)) {
		return fmt.Errorf("index shift %d overlaps the %d line offset bits",
			g.IndexShift, log2(g.LineSize))
	}
	return nil
}

// Entries returns the number of lines the geometry holds.
func (g Geometry) Entries() int {
	return g.Sets * g.Ways
}

func (g Geometry) lineBits() uint {
	return uint(log2(g.LineSize))
}

func (g Geometry) setBits() uint {
	return uint(log2(g.Sets))
}

// LineKey returns the key of the first sub-entry in key's line.
func (g Geometry) LineKey(key uint64) uint64 {
	return key >> g.lineBits() << g.lineBits()
}

// SetOf returns the set a key maps to.
func (g Geometry) SetOf(key uint64) int {
	return int((key >> g.IndexShift) & uint64(g.Sets-1))
}

// dirAddr maps a key onto a directory address. The directory is built with
// a block size of one, so its set index is the low log2(Sets) bits; the line
// tag is kept above them so distinct lines never alias.
func (g Geometry) dirAddr(key uint64) uint64 {
	tag := key >> g.lineBits()
	return tag<<g.setBits() | uint64(g.SetOf(key))
}

func (g Geometry) keyOfDirAddr(addr uint64) uint64 {
	return addr >> g.setBits() << g.lineBits()
}

func log2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// Option configures an Array.
type Option func(*options)

type options struct {
	victimFinder akitacache.VictimFinder
}

// WithVictimFinder replaces the default LRU eviction policy.
func WithVictimFinder(vf akitacache.VictimFinder) Option {
	return func(o *options) {
		o.victimFinder = vf
	}
}

// Array is a set-associative table of T payloads.
type Array[T any] struct {
	geometry  Geometry
	directory *akitacache.DirectoryImpl
	payloads  []T
}

// New creates an Array. It panics if the geometry is invalid.
func New[T any](g Geometry, opts ...Option) *Array[T] {
	if err := g.Validate(); err != nil {
		log.Panicf("invalid associative array geometry: %v", err)
	}

	o := options{victimFinder: akitacache.NewLRUVictimFinder()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Array[T]{
		geometry:  g,
		directory: akitacache.NewDirectory(g.Sets, g.Ways, 1, o.victimFinder),
		payloads:  make([]T, g.Entries()),
	}
}

// Geometry returns the geometry the array was built with.
func (a *Array[T]) Geometry() Geometry {
	return a.geometry
}

func (a *Array[T]) payload(block *akitacache.Block) *T {
	return &a.payloads[block.SetID*a.geometry.Ways+block.WayID]
}

func (a *Array[T]) lookup(key uint64) *akitacache.Block {
	block := a.directory.Lookup(0, a.geometry.dirAddr(key))
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

// Probe looks up the line holding key and marks it most recently used.
func (a *Array[T]) Probe(key uint64) (*T, bool) {
	block := a.lookup(key)
	if block == nil {
		return nil, false
	}

	a.directory.Visit(block)

	return a.payload(block), true
}

// Peek looks up the line holding key without touching recency.
func (a *Array[T]) Peek(key uint64) (*T, bool) {
	block := a.lookup(key)
	if block == nil {
		return nil, false
	}
	return a.payload(block), true
}

// Contains reports whether key's line is resident.
func (a *Array[T]) Contains(key uint64) bool {
	return a.lookup(key) != nil
}

// Select returns the slot for key's line. A resident line is refreshed and
// returned as is. Otherwise the victim chosen by the eviction policy is
// reclaimed; if it held a valid line, that line's key is reported. The
// payload of a reclaimed slot still holds the previous contents, and the
// caller is expected to reset it.
func (a *Array[T]) Select(key uint64) (entry *T, evictedKey uint64, evicted bool) {
	if block := a.lookup(key); block != nil {
		a.directory.Visit(block)
		return a.payload(block), 0, false
	}

	addr := a.geometry.dirAddr(key)
	victim := a.directory.FindVictim(addr)
	if victim == nil {
		log.Panicf("no victim available for key 0x%x", key)
	}

	return a.claim(victim, addr)
}

// InstallAt places key's line into a specific way of its set, displacing
// whatever lived there.
func (a *Array[T]) InstallAt(key uint64, way int) (entry *T, evictedKey uint64, evicted bool) {
	if way < 0 || way >= a.geometry.Ways {
		log.Panicf("way %d out of range [0, %d)", way, a.geometry.Ways)
	}

	if block := a.lookup(key); block != nil {
		if block.WayID == way {
			a.directory.Visit(block)
			return a.payload(block), 0, false
		}
		block.IsValid = false
	}

	addr := a.geometry.dirAddr(key)
	set := a.geometry.SetOf(key)

	return a.claim(a.blockAt(set, way), addr)
}

func (a *Array[T]) claim(block *akitacache.Block, addr uint64) (*T, uint64, bool) {
	var evictedKey uint64
	evicted := block.IsValid
	if evicted {
		evictedKey = a.geometry.keyOfDirAddr(block.Tag)
	}

	block.Tag = addr
	block.IsValid = true
	block.IsDirty = false
	a.directory.Visit(block)

	return a.payload(block), evictedKey, evicted
}

func (a *Array[T]) blockAt(set, way int) *akitacache.Block {
	sets := a.directory.GetSets()
	for _, block := range sets[set].Blocks {
		if block.WayID == way {
			return block
		}
	}

	log.Panicf("set %d has no way %d", set, way)
	return nil
}

// KeyAt returns the line key resident at (set, way), if any.
func (a *Array[T]) KeyAt(set, way int) (uint64, bool) {
	block := a.blockAt(set, way)
	if !block.IsValid {
		return 0, false
	}
	return a.geometry.keyOfDirAddr(block.Tag), true
}

// EntryAt returns the payload stored at (set, way), valid or not.
func (a *Array[T]) EntryAt(set, way int) *T {
	return &a.payloads[set*a.geometry.Ways+way]
}

// WayOf returns the way holding key's line.
func (a *Array[T]) WayOf(key uint64) (int, bool) {
	block := a.lookup(key)
	if block == nil {
		return 0, false
	}
	return block.WayID, true
}

// Invalidate drops key's line. It reports whether the line was resident.
func (a *Array[T]) Invalidate(key uint64) bool {
	block := a.lookup(key)
	if block == nil {
		return false
	}

	block.IsValid = false
	block.IsDirty = false

	return true
}

// Len returns the number of resident lines.
func (a *Array[T]) Len() int {
	n := 0
	for _, set := range a.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				n++
			}
		}
	}
	return n
}

// ForEach calls fn for every resident line in set then way order.
func (a *Array[T]) ForEach(fn func(key uint64, entry *T)) {
	for _, set := range a.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				fn(a.geometry.keyOfDirAddr(block.Tag), a.payload(block))
			}
		}
	}
}

// Reset invalidates every line and zeroes the payloads.
func (a *Array[T]) Reset() {
	a.directory.Reset()

	var zero T
	for i := range a.payloads {
		a.payloads[i] = zero
	}
}
