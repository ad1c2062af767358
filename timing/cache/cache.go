// Package cache provides the tag-only cache the prefetch engines are
// evaluated against, built from Akita cache components.
package cache

import (
	"log"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/mem/vm"
)

const pid vm.PID = 0

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int `json:"size" yaml:"size"`
	// Associativity (number of ways)
	Associativity int `json:"associativity" yaml:"associativity"`
	// BlockSize in bytes (cache line size)
	BlockSize int `json:"block_size" yaml:"block_size"`
	// HitLatency in cycles
	HitLatency uint64 `json:"hit_latency" yaml:"hit_latency"`
	// MissLatency in cycles, also the time a prefetch fill takes
	MissLatency uint64 `json:"miss_latency" yaml:"miss_latency"`
	// MSHREntries bounds the number of prefetch fills in flight
	MSHREntries int `json:"mshr_entries" yaml:"mshr_entries"`
}

// DefaultL1DConfig returns default configuration for an L1 data cache:
// 64KB, 8-way, 64B lines.
func DefaultL1DConfig() Config {
	return Config{
		Size:          64 * 1024,
		Associativity: 8,
		BlockSize:     64,
		HitLatency:    3,
		MissLatency:   12,
		MSHREntries:   16,
	}
}

// DefaultL2Config returns default configuration for a unified L2 cache.
// The ISB and AMPM engines both sit at this level.
func DefaultL2Config() Config {
	return Config{
		Size:          1024 * 1024, // 1MB
		Associativity: 16,
		BlockSize:     64,
		HitLatency:    12,
		MissLatency:   150,
		MSHREntries:   32,
	}
}

// NumSets returns the number of sets the configuration describes.
func (c Config) NumSets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}

// AccessResult contains the result of a demand access.
type AccessResult struct {
	// Hit indicates whether the block was resident.
	Hit bool
	// MSHRHit indicates that the block was still being filled by a prefetch.
	MSHRHit bool
	// PrefetchHit indicates the first demand hit on a prefetched block.
	PrefetchHit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Evicted is true if a valid block was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted block (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	MSHRHits   uint64
	Evictions  uint64
	Writebacks uint64

	// PrefetchFills counts prefetched blocks installed.
	PrefetchFills uint64
	// PrefetchesUseful counts prefetches a demand access touched, either
	// while in flight or after the fill.
	PrefetchesUseful uint64
	// PrefetchesUseless counts prefetched blocks evicted untouched.
	PrefetchesUseless uint64
	// PrefetchesRedundant counts prefetches for blocks already resident or
	// in flight.
	PrefetchesRedundant uint64
	// PrefetchesDropped counts prefetches refused on a full MSHR.
	PrefetchesDropped uint64
}

// fill is the record kept in an MSHR entry for a prefetch in flight.
type fill struct {
	ready    uint64
	demanded bool
}

// Cache is a tag-only cache. Demand misses fill immediately; prefetches fill
// after MissLatency cycles through the MSHR.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl
	mshr      akitacache.MSHR

	// prefetched is indexed by (setID * associativity + wayID) and marks
	// blocks brought in by a prefetch and not demanded yet.
	prefetched []bool

	stats Statistics
}

// New creates a new cache with the given configuration.
func New(config Config) *Cache {
	numSets := config.NumSets()
	if numSets <= 0 {
		log.Panicf("cache: %d bytes cannot hold one %d-way set of %d-byte blocks",
			config.Size, config.Associativity, config.BlockSize)
	}

	if config.MSHREntries <= 0 {
		log.Panicf("cache: MSHR entry count %d must be positive", config.MSHREntries)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		mshr:       akitacache.NewMSHR(config.MSHREntries),
		prefetched: make([]bool, numSets*config.Associativity),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// blockIndex computes the index into prefetched for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr / uint64(c.config.BlockSize) * uint64(c.config.BlockSize)
}

// Access performs a demand access at cycle now. A miss allocates the block
// right away; the caller charges the returned latency.
func (c *Cache) Access(addr uint64, now uint64, isWrite bool) AccessResult {
	if isWrite {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}

	blockAddr := c.blockAddr(addr)

	if entry := c.mshr.Query(pid, blockAddr); entry != nil {
		return c.mshrHit(entry, now)
	}

	block := c.directory.Lookup(pid, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		result := AccessResult{Hit: true, Latency: c.config.HitLatency}

		idx := c.blockIndex(block)
		if c.prefetched[idx] {
			c.prefetched[idx] = false
			c.stats.PrefetchesUseful++
			result.PrefetchHit = true
		}

		if isWrite {
			block.IsDirty = true
		}

		return result
	}

	c.stats.Misses++

	result := AccessResult{Latency: c.config.MissLatency}
	victim := c.install(blockAddr, false, &result)
	victim.IsDirty = isWrite

	return result
}

// mshrHit merges a demand access into a prefetch still in flight. The access
// waits for the rest of the fill.
func (c *Cache) mshrHit(entry *akitacache.MSHREntry, now uint64) AccessResult {
	c.stats.MSHRHits++

	f := entry.Requests[0].(*fill)
	if !f.demanded {
		f.demanded = true
		c.stats.PrefetchesUseful++
	}

	latency := c.config.HitLatency
	if f.ready > now && f.ready-now > latency {
		latency = f.ready - now
	}

	return AccessResult{MSHRHit: true, Latency: latency}
}

// install claims the victim of blockAddr's set for blockAddr.
func (c *Cache) install(
	blockAddr uint64,
	prefetched bool,
	result *AccessResult,
) *akitacache.Block {
	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		log.Panicf("cache: no victim for block 0x%x", blockAddr)
	}

	idx := c.blockIndex(victim)

	if victim.IsValid {
		c.stats.Evictions++

		if victim.IsDirty {
			c.stats.Writebacks++
		}

		if c.prefetched[idx] {
			c.stats.PrefetchesUseless++
		}

		if result != nil {
			result.Evicted = true
			result.EvictedAddr = victim.Tag // Tag stores block-aligned address
		}
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.prefetched[idx] = prefetched
	c.directory.Visit(victim)

	return victim
}

// Contains reports whether addr's block is resident.
func (c *Cache) Contains(addr uint64) bool {
	block := c.directory.Lookup(pid, c.blockAddr(addr))
	return block != nil && block.IsValid
}

// InFlight reports whether a prefetch for addr's block has not filled yet.
func (c *Cache) InFlight(addr uint64) bool {
	return c.mshr.Query(pid, c.blockAddr(addr)) != nil
}

// Prefetch starts a fill of addr's block that completes MissLatency cycles
// after now. It returns false when the block is already resident or in
// flight, or when the MSHR is full.
func (c *Cache) Prefetch(addr uint64, now uint64) bool {
	blockAddr := c.blockAddr(addr)

	if c.Contains(blockAddr) || c.InFlight(blockAddr) {
		c.stats.PrefetchesRedundant++
		return false
	}

	if c.mshr.IsFull() {
		c.stats.PrefetchesDropped++
		return false
	}

	entry := c.mshr.Add(pid, blockAddr)
	entry.Requests = append(entry.Requests, &fill{ready: now + c.config.MissLatency})

	return true
}

// Tick installs every prefetch fill that is ready by cycle now, oldest first.
// It returns the number of fills completed.
func (c *Cache) Tick(now uint64) int {
	var ready []*akitacache.MSHREntry

	for _, entry := range c.mshr.AllEntries() {
		if entry.Requests[0].(*fill).ready <= now {
			ready = append(ready, entry)
		}
	}

	for _, entry := range ready {
		f := entry.Requests[0].(*fill)
		c.mshr.Remove(pid, entry.Address)

		c.stats.PrefetchFills++
		c.install(entry.Address, !f.demanded, nil)
	}

	return len(ready)
}

// Pending returns the number of prefetch fills in flight.
func (c *Cache) Pending() int {
	return len(c.mshr.AllEntries())
}

// Invalidate marks a cache line as invalid.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(pid, c.blockAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
		c.prefetched[c.blockIndex(block)] = false
	}
}

// Reset invalidates all cache lines and drops fills in flight.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.mshr.Reset()

	for i := range c.prefetched {
		c.prefetched[i] = false
	}

	c.stats = Statistics{}
}
