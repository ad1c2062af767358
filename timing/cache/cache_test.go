package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pfsim/timing/cache"
)

var _ = Describe("Cache", func() {
	var c *cache.Cache

	BeforeEach(func() {
		// Small cache for testing: 4KB, 4-way, 64B lines, 16 sets
		config := cache.Config{
			Size:          4 * 1024,
			Associativity: 4,
			BlockSize:     64,
			HitLatency:    1,
			MissLatency:   10,
			MSHREntries:   2,
		}
		c = cache.New(config)
	})

	It("should panic on a geometry with no sets", func() {
		Expect(func() {
			cache.New(cache.Config{Size: 64, Associativity: 4, BlockSize: 64, MSHREntries: 1})
		}).To(Panic())
	})

	Describe("Demand accesses", func() {
		It("should miss on cold cache", func() {
			result := c.Access(0x1000, 0, false)
			Expect(result.Hit).To(BeFalse())
			Expect(result.MSHRHit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(10)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should hit on cached data", func() {
			c.Access(0x1000, 0, false)

			result := c.Access(0x1000, 1, false)
			Expect(result.Hit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(1)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(2)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(1)))
		})

		It("should hit on different addresses in same cache line", func() {
			c.Access(0x1000, 0, false)

			Expect(c.Access(0x1004, 1, false).Hit).To(BeTrue())
			Expect(c.Contains(0x103F)).To(BeTrue())
			Expect(c.Contains(0x1040)).To(BeFalse())
		})

		It("should write-allocate on miss", func() {
			result := c.Access(0x1000, 0, true)
			Expect(result.Hit).To(BeFalse())

			Expect(c.Access(0x1000, 1, false).Hit).To(BeTrue())
			Expect(c.Stats().Writes).To(Equal(uint64(1)))
		})
	})

	Describe("Eviction", func() {
		fillSet := func() {
			// Set 0 addresses: 0x0000, 0x0400, 0x0800, 0x0C00, 0x1000
			c.Access(0x0000, 0, true)
			c.Access(0x0400, 0, true)
			c.Access(0x0800, 0, true)
			c.Access(0x0C00, 0, true)
		}

		It("should evict the least recently used block when a set is full", func() {
			fillSet()
			c.Access(0x0000, 1, false)

			result := c.Access(0x1000, 2, false)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Evicted).To(BeTrue())
			Expect(result.EvictedAddr).To(Equal(uint64(0x0400)))

			stats := c.Stats()
			Expect(stats.Evictions).To(Equal(uint64(1)))
			Expect(stats.Writebacks).To(Equal(uint64(1)))
		})

		It("should count prefetched blocks evicted untouched as useless", func() {
			Expect(c.Prefetch(0x0000, 0)).To(BeTrue())
			c.Tick(10)

			c.Access(0x0400, 11, false)
			c.Access(0x0800, 11, false)
			c.Access(0x0C00, 11, false)
			c.Access(0x1000, 11, false)

			Expect(c.Contains(0x0000)).To(BeFalse())
			Expect(c.Stats().PrefetchesUseless).To(Equal(uint64(1)))
		})
	})

	Describe("Prefetch fills", func() {
		It("should fill a prefetched block after the miss latency", func() {
			Expect(c.Prefetch(0x2000, 5)).To(BeTrue())
			Expect(c.InFlight(0x2000)).To(BeTrue())
			Expect(c.Pending()).To(Equal(1))

			Expect(c.Tick(14)).To(Equal(0))
			Expect(c.Contains(0x2000)).To(BeFalse())

			Expect(c.Tick(15)).To(Equal(1))
			Expect(c.Contains(0x2000)).To(BeTrue())
			Expect(c.InFlight(0x2000)).To(BeFalse())
			Expect(c.Stats().PrefetchFills).To(Equal(uint64(1)))
		})

		It("should count the first demand hit on a prefetched block as useful", func() {
			c.Prefetch(0x2000, 0)
			c.Tick(10)

			first := c.Access(0x2000, 11, false)
			Expect(first.Hit).To(BeTrue())
			Expect(first.PrefetchHit).To(BeTrue())

			second := c.Access(0x2000, 12, false)
			Expect(second.PrefetchHit).To(BeFalse())

			Expect(c.Stats().PrefetchesUseful).To(Equal(uint64(1)))
		})

		It("should merge a demand access into a fill in flight", func() {
			c.Prefetch(0x2000, 0)

			result := c.Access(0x2000, 4, false)
			Expect(result.Hit).To(BeFalse())
			Expect(result.MSHRHit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(6)))

			c.Access(0x2000, 5, false)

			stats := c.Stats()
			Expect(stats.MSHRHits).To(Equal(uint64(2)))
			Expect(stats.PrefetchesUseful).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(0)))

			c.Tick(10)
			Expect(c.Access(0x2000, 11, false).PrefetchHit).To(BeFalse())
		})

		It("should charge at least the hit latency on a late MSHR hit", func() {
			c.Prefetch(0x2000, 0)

			Expect(c.Access(0x2000, 10, false).Latency).To(Equal(uint64(1)))
		})

		It("should refuse redundant prefetches", func() {
			c.Access(0x1000, 0, false)

			Expect(c.Prefetch(0x1000, 0)).To(BeFalse())
			Expect(c.Prefetch(0x2000, 0)).To(BeTrue())
			Expect(c.Prefetch(0x2010, 0)).To(BeFalse())

			Expect(c.Stats().PrefetchesRedundant).To(Equal(uint64(2)))
		})

		It("should drop prefetches when the MSHR is full", func() {
			Expect(c.Prefetch(0x2000, 0)).To(BeTrue())
			Expect(c.Prefetch(0x3000, 0)).To(BeTrue())
			Expect(c.Prefetch(0x4000, 0)).To(BeFalse())

			Expect(c.Stats().PrefetchesDropped).To(Equal(uint64(1)))
		})
	})

	It("should invalidate a block", func() {
		c.Access(0x1000, 0, false)
		c.Invalidate(0x1000)

		Expect(c.Contains(0x1000)).To(BeFalse())
	})

	It("should reset all state", func() {
		c.Access(0x1000, 0, false)
		c.Prefetch(0x2000, 0)
		c.Reset()

		Expect(c.Contains(0x1000)).To(BeFalse())
		Expect(c.Pending()).To(Equal(0))
		Expect(c.Stats()).To(Equal(cache.Statistics{}))
	})

	Describe("Default configurations", func() {
		It("should create L1D config", func() {
			config := cache.DefaultL1DConfig()
			Expect(config.Size).To(Equal(64 * 1024))
			Expect(config.Associativity).To(Equal(8))
			Expect(config.BlockSize).To(Equal(64))
		})

		It("should create L2 config", func() {
			config := cache.DefaultL2Config()
			Expect(config.NumSets()).To(Equal(1024))
			Expect(config.MSHREntries).To(Equal(32))
		})
	})
})
