package ampm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pfsim/timing/prefetch/ampm"
)

const zoneBase uint64 = 0x100000

var _ = Describe("Zone addressing", func() {
	It("should slice tag and index", func() {
		Expect(ampm.ZoneTag(zoneBase)).To(Equal(uint64(64)))
		Expect(ampm.ZoneIndex(zoneBase + 5*ampm.BlockSize + 3)).To(Equal(5))
		Expect(ampm.ZoneIndex(zoneBase + ampm.ZoneSize)).To(Equal(0))
	})

	It("should name states", func() {
		Expect(ampm.StatePrefetch.String()).To(Equal("prefetch"))
	})
})

var _ = Describe("AccessMap", func() {
	It("should bound the stream estimate", func() {
		m := &ampm.AccessMap{NumAccess: 15}
		Expect(m.MaxAccess()).To(Equal(7))

		m = &ampm.AccessMap{NumAccess: 2, LastAccess: 127}
		Expect(m.MaxAccess()).To(Equal(4))

		m = &ampm.AccessMap{NumAccess: 1, LastAccess: 1000}
		Expect(m.MaxAccess()).To(Equal(0))
	})
})

var _ = Describe("AccessMapTable", func() {
	var table *ampm.AccessMapTable

	BeforeEach(func() {
		table = ampm.NewAccessMapTable(ampm.DefaultSets, ampm.DefaultWays)
	})

	It("should start aggressive with every other mode off", func() {
		Expect(table.Modes()).To(Equal(ampm.Modes{Aggressive: true}))
		Expect(table.Modes().Passive()).To(BeFalse())
	})

	It("should record demand states", func() {
		table.Lookup(zoneBase, false, false)

		zone, ok := table.Peek(zoneBase)
		Expect(ok).To(BeTrue())
		Expect(zone.State(zoneBase)).To(Equal(ampm.StateAccess))
		Expect(zone.NumAccess).To(Equal(uint64(1)))
		Expect(zone.MissFreq).To(Equal(uint64(1)))

		table.MarkPrefetched(zoneBase + ampm.BlockSize)
		table.Lookup(zoneBase+ampm.BlockSize, false, true)
		Expect(zone.State(zoneBase + ampm.BlockSize)).To(Equal(ampm.StateSuccess))
		Expect(zone.AccessFreq).To(Equal(uint64(2)))
		Expect(zone.MissFreq).To(Equal(uint64(1)))
	})

	It("should not count repeated accesses to a line", func() {
		table.Lookup(zoneBase, false, false)
		table.Lookup(zoneBase, false, false)

		zone, _ := table.Peek(zoneBase)
		Expect(zone.NumAccess).To(Equal(uint64(1)))
	})

	It("should load the neighbouring zones", func() {
		table.Lookup(zoneBase, false, false)

		Expect(table.Len()).To(Equal(3))
		_, ok := table.Peek(zoneBase - ampm.ZoneSize)
		Expect(ok).To(BeTrue())
		_, ok = table.Peek(zoneBase + ampm.ZoneSize)
		Expect(ok).To(BeTrue())
	})

	It("should only mark unaccessed lines ahead of a sequential run", func() {
		for k := 0; k < 12; k++ {
			c := table.Lookup(zoneBase+uint64(k)*ampm.BlockSize, false, false)

			for i := 0; i < ampm.MapSize/2; i++ {
				Expect(c.Forward[i]).To(Equal(i >= 1 && 2*i <= k),
					"access %d, forward offset %d", k, i)
				Expect(c.Backward[i]).To(BeFalse(),
					"access %d, backward offset %d", k, i)
			}
		}
	})

	It("should mirror candidates for a descending run", func() {
		top := zoneBase + 200*ampm.BlockSize
		var c ampm.Candidates
		for k := 0; k < 6; k++ {
			c = table.Lookup(top-uint64(k)*ampm.BlockSize, false, false)
		}

		Expect(c.Backward[1]).To(BeTrue())
		Expect(c.Backward[2]).To(BeTrue())
		Expect(c.Backward[3]).To(BeFalse())
		Expect(c.Forward[1]).To(BeFalse())
	})

	It("should tally prefetch outcomes of evicted zones", func() {
		table = ampm.NewAccessMapTable(1, 1)

		table.Access(zoneBase)
		table.MarkPrefetched(zoneBase + ampm.BlockSize)
		table.MarkPrefetched(zoneBase + 2*ampm.BlockSize)
		table.Access(zoneBase + ampm.ZoneSize)

		Expect(table.Stats()).To(Equal(ampm.TableStats{
			Misses:            2,
			Evictions:         1,
			PrefetchesUseless: 2,
		}))
	})

	It("should ignore prefetch marks for absent zones", func() {
		table.MarkPrefetched(zoneBase)
		Expect(table.Len()).To(Equal(0))
	})

	It("should keep its modes when nothing was profiled", func() {
		Expect(table.AdaptModes()).To(BeFalse())
		Expect(table.Modes()).To(Equal(ampm.Modes{Aggressive: true}))
	})

	It("should save entries when demand hits miss the map", func() {
		for i := 0; i < 70; i++ {
			table.Lookup(zoneBase+uint64(i)*ampm.BlockSize, false, true)
		}

		Expect(table.AdaptModes()).To(BeTrue())
		Expect(table.Modes().SaveEntry).To(BeTrue())
		Expect(table.Modes().Passive()).To(BeTrue())
	})

	It("should leave neighbouring zones alone in passive mode", func() {
		for i := 0; i < 70; i++ {
			table.Lookup(zoneBase+uint64(i)*ampm.BlockSize, false, true)
		}
		table.AdaptModes()
		Expect(table.Len()).To(Equal(3))

		table.Lookup(0x900000, false, false)
		Expect(table.Len()).To(Equal(4))
	})

	It("should restore the initial modes on reset", func() {
		for i := 0; i < 70; i++ {
			table.Lookup(zoneBase+uint64(i)*ampm.BlockSize, false, true)
		}
		table.AdaptModes()
		table.Reset()

		Expect(table.Modes()).To(Equal(ampm.Modes{Aggressive: true}))
		Expect(table.Len()).To(Equal(0))
	})

	It("should age resident zones", func() {
		table.Lookup(zoneBase, false, false)
		table.Housekeeping()
		table.Housekeeping()

		zone, _ := table.Peek(zoneBase)
		Expect(zone.LastAccess).To(Equal(uint64(2)))
	})
})
