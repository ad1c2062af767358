package isb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/isb"
)

type request struct {
	kind  prefetch.RequestKind
	addr  uint64
	delay int
}

type recordingSink struct {
	requests []request
	reject   bool
}

func (s *recordingSink) record(kind prefetch.RequestKind, addr uint64, delay int) bool {
	s.requests = append(s.requests, request{kind: kind, addr: addr, delay: delay})
	return !s.reject
}

func (s *recordingSink) RequestPrefetch(addr uint64, delay int) bool {
	return s.record(prefetch.RequestPrefetch, addr, delay)
}

func (s *recordingSink) RequestMetadataWrite(addr uint64, delay int) bool {
	return s.record(prefetch.RequestMetadataWrite, addr, delay)
}

func (s *recordingSink) RequestMetadataRead(addr uint64, delay int) bool {
	return s.record(prefetch.RequestMetadataRead, addr, delay)
}

func (s *recordingSink) prefetches() []request {
	var out []request
	for _, r := range s.requests {
		if r.kind == prefetch.RequestPrefetch {
			out = append(out, r)
		}
	}
	return out
}

type countingHook struct {
	ctxs []sim.HookCtx
}

func (h *countingHook) Func(ctx sim.HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

func (h *countingHook) at(pos *sim.HookPos) []sim.HookCtx {
	var out []sim.HookCtx
	for _, ctx := range h.ctxs {
		if ctx.Pos == pos {
			out = append(out, ctx)
		}
	}
	return out
}

var _ = Describe("Builder", func() {
	It("should use the default parameters", func() {
		p := isb.MakeBuilder().Build(&recordingSink{})

		Expect(p.Degree()).To(Equal(isb.DefaultDegree))
		Expect(p.Lookahead()).To(Equal(isb.DefaultLookahead))
	})

	It("should reject a zero degree", func() {
		Expect(func() {
			isb.MakeBuilder().WithDegree(0).Build(&recordingSink{})
		}).To(Panic())
	})

	It("should reject a missing sink", func() {
		Expect(func() { isb.MakeBuilder().Build(nil) }).To(Panic())
	})
})

var _ = Describe("Prefetcher", func() {
	var (
		sink *recordingSink
		p    *isb.Prefetcher
	)

	encode := func(addr uint64) uint16 {
		return p.Encoder().MustEncodePhyAddr(addr)
	}

	strOf := func(addr uint64) uint32 {
		str, ok := p.AMC().StructuralAddress(encode(addr))
		Expect(ok).To(BeTrue())
		return str
	}

	BeforeEach(func() {
		sink = &recordingSink{}
		p = isb.MakeBuilder().WithDegree(2).Build(sink)
		p.OnTLBEviction(1, 0)
	})

	It("should allocate disjoint streams", func() {
		Expect(p.AssignStructuralAddr()).To(Equal(uint32(256)))
		Expect(p.AssignStructuralAddr()).To(Equal(uint32(512)))
		Expect(p.AssignStructuralAddr()).To(Equal(uint32(768)))
	})

	It("should ignore accesses to pages the TLB does not hold", func() {
		p.OnAccess(7, 0x5000, false, false)
		p.OnAccess(7, 0x5040, false, false)

		Expect(p.Stats().NotResident).To(Equal(uint64(2)))
		Expect(p.TrainingUnit().Len()).To(Equal(0))
		Expect(sink.requests).To(BeEmpty())
	})

	It("should not train an access against itself", func() {
		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1000, false, false)

		Expect(p.Stats().PairsTrained).To(Equal(uint64(0)))
		Expect(p.Stats().StreamsAllocated).To(Equal(uint64(0)))
	})

	It("should lay a repeated sequence out as a stream", func() {
		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1040, false, false)
		p.OnAccess(7, 0x1080, false, false)

		Expect(strOf(0x1000)).To(Equal(uint32(256)))
		Expect(strOf(0x1040)).To(Equal(uint32(257)))
		Expect(strOf(0x1080)).To(Equal(uint32(258)))
		Expect(p.Stats().PairsTrained).To(Equal(uint64(2)))
		Expect(sink.requests).To(BeEmpty())
	})

	It("should prefetch the stream successors nearest first", func() {
		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1040, false, false)
		p.OnAccess(7, 0x1080, false, false)

		p.OnAccess(7, 0x1000, false, false)

		Expect(sink.prefetches()).To(Equal([]request{
			{kind: prefetch.RequestPrefetch, addr: 0x1040, delay: 0},
			{kind: prefetch.RequestPrefetch, addr: 0x1080, delay: 2},
		}))
		Expect(p.Stats().Triggers).To(Equal(uint64(1)))
		Expect(p.Stats().NeighborAgree).To(Equal(uint64(1)))
	})

	It("should correlate accesses per training key", func() {
		p.OnAccess(1, 0x1000, false, false)
		p.OnAccess(2, 0x1800, false, false)
		p.OnAccess(1, 0x1040, false, false)
		p.OnAccess(2, 0x1840, false, false)

		Expect(strOf(0x1040)).To(Equal(strOf(0x1000) + 1))
		Expect(strOf(0x1840)).To(Equal(strOf(0x1800) + 1))
	})

	It("should raise confidence when a pair repeats", func() {
		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1040, false, false)
		p.OnAccess(8, 0x1000, false, false)
		p.OnAccess(8, 0x1040, false, false)

		Expect(p.Stats().ConfidenceRaised).To(Equal(uint64(1)))
		Expect(p.AMC().Confidence(encode(0x1040))).To(Equal(uint8(2)))
	})

	It("should rebind a line once its confidence runs out", func() {
		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1040, false, false)
		p.OnAccess(7, 0x1080, false, false)

		// 0x1000 follows 0x1080 now, so its mapping at 256 loses trust.
		p.OnAccess(7, 0x1000, false, false)

		Expect(p.Stats().Retrained).To(Equal(uint64(1)))
		Expect(strOf(0x1000)).To(Equal(uint32(259)))

		_, ok := p.AMC().PhysicalAddress(256)
		Expect(ok).To(BeFalse())
	})

	It("should move a colliding stream tail to a fresh stream", func() {
		hook := &countingHook{}
		p.AcceptHook(hook)

		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1040, false, false)

		p.OnAccess(8, 0x1000, false, false)
		p.OnAccess(8, 0x10c0, false, false)

		Expect(p.Stats().Divergences).To(Equal(uint64(1)))
		Expect(p.Stats().LinesReassigned).To(Equal(uint64(1)))
		Expect(strOf(0x10c0)).To(Equal(uint32(257)))
		Expect(strOf(0x1040)).To(Equal(uint32(512)))

		phy, ok := p.AMC().PhysicalAddress(512)
		Expect(ok).To(BeTrue())
		Expect(p.Encoder().DecodePhyAddr(phy)).To(Equal(uint64(0x1040)))

		events := hook.at(prefetch.HookPosStreamDivergence)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Item).To(Equal(isb.DivergenceEvent{From: 257, To: 512}))
	})

	It("should not cross a stream boundary when predicting", func() {
		p = isb.MakeBuilder().WithDegree(4).Build(sink)
		p.OnTLBEviction(1, 0)

		p.AMC().Update(encode(0x1000), 510)
		p.AMC().Update(encode(0x1040), 511)
		p.AMC().Update(encode(0x1080), 512)

		p.OnAccess(7, 0x1000, false, false)

		Expect(sink.prefetches()).To(Equal([]request{
			{kind: prefetch.RequestPrefetch, addr: 0x1040, delay: 0},
		}))
		Expect(p.Stats().Buffered).To(Equal(uint64(0)))
	})

	It("should count rejected prefetches", func() {
		sink.reject = true
		p.AMC().Update(encode(0x1000), 256)
		p.AMC().Update(encode(0x1040), 257)

		p.OnAccess(7, 0x1000, false, false)

		Expect(p.Stats().PrefetchesRejected).To(Equal(uint64(1)))
	})

	It("should report requests to hooks", func() {
		hook := &countingHook{}
		p.AcceptHook(hook)
		p.AMC().Update(encode(0x1000), 256)
		p.AMC().Update(encode(0x1040), 257)

		p.OnAccess(7, 0x1000, false, false)

		events := hook.at(prefetch.HookPosPrefetch)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Domain).To(BeIdenticalTo(p))
		Expect(events[0].Item).To(Equal(prefetch.RequestEvent{
			Kind:     prefetch.RequestPrefetch,
			Addr:     0x1040,
			Accepted: true,
		}))
	})

	It("should park unmapped candidates until a page fill maps them", func() {
		p.AMC().Update(encode(0x1000), 256)
		p.AMC().Update(encode(0x1040), 257)

		p.OnAccess(7, 0x1000, false, false)
		Expect(p.Stats().Buffered).To(Equal(uint64(1)))
		Expect(p.PrefetchBuffer().Len()).To(Equal(1))

		p.AMC().Update(encode(0x1080), 258)
		p.OnTLBEviction(2, 1)

		Expect(p.Stats().BufferResolved).To(Equal(uint64(1)))
		Expect(p.PrefetchBuffer().Len()).To(Equal(0))
		Expect(sink.prefetches()).To(ContainElement(
			request{kind: prefetch.RequestPrefetch, addr: 0x1080, delay: 0}))
	})

	It("should clear learned state on reset", func() {
		p.OnAccess(7, 0x1000, false, false)
		p.OnAccess(7, 0x1040, false, false)
		p.Reset()

		Expect(p.Encoder().ExistsPhyPage(0x1000)).To(BeFalse())
		Expect(p.TrainingUnit().Len()).To(Equal(0))
		Expect(p.AssignStructuralAddr()).To(Equal(uint32(256)))
	})

	It("should reset statistics", func() {
		p.OnAccess(7, 0x5000, false, false)
		p.ResetStats()

		Expect(p.Stats()).To(Equal(isb.Stats{}))
	})
})

var _ = Describe("Prefetcher TLB evictions", func() {
	var (
		mockCtrl *gomock.Controller
		sink     *MockSink
		p        *isb.Prefetcher
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sink = NewMockSink(mockCtrl)
		p = isb.MakeBuilder().Build(sink)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should ignore page 0 before any fill", func() {
		p.OnTLBEviction(0, 0)

		Expect(p.Encoder().ExistsPhyPage(0)).To(BeFalse())
		Expect(p.Stats().TLBEvictionsIgnored).To(Equal(uint64(1)))
	})

	It("should ignore repeated and resident pages", func() {
		p.OnTLBEviction(1, 0)
		p.OnTLBEviction(1, 0)
		p.OnTLBEviction(2, 1)
		p.OnTLBEviction(1, 2)

		Expect(p.Stats().TLBEvictions).To(Equal(uint64(2)))
		Expect(p.Stats().TLBEvictionsIgnored).To(Equal(uint64(2)))

		page, ok := p.Encoder().PhyPageAt(0)
		Expect(ok).To(BeTrue())
		Expect(page).To(Equal(uint64(1)))
	})

	It("should panic on a way beyond the encoder", func() {
		Expect(func() { p.OnTLBEviction(1, isb.EncoderSize) }).To(Panic())
	})

	It("should persist mappings across an eviction", func() {
		base := isb.DefaultMetadataBase
		stride := isb.DefaultMetadataStride

		gomock.InOrder(
			sink.EXPECT().RequestMetadataWrite(base, 0).Return(true),
			sink.EXPECT().RequestMetadataWrite(base+stride, 0).Return(true),
			sink.EXPECT().RequestMetadataRead(base, 0).Return(true),
		)

		p.OnTLBEviction(1, 0)
		amc := p.AMC()
		enc := p.Encoder()
		amc.Update(enc.MustEncodePhyAddr(0x1000), 256)
		amc.Update(enc.MustEncodePhyAddr(0x1040), 257)
		amc.Update(enc.MustEncodePhyAddr(0x10c0), 300)

		p.OnTLBEviction(2, 0)

		Expect(enc.ExistsPhyPage(0x1000)).To(BeFalse())
		for _, str := range []uint32{256, 257, 300} {
			_, ok := amc.PhysicalAddress(str)
			Expect(ok).To(BeFalse())
		}
		Expect(p.Stats().PageEntriesMapped[3]).To(Equal(uint64(1)))

		p.OnTLBEviction(1, 0)

		for addr, want := range map[uint64]uint32{
			0x1000: 256,
			0x1040: 257,
			0x10c0: 300,
		} {
			str, ok := amc.StructuralAddress(enc.MustEncodePhyAddr(addr))
			Expect(ok).To(BeTrue())
			Expect(str).To(Equal(want))
		}

		_, ok := amc.StructuralAddress(enc.MustEncodePhyAddr(0x1080))
		Expect(ok).To(BeFalse())

		Expect(p.Stats().PagesWritten).To(Equal(uint64(2)))
		Expect(p.Stats().PagesRestored).To(Equal(uint64(1)))
	})

	It("should count rejected metadata requests", func() {
		sink.EXPECT().RequestMetadataWrite(gomock.Any(), 0).Return(false)

		p.OnTLBEviction(1, 0)
		p.OnTLBEviction(2, 0)

		Expect(p.Stats().MetadataRejected).To(Equal(uint64(1)))
	})
})
