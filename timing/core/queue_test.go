package core_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/core"
	"github.com/sarchlab/pfsim/timing/prefetch"
)

type manualClock struct {
	now uint64
}

func (c *manualClock) Cycle() uint64 {
	return c.now
}

type hookRecorder struct {
	positions []*sim.HookPos
	events    []prefetch.RequestEvent
}

func (h *hookRecorder) Func(ctx sim.HookCtx) {
	if e, ok := ctx.Item.(prefetch.RequestEvent); ok {
		h.positions = append(h.positions, ctx.Pos)
		h.events = append(h.events, e)
	}
}

var _ = Describe("RequestQueue", func() {
	var (
		clock *manualClock
		q     *core.RequestQueue
	)

	BeforeEach(func() {
		clock = &manualClock{now: 10}
		q = core.NewRequestQueue(2, clock)
	})

	It("should panic on a non-positive size", func() {
		Expect(func() { core.NewRequestQueue(0, clock) }).To(Panic())
	})

	It("should release requests once their delay has passed", func() {
		Expect(q.RequestPrefetch(0x40, 0)).To(BeTrue())
		Expect(q.RequestMetadataRead(0x80, 2)).To(BeTrue())

		Expect(q.Drain(10)).To(Equal([]core.Request{
			{Kind: prefetch.RequestPrefetch, Addr: 0x40, ReadyCycle: 10},
		}))
		Expect(q.Drain(11)).To(BeEmpty())
		Expect(q.Drain(12)).To(Equal([]core.Request{
			{Kind: prefetch.RequestMetadataRead, Addr: 0x80, ReadyCycle: 12},
		}))
		Expect(q.Len()).To(Equal(0))
	})

	It("should keep arrival order among ready requests", func() {
		q.RequestPrefetch(0x40, 1)
		q.RequestMetadataWrite(0x80, 0)

		reqs := q.Drain(20)
		Expect(reqs).To(HaveLen(2))
		Expect(reqs[0].Addr).To(Equal(uint64(0x40)))
		Expect(reqs[1].Addr).To(Equal(uint64(0x80)))
	})

	It("should drop the oldest request when full", func() {
		q.RequestPrefetch(0x40, 0)
		q.RequestMetadataWrite(0x80, 0)
		Expect(q.RequestPrefetch(0xC0, 0)).To(BeTrue())

		Expect(q.Len()).To(Equal(2))
		reqs := q.Drain(10)
		Expect(reqs[0].Addr).To(Equal(uint64(0x80)))
		Expect(reqs[1].Addr).To(Equal(uint64(0xC0)))

		stats := q.Stats()
		Expect(stats.Pushed[prefetch.RequestPrefetch]).To(Equal(uint64(2)))
		Expect(stats.Dropped[prefetch.RequestPrefetch]).To(Equal(uint64(1)))
		Expect(stats.Issued[prefetch.RequestMetadataWrite]).To(Equal(uint64(1)))
	})

	It("should count requests without any hook registered", func() {
		Expect(q.NumHooks()).To(Equal(0))

		q.RequestPrefetch(0x40, 0)
		q.RequestPrefetch(0x80, 0)
		q.RequestPrefetch(0xC0, 0)
		Expect(q.Drain(10)).To(HaveLen(2))

		stats := q.Stats()
		Expect(stats.Dropped[prefetch.RequestPrefetch]).To(Equal(uint64(1)))
		Expect(stats.Issued[prefetch.RequestPrefetch]).To(Equal(uint64(2)))
	})

	It("should report issued and dropped requests to hooks", func() {
		hook := &hookRecorder{}
		q.AcceptHook(hook)
		Expect(q.Hooks()).To(ConsistOf(hook))

		q.RequestPrefetch(0x40, 0)
		q.RequestPrefetch(0x80, 0)
		q.RequestPrefetch(0xC0, 0)
		q.Drain(10)

		Expect(hook.positions).To(Equal([]*sim.HookPos{
			prefetch.HookPosRequestDropped,
			prefetch.HookPosRequestIssued,
			prefetch.HookPosRequestIssued,
		}))
		Expect(hook.events[0].Addr).To(Equal(uint64(0x40)))
		Expect(hook.events[0].Accepted).To(BeFalse())
		Expect(hook.events[2].Accepted).To(BeTrue())
	})

	It("should clear requests and counters on reset", func() {
		q.RequestPrefetch(0x40, 5)
		q.Reset()

		Expect(q.Len()).To(Equal(0))
		Expect(q.Stats()).To(Equal(core.QueueStats{}))
	})
})
