package pftrace_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/ampm"
	"github.com/sarchlab/pfsim/timing/prefetch/isb"
	"github.com/sarchlab/pfsim/timing/prefetch/pftrace"
)

type memoryWriter struct {
	records []pftrace.Record
}

func (w *memoryWriter) Write(r pftrace.Record) {
	w.records = append(w.records, r)
}

func (w *memoryWriter) Flush() error {
	return nil
}

type fixedClock uint64

func (c fixedClock) Cycle() uint64 {
	return uint64(c)
}

var _ = Describe("Recorder", func() {
	var (
		writer   *memoryWriter
		recorder *pftrace.Recorder
	)

	BeforeEach(func() {
		writer = &memoryWriter{}
		recorder = pftrace.NewRecorder("isb", fixedClock(42), writer)
	})

	It("should record requests", func() {
		recorder.Func(sim.HookCtx{
			Pos: prefetch.HookPosMetadataWrite,
			Item: prefetch.RequestEvent{
				Kind:     prefetch.RequestMetadataWrite,
				Addr:     0x8000,
				Delay:    3,
				Accepted: false,
			},
		})

		Expect(writer.records).To(HaveLen(1))
		r := writer.records[0]
		Expect(r.ID).NotTo(BeEmpty())
		Expect(r.Kind).To(Equal("metadata-write"))
		Expect(r.Where).To(Equal("isb"))
		Expect(r.Addr).To(Equal(uint64(0x8000)))
		Expect(r.Delay).To(Equal(3))
		Expect(r.Accepted).To(BeFalse())
		Expect(r.Cycle).To(Equal(uint64(42)))
		Expect(r.Detail).To(Equal("emitted"))
	})

	It("should tag requests by the queue stage that reported them", func() {
		event := prefetch.RequestEvent{Kind: prefetch.RequestPrefetch, Addr: 0x40}
		recorder.Func(sim.HookCtx{Pos: prefetch.HookPosRequestIssued, Item: event})
		recorder.Func(sim.HookCtx{Pos: prefetch.HookPosRequestDropped, Item: event})

		Expect(writer.records[0].Detail).To(Equal("issued"))
		Expect(writer.records[1].Detail).To(Equal("dropped"))
	})

	It("should record stream divergences", func() {
		recorder.Func(sim.HookCtx{
			Pos:  prefetch.HookPosStreamDivergence,
			Item: isb.DivergenceEvent{From: 257, To: 512},
		})

		Expect(writer.records[0].Kind).To(Equal("stream-divergence"))
		Expect(writer.records[0].Addr).To(Equal(uint64(257)))
		Expect(writer.records[0].Detail).To(Equal("to=512"))
	})

	It("should record mode switches", func() {
		recorder.Func(sim.HookCtx{
			Pos:  prefetch.HookPosModeSwitch,
			Item: ampm.ModeEvent{To: ampm.Modes{SaveEntry: true}},
		})

		Expect(writer.records[0].Kind).To(Equal("mode-switch"))
		Expect(writer.records[0].Detail).To(ContainSubstring("save_entry=true"))
	})

	It("should skip unknown items", func() {
		recorder.Func(sim.HookCtx{Item: "unrelated"})
		Expect(writer.records).To(BeEmpty())
	})

	It("should give every record its own id", func() {
		ctx := sim.HookCtx{Item: prefetch.RequestEvent{Kind: prefetch.RequestPrefetch}}
		recorder.Func(ctx)
		recorder.Func(ctx)

		Expect(writer.records[0].ID).NotTo(Equal(writer.records[1].ID))
	})
})

var _ = Describe("CSVWriter", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "trace")
	})

	It("should write a header and the flushed records", func() {
		w := pftrace.NewCSVWriter(path)
		Expect(w.Init()).To(Succeed())

		w.Write(pftrace.Record{
			ID:       "a",
			Kind:     "prefetch",
			Where:    "ampm",
			Addr:     0x1040,
			Accepted: true,
			Cycle:    7,
		})
		Expect(w.Close()).To(Succeed())
		Expect(w.Close()).To(Succeed())

		data, err := os.ReadFile(path + ".csv")
		Expect(err).NotTo(HaveOccurred())

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(HavePrefix("ID, Kind"))
		Expect(lines[1]).To(Equal("a, prefetch, ampm, 0x1040, 0, true, , 7"))
	})

	It("should refuse to overwrite a file", func() {
		Expect(os.WriteFile(path+".csv", nil, 0o644)).To(Succeed())

		w := pftrace.NewCSVWriter(path)
		Expect(w.Init()).NotTo(Succeed())
	})
})
