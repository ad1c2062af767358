// Package pftrace records the requests and events of prefetch engines.
package pftrace

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/ampm"
	"github.com/sarchlab/pfsim/timing/prefetch/isb"
)

// Record is one traced event.
type Record struct {
	ID       string
	Kind     string
	Where    string
	Addr     uint64
	Delay    int
	Accepted bool
	Detail   string
	Cycle    uint64
}

// Writer stores records.
type Writer interface {
	Write(r Record)
	Flush() error
}

// Clock tells the current simulated cycle.
type Clock interface {
	Cycle() uint64
}

// Recorder is a hook that turns engine events into records.
type Recorder struct {
	where  string
	clock  Clock
	writer Writer
}

// NewRecorder creates a Recorder that stamps records with where and the
// cycle read from clock.
func NewRecorder(where string, clock Clock, writer Writer) *Recorder {
	return &Recorder{
		where:  where,
		clock:  clock,
		writer: writer,
	}
}

// Func implements sim.Hook.
func (r *Recorder) Func(ctx sim.HookCtx) {
	rec, ok := r.convert(ctx)
	if !ok {
		return
	}

	rec.ID = xid.New().String()
	rec.Where = r.where
	if r.clock != nil {
		rec.Cycle = r.clock.Cycle()
	}

	r.writer.Write(rec)
}

func (r *Recorder) convert(ctx sim.HookCtx) (Record, bool) {
	switch item := ctx.Item.(type) {
	case prefetch.RequestEvent:
		return Record{
			Kind:     item.Kind.String(),
			Addr:     item.Addr,
			Delay:    item.Delay,
			Accepted: item.Accepted,
			Detail:   stageOf(ctx.Pos),
		}, true
	case isb.DivergenceEvent:
		return Record{
			Kind:     "stream-divergence",
			Addr:     uint64(item.From),
			Accepted: true,
			Detail:   fmt.Sprintf("to=%d", item.To),
		}, true
	case ampm.ModeEvent:
		return Record{
			Kind:     "mode-switch",
			Accepted: true,
			Detail: fmt.Sprintf("aggressive=%t save_entry=%t conflict_avoid=%t",
				item.To.Aggressive, item.To.SaveEntry, item.To.ConflictAvoid),
		}, true
	}

	return Record{}, false
}

func stageOf(pos *sim.HookPos) string {
	switch pos {
	case prefetch.HookPosRequestIssued:
		return "issued"
	case prefetch.HookPosRequestDropped:
		return "dropped"
	}

	return "emitted"
}
