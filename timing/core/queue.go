package core

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pfsim/timing/prefetch"
)

// Request is a prefetch or metadata request waiting to reach memory.
type Request struct {
	Kind       prefetch.RequestKind
	Addr       uint64
	ReadyCycle uint64
}

// QueueStats counts queue traffic per request kind, indexed by
// prefetch.RequestKind.
type QueueStats struct {
	Pushed  [3]uint64
	Issued  [3]uint64
	Dropped [3]uint64
}

// Clock tells the current simulated cycle.
type Clock interface {
	Cycle() uint64
}

// RequestQueue is the sink engines issue to. It holds up to size requests
// and drops the oldest one to make room, so a push is never refused.
type RequestQueue struct {
	*sim.HookableBase

	size  int
	clock Clock
	reqs  []Request
	stats QueueStats
}

// NewRequestQueue creates a queue of size entries that stamps requests with
// the cycle read from clock.
func NewRequestQueue(size int, clock Clock) *RequestQueue {
	if size <= 0 {
		log.Panicf("request queue size %d must be positive", size)
	}

	return &RequestQueue{
		HookableBase: sim.NewHookableBase(),
		size:         size,
		clock:        clock,
		reqs:         make([]Request, 0, size),
	}
}

// RequestPrefetch queues a prefetch.
func (q *RequestQueue) RequestPrefetch(addr uint64, delay int) bool {
	return q.push(prefetch.RequestPrefetch, addr, delay)
}

// RequestMetadataWrite queues a metadata write.
func (q *RequestQueue) RequestMetadataWrite(addr uint64, delay int) bool {
	return q.push(prefetch.RequestMetadataWrite, addr, delay)
}

// RequestMetadataRead queues a metadata read.
func (q *RequestQueue) RequestMetadataRead(addr uint64, delay int) bool {
	return q.push(prefetch.RequestMetadataRead, addr, delay)
}

func (q *RequestQueue) push(kind prefetch.RequestKind, addr uint64, delay int) bool {
	if delay < 0 {
		delay = 0
	}

	if len(q.reqs) == q.size {
		oldest := q.reqs[0]
		q.reqs = q.reqs[1:]
		q.stats.Dropped[oldest.Kind]++
		q.report(prefetch.HookPosRequestDropped, oldest, false)
	}

	q.reqs = append(q.reqs, Request{
		Kind:       kind,
		Addr:       addr,
		ReadyCycle: q.clock.Cycle() + uint64(delay),
	})
	q.stats.Pushed[kind]++

	return true
}

// Drain removes and returns every request ready by cycle now, in arrival
// order. Requests not ready yet keep their place.
func (q *RequestQueue) Drain(now uint64) []Request {
	var ready []Request

	kept := q.reqs[:0]
	for _, r := range q.reqs {
		if r.ReadyCycle > now {
			kept = append(kept, r)
			continue
		}

		ready = append(ready, r)
	}
	q.reqs = kept

	for _, r := range ready {
		q.stats.Issued[r.Kind]++
		q.report(prefetch.HookPosRequestIssued, r, true)
	}

	return ready
}

func (q *RequestQueue) report(pos *sim.HookPos, r Request, accepted bool) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(sim.HookCtx{
		Domain: q,
		Pos:    pos,
		Item: prefetch.RequestEvent{
			Kind:     r.Kind,
			Addr:     r.Addr,
			Accepted: accepted,
		},
	})
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int {
	return len(q.reqs)
}

// Stats returns the traffic counters.
func (q *RequestQueue) Stats() QueueStats {
	return q.stats
}

// Reset drops every queued request and clears the counters.
func (q *RequestQueue) Reset() {
	q.reqs = q.reqs[:0]
	q.stats = QueueStats{}
}
