package ampm

import "log"

// DefaultTrackerSize is the number of in-flight prefetches tracked.
const DefaultTrackerSize = 32

type trackerEntry struct {
	addr   uint64
	valid  bool
	issued bool
}

func (e *trackerEntry) hit(addr uint64) bool {
	if addr == 0 {
		return true
	}
	return e.valid && (e.addr^addr)&^(BlockSize-1) == 0
}

// RequestTracker is a ring of prefetches waiting to be sent to memory. It
// merges requests to a block already waiting.
type RequestTracker struct {
	entries []trackerEntry
	ptr     int
}

// NewRequestTracker creates a tracker with size slots.
func NewRequestTracker(size int) *RequestTracker {
	if size <= 0 {
		log.Panicf("tracker size %d must be positive", size)
	}

	return &RequestTracker{entries: make([]trackerEntry, size)}
}

// Reset drops every pending request.
func (t *RequestTracker) Reset() {
	for i := range t.entries {
		t.entries[i] = trackerEntry{}
	}
	t.ptr = 0
}

// Full reports whether the next slot to write still holds a request.
func (t *RequestTracker) Full() bool {
	return t.entries[t.ptr].valid
}

// Contains reports whether addr's block is pending. Address 0 is always
// reported as pending so it is never requested.
func (t *RequestTracker) Contains(addr uint64) bool {
	for i := range t.entries {
		if t.entries[i].hit(addr) {
			return true
		}
	}
	return false
}

// Issue enqueues addr. It returns false when the block is already pending.
func (t *RequestTracker) Issue(addr uint64) bool {
	if t.Contains(addr) {
		return false
	}

	t.entries[t.ptr] = trackerEntry{addr: addr, valid: true}
	t.ptr = (t.ptr + 1) % len(t.entries)

	return true
}

// Housekeeping hands the oldest pending request to dispatch and frees its
// slot.
func (t *RequestTracker) Housekeeping(dispatch func(addr uint64)) bool {
	n := len(t.entries)

	for i := 0; i < n; i++ {
		e := &t.entries[(t.ptr+i+1)%n]
		if !e.valid || e.issued {
			continue
		}

		e.issued = true
		dispatch(e.addr)
		*e = trackerEntry{}

		return true
	}

	return false
}

// Len returns the number of pending requests.
func (t *RequestTracker) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].valid {
			n++
		}
	}
	return n
}
