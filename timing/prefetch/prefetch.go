// Package prefetch defines the contract shared by the hardware prefetch
// engines: the demand-access and TLB-eviction inputs they observe and the sink
// they issue prefetch and metadata requests to.
package prefetch

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"
)

// Address geometry shared by the engines and the harness.
const (
	// LineBits is log2 of the cache line size.
	LineBits = 6
	// LineSize is the cache line size in bytes.
	LineSize uint64 = 1 << LineBits
	// PageBits is log2 of the page size.
	PageBits = 12
	// PageSize is the page size in bytes.
	PageSize uint64 = 1 << PageBits
	// LinesPerPage is the number of cache lines in a page.
	LinesPerPage = 1 << (PageBits - LineBits)
)

// PageOf returns the page number of a physical address.
func PageOf(addr uint64) uint64 {
	return addr >> PageBits
}

// LineOffset returns the index of the line holding addr within its page.
func LineOffset(addr uint64) int {
	return int((addr >> LineBits) % LinesPerPage)
}

// AlignToLine clears the in-line offset bits of addr.
func AlignToLine(addr uint64) uint64 {
	return addr &^ (LineSize - 1)
}

// Sink receives the requests produced by a prefetch engine. A false return
// means the request was rejected; engines count it and never retry.
type Sink interface {
	RequestPrefetch(addr uint64, delay int) bool
	RequestMetadataWrite(addr uint64, delay int) bool
	RequestMetadataRead(addr uint64, delay int) bool
}

// Prefetcher is implemented by every engine.
type Prefetcher interface {
	// OnAccess observes one demand access. key correlates consecutive
	// accesses, typically the PC of the load.
	OnAccess(key, addr uint64, mshrHit, hit bool)
}

// Nop is a Prefetcher that never prefetches. It is the baseline engines are
// compared against.
type Nop struct{}

// OnAccess does nothing.
func (Nop) OnAccess(_, _ uint64, _, _ bool) {}

// TLBObserver is implemented by engines that track page residency.
type TLBObserver interface {
	// OnTLBEviction reports that page (a page number, not an address) was
	// installed into TLB way, displacing whatever lived there.
	OnTLBEviction(page uint64, way int)
}

// Kind selects a prefetch engine.
type Kind string

// Supported engines.
const (
	KindNone Kind = "none"
	KindISB  Kind = "isb"
	KindAMPM Kind = "ampm"
)

// ParseKind converts a user supplied name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindNone, KindISB, KindAMPM:
		return Kind(s), nil
	case "":
		return KindNone, nil
	}

	return "", fmt.Errorf("unknown prefetcher %q", s)
}

// RequestKind classifies what an engine asks the sink for.
type RequestKind int

// Request kinds.
const (
	RequestPrefetch RequestKind = iota
	RequestMetadataWrite
	RequestMetadataRead
)

func (k RequestKind) String() string {
	switch k {
	case RequestPrefetch:
		return "prefetch"
	case RequestMetadataWrite:
		return "metadata-write"
	case RequestMetadataRead:
		return "metadata-read"
	}

	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// Submit forwards a request of the given kind to the sink.
func Submit(sink Sink, kind RequestKind, addr uint64, delay int) bool {
	switch kind {
	case RequestPrefetch:
		return sink.RequestPrefetch(addr, delay)
	case RequestMetadataWrite:
		return sink.RequestMetadataWrite(addr, delay)
	case RequestMetadataRead:
		return sink.RequestMetadataRead(addr, delay)
	}

	panic(fmt.Sprintf("unknown request kind %d", int(kind)))
}

// RequestEvent is the hook item carried with every request an engine emits.
type RequestEvent struct {
	Kind     RequestKind
	Addr     uint64
	Delay    int
	Accepted bool
}

// Hook positions invoked by the engines.
var (
	HookPosPrefetch         = &sim.HookPos{Name: "Prefetch"}
	HookPosMetadataWrite    = &sim.HookPos{Name: "MetadataWrite"}
	HookPosMetadataRead     = &sim.HookPos{Name: "MetadataRead"}
	HookPosStreamDivergence = &sim.HookPos{Name: "StreamDivergence"}
	HookPosModeSwitch       = &sim.HookPos{Name: "ModeSwitch"}
)

// Hook positions invoked by the request queue between the engine and the
// memory system. Their items are RequestEvents.
var (
	HookPosRequestIssued  = &sim.HookPos{Name: "RequestIssued"}
	HookPosRequestDropped = &sim.HookPos{Name: "RequestDropped"}
)

// HookPosOf maps a request kind to its hook position.
func HookPosOf(kind RequestKind) *sim.HookPos {
	switch kind {
	case RequestMetadataWrite:
		return HookPosMetadataWrite
	case RequestMetadataRead:
		return HookPosMetadataRead
	}

	return HookPosPrefetch
}

// Emitter submits requests to a sink and reports them to registered hooks.
// Engines embed it.
type Emitter struct {
	*sim.HookableBase

	sink Sink
}

// NewEmitter creates an Emitter that forwards to sink.
func NewEmitter(sink Sink) Emitter {
	return Emitter{
		HookableBase: sim.NewHookableBase(),
		sink:         sink,
	}
}

// Emit submits one request and invokes the matching hook. domain is the
// engine that owns the emitter.
func (e Emitter) Emit(
	domain sim.Hookable,
	kind RequestKind,
	addr uint64,
	delay int,
) bool {
	accepted := Submit(e.sink, kind, addr, delay)

	e.InvokeHook(sim.HookCtx{
		Domain: domain,
		Pos:    HookPosOf(kind),
		Item: RequestEvent{
			Kind:     kind,
			Addr:     addr,
			Delay:    delay,
			Accepted: accepted,
		},
	})

	return accepted
}
