package isb

import (
	"log"

	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/assoc"
)

// EncoderSize is the number of physical pages the encoder tracks. Page ids
// are 8 bits wide.
const EncoderSize = 256

type encoderSlot struct{}

// AddressEncoder compresses physical addresses into 14-bit indices made of
// an 8-bit page id and a 6-bit line offset. Structural addresses pass
// through unchanged.
type AddressEncoder struct {
	pages *assoc.Array[encoderSlot]
}

// NewAddressEncoder creates an empty encoder.
func NewAddressEncoder() *AddressEncoder {
	return &AddressEncoder{
		pages: assoc.New[encoderSlot](assoc.FullyAssociative(EncoderSize)),
	}
}

// Reset forgets every page.
func (e *AddressEncoder) Reset() {
	e.pages.Reset()
}

// ExistsPhyPage reports whether the page holding addr is registered.
func (e *AddressEncoder) ExistsPhyPage(addr uint64) bool {
	return e.pages.Contains(prefetch.PageOf(addr))
}

// EncodePhyAddr encodes addr. It fails if addr's page is not registered.
func (e *AddressEncoder) EncodePhyAddr(addr uint64) (uint16, bool) {
	pageID, ok := e.pages.WayOf(prefetch.PageOf(addr))
	if !ok {
		return 0, false
	}

	return uint16(pageID)<<6 | uint16(prefetch.LineOffset(addr)), true
}

// MustEncodePhyAddr encodes addr and panics if its page is not registered.
func (e *AddressEncoder) MustEncodePhyAddr(addr uint64) uint16 {
	encoded, ok := e.EncodePhyAddr(addr)
	if !ok {
		log.Panicf("encoding 0x%x, page 0x%x is not registered",
			addr, prefetch.PageOf(addr))
	}
	return encoded
}

// DecodePhyAddr turns an encoded index back into a line address.
func (e *AddressEncoder) DecodePhyAddr(encoded uint16) uint64 {
	pageID := int(encoded >> 6)
	offset := uint64(encoded % prefetch.LinesPerPage)

	page, ok := e.pages.KeyAt(0, pageID)
	if !ok {
		log.Panicf("decoding 0x%x, page id %d is empty", encoded, pageID)
	}

	return page<<prefetch.PageBits | offset<<prefetch.LineBits
}

// InsertPhyPage registers page under page id way, returning the page that
// was displaced.
func (e *AddressEncoder) InsertPhyPage(page uint64, way int) (evicted uint64, ok bool) {
	_, evicted, ok = e.pages.InstallAt(page, way)
	return evicted, ok
}

// AllocPhyPage registers page under the least recently used page id.
func (e *AddressEncoder) AllocPhyPage(page uint64) (way int, evicted uint64, ok bool) {
	_, evicted, ok = e.pages.Select(page)
	way, _ = e.pages.WayOf(page)
	return way, evicted, ok
}

// PhyPageAt returns the page registered under page id way.
func (e *AddressEncoder) PhyPageAt(way int) (uint64, bool) {
	return e.pages.KeyAt(0, way)
}

// EncodeStrAddr is the identity; structural space is already dense.
func (e *AddressEncoder) EncodeStrAddr(str uint32) uint32 {
	return str
}

// DecodeStrAddr is the identity.
func (e *AddressEncoder) DecodeStrAddr(str uint32) uint32 {
	return str
}
