// Package buscommon factors the page-table and waitstate primitives
// shared by busa and busc, per spec.md §9's "per-CPU code reuse" design
// note: both buses differ in address ranges and reachable peripherals but
// share the same 14-bit-page lookup and 4-dimensional waitstate shape.
// Grounded on spec.md §4.2 and the teacher's jeebie/memory/mem.go
// region-table dispatch idiom, generalized from an 8-bit region index
// over a 16-bit address space to a 14-bit page index over a 28-bit one.
package buscommon

const (
	PageBits = 14
	PageSize = 1 << PageBits // 16 KB
	PageMask = PageSize - 1

	// PageCount covers the full 28-bit address space division requested
	// by spec.md §4.2 ("masked to 28 bits and shifted right by 14").
	PageCount = 1 << (28 - PageBits)
)

// Page is one page-table entry: a slice into host memory (nil if this
// page has no fast path and must fall through to range dispatch), plus
// whether byte-width reads are permitted (CPU-A's read table needs this
// per spec.md §4.2's "8-bit-only read table" note; CPU-C simply always
// permits byte reads and never sets this false).
type Page struct {
	Data       []byte
	ByteReadOK bool
}

// PageTable is a 16K-entry fast lookup from a masked, shifted address to
// a Page. A zero-value PageTable has every entry nil, meaning "no fast
// path" until Map is called.
type PageTable [PageCount]Page

// Map installs backing, repeated every len(backing) bytes across
// [start, end), into every page index that range covers — used both for a
// single contiguous mirror and for small RAM blocks that mirror across a
// larger masked address window.
func (t *PageTable) Map(start, end uint32, backing []byte, byteReadOK bool) {
	for addr := start; addr < end; addr += PageSize {
		idx := pageIndex(addr)
		off := int(addr-start) % len(backing)
		// Only a whole page's worth of contiguous backing can be a fast
		// pointer; a page that would run past the end of the backing (as
		// with backing smaller than one page) is left with no fast pointer.
		if off+PageSize <= len(backing) {
			t.entrySet(idx, backing[off:off+PageSize], byteReadOK)
		} else {
			t.entrySet(idx, nil, byteReadOK)
		}
	}
}

// MapMirrored marks [start, end) as a sub-page mirror region; its pages are
// left without a fast pointer (nil) since a sub-page mirror can't be
// expressed as one contiguous slice, so the caller's range-dispatch
// fallback handles these.
func (t *PageTable) MapMirrored(start, end uint32, byteReadOK bool) {
	for addr := start; addr < end; addr += PageSize {
		t.entrySet(pageIndex(addr), nil, byteReadOK)
	}
}

// Unmap clears the page table entries across [start, end), leaving them
// with no fast pointer.
func (t *PageTable) Unmap(start, end uint32) {
	for addr := start; addr < end; addr += PageSize {
		t.entrySet(pageIndex(addr), nil, false)
	}
}

func (t *PageTable) entrySet(idx uint32, data []byte, byteReadOK bool) {
	t[idx] = Page{Data: data, ByteReadOK: byteReadOK}
}

func pageIndex(addr uint32) uint32 {
	return (addr & 0x0FFF_FFFF) >> PageBits
}

// Lookup returns the page covering addr and the offset within it.
func (t *PageTable) Lookup(addr uint32) (*Page, int) {
	idx := pageIndex(addr)
	return &t[idx], int(addr & PageMask)
}

// AccessKind distinguishes code fetches from data accesses for the
// waitstate table's first dimension.
type AccessKind int

const (
	AccessData AccessKind = iota
	AccessCode
)

// Width identifies an 8/16/32-bit access for the waitstate table's width
// dimension.
type Width int

const (
	Width8 Width = iota
	Width16
	Width32
)

// WaitstateTable is the 4-dimensional {kind, sequential, width, address
// nibble} lookup spec.md §4.2 describes; the address nibble is the top
// hex digit of the 28-bit masked address, giving 16 coarse regions.
type WaitstateTable [2][2][3][16]uint8

// Cycles returns the waitstate cost for one access; callers add this to
// their CPU's delay counter.
func (w *WaitstateTable) Cycles(kind AccessKind, sequential bool, width Width, address uint32) uint8 {
	seq := 0
	if sequential {
		seq = 1
	}
	nibble := (address & 0x0FFF_FFFF) >> 24
	return w[kind][seq][width][nibble&0xF]
}

// Set installs a uniform waitstate value across every nibble in
// [startNibble, endNibble) for one {kind, sequential, width} cell —
// the common case of "this whole region costs N cycles."
func (w *WaitstateTable) Set(kind AccessKind, sequential bool, width Width, startNibble, endNibble, cycles uint8) {
	seq := 0
	if sequential {
		seq = 1
	}
	for n := startNibble; n < endNibble; n++ {
		w[kind][seq][width][n&0xF] = cycles
	}
}
