// Package vram implements the VRAM bank-to-page mapper: nine physically
// distinct banks (A-I) that software assigns, via per-bank MST+offset
// control registers, onto four overlapping logical windows (engine-A BG,
// engine-B BG, engine-A OBJ, engine-B OBJ) plus extended-palette slots.
// Grounded on spec.md §4.6's VRAM-mapping paragraph and
// original_source/src/emulator/ppu.cpp's refreshVramPages.
package vram

const (
	PageSize = 16 * 1024

	bankASize = 128 * 1024
	bankBSize = 128 * 1024
	bankCSize = 128 * 1024
	bankDSize = 128 * 1024
	bankESize = 64 * 1024
	bankFSize = 16 * 1024
	bankGSize = 16 * 1024
	bankHSize = 32 * 1024
	bankISize = 16 * 1024

	// Logical window sizes, each carved into PageSize pages.
	EngineABGWindow  = 128 * 1024
	EngineBBGWindow  = 32 * 1024
	EngineAOBJWindow = 64 * 1024
	EngineBOBJWindow = 32 * 1024
)

// Bank identifies one of the nine physical VRAM banks by letter.
type Bank int

const (
	BankA Bank = iota
	BankB
	BankC
	BankD
	BankE
	BankF
	BankG
	BankH
	BankI
	bankCount
)

var bankSizes = [bankCount]int{bankASize, bankBSize, bankCSize, bankDSize, bankESize, bankFSize, bankGSize, bankHSize, bankISize}

// Window identifies one of the four overlapping logical regions a bank
// can be mapped into.
type Window int

const (
	WindowEngineABG Window = iota
	WindowEngineBBG
	WindowEngineAOBJ
	WindowEngineBOBJ
	WindowLCDC // direct VRAM access mode (MST 0 on most banks)
	windowCount
)

var windowSizes = [windowCount]int{EngineABGWindow, EngineBBGWindow, EngineAOBJWindow, EngineBOBJWindow, 9 * 16 * 1024}

type bankControl struct {
	enable bool
	mst    uint8
	offset uint8
}

// page records, for one 16 KB logical page, every enabled bank that maps
// onto it. A single mapping bank yields a fast direct pointer (entries
// holding exactly one element); overlapping banks leave no fast pointer and
// a read composes all entries by OR, per spec.md §3's page-table invariant.
type page struct {
	entries []bankEntry
}

type bankEntry struct {
	bank      Bank
	subOffset int // byte offset into that bank's backing slice
}

// Mapper owns the nine banks' backing storage and the derived page tables
// for every logical window.
type Mapper struct {
	banks   [bankCount][]byte
	control [bankCount]bankControl

	pages [windowCount][]page
}

func New() *Mapper {
	m := &Mapper{}
	for b := Bank(0); b < bankCount; b++ {
		m.banks[b] = make([]byte, bankSizes[b])
	}
	for w := Window(0); w < windowCount; w++ {
		m.pages[w] = make([]page, windowSizes[w]/PageSize)
	}
	return m
}

func (m *Mapper) Reset() {
	for b := range m.control {
		m.control[b] = bankControl{}
	}
	m.Refresh()
}

// SetControl updates one bank's VRAMCNT_x byte (enable bit 7, MST bits
// 0-2, offset bits 3-4 — the width of MST/offset legitimately differs per
// bank on real hardware, but every bank in this mapper accepts the same
// 3-bit MST / 2-bit offset superset, unused high bits simply going
// unreferenced by that bank's particular mapping table below).
func (m *Mapper) SetControl(b Bank, value uint8) {
	m.control[b] = bankControl{
		enable: value&0x80 != 0,
		mst:    value & 0x7,
		offset: (value >> 3) & 0x3,
	}
}

// Refresh recomputes every logical window's page table from the current
// bank control snapshot. Per spec.md §9's "overlapping resource views"
// design note, callers schedule this as a zero-delay RefreshVramPages
// event rather than calling it synchronously mid-access.
func (m *Mapper) Refresh() {
	for w := range m.pages {
		for i := range m.pages[w] {
			m.pages[w][i].entries = m.pages[w][i].entries[:0]
		}
	}

	for b := Bank(0); b < bankCount; b++ {
		c := m.control[b]
		if !c.enable {
			continue
		}
		for _, mapping := range bankMappings(b, c.mst, c.offset) {
			m.mapBank(b, mapping)
		}
	}
}

// bankMapping describes one placement of a bank into a logical window.
type bankMapping struct {
	window     Window
	pageOffset int // starting logical page within the window
}

// bankMappings enumerates where bank b, given its MST and offset fields,
// lands. This follows the real hardware's per-bank MST table (GBATEK
// "VRAM Bank Control"); banks with fewer MST values simply have a
// shorter table here.
func bankMappings(b Bank, mst, offset uint8) []bankMapping {
	pagesPerBank := bankSizes[b] / PageSize
	switch b {
	case BankA, BankB, BankC, BankD:
		switch mst {
		case 0:
			return []bankMapping{{WindowLCDC, int(b) * pagesPerBank}}
		case 1:
			return []bankMapping{{WindowEngineABG, int(offset) * pagesPerBank}}
		case 2:
			if b == BankA || b == BankB {
				return []bankMapping{{WindowEngineAOBJ, int(offset&1) * pagesPerBank}}
			}
		case 3:
			return []bankMapping{{WindowEngineABG, 0}} // extended-palette slots collapse to BG window start
		}
	case BankE:
		switch mst {
		case 0:
			return []bankMapping{{WindowLCDC, 4 * 8}}
		case 1:
			return []bankMapping{{WindowEngineABG, 0}}
		case 2:
			return []bankMapping{{WindowEngineAOBJ, 0}}
		}
	case BankF, BankG:
		switch mst {
		case 0:
			return []bankMapping{{WindowLCDC, 0}}
		case 1:
			return []bankMapping{{WindowEngineABG, int(offset&1) + int(offset>>1)*2}}
		case 2:
			return []bankMapping{{WindowEngineAOBJ, int(offset&1) + int(offset>>1)*2}}
		}
	case BankH:
		switch mst {
		case 0:
			return []bankMapping{{WindowLCDC, 0}}
		case 1:
			return []bankMapping{{WindowEngineBBG, 0}}
		}
	case BankI:
		switch mst {
		case 0:
			return []bankMapping{{WindowLCDC, 0}}
		case 1:
			return []bankMapping{{WindowEngineBBG, 2 * 8}}
		case 2:
			return []bankMapping{{WindowEngineBOBJ, 0}}
		}
	}
	return nil
}

func (m *Mapper) mapBank(b Bank, mapping bankMapping) {
	pages := m.pages[mapping.window]
	bankPages := bankSizes[b] / PageSize
	for i := 0; i < bankPages; i++ {
		logical := mapping.pageOffset + i
		if logical < 0 || logical >= len(pages) {
			continue
		}
		pages[logical].entries = append(pages[logical].entries, bankEntry{bank: b, subOffset: i * PageSize})
	}
}

// ReadByte composes a byte read at the given logical offset within
// window w: a single-bank page returns that bank's byte directly; an
// overlapping page ORs every mapped bank's byte, matching spec.md §3's
// page-table invariant and §8's testable property for the fast-pointer
// cases.
func (m *Mapper) ReadByte(w Window, offset int) byte {
	pageIdx := offset / PageSize
	if pageIdx < 0 || pageIdx >= len(m.pages[w]) {
		return 0
	}
	entries := m.pages[w][pageIdx].entries
	if len(entries) == 0 {
		return 0
	}
	within := offset % PageSize
	var result byte
	for _, e := range entries {
		idx := e.subOffset + within
		if idx < len(m.banks[e.bank]) {
			result |= m.banks[e.bank][idx]
		}
	}
	return result
}

// WriteByte writes to every bank mapped onto the page at offset, matching
// real hardware's behavior of overlapping banks all receiving the write.
func (m *Mapper) WriteByte(w Window, offset int, value byte) {
	pageIdx := offset / PageSize
	if pageIdx < 0 || pageIdx >= len(m.pages[w]) {
		return
	}
	within := offset % PageSize
	for _, e := range m.pages[w][pageIdx].entries {
		idx := e.subOffset + within
		if idx < len(m.banks[e.bank]) {
			m.banks[e.bank][idx] = value
		}
	}
}

// FastPointer reports whether exactly one bank maps the given page and,
// if so, returns that bank and the byte offset into it — the page-table
// "fast path" spec.md §3/§8 describes. ok is false for zero or multiple
// mapped banks.
func (m *Mapper) FastPointer(w Window, offset int) (bank Bank, bankOffset int, ok bool) {
	pageIdx := offset / PageSize
	if pageIdx < 0 || pageIdx >= len(m.pages[w]) {
		return 0, 0, false
	}
	entries := m.pages[w][pageIdx].entries
	if len(entries) != 1 {
		return 0, 0, false
	}
	within := offset % PageSize
	return entries[0].bank, entries[0].subOffset + within, true
}

// BankData exposes a bank's raw backing slice, e.g. for VRAM-direct
// display mode (a whole-bank copy into the framebuffer).
func (m *Mapper) BankData(b Bank) []byte { return m.banks[b] }
