// paging.go - 4-level x86-64 page walk
//
// The level-shift / page-table-size layout is grounded on the ARM64
// 4-level MMU in
// _examples/other_examples/…iansmith-mazarin…mmu.go.go (PAGE_SHIFT,
// PTE_SIZE, PTE_COUNT, per-level shift constants), adapted from ARM64's
// L0-L3 naming to the x86-64 PML4/PDPT/PD/PT hierarchy and from ARM64's
// PTE bit layout to the Intel SDM's present/rw/us/ps/accessed/dirty/nx
// bits.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package mem

import "fmt"

// Page table entry bits (Intel SDM, long mode).
const (
	PTEPresent   = 1 << 0
	PTEWrite     = 1 << 1
	PTEUser      = 1 << 2
	PTEPWT       = 1 << 3
	PTEPCD       = 1 << 4
	PTEAccessed  = 1 << 5
	PTEDirty     = 1 << 6
	PTEPageSize  = 1 << 7 // PS bit at PDPT/PD level: maps a 1GiB/2MiB page
	PTEGlobal    = 1 << 8
	PTENX        = 1 << 63
	pteAddrMask  = 0x000FFFFFFFFFF000
	pteFlagsMask = 0xFFF
)

// Table geometry, one entry per paging level from PML4 down to PT.
const (
	EntrySize   = 8
	EntryCount  = 512
	TableBytes  = EntryCount * EntrySize
	pml4Shift   = 39
	pdptShift   = 30
	pdShift     = 21
	ptShift     = 12
	indexMask9  = 0x1FF
	page4KShift = 12
	page2MShift = 21
	page1GShift = 30
)

// FaultInfo carries the #PF error-code bits and CR2 value without
// allocating a Go error for the hot path.
type FaultInfo struct {
	Present bool // bit 0: a present-but-protection-violating entry was found
	Write   bool // access was a write
	User    bool // access was from CPL==3
	Reserve bool // reserved bit set in a walked entry
	IFetch  bool // access was an instruction fetch
	Addr    uint64
}

// ErrorCode packs FaultInfo into the #PF error code layout (Intel SDM
// vol 3, 4.7): bit0 P, bit1 W/R, bit2 U/S, bit3 RSVD, bit4 I/D.
func (f FaultInfo) ErrorCode() uint32 {
	var code uint32
	if f.Present {
		code |= 1 << 0
	}
	if f.Write {
		code |= 1 << 1
	}
	if f.User {
		code |= 1 << 2
	}
	if f.Reserve {
		code |= 1 << 3
	}
	if f.IFetch {
		code |= 1 << 4
	}
	return code
}

func (f FaultInfo) Error() string {
	return fmt.Sprintf("page fault at %#x (code=%#x)", f.Addr, f.ErrorCode())
}

// Walk performs the 4-level page walk: CR3 selects the PML4, each
// level's index comes from 9 bits of the linear address, and the PS
// bit at the PDPT or PD level terminates the walk early with a 1GiB
// or 2MiB page. Access/dirty bits are set on every entry actually
// used to satisfy the access, as required by the SDM.
func Walk(phys *Physical, cr3, linear uint64, write, user, ifetch bool) (uint64, *FaultInfo) {
	pml4Base := cr3 &^ pteFlagsMask
	pml4Idx := (linear >> pml4Shift) & indexMask9
	pml4e := phys.Read64(pml4Base + pml4Idx*EntrySize)
	if pml4e&PTEPresent == 0 {
		return 0, pfault(linear, write, user, ifetch, false)
	}
	if !checkPerm(pml4e, write, user) {
		return 0, pfault(linear, write, user, ifetch, true)
	}
	pml4e = setAccessed(phys, pml4Base+pml4Idx*EntrySize, pml4e)

	pdptBase := pml4e &^ pteFlagsMask
	pdptIdx := (linear >> pdptShift) & indexMask9
	pdpte := phys.Read64(pdptBase + pdptIdx*EntrySize)
	if pdpte&PTEPresent == 0 {
		return 0, pfault(linear, write, user, ifetch, false)
	}
	if !checkPerm(pdpte, write, user) {
		return 0, pfault(linear, write, user, ifetch, true)
	}
	if pdpte&PTEPageSize != 0 {
		pdpte = setAccessedDirty(phys, pdptBase+pdptIdx*EntrySize, pdpte, write)
		frame := pdpte &^ ((1 << page1GShift) - 1) &^ uint64(PTENX)
		offset := linear & ((1 << page1GShift) - 1)
		return (frame & pteAddrMask) + offset, nil
	}
	pdpte = setAccessed(phys, pdptBase+pdptIdx*EntrySize, pdpte)

	pdBase := pdpte &^ pteFlagsMask
	pdIdx := (linear >> pdShift) & indexMask9
	pde := phys.Read64(pdBase + pdIdx*EntrySize)
	if pde&PTEPresent == 0 {
		return 0, pfault(linear, write, user, ifetch, false)
	}
	if !checkPerm(pde, write, user) {
		return 0, pfault(linear, write, user, ifetch, true)
	}
	if pde&PTEPageSize != 0 {
		pde = setAccessedDirty(phys, pdBase+pdIdx*EntrySize, pde, write)
		frame := pde &^ ((1 << page2MShift) - 1) &^ uint64(PTENX)
		offset := linear & ((1 << page2MShift) - 1)
		return (frame & pteAddrMask) + offset, nil
	}
	pde = setAccessed(phys, pdBase+pdIdx*EntrySize, pde)

	ptBase := pde &^ pteFlagsMask
	ptIdx := (linear >> ptShift) & indexMask9
	pte := phys.Read64(ptBase + ptIdx*EntrySize)
	if pte&PTEPresent == 0 {
		return 0, pfault(linear, write, user, ifetch, false)
	}
	if !checkPerm(pte, write, user) {
		return 0, pfault(linear, write, user, ifetch, true)
	}
	pte = setAccessedDirty(phys, ptBase+ptIdx*EntrySize, pte, write)
	frame := pte &^ ((1 << page4KShift) - 1)
	offset := linear & ((1 << page4KShift) - 1)
	return (frame & pteAddrMask) + offset, nil
}

func checkPerm(entry uint64, write, user bool) bool {
	if user && entry&PTEUser == 0 {
		return false
	}
	if write && entry&PTEWrite == 0 {
		return false
	}
	return true
}

func setAccessed(phys *Physical, entryAddr, entry uint64) uint64 {
	if entry&PTEAccessed != 0 {
		return entry
	}
	entry |= PTEAccessed
	phys.Write64(entryAddr, entry)
	return entry
}

func setAccessedDirty(phys *Physical, entryAddr, entry uint64, write bool) uint64 {
	updated := entry
	if updated&PTEAccessed == 0 {
		updated |= PTEAccessed
	}
	if write && updated&PTEDirty == 0 {
		updated |= PTEDirty
	}
	if updated != entry {
		phys.Write64(entryAddr, updated)
	}
	return updated
}

func pfault(linear uint64, write, user, ifetch, present bool) *FaultInfo {
	return &FaultInfo{Present: present, Write: write, User: user, IFetch: ifetch, Addr: linear}
}
