package mem

import "testing"

// buildIdentityPaging wires a single 4KiB identity-mapped page at
// linear/physical address pageAddr, with the given PTE flags, and
// returns the CR3 value to use.
func buildIdentityPaging(phys *Physical, pageAddr uint64, flags uint64) uint64 {
	const cr3 = 0x1000
	const pml4 = 0x2000
	const pdpt = 0x3000
	const pd = 0x4000
	const pt = 0x5000

	pml4Idx := (pageAddr >> pml4Shift) & indexMask9
	pdptIdx := (pageAddr >> pdptShift) & indexMask9
	pdIdx := (pageAddr >> pdShift) & indexMask9
	ptIdx := (pageAddr >> ptShift) & indexMask9

	phys.Write64(pml4+pml4Idx*EntrySize, pdpt|PTEPresent|PTEWrite|PTEUser)
	phys.Write64(pdpt+pdptIdx*EntrySize, pd|PTEPresent|PTEWrite|PTEUser)
	phys.Write64(pd+pdIdx*EntrySize, pt|PTEPresent|PTEWrite|PTEUser)
	phys.Write64(pt+ptIdx*EntrySize, (pageAddr&^0xFFF)|flags)

	_ = cr3
	return pml4
}

func TestWalkIdentityMap4K(t *testing.T) {
	phys := NewPhysical(0)
	const page = 0x123000
	cr3 := buildIdentityPaging(phys, page, PTEPresent|PTEWrite|PTEUser)

	got, fault := Walk(phys, cr3, page+0x10, false, false, false)
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if got != page+0x10 {
		t.Fatalf("Walk() = %#x, want %#x", got, page+0x10)
	}
}

func TestWalkUnmappedPageFaults(t *testing.T) {
	phys := NewPhysical(0)
	got, fault := Walk(phys, 0x9000 /* empty PML4 */, 0x1000, false, false, false)
	if fault == nil {
		t.Fatalf("expected fault, got physical address %#x", got)
	}
	if fault.Present {
		t.Fatal("not-present fault must report Present=false")
	}
	if fault.Addr != 0x1000 {
		t.Fatalf("fault.Addr = %#x, want 0x1000", fault.Addr)
	}
}

// TestTranslateLinearMatchesPhysical is the §8 invariant: for every
// linear address in the paging suite, translate_linear's physical
// address reads the same byte through Phys.Read8 as through
// Bus.ReadLinear8.
func TestTranslateLinearMatchesPhysical(t *testing.T) {
	phys := NewPhysical(0)
	const page = 0x456000
	cr3 := buildIdentityPaging(phys, page, PTEPresent|PTEWrite|PTEUser)
	phys.Write8(page+0x20, 0x99)

	bus := &Bus{Phys: phys, Mode: ModeLong, A20Enabled: true, PagingOn: true, CR3: cr3}

	physAddr, fault := bus.Translate(page+0x20, false, false, false)
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	viaPhys := phys.Read8(physAddr)
	viaLinear, fault := bus.ReadLinear8(page+0x20, false)
	if fault != nil {
		t.Fatalf("unexpected fault on ReadLinear8: %v", fault)
	}
	if viaPhys != viaLinear || viaLinear != 0x99 {
		t.Fatalf("viaPhys=%#x viaLinear=%#x, want both 0x99", viaPhys, viaLinear)
	}
}

// TestPageFaultErrorCodeScenario covers CR0.PG=1, an unmapped
// 4KiB-aligned linear address read from user mode.
func TestPageFaultErrorCodeScenario(t *testing.T) {
	phys := NewPhysical(0)
	bus := &Bus{Phys: phys, Mode: ModeLong, A20Enabled: true, PagingOn: true, CR3: 0x9000}

	_, fault := bus.ReadLinear8(0x1000, true)
	if fault == nil {
		t.Fatal("expected page fault")
	}
	if fault.Present {
		t.Error("P bit must be 0 (not-present)")
	}
	if fault.Write {
		t.Error("W bit must be 0 (this was a read)")
	}
	if !fault.User {
		t.Error("U bit must be 1 (CPL==3 access)")
	}
	if fault.Addr != 0x1000 {
		t.Errorf("CR2 candidate = %#x, want 0x1000", fault.Addr)
	}
}
