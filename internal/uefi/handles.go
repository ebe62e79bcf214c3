// handles.go - the UEFI handle table and trampoline address space
//
// Two synthetic address spaces are reserved here: a handle space for
// protocol-bearing handles, and a trampoline space whose addresses a
// parallel mapping resolves back to their host handler function. The
// teacher has no equivalent concept; grounded on `internal/mem/observer.go`'s
// reserved-zone idiom (a base address plus a monotonically assigned
// slot), generalized from a fixed zone list to two growable
// allocators.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// Reserved synthetic address ranges, chosen to avoid every zone
// internal/mem/observer.go already reserves (VGA window, local/IO
// APIC, firmware window).
const (
	handleBase     = 0xF000_0000
	trampolineBase = 0xF100_0000
)

// Handle is a synthetic, opaque pointer the guest treats as an
// identifier for a protocol-bearing object.
type Handle uint64

type handleEntry struct {
	protocols map[GUID]uint64 // GUID -> interface pointer (trampoline-space address of the protocol's function table, or a handle-space address for data-only protocols)
}

// HandleTable maps synthetic handle addresses to {protocol GUID ->
// interface pointer} sets.
type HandleTable struct {
	next    uint64
	handles map[Handle]*handleEntry
}

func NewHandleTable() *HandleTable {
	return &HandleTable{next: handleBase, handles: make(map[Handle]*handleEntry)}
}

// NewHandle allocates a fresh handle with no protocols installed.
func (t *HandleTable) NewHandle() Handle {
	h := Handle(t.next)
	t.next += 0x10
	t.handles[h] = &handleEntry{protocols: make(map[GUID]uint64)}
	return h
}

// InstallProtocol associates a GUID with an interface pointer on h.
func (t *HandleTable) InstallProtocol(h Handle, g GUID, iface uint64) {
	e, ok := t.handles[h]
	if !ok {
		e = &handleEntry{protocols: make(map[GUID]uint64)}
		t.handles[h] = e
	}
	e.protocols[g] = iface
}

// LookupProtocol returns h's interface pointer for g, if installed.
func (t *HandleTable) LookupProtocol(h Handle, g GUID) (uint64, bool) {
	e, ok := t.handles[h]
	if !ok {
		return 0, false
	}
	iface, ok := e.protocols[g]
	return iface, ok
}

// FindByProtocol returns the first handle (in allocation order) that
// has g installed, for LocateProtocol/LocateHandleBuffer.
func (t *HandleTable) FindByProtocol(g GUID) (Handle, uint64, bool) {
	for addr := uint64(handleBase); addr < t.next; addr += 0x10 {
		h := Handle(addr)
		if e, ok := t.handles[h]; ok {
			if iface, ok := e.protocols[g]; ok {
				return h, iface, true
			}
		}
	}
	return 0, 0, false
}

// AllByProtocol returns every handle with g installed, in allocation
// order, for LocateHandleBuffer.
func (t *HandleTable) AllByProtocol(g GUID) []Handle {
	var out []Handle
	for addr := uint64(handleBase); addr < t.next; addr += 0x10 {
		h := Handle(addr)
		if e, ok := t.handles[h]; ok {
			if _, ok := e.protocols[g]; ok {
				out = append(out, h)
			}
		}
	}
	return out
}

// TrampolineFunc is a host-implemented service reachable from guest
// code at a synthetic trampoline address; it reads its own arguments
// through a and writes an EFI_STATUS return value via a.SetReturn.
type TrampolineFunc func(a *ArgReader)

// TrampolineTable maps synthetic call-target addresses to host
// handlers.
type TrampolineTable struct {
	next     uint64
	handlers map[uint64]TrampolineFunc
}

func NewTrampolineTable() *TrampolineTable {
	return &TrampolineTable{next: trampolineBase, handlers: make(map[uint64]TrampolineFunc)}
}

// Register reserves a fresh trampoline address bound to fn and
// returns it, for installation into a protocol's function table.
func (t *TrampolineTable) Register(fn TrampolineFunc) uint64 {
	addr := t.next
	t.next += 0x10
	t.handlers[addr] = fn
	return addr
}

// Dispatch implements cpu.TrampolineChecker: if target names a
// registered trampoline, its handler runs against the CPU's current
// register/stack state and Dispatch reports handled=true so the step
// loop's call/branch hook can unwind as if RET had executed.
func (t *TrampolineTable) Dispatch(c *cpu.CPU, target uint64) bool {
	fn, ok := t.handlers[target]
	if !ok {
		return false
	}
	fn(NewArgReader(c))
	return true
}
