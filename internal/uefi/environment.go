// environment.go - the UEFI boot/runtime environment
//
// Ties the handle table, trampoline table, and the individual protocol
// implementations together into one object a caller builds once at
// boot; the UEFI tables and handles it constructs persist until
// ExitBootServices. No analogous top-level object exists elsewhere in
// the pack; the closest idiom is `machine_bus.go`'s single struct
// wiring every peripheral device together behind one bus, which this
// mirrors at the UEFI-environment level instead of the memory-bus
// level.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// tableArenaBase is a dedicated bump arena for EFI protocol function
// tables and structs this package itself allocates (as opposed to
// AllocatePool/AllocatePages, which serve guest allocation requests),
// kept well clear of the handle and trampoline ranges above.
const tableArenaBase = 0xF200_0000

// Environment owns every synthetic UEFI object for one boot: the
// handle table, the trampoline table, the allocator arenas, and each
// protocol's state.
type Environment struct {
	CPU         *cpu.CPU
	Handles     *HandleTable
	Trampolines *TrampolineTable

	arenaNext uint64 // this package's own table/struct bump allocator

	poolNext  uint64 // AllocatePool arena
	pagesNext uint64 // AllocatePages arena (page-aligned)

	bootServicesExited bool
	mapKey             uint64

	RAMSize uint64 // total emulated RAM, reported by GetMemoryMap

	ImageBase uint64
	ImageSize uint64

	TextOutput *SimpleTextOutput
	TextInput  *SimpleTextInput
	RootFS     *SimpleFileSystem
	BlockDev   *BlockIO
}

// NewEnvironment builds an empty environment bound to c. poolArena and
// pagesArena mark the start of two disjoint guest-memory regions the
// Boot Services allocator bump-allocates from; the caller is
// responsible for sizing guest memory large enough to hold them.
func NewEnvironment(c *cpu.CPU, poolArena, pagesArena uint64) *Environment {
	return &Environment{
		CPU:         c,
		Handles:     NewHandleTable(),
		Trampolines: NewTrampolineTable(),
		arenaNext:   tableArenaBase,
		poolNext:    poolArena,
		pagesNext:   pagesArena,
	}
}

func (env *Environment) allocArena(n uint64) uint64 {
	addr := env.arenaNext
	env.arenaNext += (n + 15) &^ 15
	return addr
}

// writeFunctionTable bump-allocates space for len(table) pointers,
// writes them at the mode-appropriate width, and returns the table's
// base address - the EFI_*_PROTOCOL interface pointer a handle entry
// or a caller's output parameter receives.
func (env *Environment) writeFunctionTable(table []uint64) uint64 {
	width := uint64(4)
	if env.CPU.Mode == cpu.ModeLong {
		width = 8
	}
	base := env.allocArena(uint64(len(table)) * width)
	for i, v := range table {
		addr := base + uint64(i)*width
		if width == 8 {
			env.CPU.Bus.WriteLinear64(addr, v, false)
		} else {
			env.CPU.Bus.WriteLinear32(addr, uint32(v), false)
		}
	}
	return base
}

// writeStruct bump-allocates n bytes for a protocol data struct (as
// opposed to a function table) and returns its base address.
func (env *Environment) writeStruct(n uint64) uint64 {
	return env.allocArena(n)
}
