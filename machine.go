// machine.go - Machine: the top-level type wiring the CPU, memory,
// patterned-instruction engine, and UEFI environment into one bootable
// unit
//
// Grounded on cpu_x86_runner.go's top-level run-loop idiom - one
// struct wiring every subsystem together behind a small Run surface -
// generalized from a VGA/audio peripheral bus to this
// interpreter's CPU+memory+UEFI-environment trio.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package emulator

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
	"github.com/zaynotley/x86uefiboot/internal/fault"
	"github.com/zaynotley/x86uefiboot/internal/mem"
	"github.com/zaynotley/x86uefiboot/internal/pattern"
	"github.com/zaynotley/x86uefiboot/internal/peloader"
	"github.com/zaynotley/x86uefiboot/internal/seg"
	"github.com/zaynotley/x86uefiboot/internal/uefi"
)

// Guest memory layout chosen for this boot path: the UEFI table/struct
// arena lives at uefi.tableArenaBase and above; these three ranges sit
// well below it, with the stack growing down from the top of
// conventional low memory.
const (
	defaultStackTop = 0x0090_0000
	poolArenaBase   = 0x0100_0000
	pagesArenaBase  = 0x0200_0000
)

// candidatePaths64/32 are the guest image names consulted, in order,
// when Boot looks for a supported EFI loader on the medium.
var (
	candidatePaths64 = []string{"/EFI/BOOT/GRUBX64.EFI", "/BOOTX64.EFI"}
	candidatePaths32 = []string{"/EFI/BOOT/GRUBIA32.EFI", "/BOOTIA32.EFI"}
)

// Machine owns one x86/x86-64 CPU core, its flat physical memory, the
// patterned-instruction accelerator, and the UEFI environment it boots
// into. It is the library's top-level entry point.
type Machine struct {
	CPU *cpu.CPU
	Bus *mem.Bus
	Env *uefi.Environment
	Log *log.Logger
}

// NewMachine allocates a machine with ramSize bytes of guest RAM,
// starting in the given addressing mode, logging to out (os.Stderr if
// nil).
func NewMachine(ramSize uint64, mode cpu.Mode, out io.Writer) *Machine {
	if out == nil {
		out = os.Stderr
	}

	bus := &mem.Bus{Phys: mem.NewPhysical(ramSize), Mode: mode, A20Enabled: true}
	c := cpu.NewCPU(bus)
	setupFlatAddressing(c, mode)

	env := uefi.NewEnvironment(c, poolArenaBase, pagesArenaBase)
	env.RAMSize = ramSize
	c.Trampolines = env.Trampolines
	c.Patterns = pattern.NewEngine()

	m := &Machine{CPU: c, Bus: bus, Env: env, Log: log.New(out, "[emulator] ", log.LstdFlags)}
	c.OnFault = m.logFault
	return m
}

// setupFlatAddressing puts the CPU directly into mode with a flat,
// base-0, full-limit GDT already "loaded" into every segment register
// - the state a real firmware's own startup code would have reached by
// the time it calls a loaded image's entry point, short-circuited here
// since constructing that startup code is not this interpreter's job.
func setupFlatAddressing(c *cpu.CPU, mode cpu.Mode) {
	if mode == cpu.ModeReal {
		return
	}
	flatCode := seg.Cache{Selector: 0x38, Limit: 0xFFFFFFFF, Present: true, Executable: true, DefaultBig: mode != cpu.ModeLong, LongMode: mode == cpu.ModeLong}
	flatData := seg.Cache{Selector: 0x30, Limit: 0xFFFFFFFF, Present: true, DefaultBig: true}
	c.Seg.LoadFromDescriptor(&c.Seg.CS, flatCode)
	c.Seg.LoadFromDescriptor(&c.Seg.SS, flatData)
	c.Seg.LoadFromDescriptor(&c.Seg.DS, flatData)
	c.Seg.LoadFromDescriptor(&c.Seg.ES, flatData)
	c.Seg.LoadFromDescriptor(&c.Seg.FS, flatData)
	c.Seg.LoadFromDescriptor(&c.Seg.GS, flatData)
	c.Seg.ProtectedOrLong = true
	c.Mode = mode

	c.CR0 |= cpu.CR0PE
	if mode == cpu.ModeLong {
		c.CR4 |= cpu.CR4PAE
		c.EFER |= cpu.EFERLME | cpu.EFERLMA
	}
}

// logFault is the default OnFault hook: architectural faults never
// abort the host, so this only logs for observability.
func (m *Machine) logFault(f *fault.Fault) {
	if f.HasCode {
		m.Log.Printf("fault vector=%#x error_code=%#x rip=%#x", f.Vector, f.ErrorCode, m.CPU.Regs.RIP())
		return
	}
	m.Log.Printf("fault vector=%#x rip=%#x", f.Vector, m.CPU.Regs.RIP())
}

// Step executes exactly one instruction (or pattern-closure
// execution).
func (m *Machine) Step() { m.CPU.Step() }

// Run steps the machine until it halts or maxSteps have executed
// (maxSteps <= 0 means run until halted).
func (m *Machine) Run(maxSteps int) {
	for i := 0; (maxSteps <= 0 || i < maxSteps) && m.CPU.Running(); i++ {
		m.CPU.Step()
	}
}

// busMemory adapts *mem.Bus to peloader.Memory's small byte-addressable
// interface; loads run before any guest code executes, so every access
// is supervisor (user=false).
type busMemory struct{ bus *mem.Bus }

func (b busMemory) WriteByte(addr uint64, v byte) { b.bus.WriteLinear8(addr, v, false) }
func (b busMemory) ReadByte(addr uint64) byte {
	v, _ := b.bus.ReadLinear8(addr, false)
	return v
}
func (b busMemory) ReadUint16(addr uint64) uint16 {
	v, _ := b.bus.ReadLinear16(addr, false)
	return v
}
func (b busMemory) WriteUint16(addr uint64, v uint16) { b.bus.WriteLinear16(addr, v, false) }
func (b busMemory) ReadUint32(addr uint64) uint32 {
	v, _ := b.bus.ReadLinear32(addr, false)
	return v
}
func (b busMemory) WriteUint32(addr uint64, v uint32) { b.bus.WriteLinear32(addr, v, false) }
func (b busMemory) ReadUint64(addr uint64) uint64 {
	v, _ := b.bus.ReadLinear64(addr, false)
	return v
}
func (b busMemory) WriteUint64(addr uint64, v uint64) { b.bus.WriteLinear64(addr, v, false) }

// LoadPE parses and loads a complete PE32/PE32+ image at loadBase,
// applying relocations if loadBase differs from the image's preferred
// base.
func (m *Machine) LoadPE(data []byte, loadBase uint64) (peloader.Result, error) {
	img, err := peloader.Parse(data)
	if err != nil {
		return peloader.Result{}, fmt.Errorf("parsing PE image: %w", err)
	}
	res, err := img.Load(busMemory{m.Bus}, loadBase)
	if err != nil {
		return peloader.Result{}, fmt.Errorf("loading PE image: %w", err)
	}
	return res, nil
}
