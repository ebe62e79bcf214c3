// cpu.go - the fetch/decode/execute loop tying registers, flags,
// memory, segmentation and fault delivery together
//
// Grounded on cpu_x86.go's Step()/handleInterrupt (lines ~989 onward)
// and cpu_x86_runner.go's top-level run loop, generalized from the
// teacher's single real/protected 386 core to the real/protected/long
// mode loop needed here.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import (
	"github.com/zaynotley/x86uefiboot/internal/fault"
	"github.com/zaynotley/x86uefiboot/internal/mem"
	"github.com/zaynotley/x86uefiboot/internal/seg"
)

// Mode mirrors mem.AddressMode but is owned by the CPU so that mode
// transitions (CR0.PE, EFER.LMA) can be decided here and pushed down
// into the memory bus and segmentation unit.
type Mode = mem.AddressMode

const (
	ModeReal      = mem.ModeReal
	ModeProtected = mem.ModeProtected
	ModeLong      = mem.ModeLong
)

// Control register bits relevant to mode transitions.
const (
	CR0PE = 1 << 0
	CR0PG = 1 << 31
	CR4PAE = 1 << 5
	EFERLME = 1 << 8
	EFERLMA = 1 << 10
)

// TrampolineChecker lets the UEFI dispatcher intercept call/branch
// targets that fall in the synthetic trampoline address space, per
// call/branch targets that fall in the synthetic trampoline address
// space. Returns handled=true if the target was a trampoline
// and the call was serviced (as if RET had executed).
type TrampolineChecker interface {
	Dispatch(cpu *CPU, target uint64) (handled bool)
}

// PatternEngine is the contract the patterned-instruction engine
// presents to the step loop's try_execute contract.
type PatternEngine interface {
	TryExecute(cpu *CPU, rip uint64) (nextRIP uint64, executed bool)
}

// CPU is one complete x86/x86-64 architectural state plus the
// subsystems the step loop needs to advance it.
type CPU struct {
	Regs  RegFile
	Flags Flags
	Seg   seg.Unit
	Bus   *mem.Bus

	CR0, CR2, CR3, CR4 uint64
	EFER               uint64
	MSR                map[uint32]uint64
	StrictMSR          bool

	XMM   [16][4]uint32
	MXCSR uint32

	DR [8]uint64

	CPL uint8

	Mode Mode

	Halted  bool
	running bool

	irqPending bool
	irqVector  byte

	Trampolines TrampolineChecker
	Patterns    PatternEngine

	// TSC is a host-provided monotonic counter source for RDTSC.
	// Advanced once per Step.
	TSC uint64

	OnFault func(f *fault.Fault)

	idt             *fault.IDT
	inFaultDelivery bool
}

func NewCPU(bus *mem.Bus) *CPU {
	c := &CPU{Bus: bus, Mode: ModeReal}
	c.Flags.Reset()
	c.MSR = defaultMSRMap()
	c.Seg.LoadReal(&c.Seg.CS, 0)
	c.Seg.LoadReal(&c.Seg.DS, 0)
	c.Seg.LoadReal(&c.Seg.ES, 0)
	c.Seg.LoadReal(&c.Seg.SS, 0)
	c.Seg.LoadReal(&c.Seg.FS, 0)
	c.Seg.LoadReal(&c.Seg.GS, 0)
	c.running = true
	return c
}

func defaultMSRMap() map[uint32]uint64 {
	return map[uint32]uint64{
		MSR_IA32_EFER:           0,
		MSR_IA32_SYSENTER_CS:    0,
		MSR_IA32_SYSENTER_EIP:   0,
		MSR_IA32_SYSENTER_ESP:   0,
		MSR_IA32_APIC_BASE:      0xFEE00900,
		MSR_IA32_FS_BASE:        0,
		MSR_IA32_GS_BASE:        0,
		MSR_IA32_TSC:            0,
	}
}

// RaiseIRQ marks a maskable interrupt as pending; delivered on the
// next Step where IF=1 and no interrupt-block window is active.
func (c *CPU) RaiseIRQ(vector byte) {
	c.irqPending = true
	c.irqVector = vector
}

func (c *CPU) Running() bool { return c.running && !c.Halted }
func (c *CPU) Stop()         { c.running = false }

// Step executes exactly one instruction (or one pattern-closure
// execution).
func (c *CPU) Step() {
	if !c.Running() {
		return
	}
	c.TSC++

	// (a) deliver any pending maskable interrupt.
	if c.irqPending && c.Flags.IF() && !c.Seg.ConsumeInterruptBlock() {
		v := c.irqVector
		c.irqPending = false
		c.Deliver(fault.New(int(v), 0))
		return
	}
	c.Seg.ConsumeInterruptBlock()

	rip := c.Regs.RIP()

	// (b) ask the patterned engine for a cached execution at RIP.
	if c.Patterns != nil {
		if next, executed := c.Patterns.TryExecute(c, rip); executed {
			c.Regs.SetRIP(next)
			return
		}
	}

	c.decodeAndExecute(rip)
}

// Deliver runs the fault/interrupt delivery path and
// invokes OnFault for observability. A triple fault (a fault raised
// while already delivering VecDF) halts the machine.
func (c *CPU) Deliver(f *fault.Fault) {
	if c.OnFault != nil {
		c.OnFault(f)
	}
	if f.Vector == fault.VecDF {
		if c.inFaultDelivery {
			c.Halted = true
			return
		}
		c.inFaultDelivery = true
		defer func() { c.inFaultDelivery = false }()
	}

	if f.Vector == fault.VecPF {
		c.CR2 = f.CR2
	}

	gate := c.idtGate(f.Vector)
	if !gate.Present {
		// No handler installed: escalate to double fault, or halt if
		// we're already there.
		if f.Vector == fault.VecDF {
			c.Halted = true
			return
		}
		c.Deliver(fault.New(fault.VecDF, 0))
		return
	}

	frame := fault.Frame{
		RFLAGS: c.Flags.Get(),
		CS:     c.Seg.CS.Selector,
		RIP:    c.Regs.RIP(),
	}
	if gate.DPL < c.CPL {
		frame.CPLChanging = true
		frame.SS = c.Seg.SS.Selector
		frame.RSP = c.Regs.Get64(RSP)
	}

	if c.Mode == ModeLong {
		fault.DeliverLong(c, frame, f)
	} else {
		fault.DeliverLegacy(c, frame, f, c.Seg.CS.DefaultBig)
	}

	c.CPL = gate.DPL
	c.Regs.SetRIP(gate.Offset)
}

// idtGate looks the vector up in the IDT installed with SetIDT and
// returns a zero Gate when none is installed; a guest LIDT (0F 01)
// decodes as a no-op and does not change it.
func (c *CPU) idtGate(vector int) fault.Gate {
	if c.idt == nil {
		return fault.Gate{}
	}
	return c.idt.Gates[vector&0xFF]
}

func (c *CPU) SetIDT(idt *fault.IDT) { c.idt = idt }

// Push16/Push32/Push64/AlignRSP16 implement fault.StackWriter against
// the current stack segment and mode.
func (c *CPU) Push16(v uint16) {
	sp := uint16(c.Regs.Get64(RSP)) - 2
	c.Regs.Set16(RSP, sp)
	addr := c.Seg.SS.Base + uint64(sp)
	c.Bus.WriteLinear16(addr, v, c.CPL == 3)
}

func (c *CPU) Push32(v uint32) {
	sp := uint32(c.Regs.Get64(RSP)) - 4
	c.Regs.Set32(RSP, sp)
	addr := c.Seg.SS.Base + uint64(sp)
	c.Bus.WriteLinear32(addr, v, c.CPL == 3)
}

func (c *CPU) Push64(v uint64) {
	sp := c.Regs.Get64(RSP) - 8
	c.Regs.Set64(RSP, sp)
	c.Bus.WriteLinear64(sp, v, c.CPL == 3)
}

func (c *CPU) AlignRSP16() {
	sp := c.Regs.Get64(RSP) &^ 0xF
	c.Regs.Set64(RSP, sp)
}

func (c *CPU) Pop16() uint16 {
	sp := uint16(c.Regs.Get64(RSP))
	addr := c.Seg.SS.Base + uint64(sp)
	v, _ := c.Bus.ReadLinear16(addr, c.CPL == 3)
	c.Regs.Set16(RSP, sp+2)
	return v
}

func (c *CPU) Pop32() uint32 {
	sp := uint32(c.Regs.Get64(RSP))
	addr := c.Seg.SS.Base + uint64(sp)
	v, _ := c.Bus.ReadLinear32(addr, c.CPL == 3)
	c.Regs.Set32(RSP, sp+4)
	return v
}

func (c *CPU) Pop64() uint64 {
	sp := c.Regs.Get64(RSP)
	v, _ := c.Bus.ReadLinear64(sp, c.CPL == 3)
	c.Regs.Set64(RSP, sp+8)
	return v
}

// SetCR0 applies CR0.PE/PG transitions, re-evaluating addressing mode
// and invalidating segment caches on any CR0.PE/PG transition.
func (c *CPU) SetCR0(v uint64) {
	c.CR0 = v
	c.recomputeMode()
}

func (c *CPU) SetEFER(v uint64) {
	c.EFER = v
	c.recomputeMode()
}

func (c *CPU) recomputeMode() {
	pe := c.CR0&CR0PE != 0
	pg := c.CR0&CR0PG != 0
	lme := c.EFER&EFERLME != 0

	var newMode Mode
	switch {
	case pe && pg && lme:
		newMode = ModeLong
		c.EFER |= EFERLMA
	case pe:
		newMode = ModeProtected
		c.EFER &^= EFERLMA
	default:
		newMode = ModeReal
		c.EFER &^= EFERLMA
	}

	c.Bus.Mode = newMode
	c.Bus.PagingOn = pg
	c.Bus.CR3 = c.CR3
	c.Seg.InvalidateForModeChange(newMode != ModeReal)
	c.Mode = newMode
}
