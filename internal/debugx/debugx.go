// debugx.go - register/memory/disassembly introspection for one CPU core
//
// Trimmed from a multi-architecture DebuggableCPU adapter
// (debug_interface.go) down to a single x86/x86-64 core: where the
// teacher's monitor dispatches by cpu.CPUName() across six
// architectures, this package wraps exactly one *cpu.CPU and exposes
// the same register/breakpoint/watchpoint/snapshot surface without the
// dispatch layer.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package debugx

import (
	"fmt"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
	"github.com/zaynotley/x86uefiboot/internal/disasm"
)

// RegisterInfo describes one CPU register for display.
type RegisterInfo struct {
	Name     string
	BitWidth int
	Value    uint64
	Group    string // "general", "segment", "flags", "control"
}

// gprNames indexes cpu.Reg 0-15 by name, matching ModRM.reg/rm encoding.
var gprNames = [16]string{"RAX", "RCX", "RDX", "RBX", "RSP", "RBP", "RSI", "RDI", "R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15"}

// Debugger wraps a single CPU core with the introspection surface a
// trace/monitor frontend needs: register read/write by name, memory
// peek/poke, disassembly, and breakpoint/watchpoint bookkeeping.
type Debugger struct {
	CPU *cpu.CPU

	breakpoints  map[uint64]*ConditionalBreakpoint
	watchpoints  map[uint64]*Watchpoint
	breakpointCh chan<- BreakpointEvent
}

// New wraps cpu for introspection.
func New(c *cpu.CPU) *Debugger {
	return &Debugger{
		CPU:         c,
		breakpoints: make(map[uint64]*ConditionalBreakpoint),
		watchpoints: make(map[uint64]*Watchpoint),
	}
}

func (d *Debugger) CPUName() string { return "X86" }

func (d *Debugger) AddressWidth() int {
	if d.CPU.Mode == cpu.ModeLong {
		return 64
	}
	return 32
}

// GetRegisters returns the full general-purpose bank plus RIP and
// EFLAGS for display.
func (d *Debugger) GetRegisters() []RegisterInfo {
	width := d.AddressWidth()
	out := make([]RegisterInfo, 0, len(gprNames)+2)
	for i, name := range gprNames {
		out = append(out, RegisterInfo{Name: name, BitWidth: 64, Value: d.CPU.Regs.Get64(cpu.Reg(i)), Group: "general"})
	}
	out = append(out, RegisterInfo{Name: "RIP", BitWidth: 64, Value: d.CPU.Regs.RIP(), Group: "general"})
	out = append(out, RegisterInfo{Name: "EFLAGS", BitWidth: width, Value: d.CPU.Flags.Get(), Group: "flags"})
	return out
}

func (d *Debugger) GetRegister(name string) (uint64, bool) {
	if name == "RIP" || name == "PC" {
		return d.CPU.Regs.RIP(), true
	}
	if name == "EFLAGS" {
		return d.CPU.Flags.Get(), true
	}
	for i, n := range gprNames {
		if n == name {
			return d.CPU.Regs.Get64(cpu.Reg(i)), true
		}
	}
	return 0, false
}

func (d *Debugger) SetRegister(name string, value uint64) bool {
	if name == "RIP" || name == "PC" {
		d.CPU.Regs.SetRIP(value)
		return true
	}
	if name == "EFLAGS" {
		d.CPU.Flags.Set(value)
		return true
	}
	for i, n := range gprNames {
		if n == name {
			d.CPU.Regs.Set64(cpu.Reg(i), value)
			return true
		}
	}
	return false
}

func (d *Debugger) GetPC() uint64    { return d.CPU.Regs.RIP() }
func (d *Debugger) SetPC(addr uint64) { d.CPU.Regs.SetRIP(addr) }

func (d *Debugger) IsRunning() bool { return d.CPU.Running() }
func (d *Debugger) Freeze()         { d.CPU.Stop() }

// Step executes one instruction and reports how many bytes RIP moved
// forward (the encoded length for straight-line code, the jump distance
// for a forward branch, 0 when RIP moved backwards), the closest
// analogue this core has to a cycles-executed return value.
func (d *Debugger) Step() int {
	before := d.CPU.Regs.RIP()
	d.CPU.Step()
	after := d.CPU.Regs.RIP()
	if after >= before {
		return int(after - before)
	}
	return 0
}

// ReadMemory reads size bytes at addr as a supervisor-mode linear
// access, suppressing any fault by returning fewer bytes than
// requested (a debugger peek should never raise a page fault into the
// guest it's inspecting).
func (d *Debugger) ReadMemory(addr uint64, size int) []byte {
	out := make([]byte, 0, size)
	for i := 0; i < size; i++ {
		v, fault := d.CPU.Bus.ReadLinear8(addr+uint64(i), false)
		if fault != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

func (d *Debugger) WriteMemory(addr uint64, data []byte) {
	for i, b := range data {
		d.CPU.Bus.WriteLinear8(addr+uint64(i), b, false)
	}
}

// Disassemble decodes count instructions starting at addr; the
// instruction at the current RIP is not marked.
func (d *Debugger) Disassemble(addr uint64, count int) []disasm.Instruction {
	long := d.CPU.Mode == cpu.ModeLong
	reader := func(a uint64, n int) []byte { return d.ReadMemory(a, n) }

	out := make([]disasm.Instruction, 0, count)
	pc := addr
	for i := 0; i < count; i++ {
		in := disasm.Decode(reader, pc, long)
		out = append(out, in)
		if in.Len == 0 {
			break
		}
		pc += uint64(in.Len)
	}
	return out
}

func (d *Debugger) String() string {
	return fmt.Sprintf("X86 @ RIP=%#x", d.CPU.Regs.RIP())
}
