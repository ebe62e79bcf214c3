// calling.go - EFIAPI argument marshalling
//
// Implements the Microsoft x64 calling convention for 64-bit EFIAPI
// calls and stack-based cdecl for 32-bit. No calling-convention
// marshalling layer exists anywhere else in the pack (trampolines,
// where present, are native Go function pointers called directly);
// this is grounded purely on the UEFI specification's EFIAPI ABI
// definition, written in a small-helper-struct style
// (`debug_conditions.go`'s condition evaluator: one struct, few
// methods, no interface needed since there is exactly one
// implementation).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// ArgReader walks a trampoline call's argument list in the calling
// convention implied by the CPU's current mode, and writes the
// EFI_STATUS return value the way that convention expects it.
type ArgReader struct {
	c       *cpu.CPU
	long    bool
	nextIdx int
	esp     uint64 // 32-bit cdecl: return address already on the stack
}

// x64IntArgRegs is RCX, RDX, R8, R9 in argument order.
var x64IntArgRegs = [4]cpu.Reg{cpu.RCX, cpu.RDX, cpu.R8, cpu.R9}

func NewArgReader(c *cpu.CPU) *ArgReader {
	return &ArgReader{c: c, long: c.Mode == cpu.ModeLong, esp: c.Regs.Get64(cpu.RSP)}
}

// Uint64 reads the next argument as a full 64-bit value.
func (a *ArgReader) Uint64() uint64 {
	if a.long {
		if a.nextIdx < 4 {
			v := a.c.Regs.Get64(x64IntArgRegs[a.nextIdx])
			a.nextIdx++
			return v
		}
		// Fifth argument onward: past the 32-byte shadow space, above
		// the already-pushed return address.
		off := a.esp + 8 + 32 + uint64(a.nextIdx-4)*8
		a.nextIdx++
		v, _ := a.c.Bus.ReadLinear64(off, a.c.CPL == 3)
		return v
	}
	off := a.esp + 4 + uint64(a.nextIdx)*4
	a.nextIdx++
	v, _ := a.c.Bus.ReadLinear32(off, a.c.CPL == 3)
	return uint64(v)
}

// Ptr reads the next argument as a guest pointer (a linear address
// width-appropriate to the current mode).
func (a *ArgReader) Ptr() uint64 { return a.Uint64() }

// Uint32 reads the next argument truncated to 32 bits (UINTN/UINT32
// parameters on either ABI occupy one argument slot).
func (a *ArgReader) Uint32() uint32 { return uint32(a.Uint64()) }

// SetReturn writes status into RAX/EAX, the EFIAPI return-value
// register on both calling conventions; in 32-bit mode the error bit
// moves from bit 63 to bit 31.
func (a *ArgReader) SetReturn(status Status) {
	if a.long {
		a.c.Regs.Set64(cpu.RAX, uint64(status))
		return
	}
	v := uint32(status)
	if status&errBit != 0 {
		v |= 1 << 31
	}
	a.c.Regs.Set32(cpu.RAX, v)
}

// WritePtrOut stores a guest pointer value through an out-parameter
// slot (one of the trailing "OUT EFI_X *X" arguments UEFI functions
// commonly take), sized to the current mode's pointer width.
func (a *ArgReader) WritePtrOut(outPtr, value uint64) {
	if a.long {
		a.c.Bus.WriteLinear64(outPtr, value, a.c.CPL == 3)
		return
	}
	a.c.Bus.WriteLinear32(outPtr, uint32(value), a.c.CPL == 3)
}

func (a *ArgReader) WriteUint32Out(outPtr uint64, value uint32) {
	a.c.Bus.WriteLinear32(outPtr, value, a.c.CPL == 3)
}

func (a *ArgReader) WriteUint64Out(outPtr uint64, value uint64) {
	a.c.Bus.WriteLinear64(outPtr, value, a.c.CPL == 3)
}
