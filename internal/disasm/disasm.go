// disasm.go - x86/x86-64 disassembler for the trace surface
//
// Ambient: nothing in the execution core depends on this package, but
// a disassembler ships alongside every CPU core it
// supports (`debug_disasm_x86.go`'s x86Disasm/decodeModRM/
// decodeX86Opcode idiom, readMem-closure driven, one Instruction-like
// result per call), so this module follows that same shape -
// generalized from a fixed 32-bit-only register set to
// REX-aware 8/16/32/64-bit operand decoding, and from a single
// concatenated mnemonic string to a structured Instruction a trace
// logger or test can inspect without re-parsing text.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package disasm

import "fmt"

// Instruction is one decoded x86 instruction: the bytes it spans, its
// rendered mnemonic and operand text, and branch-target annotation for
// the handful of opcodes a trace log cares about following.
type Instruction struct {
	Addr         uint64
	Bytes        []byte
	Mnemonic     string
	Operands     string
	Len          int
	IsBranch     bool
	BranchTarget uint64
}

func (in Instruction) String() string {
	if in.Operands == "" {
		return in.Mnemonic
	}
	return in.Mnemonic + " " + in.Operands
}

var reg8 = [8]string{"AL", "CL", "DL", "BL", "AH", "CH", "DH", "BH"}
var reg8REX = [16]string{"AL", "CL", "DL", "BL", "SPL", "BPL", "SIL", "DIL", "R8B", "R9B", "R10B", "R11B", "R12B", "R13B", "R14B", "R15B"}
var reg16 = [16]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI", "R8W", "R9W", "R10W", "R11W", "R12W", "R13W", "R14W", "R15W"}
var reg32 = [16]string{"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI", "R8D", "R9D", "R10D", "R11D", "R12D", "R13D", "R14D", "R15D"}
var reg64 = [16]string{"RAX", "RCX", "RDX", "RBX", "RSP", "RBP", "RSI", "RDI", "R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15"}
var segRegs = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}
var condNames = [16]string{"O", "NO", "B", "AE", "E", "NE", "BE", "A", "S", "NS", "P", "NP", "L", "GE", "LE", "G"}

// aluMnemonics is the eight ADD/OR/ADC/SBB/AND/SUB/XOR/CMP groups that
// share an identical encoding shape (00-3D), indexed by the opcode's
// top 3 bits.
var aluMnemonics = [8]string{"ADD", "OR", "ADC", "SBB", "AND", "SUB", "XOR", "CMP"}

// grp1Mnemonics indexes Grp1 (opcodes 80/81/83)'s /reg field.
var grp1Mnemonics = aluMnemonics

// grp2Mnemonics indexes Grp2 (shift/rotate: C0/C1/D0-D3)'s /reg field.
var grp2Mnemonics = [8]string{"ROL", "ROR", "RCL", "RCR", "SHL", "SHR", "SHL", "SAR"}

// grp3Mnemonics indexes Grp3 (F6/F7)'s /reg field.
var grp3Mnemonics = [8]string{"TEST", "TEST", "NOT", "NEG", "MUL", "IMUL", "DIV", "IDIV"}

// grp5Mnemonics indexes Grp5 (FF)'s /reg field (0-6; 7 is undefined).
var grp5Mnemonics = [7]string{"INC", "DEC", "CALL", "CALL", "JMP", "JMP", "PUSH"}

type decoder struct {
	mem  func(addr uint64, n int) []byte
	pos  uint64
	long bool // default 64-bit addressing/operand context (REX.W and 0x66 still apply on top)

	rex     bool
	rexW    bool
	rexR    bool
	rexX    bool
	rexB    bool
	opSize  bool // 0x66 seen
	segPfx  string
	lockRep string
}

func (d *decoder) u8() (byte, bool) {
	b := d.mem(d.pos, 1)
	if len(b) < 1 {
		return 0, false
	}
	d.pos++
	return b[0], true
}

func (d *decoder) u16() (uint16, bool) {
	b := d.mem(d.pos, 2)
	if len(b) < 2 {
		return 0, false
	}
	d.pos += 2
	return uint16(b[0]) | uint16(b[1])<<8, true
}

func (d *decoder) u32() (uint32, bool) {
	b := d.mem(d.pos, 4)
	if len(b) < 4 {
		return 0, false
	}
	d.pos += 4
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (d *decoder) u64() (uint64, bool) {
	lo, ok := d.u32()
	if !ok {
		return 0, false
	}
	hi, ok := d.u32()
	if !ok {
		return 0, false
	}
	return uint64(lo) | uint64(hi)<<32, true
}

// Decode reads exactly one instruction at addr from mem (a
// caller-supplied byte-window accessor, the same shape the
// patterned-instruction engine and the trace reader both
// use), interpreting it in 64-bit mode when long is true or 32-bit
// protected mode otherwise.
func Decode(mem func(addr uint64, n int) []byte, addr uint64, long bool) Instruction {
	d := &decoder{mem: mem, pos: addr, long: long}

	for {
		b, ok := d.u8()
		if !ok {
			return d.finish(addr, "DB", "??", false, 0)
		}
		switch {
		case b == 0x26:
			d.segPfx = "ES:"
		case b == 0x2E:
			d.segPfx = "CS:"
		case b == 0x36:
			d.segPfx = "SS:"
		case b == 0x3E:
			d.segPfx = "DS:"
		case b == 0x64:
			d.segPfx = "FS:"
		case b == 0x65:
			d.segPfx = "GS:"
		case b == 0x66:
			d.opSize = true
		case b == 0x67:
			// address-size override: recorded nowhere. This package's
			// ModRM decode always uses the 32/64-bit addressing forms,
			// so a 16-bit address form (disp16, no SIB) is rendered and
			// sized as its 32-bit counterpart.
		case b == 0xF0:
			d.lockRep = "LOCK "
		case b == 0xF2:
			d.lockRep = "REPNE "
		case b == 0xF3:
			d.lockRep = "REP "
		case long && b >= 0x40 && b <= 0x4F:
			d.rex = true
			d.rexW = b&0x08 != 0
			d.rexR = b&0x04 != 0
			d.rexX = b&0x02 != 0
			d.rexB = b&0x01 != 0
		default:
			return d.decodeOpcode(addr, b)
		}
	}
}

func (d *decoder) finish(start uint64, mnemonic, operands string, isBranch bool, target uint64) Instruction {
	n := int(d.pos - start)
	if n <= 0 {
		n = 1
	}
	return Instruction{
		Addr:         start,
		Bytes:        d.mem(start, n),
		Mnemonic:     d.lockRep + mnemonic,
		Operands:     operands,
		Len:          n,
		IsBranch:     isBranch,
		BranchTarget: target,
	}
}

// gpName returns idx's register name at the given operand width (8,
// 16, 32, or 64), honoring REX's byte-register remap and extension bit.
func (d *decoder) gpName(idx int, size int) string {
	switch size {
	case 8:
		if d.rex {
			return reg8REX[idx]
		}
		return reg8[idx&7]
	case 16:
		return reg16[idx]
	case 64:
		return reg64[idx]
	default:
		return reg32[idx]
	}
}

func (d *decoder) operandSize() int {
	if d.rexW {
		return 64
	}
	if d.opSize {
		return 16
	}
	return 32
}

// modrm decodes a ModRM(+SIB+disp) byte sequence, returning the /reg
// field's raw value (not yet extended by REX.R), a rendered operand
// string for the r/m operand, and whether r/m named a register
// (mod==3) as opposed to a memory operand.
func (d *decoder) modrm(size int) (regField int, rm string, isReg bool, ok bool) {
	b, ok := d.u8()
	if !ok {
		return 0, "???", false, false
	}
	mod := (b >> 6) & 3
	regField = int((b>>3)&7) | boolBit(d.rexR, 3)
	rmField := int(b & 7)

	if mod == 3 {
		idx := rmField | boolBit(d.rexB, 3)
		return regField, d.gpName(idx, size), true, true
	}

	addrSize := 32
	if d.long {
		addrSize = 64
	}
	baseRegs := reg32
	if addrSize == 64 {
		baseRegs = reg64
	}

	var base string
	var indexStr string

	if rmField == 4 {
		sib, ok := d.u8()
		if !ok {
			return regField, "[???]", false, false
		}
		scale := 1 << ((sib >> 6) & 3)
		idxField := int((sib>>3)&7) | boolBit(d.rexX, 3)
		baseField := int(sib&7) | boolBit(d.rexB, 3)

		if idxField != 4 {
			indexStr = fmt.Sprintf("+%s*%d", baseRegs[idxField], scale)
		}
		if mod == 0 && (sib&7) == 5 {
			disp, _ := d.u32()
			if indexStr != "" {
				return regField, fmt.Sprintf("[%s0x%08X]", indexStr[1:]+"+", disp), false, true
			}
			return regField, fmt.Sprintf("[0x%08X]", disp), false, true
		}
		base = baseRegs[baseField]
	} else if mod == 0 && rmField == 5 {
		disp, _ := d.u32()
		if d.long {
			target := d.pos + uint64(int64(int32(disp)))
			return regField, fmt.Sprintf("[RIP+0x%X]", target), false, true
		}
		return regField, fmt.Sprintf("[0x%08X]", disp), false, true
	} else {
		idx := rmField | boolBit(d.rexB, 3)
		base = baseRegs[idx]
	}

	switch mod {
	case 0:
		return regField, fmt.Sprintf("[%s%s]", base, indexStr), false, true
	case 1:
		off, _ := d.u8()
		disp := int8(off)
		if disp >= 0 {
			return regField, fmt.Sprintf("[%s%s+0x%02X]", base, indexStr, disp), false, true
		}
		return regField, fmt.Sprintf("[%s%s-0x%02X]", base, indexStr, -disp), false, true
	default: // mod == 2
		disp, _ := d.u32()
		return regField, fmt.Sprintf("[%s%s+0x%08X]", base, indexStr, disp), false, true
	}
}

func boolBit(b bool, shift int) int {
	if b {
		return 1 << shift
	}
	return 0
}
