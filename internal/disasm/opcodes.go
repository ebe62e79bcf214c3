// opcodes.go - the decodeOpcode table itself
//
// A representative, not exhaustive, subset of the encoding space: the
// ALU/MOV/stack/branch/string-op families a loader's boot path and a
// GRUB-class payload actually emit, mirroring the scope
// `debug_disasm_x86.go`'s decodeX86Opcode switch covers for its own
// CPU core rather than attempting a byte-perfect clone of every
// documented opcode.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package disasm

import "fmt"

func (d *decoder) decodeOpcode(start uint64, op byte) Instruction {
	size := d.operandSize()

	switch {
	case op <= 0x3D && (op&0xC0) == 0 && (op&7) <= 5:
		// 00-3D: the eight ALU groups (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP),
		// each with the same six sub-encodings (Eb,Gb / Ev,Gv / Gb,Eb /
		// Gv,Ev / AL,Ib / eAX,Iz).
		group := int(op >> 3)
		sub := op & 7
		mnem := aluMnemonics[group]
		return d.decodeALUForm(start, mnem, sub, size)

	case op == 0x68:
		imm, _ := d.u32()
		return d.finish(start, "PUSH", fmt.Sprintf("0x%08X", imm), false, 0)
	case op == 0x6A:
		imm, _ := d.u8()
		return d.finish(start, "PUSH", fmt.Sprintf("0x%02X", int8(imm)), false, 0)

	case op >= 0x50 && op <= 0x57:
		return d.finish(start, "PUSH", d.gpName(int(op-0x50)|boolBit(d.rexB, 3), 64), false, 0)
	case op >= 0x58 && op <= 0x5F:
		return d.finish(start, "POP", d.gpName(int(op-0x58)|boolBit(d.rexB, 3), 64), false, 0)

	case op >= 0x70 && op <= 0x7F:
		rel, _ := d.u8()
		target := d.pos + uint64(int64(int8(rel)))
		return d.finish(start, "J"+condNames[op&0xF], fmt.Sprintf("0x%X", target), true, target)

	case op == 0x80 || op == 0x81 || op == 0x83:
		return d.decodeGrp1(start, op, size)

	case op == 0x84 || op == 0x85:
		w := 8
		if op == 0x85 {
			w = size
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, "TEST", fmt.Sprintf("%s, %s", rm, d.gpName(regField, w)), false, 0)

	case op == 0x88 || op == 0x89 || op == 0x8A || op == 0x8B:
		w := size
		if op == 0x88 || op == 0x8A {
			w = 8
		}
		regField, rm, _, _ := d.modrm(w)
		if op == 0x8A || op == 0x8B {
			return d.finish(start, "MOV", fmt.Sprintf("%s, %s", d.gpName(regField, w), rm), false, 0)
		}
		return d.finish(start, "MOV", fmt.Sprintf("%s, %s", rm, d.gpName(regField, w)), false, 0)

	case op == 0x8D:
		regField, rm, _, _ := d.modrm(size)
		return d.finish(start, "LEA", fmt.Sprintf("%s, %s", d.gpName(regField, size), rm), false, 0)

	case op == 0x90:
		return d.finish(start, "NOP", "", false, 0)

	case op >= 0x91 && op <= 0x97:
		return d.finish(start, "XCHG", fmt.Sprintf("%s, %s", d.gpName(int(op-0x90)|boolBit(d.rexB, 3), size), d.gpName(0, size)), false, 0)

	case op == 0xA4 || op == 0xA5:
		return d.finish(start, "MOVS", byteOrWide(op == 0xA5, size), false, 0)
	case op == 0xA6 || op == 0xA7:
		return d.finish(start, "CMPS", byteOrWide(op == 0xA7, size), false, 0)
	case op == 0xAA || op == 0xAB:
		return d.finish(start, "STOS", byteOrWide(op == 0xAB, size), false, 0)
	case op == 0xAC || op == 0xAD:
		return d.finish(start, "LODS", byteOrWide(op == 0xAD, size), false, 0)
	case op == 0xAE || op == 0xAF:
		return d.finish(start, "SCAS", byteOrWide(op == 0xAF, size), false, 0)

	case op == 0xA8:
		imm, _ := d.u8()
		return d.finish(start, "TEST", fmt.Sprintf("AL, 0x%02X", imm), false, 0)
	case op == 0xA9:
		imm, _ := d.u32()
		return d.finish(start, "TEST", fmt.Sprintf("EAX, 0x%08X", imm), false, 0)

	case op >= 0xB0 && op <= 0xB7:
		imm, _ := d.u8()
		return d.finish(start, "MOV", fmt.Sprintf("%s, 0x%02X", d.gpName(int(op-0xB0)|boolBit(d.rexB, 3), 8), imm), false, 0)
	case op >= 0xB8 && op <= 0xBF:
		idx := int(op-0xB8) | boolBit(d.rexB, 3)
		if size == 64 {
			imm, _ := d.u64()
			return d.finish(start, "MOV", fmt.Sprintf("%s, 0x%016X", d.gpName(idx, 64), imm), false, 0)
		}
		imm, _ := d.u32()
		return d.finish(start, "MOV", fmt.Sprintf("%s, 0x%08X", d.gpName(idx, size), imm), false, 0)

	case op == 0xC0 || op == 0xC1 || op == 0xD0 || op == 0xD1 || op == 0xD2 || op == 0xD3:
		return d.decodeGrp2(start, op, size)

	case op == 0xC2:
		imm, _ := d.u16()
		return d.finish(start, "RET", fmt.Sprintf("0x%04X", imm), false, 0)
	case op == 0xC3:
		return d.finish(start, "RET", "", false, 0)

	case op == 0xC6 || op == 0xC7:
		w := size
		if op == 0xC6 {
			w = 8
		}
		_, rm, _, _ := d.modrm(w)
		if w == 8 {
			imm, _ := d.u8()
			return d.finish(start, "MOV", fmt.Sprintf("%s, 0x%02X", rm, imm), false, 0)
		}
		imm, _ := d.u32()
		return d.finish(start, "MOV", fmt.Sprintf("%s, 0x%08X", rm, imm), false, 0)

	case op == 0xCC:
		return d.finish(start, "INT3", "", false, 0)
	case op == 0xCD:
		imm, _ := d.u8()
		return d.finish(start, "INT", fmt.Sprintf("0x%02X", imm), false, 0)

	case op == 0xE8:
		rel, _ := d.u32()
		target := d.pos + uint64(int64(int32(rel)))
		return d.finish(start, "CALL", fmt.Sprintf("0x%X", target), true, target)
	case op == 0xE9:
		rel, _ := d.u32()
		target := d.pos + uint64(int64(int32(rel)))
		return d.finish(start, "JMP", fmt.Sprintf("0x%X", target), true, target)
	case op == 0xEB:
		rel, _ := d.u8()
		target := d.pos + uint64(int64(int8(rel)))
		return d.finish(start, "JMP", fmt.Sprintf("0x%X", target), true, target)

	case op == 0xF4:
		return d.finish(start, "HLT", "", false, 0)

	case op == 0xF6 || op == 0xF7:
		return d.decodeGrp3(start, op, size)

	case op == 0xFE || op == 0xFF:
		return d.decodeGrp5(start, op, size)

	case op == 0x0F:
		op2, _ := d.u8()
		return d.decodeTwoByte(start, op2, size)
	}

	return d.finish(start, fmt.Sprintf("DB 0x%02X", op), "", false, 0)
}

func byteOrWide(wide bool, size int) string {
	if !wide {
		return "BYTE"
	}
	switch size {
	case 64:
		return "QWORD"
	case 16:
		return "WORD"
	default:
		return "DWORD"
	}
}

func (d *decoder) decodeALUForm(start uint64, mnem string, sub byte, size int) Instruction {
	switch sub {
	case 0, 1:
		w := size
		if sub == 0 {
			w = 8
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, mnem, fmt.Sprintf("%s, %s", rm, d.gpName(regField, w)), false, 0)
	case 2, 3:
		w := size
		if sub == 2 {
			w = 8
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, mnem, fmt.Sprintf("%s, %s", d.gpName(regField, w), rm), false, 0)
	case 4:
		imm, _ := d.u8()
		return d.finish(start, mnem, fmt.Sprintf("AL, 0x%02X", imm), false, 0)
	default:
		imm, _ := d.u32()
		return d.finish(start, mnem, fmt.Sprintf("EAX, 0x%08X", imm), false, 0)
	}
}

func (d *decoder) decodeGrp1(start uint64, op byte, size int) Instruction {
	w := size
	if op == 0x80 {
		w = 8
	}
	regField, rm, _, _ := d.modrm(w)
	mnem := grp1Mnemonics[regField&7]
	if op == 0x83 {
		imm, _ := d.u8()
		return d.finish(start, mnem, fmt.Sprintf("%s, 0x%02X", rm, int8(imm)), false, 0)
	}
	if w == 8 {
		imm, _ := d.u8()
		return d.finish(start, mnem, fmt.Sprintf("%s, 0x%02X", rm, imm), false, 0)
	}
	imm, _ := d.u32()
	return d.finish(start, mnem, fmt.Sprintf("%s, 0x%08X", rm, imm), false, 0)
}

func (d *decoder) decodeGrp2(start uint64, op byte, size int) Instruction {
	w := size
	if op == 0xC0 || op == 0xD0 || op == 0xD2 {
		w = 8
	}
	regField, rm, _, _ := d.modrm(w)
	mnem := grp2Mnemonics[regField&7]
	switch op {
	case 0xC0, 0xC1:
		imm, _ := d.u8()
		return d.finish(start, mnem, fmt.Sprintf("%s, 0x%02X", rm, imm), false, 0)
	case 0xD0, 0xD1:
		return d.finish(start, mnem, fmt.Sprintf("%s, 1", rm), false, 0)
	default:
		return d.finish(start, mnem, fmt.Sprintf("%s, CL", rm), false, 0)
	}
}

func (d *decoder) decodeGrp3(start uint64, op byte, size int) Instruction {
	w := size
	if op == 0xF6 {
		w = 8
	}
	regField, rm, _, _ := d.modrm(w)
	mnem := grp3Mnemonics[regField&7]
	if regField&7 <= 1 {
		if w == 8 {
			imm, _ := d.u8()
			return d.finish(start, mnem, fmt.Sprintf("%s, 0x%02X", rm, imm), false, 0)
		}
		imm, _ := d.u32()
		return d.finish(start, mnem, fmt.Sprintf("%s, 0x%08X", rm, imm), false, 0)
	}
	return d.finish(start, mnem, rm, false, 0)
}

func (d *decoder) decodeGrp5(start uint64, op byte, size int) Instruction {
	w := size
	if op == 0xFE {
		w = 8
	}
	regField, rm, _, _ := d.modrm(w)
	idx := regField & 7
	if int(idx) >= len(grp5Mnemonics) {
		return d.finish(start, "DB", fmt.Sprintf("0xFF /%d", idx), false, 0)
	}
	mnem := grp5Mnemonics[idx]
	isBranch := idx == 2 || idx == 4
	return d.finish(start, mnem, rm, isBranch, 0)
}

func (d *decoder) decodeTwoByte(start uint64, op2 byte, size int) Instruction {
	switch {
	case op2 >= 0x80 && op2 <= 0x8F:
		rel, _ := d.u32()
		target := d.pos + uint64(int64(int32(rel)))
		return d.finish(start, "J"+condNames[op2&0xF], fmt.Sprintf("0x%X", target), true, target)

	case op2 >= 0x90 && op2 <= 0x9F:
		_, rm, _, _ := d.modrm(8)
		return d.finish(start, "SET"+condNames[op2&0xF], rm, false, 0)

	case op2 == 0x05:
		return d.finish(start, "SYSCALL", "", false, 0)
	case op2 == 0x34:
		return d.finish(start, "SYSENTER", "", false, 0)
	case op2 == 0x35:
		return d.finish(start, "SYSEXIT", "", false, 0)

	case op2 == 0x1F:
		_, rm, _, _ := d.modrm(size)
		return d.finish(start, "NOP", rm, false, 0)

	case op2 == 0x31:
		return d.finish(start, "RDTSC", "", false, 0)
	case op2 == 0xA2:
		return d.finish(start, "CPUID", "", false, 0)

	case op2 == 0xAF:
		regField, rm, _, _ := d.modrm(size)
		return d.finish(start, "IMUL", fmt.Sprintf("%s, %s", d.gpName(regField, size), rm), false, 0)

	case op2 == 0xB0 || op2 == 0xB1:
		w := size
		if op2 == 0xB0 {
			w = 8
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, "CMPXCHG", fmt.Sprintf("%s, %s", rm, d.gpName(regField, w)), false, 0)

	case op2 == 0xC0 || op2 == 0xC1:
		w := size
		if op2 == 0xC0 {
			w = 8
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, "XADD", fmt.Sprintf("%s, %s", rm, d.gpName(regField, w)), false, 0)

	case op2 == 0xA3 || op2 == 0xAB || op2 == 0xB3 || op2 == 0xBB:
		regField, rm, _, _ := d.modrm(size)
		mnem := map[byte]string{0xA3: "BT", 0xAB: "BTS", 0xB3: "BTR", 0xBB: "BTC"}[op2]
		return d.finish(start, mnem, fmt.Sprintf("%s, %s", rm, d.gpName(regField, size)), false, 0)
	case op2 == 0xBA:
		regField, rm, _, _ := d.modrm(size)
		mnem := [8]string{"", "", "", "", "BT", "BTS", "BTR", "BTC"}[regField&7]
		imm, _ := d.u8()
		return d.finish(start, mnem, fmt.Sprintf("%s, 0x%02X", rm, imm), false, 0)

	case op2 == 0xB6 || op2 == 0xB7:
		w := 8
		if op2 == 0xB7 {
			w = 16
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, "MOVZX", fmt.Sprintf("%s, %s", d.gpName(regField, size), rm), false, 0)
	case op2 == 0xBE || op2 == 0xBF:
		w := 8
		if op2 == 0xBF {
			w = 16
		}
		regField, rm, _, _ := d.modrm(w)
		return d.finish(start, "MOVSX", fmt.Sprintf("%s, %s", d.gpName(regField, size), rm), false, 0)
	}

	return d.finish(start, fmt.Sprintf("DB 0x0F, 0x%02X", op2), "", false, 0)
}
