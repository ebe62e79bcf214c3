// dispatch.go - prefix/opcode parsing and the opcode dispatch table
//
// Grounded on cpu_x86.go's Step() prefix-parsing preamble and opcode
// switch (lines 989 onward), generalized to long-mode REX prefixes,
// 64-bit operand defaults, and the two-byte 0x0F opcode map the
// teacher's 386 core does not need.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "github.com/zaynotley/x86uefiboot/internal/fault"

// instructionWindow covers the maximum x86-64 instruction length (15
// bytes per the SDM), rounded up to 16; fetched once per instruction so the decoder can
// look ahead for ModR/M, SIB, displacement, and immediate without
// round-tripping through memory per byte.
const instructionWindow = 16

func (c *CPU) decodeAndExecute(rip uint64) {
	window, f := c.Bus.FetchCode(rip, instructionWindow, c.CPL == 3)
	if f != nil {
		c.Deliver(fault.NewPageFault(f.ErrorCode(), f.Addr))
		return
	}

	dec := NewDecoder(window, func(r Reg) uint64 { return c.Regs.Get64(r) })

	var pfx Prefixes
prefixLoop:
	for {
		b := window[dec.Pos]
		switch b {
		case 0x66:
			pfx.OperandSize = true
			dec.Pos++
		case 0x67:
			pfx.AddressSize = true
			dec.Pos++
		case 0xF0:
			pfx.Lock = true
			dec.Pos++
		case 0xF2:
			pfx.RepNZ = true
			dec.Pos++
		case 0xF3:
			pfx.RepZ = true
			dec.Pos++
		case 0x2E:
			pfx.HasSeg, pfx.SegOverride = true, SegCS
			dec.Pos++
		case 0x36:
			pfx.HasSeg, pfx.SegOverride = true, SegSS
			dec.Pos++
		case 0x3E:
			pfx.HasSeg, pfx.SegOverride = true, SegDS
			dec.Pos++
		case 0x26:
			pfx.HasSeg, pfx.SegOverride = true, SegES
			dec.Pos++
		case 0x64:
			pfx.HasSeg, pfx.SegOverride = true, SegFS
			dec.Pos++
		case 0x65:
			pfx.HasSeg, pfx.SegOverride = true, SegGS
			dec.Pos++
		default:
			break prefixLoop
		}
	}

	if c.Mode == ModeLong {
		b := window[dec.Pos]
		if b >= 0x40 && b <= 0x4F {
			pfx.HasREX = true
			pfx.REX = b
			dec.Pos++
		}
	}

	opSize, addrSize := c.defaultSizes(pfx)

	op := dec.u8()
	in := &inst{pfx: pfx, opSize: opSize, addrSize: addrSize, dec: dec, startRIP: rip}

	if op == 0x0F {
		c.dispatch0F(in, dec.u8())
	} else {
		c.dispatch1(in, op)
	}
}

// defaultSizes resolves the effective operand/address size from mode,
// segment defaults, and the 0x66/0x67/REX.W prefixes.
func (c *CPU) defaultSizes(pfx Prefixes) (opSize, addrSize int) {
	if c.Mode == ModeLong {
		opSize = 32
		addrSize = 64
		if pfx.OperandSize {
			opSize = 16
		}
		if pfx.RexW() {
			opSize = 64
		}
		if pfx.AddressSize {
			addrSize = 32
		}
		return
	}
	if c.Seg.CS.DefaultBig {
		opSize, addrSize = 32, 32
	} else {
		opSize, addrSize = 16, 16
	}
	if pfx.OperandSize {
		opSize = 48 - opSize // toggles 16<->32
	}
	if pfx.AddressSize {
		addrSize = 48 - addrSize
	}
	return
}

// decodeRM loads in.modrm (and in.ripRelative) using the instruction's
// address size and REX extension bits; callers invoke it exactly once
// per instruction, mirroring fetchModRM's memoized-byte idiom from
// cpu_x86.go generalized to the full addressing-mode set.
func (c *CPU) decodeRM(in *inst) {
	if in.hasModRM {
		return
	}
	in.modrm, in.ripRelative = in.dec.decodeModRM(in.addrSize, in.pfx.RexR(), in.pfx.RexX(), in.pfx.RexB())
	in.hasModRM = true
}

func (c *CPU) repKindOf(pfx Prefixes) repKind {
	switch {
	case pfx.RepZ:
		return repZ
	case pfx.RepNZ:
		return repNZ
	default:
		return repNone
	}
}

// finish commits the decoder's final cursor as the new RIP: every
// handler either falls through here (implicit RIP advance by
// consumption) or has already called SetRIP itself
// (explicit branches) in which case this is a no-op guard.
func (c *CPU) finish(in *inst, branched bool) {
	if !branched {
		c.Regs.SetRIP(in.startRIP + uint64(in.dec.Pos))
	}
}

// dispatch1 handles the one-byte opcode map.
func (c *CPU) dispatch1(in *inst, op byte) {
	dec := in.dec

	// ALU group: 0x00-0x3D, 8 operations x 6 forms (rows of 8, two
	// spare slots per row used by segment push/pop in legacy modes,
	// left unimplemented here since the boot target runs in long mode).
	if op < 0x40 && (op&0x07) <= 5 {
		aop := aluOp(op >> 3)
		variant := op & 0x07
		switch variant {
		case 0: // Eb,Gb
			in.opSize = 8
			c.decodeRM(in)
			c.execALURM_toRM(in, aop)
		case 1: // Ev,Gv
			c.decodeRM(in)
			c.execALURM_toRM(in, aop)
		case 2: // Gb,Eb
			in.opSize = 8
			c.decodeRM(in)
			c.execALUReg_fromRM(in, aop)
		case 3: // Gv,Ev
			c.decodeRM(in)
			c.execALUReg_fromRM(in, aop)
		case 4: // AL,Ib
			imm := uint64(dec.u8())
			c.execALUAcc_Imm(aop, 8, imm)
		case 5: // eAX,Iv
			imm := c.immForSize(dec, in.opSize)
			c.execALUAcc_Imm(aop, in.opSize, imm)
		}
		c.finish(in, false)
		return
	}

	switch {
	case op >= 0x50 && op <= 0x57: // PUSH r64/r32
		reg := Reg(op - 0x50)
		if in.pfx.RexB() {
			reg += 8
		}
		c.finish(in, false)
		c.pushStack(c.Regs.Get(reg, c.stackWidth(), in.pfx.HasREX))
		return
	case op >= 0x58 && op <= 0x5F: // POP r64/r32
		reg := Reg(op - 0x58)
		if in.pfx.RexB() {
			reg += 8
		}
		c.finish(in, false)
		c.Regs.Set(reg, c.stackWidth(), c.popStack(), in.pfx.HasREX)
		return
	case op >= 0x70 && op <= 0x7F: // Jcc rel8
		disp := int64(dec.i8())
		cc := op & 0xF
		fallthroughRIP := in.startRIP + uint64(dec.Pos)
		c.execJcc(cc, fallthroughRIP, disp)
		return
	case op >= 0xB0 && op <= 0xB7: // MOV r8, imm8
		reg := Reg(op - 0xB0)
		if in.pfx.RexB() {
			reg += 8
		}
		v := dec.u8()
		c.finish(in, false)
		c.Regs.Set8(reg, v, in.pfx.HasREX)
		return
	case op >= 0xB8 && op <= 0xBF: // MOV r?, imm
		reg := Reg(op - 0xB8)
		if in.pfx.RexB() {
			reg += 8
		}
		var v uint64
		if in.opSize == 64 {
			v = dec.u64()
		} else {
			v = c.immForSize(dec, in.opSize)
		}
		c.finish(in, false)
		c.Regs.Set(reg, in.opSize, v, in.pfx.HasREX)
		return
	}

	switch op {
	case 0x68: // PUSH imm32
		imm := uint64(int64(dec.i32()))
		c.finish(in, false)
		c.pushStack(imm)
	case 0x6A: // PUSH imm8
		imm := uint64(int64(dec.i8()))
		c.finish(in, false)
		c.pushStack(imm)
	case 0x80: // Grp1 Eb,Ib
		in.opSize = 8
		c.decodeRM(in)
		imm := uint64(dec.u8())
		c.finish(in, false)
		c.execALUGroup1(in, imm)
	case 0x81: // Grp1 Ev,Iz
		c.decodeRM(in)
		imm := c.immForSize(dec, in.opSize)
		c.finish(in, false)
		c.execALUGroup1(in, imm)
	case 0x83: // Grp1 Ev,Ib (sign-extended)
		c.decodeRM(in)
		imm := uint64(int64(dec.i8()))
		c.finish(in, false)
		c.execALUGroup1(in, imm)
	case 0x88: // MOV Eb,Gb
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		c.rmWrite(in, c.regRead(in))
	case 0x89: // MOV Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.rmWrite(in, c.regRead(in))
	case 0x8A: // MOV Gb,Eb
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		c.regWrite(in, c.rmRead(in))
	case 0x8B: // MOV Gv,Ev
		c.decodeRM(in)
		c.finish(in, false)
		c.regWrite(in, c.rmRead(in))
	case 0x8D: // LEA Gv,M
		c.decodeRM(in)
		c.finish(in, false)
		c.regWrite(in, c.effectiveAddrOnly(in))
	case 0x90: // NOP (also XCHG EAX,EAX)
		c.finish(in, false)
	case 0xA4: // MOVSB
		c.finish(in, false)
		c.execMOVS(8, in.addrSize, c.repKindOf(in.pfx))
	case 0xA5: // MOVSW/D/Q
		c.finish(in, false)
		c.execMOVS(in.opSize, in.addrSize, c.repKindOf(in.pfx))
	case 0xA6: // CMPSB
		c.finish(in, false)
		c.execCMPS(8, in.addrSize, c.repKindOf(in.pfx))
	case 0xA7:
		c.finish(in, false)
		c.execCMPS(in.opSize, in.addrSize, c.repKindOf(in.pfx))
	case 0xAA: // STOSB
		c.finish(in, false)
		c.execSTOS(8, in.addrSize, c.repKindOf(in.pfx))
	case 0xAB:
		c.finish(in, false)
		c.execSTOS(in.opSize, in.addrSize, c.repKindOf(in.pfx))
	case 0xAC: // LODSB
		c.finish(in, false)
		c.execLODS(8, in.addrSize, c.repKindOf(in.pfx))
	case 0xAD:
		c.finish(in, false)
		c.execLODS(in.opSize, in.addrSize, c.repKindOf(in.pfx))
	case 0xAE: // SCASB
		c.finish(in, false)
		c.execSCAS(8, in.addrSize, c.repKindOf(in.pfx))
	case 0xAF:
		c.finish(in, false)
		c.execSCAS(in.opSize, in.addrSize, c.repKindOf(in.pfx))
	case 0xC0: // Grp2 Eb,Ib
		in.opSize = 8
		c.decodeRM(in)
		count := dec.u8()
		c.finish(in, false)
		v := c.rmRead(in)
		c.rmWrite(in, c.Flags.shiftRotate(v, count, byte(in.modrm.RegNo&7), 8))
	case 0xC1: // Grp2 Ev,Ib
		c.decodeRM(in)
		count := dec.u8()
		c.finish(in, false)
		v := c.rmRead(in)
		c.rmWrite(in, c.Flags.shiftRotate(v, count, byte(in.modrm.RegNo&7), in.opSize))
	case 0xC2: // RET imm16
		imm := dec.u16()
		c.finish(in, true)
		c.execRET(imm)
	case 0xC3: // RET
		c.finish(in, true)
		c.execRET(0)
	case 0xC6: // MOV Eb,Ib
		in.opSize = 8
		c.decodeRM(in)
		imm := uint64(dec.u8())
		c.finish(in, false)
		c.rmWrite(in, imm)
	case 0xC7: // MOV Ev,Iz
		c.decodeRM(in)
		imm := c.immForSize(dec, in.opSize)
		c.finish(in, false)
		c.rmWrite(in, imm)
	case 0xCC: // INT3
		c.finish(in, true)
		c.execINT(3)
	case 0xCD: // INT imm8
		v := dec.u8()
		c.finish(in, true)
		c.execINT(v)
	case 0xCF: // IRET
		c.finish(in, true)
		c.execIRET()
	case 0xD0: // Grp2 Eb,1
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		v := c.rmRead(in)
		c.rmWrite(in, c.Flags.shiftRotate(v, 1, byte(in.modrm.RegNo&7), 8))
	case 0xD1: // Grp2 Ev,1
		c.decodeRM(in)
		c.finish(in, false)
		v := c.rmRead(in)
		c.rmWrite(in, c.Flags.shiftRotate(v, 1, byte(in.modrm.RegNo&7), in.opSize))
	case 0xD2: // Grp2 Eb,CL
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		cl := byte(c.Regs.Get8(RCX, in.pfx.HasREX))
		v := c.rmRead(in)
		c.rmWrite(in, c.Flags.shiftRotate(v, cl, byte(in.modrm.RegNo&7), 8))
	case 0xD3: // Grp2 Ev,CL
		c.decodeRM(in)
		c.finish(in, false)
		cl := byte(c.Regs.Get8(RCX, in.pfx.HasREX))
		v := c.rmRead(in)
		c.rmWrite(in, c.Flags.shiftRotate(v, cl, byte(in.modrm.RegNo&7), in.opSize))
	case 0xE8: // CALL rel32
		disp := int64(dec.i32())
		fallthroughRIP := in.startRIP + uint64(dec.Pos)
		c.finish(in, true)
		c.execCALLRel(fallthroughRIP, uint64(int64(fallthroughRIP)+disp))
	case 0xE9: // JMP rel32
		disp := int64(dec.i32())
		fallthroughRIP := in.startRIP + uint64(dec.Pos)
		c.finish(in, true)
		c.checkTrampolineOrJump(uint64(int64(fallthroughRIP) + disp))
	case 0xEB: // JMP rel8
		disp := int64(dec.i8())
		fallthroughRIP := in.startRIP + uint64(dec.Pos)
		c.finish(in, true)
		c.checkTrampolineOrJump(uint64(int64(fallthroughRIP) + disp))
	case 0xF4: // HLT
		c.finish(in, false)
		c.Halted = true
	case 0xF6: // Grp3 Eb
		in.opSize = 8
		c.decodeRM(in)
		c.execGrp3(in)
	case 0xF7: // Grp3 Ev
		c.decodeRM(in)
		c.execGrp3(in)
	case 0xF8: // CLC
		c.finish(in, false)
		c.Flags.SetBit(FlagCF, false)
	case 0xF9: // STC
		c.finish(in, false)
		c.Flags.SetBit(FlagCF, true)
	case 0xFA: // CLI
		c.finish(in, false)
		c.Flags.SetBit(FlagIF, false)
	case 0xFB: // STI
		c.finish(in, false)
		c.Flags.SetBit(FlagIF, true)
	case 0xFC: // CLD
		c.finish(in, false)
		c.Flags.SetBit(FlagDF, false)
	case 0xFD: // STD
		c.finish(in, false)
		c.Flags.SetBit(FlagDF, true)
	case 0xFE: // Grp4 Eb: INC/DEC
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		c.execGrp45(in)
	case 0xFF: // Grp5 Ev: INC/DEC/CALL/JMP/PUSH
		c.decodeRM(in)
		c.finish(in, false)
		c.execGrp45(in)
	default:
		c.finish(in, false)
		c.Deliver(fault.New(fault.VecUD, 0))
	}
}

func (c *CPU) immForSize(dec *Decoder, size int) uint64 {
	switch size {
	case 8:
		return uint64(int64(dec.i8()))
	case 16:
		return uint64(dec.u16())
	default:
		return uint64(int64(dec.i32()))
	}
}

// execGrp3 implements 0xF6/0xF7: TEST/NOT/NEG/MUL/IMUL/DIV/IDIV,
// selected by the ModR/M reg field.
func (c *CPU) execGrp3(in *inst) {
	switch in.modrm.RegNo & 7 {
	case 0, 1: // TEST Eb/Ev, imm
		var imm uint64
		if in.opSize == 8 {
			imm = uint64(in.dec.u8())
		} else {
			imm = c.immForSize(in.dec, in.opSize)
		}
		c.finish(in, false)
		v := c.rmRead(in)
		c.Flags.SetLogic(v&imm, in.opSize)
	case 2: // NOT
		c.finish(in, false)
		v := c.rmRead(in)
		c.rmWrite(in, ^v&widthMask(in.opSize))
	case 3: // NEG
		c.finish(in, false)
		v := c.rmRead(in)
		c.Flags.SetBit(FlagCF, v != 0)
		result := c.Flags.SetArithSub(0, v, in.opSize)
		c.rmWrite(in, result)
	case 4: // MUL
		c.finish(in, false)
		c.execMUL(in)
	case 5: // IMUL (one-operand)
		c.finish(in, false)
		c.execIMUL1(in)
	case 6: // DIV
		c.finish(in, false)
		c.execDIV(in)
	case 7: // IDIV
		c.finish(in, false)
		c.execIDIV(in)
	}
}

// execGrp45 implements 0xFE (INC/DEC Eb) and 0xFF (INC/DEC/CALL/JMP/
// PUSH Ev), selected by the ModR/M reg field.
func (c *CPU) execGrp45(in *inst) {
	switch in.modrm.RegNo & 7 {
	case 0:
		c.execINC(in)
	case 1:
		c.execDEC(in)
	case 2: // CALL Ev (near, indirect)
		target := c.rmRead(in)
		ret := in.startRIP + uint64(in.dec.Pos)
		c.pushStack(ret)
		c.checkTrampolineOrJump(target)
	case 3: // CALL Mp (far) - unsupported in this core, raise UD
		c.Deliver(fault.New(fault.VecUD, 0))
	case 4: // JMP Ev (near, indirect)
		target := c.rmRead(in)
		c.checkTrampolineOrJump(target)
	case 6: // PUSH Ev
		v := c.rmRead(in)
		c.pushStack(v)
	default:
		c.Deliver(fault.New(fault.VecUD, 0))
	}
}
