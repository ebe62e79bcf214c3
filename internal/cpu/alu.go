// alu.go - the eight-operation ALU group (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP)
//
// Grounded on cpu_x86_ops.go's opADD_Eb_Gb/opADD_Ev_Gv/... family and
// cpu_x86_grp.go's opGrp1_Eb_Ib/opGrp1_Ev_Iv/opGrp1_Ev_Ib (lines 11-263),
// generalized from six duplicated per-operation, per-width handler
// functions into one table-driven dispatch keyed by the 3-bit ALU-group
// opcode field, matching the Intel encoding row/column layout.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

// aluOp is the 3-bit operation selector shared by the 0x00-0x3D rows
// and the 0x80/81/83 immediate group, in Intel's canonical order.
type aluOp int

const (
	aluADD aluOp = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
)

// apply performs op on (dst, src) at the given width, updating flags,
// and returns the result to store (CMP's result is discarded by the
// caller, which CMP relies on to compare without writing back).
func (f *Flags) apply(op aluOp, dst, src uint64, size int) uint64 {
	switch op {
	case aluADD:
		return f.SetArithAdd(dst, src, size)
	case aluADC:
		return f.SetArithAdc(dst, src, size)
	case aluSUB, aluCMP:
		return f.SetArithSub(dst, src, size)
	case aluSBB:
		return f.SetArithSbb(dst, src, size)
	case aluAND:
		return f.SetLogic(dst&src, size)
	case aluOR:
		return f.SetLogic(dst|src, size)
	case aluXOR:
		return f.SetLogic(dst^src, size)
	default:
		return 0
	}
}

// execALURM_toRM performs op on (rm, reg) writing back to rm: the
// "Eb,Gb / Ev,Gv" forms (opcode low 3 bits == 000/001), grounded on
// opADD_Ev_Gv etc.
func (c *CPU) execALURM_toRM(in *inst, op aluOp) {
	dst := c.rmRead(in)
	src := c.regRead(in)
	result := c.Flags.apply(op, dst, src, in.opSize)
	if op != aluCMP {
		c.rmWrite(in, result)
	}
}

// execALUReg_fromRM performs op on (reg, rm) writing back to reg: the
// "Gb,Eb / Gv,Ev" forms (opcode low 3 bits == 010/011), grounded on
// opADD_Gb_Eb/opADD_Gv_Ev.
func (c *CPU) execALUReg_fromRM(in *inst, op aluOp) {
	dst := c.regRead(in)
	src := c.rmRead(in)
	result := c.Flags.apply(op, dst, src, in.opSize)
	if op != aluCMP {
		c.regWrite(in, result)
	}
}

// execALUAcc_Imm performs op on (AL/eAX, imm), the "AL,Ib / eAX,Iv"
// forms (opcode low 3 bits == 100/101), grounded on
// opADD_AL_Ib/opADD_AX_Iv.
func (c *CPU) execALUAcc_Imm(op aluOp, size int, imm uint64) {
	dst := c.Regs.Get(RAX, size, false)
	result := c.Flags.apply(op, dst, imm, size)
	if op != aluCMP {
		c.Regs.Set(RAX, size, result, false)
	}
}

// execALUGroup1 implements the 0x80/0x81/0x83 immediate-group
// instructions, where the ModR/M reg field selects the ALU operation
// (opGrp1_Eb_Ib/opGrp1_Ev_Iv/opGrp1_Ev_Ib).
func (c *CPU) execALUGroup1(in *inst, imm uint64) {
	op := aluOp(in.modrm.RegNo & 7)
	dst := c.rmRead(in)
	result := c.Flags.apply(op, dst, imm, in.opSize)
	if op != aluCMP {
		c.rmWrite(in, result)
	}
}

// execINC/execDEC adjust CF-preserving arithmetic (INC/DEC never touch
// CF per the SDM), grounded on opINC_reg/opDEC_reg.
func (c *CPU) execINC(in *inst) {
	saved := c.Flags.CF()
	v := c.rmRead(in)
	result := c.Flags.SetArithAdd(v, 1, in.opSize)
	c.Flags.SetBit(FlagCF, saved)
	c.rmWrite(in, result)
}

func (c *CPU) execDEC(in *inst) {
	saved := c.Flags.CF()
	v := c.rmRead(in)
	result := c.Flags.SetArithSub(v, 1, in.opSize)
	c.Flags.SetBit(FlagCF, saved)
	c.rmWrite(in, result)
}
