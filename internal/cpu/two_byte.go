// two_byte.go - the 0x0F two-byte opcode map
//
// A 386-only core has no 0x0F dispatch table at all (no CMOV, no SSE,
// no CPUID); grounded on the single-byte analogues available
// (opSETO family in cpu_x86_grp.go, the shift-rotate/IMUL helpers)
// generalized to their 0F-prefixed forms per the Intel SDM,
// and on the SDM's explicit semantics for CPUID/RDTSC/MOV CR-DR/
// SYSENTER-SYSEXIT/CMPXCHG/XADD, none of which a 386-only core models.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "github.com/zaynotley/x86uefiboot/internal/fault"

func (c *CPU) dispatch0F(in *inst, op byte) {
	dec := in.dec

	switch {
	case op >= 0x40 && op <= 0x4F: // CMOVcc Gv,Ev
		c.decodeRM(in)
		c.finish(in, false)
		c.execCMOVcc(in, op&0xF)
		return
	case op >= 0x80 && op <= 0x8F: // Jcc rel32
		disp := int64(dec.i32())
		fallthroughRIP := in.startRIP + uint64(dec.Pos)
		c.execJcc(op&0xF, fallthroughRIP, disp)
		return
	case op >= 0x90 && op <= 0x9F: // SETcc Eb
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		c.execSETcc(in, op&0xF)
		return
	}

	if op >= 0x20 && op <= 0x23 { // MOV to/from CRn/DRn: width fixed by mode
		in.opSize = 32
		if c.Mode == ModeLong {
			in.opSize = 64
		}
	}

	switch op {
	case 0x00: // Grp6: only verr/verw etc, unsupported -> UD
		c.decodeRM(in)
		c.finish(in, false)
		c.Deliver(fault.New(fault.VecUD, 0))
	case 0x01: // Grp7: LGDT/LIDT/SGDT/SIDT etc, minimal stub
		c.decodeRM(in)
		c.finish(in, false)
	case 0x05: // SYSCALL - not modeled; route through SYSENTER's path
		c.finish(in, true)
		c.SYSENTER()
	case 0x06: // CLTS
		c.finish(in, false)
		c.CR0 &^= 1 << 3
	case 0x1F: // multi-byte NOP (NOP Ev)
		c.decodeRM(in)
		c.finish(in, false)
	case 0x20: // MOV r, CRn
		c.decodeRM(in)
		c.finish(in, false)
		c.regWrite(in, c.MoveFromCR(int(in.modrm.RegNo&7)))
	case 0x21: // MOV r, DRn
		c.decodeRM(in)
		c.finish(in, false)
		c.regWrite(in, c.MoveFromDR(int(in.modrm.RegNo&7)))
	case 0x22: // MOV CRn, r
		c.decodeRM(in)
		c.finish(in, false)
		c.MoveToCR(int(in.modrm.RegNo&7), c.rmRead(in))
	case 0x23: // MOV DRn, r
		c.decodeRM(in)
		c.finish(in, false)
		c.MoveToDR(int(in.modrm.RegNo&7), c.rmRead(in))
	case 0x30: // WRMSR
		c.finish(in, false)
		msr := uint32(c.Regs.Get32(RCX))
		v := (uint64(c.Regs.Get32(RDX)) << 32) | uint64(c.Regs.Get32(RAX))
		c.WRMSR(msr, v)
	case 0x31: // RDTSC
		c.finish(in, false)
		eax, edx := c.RDTSC()
		c.Regs.Set32(RAX, eax)
		c.Regs.Set32(RDX, edx)
	case 0x32: // RDMSR
		c.finish(in, false)
		msr := uint32(c.Regs.Get32(RCX))
		v := c.RDMSR(msr)
		c.Regs.Set32(RAX, uint32(v))
		c.Regs.Set32(RDX, uint32(v>>32))
	case 0x34: // SYSENTER
		c.finish(in, true)
		c.SYSENTER()
	case 0x35: // SYSEXIT
		c.finish(in, true)
		c.SYSEXIT()
	case 0xA2: // CPUID
		c.finish(in, false)
		leaf := c.Regs.Get32(RAX)
		subleaf := c.Regs.Get32(RCX)
		r := c.CPUID(leaf, subleaf)
		c.Regs.Set32(RAX, r.EAX)
		c.Regs.Set32(RBX, r.EBX)
		c.Regs.Set32(RCX, r.ECX)
		c.Regs.Set32(RDX, r.EDX)
	case 0xA3: // BT Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.execBT(in, 0)
	case 0xA4: // SHLD Ev,Gv,Ib
		c.decodeRM(in)
		count := dec.u8()
		c.finish(in, false)
		c.execSHLD(in, count)
	case 0xA5: // SHLD Ev,Gv,CL
		c.decodeRM(in)
		c.finish(in, false)
		cl := byte(c.Regs.Get8(RCX, in.pfx.HasREX))
		c.execSHLD(in, cl)
	case 0xAB: // BTS Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.execBT(in, 1)
	case 0xAC: // SHRD Ev,Gv,Ib
		c.decodeRM(in)
		count := dec.u8()
		c.finish(in, false)
		c.execSHRD(in, count)
	case 0xAD: // SHRD Ev,Gv,CL
		c.decodeRM(in)
		c.finish(in, false)
		cl := byte(c.Regs.Get8(RCX, in.pfx.HasREX))
		c.execSHRD(in, cl)
	case 0xAF: // IMUL Gv,Ev
		c.decodeRM(in)
		c.finish(in, false)
		c.execIMUL2(in)
	case 0xB0: // CMPXCHG Eb,Gb
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		c.execCMPXCHG(in)
	case 0xB1: // CMPXCHG Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.execCMPXCHG(in)
	case 0xB3: // BTR Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.execBT(in, 2)
	case 0xB6: // MOVZX Gv,Eb
		srcSize := 8
		c.decodeRMWithSrcSize(in, srcSize)
		c.finish(in, false)
		v := c.rmReadSized(in, 8)
		c.regWrite(in, v)
	case 0xB7: // MOVZX Gv,Ew
		c.decodeRMWithSrcSize(in, 16)
		c.finish(in, false)
		v := c.rmReadSized(in, 16)
		c.regWrite(in, v)
	case 0xBA: // Grp8 Ev,Ib: BT/BTS/BTR/BTC
		c.decodeRM(in)
		imm := dec.u8()
		c.finish(in, false)
		c.execGrp8(in, imm)
	case 0xBB: // BTC Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.execBT(in, 3)
	case 0xBC: // BSF Gv,Ev
		c.decodeRM(in)
		c.finish(in, false)
		c.execBSF(in)
	case 0xBD: // BSR Gv,Ev
		c.decodeRM(in)
		c.finish(in, false)
		c.execBSR(in)
	case 0xBE: // MOVSX Gv,Eb
		c.decodeRMWithSrcSize(in, 8)
		c.finish(in, false)
		v := c.rmReadSized(in, 8)
		c.regWrite(in, uint64(int64(signExtend(v, 8))))
	case 0xBF: // MOVSX Gv,Ew
		c.decodeRMWithSrcSize(in, 16)
		c.finish(in, false)
		v := c.rmReadSized(in, 16)
		c.regWrite(in, uint64(int64(signExtend(v, 16))))
	case 0xC0: // XADD Eb,Gb
		in.opSize = 8
		c.decodeRM(in)
		c.finish(in, false)
		c.execXADD(in)
	case 0xC1: // XADD Ev,Gv
		c.decodeRM(in)
		c.finish(in, false)
		c.execXADD(in)
	default:
		c.decodeRM(in)
		c.finish(in, false)
		c.Deliver(fault.New(fault.VecUD, 0))
	}
}

// decodeRMWithSrcSize decodes ModR/M for a MOVZX/MOVSX-style
// instruction whose source width differs from the dispatch-computed
// operand size (which names the destination width for these opcodes).
func (c *CPU) decodeRMWithSrcSize(in *inst, srcSize int) {
	saved := in.opSize
	in.opSize = srcSize
	c.decodeRM(in)
	in.opSize = saved
}

// rmReadSized reads the rm operand at an explicit width, independent
// of in.opSize (which has already been restored to the destination
// width by decodeRMWithSrcSize's caller).
func (c *CPU) rmReadSized(in *inst, size int) uint64 {
	saved := in.opSize
	in.opSize = size
	v := c.rmRead(in)
	in.opSize = saved
	return v
}

func (c *CPU) execSHLD(in *inst, count byte) {
	dst := c.rmRead(in)
	src := c.regRead(in)
	c.rmWrite(in, c.Flags.shld(dst, src, count, in.opSize))
}

func (c *CPU) execSHRD(in *inst, count byte) {
	dst := c.rmRead(in)
	src := c.regRead(in)
	c.rmWrite(in, c.Flags.shrd(dst, src, count, in.opSize))
}

// execIMUL2 implements the two-operand IMUL Gv,Ev form (0F AF)
// (CF=OF=(result did not fit in the destination width interpreted
// signed)), grounded on opIMUL_Gv_Ev. The three-operand Iz/Ib forms
// (69/6B) have no handler in this core.
func (c *CPU) execIMUL2(in *inst) {
	a := int64(signExtend(c.regRead(in), in.opSize))
	b := int64(signExtend(c.rmRead(in), in.opSize))
	full := a * b
	result := uint64(full) & widthMask(in.opSize)
	fits := int64(signExtend(result, in.opSize)) == full
	c.Flags.SetBit(FlagCF, !fits)
	c.Flags.SetBit(FlagOF, !fits)
	c.regWrite(in, result)
}

// execCMPXCHG implements CMPXCHG: compare accumulator
// with destination; on equality store source into destination with
// ZF=1, else load destination into accumulator with ZF=0.
func (c *CPU) execCMPXCHG(in *inst) {
	acc := c.Regs.Get(RAX, in.opSize, in.pfx.HasREX)
	dst := c.rmRead(in)
	c.Flags.SetArithSub(acc, dst, in.opSize)
	if acc == dst&widthMask(in.opSize) {
		c.rmWrite(in, c.regRead(in))
	} else {
		c.Regs.Set(RAX, in.opSize, dst, in.pfx.HasREX)
	}
}

// execXADD implements XADD: sum destination+source
// with full flags, write sum to destination, original destination
// value to the source register.
func (c *CPU) execXADD(in *inst) {
	dst := c.rmRead(in)
	src := c.regRead(in)
	sum := c.Flags.SetArithAdd(dst, src, in.opSize)
	c.rmWrite(in, sum)
	c.regWrite(in, dst)
}

// execBT implements BT/BTS/BTR/BTC (mode 0/1/2/3): it tests and optionally
// mutates one bit of the destination, loading CF from the tested bit.
func (c *CPU) execBT(in *inst, mode int) {
	bitIndex := c.regRead(in) & uint64(in.opSize-1)
	v := c.rmRead(in)
	bit := v&(1<<bitIndex) != 0
	c.Flags.SetBit(FlagCF, bit)
	switch mode {
	case 1:
		c.rmWrite(in, v|(1<<bitIndex))
	case 2:
		c.rmWrite(in, v&^(1<<bitIndex))
	case 3:
		c.rmWrite(in, v^(1<<bitIndex))
	}
}

func (c *CPU) execGrp8(in *inst, imm byte) {
	bitIndex := uint64(imm) & uint64(in.opSize-1)
	v := c.rmRead(in)
	bit := v&(1<<bitIndex) != 0
	c.Flags.SetBit(FlagCF, bit)
	switch in.modrm.RegNo & 7 {
	case 5:
		c.rmWrite(in, v|(1<<bitIndex))
	case 6:
		c.rmWrite(in, v&^(1<<bitIndex))
	case 7:
		c.rmWrite(in, v^(1<<bitIndex))
	}
}

func (c *CPU) execBSF(in *inst) {
	v := c.rmRead(in)
	if v == 0 {
		c.Flags.SetBit(FlagZF, true)
		return
	}
	c.Flags.SetBit(FlagZF, false)
	idx := 0
	for (v>>uint(idx))&1 == 0 {
		idx++
	}
	c.regWrite(in, uint64(idx))
}

func (c *CPU) execBSR(in *inst) {
	v := c.rmRead(in)
	if v == 0 {
		c.Flags.SetBit(FlagZF, true)
		return
	}
	c.Flags.SetBit(FlagZF, false)
	idx := in.opSize - 1
	for (v>>uint(idx))&1 == 0 {
		idx--
	}
	c.regWrite(in, uint64(idx))
}
