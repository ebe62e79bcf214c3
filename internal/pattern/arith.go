// arith.go - the ALU-family mandatory patterns: CMP+Jcc, ADD+ADC,
// SHRD+SHL, INC+CMP, TEST/CMP+Jcc loop preludes, and the bare
// carry-check branch
//
// Every closure below calls the exact same cpu.Flags methods the slow
// decode path uses (SetArithAdd/SetArithSub/SetArithAdc/SetLogic/
// ShiftRotate/SHLD/SHRD, cpu.EvalCondition) so the two paths can never
// compute different flags or targets for the same bytes, satisfying
// the bit-identical-with-the-slow-path property these patterns exist
// to accelerate rather than reimplement.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pattern

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// cmpJcc matches `39/3B ModRM` (register form only) followed by a
// short (`7x rel8`) or near (`0F 8x rel32`) Jcc.
type cmpJcc struct{}

func (cmpJcc) Name() string  { return "cmp-jcc" }
func (cmpJcc) Priority() int { return 0 }

func (cmpJcc) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 4 {
		return nil, false
	}
	op := w[0]
	if op != 0x39 && op != 0x3B {
		return nil, false
	}
	reg, rm, isReg := regRM32(w[1])
	if !isReg {
		return nil, false
	}
	cc, disp, total, ok := decodeJcc(w, 2)
	if !ok {
		return nil, false
	}
	dstIsReg := op == 0x3B

	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		var a, b uint64
		if dstIsReg {
			a, b = c.Regs.Get(cpu.Reg(reg), 32, false), c.Regs.Get(cpu.Reg(rm), 32, false)
		} else {
			a, b = c.Regs.Get(cpu.Reg(rm), 32, false), c.Regs.Get(cpu.Reg(reg), 32, false)
		}
		c.Flags.SetArithSub(a, b, 32)
		return branchTarget(rip, total, disp, &c.Flags, cc), true
	}
	return closure, true
}

// addAdc64 matches `01 ModRM; 11 ModRM` (both register forms): the
// low-word ADD followed by the high-word ADC of a 64-bit addition
// built from two 32-bit registers.
type addAdc64 struct{}

func (addAdc64) Name() string  { return "add-adc-64" }
func (addAdc64) Priority() int { return 1 }

func (addAdc64) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 4 {
		return nil, false
	}
	if w[0] != 0x01 || w[2] != 0x11 {
		return nil, false
	}
	reg1, rm1, isReg1 := regRM32(w[1])
	reg2, rm2, isReg2 := regRM32(w[3])
	if !isReg1 || !isReg2 {
		return nil, false
	}
	const total = uint64(4)
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		lo := c.Flags.SetArithAdd(c.Regs.Get(cpu.Reg(rm1), 32, false), c.Regs.Get(cpu.Reg(reg1), 32, false), 32)
		c.Regs.Set(cpu.Reg(rm1), 32, lo, false)
		hi := c.Flags.SetArithAdc(c.Regs.Get(cpu.Reg(rm2), 32, false), c.Regs.Get(cpu.Reg(reg2), 32, false), 32)
		c.Regs.Set(cpu.Reg(rm2), 32, hi, false)
		return rip + total, true
	}
	return closure, true
}

// shrdShift matches `0F AC ModRM Ib; C1 /4 ModRM Ib`: SHRD(dst, src,
// n) pulling bits in from src, immediately followed by SHL(src, n),
// the compiler idiom for a 64-bit shift that advances both halves of
// a register pair by the same immediate count in one step.
type shrdShift struct{}

func (shrdShift) Name() string  { return "shrd-shl" }
func (shrdShift) Priority() int { return 2 }

func (shrdShift) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 7 {
		return nil, false
	}
	if w[0] != 0x0F || w[1] != 0xAC || w[4] != 0xC1 {
		return nil, false
	}
	src, dst, isReg1 := regRM32(w[2])
	reg2, rm2, isReg2 := regRM32(w[5])
	if !isReg1 || !isReg2 || reg2 != 4 || rm2 != src {
		return nil, false
	}
	imm1, imm2 := w[3], w[6]
	if imm1 != imm2 {
		return nil, false
	}
	const total = uint64(7)
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		lo := c.Regs.Get32(cpu.Reg(dst))
		hi := c.Regs.Get32(cpu.Reg(src))
		newLo := c.Flags.SHRD(uint64(lo), uint64(hi), imm1, 32)
		c.Regs.Set32(cpu.Reg(dst), uint32(newLo))
		newHi := c.Flags.ShiftRotate(uint64(hi), imm1, cpu.RotSHL, 32)
		c.Regs.Set32(cpu.Reg(src), uint32(newHi))
		return rip + total, true
	}
	return closure, true
}

// incCmp matches the `40+r INC; 39/3B ModRM` counter-prelude idiom
// where the CMP's operands include the just-incremented register,
// fusing the pair into one INC-with-preserved-CF plus the CMP's final
// flag state.
type incCmp struct{}

func (incCmp) Name() string  { return "inc-cmp" }
func (incCmp) Priority() int { return 3 }

func (incCmp) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 4 {
		return nil, false
	}
	if w[0] < 0x40 || w[0] > 0x47 {
		return nil, false
	}
	incReg := int(w[0] - 0x40)
	op := w[1]
	if op != 0x39 && op != 0x3B {
		return nil, false
	}
	reg, rm, isReg := regRM32(w[2])
	if !isReg || (reg != incReg && rm != incReg) {
		return nil, false
	}
	dstIsReg := op == 0x3B
	const total = uint64(3)
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		savedCF := c.Flags.CF()
		v := c.Regs.Get32(cpu.Reg(incReg))
		res := c.Flags.SetArithAdd(uint64(v), 1, 32)
		c.Flags.SetBit(cpu.FlagCF, savedCF)
		c.Regs.Set32(cpu.Reg(incReg), uint32(res))

		var a, b uint64
		if dstIsReg {
			a, b = c.Regs.Get(cpu.Reg(reg), 32, false), c.Regs.Get(cpu.Reg(rm), 32, false)
		} else {
			a, b = c.Regs.Get(cpu.Reg(rm), 32, false), c.Regs.Get(cpu.Reg(reg), 32, false)
		}
		c.Flags.SetArithSub(a, b, 32)
		return rip + total, true
	}
	return closure, true
}

// shiftLoop64 matches the `TEST r32,r32` loop-condition prelude
// (`85 ModRM`) followed by a short or near Jcc, fusing the flag
// computation and the branch into one step.
type shiftLoop64 struct{}

func (shiftLoop64) Name() string  { return "test-jcc" }
func (shiftLoop64) Priority() int { return 4 }

func (shiftLoop64) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 3 || w[0] != 0x85 {
		return nil, false
	}
	reg, rm, isReg := regRM32(w[1])
	if !isReg {
		return nil, false
	}
	cc, disp, total, ok := decodeJcc(w, 2)
	if !ok {
		return nil, false
	}
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		a := c.Regs.Get32(cpu.Reg(reg))
		b := c.Regs.Get32(cpu.Reg(rm))
		c.Flags.SetLogic(uint64(a&b), 32)
		return branchTarget(rip, total, disp, &c.Flags, cc), true
	}
	return closure, true
}

// carryCheckLoop matches a bare `JC`/`JNC rel8` skeleton: a
// flag-driven branch with no preceding flag-setting instruction to
// fuse, still registered separately so its hit count is tracked and
// cached independently of cmpJcc/shiftLoop64.
type carryCheckLoop struct{}

func (carryCheckLoop) Name() string  { return "carry-check-loop" }
func (carryCheckLoop) Priority() int { return 5 }

func (carryCheckLoop) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 2 || (w[0] != 0x72 && w[0] != 0x73) {
		return nil, false
	}
	disp := i8(w[1])
	cc := w[0] & 0xF
	const total = uint64(2)
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		return branchTarget(rip, total, disp, &c.Flags, cc), true
	}
	return closure, true
}

// decodeJcc recognizes a short (`7x rel8`) or near (`0F 8x rel32`) Jcc
// starting at w[pos], returning the condition code, signed
// displacement, and total instruction length from rip.
func decodeJcc(w []byte, pos int) (cc byte, disp int64, total uint64, ok bool) {
	if pos >= len(w) {
		return 0, 0, 0, false
	}
	switch {
	case w[pos] >= 0x70 && w[pos] <= 0x7F:
		if pos+2 > len(w) {
			return 0, 0, 0, false
		}
		return w[pos] & 0xF, i8(w[pos+1]), uint64(pos + 2), true
	case w[pos] == 0x0F && pos+1 < len(w) && w[pos+1] >= 0x80 && w[pos+1] <= 0x8F:
		if pos+6 > len(w) {
			return 0, 0, 0, false
		}
		return w[pos+1] & 0xF, int64(int32(u32le(w[pos+2 : pos+6]))), uint64(pos + 6), true
	default:
		return 0, 0, 0, false
	}
}

func branchTarget(rip, total uint64, disp int64, f *cpu.Flags, cc byte) uint64 {
	fallthroughRIP := rip + total
	if cpu.EvalCondition(f, cc) {
		return uint64(int64(fallthroughRIP) + disp)
	}
	return fallthroughRIP
}
