// control.go - branches, calls, returns, stack ops, interrupts, SETcc/CMOVcc
//
// Grounded on cpu_x86_ops.go's opPUSH_reg/opPOP_reg/opPUSH_ES family
// and cpu_x86_grp.go's opSETO..opSETNLE (lines 993-1024), generalized
// to 64-bit RSP-relative pushes/pops and to the CMOV family the
// teacher's 386 core never implements.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "github.com/zaynotley/x86uefiboot/internal/fault"

// stackWidth returns the CPU's current default stack-operand width
// (64-bit in long mode, else the CS DefaultBig bit), used by PUSH
// reg/imm and CALL's return-address push.
func (c *CPU) stackWidth() int {
	if c.Mode == ModeLong {
		return 64
	}
	if c.Seg.CS.DefaultBig {
		return 32
	}
	return 16
}

func (c *CPU) pushStack(v uint64) {
	switch c.stackWidth() {
	case 64:
		c.Push64(v)
	case 32:
		c.Push32(uint32(v))
	default:
		c.Push16(uint16(v))
	}
}

func (c *CPU) popStack() uint64 {
	switch c.stackWidth() {
	case 64:
		return c.Pop64()
	case 32:
		return uint64(c.Pop32())
	default:
		return uint64(c.Pop16())
	}
}

// ExecSETcc writes 1 or 0 to the destination per the evaluated
// condition, grounded on opSETO..opSETNLE generalized to any operand
// addressed by ModR/M (the SDM fixes SETcc's operand width at 8 bits).
func (c *CPU) execSETcc(in *inst, cc byte) {
	v := uint64(0)
	if EvalCondition(&c.Flags, cc) {
		v = 1
	}
	c.rmWrite(in, v)
}

// execCMOVcc resolves a CMOVcc ambiguity explicitly: the effective
// address is always computed (so LEA-equivalent side effects
// like an invalid SIB encoding still apply), but the load itself, and
// any fault it would cause, happens only when the condition is true.
func (c *CPU) execCMOVcc(in *inst, cc byte) {
	if !in.modrm.IsMem {
		if EvalCondition(&c.Flags, cc) {
			c.regWrite(in, c.rmRead(in))
		}
		return
	}
	c.effectiveAddrOnly(in) // address always computed
	if EvalCondition(&c.Flags, cc) {
		c.regWrite(in, c.rmRead(in))
	}
}

// execJcc takes or skips a short/near conditional branch; the caller
// has already advanced RIP past the full instruction (including the
// displacement) into in.dec.Pos, so target = fallthrough + disp.
func (c *CPU) execJcc(cc byte, fallthroughRIP uint64, disp int64) {
	if EvalCondition(&c.Flags, cc) {
		c.Regs.SetRIP(uint64(int64(fallthroughRIP) + disp))
	} else {
		c.Regs.SetRIP(fallthroughRIP)
	}
}

// execCALLRel pushes the return address (the fallthrough RIP) and
// transfers control to target.
func (c *CPU) execCALLRel(fallthroughRIP, target uint64) {
	c.pushStack(fallthroughRIP)
	c.checkTrampolineOrJump(target)
}

// checkTrampolineOrJump is the §4.8 hook: "The execution loop MUST, on
// every call or indirect branch, check whether the target falls in the
// trampoline space; if so ... behaves as if the callee executed RET."
func (c *CPU) checkTrampolineOrJump(target uint64) {
	if c.Trampolines != nil && c.Trampolines.Dispatch(c, target) {
		c.Regs.SetRIP(c.popStack())
		return
	}
	c.Regs.SetRIP(target)
}

func (c *CPU) execRET(immPop uint16) {
	target := c.popStack()
	if immPop != 0 {
		sp := c.Regs.Get64(RSP) + uint64(immPop)
		c.Regs.Set64(RSP, sp)
	}
	c.Regs.SetRIP(target)
}

// execINT delivers a software interrupt through the same path as
// hardware faults.
func (c *CPU) execINT(vector byte) {
	c.Deliver(fault.New(int(vector), 0))
}

func (c *CPU) execIRET() {
	rip := c.popStack()
	cs := c.popStack()
	flags := c.popStack()
	c.Regs.SetRIP(rip)
	c.Seg.CS.Selector = uint16(cs)
	c.Flags.Set(flags)
}
