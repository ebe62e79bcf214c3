// operand.go - operand read/write plumbing shared by every handler
//
// Generalizes cpu_x86.go's readRM8/writeRM8/readRM16/writeRM16/
// readRM32/writeRM32 (lines ~933-982) into width-parameterized,
// REX-aware helpers bound to a live *CPU and the in-flight ModRM/
// Prefixes for one instruction.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import (
	"github.com/zaynotley/x86uefiboot/internal/fault"
	"github.com/zaynotley/x86uefiboot/internal/mem"
)

// inst carries the decode state for the instruction currently being
// executed: the prefix set, the operand size actually in effect (after
// 0x66/REX.W resolution), the decoded ModR/M (if any), and the byte
// decoder cursor positioned just after the opcode/ModRM/SIB/disp.
type inst struct {
	pfx         Prefixes
	opSize      int // 8/16/32/64, the effective operand size
	addrSize    int // 16/32/64
	modrm       ModRM
	hasModRM    bool
	ripRelative bool
	dec         *Decoder
	startRIP    uint64
}

func (c *CPU) rmRead(in *inst) uint64 {
	m := in.modrm
	if !m.IsMem {
		return c.Regs.Get(m.RM, in.opSize, in.pfx.HasREX)
	}
	addr := c.effectiveLinear(in)
	v, f := c.readLinear(addr, in.opSize)
	if f != nil {
		c.Deliver(fault.NewPageFault(f.ErrorCode(), f.Addr))
	}
	return v
}

func (c *CPU) rmWrite(in *inst, v uint64) {
	m := in.modrm
	if !m.IsMem {
		c.Regs.Set(m.RM, in.opSize, v, in.pfx.HasREX)
		return
	}
	addr := c.effectiveLinear(in)
	if f := c.writeLinear(addr, v, in.opSize); f != nil {
		c.Deliver(fault.NewPageFault(f.ErrorCode(), f.Addr))
	}
}

// effectiveAddrOnly computes the linear effective address without
// performing any memory access, used by LEA and by CMOV's
// false-condition address-only-no-fault rule: addressing is always
// computed, but no load and no fault occurs when the move does not
// happen).
func (c *CPU) effectiveAddrOnly(in *inst) uint64 {
	return c.effectiveLinear(in)
}

func (c *CPU) effectiveLinear(in *inst) uint64 {
	base := in.modrm.EffAddr
	if in.ripRelative {
		return in.startRIP + uint64(in.dec.Pos) + base
	}
	var segBase uint64
	switch in.modrm.Seg {
	case SegSS:
		segBase = c.Seg.SS.Base
	case SegES:
		segBase = c.Seg.ES.Base
	case SegFS:
		segBase = c.Seg.FS.Base
	case SegGS:
		segBase = c.Seg.GS.Base
	default:
		segBase = c.Seg.DS.Base
	}
	if in.pfx.HasSeg {
		switch in.pfx.SegOverride {
		case SegFS:
			segBase = c.Seg.FS.Base
		case SegGS:
			segBase = c.Seg.GS.Base
		case SegES:
			segBase = c.Seg.ES.Base
		case SegCS:
			segBase = c.Seg.CS.Base
		case SegSS:
			segBase = c.Seg.SS.Base
		case SegDS:
			segBase = c.Seg.DS.Base
		}
	}
	return segBase + base
}

func (c *CPU) readLinear(addr uint64, size int) (uint64, *mem.FaultInfo) {
	user := c.CPL == 3
	switch size {
	case 8:
		v, f := c.Bus.ReadLinear8(addr, user)
		return uint64(v), f
	case 16:
		v, f := c.Bus.ReadLinear16(addr, user)
		return uint64(v), f
	case 32:
		v, f := c.Bus.ReadLinear32(addr, user)
		return uint64(v), f
	default:
		return c.Bus.ReadLinear64(addr, user)
	}
}

func (c *CPU) writeLinear(addr uint64, v uint64, size int) *mem.FaultInfo {
	user := c.CPL == 3
	switch size {
	case 8:
		return c.Bus.WriteLinear8(addr, uint8(v), user)
	case 16:
		return c.Bus.WriteLinear16(addr, uint16(v), user)
	case 32:
		return c.Bus.WriteLinear32(addr, uint32(v), user)
	default:
		return c.Bus.WriteLinear64(addr, v, user)
	}
}

func (c *CPU) regRead(in *inst) uint64 {
	return c.Regs.Get(in.modrm.RegNo, in.opSize, in.pfx.HasREX)
}

func (c *CPU) regWrite(in *inst, v uint64) {
	c.Regs.Set(in.modrm.RegNo, in.opSize, v, in.pfx.HasREX)
}
