// strings.go - REP-prefixed string operations (MOVS/STOS/SCAS/LODS/CMPS)
//
// Grounded on cpu_x86_ops.go's opMOVSB/opMOVSW/opSTOSB/opSTOSW/
// opLODSB/opLODSW/opCMPSB/opCMPSW/opSCASB/opSCASW (lines 1823-2120),
// generalized into one width-parameterized state machine: each
// REP-prefixed string operation is a small machine of {enter, iterate,
// exit}, cancelled if ECX reaches zero or the
// per-iteration condition (REPE/REPNE) is falsified." Also implements
// the mid-REP interrupt rule: "on interrupt during REP the RIP points
// back at the prefixed instruction."
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import (
	"github.com/zaynotley/x86uefiboot/internal/fault"
	"github.com/zaynotley/x86uefiboot/internal/mem"
)

type repKind int

const (
	repNone repKind = iota
	repZ            // F3: REPE/REPZ
	repNZ           // F2: REPNE/REPNZ
)

func (c *CPU) stringDelta(size int) int64 {
	n := int64(size / 8)
	if c.Flags.DF() {
		return -n
	}
	return n
}

// addrGet/addrSet access a counter/index register at the width matching
// the current address size (32 or 64 in the modes this core targets).
func (c *CPU) addrGet(r Reg, addrSize int) uint64 { return c.Regs.Get(r, addrSize, false) }
func (c *CPU) addrSet(r Reg, addrSize int, v uint64) {
	c.Regs.Set(r, addrSize, v, false)
}

// execMOVS copies [RSI]->[RDI] once, or ECX/RCX times under REP.
func (c *CPU) execMOVS(size, addrSize int, rep repKind) {
	for {
		if rep != repNone && c.addrGet(RCX, addrSize) == 0 {
			break
		}
		src := c.addrGet(RSI, addrSize)
		dst := c.addrGet(RDI, addrSize)
		v, f := c.readLinear(src, size)
		if f != nil {
			c.deliverMem(f)
			return
		}
		if wf := c.writeLinear(dst, v, size); wf != nil {
			c.deliverMem(wf)
			return
		}
		delta := c.stringDelta(size)
		c.addrSet(RSI, addrSize, uint64(int64(src)+delta))
		c.addrSet(RDI, addrSize, uint64(int64(dst)+delta))
		if rep == repNone {
			break
		}
		c.addrSet(RCX, addrSize, c.addrGet(RCX, addrSize)-1)
		if c.irqPending {
			return // RIP still points at the REP-prefixed instruction
		}
	}
}

// execSTOS fills [RDI] from AL/AX/EAX/RAX once, or under REP.
func (c *CPU) execSTOS(size, addrSize int, rep repKind) {
	for {
		if rep != repNone && c.addrGet(RCX, addrSize) == 0 {
			break
		}
		dst := c.addrGet(RDI, addrSize)
		v := c.Regs.Get(RAX, size, false)
		if f := c.writeLinear(dst, v, size); f != nil {
			c.deliverMem(f)
			return
		}
		delta := c.stringDelta(size)
		c.addrSet(RDI, addrSize, uint64(int64(dst)+delta))
		if rep == repNone {
			break
		}
		c.addrSet(RCX, addrSize, c.addrGet(RCX, addrSize)-1)
		if c.irqPending {
			return
		}
	}
}

// execLODS loads [RSI] into AL/AX/EAX/RAX once (REP LODS is legal but
// pointless; still honored for completeness).
func (c *CPU) execLODS(size, addrSize int, rep repKind) {
	for {
		if rep != repNone && c.addrGet(RCX, addrSize) == 0 {
			break
		}
		src := c.addrGet(RSI, addrSize)
		v, f := c.readLinear(src, size)
		if f != nil {
			c.deliverMem(f)
			return
		}
		c.Regs.Set(RAX, size, v, false)
		delta := c.stringDelta(size)
		c.addrSet(RSI, addrSize, uint64(int64(src)+delta))
		if rep == repNone {
			break
		}
		c.addrSet(RCX, addrSize, c.addrGet(RCX, addrSize)-1)
		if c.irqPending {
			return
		}
	}
}

// execCMPS compares [RSI]-[RDI], stopping under REPE when ZF becomes 0
// or under REPNE when ZF becomes 1, per the SDM.
func (c *CPU) execCMPS(size, addrSize int, rep repKind) {
	for {
		if rep != repNone && c.addrGet(RCX, addrSize) == 0 {
			break
		}
		src := c.addrGet(RSI, addrSize)
		dst := c.addrGet(RDI, addrSize)
		a, f := c.readLinear(src, size)
		if f != nil {
			c.deliverMem(f)
			return
		}
		b, f2 := c.readLinear(dst, size)
		if f2 != nil {
			c.deliverMem(f2)
			return
		}
		c.Flags.SetArithSub(a, b, size)
		delta := c.stringDelta(size)
		c.addrSet(RSI, addrSize, uint64(int64(src)+delta))
		c.addrSet(RDI, addrSize, uint64(int64(dst)+delta))
		if rep == repNone {
			break
		}
		c.addrSet(RCX, addrSize, c.addrGet(RCX, addrSize)-1)
		if rep == repZ && !c.Flags.ZF() {
			break
		}
		if rep == repNZ && c.Flags.ZF() {
			break
		}
		if c.irqPending {
			return
		}
	}
}

// execSCAS compares AL/AX/EAX/RAX against [RDI].
func (c *CPU) execSCAS(size, addrSize int, rep repKind) {
	for {
		if rep != repNone && c.addrGet(RCX, addrSize) == 0 {
			break
		}
		dst := c.addrGet(RDI, addrSize)
		b, f := c.readLinear(dst, size)
		if f != nil {
			c.deliverMem(f)
			return
		}
		a := c.Regs.Get(RAX, size, false)
		c.Flags.SetArithSub(a, b, size)
		delta := c.stringDelta(size)
		c.addrSet(RDI, addrSize, uint64(int64(dst)+delta))
		if rep == repNone {
			break
		}
		c.addrSet(RCX, addrSize, c.addrGet(RCX, addrSize)-1)
		if rep == repZ && !c.Flags.ZF() {
			break
		}
		if rep == repNZ && c.Flags.ZF() {
			break
		}
		if c.irqPending {
			return
		}
	}
}

func (c *CPU) deliverMem(f *mem.FaultInfo) {
	c.Deliver(fault.NewPageFault(f.ErrorCode(), f.Addr))
}
