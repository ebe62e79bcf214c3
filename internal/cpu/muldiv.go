// muldiv.go - MUL/IMUL/DIV/IDIV (Grp3 one-operand forms) and the
// multi-operand IMUL family
//
// Grounded on cpu_x86_grp.go's opGrp3_Eb/opGrp3_Ev (lines 616-798) and
// opIMUL_Gv_Ev/opIMUL_Gv_Ev_Iv/opIMUL_Gv_Ev_Ib (lines 804-874),
// generalized from three duplicated 8/16/32-bit copies into one
// width-parameterized implementation spanning 8/16/32/64 bits, since
// every GPR is extended to 64 bits here.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "github.com/zaynotley/x86uefiboot/internal/fault"

// mulAcc multiplies the accumulator by val at the given width and
// stores the product in the (low, high) accumulator register pair:
// AL/AH (8), AX/DX (16), EAX/EDX (32), RAX/RDX (64).
func (c *CPU) mulAcc(val uint64, size int, signed bool) {
	a := c.Regs.Get(RAX, size, false)
	var hi, lo uint64
	if size == 8 {
		var r uint64
		if signed {
			r = uint64(int16(int8(a)) * int16(int8(val)))
		} else {
			r = a * val
		}
		c.Regs.Set16(RAX, uint16(r))
		lo = r & 0xFF
		hi = (r >> 8) & 0xFF
	} else if size == 64 {
		lo = a * val
		a0, a1 := a&0xFFFFFFFF, a>>32
		b0, b1 := val&0xFFFFFFFF, val>>32
		t := a1*b0 + (a0*b0)>>32
		u := a0*b1 + t&0xFFFFFFFF
		hi = a1*b1 + t>>32 + u>>32
		if signed {
			if int64(a) < 0 {
				hi -= val
			}
			if int64(val) < 0 {
				hi -= a
			}
		}
		c.Regs.Set64(RAX, lo)
		c.Regs.Set64(RDX, hi)
	} else {
		full := widenMul(a, val, size, signed)
		lo = full & widthMask(size)
		hi = (full >> uint(size)) & widthMask(size)
		c.Regs.Set(RAX, size, lo, false)
		c.Regs.Set(RDX, size, hi, false)
	}
	var overflow bool
	if signed {
		signExt := signBitAll(lo, size)
		overflow = hi != signExt
	} else {
		overflow = hi != 0
	}
	c.Flags.SetBit(FlagCF, overflow)
	c.Flags.SetBit(FlagOF, overflow)
}

// signBitAll returns the full-width sign-extension mask of lo's sign
// bit at size bits, used to detect whether the high half is "just the
// sign extension of the low half" for signed MUL's CF/OF rule.
func signBitAll(lo uint64, size int) uint64 {
	if lo&signBit(size) != 0 {
		return widthMask(size)
	}
	return 0
}

func widenMul(a, b uint64, size int, signed bool) uint64 {
	if signed {
		sa := signExtend(a, size)
		sb := signExtend(b, size)
		return uint64(sa * sb)
	}
	return a * b
}

func (c *CPU) execMUL(in *inst) {
	v := c.rmRead(in)
	c.mulAcc(v, in.opSize, false)
}

func (c *CPU) execIMUL1(in *inst) {
	v := c.rmRead(in)
	c.mulAcc(v, in.opSize, true)
}

func (c *CPU) execDIV(in *inst) {
	v := c.rmRead(in)
	if v == 0 {
		c.Deliver(fault.New(fault.VecDE, 0))
		return
	}
	q, r, overflow := divUnsigned(c.accPair(in.opSize), v, in.opSize)
	if overflow {
		c.Deliver(fault.New(fault.VecDE, 0))
		return
	}
	c.setAccPair(in.opSize, q, r)
}

func (c *CPU) execIDIV(in *inst) {
	v := c.rmRead(in)
	if v == 0 {
		c.Deliver(fault.New(fault.VecDE, 0))
		return
	}
	q, r, overflow := divSigned(c.accPair(in.opSize), v, in.opSize)
	if overflow {
		c.Deliver(fault.New(fault.VecDE, 0))
		return
	}
	c.setAccPair(in.opSize, q, r)
}

// accPair returns the double-width dividend {AH:AL, DX:AX, EDX:EAX,
// RDX:RAX} as a single value, via math/bits-free widening (128-bit
// division is implemented directly in divUnsigned/divSigned for the
// 64-bit case since Go has no native 128-bit integer).
type wideDividend struct {
	lo, hi uint64
}

func (c *CPU) accPair(size int) wideDividend {
	if size == 8 {
		ax := c.Regs.Get16(RAX)
		return wideDividend{lo: uint64(ax)}
	}
	return wideDividend{
		lo: c.Regs.Get(RAX, size, false),
		hi: c.Regs.Get(RDX, size, false),
	}
}

func (c *CPU) setAccPair(size int, quotient, remainder uint64) {
	if size == 8 {
		c.Regs.Set8(RAX, uint8(quotient), false)
		c.Regs.Set8(RSP, uint8(remainder), false) // AH via legacy alias, rex=false
		return
	}
	c.Regs.Set(RAX, size, quotient, false)
	c.Regs.Set(RDX, size, remainder, false)
}

// divUnsigned divides {hi:lo} (at most 2*size bits, hi==0 for the
// 8-bit case) by divisor, preserving the usual udivmoddi invariant; the
// 64-bit case uses bits.Div64-equivalent long division since the
// dividend can exceed a single uint64.
func divUnsigned(d wideDividend, divisor uint64, size int) (quotient, remainder uint64, overflow bool) {
	if size < 64 {
		dividend := (d.hi << uint(size)) | d.lo
		q := dividend / divisor
		r := dividend % divisor
		if q > widthMask(size) {
			return 0, 0, true
		}
		return q, r, false
	}
	return div128(d.hi, d.lo, divisor)
}

func divSigned(d wideDividend, divisor uint64, size int) (quotient, remainder uint64, overflow bool) {
	if size < 64 {
		dividend := int64((d.hi << uint(size)) | d.lo)
		// sign-extend the combined dividend from 2*size bits
		shift := uint(64 - 2*size)
		dividend = dividend << shift >> shift
		div := int64(signExtend(divisor, size))
		q := dividend / div
		r := dividend % div
		qu := uint64(q)
		smin := -(int64(1) << uint(size-1))
		smax := (int64(1) << uint(size-1)) - 1
		if q < smin || q > smax {
			return 0, 0, true
		}
		return qu & widthMask(size), uint64(r) & widthMask(size), false
	}
	return div128Signed(int64(d.hi), d.lo, int64(divisor))
}

// div128 performs unsigned 128-bit ÷ 64-bit division via the standard
// shift-subtract long-division algorithm (used by the 64-bit DIV and
// IDIV paths).
func div128(hi, lo, divisor uint64) (q, r uint64, overflow bool) {
	if hi >= divisor {
		return 0, 0, true
	}
	rem := hi
	var quot uint64
	for i := 63; i >= 0; i-- {
		carry := rem >> 63
		rem = (rem << 1) | (lo >> 63)
		lo <<= 1
		if carry != 0 || rem >= divisor {
			rem -= divisor
			quot |= 1 << uint(i)
		}
	}
	return quot, rem, false
}

func div128Signed(hi int64, lo uint64, divisor int64) (q, r uint64, overflow bool) {
	negDividend := hi < 0
	negDivisor := divisor < 0
	uhi := uint64(hi)
	udivisor := uint64(divisor)
	if negDividend {
		uhi, lo = negate128(uhi, lo)
	}
	if negDivisor {
		udivisor = -udivisor
	}
	uq, ur, of := div128(uhi, lo, udivisor)
	if of {
		return 0, 0, true
	}
	if negDividend != negDivisor {
		uq = -uq
	}
	if negDividend {
		ur = -ur
	}
	return uq, ur, false
}

func negate128(hi, lo uint64) (uint64, uint64) {
	lo = ^lo + 1
	hi = ^hi
	if lo == 0 {
		hi++
	}
	return hi, lo
}
