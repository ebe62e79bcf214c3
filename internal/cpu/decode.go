// decode.go - prefix, ModR/M, SIB and displacement decoding
//
// Grounded on cpu_x86.go's fetchModRM/getModRMReg/getModRMRM/getModRMMod
// and calcEffectiveAddress16/32 (lines ~767-931), generalized from the
// teacher's 16/32-bit-only addressing to the full x86-64 addressing
// modes: REX-extended ModR/M.reg/rm and SIB.index/base, RIP-relative
// (mod=00, rm=101) addressing, and 64-bit effective addresses.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

// Prefixes captures the legacy prefix bytes, REX byte, and derived
// operand/address-size and segment-override state for one instruction,
// during prefix/REX parsing.
type Prefixes struct {
	Lock        bool
	RepZ        bool // F3
	RepNZ       bool // F2
	SegOverride Seg
	HasSeg      bool
	OperandSize bool // 0x66 toggles default operand size
	AddressSize bool // 0x67 toggles default address size
	REX         byte
	HasREX      bool
}

func (p Prefixes) RexW() bool { return p.HasREX && p.REX&0x08 != 0 }
func (p Prefixes) RexR() bool { return p.HasREX && p.REX&0x04 != 0 }
func (p Prefixes) RexX() bool { return p.HasREX && p.REX&0x02 != 0 }
func (p Prefixes) RexB() bool { return p.HasREX && p.REX&0x01 != 0 }

// Seg enumerates the six segment registers.
type Seg int

const (
	SegES Seg = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
)

// ModRM is the decoded ModR/M (+SIB +displacement) byte group for one
// operand pair, mirroring cpu_x86.go's getModRMMod/Reg/RM trio plus the
// effective-address calculators, generalized to 64-bit mode.
type ModRM struct {
	Mod     byte
	RegNo   Reg // reg field, REX.R-extended
	RM      Reg // rm field when Mod==3, REX.B-extended
	IsMem   bool
	EffAddr uint64
	Seg     Seg
}

// decodeModRM reads the ModR/M byte (and SIB/displacement if present)
// from d starting at the current cursor, using addrSize (16/32/64) and
// the current REX extension bits. For RIP-relative (mod=00, rm=101,
// 64-bit mode) addressing the final displacement-relative RIP is
// resolved by the caller once the full instruction length (including
// any trailing immediate) is known, so EffAddr for that case is
// returned as the disp32 alone, flagged via the second return.
func (d *Decoder) decodeModRM(addrSize int, rexR, rexX, rexB bool) (m ModRM, ripRelative bool) {
	b := d.u8()
	m.Mod = b >> 6
	regField := (b >> 3) & 7
	rmField := b & 7

	regNo := Reg(regField)
	if rexR {
		regNo += 8
	}
	m.RegNo = regNo

	if m.Mod == 3 {
		rm := Reg(rmField)
		if rexB {
			rm += 8
		}
		m.RM = rm
		m.IsMem = false
		return m, false
	}

	m.IsMem = true
	m.Seg = SegDS

	switch addrSize {
	case 16:
		m.EffAddr = uint64(d.effAddr16(m.Mod, rmField, &m.Seg))
	default:
		m.EffAddr, ripRelative = d.effAddr3264(m.Mod, rmField, rexX, rexB, &m.Seg, addrSize)
	}
	return m, ripRelative
}

// effAddr16 reproduces cpu_x86.go's calcEffectiveAddress16 table
// verbatim in spirit (the seven legacy 16-bit addressing forms).
func (d *Decoder) effAddr16(mod byte, rm byte, segOut *Seg) uint16 {
	var base uint16
	seg := SegDS
	switch rm {
	case 0:
		base = uint16(d.bx) + uint16(d.si)
	case 1:
		base = uint16(d.bx) + uint16(d.di)
	case 2:
		base = uint16(d.bp) + uint16(d.si)
		seg = SegSS
	case 3:
		base = uint16(d.bp) + uint16(d.di)
		seg = SegSS
	case 4:
		base = uint16(d.si)
	case 5:
		base = uint16(d.di)
	case 6:
		if mod == 0 {
			base = d.u16()
		} else {
			base = uint16(d.bp)
			seg = SegSS
		}
	case 7:
		base = uint16(d.bx)
	}
	switch mod {
	case 1:
		base = uint16(int16(base) + int16(int8(d.u8())))
	case 2:
		base += d.u16()
	}
	*segOut = seg
	return base
}

// effAddr3264 generalizes calcEffectiveAddress32 to both 32- and
// 64-bit address sizes, adding REX.X/REX.B extension of the SIB
// index/base fields and RIP-relative addressing (mod=00, rm=101) which
// has no 32-bit-mode equivalent.
func (d *Decoder) effAddr3264(mod byte, rm byte, rexX, rexB bool, segOut *Seg, addrSize int) (addr uint64, ripRelative bool) {
	seg := SegDS
	rmExt := Reg(rm)
	if rexB {
		rmExt += 8
	}

	if rm == 4 {
		sib := d.u8()
		scale := sib >> 6
		index := (sib >> 3) & 7
		base := sib & 7
		indexExt := Reg(index)
		if rexX {
			indexExt += 8
		}
		baseExt := Reg(base)
		if rexB {
			baseExt += 8
		}

		if base == 5 && mod == 0 {
			addr = uint64(int64(int32(d.u32())))
		} else {
			addr = d.gpr(baseExt)
			if base == 4 || base == 5 {
				seg = SegSS
			}
		}
		if index != 4 || rexX {
			addr += d.gpr(indexExt) << scale
		}
	} else if rm == 5 && mod == 0 {
		disp := int64(int32(d.u32()))
		if addrSize == 64 {
			ripRelative = true
			addr = uint64(disp)
		} else {
			addr = uint64(disp)
		}
	} else {
		addr = d.gpr(rmExt)
		if rm == 4 || rm == 5 {
			seg = SegSS
		}
	}

	switch mod {
	case 1:
		addr = uint64(int64(addr) + int64(int8(d.u8())))
	case 2:
		addr = uint64(int64(addr) + int64(int32(d.u32())))
	}

	if addrSize == 32 {
		addr &= 0xFFFFFFFF
	}
	*segOut = seg
	return addr, ripRelative
}

// Decoder walks a byte slice (an instruction window fetched from
// linear memory) tracking a cursor, and exposes the small amount of
// live register state (BX/SI/BP/DI, and a GPR reader for 32/64-bit
// addressing) that 16-bit effective-address computation needs. It
// reads registers only through the gprGet callback rather than a
// *CPU; NewDecoder snapshots BX/SI/BP/DI from that callback.
type Decoder struct {
	Bytes []byte
	Pos   int

	bx, si, bp, di uint16
	gprGet         func(Reg) uint64
}

func NewDecoder(bytes []byte, gprGet func(Reg) uint64) *Decoder {
	d := &Decoder{Bytes: bytes, gprGet: gprGet}
	d.bx, d.si = uint16(d.gpr(RBX)), uint16(d.gpr(RSI))
	d.bp, d.di = uint16(d.gpr(RBP)), uint16(d.gpr(RDI))
	return d
}

func (d *Decoder) gpr(r Reg) uint64 {
	if d.gprGet != nil {
		return d.gprGet(r)
	}
	return 0
}

func (d *Decoder) u8() byte {
	if d.Pos >= len(d.Bytes) {
		return 0
	}
	v := d.Bytes[d.Pos]
	d.Pos++
	return v
}

func (d *Decoder) u16() uint16 {
	lo := uint16(d.u8())
	hi := uint16(d.u8())
	return lo | hi<<8
}

func (d *Decoder) u32() uint32 {
	lo := uint32(d.u16())
	hi := uint32(d.u16())
	return lo | hi<<16
}

func (d *Decoder) u64() uint64 {
	lo := uint64(d.u32())
	hi := uint64(d.u32())
	return lo | hi<<32
}

func (d *Decoder) i8() int8   { return int8(d.u8()) }
func (d *Decoder) i32() int32 { return int32(d.u32()) }

// Remaining reports how many bytes are left in the window.
func (d *Decoder) Remaining() int { return len(d.Bytes) - d.Pos }
