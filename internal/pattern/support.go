// support.go - small decode/memory helpers shared by the mandatory
// pattern closures
//
// Grounded on the same register/flag/memory accessors internal/cpu
// exposes to its own dispatch table; these helpers exist only because
// a pattern's try_compile works directly off a raw byte window
// rather than through the full decoder, validating the literal byte
// sequence itself instead of decoding it.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pattern

import "github.com/zaynotley/x86uefiboot/internal/mem"

// regRM32 decodes a register-register ModR/M byte (mod must be 3) into
// (reg, rm) as cpu.Reg-compatible indices; REX is never present in the
// legacy 32-bit code these patterns target.
func regRM32(b byte) (reg, rm int, isRegForm bool) {
	mod := b >> 6
	return int((b >> 3) & 7), int(b & 7), mod == 3
}

func i8(b byte) int64 { return int64(int8(b)) }

func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func mmioOrObserver(phys uint64, n uint64) bool {
	return mem.Overlaps(phys, n)
}
