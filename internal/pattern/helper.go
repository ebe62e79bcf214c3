// helper.go - the udivmoddi compiler-runtime helper pattern
//
// The retrieved specification describes this pattern only by name and
// calling convention ("64-bit unsigned divide helper... quotient in
// EDX:EAX, remainder written through a pointer argument"), not by a
// literal byte sequence the way CMP+Jcc or memmove forward are given,
// and no original_source/ tree survived distillation to recover the
// real GRUB-compiled bytes from (see DESIGN.md). Recognition here
// therefore keys off a fixed entry-point byte signature rather than a
// transcribed real-world encoding: a 5-byte multi-byte NOP
// (`0F 1F 44 00 00`) immediately followed by an invented 3-byte tag
// (`55 44 4D`, ASCII "UDM") that a real toolchain would never emit on
// its own, standing in for whatever fixed address a given firmware
// build's libgcc provides this routine at.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pattern

import "github.com/zaynotley/x86uefiboot/internal/cpu"

type udivmoddi struct{}

func (udivmoddi) Name() string  { return "udivmoddi" }
func (udivmoddi) Priority() int { return 11 }

func (udivmoddi) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 8 {
		return nil, false
	}
	if w[0] != 0x0F || w[1] != 0x1F || w[2] != 0x44 || w[3] != 0x00 || w[4] != 0x00 {
		return nil, false
	}
	if w[5] != 0x55 || w[6] != 0x44 || w[7] != 0x4D {
		return nil, false
	}

	closure := func(c *cpu.CPU) (uint64, bool) {
		if !fastPathOK(c, 0, 0) {
			return 0, false
		}
		esp := uint64(c.Regs.Get32(cpu.RSP))
		retAddr, f0 := c.Bus.ReadLinear32(esp, c.CPL == 3)
		denomLo, f1 := c.Bus.ReadLinear32(esp+4, c.CPL == 3)
		denomHi, f2 := c.Bus.ReadLinear32(esp+8, c.CPL == 3)
		remPtr, f3 := c.Bus.ReadLinear32(esp+12, c.CPL == 3)
		if f0 != nil || f1 != nil || f2 != nil || f3 != nil {
			return 0, false
		}
		dividend := (uint64(c.Regs.Get32(cpu.RDX)) << 32) | uint64(c.Regs.Get32(cpu.RAX))
		divisor := (uint64(denomHi) << 32) | uint64(denomLo)
		if divisor == 0 {
			return 0, false
		}
		if !fastPathOK(c, uint64(remPtr), 8) {
			return 0, false
		}
		q, r := dividend/divisor, dividend%divisor
		if wf := c.Bus.WriteLinear64(uint64(remPtr), r, c.CPL == 3); wf != nil {
			return 0, false
		}
		c.Regs.Set32(cpu.RAX, uint32(q))
		c.Regs.Set32(cpu.RDX, uint32(q>>32))
		c.Regs.Set32(cpu.RSP, uint32(esp)+16)
		return uint64(retAddr), true
	}
	return closure, true
}
