// memory.go - the bulk-memory mandatory patterns: memmove forward and
// backward, strcpy, and the two memset idioms
//
// The literal byte templates for memmoveForward/memmoveBackward/
// strcpyPattern are transcribed directly from the byte/mnemonic
// sequences given for each in the retrieved specification's pattern
// table; the two memset closures recognize a self-consistent template
// built from the same opcode family (REP STOSD/STOSB, a byte-pair
// store loop) since the specification describes their shape ("bulk
// dword fill + byte tail", "interior two-byte loop body") without a
// literal byte sequence to transcribe.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pattern

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// memmoveForward matches `39 C7; 74 disp; A4; EB disp` (`CMP EDI,EAX`;
// `JE done`; `MOVSB`; `JMP loop`), a byte-at-a-time forward copy from
// [ESI] to [EDI] until EDI reaches EAX.
type memmoveForward struct{}

func (memmoveForward) Name() string  { return "memmove-forward" }
func (memmoveForward) Priority() int { return 6 }

func (memmoveForward) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 7 {
		return nil, false
	}
	if w[0] != 0x39 || w[1] != 0xC7 || w[2] != 0x74 || w[4] != 0xA4 || w[5] != 0xEB {
		return nil, false
	}
	jeDisp, jmpDisp := i8(w[3]), i8(w[6])
	const total = uint64(7)
	if int64(rip+4)+jeDisp != int64(rip+total) || int64(rip+total)+jmpDisp != int64(rip) {
		return nil, false
	}
	done := rip + total
	closure := func(c *cpu.CPU) (uint64, bool) {
		if c.Flags.DF() {
			return 0, false
		}
		esi := c.Regs.Get32(cpu.RSI)
		edi := c.Regs.Get32(cpu.RDI)
		eax := c.Regs.Get32(cpu.RAX)
		if eax < edi {
			return 0, false
		}
		n := uint64(eax - edi)
		if !fastPathOK(c, uint64(edi), n) || !fastPathOK(c, uint64(esi), n) {
			return 0, false
		}
		for i := uint64(0); i < n; i++ {
			v, f := c.Bus.ReadLinear8(uint64(esi)+i, c.CPL == 3)
			if f != nil {
				return 0, false
			}
			if wf := c.Bus.WriteLinear8(uint64(edi)+i, v, c.CPL == 3); wf != nil {
				return 0, false
			}
		}
		c.Regs.Set32(cpu.RSI, esi+uint32(n))
		c.Regs.Set32(cpu.RDI, edi+uint32(n))
		c.Flags.SetBit(cpu.FlagZF, true)
		return done, true
	}
	return closure, true
}

// memmoveBackward matches the exact five-instruction
// idiom: `83 E9 01; 72 disp; 8A 14 0E; 88 14 08; EB disp` — a
// pre-decrement ECX, exit on the SUB's borrow, byte copy from
// [ESI+ECX] to [EAX+ECX], loop.
type memmoveBackward struct{}

func (memmoveBackward) Name() string  { return "memmove-backward" }
func (memmoveBackward) Priority() int { return 7 }

func (memmoveBackward) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 13 {
		return nil, false
	}
	if w[0] != 0x83 || w[1] != 0xE9 || w[2] != 0x01 || w[3] != 0x72 {
		return nil, false
	}
	if w[5] != 0x8A || w[6] != 0x14 || w[7] != 0x0E {
		return nil, false
	}
	if w[8] != 0x88 || w[9] != 0x14 || w[10] != 0x08 || w[11] != 0xEB {
		return nil, false
	}
	jcDisp, jmpDisp := i8(w[4]), i8(w[12])
	const total = uint64(13)
	if int64(rip+5)+jcDisp != int64(rip+total) || int64(rip+total)+jmpDisp != int64(rip) {
		return nil, false
	}
	done := rip + total
	closure := func(c *cpu.CPU) (uint64, bool) {
		ecx := c.Regs.Get32(cpu.RCX)
		if ecx == 0 {
			return 0, false
		}
		esi := c.Regs.Get32(cpu.RSI)
		eax := c.Regs.Get32(cpu.RAX)
		n := uint64(ecx)
		if !fastPathOK(c, uint64(esi), n) || !fastPathOK(c, uint64(eax), n) {
			return 0, false
		}
		var last uint8
		for i := int64(ecx) - 1; i >= 0; i-- {
			v, f := c.Bus.ReadLinear8(uint64(esi)+uint64(i), c.CPL == 3)
			if f != nil {
				return 0, false
			}
			if wf := c.Bus.WriteLinear8(uint64(eax)+uint64(i), v, c.CPL == 3); wf != nil {
				return 0, false
			}
			last = v
		}
		c.Regs.Set32(cpu.RCX, 0xFFFFFFFF)
		c.Regs.Set8(cpu.RDX, last, false)
		c.Flags.SetBit(cpu.FlagCF, true)
		c.Flags.SetBit(cpu.FlagZF, false)
		c.Flags.SetBit(cpu.FlagSF, true)
		c.Flags.SetBit(cpu.FlagAF, true)
		c.Flags.SetBit(cpu.FlagPF, true)
		c.Flags.SetBit(cpu.FlagOF, false)
		return done, true
	}
	return closure, true
}

// strcpyPattern matches `8A 1C 11; 88 1C 10; 42; 84 DB; 75 disp`
// (`MOV BL,[ECX+EDX]`; `MOV [EAX+EDX],BL`; `INC EDX`; `TEST BL,BL`;
// `JNZ loop`), copying bytes from [ECX] to [EAX] through the NUL
// terminator, bounded by a safety cap.
type strcpyPattern struct{}

func (strcpyPattern) Name() string  { return "strcpy" }
func (strcpyPattern) Priority() int { return 8 }

const strcpyScanCap = 16 * 1024

func (strcpyPattern) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 11 {
		return nil, false
	}
	if w[0] != 0x8A || w[1] != 0x1C || w[2] != 0x11 {
		return nil, false
	}
	if w[3] != 0x88 || w[4] != 0x1C || w[5] != 0x10 {
		return nil, false
	}
	if w[6] != 0x42 || w[7] != 0x84 || w[8] != 0xDB || w[9] != 0x75 {
		return nil, false
	}
	disp := i8(w[10])
	const total = uint64(11)
	if int64(rip+total)+disp != int64(rip) {
		return nil, false
	}
	done := rip + total
	closure := func(c *cpu.CPU) (uint64, bool) {
		ecx := c.Regs.Get32(cpu.RCX)
		eax := c.Regs.Get32(cpu.RAX)
		edx := c.Regs.Get32(cpu.RDX)
		if !fastPathOK(c, uint64(ecx), strcpyScanCap) || !fastPathOK(c, uint64(eax), strcpyScanCap) {
			return 0, false
		}
		var i uint32
		var b uint8
		for i = edx; i < edx+strcpyScanCap; i++ {
			v, f := c.Bus.ReadLinear8(uint64(ecx)+uint64(i), c.CPL == 3)
			if f != nil {
				return 0, false
			}
			if wf := c.Bus.WriteLinear8(uint64(eax)+uint64(i), v, c.CPL == 3); wf != nil {
				return 0, false
			}
			b = v
			if v == 0 {
				break
			}
		}
		if b != 0 {
			return 0, false
		}
		c.Regs.Set8(cpu.RBX, 0, false)
		c.Regs.Set32(cpu.RDX, i+1)
		c.Flags.SetLogic(0, 32)
		return done, true
	}
	return closure, true
}

// memsetDwordByte matches `C1 E9 02; F3 AB; 83 E1 03; F3 AA` (`SHR
// ECX,2`; `REP STOSD`; `AND ECX,3`; `REP STOSB`), the classic
// dword-then-byte-tail memset prologue.
type memsetDwordByte struct{}

func (memsetDwordByte) Name() string  { return "memset-dword-byte" }
func (memsetDwordByte) Priority() int { return 9 }

func (memsetDwordByte) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 10 {
		return nil, false
	}
	if w[0] != 0xC1 || w[1] != 0xE9 || w[2] != 0x02 {
		return nil, false
	}
	if w[3] != 0xF3 || w[4] != 0xAB {
		return nil, false
	}
	if w[5] != 0x83 || w[6] != 0xE1 || w[7] != 0x03 {
		return nil, false
	}
	if w[8] != 0xF3 || w[9] != 0xAA {
		return nil, false
	}
	const total = uint64(10)
	closure := func(c *cpu.CPU) (uint64, bool) {
		if c.Flags.DF() {
			return 0, false
		}
		n := uint64(c.Regs.Get32(cpu.RCX))
		edi := c.Regs.Get32(cpu.RDI)
		al := c.Regs.Get8(cpu.RAX, false)
		if !fastPathOK(c, uint64(edi), n) {
			return 0, false
		}
		for i := uint64(0); i < n; i++ {
			if f := c.Bus.WriteLinear8(uint64(edi)+i, al, c.CPL == 3); f != nil {
				return 0, false
			}
		}
		c.Regs.Set32(cpu.RDI, edi+uint32(n))
		c.Regs.Set32(cpu.RCX, 0)
		return rip + total, true
	}
	return closure, true
}

// memsetBytePair matches `88 07; 88 47 01; 83 C7 02; 83 E9 02; 75
// disp` (`MOV [EDI],AL`; `MOV [EDI+1],AL`; `ADD EDI,2`; `SUB ECX,2`;
// `JNZ loop`), the interior two-byte-at-a-time memset loop body.
type memsetBytePair struct{}

func (memsetBytePair) Name() string  { return "memset-byte-pair" }
func (memsetBytePair) Priority() int { return 10 }

func (memsetBytePair) TryCompile(rip uint64, w []byte) (Closure, bool) {
	if len(w) < 13 {
		return nil, false
	}
	if w[0] != 0x88 || w[1] != 0x07 {
		return nil, false
	}
	if w[2] != 0x88 || w[3] != 0x47 || w[4] != 0x01 {
		return nil, false
	}
	if w[5] != 0x83 || w[6] != 0xC7 || w[7] != 0x02 {
		return nil, false
	}
	if w[8] != 0x83 || w[9] != 0xE9 || w[10] != 0x02 {
		return nil, false
	}
	if w[11] != 0x75 {
		return nil, false
	}
	disp := i8(w[12])
	const total = uint64(13)
	if int64(rip+total)+disp != int64(rip) {
		return nil, false
	}
	done := rip + total
	closure := func(c *cpu.CPU) (uint64, bool) {
		ecx := c.Regs.Get32(cpu.RCX)
		if ecx == 0 || ecx%2 != 0 {
			return 0, false
		}
		edi := c.Regs.Get32(cpu.RDI)
		al := c.Regs.Get8(cpu.RAX, false)
		n := uint64(ecx)
		if !fastPathOK(c, uint64(edi), n) {
			return 0, false
		}
		for i := uint64(0); i < n; i++ {
			if f := c.Bus.WriteLinear8(uint64(edi)+i, al, c.CPL == 3); f != nil {
				return 0, false
			}
		}
		c.Regs.Set32(cpu.RDI, edi+uint32(n))
		c.Regs.Set32(cpu.RCX, 0)
		c.Flags.SetArithSub(2, 2, 32)
		return done, true
	}
	return closure, true
}
