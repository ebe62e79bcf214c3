package cpu

import (
	"testing"

	"github.com/zaynotley/x86uefiboot/internal/mem"
)

func newTestCPU() *CPU {
	phys := mem.NewPhysical(0)
	bus := &mem.Bus{Phys: phys, Mode: mem.ModeLong, A20Enabled: true, PagingOn: false}
	c := NewCPU(bus)
	c.Mode = ModeLong
	c.Seg.CS.DefaultBig = true
	return c
}

// TestCmpJaTakenScenario covers a CMP followed by a taken JA.
func TestCmpJaTakenScenario(t *testing.T) {
	c := newTestCPU()
	c.Regs.Set32(RAX, 0x10)
	c.Regs.Set32(RBX, 0x05)
	c.Bus.Phys.WriteBytes(0x1000, []byte{0x3B, 0xC3, 0x77, 0x10})
	c.Regs.SetRIP(0x1000)

	c.Step() // CMP EAX,EBX
	c.Step() // JA rel8

	if c.Regs.RIP() != 0x1014 {
		t.Fatalf("RIP = %#x, want 0x1014", c.Regs.RIP())
	}
	if c.Flags.CF() {
		t.Error("CF should be clear")
	}
	if c.Flags.ZF() {
		t.Error("ZF should be clear")
	}
}

// TestAddAdc64LowHighScenario covers a 64-bit ADD/ADC low/high pair.
func TestAddAdc64LowHighScenario(t *testing.T) {
	c := newTestCPU()
	c.Regs.Set32(RAX, 0xFFFFFFFF)
	c.Regs.Set32(RCX, 1)
	c.Regs.Set32(RBX, 0)
	c.Regs.Set32(RDX, 0)
	c.Bus.Phys.WriteBytes(0x2000, []byte{0x01, 0xC8, 0x11, 0xDA})
	c.Regs.SetRIP(0x2000)

	c.Step() // ADD EAX,ECX
	c.Step() // ADC EDX,EBX

	if got := c.Regs.Get32(RAX); got != 0 {
		t.Errorf("EAX = %#x, want 0", got)
	}
	if got := c.Regs.Get32(RCX); got != 1 {
		t.Errorf("ECX = %#x, want 1", got)
	}
	if got := c.Regs.Get32(RDX); got != 0 {
		t.Errorf("EDX = %#x, want 0", got)
	}
	if got := c.Regs.Get32(RBX); got != 0 {
		t.Errorf("EBX = %#x, want 0", got)
	}
	if c.Flags.CF() {
		t.Error("CF should be clear after the terminating ADC")
	}
}

func TestMovRegImmAndMovRM(t *testing.T) {
	c := newTestCPU()
	// MOV EAX, 0x12345678 ; MOV [0x3000], EAX ; MOV EBX, [0x3000]
	prog := []byte{
		0xB8, 0x78, 0x56, 0x34, 0x12, // MOV EAX, imm32
		0x89, 0x04, 0x25, 0x00, 0x30, 0x00, 0x00, // MOV [0x3000], EAX (ModRM 04, SIB 25 = disp32 no base/index)
		0x8B, 0x1C, 0x25, 0x00, 0x30, 0x00, 0x00, // MOV EBX, [0x3000]
	}
	c.Bus.Phys.WriteBytes(0x4000, prog)
	c.Regs.SetRIP(0x4000)

	c.Step()
	c.Step()
	c.Step()

	if got := c.Regs.Get32(RAX); got != 0x12345678 {
		t.Fatalf("EAX = %#x, want 0x12345678", got)
	}
	if got := c.Regs.Get32(RBX); got != 0x12345678 {
		t.Fatalf("EBX = %#x, want 0x12345678", got)
	}
}

func TestJmpRel32AndHalt(t *testing.T) {
	c := newTestCPU()
	c.Bus.Phys.WriteBytes(0x5000, []byte{0xE9, 0x05, 0x00, 0x00, 0x00}) // JMP rel32 +5
	c.Bus.Phys.WriteBytes(0x500A, []byte{0xF4})                        // HLT
	c.Regs.SetRIP(0x5000)

	c.Step() // JMP -> 0x500A
	if c.Regs.RIP() != 0x500A {
		t.Fatalf("RIP after JMP = %#x, want 0x500A", c.Regs.RIP())
	}
	c.Step() // HLT
	if !c.Halted {
		t.Fatal("expected machine to be halted")
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	c := newTestCPU()
	c.Regs.Set64(RSP, 0x8000)
	c.Regs.Set64(RAX, 0xDEADBEEF)
	c.Bus.Phys.WriteBytes(0x6000, []byte{0x50, 0x5B}) // PUSH RAX ; POP RBX
	c.Regs.SetRIP(0x6000)

	c.Step()
	c.Step()

	if got := c.Regs.Get64(RBX); got != 0xDEADBEEF {
		t.Fatalf("RBX = %#x, want 0xDEADBEEF", got)
	}
	if got := c.Regs.Get64(RSP); got != 0x8000 {
		t.Fatalf("RSP = %#x, want 0x8000 (balanced push/pop)", got)
	}
}
