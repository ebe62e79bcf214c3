package uefi

import (
	"testing"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
	"github.com/zaynotley/x86uefiboot/internal/mem"
)

func newTestCPU() *cpu.CPU {
	phys := mem.NewPhysical(0)
	bus := &mem.Bus{Phys: phys, Mode: mem.ModeProtected, A20Enabled: true, PagingOn: false}
	c := cpu.NewCPU(bus)
	c.Mode = cpu.ModeProtected
	c.Seg.CS.DefaultBig = true
	return c
}

type recordingSink struct{ got []byte }

func (s *recordingSink) WriteByte(b byte) { s.got = append(s.got, b) }

// writeUTF16 writes a Go string as NUL-terminated UTF-16LE at addr,
// passing non-ASCII runes straight through as single code units
// (sufficient for the Latin-1-range glyphs this test exercises).
func writeUTF16(c *cpu.CPU, addr uint64, s string) {
	i := uint64(0)
	for _, r := range s {
		c.Bus.WriteLinear16(addr+i, uint16(r), false)
		i += 2
	}
	c.Bus.WriteLinear16(addr+i, 0, false)
}

// TestOutputStringRoundTrip covers OutputString writing ASCII
// straight through, '\n' passed through unmodified, and a non-ASCII
// code point re-encoded through CP437.
func TestOutputStringRoundTrip(t *testing.T) {
	c := newTestCPU()
	sink := &recordingSink{}
	out := &SimpleTextOutput{Sink: sink}

	msg := "Hi\nÇ"
	writeUTF16(c, 0x5000, msg)

	status := out.outputString(c, 0x5000)
	if status != StatusSuccess {
		t.Fatalf("status = %#x, want success", uint64(status))
	}

	want := []byte{'H', 'i', '\n', 0x80} // 'Ç' is CP437 byte 0x80
	if string(sink.got) != string(want) {
		t.Fatalf("got %v, want %v", sink.got, want)
	}
}

func TestOutputStringUnmappableFallsBackToQuestionMark(t *testing.T) {
	c := newTestCPU()
	sink := &recordingSink{}
	out := &SimpleTextOutput{Sink: sink}

	writeUTF16(c, 0x5000, string(rune(0x4E2D))) // a CJK code point, absent from CP437

	if st := out.outputString(c, 0x5000); st != StatusSuccess {
		t.Fatalf("status = %#x, want success", uint64(st))
	}
	if len(sink.got) != 1 || sink.got[0] != '?' {
		t.Fatalf("got %v, want a single '?'", sink.got)
	}
}

type fakeKeyboard struct {
	scan, uni uint16
	has       bool
}

func (k *fakeKeyboard) PopKey() (uint16, uint16, bool) {
	if !k.has {
		return 0, 0, false
	}
	k.has = false
	return k.scan, k.uni, true
}

func TestReadKeyStrokeNotReadyThenDelivered(t *testing.T) {
	c := newTestCPU()
	kb := &fakeKeyboard{}
	in := &SimpleTextInput{Source: kb}

	if st := in.readKeyStroke(c, 0x6000); st != StatusNotReady {
		t.Fatalf("status = %#x, want NotReady", uint64(st))
	}

	kb.has, kb.scan, kb.uni = true, 0x1C, 'a'
	if st := in.readKeyStroke(c, 0x6000); st != StatusSuccess {
		t.Fatalf("status = %#x, want success", uint64(st))
	}
	scan, _ := c.Bus.ReadLinear16(0x6000, false)
	uni, _ := c.Bus.ReadLinear16(0x6002, false)
	if scan != 0x1C || uni != 'a' {
		t.Fatalf("scan=%#x uni=%#x, want 0x1C/'a'", scan, uni)
	}
}

// TestBootServicesAllocateAndMemoryMap drives AllocatePool and
// GetMemoryMap through the trampoline table directly (bypassing a full
// CALL instruction, the way checkTrampolineOrJump's Dispatch would
// invoke them), exercising the Boot Services table this loader builds.
func TestBootServicesAllocateAndMemoryMap(t *testing.T) {
	c := newTestCPU()
	env := NewEnvironment(c, 0x100000, 0x200000)
	env.RAMSize = 64 * 1024 * 1024
	bsTable := env.RegisterBootServices()

	allocatePoolAddr, _ := c.Bus.ReadLinear32(bsTable+5*4, false)

	// 32-bit cdecl call frame: [ESP]=return addr, [ESP+4]=PoolType,
	// [ESP+8]=Size, [ESP+12]=Buffer*.
	c.Regs.Set32(cpu.RSP, 0x7000)
	c.Bus.WriteLinear32(0x7000, 0xDEAD, false)
	c.Bus.WriteLinear32(0x7004, 0, false)    // PoolType
	c.Bus.WriteLinear32(0x7008, 0x40, false) // Size
	c.Bus.WriteLinear32(0x700C, 0x8000, false) // Buffer* out-param address

	if !env.Trampolines.Dispatch(c, uint64(allocatePoolAddr)) {
		t.Fatal("AllocatePool trampoline not registered at its table slot")
	}
	if Status(c.Regs.Get32(cpu.RAX)) != StatusSuccess {
		t.Fatalf("AllocatePool status = %#x", c.Regs.Get32(cpu.RAX))
	}
	bufPtr, _ := c.Bus.ReadLinear32(0x8000, false)
	if bufPtr != 0x100000 {
		t.Fatalf("AllocatePool returned %#x, want pool arena base 0x100000", bufPtr)
	}

	getMemoryMapAddr, _ := c.Bus.ReadLinear32(bsTable+4*4, false)
	c.Bus.WriteLinear32(0x9200, 64, false)      // the MemoryMapSize variable itself
	c.Bus.WriteLinear32(0x7004, 0x9200, false)  // *MemoryMapSize (address of the variable above)
	c.Bus.WriteLinear32(0x7008, 0x9000, false)  // MemoryMap buffer
	c.Bus.WriteLinear32(0x700C, 0x9100, false)  // *MapKey out
	c.Bus.WriteLinear32(0x7010, 0x9110, false)  // *DescriptorSize out
	c.Bus.WriteLinear32(0x7014, 0x9120, false)  // *DescriptorVersion out
	if !env.Trampolines.Dispatch(c, uint64(getMemoryMapAddr)) {
		t.Fatal("GetMemoryMap trampoline not registered at its table slot")
	}
	if Status(c.Regs.Get32(cpu.RAX)) != StatusSuccess {
		t.Fatalf("GetMemoryMap status = %#x", c.Regs.Get32(cpu.RAX))
	}
	pages, _ := c.Bus.ReadLinear64(0x9000+24, false)
	if pages != env.RAMSize/4096 {
		t.Fatalf("descriptor page count = %d, want %d", pages, env.RAMSize/4096)
	}
}
