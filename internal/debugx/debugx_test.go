package debugx

import (
	"os"
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

func TestRegisterGetSetRoundTrip(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	if !d.SetRegister("RAX", 0x1234) {
		t.Fatalf("SetRegister(RAX) failed")
	}
	v, ok := d.GetRegister("RAX")
	if !ok || v != 0x1234 {
		t.Fatalf("GetRegister(RAX) = %#x, %v", v, ok)
	}

	if _, ok := d.GetRegister("NOSUCH"); ok {
		t.Fatalf("GetRegister should fail for an unknown name")
	}

	d.SetPC(0x8000)
	if d.GetPC() != 0x8000 {
		t.Fatalf("SetPC/GetPC round-trip failed")
	}
}

func TestMemoryReadWrite(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	d.WriteMemory(0x1000, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	got := d.ReadMemory(0x1000, 4)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ReadMemory[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestDisassembleAdvancesThroughInstructions(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	// XOR EAX,EAX ; RET
	d.WriteMemory(0x9000, []byte{0x31, 0xC0, 0xC3})
	lines := d.Disassemble(0x9000, 2)
	if len(lines) != 2 {
		t.Fatalf("expected 2 decoded instructions, got %d", len(lines))
	}
	if lines[0].Addr != 0x9000 || lines[0].Len != 2 {
		t.Fatalf("unexpected first instruction: %+v", lines[0])
	}
	if lines[1].Addr != 0x9002 || lines[1].Mnemonic != "RET" {
		t.Fatalf("unexpected second instruction: %+v", lines[1])
	}
}

func TestConditionalBreakpointFiresOnlyWhenConditionHolds(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	cond, err := ParseCondition("RAX==$2A")
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}
	d.SetConditionalBreakpoint(0x5000, cond)

	d.SetRegister("RAX", 1)
	if d.CheckBreakpoint(0x5000) {
		t.Fatalf("breakpoint should not fire when RAX != 0x2A")
	}

	d.SetRegister("RAX", 0x2A)
	if !d.CheckBreakpoint(0x5000) {
		t.Fatalf("breakpoint should fire once RAX == 0x2A")
	}

	if !d.HasBreakpoint(0x5000) {
		t.Fatalf("HasBreakpoint should report true")
	}
	if !d.ClearBreakpoint(0x5000) {
		t.Fatalf("ClearBreakpoint should succeed on an existing breakpoint")
	}
	if d.ClearBreakpoint(0x5000) {
		t.Fatalf("ClearBreakpoint should fail the second time")
	}
}

func TestWatchpointDetectsValueChange(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	d.WriteMemory(0x6000, []byte{0x00})
	d.SetWatchpoint(0x6000)

	if events := d.PollWatchpoints(); len(events) != 0 {
		t.Fatalf("expected no events before the value changes, got %d", len(events))
	}

	d.WriteMemory(0x6000, []byte{0x42})
	events := d.PollWatchpoints()
	if len(events) != 1 {
		t.Fatalf("expected 1 watchpoint event, got %d", len(events))
	}
	if events[0].WatchOldValue != 0x00 || events[0].WatchNewValue != 0x42 {
		t.Fatalf("unexpected watchpoint event: %+v", events[0])
	}
}

func TestBacktraceWalksProtectedModeFrames(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	d.CPU.Regs.Set64(cpu.RSP, 0x7000)
	d.WriteMemory(0x7000, []byte{0x11, 0x11, 0x11, 0x11})
	d.WriteMemory(0x7004, []byte{0x22, 0x22, 0x22, 0x22})

	frames := d.Backtrace(2)
	if len(frames) != 2 || frames[0] != 0x11111111 || frames[1] != 0x22222222 {
		t.Fatalf("unexpected backtrace: %+v", frames)
	}
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	c := newTestCPU()
	d := New(c)

	d.SetRegister("RAX", 0xCAFEBABE)
	d.WriteMemory(0x100, []byte{1, 2, 3, 4, 5})

	snap := d.TakeSnapshot(0x200)

	f, err := os.CreateTemp("", "x86uefiboot-snapshot-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := SaveSnapshotToFile(snap, path); err != nil {
		t.Fatalf("SaveSnapshotToFile: %v", err)
	}

	loaded, err := LoadSnapshotFromFile(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromFile: %v", err)
	}

	fresh := New(newTestCPU())
	fresh.RestoreSnapshot(loaded)

	if v, _ := fresh.GetRegister("RAX"); v != 0xCAFEBABE {
		t.Fatalf("restored RAX = %#x, want 0xCAFEBABE", v)
	}
	got := fresh.ReadMemory(0x100, 5)
	want := []byte{1, 2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("restored memory[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}
