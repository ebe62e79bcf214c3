package pattern

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

// runUntilHot feeds the same instruction pointer through an engine
// hotThreshold+1 times, simulating the slow decoder incrementing the
// IP's hit count on every visit before it ever gets compiled.
func runUntilHot(e *Engine, c *cpu.CPU, rip uint64) (nextRIP uint64, executed bool) {
	for i := 0; i < hotThreshold; i++ {
		if next, ok := e.TryExecute(c, rip); ok {
			return next, true
		}
	}
	return e.TryExecute(c, rip)
}

// TestMemmoveBackwardScenario is the retrieved specification's worked
// memmove-backward example: ECX=4, ESI=0x2000, EAX=0x3000, source
// bytes "ABCD" at 0x2000, expecting a reverse byte-for-byte copy to
// 0x3000 with ECX wrapped to 0xFFFFFFFF and CF/SF/AF/PF all set.
func TestMemmoveBackwardScenario(t *testing.T) {
	c := newTestCPU()
	c.Bus.Phys.WriteBytes(0x2000, []byte("ABCD"))
	c.Regs.Set32(cpu.RCX, 4)
	c.Regs.Set32(cpu.RSI, 0x2000)
	c.Regs.Set32(cpu.RAX, 0x3000)

	prog := []byte{0x83, 0xE9, 0x01, 0x72, 0x08, 0x8A, 0x14, 0x0E, 0x88, 0x14, 0x08, 0xEB, 0xF3}
	c.Bus.Phys.WriteBytes(0x9000, prog)

	e := NewEngine()
	next, executed := runUntilHot(e, c, 0x9000)
	if !executed {
		t.Fatal("expected memmove-backward to compile and execute")
	}
	if next != 0x9000+uint64(len(prog)) {
		t.Fatalf("next RIP = %#x, want %#x", next, 0x9000+uint64(len(prog)))
	}

	got := make([]byte, 4)
	for i := range got {
		v, f := c.Bus.ReadLinear8(0x3000+uint64(i), false)
		if f != nil {
			t.Fatalf("unexpected fault reading result byte %d", i)
		}
		got[i] = v
	}
	if string(got) != "ABCD" {
		t.Fatalf("copied bytes = %q, want %q", got, "ABCD")
	}

	if got := c.Regs.Get32(cpu.RCX); got != 0xFFFFFFFF {
		t.Errorf("ECX = %#x, want 0xFFFFFFFF", got)
	}
	if got := c.Regs.Get8(cpu.RDX, false); got != 'A' {
		t.Errorf("DL = %#x, want 'A'", got)
	}
	if !c.Flags.CF() || !c.Flags.SF() || !c.Flags.AF() || !c.Flags.PF() {
		t.Error("expected CF/SF/AF/PF all set")
	}
	if c.Flags.ZF() {
		t.Error("expected ZF clear")
	}
}

// TestUdivmoddiScenario is the retrieved specification's worked
// udivmoddi example: EDX:EAX = 0x0000000100000000 (4294967296),
// divisor 10, expecting quotient 429496729 in EAX (EDX=0) and
// remainder 6 written through the pointer argument.
func TestUdivmoddiScenario(t *testing.T) {
	c := newTestCPU()
	c.Regs.Set32(cpu.RDX, 1)
	c.Regs.Set32(cpu.RAX, 0)
	c.Regs.Set32(cpu.RSP, 0x7000)
	c.Bus.Phys.WriteBytes(0x7000, []byte{0xAD, 0xDE, 0x00, 0x00}) // fake return address 0xDEAD
	c.Bus.Phys.WriteBytes(0x7004, []byte{0x0A, 0x00, 0x00, 0x00}) // denom_lo = 10
	c.Bus.Phys.WriteBytes(0x7008, []byte{0x00, 0x00, 0x00, 0x00}) // denom_hi = 0
	c.Bus.Phys.WriteBytes(0x700C, []byte{0x00, 0x40, 0x00, 0x00}) // rem_ptr = 0x4000

	prog := []byte{0x0F, 0x1F, 0x44, 0x00, 0x00, 0x55, 0x44, 0x4D}
	c.Bus.Phys.WriteBytes(0x9100, prog)

	e := NewEngine()
	next, executed := runUntilHot(e, c, 0x9100)
	if !executed {
		t.Fatal("expected udivmoddi to compile and execute")
	}
	if next != 0xDEAD {
		t.Fatalf("next RIP = %#x, want 0xDEAD (popped return address)", next)
	}
	if got := c.Regs.Get32(cpu.RAX); got != 429496729 {
		t.Errorf("EAX = %d, want 429496729", got)
	}
	if got := c.Regs.Get32(cpu.RDX); got != 0 {
		t.Errorf("EDX = %d, want 0", got)
	}
	rem, f := c.Bus.ReadLinear64(0x4000, false)
	if f != nil {
		t.Fatalf("unexpected fault reading remainder")
	}
	if rem != 6 {
		t.Errorf("remainder at 0x4000 = %d, want 6", rem)
	}
	if got := c.Regs.Get32(cpu.RSP); got != 0x7000+16 {
		t.Errorf("ESP = %#x, want %#x (3 args + return address popped)", got, 0x7000+16)
	}
}

// TestCacheNeverRecompilesSameIP exercises the cache-entry invariant:
// once an instruction pointer's hit count crosses hotThreshold, the
// entry settles into either stateCompiled or stateNoPattern and every
// later visit to the same IP reuses that decision rather than
// re-running TryCompile.
func TestCacheNeverRecompilesSameIP(t *testing.T) {
	c := newTestCPU()
	c.Regs.Set32(cpu.RAX, 0x10)
	c.Regs.Set32(cpu.RBX, 0x05)
	c.Bus.Phys.WriteBytes(0x9200, []byte{0x3B, 0xC3, 0x77, 0x10})

	e := NewEngine()
	for i := 0; i < hotThreshold-1; i++ {
		if _, executed := e.TryExecute(c, 0x9200); executed {
			t.Fatalf("iteration %d: should not execute before crossing hotThreshold", i)
		}
	}
	ent := e.entries[0x9200]
	if ent.st != stateUnseen && ent.st != stateHot {
		t.Fatalf("entry state before threshold = %v, want unseen/hot", ent.st)
	}

	if _, executed := e.TryExecute(c, 0x9200); !executed {
		t.Fatal("expected the threshold-crossing visit to compile and execute cmp-jcc")
	}
	if e.entries[0x9200].st != stateCompiled {
		t.Fatalf("entry state after compile = %v, want stateCompiled", e.entries[0x9200].st)
	}
	if e.entries[0x9200].closure == nil {
		t.Fatal("compiled entry should carry a non-nil closure")
	}

	for i := 0; i < 5; i++ {
		c.Regs.Set32(cpu.RAX, 0x10)
		c.Regs.Set32(cpu.RBX, 0x05)
		if _, executed := e.TryExecute(c, 0x9200); !executed {
			t.Fatalf("repeat visit %d: expected cached closure to execute", i)
		}
		if e.entries[0x9200].st != stateCompiled {
			t.Fatalf("repeat visit %d: entry state = %v, want stateCompiled", i, e.entries[0x9200].st)
		}
	}
}

// TestCacheSettlesNoPatternForUnmatchedBytes checks the other settled
// state: an IP whose bytes never match any registered pattern settles
// into stateNoPattern and stays there rather than oscillating.
func TestCacheSettlesNoPatternForUnmatchedBytes(t *testing.T) {
	c := newTestCPU()
	// 0x90 repeated is a plain NOP stream matched by no pattern here.
	nops := make([]byte, fetchWindow)
	for i := range nops {
		nops[i] = 0x90
	}
	c.Bus.Phys.WriteBytes(0x9300, nops)

	e := NewEngine()
	for i := 0; i < hotThreshold+3; i++ {
		if _, executed := e.TryExecute(c, 0x9300); executed {
			t.Fatalf("iteration %d: unexpected execution for unmatched bytes", i)
		}
	}
	if e.entries[0x9300].st != stateNoPattern {
		t.Fatalf("entry state = %v, want stateNoPattern", e.entries[0x9300].st)
	}
}
