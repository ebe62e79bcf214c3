package mem

import "testing"

func TestPhysicalReadWriteRoundTrip(t *testing.T) {
	p := NewPhysical(0)

	p.Write8(0x10, 0x42)
	if got := p.Read8(0x10); got != 0x42 {
		t.Fatalf("Read8 = %#x, want 0x42", got)
	}

	p.Write32(0x100, 0xDEADBEEF)
	if got := p.Read32(0x100); got != 0xDEADBEEF {
		t.Fatalf("Read32 = %#x, want 0xDEADBEEF", got)
	}

	p.Write64(0x200, 0x0102030405060708)
	if got := p.Read64(0x200); got != 0x0102030405060708 {
		t.Fatalf("Read64 = %#x, want 0x0102030405060708", got)
	}
}

func TestPhysicalUninitializedReadsAsZero(t *testing.T) {
	p := NewPhysical(0)
	if got := p.Read32(1 << 30); got != 0 {
		t.Fatalf("uninitialized Read32 = %#x, want 0", got)
	}
}

func TestPhysicalWriteGrowsCapacityLazily(t *testing.T) {
	p := NewPhysical(0)
	if p.Len() != 0 {
		t.Fatalf("initial Len = %d, want 0", p.Len())
	}
	p.Write8(5*DefaultChunkSize, 1)
	if p.Len() <= 5*DefaultChunkSize {
		t.Fatalf("Len = %d, want > %d after write", p.Len(), 5*DefaultChunkSize)
	}
}

func TestPhysicalCopyHandlesOverlap(t *testing.T) {
	p := NewPhysical(0)
	p.WriteBytes(0x2000, []byte("ABCD"))

	// Forward copy, non-overlapping.
	p.Copy(0x3000, 0x2000, 4)
	if got := string(p.ReadBytes(0x3000, 4)); got != "ABCD" {
		t.Fatalf("Copy result = %q, want ABCD", got)
	}

	// Overlapping backward-shift copy.
	p.WriteBytes(0x4000, []byte("ABCDE"))
	p.Copy(0x4001, 0x4000, 4)
	if got := string(p.ReadBytes(0x4000, 5)); got != "AABCD" {
		t.Fatalf("overlapping Copy result = %q, want AABCD", got)
	}
}
