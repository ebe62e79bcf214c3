package mem

import "testing"

func TestOverlapsVGAWindow(t *testing.T) {
	if !Overlaps(0xA0000, 0x100) {
		t.Fatal("expected VGA window to be an observer zone")
	}
	if Overlaps(0x1000, 0x100) {
		t.Fatal("ordinary RAM range should not be an observer zone")
	}
}

func TestOverlapsLocalAPIC(t *testing.T) {
	if !Overlaps(0xFEE00000, 4) {
		t.Fatal("expected local APIC range to be an observer zone")
	}
}

func TestZoneAtReportsName(t *testing.T) {
	z, ok := ZoneAt(0xB8000)
	if !ok || z.Name != "vga-vram-window" {
		t.Fatalf("ZoneAt(0xB8000) = %+v, %v", z, ok)
	}
}
