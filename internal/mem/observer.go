// observer.go - observer zones and MMIO refusal ranges
//
// The legacy video window addresses are carried over verbatim from the
// teacher's registers.go (VGA_VRAM_BASE/VGA_TEXT_BASE), which already
// reserved exactly this physical range for the same peripheral. The
// remaining ranges (local APIC, I/O-APIC, firmware window) are new,
// named the way registers.go names its own regions.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package mem

// Zone is a named physical address range that fast paths must never
// bulk-write through: an observer or MMIO refusal zone.
type Zone struct {
	Name  string
	Start uint64
	End   uint64 // inclusive
}

var observerZones = []Zone{
	{Name: "vga-vram-window", Start: 0xA0000, End: 0xBFFFF},
	{Name: "local-apic", Start: 0xFEE00000, End: 0xFEE00FFF},
	{Name: "io-apic", Start: 0xFEC00000, End: 0xFEC00020},
	{Name: "firmware-window", Start: 0xE0000000, End: 0xE1000000},
}

// Overlaps reports whether [addr, addr+n) intersects any observer or
// MMIO refusal zone. Pattern closures consult this before taking a bulk
// fast path; ordinary reads/writes never consult it (slow-path memory
// access always touches the underlying bytes, observer zones are only
// special-cased for fast paths).
func Overlaps(addr, n uint64) bool {
	if n == 0 {
		return false
	}
	end := addr + n - 1
	for _, z := range observerZones {
		if addr <= z.End && end >= z.Start {
			return true
		}
	}
	return false
}

// ZoneAt returns the zone containing addr, if any.
func ZoneAt(addr uint64) (Zone, bool) {
	for _, z := range observerZones {
		if addr >= z.Start && addr <= z.End {
			return z, true
		}
	}
	return Zone{}, false
}
