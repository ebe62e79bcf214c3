// linear.go - linear-to-physical translation entry point
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package mem

// AddressMode selects the linear-address mask applied before any
// paging walk: 52-bit in long mode, 32-bit (or 20-bit with A20
// disabled) below long mode.
type AddressMode int

const (
	ModeReal AddressMode = iota
	ModeProtected
	ModeLong
)

// Mask returns the linear-address mask for the given mode and A20 gate
// state. Outside long mode with A20 disabled, addresses are masked to 20
// bits (the classic wraparound at 1MiB); everywhere else the full
// mode-width mask applies.
func Mask(mode AddressMode, a20Enabled bool, addr uint64) uint64 {
	switch mode {
	case ModeLong:
		return addr & ((1 << 52) - 1)
	default:
		if !a20Enabled {
			return addr & ((1 << 20) - 1)
		}
		return addr & ((1 << 32) - 1)
	}
}

// Bus owns the physical store plus the paging configuration needed to
// translate a linear address (addr, write?, user?, paging?, linear_mask)
// to a physical one.
type Bus struct {
	Phys       *Physical
	Mode       AddressMode
	A20Enabled bool
	PagingOn   bool
	CR3        uint64
}

// Translate resolves a linear address to a physical one, applying the
// address mask first and then, if paging is enabled, the 4-level walk.
func (b *Bus) Translate(linear uint64, write, user, ifetch bool) (uint64, *FaultInfo) {
	masked := Mask(b.Mode, b.A20Enabled, linear)
	if !b.PagingOn {
		return masked, nil
	}
	return Walk(b.Phys, b.CR3, masked, write, user, ifetch)
}

// ReadLinear8/16/32/64 and WriteLinear* translate then delegate to the
// physical store, faulting through the returned *FaultInfo on failure.
func (b *Bus) ReadLinear8(addr uint64, user bool) (uint8, *FaultInfo) {
	phys, f := b.Translate(addr, false, user, false)
	if f != nil {
		return 0, f
	}
	return b.Phys.Read8(phys), nil
}

func (b *Bus) WriteLinear8(addr uint64, v uint8, user bool) *FaultInfo {
	phys, f := b.Translate(addr, true, user, false)
	if f != nil {
		return f
	}
	b.Phys.Write8(phys, v)
	return nil
}

func (b *Bus) ReadLinear16(addr uint64, user bool) (uint16, *FaultInfo) {
	phys, f := b.Translate(addr, false, user, false)
	if f != nil {
		return 0, f
	}
	return b.Phys.Read16(phys), nil
}

func (b *Bus) WriteLinear16(addr uint64, v uint16, user bool) *FaultInfo {
	phys, f := b.Translate(addr, true, user, false)
	if f != nil {
		return f
	}
	b.Phys.Write16(phys, v)
	return nil
}

func (b *Bus) ReadLinear32(addr uint64, user bool) (uint32, *FaultInfo) {
	phys, f := b.Translate(addr, false, user, false)
	if f != nil {
		return 0, f
	}
	return b.Phys.Read32(phys), nil
}

func (b *Bus) WriteLinear32(addr uint64, v uint32, user bool) *FaultInfo {
	phys, f := b.Translate(addr, true, user, false)
	if f != nil {
		return f
	}
	b.Phys.Write32(phys, v)
	return nil
}

func (b *Bus) ReadLinear64(addr uint64, user bool) (uint64, *FaultInfo) {
	phys, f := b.Translate(addr, false, user, false)
	if f != nil {
		return 0, f
	}
	return b.Phys.Read64(phys), nil
}

func (b *Bus) WriteLinear64(addr uint64, v uint64, user bool) *FaultInfo {
	phys, f := b.Translate(addr, true, user, false)
	if f != nil {
		return f
	}
	b.Phys.Write64(phys, v)
	return nil
}

// FetchCode reads an instruction-fetch linear range, used by the
// decoder and by the patterned-instruction engine's byte window
// (fetching up to 96 bytes at RIP).
func (b *Bus) FetchCode(addr uint64, n int, user bool) ([]byte, *FaultInfo) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		phys, f := b.Translate(addr+uint64(i), false, user, true)
		if f != nil {
			if i == 0 {
				return nil, f
			}
			return out[:i], nil
		}
		out[i] = b.Phys.Read8(phys)
	}
	return out, nil
}
