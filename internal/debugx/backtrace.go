// backtrace.go - stack backtrace for the single x86/x86-64 core
//
// Grounded on debug_backtrace.go's per-architecture stack walkers,
// trimmed to the one this package needs: 4-byte ESP frames in
// protected mode, 8-byte RSP frames in long mode.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package debugx

import (
	"encoding/binary"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
)

// Backtrace walks the current stack and returns up to depth return
// addresses, reading 8-byte slots in long mode or 4-byte slots
// otherwise.
func (d *Debugger) Backtrace(depth int) []uint64 {
	if d.CPU.Mode == cpu.ModeLong {
		return d.backtrace64(depth)
	}
	return d.backtrace32(depth)
}

func (d *Debugger) backtrace64(depth int) []uint64 {
	sp := d.CPU.Regs.Get64(cpu.RSP)
	var out []uint64
	for i := 0; i < depth; i++ {
		data := d.ReadMemory(sp, 8)
		if len(data) < 8 {
			break
		}
		out = append(out, binary.LittleEndian.Uint64(data))
		sp += 8
	}
	return out
}

func (d *Debugger) backtrace32(depth int) []uint64 {
	sp := d.CPU.Regs.Get64(cpu.RSP)
	var out []uint64
	for i := 0; i < depth; i++ {
		data := d.ReadMemory(sp, 4)
		if len(data) < 4 {
			break
		}
		out = append(out, uint64(binary.LittleEndian.Uint32(data)))
		sp += 4
	}
	return out
}
