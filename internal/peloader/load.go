// load.go - copying a parsed image into guest memory and relocating it
//
// Kept free of any dependency on internal/cpu or internal/mem so this
// package stays a pure PE-format library (the emulator package adapts
// its own *mem.Bus to the small Memory interface below); grounded on
// the same read/write-primitive idiom as `machine_bus.go`'s
// device wiring, generalized to an injected
// interface instead of a concrete bus type.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package peloader

import (
	"encoding/binary"
	"errors"
)

// Memory is the minimal byte-addressable write surface Load needs.
// The emulator package implements this over internal/mem's Bus.
type Memory interface {
	WriteByte(addr uint64, b byte)
	ReadByte(addr uint64) byte
	ReadUint16(addr uint64) uint16
	WriteUint16(addr uint64, v uint16)
	ReadUint32(addr uint64) uint32
	WriteUint32(addr uint64, v uint32)
	ReadUint64(addr uint64) uint64
	WriteUint64(addr uint64, v uint64)
}

// Result is the {base, entry, size, bits} tuple the loader produces
// Load to return.
type Result struct {
	Base  uint64
	Entry uint64
	Size  uint64
	Bits  int
}

// Load copies every section's raw bytes into mem at loadBase+RVA,
// zero-fills each section's tail out to its VirtualSize, applies base
// relocations for the delta between loadBase and the image's
// preferred ImageBase, and returns the loaded image's {base, entry,
// size, bits}.
func (img *Image) Load(mem Memory, loadBase uint64) (Result, error) {
	for _, s := range img.Sections {
		dst := loadBase + uint64(s.VirtualAddress)
		for i, b := range s.Raw {
			mem.WriteByte(dst+uint64(i), b)
		}
		for i := uint64(len(s.Raw)); i < uint64(s.VirtualSize); i++ {
			mem.WriteByte(dst+i, 0)
		}
	}

	delta := int64(loadBase) - int64(img.ImageBase)
	if delta != 0 {
		if err := img.relocate(mem, loadBase, delta); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Base:  loadBase,
		Entry: loadBase + uint64(img.EntryRVA),
		Size:  uint64(img.Size),
		Bits:  img.Bits(),
	}, nil
}

// relocate walks the .reloc directory's IMAGE_BASE_RELOCATION blocks
// and applies delta to every DIR64 (64-bit images) or HIGHLOW (32-bit
// images) fixup; ABSOLUTE entries (padding, per the specification) are
// skipped.
func (img *Image) relocate(mem Memory, loadBase uint64, delta int64) error {
	if img.relocRVA == 0 || img.relocSize == 0 {
		return nil
	}
	var data []byte
	for _, s := range img.Sections {
		if img.relocRVA >= s.VirtualAddress && img.relocRVA-s.VirtualAddress < uint32(len(s.Raw)) {
			data = s.Raw[img.relocRVA-s.VirtualAddress:]
			break
		}
	}
	end := int(img.relocSize)
	if end > len(data) {
		return errBadReloc
	}

	pos := 0
	for pos+8 <= end {
		pageRVA := binary.LittleEndian.Uint32(data[pos:])
		blockSize := binary.LittleEndian.Uint32(data[pos+4:])
		if blockSize < 8 || pos+int(blockSize) > end {
			return errBadReloc
		}
		entries := (int(blockSize) - 8) / 2
		for i := 0; i < entries; i++ {
			entryOff := pos + 8 + i*2
			entry := binary.LittleEndian.Uint16(data[entryOff:])
			typ := entry >> 12
			pageOff := uint32(entry & 0x0FFF)
			addr := loadBase + uint64(pageRVA) + uint64(pageOff)

			switch typ {
			case relBasedAbsolute:
				// padding entry, no fixup
			case relBasedHighLow:
				v := mem.ReadUint32(addr)
				mem.WriteUint32(addr, uint32(int64(v)+delta))
			case relBasedDir64:
				v := mem.ReadUint64(addr)
				mem.WriteUint64(addr, uint64(int64(v)+delta))
			default:
				return errBadReloc
			}
		}
		pos += int(blockSize)
	}
	return nil
}

var errBadReloc = errors.New("peloader: malformed .reloc directory")
