package emulator

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
)

// buildMinimalPE64 assembles the smallest PE32+ image peloader.Parse
// accepts: no data directories, one .text section holding a single
// HLT byte at the entry point. Mirrors internal/peloader's own test
// builder, trimmed of the .reloc machinery this test doesn't need.
func buildMinimalPE64(imageBase uint64) []byte {
	const textRVA = 0x1000
	const headerLen = 64 + 4 + 20 + 112 + 40 // dos+sig+coff+opt(0 dirs)+1 section header

	var buf bytes.Buffer
	w16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	w32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	w64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("MZ")
	buf.Write(make([]byte, 58))
	w32(64) // e_lfanew

	buf.WriteString("PE\x00\x00")

	w16(0x8664) // IMAGE_FILE_MACHINE_AMD64
	w16(1)      // NumberOfSections
	w32(0)
	w32(0)
	w32(0)
	w16(112) // SizeOfOptionalHeader (0 data directories)
	w16(0x0022)

	w16(0x020B) // PE32+ magic
	buf.WriteByte(0)
	buf.WriteByte(0)
	w32(1) // SizeOfCode
	w32(0)
	w32(0)
	w32(textRVA) // AddressOfEntryPoint
	w32(textRVA) // BaseOfCode
	w64(imageBase)
	w32(0x1000) // SectionAlignment
	w32(0x200)  // FileAlignment
	w16(0)
	w16(0)
	w16(0)
	w16(0)
	w16(0)
	w16(0)
	w32(0)
	w32(0x2000) // SizeOfImage
	w32(headerLen)
	w32(0) // CheckSum
	w16(3) // Subsystem
	w16(0)
	w64(0x100000)
	w64(0x1000)
	w64(0x100000)
	w64(0x1000)
	w32(0)
	w32(0) // NumberOfRvaAndSizes = 0: no data directories

	name := make([]byte, 8)
	copy(name, ".text")
	buf.Write(name)
	w32(1)        // VirtualSize
	w32(textRVA)  // VirtualAddress
	w32(1)        // SizeOfRawData
	w32(headerLen) // PointerToRawData
	w32(0)
	w32(0)
	w16(0)
	w16(0)
	w32(0x60000020)

	if buf.Len() != headerLen {
		panic("buildMinimalPE64: header length drifted")
	}

	buf.WriteByte(0xF4) // HLT
	return buf.Bytes()
}

type fakeISO struct {
	files map[string][]byte
}

func (f *fakeISO) Stat(path string) (size int64, isDir bool, ok bool) {
	data, found := f.files[path]
	if !found {
		return 0, false, false
	}
	return int64(len(data)), false, true
}

func (f *fakeISO) ReadAt(path string, buf []byte, offset int64) (int, bool) {
	data, ok := f.files[path]
	if !ok || offset > int64(len(data)) {
		return 0, false
	}
	n := copy(buf, data[offset:])
	return n, true
}

type fakeMedia struct{ data []byte }

func (f *fakeMedia) Size() int64 { return int64(len(f.data)) }
func (f *fakeMedia) ReadAt(buf []byte, offset int64) (int, bool) {
	if offset > int64(len(f.data)) {
		return 0, false
	}
	n := copy(buf, f.data[offset:])
	return n, true
}

type fakeScreen struct{ out bytes.Buffer }

func (s *fakeScreen) WriteByte(b byte) { s.out.WriteByte(b) }

type fakeKeyboard struct{}

func (fakeKeyboard) PopKey() (uint16, uint16, bool) { return 0, 0, false }

func TestBootLoadsAndHaltsAtEntry(t *testing.T) {
	const imageBase = 0x0040_0000
	data := buildMinimalPE64(imageBase)

	m := NewMachine(64<<20, cpu.ModeLong, nil)
	medium := Medium{
		Files: &fakeISO{files: map[string][]byte{"/EFI/BOOT/GRUBX64.EFI": data}},
		Raw:   &fakeMedia{data: data},
	}

	path, err := m.Boot(medium, &fakeScreen{}, fakeKeyboard{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if path != "/EFI/BOOT/GRUBX64.EFI" {
		t.Fatalf("path = %q, want /EFI/BOOT/GRUBX64.EFI", path)
	}
	if m.CPU.Regs.RIP() != imageBase+0x1000 {
		t.Fatalf("RIP = %#x, want %#x", m.CPU.Regs.RIP(), imageBase+0x1000)
	}
	if m.CPU.Regs.Get64(cpu.RCX) == 0 {
		t.Fatalf("RCX (ImageHandle) was not set")
	}
	if m.CPU.Regs.Get64(cpu.RDX) == 0 {
		t.Fatalf("RDX (SystemTable) was not set")
	}

	m.Run(100)
	if !m.CPU.Halted {
		t.Fatalf("expected the guest's HLT to halt the machine")
	}
}

func TestBootReportsMissingImage(t *testing.T) {
	m := NewMachine(16<<20, cpu.ModeLong, nil)
	medium := Medium{Files: &fakeISO{files: map[string][]byte{}}, Raw: &fakeMedia{}}

	if _, err := m.Boot(medium, &fakeScreen{}, fakeKeyboard{}); err == nil {
		t.Fatalf("expected an error when no candidate image exists")
	}
}

func TestNewMachineFlatLongModeSegments(t *testing.T) {
	m := NewMachine(1<<20, cpu.ModeLong, nil)
	if !m.CPU.Seg.CS.LongMode || !m.CPU.Seg.CS.Present {
		t.Fatalf("CS was not installed as a flat long-mode code segment: %+v", m.CPU.Seg.CS)
	}
	if m.CPU.Seg.DS.Base != 0 || m.CPU.Seg.DS.Limit != 0xFFFFFFFF {
		t.Fatalf("DS was not installed flat: %+v", m.CPU.Seg.DS)
	}
}
