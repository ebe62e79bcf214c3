package main

import (
	"os"
	"testing"
)

// buildDirRecord encodes one ISO9660 directory record.
func buildDirRecord(name string, extentLBA, size uint32, isDir bool) []byte {
	nameLen := len(name)
	recLen := 33 + nameLen
	if recLen%2 != 0 {
		recLen++
	}

	rec := make([]byte, recLen)
	rec[0] = byte(recLen)
	putLEBE32(rec[2:10], extentLBA)
	putLEBE32(rec[10:18], size)
	flags := byte(0)
	if isDir {
		flags = 0x02
	}
	rec[25] = flags
	rec[32] = byte(nameLen)
	copy(rec[33:], name)
	return rec
}

func putLEBE32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	b[4], b[5], b[6], b[7] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

// buildTestISO assembles a minimal ISO9660 image:
//
//	/EFI/BOOT/GRUBX64.EFI
//
// sector 16: PVD, sector 18: root dir, sector 19: EFI dir,
// sector 20: BOOT dir, sector 21: file contents.
func buildTestISO(t *testing.T, fileContents []byte) string {
	t.Helper()
	const sector = isoSectorSize

	data := make([]byte, 22*sector+len(fileContents))

	// Primary Volume Descriptor.
	pvd := data[16*sector : 17*sector]
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	root := pvd[156 : 156+34]
	root[0] = 34
	putLEBE32(root[2:10], 18)
	putLEBE32(root[10:18], sector)
	root[25] = 0x02
	root[32] = 1 // name length 1, identifier byte 0x00 (implicitly zero)

	// Root directory extent: "." "..", then "EFI".
	rootDir := data[18*sector : 18*sector+sector]
	off := 0
	off += copy(rootDir[off:], buildDirRecord("\x00", 18, sector, true))
	off += copy(rootDir[off:], buildDirRecord("\x01", 18, sector, true))
	off += copy(rootDir[off:], buildDirRecord("EFI", 19, sector, true))

	// EFI directory extent: "." "..", then "BOOT".
	efiDir := data[19*sector : 19*sector+sector]
	off = 0
	off += copy(efiDir[off:], buildDirRecord("\x00", 19, sector, true))
	off += copy(efiDir[off:], buildDirRecord("\x01", 18, sector, true))
	off += copy(efiDir[off:], buildDirRecord("BOOT", 20, sector, true))

	// BOOT directory extent: "." "..", then the loader file.
	bootDir := data[20*sector : 20*sector+sector]
	off = 0
	off += copy(bootDir[off:], buildDirRecord("\x00", 20, sector, true))
	off += copy(bootDir[off:], buildDirRecord("\x01", 19, sector, true))
	off += copy(bootDir[off:], buildDirRecord("GRUBX64.EFI;1", 21, uint32(len(fileContents)), false))

	copy(data[21*sector:], fileContents)

	f, err := os.CreateTemp("", "bootdemo-iso-*.iso")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("writing test image: %v", err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })
	return path
}

func TestOpenImageResolvesNestedPath(t *testing.T) {
	contents := []byte("loader bytes")
	path := buildTestISO(t, contents)

	img, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer img.Close()

	size, isDir, ok := img.Stat("/EFI/BOOT/GRUBX64.EFI")
	if !ok {
		t.Fatalf("Stat did not find /EFI/BOOT/GRUBX64.EFI")
	}
	if isDir {
		t.Fatalf("GRUBX64.EFI reported as a directory")
	}
	if size != int64(len(contents)) {
		t.Fatalf("size = %d, want %d", size, len(contents))
	}

	buf := make([]byte, len(contents))
	n, ok := img.ReadAt("/EFI/BOOT/GRUBX64.EFI", buf, 0)
	if !ok || n != len(contents) {
		t.Fatalf("ReadAt = (%d, %v)", n, ok)
	}
	if string(buf) != string(contents) {
		t.Fatalf("ReadAt contents = %q, want %q", buf, contents)
	}
}

func TestOpenImageCaseInsensitiveAndMissing(t *testing.T) {
	path := buildTestISO(t, []byte("x"))
	img, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer img.Close()

	if _, _, ok := img.Stat("/efi/boot/grubx64.efi"); !ok {
		t.Fatalf("Stat should resolve paths case-insensitively")
	}
	if _, _, ok := img.Stat("/EFI/BOOT/BOOTX64.EFI"); ok {
		t.Fatalf("Stat found a file that does not exist on the image")
	}
}

func TestMediaViewReportsWholeImageSize(t *testing.T) {
	contents := []byte("x")
	path := buildTestISO(t, contents)
	img, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer img.Close()

	mv := mediaView{img}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("os.Stat: %v", err)
	}
	if mv.Size() != fi.Size() {
		t.Fatalf("mediaView.Size() = %d, want %d", mv.Size(), fi.Size())
	}

	buf := make([]byte, isoSectorSize)
	n, ok := mv.ReadAt(buf, 16*isoSectorSize)
	if !ok || n != isoSectorSize {
		t.Fatalf("mediaView.ReadAt = (%d, %v)", n, ok)
	}
	if string(buf[1:6]) != "CD001" {
		t.Fatalf("mediaView.ReadAt did not return the PVD sector")
	}
}
