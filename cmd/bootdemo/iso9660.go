// iso9660.go - a minimal read-only ISO9660 directory walker
//
// This is demo wiring, not part of the library's specified contract:
// internal/uefi treats the ISO9660 reader as an external collaborator
// it only depends on through a small interface. Grounded on the
// teacher's file_io.go read-only-device idiom (open once, seek/read
// against a byte-addressable backing store) generalized from a flat
// file to a directory tree of them.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	isoSectorSize  = 2048
	isoPVDLBA      = 16
	isoDirRecMinSz = 34
)

// dirEntry is one parsed ISO9660 directory record.
type dirEntry struct {
	name     string
	extentLBA uint32
	size      uint32
	isDir     bool
}

// Image opens an ISO9660 image file and resolves EFI-style paths
// against its directory tree. It implements uefi.ISO9660Reader
// (path-resolved access) directly; raw byte-offset access over the
// same backing file is exposed as RawReadAt and adapted to
// uefi.MediaReader by mediaView.
type Image struct {
	f        *os.File
	size     int64
	rootLBA  uint32
	rootSize uint32
}

// OpenImage opens path as an ISO9660 medium and reads its Primary
// Volume Descriptor to locate the root directory.
func OpenImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootdemo: opening %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bootdemo: stat %s: %w", path, err)
	}

	pvd := make([]byte, isoSectorSize)
	if _, err := f.ReadAt(pvd, isoPVDLBA*isoSectorSize); err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("bootdemo: reading primary volume descriptor: %w", err)
	}
	if pvd[0] != 1 || string(pvd[1:6]) != "CD001" {
		f.Close()
		return nil, fmt.Errorf("bootdemo: %s is not an ISO9660 image (bad PVD signature)", path)
	}

	root := pvd[156 : 156+34]
	rootLBA := le32(root[2:10])
	rootSize := le32(root[10:18])

	return &Image{f: f, size: fi.Size(), rootLBA: rootLBA, rootSize: rootSize}, nil
}

// Close releases the backing file.
func (img *Image) Close() error { return img.f.Close() }

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// readDir parses every directory record in the extent starting at
// lba spanning size bytes.
func (img *Image) readDir(lba, size uint32) ([]dirEntry, error) {
	buf := make([]byte, size)
	if _, err := img.f.ReadAt(buf, int64(lba)*isoSectorSize); err != nil && err != io.EOF {
		return nil, err
	}

	var entries []dirEntry
	for off := 0; off+1 <= len(buf); {
		recLen := int(buf[off])
		if recLen == 0 {
			// Zero-length records pad out the rest of the current
			// sector; resume at the next sector boundary.
			off = (off/isoSectorSize + 1) * isoSectorSize
			continue
		}
		if off+recLen > len(buf) {
			break
		}
		rec := buf[off : off+recLen]
		extentLBA := le32(rec[2:10])
		dataLen := le32(rec[10:18])
		flags := rec[25]
		nameLen := int(rec[32])
		name := string(rec[33 : 33+nameLen])

		if !(nameLen == 1 && (name[0] == 0 || name[0] == 1)) {
			entries = append(entries, dirEntry{
				name:      stripVersion(name),
				extentLBA: extentLBA,
				size:      dataLen,
				isDir:     flags&0x02 != 0,
			})
		}
		off += recLen
	}
	return entries, nil
}

// stripVersion drops ISO9660's trailing ";1" version suffix and any
// bare trailing dot left on extensionless names.
func stripVersion(name string) string {
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(name, ".")
}

// resolve walks path (forward-slash separated, case-insensitive)
// from the root directory.
func (img *Image) resolve(path string) (dirEntry, bool) {
	lba, size := img.rootLBA, img.rootSize
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return dirEntry{extentLBA: img.rootLBA, size: img.rootSize, isDir: true}, true
	}

	var found dirEntry
	for i, part := range parts {
		entries, err := img.readDir(lba, size)
		if err != nil {
			return dirEntry{}, false
		}
		var next dirEntry
		ok := false
		for _, e := range entries {
			if strings.EqualFold(e.name, part) {
				next, ok = e, true
				break
			}
		}
		if !ok {
			return dirEntry{}, false
		}
		found = next
		lba, size = next.extentLBA, next.size
		if i < len(parts)-1 && !next.isDir {
			return dirEntry{}, false
		}
	}
	return found, true
}

// Stat implements uefi.ISO9660Reader.
func (img *Image) Stat(path string) (size int64, isDir bool, ok bool) {
	e, found := img.resolve(path)
	if !found {
		return 0, false, false
	}
	return int64(e.size), e.isDir, true
}

// ReadAt implements uefi.ISO9660Reader: it re-resolves path (directory
// records are small and the image is read-only, so there is no
// benefit to caching an open-file table for a single-boot demo) and
// reads from its extent.
func (img *Image) ReadAt(path string, buf []byte, offset int64) (int, bool) {
	e, found := img.resolve(path)
	if !found || e.isDir {
		return 0, false
	}
	base := int64(e.extentLBA) * isoSectorSize
	if offset >= int64(e.size) {
		return 0, true
	}
	remaining := int64(e.size) - offset
	want := int64(len(buf))
	if want > remaining {
		want = remaining
	}
	n, err := img.f.ReadAt(buf[:want], base+offset)
	if err != nil && err != io.EOF {
		return n, false
	}
	return n, true
}

// Size implements uefi.MediaReader.
func (img *Image) Size() int64 { return img.size }

// RawReadAt is the raw whole-medium read behind uefi.MediaReader; Go
// requires a distinct method name since MediaReader.ReadAt and
// ISO9660Reader.ReadAt differ only in their leading path argument, so
// the medium-level access is exposed as RawReadAt and wrapped by
// mediaView below.
func (img *Image) RawReadAt(buf []byte, offset int64) (int, bool) {
	n, err := img.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, false
	}
	return n, true
}

// mediaView adapts Image's RawReadAt to uefi.MediaReader, since Image
// itself already exposes a path-taking ReadAt for uefi.ISO9660Reader
// and Go does not allow two methods of the same name with different
// signatures on one type.
type mediaView struct{ img *Image }

func (m mediaView) Size() int64                              { return m.img.Size() }
func (m mediaView) ReadAt(buf []byte, offset int64) (int, bool) { return m.img.RawReadAt(buf, offset) }
