// fs.go - Simple File System / File Protocol
//
// Open resolves paths against the ISO9660 reader using Windows-style
// separators, normalized by collapsing `.` and `..`. Read returns at
// most the requested byte count; GetInfo fills an EFI_FILE_INFO with
// size, attributes, and ASCII filename re-encoded as UTF-16. The
// ISO9660 reader itself is an external collaborator, so it is defined here
// only as the small interface a caller injects, in the same style as
// ScreenSink/KeyboardSource; grounded on `file_io.go`'s
// read-only-device idiom (open/read/close against a byte-addressable
// backing store) generalized from a flat-file device to a hierarchical
// one.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import (
	"path"
	"strings"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
)

// ISO9660Reader is the external collaborator that actually resolves
// and reads files from an ISO9660 medium.
type ISO9660Reader interface {
	// Stat resolves a normalized, forward-slash path and reports its
	// size and whether it names a directory. ok is false when the
	// path does not exist.
	Stat(path string) (size int64, isDir bool, ok bool)
	// ReadAt fills buf from path starting at offset, returning the
	// number of bytes copied (fewer than len(buf) at end-of-file).
	ReadAt(path string, buf []byte, offset int64) (n int, ok bool)
}

// normalizeUEFIPath converts UEFI's backslash-separated, possibly
// relative path into the forward-slash, dot-collapsed form an
// ISO9660Reader expects.
func normalizeUEFIPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// SimpleFileSystem implements EFI_SIMPLE_FILE_SYSTEM_PROTOCOL's
// OpenVolume over an injected ISO9660Reader.
type SimpleFileSystem struct {
	Reader ISO9660Reader
}

type openFile struct {
	fs     *SimpleFileSystem
	path   string
	offset int64
	size   int64
	isDir  bool
}

// RegisterSimpleFileSystem installs EFI_SIMPLE_FILE_SYSTEM_PROTOCOL's
// function table (Revision field left zero, OpenVolume opens "/").
func (env *Environment) RegisterSimpleFileSystem(fs *SimpleFileSystem) uint64 {
	openVolume := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		rootOut := a.Ptr()
		size, isDir, ok := fs.Reader.Stat("/")
		if !ok {
			isDir = true
		}
		of := &openFile{fs: fs, path: "/", size: size, isDir: isDir}
		a.WritePtrOut(rootOut, env.registerFileProtocol(of))
		a.SetReturn(StatusSuccess)
	})
	table := []uint64{0, openVolume}
	return env.writeFunctionTable(table)
}

// registerFileProtocol installs one EFI_FILE_PROTOCOL instance bound
// to of and returns its interface pointer. Each Open() call gets a
// fresh instance since each tracks its own read offset.
func (env *Environment) registerFileProtocol(of *openFile) uint64 {
	openFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		newOut := a.Ptr()
		nameAddr := a.Ptr()
		_ = a.Uint64() // OpenMode (read-only medium: ignored)
		_ = a.Uint64() // Attributes

		name := readUTF16String(env.CPU, nameAddr)
		childPath := normalizeUEFIPath(of.path + "/" + name)
		size, isDir, ok := of.fs.Reader.Stat(childPath)
		if !ok {
			a.SetReturn(StatusNotFound)
			return
		}
		child := &openFile{fs: of.fs, path: childPath, size: size, isDir: isDir}
		a.WritePtrOut(newOut, env.registerFileProtocol(child))
		a.SetReturn(StatusSuccess)
	})
	closeFn := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })
	readFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		sizeOut := a.Ptr()
		bufOut := a.Ptr()
		want := uint32(sizeRead(a, sizeOut, env.CPU))
		buf := make([]byte, want)
		n, _ := of.fs.Reader.ReadAt(of.path, buf, of.offset)
		for i := 0; i < n; i++ {
			env.CPU.Bus.WriteLinear8(bufOut+uint64(i), buf[i], env.CPU.CPL == 3)
		}
		of.offset += int64(n)
		a.WriteUint32Out(sizeOut, uint32(n))
		a.SetReturn(StatusSuccess)
	})
	setPositionFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr()
		pos := a.Uint64()
		if pos == 0xFFFFFFFFFFFFFFFF { // EOF-seek sentinel
			of.offset = of.size
		} else {
			of.offset = int64(pos)
		}
		a.SetReturn(StatusSuccess)
	})
	getPositionFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr()
		posOut := a.Ptr()
		a.WriteUint64Out(posOut, uint64(of.offset))
		a.SetReturn(StatusSuccess)
	})
	getInfoFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		_ = a.Ptr() // InformationType GUID pointer (only EFI_FILE_INFO supported)
		bufSizeOut := a.Ptr()
		bufOut := a.Ptr()
		name := path.Base(of.path)
		need := uint64(80 + 2*(len(name)+1))
		have := sizeRead(a, bufSizeOut, env.CPU)
		if have < need {
			a.WriteUint64Out(bufSizeOut, need)
			a.SetReturn(StatusBufferTooSmall)
			return
		}
		writeFileInfo(env.CPU, bufOut, of.size, of.isDir, name)
		a.WriteUint64Out(bufSizeOut, need)
		a.SetReturn(StatusSuccess)
	})
	flushFn := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })

	// EFI_FILE_PROTOCOL field order: Revision, Open, Close, Delete,
	// Read, Write, GetPosition, SetPosition, GetInfo, SetInfo, Flush.
	table := []uint64{0, openFn, closeFn, closeFn, readFn, closeFn, getPositionFn, setPositionFn, getInfoFn, closeFn, flushFn}
	return env.writeFunctionTable(table)
}

// sizeRead reads back the BufferSize IN/OUT argument's current value;
// ArgReader already advanced past it when the caller obtained its
// address, so this re-reads the value at that address directly.
func sizeRead(a *ArgReader, addr uint64, c *cpu.CPU) uint64 {
	if c.Mode == cpu.ModeLong {
		v, _ := c.Bus.ReadLinear64(addr, c.CPL == 3)
		return v
	}
	v, _ := c.Bus.ReadLinear32(addr, c.CPL == 3)
	return uint64(v)
}

// readUTF16String reads a NUL-terminated UTF-16LE string and returns
// it re-encoded as ASCII (non-ASCII code points become '?'), which is
// sufficient for the 8.3-ish uppercase ISO9660 names this loader deals
// with.
func readUTF16String(c *cpu.CPU, addr uint64) string {
	var sb strings.Builder
	for i := uint64(0); i < 4096; i += 2 {
		unit, f := c.Bus.ReadLinear16(addr+i, c.CPL == 3)
		if f != nil || unit == 0 {
			break
		}
		if unit < 0x80 {
			sb.WriteByte(byte(unit))
		} else {
			sb.WriteByte('?')
		}
	}
	return sb.String()
}

// writeFileInfo fills an EFI_FILE_INFO at addr: Size, FileSize,
// PhysicalSize (UINT64 x3), CreateTime/LastAccessTime/ModificationTime
// (EFI_TIME x3, 16 bytes each, left zeroed), Attribute (UINT64), then
// the filename as a NUL-terminated CHAR16 array.
func writeFileInfo(c *cpu.CPU, addr uint64, size int64, isDir bool, name string) {
	user := c.CPL == 3
	nameLen := uint64(len(name)+1) * 2
	structSize := 80 + nameLen
	c.Bus.WriteLinear64(addr, structSize, user)
	c.Bus.WriteLinear64(addr+8, uint64(size), user)
	c.Bus.WriteLinear64(addr+16, uint64(size), user)
	// addr+24..+71: three zeroed EFI_TIME structs.
	var attr uint64
	if isDir {
		attr = 0x10 // EFI_FILE_DIRECTORY
	} else {
		attr = 0x01 // EFI_FILE_READ_ONLY: this medium is never writable
	}
	c.Bus.WriteLinear64(addr+72, attr, user)
	for i, ch := range name {
		c.Bus.WriteLinear16(addr+80+uint64(i)*2, uint16(ch), user)
	}
	c.Bus.WriteLinear16(addr+80+uint64(len(name))*2, 0, user)
}
