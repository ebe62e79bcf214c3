// blockio.go - Block I/O and Disk I/O
//
// Fixed at the ISO9660 logical block size (2048 bytes); Read
// translates LBA+count or byte-offset+count to ISO sector reads via
// the injected reader. Grounded on `file_io.go`'s
// block-device read idiom (fixed sector size, bounds check against a
// reported device capacity) generalized to UEFI's two block-access
// protocols.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

const isoBlockSize = 2048

// MediaReader is the external collaborator giving raw, whole-medium
// byte access to the ISO9660 image (as opposed to ISO9660Reader's
// path-resolved file access).
type MediaReader interface {
	// Size reports the medium's total size in bytes.
	Size() int64
	// ReadAt fills buf starting at byte offset, returning the number
	// of bytes copied.
	ReadAt(buf []byte, offset int64) (n int, ok bool)
}

// BlockIO implements EFI_BLOCK_IO_PROTOCOL over a MediaReader, fixed
// at the ISO9660 logical block size.
type BlockIO struct {
	Media MediaReader
}

func (b *BlockIO) lastBlock() uint64 {
	size := b.Media.Size()
	if size < isoBlockSize {
		return 0
	}
	return uint64(size)/isoBlockSize - 1
}

func (b *BlockIO) readBlocks(c *cpu.CPU, lba uint64, bufSize uint32, bufOut uint64) Status {
	if bufSize%isoBlockSize != 0 {
		return StatusInvalidParameter
	}
	if lba > b.lastBlock() {
		return StatusInvalidParameter
	}
	buf := make([]byte, bufSize)
	n, _ := b.Media.ReadAt(buf, int64(lba)*isoBlockSize)
	for i := 0; i < n; i++ {
		c.Bus.WriteLinear8(bufOut+uint64(i), buf[i], c.CPL == 3)
	}
	return StatusSuccess
}

// RegisterBlockIO installs EFI_BLOCK_IO_PROTOCOL's Media struct and
// function table (Revision, Media*, Reset, ReadBlocks, WriteBlocks,
// FlushBlocks) and returns the interface pointer.
func (env *Environment) RegisterBlockIO(b *BlockIO) uint64 {
	// EFI_BLOCK_IO_MEDIA: MediaId(u32), RemovableMedia(bool),
	// MediaPresent(bool), LogicalPartition(bool), ReadOnly(bool),
	// WriteCaching(bool), pad, BlockSize(u32), IoAlign(u32), pad,
	// LastBlock(u64), ... (trailing fields beyond LastBlock are left
	// zeroed; nothing in this boot path reads them).
	mediaStruct := env.writeStruct(32)
	user := env.CPU.CPL == 3
	env.CPU.Bus.WriteLinear32(mediaStruct, 0, user)       // MediaId
	env.CPU.Bus.WriteLinear8(mediaStruct+4, 0, user)      // RemovableMedia = false
	env.CPU.Bus.WriteLinear8(mediaStruct+5, 1, user)      // MediaPresent = true
	env.CPU.Bus.WriteLinear8(mediaStruct+6, 0, user)      // LogicalPartition = false
	env.CPU.Bus.WriteLinear8(mediaStruct+7, 1, user)      // ReadOnly = true
	env.CPU.Bus.WriteLinear8(mediaStruct+8, 0, user)      // WriteCaching = false
	env.CPU.Bus.WriteLinear32(mediaStruct+12, isoBlockSize, user)
	env.CPU.Bus.WriteLinear32(mediaStruct+16, 4, user) // IoAlign
	env.CPU.Bus.WriteLinear64(mediaStruct+24, b.lastBlock(), user)

	resetFn := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })
	readBlocksFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		_ = a.Uint32() // MediaId: this medium never changes, ignored
		lba := a.Uint64()
		size := a.Uint32()
		buf := a.Ptr()
		a.SetReturn(b.readBlocks(env.CPU, lba, size, buf))
	})
	writeBlocksFn := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusUnsupported) })
	flushFn := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })

	// EFI_BLOCK_IO_PROTOCOL field order: Revision, Media(ptr), Reset,
	// ReadBlocks, WriteBlocks, FlushBlocks.
	table := []uint64{0, mediaStruct, resetFn, readBlocksFn, writeBlocksFn, flushFn}
	return env.writeFunctionTable(table)
}

// DiskIO implements EFI_DISK_IO_PROTOCOL's byte-granular ReadDisk over
// the same MediaReader.
type DiskIO struct {
	Media MediaReader
}

func (d *DiskIO) readDisk(c *cpu.CPU, offset int64, bufSize uint32, bufOut uint64) Status {
	buf := make([]byte, bufSize)
	n, _ := d.Media.ReadAt(buf, offset)
	for i := 0; i < n; i++ {
		c.Bus.WriteLinear8(bufOut+uint64(i), buf[i], c.CPL == 3)
	}
	return StatusSuccess
}

// RegisterDiskIO installs EFI_DISK_IO_PROTOCOL's function table
// (Revision, ReadDisk, WriteDisk).
func (env *Environment) RegisterDiskIO(d *DiskIO) uint64 {
	readDiskFn := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		_ = a.Uint32() // MediaId
		offset := int64(a.Uint64())
		size := a.Uint32()
		buf := a.Ptr()
		a.SetReturn(d.readDisk(env.CPU, offset, size, buf))
	})
	writeDiskFn := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusUnsupported) })
	table := []uint64{0, readDiskFn, writeDiskFn}
	return env.writeFunctionTable(table)
}
