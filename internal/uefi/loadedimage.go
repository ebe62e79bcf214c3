// loadedimage.go - Loaded Image protocol and a minimal device path
//
// Carries the loaded image's base/size and a device path identifying
// the EFI file it came from. Grounded on `media_loader.go`'s
// idiom of a small descriptor struct carrying the
// base address and size of whatever was just loaded into guest
// memory, extended here with the one EFI_DEVICE_PATH_PROTOCOL node the
// boot path actually needs - a single MEDIA_FILEPATH node followed by
// an End-of-path node.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

const (
	devPathTypeMedia    = 0x04
	devPathSubFilePath  = 0x04
	devPathTypeEnd      = 0x7F
	devPathSubEndEntire = 0xFF
)

// buildFilePathDevicePath writes a device path made of one
// MEDIA_FILEPATH node carrying path (UTF-16LE, NUL-terminated)
// followed by an End-of-entire-path node, and returns its base
// address.
func (env *Environment) buildFilePathDevicePath(path string) uint64 {
	nameUnits := uint64(len(path) + 1)
	nodeLen := 4 + nameUnits*2
	total := nodeLen + 4
	base := env.writeStruct(total)
	user := env.CPU.CPL == 3

	env.CPU.Bus.WriteLinear8(base, devPathTypeMedia, user)
	env.CPU.Bus.WriteLinear8(base+1, devPathSubFilePath, user)
	env.CPU.Bus.WriteLinear16(base+2, uint16(nodeLen), user)
	for i, ch := range path {
		env.CPU.Bus.WriteLinear16(base+4+uint64(i)*2, uint16(ch), user)
	}
	env.CPU.Bus.WriteLinear16(base+4+uint64(len(path))*2, 0, user)

	end := base + nodeLen
	env.CPU.Bus.WriteLinear8(end, devPathTypeEnd, user)
	env.CPU.Bus.WriteLinear8(end+1, devPathSubEndEntire, user)
	env.CPU.Bus.WriteLinear16(end+2, 4, user)

	return base
}

// LoadedImage holds the fields EFI_LOADED_IMAGE_PROTOCOL exposes for
// the image this boot path just loaded.
type LoadedImage struct {
	DeviceHandle Handle
	FilePath     string // e.g. "\\EFI\\BOOT\\BOOTX64.EFI"
	ImageBase    uint64
	ImageSize    uint64
}

// RegisterLoadedImage installs EFI_LOADED_IMAGE_PROTOCOL's data struct
// (its one function slot, Unload, which the boot path never calls,
// resolves to a harmless stub) and returns its interface pointer.
//
// Field layout follows the specification: Revision(u32)+pad,
// ParentHandle(ptr), SystemTable(ptr), DeviceHandle(ptr),
// FilePath(ptr), Reserved(ptr), LoadOptionsSize(u32)+pad,
// LoadOptions(ptr), ImageBase(ptr), ImageSize(u64), ImageCodeType(u32),
// ImageDataType(u32), Unload(ptr).
func (env *Environment) RegisterLoadedImage(li *LoadedImage, systemTable uint64) uint64 {
	ptrWidth := uint64(4)
	if env.CPU.Mode == cpu.ModeLong {
		ptrWidth = 8
	}
	devPath := env.buildFilePathDevicePath(li.FilePath)
	unload := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })

	structSize := 4 + ptrWidth /*pad*/ + ptrWidth*4 /*Parent,SysTable,DeviceHandle,FilePath*/ + ptrWidth /*Reserved*/ +
		4 + ptrWidth /*LoadOptionsSize+pad,LoadOptions*/ + ptrWidth /*ImageBase*/ + 8 /*ImageSize*/ + 4 + 4 /*CodeType,DataType*/ + ptrWidth
	base := env.writeStruct(structSize)
	user := env.CPU.CPL == 3

	writePtr := func(addr, v uint64) {
		if ptrWidth == 8 {
			env.CPU.Bus.WriteLinear64(addr, v, user)
		} else {
			env.CPU.Bus.WriteLinear32(addr, uint32(v), user)
		}
	}

	off := base
	env.CPU.Bus.WriteLinear32(off, 0x1000, user) // Revision
	off += 4 + ptrWidth - 4                       // align to pointer size
	writePtr(off, 0) // ParentHandle: none, this is the first and only image
	off += ptrWidth
	writePtr(off, systemTable) // SystemTable
	off += ptrWidth
	writePtr(off, uint64(li.DeviceHandle))
	off += ptrWidth
	writePtr(off, devPath)
	off += ptrWidth
	writePtr(off, 0) // Reserved
	off += ptrWidth
	env.CPU.Bus.WriteLinear32(off, 0, user) // LoadOptionsSize
	off += 4 + ptrWidth - 4
	writePtr(off, 0) // LoadOptions
	off += ptrWidth
	writePtr(off, li.ImageBase)
	off += ptrWidth
	env.CPU.Bus.WriteLinear64(off, li.ImageSize, user)
	off += 8
	env.CPU.Bus.WriteLinear32(off, 1, user) // ImageCodeType = EfiLoaderCode
	off += 4
	env.CPU.Bus.WriteLinear32(off, 2, user) // ImageDataType = EfiLoaderData
	off += 4
	writePtr(off, unload)

	return base
}
