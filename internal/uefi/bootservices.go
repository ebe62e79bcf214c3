// bootservices.go - EFI_BOOT_SERVICES
//
// Implements the Boot Services surface a GRUB-class loader actually
// needs: AllocatePool/AllocatePages, CopyMem/SetMem, GetMemoryMap,
// LocateProtocol/LocateHandleBuffer/HandleProtocol/OpenProtocol,
// ExitBootServices, CalculateCrc32. Every other table slot a real
// firmware exposes is wired to a success stub so guest code that calls
// an unimplemented service (RaiseTPL, event/timer management, the
// LoadImage/StartImage family) observes a harmless no-op rather than a
// crash, since this loader's own boot path never depends on their
// actual side effects. The table itself follows the UEFI
// specification's fixed ordinal layout exactly, since GRUB-class callers address these
// functions by struct offset.
//
// Grounded on `machine_bus.go`'s single-struct-of-wired-
// peripherals idiom, and on the CRC-32 requirement using the standard
// library's hash/crc32 (IEEE polynomial, exactly what EFI_STATUS
// CalculateCrc32 specifies - no third-party package in the retrieval
// pack does anything but wrap this same table, so stdlib is the
// correct and only choice here).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import (
	"hash/crc32"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
)

const memDescriptorSize = 40 // EFI_MEMORY_DESCRIPTOR: Type,pad,PhysStart,VirtStart,Pages,Attribute

// RegisterBootServices installs EFI_BOOT_SERVICES' 44-function table
// (following the header) and returns the table's base address,
// suitable for writing into EFI_SYSTEM_TABLE.BootServices.
func (env *Environment) RegisterBootServices() uint64 {
	c := env.CPU
	user := c.CPL == 3
	successStub := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })

	allocatePool := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Uint32() // PoolType: every allocation pool is treated alike
		size := a.Uint64()
		bufOut := a.Ptr()
		addr := env.poolNext
		env.poolNext += (size + 7) &^ 7
		a.WritePtrOut(bufOut, addr)
		a.SetReturn(StatusSuccess)
	})
	freePool := successStub // a bump allocator never reclaims; freeing is always reported successful

	allocatePages := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Uint32() // AllocateType: every request is treated as AllocateAnyPages
		_ = a.Uint32() // MemoryType
		pages := a.Uint64()
		memOut := a.Ptr()
		addr := env.pagesNext
		env.pagesNext += pages * 4096
		a.WritePtrOut(memOut, addr)
		a.SetReturn(StatusSuccess)
	})
	freePages := successStub

	getMemoryMap := env.Trampolines.Register(func(a *ArgReader) {
		sizeOut := a.Ptr()
		mapOut := a.Ptr()
		keyOut := a.Ptr()
		descSizeOut := a.Ptr()
		descVerOut := a.Ptr()

		have := sizeRead(a, sizeOut, c)
		if have < memDescriptorSize {
			a.WriteUint64Out(sizeOut, memDescriptorSize)
			a.SetReturn(StatusBufferTooSmall)
			return
		}
		// One EfiConventionalMemory descriptor spanning all of guest RAM.
		c.Bus.WriteLinear32(mapOut, 7, user) // Type = EfiConventionalMemory
		c.Bus.WriteLinear64(mapOut+8, 0, user)
		c.Bus.WriteLinear64(mapOut+16, 0, user)
		c.Bus.WriteLinear64(mapOut+24, env.RAMSize/4096, user)
		c.Bus.WriteLinear64(mapOut+32, 0, user) // Attribute

		env.mapKey++
		a.WriteUint64Out(sizeOut, memDescriptorSize)
		a.WriteUint64Out(keyOut, env.mapKey)
		a.WriteUint64Out(descSizeOut, memDescriptorSize)
		a.WriteUint32Out(descVerOut, 1)
		a.SetReturn(StatusSuccess)
	})

	copyMem := env.Trampolines.Register(func(a *ArgReader) {
		dst := a.Ptr()
		src := a.Ptr()
		n := a.Uint64()
		buf := make([]byte, n)
		for i := uint64(0); i < n; i++ {
			v, _ := c.Bus.ReadLinear8(src+i, user)
			buf[i] = v
		}
		for i := uint64(0); i < n; i++ {
			c.Bus.WriteLinear8(dst+i, buf[i], user)
		}
	})
	setMem := env.Trampolines.Register(func(a *ArgReader) {
		dst := a.Ptr()
		n := a.Uint64()
		v := byte(a.Uint32())
		for i := uint64(0); i < n; i++ {
			c.Bus.WriteLinear8(dst+i, v, user)
		}
	})

	handleProtocol := env.Trampolines.Register(func(a *ArgReader) {
		h := Handle(a.Ptr())
		g := readGUID(c, a.Ptr())
		ifaceOut := a.Ptr()
		iface, ok := env.Handles.LookupProtocol(h, g)
		if !ok {
			a.SetReturn(StatusUnsupported)
			return
		}
		a.WritePtrOut(ifaceOut, iface)
		a.SetReturn(StatusSuccess)
	})

	openProtocol := env.Trampolines.Register(func(a *ArgReader) {
		h := Handle(a.Ptr())
		g := readGUID(c, a.Ptr())
		ifaceOut := a.Ptr()
		_ = a.Ptr()    // AgentHandle
		_ = a.Ptr()    // ControllerHandle
		_ = a.Uint32() // Attributes: every open is treated as BY_HANDLE_PROTOCOL
		iface, ok := env.Handles.LookupProtocol(h, g)
		if !ok {
			a.SetReturn(StatusUnsupported)
			return
		}
		a.WritePtrOut(ifaceOut, iface)
		a.SetReturn(StatusSuccess)
	})

	locateProtocol := env.Trampolines.Register(func(a *ArgReader) {
		g := readGUID(c, a.Ptr())
		_ = a.Ptr() // Registration: this loader never registers protocol-notify
		ifaceOut := a.Ptr()
		_, iface, ok := env.Handles.FindByProtocol(g)
		if !ok {
			a.SetReturn(StatusNotFound)
			return
		}
		a.WritePtrOut(ifaceOut, iface)
		a.SetReturn(StatusSuccess)
	})

	locateHandleBuffer := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Uint32() // SearchType: every search is treated as ByProtocol
		g := readGUID(c, a.Ptr())
		_ = a.Ptr() // SearchKey
		countOut := a.Ptr()
		bufOut := a.Ptr()
		handles := env.Handles.AllByProtocol(g)
		if len(handles) == 0 {
			a.WriteUint64Out(countOut, 0)
			a.SetReturn(StatusNotFound)
			return
		}
		ptrWidth := uint64(4)
		if c.Mode == cpu.ModeLong {
			ptrWidth = 8
		}
		arr := env.allocArena(uint64(len(handles)) * ptrWidth)
		for i, h := range handles {
			addr := arr + uint64(i)*ptrWidth
			if ptrWidth == 8 {
				c.Bus.WriteLinear64(addr, uint64(h), user)
			} else {
				c.Bus.WriteLinear32(addr, uint32(h), user)
			}
		}
		a.WriteUint64Out(countOut, uint64(len(handles)))
		a.WritePtrOut(bufOut, arr)
		a.SetReturn(StatusSuccess)
	})

	exitBootServices := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr()    // ImageHandle
		_ = a.Uint64() // MapKey: this loader's single static map never invalidates
		env.bootServicesExited = true
		a.SetReturn(StatusSuccess)
	})

	calculateCrc32 := env.Trampolines.Register(func(a *ArgReader) {
		addr := a.Ptr()
		n := a.Uint64()
		out := a.Ptr()
		buf := make([]byte, n)
		for i := uint64(0); i < n; i++ {
			v, _ := c.Bus.ReadLinear8(addr+i, user)
			buf[i] = v
		}
		a.WriteUint32Out(out, crc32.ChecksumIEEE(buf))
		a.SetReturn(StatusSuccess)
	})

	// EFI_BOOT_SERVICES function table, specification ordinal order.
	table := []uint64{
		successStub,        // 1  RaiseTPL
		successStub,        // 2  RestoreTPL
		allocatePages,       // 3
		freePages,           // 4
		getMemoryMap,        // 5
		allocatePool,        // 6
		freePool,            // 7
		successStub,         // 8  CreateEvent
		successStub,         // 9  SetTimer
		successStub,         // 10 WaitForEvent
		successStub,         // 11 SignalEvent
		successStub,         // 12 CloseEvent
		successStub,         // 13 CheckEvent
		successStub,         // 14 InstallProtocolInterface
		successStub,         // 15 ReinstallProtocolInterface
		successStub,         // 16 UninstallProtocolInterface
		handleProtocol,      // 17
		0,                   // 18 Reserved
		successStub,         // 19 RegisterProtocolNotify
		successStub,         // 20 LocateHandle
		successStub,         // 21 LocateDevicePath
		successStub,         // 22 InstallConfigurationTable
		successStub,         // 23 LoadImage
		successStub,         // 24 StartImage
		successStub,         // 25 Exit
		successStub,         // 26 UnloadImage
		exitBootServices,    // 27
		successStub,         // 28 GetNextMonotonicCount
		successStub,         // 29 Stall
		successStub,         // 30 SetWatchdogTimer
		successStub,         // 31 ConnectController
		successStub,         // 32 DisconnectController
		openProtocol,        // 33
		successStub,         // 34 CloseProtocol
		successStub,         // 35 OpenProtocolInformation
		successStub,         // 36 ProtocolsPerHandle
		locateHandleBuffer,  // 37
		locateProtocol,      // 38
		successStub,         // 39 InstallMultipleProtocolInterfaces
		successStub,         // 40 UninstallMultipleProtocolInterfaces
		calculateCrc32,      // 41
		copyMem,             // 42
		setMem,              // 43
		successStub,         // 44 CreateEventEx
	}
	return env.writeFunctionTable(table)
}

// readGUID reads a 16-byte EFI_GUID at addr.
func readGUID(c *cpu.CPU, addr uint64) GUID {
	var g GUID
	for i := 0; i < 16; i++ {
		g[i], _ = c.Bus.ReadLinear8(addr+uint64(i), c.CPL == 3)
	}
	return g
}
