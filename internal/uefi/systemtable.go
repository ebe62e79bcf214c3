// systemtable.go - assembling EFI_SYSTEM_TABLE
//
// Ties every protocol and service table this package builds into the
// one structure a UEFI application's entry point receives, per the
// specification's fixed EFI_SYSTEM_TABLE layout. Grounded on the same
// `machine_bus.go` wiring idiom as environment.go, one level up: where
// Environment wires individual protocol implementations together,
// Assemble wires their already-built interface pointers into the
// table format the guest's own entry point expects.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// Assemble builds the console handles, Boot/Runtime Services tables,
// and EFI_SYSTEM_TABLE itself from the already-constructed
// TextOutput/TextInput on env, and returns (imageHandle,
// systemTableAddr) - the two values a UEFI entry point expects in its
// first two parameters.
func (env *Environment) Assemble() (imageHandle Handle, systemTableAddr uint64) {
	c := env.CPU
	user := c.CPL == 3
	ptrWidth := uint64(4)
	if c.Mode == cpu.ModeLong {
		ptrWidth = 8
	}
	writePtr := func(addr, v uint64) {
		if ptrWidth == 8 {
			c.Bus.WriteLinear64(addr, v, user)
		} else {
			c.Bus.WriteLinear32(addr, uint32(v), user)
		}
	}

	conOutHandle := env.Handles.NewHandle()
	conInHandle := env.Handles.NewHandle()
	conOut := env.RegisterSimpleTextOutput(env.TextOutput)
	conIn := env.RegisterSimpleTextInput(env.TextInput)
	env.Handles.InstallProtocol(conOutHandle, GUIDSimpleTextOutput, conOut)
	env.Handles.InstallProtocol(conInHandle, GUIDSimpleTextInput, conIn)

	bs := env.RegisterBootServices()
	rs := env.RegisterRuntimeServices()

	// EFI_TABLE_HEADER: Signature(u64) Revision(u32) HeaderSize(u32)
	// CRC32(u32) Reserved(u32).
	headerSize := uint64(24)
	fixedFields := ptrWidth /*FirmwareVendor*/ + 8 /*FirmwareRevision+pad, rounded to 8*/ +
		ptrWidth*2 /*ConsoleInHandle,ConIn*/ + ptrWidth*2 /*ConsoleOutHandle,ConOut*/ +
		ptrWidth*2 /*StdErrHandle,StdErr*/ + ptrWidth*2 /*RuntimeServices,BootServices*/ +
		8 /*NumberOfTableEntries*/ + ptrWidth /*ConfigurationTable*/
	total := headerSize + fixedFields
	base := env.writeStruct(total)

	c.Bus.WriteLinear64(base, 0x5453595320494249, user) // "IBI SYST" signature
	c.Bus.WriteLinear32(base+8, 0x0002_0046, user)       // Revision 2.70
	c.Bus.WriteLinear32(base+12, uint32(total), user)
	c.Bus.WriteLinear32(base+16, 0, user) // CRC32 left unset; this loader never validates it
	c.Bus.WriteLinear32(base+20, 0, user)

	off := base + headerSize
	writePtr(off, 0) // FirmwareVendor: unset
	off += ptrWidth
	c.Bus.WriteLinear64(off, 0, user) // FirmwareRevision+pad
	off += 8
	writePtr(off, uint64(conInHandle))
	off += ptrWidth
	writePtr(off, conIn)
	off += ptrWidth
	writePtr(off, uint64(conOutHandle))
	off += ptrWidth
	writePtr(off, conOut)
	off += ptrWidth
	writePtr(off, uint64(conOutHandle)) // StandardErrorHandle shares the console
	off += ptrWidth
	writePtr(off, conOut) // StdErr shares ConOut
	off += ptrWidth
	writePtr(off, rs)
	off += ptrWidth
	writePtr(off, bs)
	off += ptrWidth
	c.Bus.WriteLinear64(off, 0, user) // NumberOfTableEntries: no vendor configuration tables
	off += 8
	writePtr(off, 0) // ConfigurationTable

	img := env.Handles.NewHandle()
	return img, base
}
