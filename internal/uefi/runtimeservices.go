// runtimeservices.go - EFI_RUNTIME_SERVICES
//
// Implements GetTime (host time as EFI_TIME), SetVirtualAddressMap
// (no-op success), and reports every other Runtime Services call
// unsupported (0x8000000000000003). Grounded on the same stub-table idiom as
// bootservices.go; the host wall-clock read is the one place this
// package reaches past the emulated machine into the real world,
// mirrored on `debug_interface.go`'s pattern of a thin
// passthrough to a host facility behind a narrow method.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "time"

// RegisterRuntimeServices installs EFI_RUNTIME_SERVICES' function
// table (following its header) in specification ordinal order and
// returns the table's base address.
func (env *Environment) RegisterRuntimeServices() uint64 {
	c := env.CPU
	user := c.CPL == 3

	unsupportedStub := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusUnsupported) })
	successStub := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })

	getTime := env.Trampolines.Register(func(a *ArgReader) {
		timeOut := a.Ptr()
		_ = a.Ptr() // Capabilities: left unreported, no caller in this boot path consults it
		now := time.Now().UTC()
		// EFI_TIME: Year(u16) Month(u8) Day(u8) Hour(u8) Minute(u8)
		// Second(u8) Pad1(u8) Nanosecond(u32) TimeZone(i16) Daylight(u8)
		// Pad2(u8).
		c.Bus.WriteLinear16(timeOut, uint16(now.Year()), user)
		c.Bus.WriteLinear8(timeOut+2, byte(now.Month()), user)
		c.Bus.WriteLinear8(timeOut+3, byte(now.Day()), user)
		c.Bus.WriteLinear8(timeOut+4, byte(now.Hour()), user)
		c.Bus.WriteLinear8(timeOut+5, byte(now.Minute()), user)
		c.Bus.WriteLinear8(timeOut+6, byte(now.Second()), user)
		c.Bus.WriteLinear8(timeOut+7, 0, user)
		c.Bus.WriteLinear32(timeOut+8, uint32(now.Nanosecond()), user)
		c.Bus.WriteLinear16(timeOut+12, 2047, user) // TimeZone = EFI_UNSPECIFIED_TIMEZONE
		c.Bus.WriteLinear8(timeOut+14, 0, user)
		c.Bus.WriteLinear8(timeOut+15, 0, user)
		a.SetReturn(StatusSuccess)
	})

	// EFI_RUNTIME_SERVICES function table, specification ordinal order:
	// GetTime, SetTime, GetWakeupTime, SetWakeupTime,
	// SetVirtualAddressMap, ConvertPointer, GetVariable,
	// GetNextVariableName, SetVariable, GetNextHighMonotonicCount,
	// ResetSystem, UpdateCapsule, QueryCapsuleCapabilities,
	// QueryVariableInfo.
	table := []uint64{
		getTime,
		unsupportedStub, // SetTime
		unsupportedStub, // GetWakeupTime
		unsupportedStub, // SetWakeupTime
		successStub,     // SetVirtualAddressMap: this loader never relocates itself
		unsupportedStub, // ConvertPointer
		unsupportedStub, // GetVariable
		unsupportedStub, // GetNextVariableName
		unsupportedStub, // SetVariable
		unsupportedStub, // GetNextHighMonotonicCount
		unsupportedStub, // ResetSystem
		unsupportedStub, // UpdateCapsule
		unsupportedStub, // QueryCapsuleCapabilities
		unsupportedStub, // QueryVariableInfo
	}
	return env.writeFunctionTable(table)
}
