// msr.go - model-specific register map
//
// Implemented as a small map keyed by MSR number; unknown MSRs
// return zero on read and raise #GP on write only when the driver is
// configured to be strict. The
// teacher's 386-era core has no MSR concept at all; this is new.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "github.com/zaynotley/x86uefiboot/internal/fault"

const (
	MSR_IA32_EFER         = 0xC0000080
	MSR_IA32_SYSENTER_CS  = 0x174
	MSR_IA32_SYSENTER_ESP = 0x175
	MSR_IA32_SYSENTER_EIP = 0x176
	MSR_IA32_APIC_BASE    = 0x1B
	MSR_IA32_FS_BASE      = 0xC0000100
	MSR_IA32_GS_BASE      = 0xC0000101
	MSR_IA32_TSC          = 0x10
)

// RDMSR reads ecx-selected MSR into edx:eax semantics; callers extract
// the halves. Unknown MSRs read as zero.
func (c *CPU) RDMSR(msr uint32) uint64 {
	if msr == MSR_IA32_TSC {
		return c.TSC
	}
	if msr == MSR_IA32_EFER {
		return c.EFER
	}
	return c.MSR[msr]
}

// WRMSR writes an MSR. Unknown MSRs raise #GP only when StrictMSR is
// enabled; otherwise the write is silently absorbed into the map.
func (c *CPU) WRMSR(msr uint32, v uint64) {
	if msr == MSR_IA32_EFER {
		c.SetEFER(v)
		return
	}
	if _, known := c.MSR[msr]; !known && c.StrictMSR {
		c.Deliver(fault.New(fault.VecGP, 0))
		return
	}
	c.MSR[msr] = v
}
