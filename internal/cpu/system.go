// system.go - CPUID, RDTSC, MOV CR/DR, SYSENTER/SYSEXIT
//
// A 386-class core has no equivalents for any of these; grounded
// instead directly on the Intel SDM's documented semantics for each,
// since no file in the pack models a CPUID table or SYSENTER MSR
// trio. The CPUID leaf layout follows the SDM's documented bit
// positions for the feature names advertised here.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "github.com/zaynotley/x86uefiboot/internal/seg"

// CPUIDResult is the four output registers of one CPUID leaf.
type CPUIDResult struct{ EAX, EBX, ECX, EDX uint32 }

// feature bits within CPUID.01H:EDX/ECX, per the Intel SDM.
const (
	featFPU   = 1 << 0
	featVME   = 1 << 1
	featDE    = 1 << 2
	featPSE   = 1 << 3
	featTSC   = 1 << 4
	featMSR   = 1 << 5
	featPAE   = 1 << 6
	featMCE   = 1 << 7
	featCX8   = 1 << 8
	featAPIC  = 1 << 9
	featSEP   = 1 << 11
	featPGE   = 1 << 13
	featCMOV  = 1 << 15
	featPAT   = 1 << 16
	featPSE36 = 1 << 17
	featCLFSH = 1 << 19
	featMTRR  = 1 << 12
	featFXSR  = 1 << 24
	featSSE   = 1 << 25
	featSSE2  = 1 << 26
)

const edxBaselineFeatures = featFPU | featVME | featDE | featPSE | featTSC |
	featMSR | featPAE | featMCE | featCX8 | featAPIC | featSEP | featPGE |
	featCMOV | featPAT | featPSE36 | featCLFSH | featMTRR | featFXSR | featSSE | featSSE2

const (
	extFeatLM      = 1 << 29 // CPUID.80000001H:EDX.LM
	extFeatSYSCALL = 1 << 11 // CPUID.80000001H:EDX.SYSCALL
)

// CPUID implements a minimal CPUID contract: a fixed vendor string,
// baseline feature bits, and zero for any leaf beyond what is
// explicitly enumerated (leaves beyond 7 and extended leaves beyond
// 0x80000008 return zero).
func (c *CPU) CPUID(leaf, subleaf uint32) CPUIDResult {
	switch leaf {
	case 0:
		// "GenuineIntel" split EBX/EDX/ECX.
		return CPUIDResult{EAX: 0x0D, EBX: 0x756E6547, EDX: 0x49656E69, ECX: 0x6C65746E}
	case 1:
		return CPUIDResult{
			EAX: 0x000906EA, // family/model/stepping, an arbitrary modern baseline
			EBX: 0x00000800,
			ECX: 0,
			EDX: edxBaselineFeatures,
		}
	case 7:
		return CPUIDResult{}
	case 0x80000000:
		return CPUIDResult{EAX: 0x80000008}
	case 0x80000001:
		return CPUIDResult{EDX: extFeatLM | extFeatSYSCALL}
	case 0x80000002, 0x80000003, 0x80000004:
		return CPUIDResult{} // brand string: left blank, not architecturally required
	case 0x80000008:
		return CPUIDResult{EAX: 0x00003028} // 40-bit physical, 48-bit linear (placeholder)
	default:
		return CPUIDResult{}
	}
}

// RDTSC returns the low/high halves of the TSC: low 32 bits in EAX,
// high 32 in EDX.
func (c *CPU) RDTSC() (eax, edx uint32) {
	return uint32(c.TSC), uint32(c.TSC >> 32)
}

// MoveToCR/MoveFromCR implement MOV CR / MOV DR: always 32-bit in
// legacy mode, 64-bit in long mode, independent of operand-size
// prefix. CR0 writes funnel through SetCR0 so mode
// transitions are re-evaluated immediately.
func (c *CPU) MoveToCR(crNum int, v uint64) {
	switch crNum {
	case 0:
		c.SetCR0(v)
	case 2:
		c.CR2 = v
	case 3:
		c.CR3 = v
		c.Bus.CR3 = v
	case 4:
		c.CR4 = v
	}
}

func (c *CPU) MoveFromCR(crNum int) uint64 {
	switch crNum {
	case 0:
		return c.CR0
	case 2:
		return c.CR2
	case 3:
		return c.CR3
	case 4:
		return c.CR4
	}
	return 0
}

func (c *CPU) MoveToDR(drNum int, v uint64) { c.DR[drNum&7] = v }
func (c *CPU) MoveFromDR(drNum int) uint64  { return c.DR[drNum&7] }

// sysCallFlatCS/sysCallFlatSS build the flat, full-limit descriptor
// caches SYSENTER/SYSEXIT install directly (there is no GDT walk on
// this fast path; the SDM requires the processor to synthesize these
// descriptors from the selector alone).
func sysCallFlatCS(selector uint16, dpl uint8, longMode bool) seg.Cache {
	return seg.Cache{
		Selector: selector, Limit: 0xFFFFFFFF, Present: true, Executable: true,
		DPL: dpl, DefaultBig: !longMode, LongMode: longMode,
	}
}

func sysCallFlatSS(selector uint16, dpl uint8) seg.Cache {
	return seg.Cache{Selector: selector, Limit: 0xFFFFFFFF, Present: true, DPL: dpl, DefaultBig: true}
}

// SYSENTER transfers to the flat, CPL-0 fast system-call entry point
// forcing CPL=0 using IA32_SYSENTER_CS/EIP.
func (c *CPU) SYSENTER() {
	cs := uint16(c.MSR[MSR_IA32_SYSENTER_CS])
	longMode := c.EFER&EFERLMA != 0
	c.Seg.LoadFromDescriptor(&c.Seg.CS, sysCallFlatCS(cs, 0, longMode))
	c.Seg.LoadFromDescriptor(&c.Seg.SS, sysCallFlatSS(cs+8, 0))
	c.CPL = 0
	c.Regs.Set64(RSP, c.MSR[MSR_IA32_SYSENTER_ESP])
	c.Regs.SetRIP(c.MSR[MSR_IA32_SYSENTER_EIP])
}

// SYSEXIT returns to CPL=3, deriving SS from CS+24/16 with RPL forced
// to 3.
func (c *CPU) SYSEXIT() {
	longMode := c.EFER&EFERLMA != 0
	cs := uint16(c.MSR[MSR_IA32_SYSENTER_CS]) + 16
	ss := cs + 8
	c.Seg.LoadFromDescriptor(&c.Seg.CS, sysCallFlatCS(cs|3, 3, longMode))
	c.Seg.LoadFromDescriptor(&c.Seg.SS, sysCallFlatSS(ss|3, 3))
	c.CPL = 3
	c.Regs.Set64(RSP, c.Regs.Get64(RCX))
	c.Regs.SetRIP(c.Regs.Get64(RDX))
}
