// condition.go - the 16-way condition-code evaluator shared by Jcc,
// SETcc, and CMOVcc
//
// Grounded on cpu_x86_grp.go's opSETO..opSETNLE family (lines 993-1018),
// generalized into a single table indexed by the low nibble of the
// opcode: Jcc evaluates the conditions using the mapping {O, NO, B,
// AE, E, NE, BE, A, S, NS, P, NP, L, GE, LE, G} derived from the low
// nibble of the opcode. The pattern engine's
// CMP+Jcc closure (internal/pattern) reuses this exact table so the
// fast path and slow path can never disagree on condition evaluation.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

// EvalCondition evaluates condition code cc (0-15) against f, in the
// order the SDM assigns to Jcc/SETcc/CMOVcc low nibbles.
func EvalCondition(f *Flags, cc byte) bool {
	switch cc & 0xF {
	case 0x0: // O
		return f.OF()
	case 0x1: // NO
		return !f.OF()
	case 0x2: // B/NAE/C
		return f.CF()
	case 0x3: // AE/NB/NC
		return !f.CF()
	case 0x4: // E/Z
		return f.ZF()
	case 0x5: // NE/NZ
		return !f.ZF()
	case 0x6: // BE/NA
		return f.CF() || f.ZF()
	case 0x7: // A/NBE
		return !f.CF() && !f.ZF()
	case 0x8: // S
		return f.SF()
	case 0x9: // NS
		return !f.SF()
	case 0xA: // P/PE
		return f.PF()
	case 0xB: // NP/PO
		return !f.PF()
	case 0xC: // L/NGE
		return f.SF() != f.OF()
	case 0xD: // GE/NL
		return f.SF() == f.OF()
	case 0xE: // LE/NG
		return f.ZF() || f.SF() != f.OF()
	default: // 0xF: G/NLE
		return !f.ZF() && f.SF() == f.OF()
	}
}
