package disasm

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// byteMem turns a flat byte slice starting at base into the
// window-reading closure Decode expects.
func byteMem(base uint64, code []byte) func(uint64, int) []byte {
	return func(addr uint64, n int) []byte {
		off := int(addr - base)
		if off < 0 || off >= len(code) {
			return nil
		}
		end := off + n
		if end > len(code) {
			end = len(code)
		}
		return code[off:end]
	}
}

// crossCheck decodes code with both this package's decoder and
// x86asm.Decode and asserts they agree on instruction length - the
// property a trace log actually depends on (advancing the instruction
// pointer correctly), without requiring identical mnemonic spelling.
func crossCheck(t *testing.T, code []byte, long bool) Instruction {
	t.Helper()
	mode := 32
	if long {
		mode = 64
	}
	ref, err := x86asm.Decode(code, mode)
	if err != nil {
		t.Fatalf("x86asm.Decode: %v", err)
	}
	got := Decode(byteMem(0x1000, code), 0x1000, long)
	if got.Len != ref.Len {
		t.Fatalf("length mismatch for % X: got %d, x86asm says %d (x86asm: %s)", code, got.Len, ref.Len, ref.String())
	}
	return got
}

func TestDecodeLengthsAgreeWithX86asm32(t *testing.T) {
	cases := [][]byte{
		{0x90},                   // NOP
		{0xF4},                   // HLT
		{0xC3},                   // RET
		{0xC2, 0x08, 0x00},       // RET 0x8
		{0xCC},                   // INT3
		{0x50},                   // PUSH EAX
		{0x58},                   // POP EAX
		{0x01, 0xD8},             // ADD EAX, EBX
		{0x29, 0xC8},             // SUB EAX, ECX
		{0x31, 0xC0},             // XOR EAX, EAX
		{0x83, 0xC0, 0x05},       // ADD EAX, 0x5
		{0x85, 0xC0},             // TEST EAX, EAX
		{0x89, 0xE5},             // MOV EBP, ESP
		{0x8B, 0x45, 0x08},       // MOV EAX, [EBP+0x8]
		{0x8D, 0x45, 0xFC},       // LEA EAX, [EBP-0x4]
		{0xB8, 0x01, 0x00, 0x00, 0x00}, // MOV EAX, 1
		{0xE8, 0x00, 0x00, 0x00, 0x00}, // CALL rel32
		{0xE9, 0x00, 0x00, 0x00, 0x00}, // JMP rel32
		{0xEB, 0x10},             // JMP rel8
		{0x74, 0x02},             // JE rel8
		{0xFF, 0xD0},             // CALL EAX
		{0x0F, 0xAF, 0xC1},       // IMUL EAX, ECX
		{0x0F, 0xB6, 0xC0},       // MOVZX EAX, AL
	}
	for _, c := range cases {
		crossCheck(t, c, false)
	}
}

func TestDecodeLengthsAgreeWithX86asm64(t *testing.T) {
	cases := [][]byte{
		{0x48, 0x89, 0xE5},             // MOV RBP, RSP
		{0x48, 0x83, 0xEC, 0x20},       // SUB RSP, 0x20
		{0x48, 0x8B, 0x45, 0xF8},       // MOV RAX, [RBP-0x8]
		{0x48, 0xB8, 1, 0, 0, 0, 0, 0, 0, 0}, // MOV RAX, imm64
		{0x4C, 0x89, 0xC0},             // MOV RAX, R8
		{0x0F, 0x05},                   // SYSCALL
		{0xC3},                         // RET
		{0x41, 0x50},                   // PUSH R8
	}
	for _, c := range cases {
		crossCheck(t, c, true)
	}
}

func TestDecodeAnnotatesCallAsBranch(t *testing.T) {
	code := []byte{0xE8, 0x05, 0x00, 0x00, 0x00}
	in := Decode(byteMem(0x2000, code), 0x2000, false)
	if !in.IsBranch {
		t.Fatalf("CALL rel32 should be flagged as a branch")
	}
	want := uint64(0x2000 + 5 + 5)
	if in.BranchTarget != want {
		t.Fatalf("BranchTarget = %#x, want %#x", in.BranchTarget, want)
	}
}

func TestDecodeShortJumpTarget(t *testing.T) {
	code := []byte{0xEB, 0x02}
	in := Decode(byteMem(0x3000, code), 0x3000, false)
	if !in.IsBranch || in.BranchTarget != 0x3004 {
		t.Fatalf("unexpected short jump decode: %+v", in)
	}
}

func TestDecodeStopsAtBufferEnd(t *testing.T) {
	code := []byte{0x8B} // MOV opcode with no ModRM byte following
	in := Decode(byteMem(0x4000, code), 0x4000, false)
	if in.Mnemonic == "" {
		t.Fatalf("expected a best-effort decode even on truncated input")
	}
}
