package cpu

import "testing"

func TestLegacyHighByteAliasing(t *testing.T) {
	var r RegFile
	r.Set64(RAX, 0x1122)
	if got := r.Get8(RSP, false); got != 0x11 {
		t.Fatalf("Get8(RSP, rex=false) = %#x, want AH=0x11", got)
	}
	r.Set8(RSP, 0x99, false)
	if got := r.Get64(RAX); got != 0x9922 {
		t.Fatalf("after Set8(AH)=0x99, RAX = %#x, want 0x9922", got)
	}
}

func TestRexExtendedLowByteAliasing(t *testing.T) {
	var r RegFile
	r.Set64(RSP, 0x1122)
	if got := r.Get8(RSP, true); got != 0x22 {
		t.Fatalf("Get8(RSP, rex=true) = %#x, want SPL=0x22", got)
	}
	r.Set8(RSP, 0x55, true)
	if got := r.Get64(RSP); got != 0x1155 {
		t.Fatalf("after Set8(SPL)=0x55, RSP = %#x, want 0x1155", got)
	}
}

func TestSet32ZeroExtends(t *testing.T) {
	var r RegFile
	r.Set64(RAX, 0xFFFFFFFFFFFFFFFF)
	r.Set32(RAX, 0x11223344)
	if got := r.Get64(RAX); got != 0x11223344 {
		t.Fatalf("Set32 did not zero-extend: RAX = %#x", got)
	}
}

func TestSet16PreservesUpperBits(t *testing.T) {
	var r RegFile
	r.Set64(RAX, 0x1122334455667788)
	r.Set16(RAX, 0xBEEF)
	if got := r.Get64(RAX); got != 0x112233445566BEEF {
		t.Fatalf("Set16 disturbed upper bits: RAX = %#x", got)
	}
}

func TestHighByteNameTable(t *testing.T) {
	if name, ok := HighByteName(RDI); !ok || name != "BH" {
		t.Fatalf("HighByteName(RDI) = %q, %v, want BH, true", name, ok)
	}
	if _, ok := HighByteName(RAX); ok {
		t.Fatal("HighByteName(RAX) should report not-applicable (index 0 encodes AL, not a high byte)")
	}
}
