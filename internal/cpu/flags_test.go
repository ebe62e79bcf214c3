package cpu

import "testing"

func TestSetArithAdd8BitCarryAndOverflow(t *testing.T) {
	var f Flags
	// 0xFF + 0x01 = 0x00 with carry, no signed overflow (unsigned wrap).
	result := f.SetArithAdd(0xFF, 0x01, 8)
	if result != 0 {
		t.Fatalf("result = %#x, want 0", result)
	}
	if !f.CF() {
		t.Error("CF should be set on unsigned 8-bit overflow")
	}
	if !f.ZF() {
		t.Error("ZF should be set when result is zero")
	}
	if f.OF() {
		t.Error("OF should be clear: 0xFF + 0x01 has no signed overflow")
	}
}

func TestSetArithAddSignedOverflow(t *testing.T) {
	var f Flags
	// 0x7F + 0x01 = 0x80: positive + positive = negative -> OF set.
	result := f.SetArithAdd(0x7F, 0x01, 8)
	if result != 0x80 {
		t.Fatalf("result = %#x, want 0x80", result)
	}
	if !f.OF() {
		t.Error("OF should be set: signed overflow 0x7F+0x01")
	}
	if f.CF() {
		t.Error("CF should be clear: no unsigned carry")
	}
	if !f.SF() {
		t.Error("SF should be set: result's top bit is 1")
	}
}

func TestSetArithSubBorrow(t *testing.T) {
	var f Flags
	result := f.SetArithSub(0x00, 0x01, 8)
	if result != 0xFF {
		t.Fatalf("result = %#x, want 0xFF", result)
	}
	if !f.CF() {
		t.Error("CF should be set: borrow occurred")
	}
}

func TestSetArithAdcFoldsCarryIn(t *testing.T) {
	var f Flags
	f.SetBit(FlagCF, true)
	result := f.SetArithAdc(0x01, 0x01, 8)
	if result != 0x03 {
		t.Fatalf("result = %#x, want 0x03 (1+1+carry-in)", result)
	}
}

func TestSetLogicClearsCarryAndOverflow(t *testing.T) {
	var f Flags
	f.SetBit(FlagCF, true)
	f.SetBit(FlagOF, true)
	result := f.SetLogic(0x0F&0xF0, 8)
	if result != 0 {
		t.Fatalf("result = %#x, want 0", result)
	}
	if f.CF() || f.OF() {
		t.Error("AND/OR/XOR/TEST must clear CF and OF")
	}
	if !f.ZF() {
		t.Error("ZF should be set for a zero logic result")
	}
}

func TestParityFlag64BitWidth(t *testing.T) {
	var f Flags
	// 0x...03 has two set bits in the low byte -> even parity -> PF=1.
	f.SetArithAdd(0x01, 0x02, 64)
	if !f.PF() {
		t.Error("PF should be set: low byte 0x03 has even parity")
	}
}

func TestFlagsResetReservedBit1(t *testing.T) {
	var f Flags
	f.Reset()
	if f.Get() != 1<<1 {
		t.Fatalf("Reset() = %#x, want reserved bit 1 only", f.Get())
	}
}
