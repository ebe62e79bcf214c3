// textin.go - Simple Text Input
//
// Grounded on the same injected-collaborator shape as textio.go's
// ScreenSink; there is no keyboard-device abstraction of its own at
// the protocol layer to draw on (terminal_host.go reads raw terminal bytes
// directly into its 6502/68k machine rather than through a named
// interface), so this interface is authored directly from
// EFI_SIMPLE_TEXT_INPUT_PROTOCOL's ReadKeyStroke description.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// KeyboardSource is the external collaborator that actually owns a
// keyboard device; a terminal raw-mode reader, a scancode queue, a
// test fixture.
type KeyboardSource interface {
	// PopKey returns the next pending (scancode, unicode) pair and
	// ok=true, or ok=false when no key is queued.
	PopKey() (scanCode uint16, unicodeChar uint16, ok bool)
}

// SimpleTextInput implements EFI_SIMPLE_TEXT_INPUT_PROTOCOL's
// ReadKeyStroke over an injected KeyboardSource.
type SimpleTextInput struct {
	Source KeyboardSource
}

func (in *SimpleTextInput) readKeyStroke(c *cpu.CPU, keyOut uint64) Status {
	scan, uni, ok := in.Source.PopKey()
	if !ok {
		return StatusNotReady
	}
	c.Bus.WriteLinear16(keyOut, scan, c.CPL == 3)
	c.Bus.WriteLinear16(keyOut+2, uni, c.CPL == 3)
	return StatusSuccess
}

// RegisterSimpleTextInput installs EFI_SIMPLE_TEXT_INPUT_PROTOCOL's
// function table (Reset, ReadKeyStroke, WaitForKey - the event handle
// left null since this boot path never blocks on WaitForEvent) and
// returns its interface pointer.
func (env *Environment) RegisterSimpleTextInput(in *SimpleTextInput) uint64 {
	readKey := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this
		key := a.Ptr()
		a.SetReturn(in.readKeyStroke(env.CPU, key))
	})
	stub := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })
	table := []uint64{stub, readKey, 0}
	return env.writeFunctionTable(table)
}
