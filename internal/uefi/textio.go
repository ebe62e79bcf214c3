// textio.go - Simple Text Output and the CP437 glyph table
//
// Grounded on the terminal output idiom in terminal_output.go
// (a small device struct behind a host-provided sink, one write
// primitive) and on _examples/IntuitionAmiga-IntuitionEngine's now-set-aside
// video_terminal.go glyph table convention, reimplemented here as a
// pure byte-producing function with no framebuffer/GUI dependency
// since the screen itself is an injected collaborator, not part of
// this module's ScreenSink contract.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package uefi

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// ScreenSink is the external collaborator that actually draws
// characters; a terminal, a framebuffer, a test recorder.
type ScreenSink interface {
	WriteByte(b byte)
}

// cp437High holds the upper 128 code points of IBM code page 437
// (bytes 0x80-0xFF); bytes 0x00-0x7F map identically to ASCII.
var cp437High = [128]rune{
	'Ç', 'ü', 'é', 'â', 'ä', 'à', 'å', 'ç', 'ê', 'ë', 'è', 'ï', 'î', 'ì', 'Ä', 'Å',
	'É', 'æ', 'Æ', 'ô', 'ö', 'ò', 'û', 'ù', 'ÿ', 'Ö', 'Ü', '¢', '£', '¥', '₧', 'ƒ',
	'á', 'í', 'ó', 'ú', 'ñ', 'Ñ', 'ª', 'º', '¿', '⌐', '¬', '½', '¼', '¡', '«', '»',
	'░', '▒', '▓', '│', '┤', '╡', '╢', '╖', '╕', '╣', '║', '╗', '╝', '╜', '╛', '┐',
	'└', '┴', '┬', '├', '─', '┼', '╞', '╟', '╚', '╔', '╩', '╦', '╠', '═', '╬', '╧',
	'╨', '╤', '╥', '╙', '╘', '╒', '╓', '╫', '╪', '┘', '┌', '█', '▄', '▌', '▐', '▀',
	'α', 'ß', 'Γ', 'π', 'Σ', 'σ', 'µ', 'τ', 'Φ', 'Θ', 'Ω', 'δ', '∞', 'φ', 'ε', '∩',
	'≡', '±', '≥', '≤', '⌠', '⌡', '÷', '≈', '°', '∙', '·', '√', 'ⁿ', '²', '■', ' ',
}

// unicodeToCP437 is built once from cp437High, reversed.
var unicodeToCP437 = buildReverseCP437()

func buildReverseCP437() map[rune]byte {
	m := make(map[rune]byte, 128)
	for i, r := range cp437High {
		m[r] = byte(0x80 + i)
	}
	return m
}

// cp437Encode maps a unicode code point to its CP437 byte, or '?' if
// the code page has no glyph for it.
func cp437Encode(r rune) byte {
	if r < 0x80 {
		return byte(r)
	}
	if b, ok := unicodeToCP437[r]; ok {
		return b
	}
	return '?'
}

// SimpleTextOutput implements EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL's
// OutputString over an injected ScreenSink.
type SimpleTextOutput struct {
	Sink   ScreenSink
	Column int
	Row    int
}

// outputString reads a NUL-terminated UTF-16LE string at strAddr and
// writes it to the sink byte-for-byte, with '\n' passed straight
// through (no CR inserted) and non-ASCII code points remapped through
// CP437.
func (o *SimpleTextOutput) outputString(c *cpu.CPU, strAddr uint64) Status {
	for i := uint64(0); i < 16*1024; i += 2 {
		unit, f := c.Bus.ReadLinear16(strAddr+i, c.CPL == 3)
		if f != nil {
			return StatusInvalidParameter
		}
		if unit == 0 {
			return StatusSuccess
		}
		if unit == '\n' {
			o.Sink.WriteByte('\n')
			o.Column = 0
			o.Row++
			continue
		}
		o.Sink.WriteByte(cp437Encode(rune(unit)))
		o.Column++
	}
	return StatusSuccess
}

// RegisterSimpleTextOutput installs EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL's
// function table into trampoline space and returns its interface
// pointer (OutputString is the only member the spec requires; the
// remaining function-table slots resolve to a harmless success stub so
// guest code that probes but does not call them still finds a valid
// pointer there).
func (env *Environment) RegisterSimpleTextOutput(o *SimpleTextOutput) uint64 {
	outputString := env.Trampolines.Register(func(a *ArgReader) {
		_ = a.Ptr() // this (EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL*)
		str := a.Ptr()
		a.SetReturn(o.outputString(env.CPU, str))
	})
	stub := env.Trampolines.Register(func(a *ArgReader) { a.SetReturn(StatusSuccess) })

	// EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL's function table, in
	// specification field order: Reset, OutputString, TestString,
	// QueryMode, SetMode, SetAttribute, ClearScreen, SetCursorPosition,
	// EnableCursor, then a Mode data pointer (left null; no caller in
	// this boot path reads it).
	table := []uint64{stub, outputString, stub, stub, stub, stub, stub, stub, stub, 0}
	return env.writeFunctionTable(table)
}
