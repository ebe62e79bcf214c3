// terminal.go - terminal-backed ScreenSink and KeyboardSource
//
// Grounded on terminal_host.go's raw-mode-stdin-plus-background-reader
// idiom: golang.org/x/term puts the terminal into raw mode so output
// is not line-buffered or echoed back by the OS, and a background
// goroutine feeds keystrokes into a small queue PopKey drains
// non-blockingly, the same shape as TerminalHost.Start's stdin reader
// goroutine. Key capture itself goes through github.com/eiannone/keyboard
// instead of a raw byte read, since UEFI's ReadKeyStroke wants a
// (scancode, unicode) pair rather than a single byte.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"
)

// Console is a terminal-backed implementation of the emulator's
// uefi.ScreenSink and uefi.KeyboardSource contracts.
type Console struct {
	oldState *term.State

	mu      sync.Mutex
	pending []pendingKey

	stopCh chan struct{}
	done   chan struct{}
	stop   sync.Once
}

type pendingKey struct {
	scan, unicode uint16
}

// NewConsole puts stdin into raw mode and starts a background
// keystroke reader.
func NewConsole() (*Console, error) {
	state, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("bootdemo: putting terminal into raw mode: %w", err)
	}

	c := &Console{oldState: state, stopCh: make(chan struct{}), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *Console) readLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		// GetSingleKey owns its own open/close cycle per read, the
		// same call SchawnnDev-awesomeVM's TRAP_GETC/TRAP_IN handlers
		// make.
		ch, key, err := keyboard.GetSingleKey()
		if err != nil {
			return
		}
		if key == keyboard.KeyCtrlC {
			close(c.stopCh)
			return
		}
		c.mu.Lock()
		c.pending = append(c.pending, pendingKey{scan: uint16(key), unicode: uint16(ch)})
		c.mu.Unlock()
	}
}

// Stop restores the terminal to its original state.
func (c *Console) Stop() {
	c.stop.Do(func() { close(c.stopCh) })
	if c.oldState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), c.oldState)
	}
}

// WriteByte implements uefi.ScreenSink.
func (c *Console) WriteByte(b byte) {
	// Raw mode disables the terminal's own CR/LF translation; restore
	// it here so guest output ends lines cleanly.
	if b == '\n' {
		os.Stdout.WriteString("\r\n")
		return
	}
	os.Stdout.Write([]byte{b})
}

// PopKey implements uefi.KeyboardSource.
func (c *Console) PopKey() (scanCode uint16, unicodeChar uint16, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0, 0, false
	}
	k := c.pending[0]
	c.pending = c.pending[1:]
	return k.scan, k.unicode, true
}
