// main.go - a thin terminal- or window-backed demonstration of the
// emulator library booting a GRUB-class EFI loader from an ISO9660
// image
//
// Wires emulator.Machine to a real file-backed ISO9660 medium and
// either a terminal-backed or an ebiten-window-backed screen/keyboard;
// none of this carries architectural behavior of its own, it only
// demonstrates the contracts the library expects a caller to supply.
// Argument handling follows main.go's plain os.Args convention rather
// than reaching for the flag package, since this program takes at
// most two optional switches plus one required argument.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"

	"github.com/zaynotley/x86uefiboot"
	"github.com/zaynotley/x86uefiboot/internal/cpu"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: bootdemo [-ia32] [-gui] <path-to-iso>")
	os.Exit(1)
}

func main() {
	args := os.Args[1:]
	mode := cpu.ModeLong
	useGUI := false
	for len(args) > 0 && (args[0] == "-ia32" || args[0] == "-gui") {
		switch args[0] {
		case "-ia32":
			mode = cpu.ModeProtected
		case "-gui":
			useGUI = true
		}
		args = args[1:]
	}
	if len(args) != 1 {
		usage()
	}

	img, err := OpenImage(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer img.Close()

	m := emulator.NewMachine(256<<20, mode, os.Stderr)
	medium := emulator.Medium{Files: img, Raw: mediaView{img}}

	if useGUI {
		runGUI(m, medium)
		return
	}
	runTerminal(m, medium)
}

const stepBudget = 50_000_000

// runTerminal boots and runs the machine against a real raw-mode
// terminal.
func runTerminal(m *emulator.Machine, medium emulator.Medium) {
	console, err := NewConsole()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer console.Stop()

	path, err := m.Boot(medium, console, console)
	if err != nil {
		console.Stop()
		fmt.Fprintln(os.Stderr, "boot failed:", err)
		os.Exit(1)
	}
	m.Log.Printf("entering %s", path)

	m.Run(stepBudget)

	console.Stop()
	if !m.CPU.Halted {
		fmt.Fprintf(os.Stderr, "stopped after %d steps without halting\n", stepBudget)
		os.Exit(1)
	}
}

// runGUI boots and runs the machine on a background goroutine against
// an ebiten-windowed console, since ebiten.RunGame owns the calling
// goroutine until the window closes.
func runGUI(m *emulator.Machine, medium emulator.Medium) {
	gui := NewGUIConsole()

	go func() {
		path, err := m.Boot(medium, gui, gui)
		if err != nil {
			fmt.Fprintln(os.Stderr, "boot failed:", err)
			os.Exit(1)
		}
		m.Log.Printf("entering %s", path)
		m.Run(stepBudget)
		if !m.CPU.Halted {
			fmt.Fprintf(os.Stderr, "stopped after %d steps without halting\n", stepBudget)
		}
	}()

	if err := gui.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "gui:", err)
		os.Exit(1)
	}
}
