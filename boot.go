// boot.go - selecting, loading, and jumping into a guest EFI image
//
// Consults an ISO9660 medium for the first supported EFI boot image
// and enters it via its EFIAPI convention (RCX/RDX in long mode,
// stack-pushed args in protected mode). Grounded on the same
// single-struct wiring idiom as internal/uefi's environment.go, one
// level further out: where Environment wires protocol implementations
// together, Boot wires an already-built Environment to a concrete
// medium and jumps the CPU into it.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package emulator

import (
	"fmt"

	"github.com/zaynotley/x86uefiboot/internal/cpu"
	"github.com/zaynotley/x86uefiboot/internal/peloader"
	"github.com/zaynotley/x86uefiboot/internal/uefi"
)

// Medium bundles the two external collaborators this interpreter
// treats as host-provided: path-resolved file access and raw,
// byte-offset medium access over the same ISO9660 image.
type Medium struct {
	Files uefi.ISO9660Reader
	Raw   uefi.MediaReader
}

// Boot selects the first supported guest image on medium for the
// machine's current addressing mode, loads it, assembles the UEFI
// environment around screen/kbd, and sets the CPU up to begin
// executing the image's entry point on the next Step/Run. It returns
// the chosen path, or a host-environment error if no candidate image
// is found, the medium can't be read, or the image is not a valid PE.
func (m *Machine) Boot(medium Medium, screen uefi.ScreenSink, kbd uefi.KeyboardSource) (path string, err error) {
	path, data, err := readFirstCandidate(medium.Files, m.candidatePaths())
	if err != nil {
		return "", err
	}

	img, err := peloader.Parse(data)
	if err != nil {
		return "", fmt.Errorf("parsing PE image: %w", err)
	}
	// Load at the image's own preferred base: GRUB-class loaders carry
	// a .reloc directory but need no actual rebasing since nothing
	// else occupies their preferred address range in this boot path.
	res, err := m.LoadPE(data, img.ImageBase)
	if err != nil {
		return "", err
	}

	m.Env.TextOutput = &uefi.SimpleTextOutput{Sink: screen}
	m.Env.TextInput = &uefi.SimpleTextInput{Source: kbd}
	m.Env.RootFS = &uefi.SimpleFileSystem{Reader: medium.Files}
	m.Env.BlockDev = &uefi.BlockIO{Media: medium.Raw}

	imageHandle, systemTable := m.Env.Assemble()

	fsIface := m.Env.RegisterSimpleFileSystem(m.Env.RootFS)
	blockIface := m.Env.RegisterBlockIO(m.Env.BlockDev)
	diskIface := m.Env.RegisterDiskIO(&uefi.DiskIO{Media: medium.Raw})

	deviceHandle := m.Env.Handles.NewHandle()
	m.Env.Handles.InstallProtocol(deviceHandle, uefi.GUIDSimpleFileSystem, fsIface)
	m.Env.Handles.InstallProtocol(deviceHandle, uefi.GUIDBlockIO, blockIface)
	m.Env.Handles.InstallProtocol(deviceHandle, uefi.GUIDDiskIO, diskIface)

	li := &uefi.LoadedImage{DeviceHandle: deviceHandle, FilePath: path, ImageBase: res.Base, ImageSize: res.Size}
	liIface := m.Env.RegisterLoadedImage(li, systemTable)
	m.Env.Handles.InstallProtocol(imageHandle, uefi.GUIDLoadedImage, liIface)

	m.Env.ImageBase, m.Env.ImageSize = res.Base, res.Size
	m.enterImage(uint64(imageHandle), systemTable, res.Entry)

	m.Log.Printf("booted %s: base=%#x entry=%#x size=%#x bits=%d", path, res.Base, res.Entry, res.Size, res.Bits)
	return path, nil
}

// candidatePaths returns the guest image names tried for the
// machine's current addressing mode.
func (m *Machine) candidatePaths() []string {
	if m.CPU.Mode == cpu.ModeLong {
		return candidatePaths64
	}
	return candidatePaths32
}

// readFirstCandidate stats each candidate in order and reads the first
// one found, returning a host-environment error naming every path
// tried if none exist.
func readFirstCandidate(files uefi.ISO9660Reader, candidates []string) (path string, data []byte, err error) {
	for _, p := range candidates {
		size, isDir, ok := files.Stat(p)
		if !ok || isDir {
			continue
		}
		buf := make([]byte, size)
		n, ok := files.ReadAt(p, buf, 0)
		if !ok || int64(n) != size {
			return "", nil, fmt.Errorf("emulator: short read of %s: got %d of %d bytes", p, n, size)
		}
		return p, buf, nil
	}
	return "", nil, fmt.Errorf("emulator: no supported EFI boot image found (tried %v)", candidates)
}

// enterImage sets up the guest entry point's initial calling-
// convention state - RCX=imageHandle, RDX=systemTable plus a 32-byte
// shadow space in long mode; stack-pushed ImageHandle/SystemTable in
// protected mode - and points RIP at entry. A trampoline return
// address is pushed below the arguments so that if the image's entry
// point ever executes RET (it normally does not; GRUB-class loaders
// call ExitBootServices and then never return), the CPU halts cleanly
// instead of jumping into whatever garbage follows on the stack.
func (m *Machine) enterImage(imageHandle, systemTable, entry uint64) {
	retSentinel := m.Env.Trampolines.Register(func(a *uefi.ArgReader) { m.CPU.Halted = true })
	sp := uint64(defaultStackTop)

	if m.CPU.Mode == cpu.ModeLong {
		m.CPU.Bus.WriteLinear64(sp, retSentinel, false)
		m.CPU.Regs.Set64(cpu.RSP, sp)
		m.CPU.Regs.Set64(cpu.RCX, imageHandle)
		m.CPU.Regs.Set64(cpu.RDX, systemTable)
	} else {
		m.CPU.Bus.WriteLinear32(sp, uint32(retSentinel), false)
		m.CPU.Bus.WriteLinear32(sp+4, uint32(imageHandle), false)
		m.CPU.Bus.WriteLinear32(sp+8, uint32(systemTable), false)
		m.CPU.Regs.Set32(cpu.RSP, uint32(sp))
	}
	m.CPU.Regs.SetRIP(entry)
}
