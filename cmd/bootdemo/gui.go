// gui.go - ebiten-backed ScreenSink and KeyboardSource
//
// Grounded on video_backend_ebiten.go's EbitenOutput: a byte
// framebuffer behind a mutex, redrawn into an ebiten.Image on every
// Draw call, with AppendInputChars/inpututil special-key translation
// and a Ctrl+Shift+V clipboard-paste path feeding a keyHandler.
// Adapted from a raw pixel framebuffer to a scrolling text grid
// rasterized with golang.org/x/image/font/basicfont, since this
// console only ever displays the UEFI text-mode output a loader
// emits.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.design/x/clipboard"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	guiCols     = 80
	guiRows     = 25
	glyphWidth  = 7
	glyphHeight = 13
	guiWidth    = guiCols * glyphWidth
	guiHeight   = guiRows * glyphHeight
)

// GUIConsole is an ebiten-backed alternative to Console: a scrolling
// 80x25 text grid rendered with basicfont rather than a real
// terminal, for environments with no usable tty (or where a window is
// simply preferred). It implements both uefi.ScreenSink and
// uefi.KeyboardSource, plus ebiten.Game.
type GUIConsole struct {
	mu       sync.Mutex
	grid     [guiRows][guiCols]byte
	col, row int
	dirty    bool

	pending []pendingKey

	clipboardOnce sync.Once
	clipboardOK   bool

	frame *image.RGBA
	img   *ebiten.Image
}

// NewGUIConsole builds a blank console grid.
func NewGUIConsole() *GUIConsole {
	g := &GUIConsole{frame: image.NewRGBA(image.Rect(0, 0, guiWidth, guiHeight)), dirty: true}
	for r := range g.grid {
		for c := range g.grid[r] {
			g.grid[r][c] = ' '
		}
	}
	return g
}

// Run starts the ebiten event loop; it blocks until the window
// closes, so the caller drives the machine on another goroutine.
func (g *GUIConsole) Run() error {
	ebiten.SetWindowSize(guiWidth*2, guiHeight*2)
	ebiten.SetWindowTitle("x86uefiboot")
	ebiten.SetWindowResizable(true)
	return ebiten.RunGame(g)
}

// WriteByte implements uefi.ScreenSink.
func (g *GUIConsole) WriteByte(b byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch b {
	case '\n':
		g.col = 0
		g.newlineLocked()
	case '\r':
		g.col = 0
	default:
		if g.col >= guiCols {
			g.col = 0
			g.newlineLocked()
		}
		g.grid[g.row][g.col] = b
		g.col++
	}
	g.dirty = true
}

// newlineLocked advances to the next row, scrolling the grid up by one
// row first if that would run off the bottom. Callers hold g.mu.
func (g *GUIConsole) newlineLocked() {
	g.row++
	if g.row >= guiRows {
		g.scrollLocked()
		g.row = guiRows - 1
	}
}

func (g *GUIConsole) scrollLocked() {
	copy(g.grid[:guiRows-1], g.grid[1:])
	for c := range g.grid[guiRows-1] {
		g.grid[guiRows-1][c] = ' '
	}
}

// PopKey implements uefi.KeyboardSource.
func (g *GUIConsole) PopKey() (scanCode uint16, unicodeChar uint16, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return 0, 0, false
	}
	k := g.pending[0]
	g.pending = g.pending[1:]
	return k.scan, k.unicode, true
}

func (g *GUIConsole) push(r rune) {
	g.mu.Lock()
	g.pending = append(g.pending, pendingKey{unicode: uint16(r)})
	g.mu.Unlock()
}

// Update implements ebiten.Game: translates typed characters and a
// handful of special keys into queued UEFI keystrokes, and services
// clipboard paste the same way video_backend_ebiten.go's
// handleClipboardPaste does.
func (g *GUIConsole) Update() error {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	shift := ebiten.IsKeyPressed(ebiten.KeyShiftLeft) || ebiten.IsKeyPressed(ebiten.KeyShiftRight)
	if ctrl && shift && inpututil.IsKeyJustPressed(ebiten.KeyV) {
		g.pasteClipboard()
	}

	for _, r := range ebiten.AppendInputChars(nil) {
		if r > 0 && r <= 0xFF {
			g.push(r)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadEnter) {
		g.push('\n')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.push('\b')
	}
	return nil
}

// pasteClipboard reads the system clipboard on demand; clipboardOK
// stays false for the process lifetime once Init fails (e.g. no
// display clipboard service available), mirroring clipboardOnce's use
// in video_backend_ebiten.go.
func (g *GUIConsole) pasteClipboard() {
	g.clipboardOnce.Do(func() { g.clipboardOK = clipboard.Init() == nil })
	if !g.clipboardOK {
		return
	}
	data := clipboard.Read(clipboard.FmtText)
	for _, b := range data {
		g.push(rune(b))
	}
}

var guiFace = basicfont.Face7x13

// rowString converts one grid row to a string, treating each byte as
// its own code point (the CP437 bytes textio.go emits, not UTF-8)
// rather than reinterpreting raw bytes >= 0x80 as UTF-8 continuation
// bytes. basicfont.Face7x13 only has ASCII glyphs, so bytes above 0x7F
// still draw as its fallback glyph, but at least one fallback glyph
// per character instead of a garbled multi-byte decode.
func rowString(row *[guiCols]byte) string {
	runes := make([]rune, guiCols)
	for i, b := range row {
		runes[i] = rune(b)
	}
	return string(runes)
}

// Draw implements ebiten.Game, rasterizing the text grid with
// golang.org/x/image/font's Drawer and pushing the result into an
// ebiten.Image, the same shape as EbitenOutput.Draw blitting its pixel
// framebuffer.
func (g *GUIConsole) Draw(screen *ebiten.Image) {
	g.mu.Lock()
	if g.dirty || g.img == nil {
		draw.Draw(g.frame, g.frame.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
		d := &font.Drawer{Dst: g.frame, Src: image.NewUniform(color.RGBA{0x20, 0xE0, 0x20, 0xFF}), Face: guiFace}
		for r := 0; r < guiRows; r++ {
			d.Dot = fixed.P(0, (r+1)*glyphHeight-3)
			d.DrawString(rowString(&g.grid[r]))
		}
		if g.img == nil {
			g.img = ebiten.NewImageFromImage(g.frame)
		} else {
			g.img.WritePixels(g.frame.Pix)
		}
		g.dirty = false
	}
	g.mu.Unlock()
	screen.DrawImage(g.img, nil)
}

// Layout implements ebiten.Game.
func (g *GUIConsole) Layout(_, _ int) (int, int) { return guiWidth, guiHeight }
