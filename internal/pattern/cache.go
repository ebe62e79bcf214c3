// cache.go - the patterned-instruction accelerator's hit-counter cache
//
// No 386 core needs a hot-path detector (it always runs the slow
// decode/execute path); this package is grounded directly on a
// try_execute/try_compile algorithm, structured the same way other
// cache-like lookup tables are (media_loader.go's format-detection
// table: a priority-ordered list of candidates, first match wins).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pattern

import "github.com/zaynotley/x86uefiboot/internal/cpu"

// hotThreshold is the hit count at which a repeatedly-executed IP is
// considered worth trying to compile into a fast path.
const hotThreshold = 10

// fetchWindow is the maximum number of bytes a pattern's try_compile
// may inspect when deciding whether it matches.
const fetchWindow = 96

// state tags one cache entry's lifecycle.
type state int

const (
	stateUnseen state = iota
	stateHot
	stateNoPattern
	stateCompiled
)

// Closure is a compiled fast path bound to one instruction pointer. It
// returns the next RIP and ok=true on success, or ok=false ("skip")
// when a runtime precondition (mode, observer zone, paging) was not
// met; on skip the closure MUST NOT have produced any side effect, so
// the caller falls through to the ordinary decoder untouched.
type Closure func(c *cpu.CPU) (nextRIP uint64, ok bool)

// Pattern is one registered fast-path recognizer.
type Pattern interface {
	Name() string
	Priority() int
	TryCompile(rip uint64, window []byte) (Closure, bool)
}

type entry struct {
	st      state
	hits    int
	closure Closure
}

// Engine implements cpu.PatternEngine: a map from instruction pointer
// to cache entry, plus the ordered list of registered patterns tried
// once an IP crosses hotThreshold.
type Engine struct {
	entries  map[uint64]*entry
	patterns []Pattern
}

// NewEngine builds an engine with the full mandatory pattern set
// registered in priority order (lower Priority() value wins ties,
// matching the table's declared precedence).
func NewEngine() *Engine {
	e := &Engine{entries: make(map[uint64]*entry)}
	e.patterns = defaultPatterns()
	return e
}

// TryExecute implements cpu.PatternEngine's contract.
func (e *Engine) TryExecute(c *cpu.CPU, rip uint64) (nextRIP uint64, executed bool) {
	ent, ok := e.entries[rip]
	if !ok {
		ent = &entry{}
		e.entries[rip] = ent
	}

	switch ent.st {
	case stateCompiled:
		if next, ok := ent.closure(c); ok {
			return next, true
		}
		return 0, false
	case stateNoPattern:
		return 0, false
	}

	ent.hits++
	if ent.hits < hotThreshold {
		return 0, false
	}

	window, f := c.Bus.FetchCode(rip, fetchWindow, c.CPL == 3)
	if f != nil || len(window) == 0 {
		ent.st = stateNoPattern
		return 0, false
	}

	for _, p := range e.patterns {
		if closure, matched := p.TryCompile(rip, window); matched {
			ent.st = stateCompiled
			ent.closure = closure
			if next, ok := closure(c); ok {
				return next, true
			}
			return 0, false
		}
	}
	ent.st = stateNoPattern
	return 0, false
}

// defaultPatterns returns the mandatory pattern set in priority order
// (ascending Priority(), i.e. most specific/cheapest-to-verify first).
func defaultPatterns() []Pattern {
	ps := []Pattern{
		cmpJcc{},
		addAdc64{},
		shrdShift{},
		incCmp{},
		shiftLoop64{},
		carryCheckLoop{},
		memmoveForward{},
		memmoveBackward{},
		strcpyPattern{},
		memsetDwordByte{},
		memsetBytePair{},
		udivmoddi{},
		lzmaRangeDecodeBit{},
		lzmaBitTreeDecodeByte{},
		lzmaBitTreeDecodeFunc{},
		lzmaLiteralDecode{},
	}
	return ps
}

// fastPathOK is the common precondition gate every pattern closure
// checks before committing to its fast path: not long mode (unless
// the pattern explicitly handles it), both operand and address size
// 32, A20 enabled, and the target physical range clear of
// observer/MMIO zones. Patterns that touch no memory range pass n=0.
func fastPathOK(c *cpu.CPU, linearAddr uint64, n uint64) bool {
	if c.Mode == cpu.ModeLong {
		return false
	}
	if !c.Seg.CS.DefaultBig {
		return false
	}
	if !c.Bus.A20Enabled {
		return false
	}
	if n == 0 {
		return true
	}
	phys, fault := c.Bus.Translate(linearAddr, true, c.CPL == 3, false)
	if fault != nil {
		return false
	}
	return !mmioOrObserver(phys, n)
}
