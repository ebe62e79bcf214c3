// breakpoints.go - breakpoint/watchpoint bookkeeping and condition
// evaluation
//
// Grounded on debug_conditions.go's ParseCondition/evaluateCondition
// (register/memory/hitcount comparisons against a parsed operator) and
// debug_interface.go's ConditionalBreakpoint/Watchpoint/BreakpointEvent
// types, trimmed to this package's single CPU core.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package debugx

import (
	"fmt"
	"strconv"
	"strings"
)

// BreakpointEvent is published when execution hits a breakpoint or
// watchpoint.
type BreakpointEvent struct {
	Address uint64

	IsWatch       bool
	WatchAddr     uint64
	WatchOldValue byte
	WatchNewValue byte
}

// ConditionOp is the comparison operator for a breakpoint condition.
type ConditionOp int

const (
	CondOpEqual ConditionOp = iota
	CondOpNotEqual
	CondOpLess
	CondOpGreater
	CondOpLessEqual
	CondOpGreaterEqual
)

// ConditionSource is what a breakpoint condition compares against.
type ConditionSource int

const (
	CondSourceRegister ConditionSource = iota
	CondSourceMemory
	CondSourceHitCount
)

// BreakpointCondition is a single comparison guarding a breakpoint.
type BreakpointCondition struct {
	Source  ConditionSource
	RegName string
	MemAddr uint64
	Op      ConditionOp
	Value   uint64
}

// ConditionalBreakpoint associates an address with an optional
// condition and the number of times it has fired.
type ConditionalBreakpoint struct {
	Address   uint64
	Condition *BreakpointCondition
	HitCount  uint64
}

// WatchpointType indicates the access type a watchpoint traps.
type WatchpointType int

const (
	WatchWrite WatchpointType = iota
)

// Watchpoint traps writes to a single memory address.
type Watchpoint struct {
	Type      WatchpointType
	Address   uint64
	LastValue byte
}

// ParseCondition parses a condition of the form "RAX==$10",
// "[$1000]!=$0", or "hitcount>5".
func ParseCondition(text string) (*BreakpointCondition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty condition")
	}

	var opStr string
	var opIdx int
	for _, candidate := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if idx := strings.Index(text, candidate); idx >= 0 {
			opStr, opIdx = candidate, idx
			break
		}
	}
	if opStr == "" {
		return nil, fmt.Errorf("no operator found (use ==, !=, <, >, <=, >=)")
	}

	var op ConditionOp
	switch opStr {
	case "==":
		op = CondOpEqual
	case "!=":
		op = CondOpNotEqual
	case "<":
		op = CondOpLess
	case ">":
		op = CondOpGreater
	case "<=":
		op = CondOpLessEqual
	case ">=":
		op = CondOpGreaterEqual
	}

	lhs := strings.TrimSpace(text[:opIdx])
	rhs := strings.TrimSpace(text[opIdx+len(opStr):])

	value, ok := parseAddress(rhs)
	if !ok {
		return nil, fmt.Errorf("invalid value: %s", rhs)
	}

	if strings.HasPrefix(lhs, "[") && strings.HasSuffix(lhs, "]") {
		addr, ok := parseAddress(lhs[1 : len(lhs)-1])
		if !ok {
			return nil, fmt.Errorf("invalid memory address: %s", lhs)
		}
		return &BreakpointCondition{Source: CondSourceMemory, MemAddr: addr, Op: op, Value: value}, nil
	}
	if strings.EqualFold(lhs, "hitcount") {
		return &BreakpointCondition{Source: CondSourceHitCount, Op: op, Value: value}, nil
	}
	return &BreakpointCondition{Source: CondSourceRegister, RegName: strings.ToUpper(lhs), Op: op, Value: value}, nil
}

// parseAddress accepts "$FF", "0xFF", or a plain decimal string.
func parseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "$") {
		v, err := strconv.ParseUint(s[1:], 16, 64)
		return v, err == nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

func compareValues(actual uint64, op ConditionOp, expected uint64) bool {
	switch op {
	case CondOpEqual:
		return actual == expected
	case CondOpNotEqual:
		return actual != expected
	case CondOpLess:
		return actual < expected
	case CondOpGreater:
		return actual > expected
	case CondOpLessEqual:
		return actual <= expected
	case CondOpGreaterEqual:
		return actual >= expected
	}
	return false
}

// evaluateCondition reports whether cond holds against the debugger's
// current state, treating hitCount as the breakpoint's own counter
// (the caller increments it before calling, the way CheckBreakpoint does).
func (d *Debugger) evaluateCondition(cond *BreakpointCondition, hitCount uint64) bool {
	if cond == nil {
		return true
	}
	var actual uint64
	switch cond.Source {
	case CondSourceRegister:
		v, ok := d.GetRegister(cond.RegName)
		if !ok {
			return false
		}
		actual = v
	case CondSourceMemory:
		data := d.ReadMemory(cond.MemAddr, 1)
		if len(data) == 0 {
			return false
		}
		actual = uint64(data[0])
	case CondSourceHitCount:
		actual = hitCount
	}
	return compareValues(actual, cond.Op, cond.Value)
}

func (d *Debugger) SetBreakpoint(addr uint64) bool {
	return d.SetConditionalBreakpoint(addr, nil)
}

func (d *Debugger) SetConditionalBreakpoint(addr uint64, cond *BreakpointCondition) bool {
	d.breakpoints[addr] = &ConditionalBreakpoint{Address: addr, Condition: cond}
	return true
}

func (d *Debugger) ClearBreakpoint(addr uint64) bool {
	if _, ok := d.breakpoints[addr]; !ok {
		return false
	}
	delete(d.breakpoints, addr)
	return true
}

func (d *Debugger) ClearAllBreakpoints() { d.breakpoints = make(map[uint64]*ConditionalBreakpoint) }

func (d *Debugger) ListBreakpoints() []uint64 {
	out := make([]uint64, 0, len(d.breakpoints))
	for addr := range d.breakpoints {
		out = append(out, addr)
	}
	return out
}

func (d *Debugger) HasBreakpoint(addr uint64) bool {
	_, ok := d.breakpoints[addr]
	return ok
}

func (d *Debugger) GetConditionalBreakpoint(addr uint64) *ConditionalBreakpoint {
	return d.breakpoints[addr]
}

// CheckBreakpoint reports whether execution stopped at addr should
// actually halt: present, and (if conditional) its condition holds
// after bumping its hit count.
func (d *Debugger) CheckBreakpoint(addr uint64) bool {
	bp, ok := d.breakpoints[addr]
	if !ok {
		return false
	}
	bp.HitCount++
	return d.evaluateCondition(bp.Condition, bp.HitCount)
}

func (d *Debugger) SetWatchpoint(addr uint64) bool {
	data := d.ReadMemory(addr, 1)
	var last byte
	if len(data) == 1 {
		last = data[0]
	}
	d.watchpoints[addr] = &Watchpoint{Type: WatchWrite, Address: addr, LastValue: last}
	return true
}

func (d *Debugger) ClearWatchpoint(addr uint64) bool {
	if _, ok := d.watchpoints[addr]; !ok {
		return false
	}
	delete(d.watchpoints, addr)
	return true
}

func (d *Debugger) ClearAllWatchpoints() { d.watchpoints = make(map[uint64]*Watchpoint) }

func (d *Debugger) ListWatchpoints() []uint64 {
	out := make([]uint64, 0, len(d.watchpoints))
	for addr := range d.watchpoints {
		out = append(out, addr)
	}
	return out
}

// PollWatchpoints re-reads every watched address and returns an event
// for each one whose value changed since the last poll, updating
// LastValue as it goes. Nothing in this package calls it after a step;
// there is no hardware write-trap to hook into.
func (d *Debugger) PollWatchpoints() []BreakpointEvent {
	var events []BreakpointEvent
	for addr, wp := range d.watchpoints {
		data := d.ReadMemory(addr, 1)
		if len(data) == 0 {
			continue
		}
		if data[0] != wp.LastValue {
			events = append(events, BreakpointEvent{
				IsWatch:       true,
				WatchAddr:     addr,
				WatchOldValue: wp.LastValue,
				WatchNewValue: data[0],
			})
			wp.LastValue = data[0]
		}
	}
	return events
}

// FormatCondition renders cond the way the monitor's breakpoint list
// displays it.
func FormatCondition(cond *BreakpointCondition) string {
	if cond == nil {
		return ""
	}
	var lhs string
	switch cond.Source {
	case CondSourceRegister:
		lhs = cond.RegName
	case CondSourceMemory:
		lhs = fmt.Sprintf("[$%X]", cond.MemAddr)
	case CondSourceHitCount:
		lhs = "hitcount"
	}
	var opStr string
	switch cond.Op {
	case CondOpEqual:
		opStr = "=="
	case CondOpNotEqual:
		opStr = "!="
	case CondOpLess:
		opStr = "<"
	case CondOpGreater:
		opStr = ">"
	case CondOpLessEqual:
		opStr = "<="
	case CondOpGreaterEqual:
		opStr = ">="
	}
	return fmt.Sprintf("%s%s$%X", lhs, opStr, cond.Value)
}
