// Package frame holds the stack-frame table shared between stack-frame
// recovery (internal/dataflow) and the structured MIR tree that carries
// it (internal/mir).
package frame

import (
	"strconv"

	"decomp/internal/expr"
)

// Local is one recovered stack slot: a name, its offset from the frame
// base, and its size (0 until first typed access fixes it).
type Local struct {
	Name   string
	Offset int64
	Size   expr.Size
}

// Frame is an ordered-by-offset list of recovered locals. Offsets are
// unique; a new slot is created on first use with size 0 and its size is
// fixed on first typed access.
type Frame struct {
	locals []*Local
	byOff  map[int64]*Local
}

// New creates an empty stack frame.
func New() *Frame {
	return &Frame{byOff: make(map[int64]*Local)}
}

// nameFor deterministically names a slot by its offset, matching the
// "stack slot names" Name variant described in the expression algebra.
func nameFor(offset int64) string {
	if offset < 0 {
		return "stack_neg" + strconv.FormatInt(-offset, 10)
	}
	return "stack_" + strconv.FormatInt(offset, 10)
}

// SlotAt returns the local at offset, creating a fresh size-0 slot on
// first use, and inserting it keeping Locals ordered by offset.
func (f *Frame) SlotAt(offset int64) *Local {
	if l, ok := f.byOff[offset]; ok {
		return l
	}
	l := &Local{Name: nameFor(offset), Offset: offset, Size: 0}
	f.byOff[offset] = l

	i := 0
	for i < len(f.locals) && f.locals[i].Offset < offset {
		i++
	}
	f.locals = append(f.locals, nil)
	copy(f.locals[i+1:], f.locals[i:])
	f.locals[i] = l
	return l
}

// Locals returns every recovered local, ordered by offset.
func (f *Frame) Locals() []*Local { return f.locals }

// ByName finds a local by its synthesized name.
func (f *Frame) ByName(name string) *Local {
	for _, l := range f.locals {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// SetSize fixes a local's size on first typed access. Subsequent calls
// with a differing size are rejected by the caller (internal/dataflow)
// before folding further, per the invariant in spec section 4.3.5.
func (l *Local) SetSize(s expr.Size) { l.Size = s }
