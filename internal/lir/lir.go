// Package lir implements the linear, three-address low-level IR and its
// blockification into a basic-block graph.
package lir

import (
	"fmt"

	"decomp/internal/expr"
)

// Label is an opaque branch-target tag. Before blockification it names a
// Label statement; after blockification the basic-block index plays this
// role directly.
type Label int

// LabelAllocator hands out fresh Labels.
type LabelAllocator struct {
	next Label
}

// NewLabelAllocator creates an allocator starting at label 0.
func NewLabelAllocator() *LabelAllocator {
	return &LabelAllocator{next: 0}
}

// Fresh returns a never-before-seen Label.
func (a *LabelAllocator) Fresh() Label {
	l := a.next
	a.next++
	return l
}

// Lir is the closed statement sum type of the linear IR.
type Lir interface {
	isLir()
	String() string
}

func (*Assign) isLir() {}
func (*Branch) isLir() {}
func (*LabelStmt) isLir() {}
func (*Return) isLir() {}
func (*Do) isLir() {}

// Assign writes src into dst. dst is Name(..) for a register/local write,
// or Deref{..} for a memory write.
type Assign struct {
	Dst expr.Expr
	Src expr.Expr
}

// Branch jumps to Target. Unconditional when Cond is nil.
type Branch struct {
	Cond   expr.Expr
	Target Label
}

// LabelStmt marks a branch target. Erased after blockification.
type LabelStmt struct {
	Label Label
}

// Return yields the function's return value.
type Return struct {
	Value expr.Expr
}

// Do evaluates an expression purely for its side effect (a discarded
// call result).
type Do struct {
	Value expr.Expr
}

func (a *Assign) String() string    { return fmt.Sprintf("%s = %s", a.Dst, a.Src) }
func (b *Branch) String() string {
	if b.Cond == nil {
		return fmt.Sprintf("goto L%d", b.Target)
	}
	return fmt.Sprintf("if %s goto L%d", b.Cond, b.Target)
}
func (l *LabelStmt) String() string { return fmt.Sprintf("L%d:", l.Label) }
func (r *Return) String() string {
	if r.Value == nil {
		return "return"
	}
	return fmt.Sprintf("return %s", r.Value)
}
func (d *Do) String() string { return d.Value.String() }

// IsTerminator reports whether stmt ends a basic block (Branch or
// Return).
func IsTerminator(stmt Lir) bool {
	switch stmt.(type) {
	case *Branch, *Return:
		return true
	default:
		return false
	}
}

// Func is an ordered sequence of Lir statements with its own label
// allocator, the unit the lifter produces per source function.
type Func struct {
	Name   string
	Body   []Lir
	Labels *LabelAllocator
}

// NewFunc creates an empty linear-IR function.
func NewFunc(name string) *Func {
	return &Func{Name: name, Labels: NewLabelAllocator()}
}

// Append adds a statement to the function body.
func (f *Func) Append(stmt Lir) {
	f.Body = append(f.Body, stmt)
}
