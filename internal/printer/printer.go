// Package printer renders a structured MIR function as pseudocode, in
// the indent-and-strings.Builder style of kanso's internal/ir.Printer.
package printer

import (
	"fmt"
	"strings"

	"decomp/internal/expr"
	"decomp/internal/mir"
	"decomp/internal/module"
)

// PrettyPrintContext carries the owning Module so that a function
// reference prints as its resolved name when the module has one, and as
// fn{id} otherwise.
type PrettyPrintContext struct {
	Module *module.Module
}

// Func resolves a FuncID to its printable name.
func (c *PrettyPrintContext) Func(id int) string {
	if c != nil && c.Module != nil {
		if decl := c.Module.DeclByID(module.FuncID(id)); decl != nil && decl.Name != "" {
			return decl.Name
		}
	}
	return fmt.Sprintf("fn%d", id)
}

// Operator precedence, per SPEC_FULL.md section 6: reference/deref sit
// at 5, binary at 4, unary at 10, call at 15. A child is parenthesized
// when its own precedence is at or below what its parent requires.
const (
	precLowest   = 0
	precBinary   = 4
	precRefDeref = 5
	precUnary    = 10
	precCall     = 15
	precAtom     = 100
)

// Printer accumulates pretty-printed pseudocode for one function.
type Printer struct {
	ctx    *PrettyPrintContext
	indent int
	output strings.Builder
}

// NewPrinter creates a printer bound to ctx (nil is fine: call
// references fall back to fn{id}).
func NewPrinter(ctx *PrettyPrintContext) *Printer {
	return &Printer{ctx: ctx}
}

// Print renders a whole function to pseudocode.
func Print(ctx *PrettyPrintContext, fn *mir.Function) string {
	p := NewPrinter(ctx)
	p.printFunction(fn)
	return p.output.String()
}

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("    ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

func (p *Printer) printFunction(fn *mir.Function) {
	p.writeLine("func %s(%s) {", fn.Name, strings.Join(fn.Args, ", "))
	p.indent++
	if fn.Frame != nil && len(fn.Frame.Locals()) > 0 {
		p.writeLine("// frame:")
		p.indent++
		for _, l := range fn.Frame.Locals() {
			p.writeLine("%s @ %+d (%s)", l.Name, l.Offset, l.Size)
		}
		p.indent--
	}
	p.printBlock(fn.Body)
	p.indent--
	p.writeLine("}")
}

func (p *Printer) printBlock(body []mir.Mir) {
	for _, stmt := range body {
		p.printStmt(stmt)
	}
}

func (p *Printer) printStmt(m mir.Mir) {
	switch s := m.(type) {
	case *mir.Assign:
		p.writeLine("%s = %s", p.expr(s.Dst, precLowest), p.expr(s.Src, precLowest))
	case *mir.Return:
		if s.Value == nil {
			p.writeLine("return")
		} else {
			p.writeLine("return %s", p.expr(s.Value, precLowest))
		}
	case *mir.Do:
		p.writeLine("%s", p.expr(s.Value, precLowest))
	case *mir.LabelStmt:
		p.writeLine("L%d:", s.Label)
	case *mir.Branch:
		if s.Cond == nil {
			p.writeLine("goto L%d", s.Target)
		} else {
			p.writeLine("if %s goto L%d", p.expr(s.Cond, precLowest), s.Target)
		}
	case *mir.Break:
		p.writeLine("break")
	case *mir.Continue:
		p.writeLine("continue")
	case *mir.If:
		p.writeLine("if %s {", p.expr(s.Cond, precLowest))
		p.indent++
		p.printBlock(s.TrueThen)
		p.indent--
		if len(s.FalseThen) > 0 {
			p.writeLine("} else {")
			p.indent++
			p.printBlock(s.FalseThen)
			p.indent--
		}
		p.writeLine("}")
	case *mir.Loop:
		p.writeLine("loop {")
		p.indent++
		p.printBlock(s.Body)
		p.indent--
		p.writeLine("}")
	case *mir.While:
		p.writeLine("while %s {", p.expr(s.Guard, precLowest))
		p.indent++
		p.printBlock(s.Body)
		p.indent--
		p.writeLine("}")
	case *mir.For:
		p.writeLine("for %s; %s {", p.expr(s.Guard, precLowest), p.incString(s.Inc))
		p.indent++
		p.printBlock(s.Body)
		p.indent--
		p.writeLine("}")
	default:
		p.writeLine("// unknown statement %T", m)
	}
}

func (p *Printer) incString(inc []mir.Mir) string {
	var parts []string
	for _, m := range inc {
		if a, ok := m.(*mir.Assign); ok {
			parts = append(parts, fmt.Sprintf("%s = %s", p.expr(a.Dst, precLowest), p.expr(a.Src, precLowest)))
		}
	}
	return strings.Join(parts, ", ")
}

// expr renders e, wrapping it in parentheses when its own precedence is
// at or below what the surrounding context (required) demands.
func (p *Printer) expr(e expr.Expr, required int) string {
	if e == nil {
		return ""
	}
	prec, s := p.exprPrec(e)
	if prec <= required {
		return "(" + s + ")"
	}
	return s
}

func (p *Printer) exprPrec(e expr.Expr) (int, string) {
	switch v := e.(type) {
	case *expr.NameExpr, *expr.NumExpr, *expr.BoolExpr:
		return precAtom, v.String()
	case *expr.FuncExpr:
		return precAtom, p.ctx.Func(v.FuncID)
	case *expr.RefExpr:
		return precRefDeref, "&" + p.expr(v.Inner, precRefDeref)
	case *expr.DerefExpr:
		return precRefDeref, fmt.Sprintf("*(%s)@%s", p.expr(v.Ptr, precRefDeref), v.Size)
	case *expr.UnaryExpr:
		return precUnary, fmt.Sprintf("%s%s", v.Op, p.expr(v.Expr, precUnary))
	case *expr.BinaryExpr:
		return precBinary, fmt.Sprintf("%s %s %s", p.expr(v.LHS, precBinary), v.Op, p.expr(v.RHS, precBinary))
	case *expr.CallExpr:
		return precCall, fmt.Sprintf("%s(%s)", p.callee(v.Func), p.argList(v.Args))
	case *expr.BuiltInExpr:
		return precCall, fmt.Sprintf("%s(%s)", v.Tag, p.argList(v.Args))
	default:
		return precAtom, e.String()
	}
}

// callee special-cases a bare function reference so it prints without
// the extra parens a generic expr() call would add around an atom.
func (p *Printer) callee(e expr.Expr) string {
	if fe, ok := e.(*expr.FuncExpr); ok {
		return p.ctx.Func(fe.FuncID)
	}
	return p.expr(e, precCall)
}

func (p *Printer) argList(args []expr.Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = p.expr(a, precLowest)
	}
	return strings.Join(parts, ", ")
}
