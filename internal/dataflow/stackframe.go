package dataflow

import (
	"decomp/internal/expr"
	"decomp/internal/frame"
	"decomp/internal/lir"
)

// RecoverStackFrame implements spec section 4.3.5. Given the ABI's base
// register, it runs two passes over every statement in blocks:
//
//  1. Collect every Binary{Add, Name(base), Num(off)} with off >= 0 and
//     insert a fresh size-0 local at each distinct offset.
//  2. Rewrite such expressions to Ref(Name(local)); further rewrite
//     Deref{Ref(Name(local)), size} to a bare Name(local), fixing the
//     local's size on first typed access — subsequent accesses must match
//     that size to fold further, otherwise the Deref{Ref{...}} shape is
//     left as-is (a size-changing reinterpretation is not safe to fold).
//
// Returns the recovered Frame.
func RecoverStackFrame(blocks []*lir.Node, baseReg string) *frame.Frame {
	fr := frame.New()

	for _, b := range blocks {
		for _, stmt := range b.Statements {
			collectFrameSlots(statementExpr(stmt), baseReg, fr)
		}
	}

	for _, b := range blocks {
		for i, stmt := range b.Statements {
			b.Statements[i] = rewriteStatementExprs(stmt, func(e expr.Expr) expr.Expr {
				return rewriteFrameExpr(e, baseReg, fr)
			})
		}
	}

	return fr
}

func collectFrameSlots(exprs []expr.Expr, baseReg string, fr *frame.Frame) {
	for _, e := range exprs {
		walkExpr(e, func(n expr.Expr) {
			if off, ok := isBasePlusOffset(n, baseReg); ok && off >= 0 {
				fr.SlotAt(off)
			}
		})
	}
}

func isBasePlusOffset(e expr.Expr, baseReg string) (int64, bool) {
	bin, ok := e.(*expr.BinaryExpr)
	if !ok || bin.Op != expr.Add {
		return 0, false
	}
	name, ok := bin.LHS.(*expr.NameExpr)
	if !ok || name.Name != baseReg {
		return 0, false
	}
	num, ok := bin.RHS.(*expr.NumExpr)
	if !ok {
		return 0, false
	}
	return num.Value, true
}

// rewriteFrameExpr applies the second pass recursively, innermost first,
// so that Deref{Ref{local}} collapses after the Ref rewrite has already
// happened on its child.
func rewriteFrameExpr(e expr.Expr, baseReg string, fr *frame.Frame) expr.Expr {
	switch n := e.(type) {
	case *expr.DerefExpr:
		ptr := rewriteFrameExpr(n.Ptr, baseReg, fr)
		if ref, ok := ptr.(*expr.RefExpr); ok {
			if name, ok := ref.Inner.(*expr.NameExpr); ok {
				if local := fr.ByName(name.Name); local != nil {
					if local.Size == 0 || local.Size == n.Size {
						local.SetSize(n.Size)
						return expr.Name(local.Name)
					}
					// Size mismatch with a prior fixed access: leave the
					// Deref{Ref{...}} shape as-is rather than folding
					// incorrectly across differing widths.
					return &expr.DerefExpr{Ptr: ptr, Size: n.Size}
				}
			}
		}
		return &expr.DerefExpr{Ptr: ptr, Size: n.Size}
	case *expr.RefExpr:
		return &expr.RefExpr{Inner: rewriteFrameExpr(n.Inner, baseReg, fr)}
	case *expr.BinaryExpr:
		if off, ok := isBasePlusOffset(n, baseReg); ok && off >= 0 {
			local := fr.SlotAt(off)
			return expr.Ref(expr.Name(local.Name))
		}
		return &expr.BinaryExpr{Op: n.Op, LHS: rewriteFrameExpr(n.LHS, baseReg, fr), RHS: rewriteFrameExpr(n.RHS, baseReg, fr)}
	case *expr.UnaryExpr:
		return &expr.UnaryExpr{Op: n.Op, Expr: rewriteFrameExpr(n.Expr, baseReg, fr)}
	case *expr.CallExpr:
		args := make([]expr.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = rewriteFrameExpr(a, baseReg, fr)
		}
		return &expr.CallExpr{Func: rewriteFrameExpr(n.Func, baseReg, fr), Args: args}
	case *expr.BuiltInExpr:
		args := make([]expr.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = rewriteFrameExpr(a, baseReg, fr)
		}
		return &expr.BuiltInExpr{Tag: n.Tag, Args: args}
	default:
		return e
	}
}

// walkExpr visits every subexpression of e, outermost first.
func walkExpr(e expr.Expr, visit func(expr.Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch n := e.(type) {
	case *expr.DerefExpr:
		walkExpr(n.Ptr, visit)
	case *expr.RefExpr:
		walkExpr(n.Inner, visit)
	case *expr.BinaryExpr:
		walkExpr(n.LHS, visit)
		walkExpr(n.RHS, visit)
	case *expr.UnaryExpr:
		walkExpr(n.Expr, visit)
	case *expr.CallExpr:
		walkExpr(n.Func, visit)
		for _, a := range n.Args {
			walkExpr(a, visit)
		}
	case *expr.BuiltInExpr:
		for _, a := range n.Args {
			walkExpr(a, visit)
		}
	}
}

// statementExpr returns every top-level Expr field of a Lir statement.
func statementExpr(stmt lir.Lir) []expr.Expr {
	switch s := stmt.(type) {
	case *lir.Assign:
		return []expr.Expr{s.Dst, s.Src}
	case *lir.Branch:
		if s.Cond == nil {
			return nil
		}
		return []expr.Expr{s.Cond}
	case *lir.Return:
		if s.Value == nil {
			return nil
		}
		return []expr.Expr{s.Value}
	case *lir.Do:
		return []expr.Expr{s.Value}
	default:
		return nil
	}
}

// rewriteStatementExprs rebuilds a statement with f applied to every
// top-level Expr field.
func rewriteStatementExprs(stmt lir.Lir, f func(expr.Expr) expr.Expr) lir.Lir {
	switch s := stmt.(type) {
	case *lir.Assign:
		return &lir.Assign{Dst: f(s.Dst), Src: f(s.Src)}
	case *lir.Branch:
		if s.Cond == nil {
			return s
		}
		return &lir.Branch{Cond: f(s.Cond), Target: s.Target}
	case *lir.Return:
		if s.Value == nil {
			return s
		}
		return &lir.Return{Value: f(s.Value)}
	case *lir.Do:
		return &lir.Do{Value: f(s.Value)}
	default:
		return stmt
	}
}
