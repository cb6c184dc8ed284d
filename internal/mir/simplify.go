package mir

import "decomp/internal/expr"

// deepSimplify rewrites e bottom-up, applying f at every node after its
// children have already been simplified, so f only ever sees
// already-normalized subtrees.
func deepSimplify(e expr.Expr, f func(expr.Expr) (expr.Expr, bool)) (expr.Expr, bool) {
	changed := false

	switch n := e.(type) {
	case *expr.UnaryExpr:
		inner, c := deepSimplify(n.Expr, f)
		if c {
			changed = true
			e = &expr.UnaryExpr{Op: n.Op, Expr: inner}
		}
	case *expr.BinaryExpr:
		l, c1 := deepSimplify(n.LHS, f)
		r, c2 := deepSimplify(n.RHS, f)
		if c1 || c2 {
			changed = true
			e = &expr.BinaryExpr{Op: n.Op, LHS: l, RHS: r}
		}
	case *expr.DerefExpr:
		p, c := deepSimplify(n.Ptr, f)
		if c {
			changed = true
			e = &expr.DerefExpr{Ptr: p, Size: n.Size}
		}
	case *expr.RefExpr:
		i, c := deepSimplify(n.Inner, f)
		if c {
			changed = true
			e = &expr.RefExpr{Inner: i}
		}
	case *expr.CallExpr:
		fn, c0 := deepSimplify(n.Func, f)
		args := make([]expr.Expr, len(n.Args))
		argsChanged := false
		for i, a := range n.Args {
			na, c := deepSimplify(a, f)
			args[i] = na
			if c {
				argsChanged = true
			}
		}
		if c0 || argsChanged {
			changed = true
			e = &expr.CallExpr{Func: fn, Args: args}
		}
	case *expr.BuiltInExpr:
		args := make([]expr.Expr, len(n.Args))
		argsChanged := false
		for i, a := range n.Args {
			na, c := deepSimplify(a, f)
			args[i] = na
			if c {
				argsChanged = true
			}
		}
		if argsChanged {
			changed = true
			e = &expr.BuiltInExpr{Tag: n.Tag, Args: args}
		}
	}

	if ne, ok := f(e); ok {
		return ne, true
	}
	return e, changed
}

// mapExprsSeq applies f (via deepSimplify) to every Expr field reachable
// from seq, recursing into nested bodies.
func mapExprsSeq(seq []Mir, f func(expr.Expr) (expr.Expr, bool)) ([]Mir, bool) {
	changed := false
	out := make([]Mir, len(seq))
	for i, m := range seq {
		m2, c := mapExprOne(m, f)
		if c {
			changed = true
		}
		m3, c2 := mapChildren(m2, func(s []Mir) ([]Mir, bool) { return mapExprsSeq(s, f) })
		if c2 {
			changed = true
		}
		out[i] = m3
	}
	return out, changed
}

func mapExprOne(m Mir, f func(expr.Expr) (expr.Expr, bool)) (Mir, bool) {
	switch s := m.(type) {
	case *Assign:
		dst, c1 := deepSimplify(s.Dst, f)
		src, c2 := deepSimplify(s.Src, f)
		if c1 || c2 {
			return &Assign{Dst: dst, Src: src}, true
		}
	case *Return:
		if s.Value == nil {
			return m, false
		}
		v, c := deepSimplify(s.Value, f)
		if c {
			return &Return{Value: v}, true
		}
	case *Do:
		v, c := deepSimplify(s.Value, f)
		if c {
			return &Do{Value: v}, true
		}
	case *Branch:
		if s.Cond == nil {
			return m, false
		}
		cond, c := deepSimplify(s.Cond, f)
		if c {
			return &Branch{Cond: cond, Target: s.Target}, true
		}
	case *If:
		cond, c := deepSimplify(s.Cond, f)
		if c {
			return &If{Cond: cond, TrueThen: s.TrueThen, FalseThen: s.FalseThen}, true
		}
	case *While:
		guard, c := deepSimplify(s.Guard, f)
		if c {
			return &While{Guard: guard, Body: s.Body}, true
		}
	case *For:
		guard, c := deepSimplify(s.Guard, f)
		if c {
			return &For{Guard: guard, Inc: s.Inc, Body: s.Body}, true
		}
	}
	return m, false
}

// CollapseCmps is rewrite 18: collapse Unary{CmpXX, Binary{Cmp, l, r}} to
// Binary{XX, l, r} everywhere, wrapping the algebra package's CollapseCmp.
func CollapseCmps(seq []Mir) ([]Mir, bool) {
	return mapExprsSeq(seq, func(e expr.Expr) (expr.Expr, bool) {
		if c := expr.CollapseCmp(e); c != nil {
			return c, true
		}
		return e, false
	})
}

// ReduceBinops is rewrite 19: fold constant arithmetic and strip algebraic
// identities (x+0, x-0, x*1, _*0, chained +/- of two literals, double
// negation via neg(), and the And(1,x)/Or(not,not) simplifications).
func ReduceBinops(seq []Mir) ([]Mir, bool) {
	return mapExprsSeq(seq, reduceBinop)
}

func reduceBinop(e expr.Expr) (expr.Expr, bool) {
	bin, ok := e.(*expr.BinaryExpr)
	if !ok {
		if u, ok := e.(*expr.UnaryExpr); ok && u.Op == expr.Not {
			return expr.Neg(u.Expr), true
		}
		return e, false
	}

	lNum, lIsNum := bin.LHS.(*expr.NumExpr)
	rNum, rIsNum := bin.RHS.(*expr.NumExpr)

	if lIsNum && rIsNum {
		switch bin.Op {
		case expr.Add:
			return expr.Num(lNum.Value + rNum.Value), true
		case expr.Sub:
			return expr.Num(lNum.Value - rNum.Value), true
		case expr.Mul:
			return expr.Num(lNum.Value * rNum.Value), true
		}
	}

	switch bin.Op {
	case expr.Add:
		if rIsNum && rNum.Value == 0 {
			return bin.LHS.Clone(), true
		}
		if lIsNum && lNum.Value == 0 {
			return bin.RHS.Clone(), true
		}
		if inner, ok := bin.LHS.(*expr.BinaryExpr); ok && inner.Op == expr.Add && rIsNum {
			if n, ok := inner.RHS.(*expr.NumExpr); ok {
				return &expr.BinaryExpr{Op: expr.Add, LHS: inner.LHS.Clone(), RHS: expr.Num(n.Value + rNum.Value)}, true
			}
		}
	case expr.Sub:
		if rIsNum && rNum.Value == 0 {
			return bin.LHS.Clone(), true
		}
		if rIsNum && rNum.Value < 0 {
			return &expr.BinaryExpr{Op: expr.Add, LHS: bin.LHS.Clone(), RHS: expr.Num(-rNum.Value)}, true
		}
		if inner, ok := bin.LHS.(*expr.BinaryExpr); ok && inner.Op == expr.Add && rIsNum {
			if n, ok := inner.RHS.(*expr.NumExpr); ok {
				return &expr.BinaryExpr{Op: expr.Add, LHS: inner.LHS.Clone(), RHS: expr.Num(n.Value - rNum.Value)}, true
			}
		}
	case expr.Mul:
		if (rIsNum && rNum.Value == 1) || (lIsNum && lNum.Value == 1) {
			if rIsNum && rNum.Value == 1 {
				return bin.LHS.Clone(), true
			}
			return bin.RHS.Clone(), true
		}
		if (rIsNum && rNum.Value == 0) || (lIsNum && lNum.Value == 0) {
			return expr.Num(0), true
		}
	case expr.And:
		if rb, ok := bin.RHS.(*expr.BoolExpr); ok && rb.Value {
			return bin.LHS.Clone(), true
		}
		if lb, ok := bin.LHS.(*expr.BoolExpr); ok && lb.Value {
			return bin.RHS.Clone(), true
		}
	case expr.Or:
		lu, lok := bin.LHS.(*expr.UnaryExpr)
		ru, rok := bin.RHS.(*expr.UnaryExpr)
		if lok && rok && lu.Op == expr.Not && ru.Op == expr.Not {
			return &expr.BinaryExpr{Op: expr.And, LHS: lu.Expr.Clone(), RHS: ru.Expr.Clone()}, true
		}
	}

	return e, false
}
