package expr

// Neg returns the logical negation of e using DeMorgan's laws and
// relational inversion. Neg(Neg(e)) is semantically equivalent to e for
// every e (involution), the invariant exercised by TestNegInvolution.
func Neg(e Expr) Expr {
	switch n := e.(type) {
	case *UnaryExpr:
		if n.Op == Not {
			return n.Expr.Clone()
		}
		if inverse, ok := invertUnaryCmp(n.Op); ok {
			return &UnaryExpr{Op: inverse, Expr: n.Expr.Clone()}
		}
		return &UnaryExpr{Op: Not, Expr: n.Clone()}
	case *BinaryExpr:
		if n.Op.IsRelational() {
			return &BinaryExpr{Op: n.Op.negated(), LHS: n.LHS.Clone(), RHS: n.RHS.Clone()}
		}
		if n.Op == And {
			return &BinaryExpr{Op: Or, LHS: Neg(n.LHS), RHS: Neg(n.RHS)}
		}
		if n.Op == Or {
			return &BinaryExpr{Op: And, LHS: Neg(n.LHS), RHS: Neg(n.RHS)}
		}
		return &UnaryExpr{Op: Not, Expr: n.Clone()}
	case *BoolExpr:
		return &BoolExpr{Value: !n.Value}
	default:
		return &UnaryExpr{Op: Not, Expr: e.Clone()}
	}
}

func invertUnaryCmp(op UnaryOp) (UnaryOp, bool) {
	switch op {
	case CmpEq:
		return CmpNe, true
	case CmpNe:
		return CmpEq, true
	case CmpLt:
		return CmpGe, true
	case CmpLe:
		return CmpGt, true
	case CmpGt:
		return CmpLe, true
	case CmpGe:
		return CmpLt, true
	default:
		return 0, false
	}
}

// CollapseCmp implements MIR rewrite 18: Unary{CmpXX, Binary{Cmp, l, r}}
// collapses to Binary{XX, l, r}. Returns nil if e is not of that shape.
func CollapseCmp(e Expr) Expr {
	u, ok := e.(*UnaryExpr)
	if !ok {
		return nil
	}
	bin, ok := u.Expr.(*BinaryExpr)
	if !ok || bin.Op != Cmp {
		return nil
	}
	op, ok := fromUnaryCmp(u.Op)
	if !ok {
		return nil
	}
	return &BinaryExpr{Op: op, LHS: bin.LHS.Clone(), RHS: bin.RHS.Clone()}
}

// HasSideEffects reports whether the subtree rooted at e contains a Call.
func HasSideEffects(e Expr) bool {
	switch n := e.(type) {
	case *CallExpr:
		return true
	case *BuiltInExpr:
		for _, a := range n.Args {
			if HasSideEffects(a) {
				return true
			}
		}
		return false
	case *DerefExpr:
		return HasSideEffects(n.Ptr)
	case *RefExpr:
		return HasSideEffects(n.Inner)
	case *UnaryExpr:
		return HasSideEffects(n.Expr)
	case *BinaryExpr:
		return HasSideEffects(n.LHS) || HasSideEffects(n.RHS)
	default:
		return false
	}
}

// CountReads returns the number of Name(name) occurrences in e.
func CountReads(e Expr, name string) int {
	switch n := e.(type) {
	case *NameExpr:
		if n.Name == name {
			return 1
		}
		return 0
	case *NumExpr, *BoolExpr, *FuncExpr:
		return 0
	case *BuiltInExpr:
		total := 0
		for _, a := range n.Args {
			total += CountReads(a, name)
		}
		return total
	case *DerefExpr:
		return CountReads(n.Ptr, name)
	case *RefExpr:
		return CountReads(n.Inner, name)
	case *CallExpr:
		total := CountReads(n.Func, name)
		for _, a := range n.Args {
			total += CountReads(a, name)
		}
		return total
	case *UnaryExpr:
		return CountReads(n.Expr, name)
	case *BinaryExpr:
		return CountReads(n.LHS, name) + CountReads(n.RHS, name)
	default:
		return 0
	}
}

// ReadNamesRHS returns the multiset (as a slice, duplicates included) of
// every Name read when e is evaluated as an rvalue.
func ReadNamesRHS(e Expr) []string {
	var out []string
	collectReads(e, &out)
	return out
}

func collectReads(e Expr, out *[]string) {
	switch n := e.(type) {
	case *NameExpr:
		*out = append(*out, n.Name)
	case *BuiltInExpr:
		for _, a := range n.Args {
			collectReads(a, out)
		}
	case *DerefExpr:
		collectReads(n.Ptr, out)
	case *RefExpr:
		collectReads(n.Inner, out)
	case *CallExpr:
		collectReads(n.Func, out)
		for _, a := range n.Args {
			collectReads(a, out)
		}
	case *UnaryExpr:
		collectReads(n.Expr, out)
	case *BinaryExpr:
		collectReads(n.LHS, out)
		collectReads(n.RHS, out)
	}
}

// ReadNamesLHS is like ReadNamesRHS except that a bare Name, when e is used
// as a pure write target, contributes no read (it is the destination, not
// a use).
func ReadNamesLHS(e Expr) []string {
	if _, ok := e.(*NameExpr); ok {
		return nil
	}
	return ReadNamesRHS(e)
}

// ReplaceName substitutes every Name(name) occurrence in e with a fresh
// clone of replacement, returning a new tree (e is not mutated).
func ReplaceName(e Expr, name string, replacement Expr) Expr {
	switch n := e.(type) {
	case *NameExpr:
		if n.Name == name {
			return replacement.Clone()
		}
		return n.Clone()
	case *NumExpr, *BoolExpr, *FuncExpr:
		return e.Clone()
	case *BuiltInExpr:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = ReplaceName(a, name, replacement)
		}
		return &BuiltInExpr{Tag: n.Tag, Args: args}
	case *DerefExpr:
		return &DerefExpr{Ptr: ReplaceName(n.Ptr, name, replacement), Size: n.Size}
	case *RefExpr:
		return &RefExpr{Inner: ReplaceName(n.Inner, name, replacement)}
	case *CallExpr:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = ReplaceName(a, name, replacement)
		}
		return &CallExpr{Func: ReplaceName(n.Func, name, replacement), Args: args}
	case *UnaryExpr:
		return &UnaryExpr{Op: n.Op, Expr: ReplaceName(n.Expr, name, replacement)}
	case *BinaryExpr:
		return &BinaryExpr{Op: n.Op, LHS: ReplaceName(n.LHS, name, replacement), RHS: ReplaceName(n.RHS, name, replacement)}
	default:
		return e.Clone()
	}
}

// Placeholder is the benign value Take leaves behind: a zero-valued
// boolean literal, chosen because it has no side effects and reads no
// names, so it never accidentally satisfies a dead-write or inlining
// predicate that the real expression wouldn't have.
func Placeholder() Expr { return &BoolExpr{Value: false} }

// Take moves e out of its slot, returning it, and overwrites *slot with
// Placeholder() so in-place transforms can swap out a subexpression
// without leaving a stale or shared pointer behind.
func Take(slot *Expr) Expr {
	out := *slot
	*slot = Placeholder()
	return out
}
