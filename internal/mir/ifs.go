package mir

import (
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// CompressControlFlow is rewrite 2: remove a Branch immediately preceded,
// in the same sequence, by only Label statements — one of which is its own
// target. Control already reaches that label by falling through, so
// jumping there is a no-op.
func CompressControlFlow(seq []Mir) ([]Mir, bool) {
	changed := false
	out := make([]Mir, 0, len(seq))

	for _, m := range seq {
		m2, c := mapChildren(m, CompressControlFlow)
		if c {
			changed = true
		}

		if br, ok := m2.(*Branch); ok {
			if redundant := precededOnlyByLabelsIncluding(out, br.Target); redundant {
				changed = true
				continue
			}
		}
		out = append(out, m2)
	}

	return out, changed
}

func precededOnlyByLabelsIncluding(prefix []Mir, target lir.Label) bool {
	found := false
	for j := len(prefix) - 1; j >= 0; j-- {
		l, ok := prefix[j].(*LabelStmt)
		if !ok {
			break
		}
		if l.Label == target {
			found = true
		}
	}
	return found
}

// CullFallthroughJumps is rewrite 3: within an If embedded in seq, pop a
// trailing Branch from either arm when its target labels the statement(s)
// immediately following the enclosing If (the "end-set") — falling out of
// the If already reaches there.
func CullFallthroughJumps(seq []Mir) ([]Mir, bool) {
	changed := false
	out := make([]Mir, len(seq))
	copy(out, seq)

	for i, m := range out {
		m2, c := mapChildren(m, CullFallthroughJumps)
		if c {
			changed = true
		}
		out[i] = m2
	}

	for i, m := range out {
		ifNode, ok := m.(*If)
		if !ok {
			continue
		}
		endSet := map[lir.Label]bool{}
		for j := i + 1; j < len(out); j++ {
			l, ok := out[j].(*LabelStmt)
			if !ok {
				break
			}
			endSet[l.Label] = true
		}
		newTrue, c1 := popTrailingBranchToEndSet(ifNode.TrueThen, endSet)
		newFalse, c2 := popTrailingBranchToEndSet(ifNode.FalseThen, endSet)
		if c1 || c2 {
			out[i] = &If{Cond: ifNode.Cond, TrueThen: newTrue, FalseThen: newFalse}
			changed = true
		}
	}

	return out, changed
}

func popTrailingBranchToEndSet(arm []Mir, endSet map[lir.Label]bool) ([]Mir, bool) {
	if len(arm) == 0 {
		return arm, false
	}
	last := arm[len(arm)-1]
	br, ok := last.(*Branch)
	if !ok || br.Cond != nil {
		return arm, false
	}
	if !endSet[br.Target] {
		return arm, false
	}
	return arm[:len(arm)-1], true
}

// InlineTerminatingIf is rewrite 5: when an If's true arm ends in a
// Return or Break (see armTerminatesStrict) and the false arm is
// nonempty, flatten `if c {T…} else {F…}` to `if c {T…}; F…`. The
// symmetric rule applies when the false arm terminates.
func InlineTerminatingIf(seq []Mir) ([]Mir, bool) {
	changed := false
	out := make([]Mir, 0, len(seq))

	for _, m := range seq {
		m2, c := mapChildren(m, InlineTerminatingIf)
		if c {
			changed = true
		}

		ifNode, ok := m2.(*If)
		if !ok {
			out = append(out, m2)
			continue
		}

		trueTerm := armTerminatesStrict(ifNode.TrueThen)
		falseTerm := armTerminatesStrict(ifNode.FalseThen)

		switch {
		case trueTerm && len(ifNode.FalseThen) > 0:
			out = append(out, &If{Cond: ifNode.Cond, TrueThen: ifNode.TrueThen})
			out = append(out, ifNode.FalseThen...)
			changed = true
		case falseTerm && len(ifNode.TrueThen) > 0:
			// if c {T} else {F}, F terminating, is if !c {F}; T — negate
			// the guard since F now runs when the ORIGINAL cond is false.
			out = append(out, &If{Cond: expr.Neg(ifNode.Cond), TrueThen: ifNode.FalseThen})
			out = append(out, ifNode.TrueThen...)
			changed = true
		default:
			out = append(out, ifNode)
		}
	}

	return out, changed
}

func armTerminates(arm []Mir) bool {
	if len(arm) == 0 {
		return false
	}
	last := arm[len(arm)-1]
	if _, ok := last.(*Continue); ok {
		return false
	}
	return IsTerminating(last)
}

// armTerminatesStrict is armTerminates restricted to Return/Break: it
// excludes a bare unconditional Branch (a goto), since at the point
// InlineTerminatingIf runs a surviving Branch may still be an
// undiscovered loop back edge — hoisting its sibling arm out from under
// it would misattribute what is really "continue the loop" as "fall past
// the if", moving code that must run on every iteration to after a loop
// that hasn't been recognized as such yet.
func armTerminatesStrict(arm []Mir) bool {
	if len(arm) == 0 {
		return false
	}
	switch arm[len(arm)-1].(type) {
	case *Return, *Break:
		return true
	default:
		return false
	}
}

// StepBackBreaks is rewrite 9: a free-standing Break immediately following
// an If whose branches are both non-terminating is distributed into both
// branches (each gets a trailing Break) and removed from the outer
// sequence.
func StepBackBreaks(seq []Mir) ([]Mir, bool) {
	changed := false
	out := make([]Mir, 0, len(seq))

	for i := 0; i < len(seq); i++ {
		m, c := mapChildren(seq[i], StepBackBreaks)
		if c {
			changed = true
		}

		ifNode, ok := m.(*If)
		if ok && i+1 < len(seq) {
			if _, isBreak := seq[i+1].(*Break); isBreak {
				if !armTerminates(ifNode.TrueThen) && !armTerminates(ifNode.FalseThen) {
					newTrue := append(append([]Mir{}, ifNode.TrueThen...), &Break{})
					newFalse := append(append([]Mir{}, ifNode.FalseThen...), &Break{})
					out = append(out, &If{Cond: ifNode.Cond, TrueThen: newTrue, FalseThen: newFalse})
					i++ // consume the Break
					changed = true
					continue
				}
			}
		}

		out = append(out, m)
	}

	return out, changed
}

// FlipNegatedIfs is rewrite 16: while cond has the form Not(inner), strip
// the Not; if the total number of strips is odd, swap true_then and
// false_then.
func FlipNegatedIfs(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		ifNode, ok := m.(*If)
		if !ok {
			return keep()
		}

		cond := ifNode.Cond
		strips := 0
		for {
			u, ok := cond.(*expr.UnaryExpr)
			if !ok || u.Op != expr.Not {
				break
			}
			cond = u.Expr
			strips++
		}
		if strips == 0 {
			return keep()
		}

		t, f := ifNode.TrueThen, ifNode.FalseThen
		if strips%2 == 1 {
			t, f = f, t
		}
		return replace(&If{Cond: cond, TrueThen: t, FalseThen: f})
	})
}

// CompressIfChains is rewrite 17: if c { if c2 { T } } (empty else on both)
// collapses to if (c and c2) { T }.
func CompressIfChains(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		outer, ok := m.(*If)
		if !ok || len(outer.FalseThen) != 0 || len(outer.TrueThen) != 1 {
			return keep()
		}
		inner, ok := outer.TrueThen[0].(*If)
		if !ok || len(inner.FalseThen) != 0 {
			return keep()
		}
		return replace(&If{Cond: expr.Binary(expr.And, outer.Cond, inner.Cond), TrueThen: inner.TrueThen})
	})
}
