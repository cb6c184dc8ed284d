package mir

import (
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// InsertLoops is rewrite 6: find a Label L in seq and, scanning forward, a
// Branch targeting L reachable at or below some later top-level statement
// (descending into If/Loop/While/For bodies but never crossing a sibling
// sequence) — the back edge the structuring algorithm preserved literally.
// Wrap the span from the label through that statement in Loop{body: ...}.
// Recurses so nested natural loops are discovered too.
func InsertLoops(seq []Mir) ([]Mir, bool) {
	changed := false
	var out []Mir

	for i := 0; i < len(seq); i++ {
		l, ok := seq[i].(*LabelStmt)
		if ok {
			if j := findClosingBackBranch(seq, i+1, l.Label); j >= 0 {
				body := append([]Mir{}, seq[i:j+1]...)
				// Recurse only on the interior, after the header label: the
				// header itself already matched this span, so re-scanning
				// the whole body would just rematch the identical span and
				// never terminate. A distinct nested loop's header can only
				// start later in the body.
				rest, _ := InsertLoops(body[1:])
				bodyRewritten := append([]Mir{body[0]}, rest...)
				out = append(out, &Loop{Body: bodyRewritten})
				changed = true
				i = j
				continue
			}
		}

		m2, c := mapChildren(seq[i], InsertLoops)
		if c {
			changed = true
		}
		out = append(out, m2)
	}

	return out, changed
}

func findClosingBackBranch(seq []Mir, start int, target lir.Label) int {
	for j := start; j < len(seq); j++ {
		if containsBranchTo(seq[j], target) {
			return j
		}
	}
	return -1
}

func containsBranchTo(m Mir, target lir.Label) bool {
	switch s := m.(type) {
	case *Branch:
		return s.Target == target
	case *If:
		return seqContainsBranchTo(s.TrueThen, target) || seqContainsBranchTo(s.FalseThen, target)
	case *Loop:
		return seqContainsBranchTo(s.Body, target)
	case *While:
		return seqContainsBranchTo(s.Body, target)
	case *For:
		return seqContainsBranchTo(s.Body, target) || seqContainsBranchTo(s.Inc, target)
	default:
		return false
	}
}

func seqContainsBranchTo(seq []Mir, target lir.Label) bool {
	for _, m := range seq {
		if containsBranchTo(m, target) {
			return true
		}
	}
	return false
}

// leadingLabels collects the Labels forming the contiguous prefix of body.
func leadingLabels(body []Mir) map[lir.Label]bool {
	labels := map[lir.Label]bool{}
	for _, m := range body {
		l, ok := m.(*LabelStmt)
		if !ok {
			break
		}
		labels[l.Label] = true
	}
	return labels
}

// replaceGotos rewrites every Branch targeting a label in targets, anywhere
// in seq (including nested bodies), using f.
func replaceGotos(seq []Mir, targets map[lir.Label]bool, f func(*Branch) Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		br, ok := m.(*Branch)
		if !ok || !targets[br.Target] {
			return keep()
		}
		return replace(f(br))
	})
}

// GotosToContinue is rewrite 7: inside a Loop whose body starts with one or
// more Labels, a Branch to one of those labels anywhere in the body
// becomes Continue (or a conditional If{[Continue]} for a conditional
// goto).
func GotosToContinue(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		loop, ok := m.(*Loop)
		if !ok {
			return keep()
		}
		leading := leadingLabels(loop.Body)
		if len(leading) == 0 {
			return keep()
		}
		newBody, changed := replaceGotos(loop.Body, leading, func(br *Branch) Mir {
			if br.Cond == nil {
				return &Continue{}
			}
			return &If{Cond: br.Cond, TrueThen: []Mir{&Continue{}}}
		})
		if !changed {
			return keep()
		}
		return replace(&Loop{Body: newBody})
	})
}

// GotosToBreak is rewrite 8: given the Labels that directly follow a Loop
// in the enclosing sequence, any Branch inside the loop's body to one of
// them becomes Break (conditionally wrapped if needed).
func GotosToBreak(seq []Mir) ([]Mir, bool) {
	changed := false
	out := make([]Mir, len(seq))
	copy(out, seq)

	for i, m := range out {
		loop, ok := m.(*Loop)
		if !ok {
			continue
		}
		following := map[lir.Label]bool{}
		for j := i + 1; j < len(out); j++ {
			l, ok := out[j].(*LabelStmt)
			if !ok {
				break
			}
			following[l.Label] = true
		}
		if len(following) == 0 {
			continue
		}
		newBody, c := replaceGotos(loop.Body, following, func(br *Branch) Mir {
			if br.Cond == nil {
				return &Break{}
			}
			return &If{Cond: br.Cond, TrueThen: []Mir{&Break{}}}
		})
		if c {
			out[i] = &Loop{Body: newBody}
			changed = true
		}
	}

	for i, m := range out {
		m2, c := mapChildren(m, GotosToBreak)
		if c {
			changed = true
		}
		out[i] = m2
	}

	return out, changed
}

// FinalContinues is rewrite 10: a Continue as the very last statement of a
// Loop body is redundant.
func FinalContinues(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		loop, ok := m.(*Loop)
		if !ok || len(loop.Body) == 0 {
			return keep()
		}
		if _, ok := loop.Body[len(loop.Body)-1].(*Continue); !ok {
			return keep()
		}
		return replace(&Loop{Body: loop.Body[:len(loop.Body)-1]})
	})
}

// containsBreak reports whether body has a Break that would break this
// loop — it descends into If but not into a nested Loop/While/For, whose
// Breaks belong to themselves.
func containsBreak(body []Mir) bool {
	for _, m := range body {
		switch s := m.(type) {
		case *Break:
			return true
		case *If:
			if containsBreak(s.TrueThen) || containsBreak(s.FalseThen) {
				return true
			}
		}
	}
	return false
}

func countBreaks(body []Mir) int {
	n := 0
	for _, m := range body {
		switch s := m.(type) {
		case *Break:
			n++
		case *If:
			n += countBreaks(s.TrueThen) + countBreaks(s.FalseThen)
		}
	}
	return n
}

// containsContinue is containsBreak's Continue counterpart.
func containsContinue(body []Mir) bool {
	for _, m := range body {
		switch s := m.(type) {
		case *Continue:
			return true
		case *If:
			if containsContinue(s.TrueThen) || containsContinue(s.FalseThen) {
				return true
			}
		}
	}
	return false
}

// InfiniteLoopUnreachable is rewrite 12: if a Loop has no Break, the
// statements following it in the same sequence are unreachable up to the
// next Label.
func InfiniteLoopUnreachable(seq []Mir) ([]Mir, bool) {
	changed := false
	var out []Mir

	for i := 0; i < len(seq); i++ {
		m, c := mapChildren(seq[i], InfiniteLoopUnreachable)
		if c {
			changed = true
		}
		out = append(out, m)

		loop, ok := m.(*Loop)
		if !ok || containsBreak(loop.Body) {
			continue
		}

		j := i + 1
		for j < len(seq) {
			if _, ok := seq[j].(*LabelStmt); ok {
				break
			}
			j++
		}
		if j > i+1 {
			changed = true
		}
		i = j - 1
	}

	return out, changed
}

// TerminatingToBreak is rewrite 13: if a Loop starts with
// If{c, [...prefix, term]} (no else) whose terminator is a Break — and the
// loop has exactly that one Break — or a Return — and the loop has none —
// it is canonicalized to If{c, [Break]}. Any prefix ahead of the
// terminator is rotated: it runs once before the loop, and again at the
// end of the loop body, preparing for the next iteration's check. A
// Return terminator also carries a payload that must still run exactly
// once on exit, so it is relocated to just after the (now Break-using)
// loop, rather than dropped.
func TerminatingToBreak(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		loop, ok := m.(*Loop)
		if !ok || len(loop.Body) == 0 {
			return keep()
		}
		first, ok := loop.Body[0].(*If)
		if !ok || len(first.FalseThen) != 0 || len(first.TrueThen) == 0 {
			return keep()
		}

		term := first.TrueThen[len(first.TrueThen)-1]
		prefix := first.TrueThen[:len(first.TrueThen)-1]

		breaks := countBreaks(loop.Body)
		_, isBreak := term.(*Break)
		_, isReturn := term.(*Return)
		switch {
		case isBreak:
			if breaks != 1 || len(prefix) == 0 {
				return keep() // already canonical, nothing to rotate
			}
		case isReturn:
			if breaks != 0 {
				return keep()
			}
		default:
			return keep()
		}

		rest := loop.Body[1:]
		newBody := append([]Mir{&If{Cond: first.Cond, TrueThen: []Mir{&Break{}}}}, rest...)
		newBody = append(newBody, prefix...)

		many := append(append([]Mir{}, prefix...), &Loop{Body: newBody})
		if isReturn {
			many = append(many, term)
		}
		return replaceMany(many)
	})
}

func isSingleBreak(arm []Mir) bool {
	if len(arm) != 1 {
		return false
	}
	_, ok := arm[0].(*Break)
	return ok
}

// LoopsToWhiles is rewrite 14: Loop{body} whose first statement is
// If{c, [Break], E} becomes While{neg(c), E...; rest}; symmetric for
// If{c, T, [Break]} (guard stays c).
func LoopsToWhiles(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		loop, ok := m.(*Loop)
		if !ok || len(loop.Body) == 0 {
			return keep()
		}
		first, ok := loop.Body[0].(*If)
		if !ok {
			return keep()
		}
		rest := loop.Body[1:]

		if isSingleBreak(first.TrueThen) {
			body := append(append([]Mir{}, first.FalseThen...), rest...)
			return replace(&While{Guard: expr.Neg(first.Cond), Body: body})
		}
		if isSingleBreak(first.FalseThen) {
			body := append(append([]Mir{}, first.TrueThen...), rest...)
			return replace(&While{Guard: first.Cond, Body: body})
		}
		return keep()
	})
}

// WhilesToFors is rewrite 15: While{g, body} whose final statement is an
// Assign and whose body contains no Continue becomes
// For{g, inc: [that assign], body: rest}.
func WhilesToFors(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		w, ok := m.(*While)
		if !ok || len(w.Body) == 0 {
			return keep()
		}
		last := w.Body[len(w.Body)-1]
		asn, ok := last.(*Assign)
		if !ok {
			return keep()
		}
		if containsContinue(w.Body) {
			return keep()
		}
		return replace(&For{Guard: w.Guard, Inc: []Mir{asn}, Body: w.Body[:len(w.Body)-1]})
	})
}
