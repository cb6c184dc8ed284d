package mir

import "decomp/internal/lir"

// collectUsedLabels walks the whole tree and returns the set of labels any
// Branch targets.
func collectUsedLabels(seq []Mir) map[lir.Label]bool {
	used := map[lir.Label]bool{}
	var walk func([]Mir)
	walk = func(s []Mir) {
		for _, m := range s {
			switch n := m.(type) {
			case *Branch:
				used[n.Target] = true
			case *If:
				walk(n.TrueThen)
				walk(n.FalseThen)
			case *Loop:
				walk(n.Body)
			case *While:
				walk(n.Body)
			case *For:
				walk(n.Body)
				walk(n.Inc)
			}
		}
	}
	walk(seq)
	return used
}

// TrimLabels is rewrite 1: remove Label(l) if no branch targets l.
func TrimLabels(seq []Mir) ([]Mir, bool) {
	used := collectUsedLabels(seq)
	return Rewrite(seq, func(m Mir) Action {
		if l, ok := m.(*LabelStmt); ok && !used[l.Label] {
			return remove()
		}
		return keep()
	})
}

// EliminateUnreachable is rewrite 4: after a terminating statement in a
// sequence, drop the remainder of that sequence.
func EliminateUnreachable(seq []Mir) ([]Mir, bool) {
	changed := false

	var truncated []Mir
	for _, m := range seq {
		truncated = append(truncated, m)
		if IsTerminating(m) {
			break
		}
	}
	if len(truncated) != len(seq) {
		changed = true
	}

	out := make([]Mir, 0, len(truncated))
	for _, m := range truncated {
		m2, c := mapChildren(m, EliminateUnreachable)
		if c {
			changed = true
		}
		out = append(out, m2)
	}
	return out, changed
}

// LoopStartLabelSwap is rewrite 11: move every Label statement inside a
// Loop's body to the very front, preserving relative order, so later
// label-consuming passes (7, 8) can assume the loop header labels are a
// contiguous prefix.
func LoopStartLabelSwap(seq []Mir) ([]Mir, bool) {
	return Rewrite(seq, func(m Mir) Action {
		loop, ok := m.(*Loop)
		if !ok {
			return keep()
		}

		var labels, rest []Mir
		reordered := false
		seenNonLabel := false
		for _, s := range loop.Body {
			if l, ok := s.(*LabelStmt); ok {
				if seenNonLabel {
					reordered = true
				}
				labels = append(labels, l)
			} else {
				seenNonLabel = true
				rest = append(rest, s)
			}
		}
		if !reordered {
			return keep()
		}
		newBody := append(append([]Mir{}, labels...), rest...)
		return replace(&Loop{Body: newBody})
	})
}
