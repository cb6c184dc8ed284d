package cfg

// Dominators caches, for each reachable node, the set of nodes that
// dominate it. Computed by the standard iterative intersection dataflow:
// dom(entry) = {entry}; every other node starts at the full node set and
// is repeatedly narrowed to {v} union (intersection of dom(p) for p in
// in(v)) until a pass makes no change. The set lattice is finite and each
// step is monotone-decreasing, so this always terminates.
type Dominators struct {
	g   *CFG
	dom map[int]map[int]bool
}

// Compute builds the Dominators cache for g.
func Compute(g *CFG) *Dominators {
	d := &Dominators{g: g, dom: make(map[int]map[int]bool)}

	all := g.Nodes()
	full := make(map[int]bool, len(all))
	for _, n := range all {
		full[n] = true
	}

	for _, n := range all {
		if n == g.Entry {
			d.dom[n] = map[int]bool{n: true}
		} else {
			cp := make(map[int]bool, len(full))
			for k := range full {
				cp[k] = true
			}
			d.dom[n] = cp
		}
	}

	for {
		changed := false
		for _, n := range all {
			if n == g.Entry {
				continue
			}
			preds := g.In(n)
			var next map[int]bool
			for _, p := range preds {
				if !g.HasNode(p) {
					continue
				}
				if next == nil {
					next = copySet(d.dom[p])
					continue
				}
				next = intersect(next, d.dom[p])
			}
			if next == nil {
				next = map[int]bool{}
			}
			next[n] = true

			if !setsEqual(next, d.dom[n]) {
				d.dom[n] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return d
}

// Dominates reports whether a dominates b (a ∈ dom(b)).
func (d *Dominators) Dominates(a, b int) bool {
	set, ok := d.dom[b]
	if !ok {
		return false
	}
	return set[a]
}

// Set returns the dominator set of n as a slice (unordered).
func (d *Dominators) Set(n int) []int {
	set := d.dom[n]
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// IsBackEdge reports whether u->v is a back edge, i.e. v dominates u.
func (d *Dominators) IsBackEdge(u, v int) bool {
	return d.Dominates(v, u)
}

func copySet(s map[int]bool) map[int]bool {
	out := make(map[int]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func setsEqual(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
