// Package cfg implements the directed graph over basic-block indices:
// entry tracking, forward/backward adjacency, dominance, and unreachable
// trimming.
package cfg

import "sort"

// CFG is a directed graph over node ids 0..N. Edges are stored as both
// out-adjacency and in-adjacency so the invariant "v in out(u) iff u in
// in(v)" can be checked cheaply after any mutation.
type CFG struct {
	Entry int
	out   map[int]map[int]bool
	in    map[int]map[int]bool
	nodes map[int]bool
}

// New creates an empty CFG with n nodes (0..n-1) and the given entry.
func New(n int, entry int) *CFG {
	g := &CFG{
		Entry: entry,
		out:   make(map[int]map[int]bool),
		in:    make(map[int]map[int]bool),
		nodes: make(map[int]bool),
	}
	for i := 0; i < n; i++ {
		g.AddNode(i)
	}
	return g
}

// AddNode registers a node id if not already present.
func (g *CFG) AddNode(id int) {
	if g.nodes[id] {
		return
	}
	g.nodes[id] = true
	g.out[id] = make(map[int]bool)
	g.in[id] = make(map[int]bool)
}

// RemoveNode deletes a node and every edge touching it.
func (g *CFG) RemoveNode(id int) {
	if !g.nodes[id] {
		return
	}
	for succ := range g.out[id] {
		delete(g.in[succ], id)
	}
	for pred := range g.in[id] {
		delete(g.out[pred], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
}

// AddEdge adds a directed edge u -> v, registering both endpoints.
func (g *CFG) AddEdge(u, v int) {
	g.AddNode(u)
	g.AddNode(v)
	g.out[u][v] = true
	g.in[v][u] = true
}

// RemoveEdge removes a directed edge u -> v if present.
func (g *CFG) RemoveEdge(u, v int) {
	if g.out[u] != nil {
		delete(g.out[u], v)
	}
	if g.in[v] != nil {
		delete(g.in[v], u)
	}
}

// Nodes returns every node id in ascending order.
func (g *CFG) Nodes() []int {
	out := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// HasNode reports whether id is a registered node.
func (g *CFG) HasNode(id int) bool { return g.nodes[id] }

// Out returns the successors of u in ascending order.
func (g *CFG) Out(u int) []int { return sortedKeys(g.out[u]) }

// In returns the predecessors of v in ascending order.
func (g *CFG) In(v int) []int { return sortedKeys(g.in[v]) }

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Consistent checks the CFG invariant: for every edge (u,v), v is in
// out(u) iff u is in in(v). Used by tests.
func (g *CFG) Consistent() bool {
	for u, succs := range g.out {
		for v := range succs {
			if !g.in[v][u] {
				return false
			}
		}
	}
	for v, preds := range g.in {
		for u := range preds {
			if !g.out[u][v] {
				return false
			}
		}
	}
	return true
}

// TrimUnreachable repeatedly removes nodes with no path from Entry until
// the node set stabilizes.
func (g *CFG) TrimUnreachable() {
	for {
		reachable := g.reachableFromEntry()
		changed := false
		for _, id := range g.Nodes() {
			if !reachable[id] {
				g.RemoveNode(id)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (g *CFG) reachableFromEntry() map[int]bool {
	seen := map[int]bool{}
	if !g.nodes[g.Entry] {
		return seen
	}
	stack := []int{g.Entry}
	seen[g.Entry] = true
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range g.Out(n) {
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	return seen
}
