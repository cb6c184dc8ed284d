package cfg

import "testing"

func TestConsistentAfterMutation(t *testing.T) {
	g := New(4, 0)
	g.AddEdge(0, 1)
	g.AddEdge(0, 2)
	g.AddEdge(1, 3)
	g.AddEdge(2, 3)

	if !g.Consistent() {
		t.Fatal("CFG inconsistent after construction")
	}

	g.RemoveEdge(1, 3)
	if !g.Consistent() {
		t.Fatal("CFG inconsistent after RemoveEdge")
	}

	g.RemoveNode(2)
	if !g.Consistent() {
		t.Fatal("CFG inconsistent after RemoveNode")
	}
}

func TestTrimUnreachable(t *testing.T) {
	g := New(5, 0)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	// 3, 4 are unreachable from entry.
	g.AddEdge(3, 4)

	g.TrimUnreachable()

	for _, id := range []int{0, 1, 2} {
		if !g.HasNode(id) {
			t.Errorf("reachable node %d was trimmed", id)
		}
	}
	for _, id := range []int{3, 4} {
		if g.HasNode(id) {
			t.Errorf("unreachable node %d survived trimming", id)
		}
	}
}

func TestDominatorsBasicProperties(t *testing.T) {
	// Diamond: 0 -> {1,2} -> 3
	g := New(4, 0)
	g.AddEdge(0, 1)
	g.AddEdge(0, 2)
	g.AddEdge(1, 3)
	g.AddEdge(2, 3)

	d := Compute(g)

	for _, n := range g.Nodes() {
		if !d.Dominates(0, n) {
			t.Errorf("entry does not dominate reachable node %d", n)
		}
		if !d.Dominates(n, n) {
			t.Errorf("node %d does not dominate itself", n)
		}
	}

	// 3 is reached via both 1 and 2, so neither 1 nor 2 dominates 3.
	if d.Dominates(1, 3) {
		t.Errorf("1 should not dominate 3 in a diamond")
	}
	if d.Dominates(2, 3) {
		t.Errorf("2 should not dominate 3 in a diamond")
	}
}

func TestDominatorsTransitivity(t *testing.T) {
	// Linear chain: 0 -> 1 -> 2 -> 3
	g := New(4, 0)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)

	d := Compute(g)

	if d.Dominates(0, 1) && d.Dominates(1, 3) && !d.Dominates(0, 3) {
		t.Errorf("dominance should be transitive: 0 dom 1, 1 dom 3, but not 0 dom 3")
	}
}

func TestBackEdgeDetection(t *testing.T) {
	// Natural loop: 0 -> 1 -> 2 -> 1 (back edge), 1 -> 3 (exit)
	g := New(4, 0)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(2, 1)
	g.AddEdge(1, 3)

	d := Compute(g)
	if !d.IsBackEdge(2, 1) {
		t.Errorf("edge 2->1 should be classified as a back edge")
	}
	if d.IsBackEdge(0, 1) {
		t.Errorf("edge 0->1 should not be a back edge")
	}
}
