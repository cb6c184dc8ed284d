package mir

import (
	"testing"

	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// buildCFG is a small test helper: n nodes, entry 0, and the given edges.
func buildCFG(n int, edges [][2]int) *cfg.CFG {
	g := cfg.New(n, 0)
	for _, e := range edges {
		g.AddEdge(e[0], e[1])
	}
	return g
}

// TestStructureDiamondIf matches the "Diamond if" end-to-end scenario:
// A -> {B,C} -> D, A ending Branch{Lt(lhs,rhs), C}.
func TestStructureDiamondIf(t *testing.T) {
	cond := expr.Binary(expr.Lt, expr.Name("lhs"), expr.Name("rhs"))
	blocks := []*lir.Node{
		{Statements: []lir.Lir{&lir.Branch{Cond: cond, Target: 2}}}, // A: block 0 -> B(1) fallthrough, C(2) on cond
		{Statements: []lir.Lir{&lir.Assign{Dst: expr.Name("v"), Src: expr.Num(1)}}}, // B: block 1
		{Statements: []lir.Lir{&lir.Assign{Dst: expr.Name("v"), Src: expr.Num(2)}}}, // C: block 2
		{Statements: []lir.Lir{&lir.Return{Value: expr.Name("v")}}},                 // D: block 3
	}
	g := buildCFG(4, [][2]int{{0, 1}, {0, 2}, {1, 3}, {2, 3}})
	dom := cfg.Compute(g)

	out := Structure(blocks, g, dom)

	if len(out) < 2 {
		t.Fatalf("expected at least an If and the join block, got %d statements", len(out))
	}

	var ifNode *If
	for _, m := range out {
		if n, ok := m.(*If); ok {
			ifNode = n
			break
		}
	}
	if ifNode == nil {
		t.Fatalf("expected an If node in %v", out)
	}
	bin, ok := ifNode.Cond.(*expr.BinaryExpr)
	if !ok || bin.Op != expr.Lt {
		t.Errorf("expected Lt condition, got %s", ifNode.Cond)
	}
	if ifNode.FalseThen == nil {
		t.Errorf("expected a nonempty false branch for the diamond's other arm")
	}

	var sawD bool
	for _, m := range out {
		if r, ok := m.(*Return); ok && r.Value.String() == "v" {
			sawD = true
		}
	}
	if !sawD {
		t.Errorf("expected the join block's Return to appear after the If, got %v", out)
	}
}

// TestStructureNaturalLoopPreservesBackEdge covers the raw structuring step
// of the "Natural while" scenario (spec section 8, scenario 4): H -> {B, X},
// B -> H. Structuring itself must preserve the back edge B->H literally as
// a surviving Branch; turning it into a While is MIR rewrite 14, not part
// of structuring.
func TestStructureNaturalLoopPreservesBackEdge(t *testing.T) {
	cond := expr.Binary(expr.Lt, expr.Name("i"), expr.Num(10))
	blocks := []*lir.Node{
		{Statements: []lir.Lir{&lir.Branch{Cond: cond, Target: 1}}}, // H: block 0 -> B(1) on cond, X(2) fallthrough
		{Statements: []lir.Lir{
			&lir.Assign{Dst: expr.Name("i"), Src: expr.Binary(expr.Add, expr.Name("i"), expr.Num(1))},
			&lir.Branch{Target: 0}, // back edge to H
		}},
		{Statements: []lir.Lir{&lir.Return{Value: expr.Name("i")}}}, // X: block 2
	}
	g := buildCFG(3, [][2]int{{0, 1}, {0, 2}, {1, 0}})
	dom := cfg.Compute(g)

	out := Structure(blocks, g, dom)

	var ifNode *If
	for _, m := range out {
		if n, ok := m.(*If); ok {
			ifNode = n
			break
		}
	}
	if ifNode == nil {
		t.Fatalf("expected an If splitting the loop body from the exit, got %v", out)
	}

	var sawBackBranch bool
	var scan func([]Mir)
	scan = func(seq []Mir) {
		for _, m := range seq {
			switch s := m.(type) {
			case *Branch:
				if s.Cond == nil && s.Target == 0 {
					sawBackBranch = true
				}
			case *If:
				scan(s.TrueThen)
				scan(s.FalseThen)
			}
		}
	}
	scan(out)
	if !sawBackBranch {
		t.Errorf("expected the back edge to H to survive literally as a Branch, got %v", out)
	}
}
