package mir

import (
	"testing"

	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// TestConvergeNaturalLoopBecomesFor drives the "Natural while" scenario
// (spec section 8, scenario 4) through the full rewrite pipeline: the
// structured tree produced from H -> {B, X}, B -> H should converge to a
// For loop (the guard stays a forward comparison, the increment is
// hoisted into the loop header) followed by the original exit Return.
func TestConvergeNaturalLoopBecomesFor(t *testing.T) {
	cond := expr.Binary(expr.Lt, expr.Name("i"), expr.Num(10))
	blocks := []*lir.Node{
		{Statements: []lir.Lir{&lir.Branch{Cond: cond, Target: 1}}},
		{Statements: []lir.Lir{
			&lir.Assign{Dst: expr.Name("i"), Src: expr.Binary(expr.Add, expr.Name("i"), expr.Num(1))},
			&lir.Branch{Target: 0},
		}},
		{Statements: []lir.Lir{&lir.Return{Value: expr.Name("i")}}},
	}
	g := buildCFG(3, [][2]int{{0, 1}, {0, 2}, {1, 0}})
	dom := cfg.Compute(g)
	structured := Structure(blocks, g, dom)

	out, err := Converge(structured)
	if err != nil {
		t.Fatalf("Converge did not reach a fixed point: %v", err)
	}

	var loopStmt Mir
	for _, m := range out {
		switch m.(type) {
		case *For, *While, *Loop:
			loopStmt = m
		}
	}
	if loopStmt == nil {
		t.Fatalf("expected a loop construct in converged output, got %v", out)
	}
	if _, ok := loopStmt.(*Loop); ok {
		t.Errorf("expected the raw Loop to have been reduced to a For/While, got %v", out)
	}

	var sawReturn bool
	for _, m := range out {
		if r, ok := m.(*Return); ok && r.Value != nil && r.Value.String() == "i" {
			sawReturn = true
		}
	}
	if !sawReturn {
		t.Errorf("expected the exit Return to survive after the loop, got %v", out)
	}
}

// TestInlineTerminatingIfFlattensEarlyReturn covers a flat (non-loop)
// early-return: if c { return a } else { return b } under a following
// statement flattens so the else arm no longer nests.
func TestInlineTerminatingIfFlattensEarlyReturn(t *testing.T) {
	cond := expr.Binary(expr.Lt, expr.Name("x"), expr.Num(0))
	seq := []Mir{
		&If{
			Cond:      cond,
			TrueThen:  []Mir{&Return{Value: expr.Num(-1)}},
			FalseThen: []Mir{&Return{Value: expr.Name("x")}},
		},
	}

	out, changed := InlineTerminatingIf(seq)
	if !changed {
		t.Fatalf("expected InlineTerminatingIf to flatten the early return")
	}
	if len(out) != 2 {
		t.Fatalf("expected the if and the flattened return as siblings, got %v", out)
	}
	ifNode, ok := out[0].(*If)
	if !ok || len(ifNode.FalseThen) != 0 {
		t.Errorf("expected a bare if with no else, got %v", out[0])
	}
	ret, ok := out[1].(*Return)
	if !ok || ret.Value.String() != "x" {
		t.Errorf("expected the false arm's return hoisted after the if, got %v", out[1])
	}
}
