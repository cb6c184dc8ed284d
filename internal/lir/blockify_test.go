package lir

import (
	"testing"

	"decomp/internal/expr"
)

func TestBlockifyErasesUnusedLabel(t *testing.T) {
	fn := NewFunc("f")
	l0 := fn.Labels.Fresh()
	fn.Append(&LabelStmt{Label: l0}) // never referenced: must be erased
	fn.Append(&Return{Value: expr.Num(1)})

	b, err := Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify returned error: %v", err)
	}
	if len(b.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(b.Blocks))
	}
	if len(b.Blocks[0].Statements) != 1 {
		t.Fatalf("expected unused label stripped, got %v", b.Blocks[0].Statements)
	}
}

func TestBlockifyRejectsBranchNotFollowedByLabel(t *testing.T) {
	fn := NewFunc("f")
	l0 := fn.Labels.Fresh()
	fn.Append(&Branch{Target: l0})
	fn.Append(&Return{Value: expr.Num(1)}) // not a label: invariant violation
	fn.Append(&LabelStmt{Label: l0})

	_, err := Blockify(fn)
	if err == nil {
		t.Fatal("expected an InvariantError, got nil")
	}
}

func TestBlockifyDiamondCFG(t *testing.T) {
	fn := NewFunc("f")
	lTrue := fn.Labels.Fresh()
	lJoin := fn.Labels.Fresh()

	fn.Append(&Branch{Cond: expr.Binary(expr.Lt, expr.Name("a"), expr.Name("b")), Target: lTrue})
	fn.Append(&LabelStmt{Label: fn.Labels.Fresh()}) // fallthrough block start (unused label, erased)
	fn.Append(&Assign{Dst: expr.Name("x"), Src: expr.Num(0)})
	fn.Append(&Branch{Target: lJoin})
	fn.Append(&LabelStmt{Label: lTrue})
	fn.Append(&Assign{Dst: expr.Name("x"), Src: expr.Num(1)})
	fn.Append(&Branch{Target: lJoin})
	fn.Append(&LabelStmt{Label: lJoin})
	fn.Append(&Return{Value: expr.Name("x")})

	b, err := Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify returned error: %v", err)
	}
	if len(b.Blocks) != 4 {
		t.Fatalf("expected 4 blocks (A, B, C, join), got %d: %+v", len(b.Blocks), b.Blocks)
	}
	if !b.Graph.Consistent() {
		t.Fatal("resulting CFG is inconsistent")
	}
	if len(b.Graph.Out(0)) != 2 {
		t.Errorf("entry block should have 2 successors, got %d", len(b.Graph.Out(0)))
	}
}

func TestBlockifyRoundTrip(t *testing.T) {
	fn := NewFunc("f")
	lTarget := fn.Labels.Fresh()
	fn.Append(&Assign{Dst: expr.Name("x"), Src: expr.Num(1)})
	fn.Append(&Branch{Target: lTarget})
	fn.Append(&LabelStmt{Label: lTarget})
	fn.Append(&Return{Value: expr.Name("x")})

	b, err := Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify returned error: %v", err)
	}

	flat := Flatten("f", b.Blocks)

	// Re-blockifying the flattened output must reach the same block
	// count and graph shape (the round-trip invariant of section 8).
	b2, err := Blockify(flat)
	if err != nil {
		t.Fatalf("Blockify of flattened output returned error: %v", err)
	}
	if len(b2.Blocks) != len(b.Blocks) {
		t.Errorf("round trip changed block count: %d vs %d", len(b2.Blocks), len(b.Blocks))
	}
}
