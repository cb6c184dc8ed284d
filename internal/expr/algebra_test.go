package expr

import "testing"

func TestNegInvolution(t *testing.T) {
	cases := []Expr{
		Binary(Lt, Name("a"), Num(1)),
		Binary(And, Binary(Eq, Name("a"), Num(1)), Binary(Ne, Name("b"), Num(2))),
		Unary(Not, Name("flag")),
		Bool(true),
		Call(Func(0), Name("x")),
	}

	for _, e := range cases {
		got := Neg(Neg(e))
		if got.String() != e.String() {
			t.Errorf("Neg(Neg(%s)) = %s, want %s", e, got, e)
		}
	}
}

func TestNegDeMorgan(t *testing.T) {
	e := Binary(And, Binary(Lt, Name("a"), Num(1)), Binary(Gt, Name("b"), Num(2)))
	got := Neg(e)
	bin, ok := got.(*BinaryExpr)
	if !ok || bin.Op != Or {
		t.Fatalf("Neg(And) = %s, want an Or at the top", got)
	}
	lhs, ok := bin.LHS.(*BinaryExpr)
	if !ok || lhs.Op != Ge {
		t.Errorf("left arm of negated And = %s, want >=", bin.LHS)
	}
}

func TestCountReadsAfterReplace(t *testing.T) {
	e := Binary(Add, Name("x"), Binary(Mul, Name("x"), Num(2)))
	replaced := ReplaceName(e, "x", Name("y"))

	if got := CountReads(replaced, "x"); got != 0 {
		t.Errorf("CountReads(x) after replacing x = %d, want 0", got)
	}
	if got := CountReads(e, "x"); got != 2 {
		t.Errorf("CountReads(x) in original = %d, want 2", got)
	}
	if got := CountReads(replaced, "y"); got != 2 {
		t.Errorf("CountReads(y) after replace = %d, want 2", got)
	}
}

func TestReadNamesLHSBareNameNoRead(t *testing.T) {
	names := ReadNamesLHS(Name("x0"))
	if len(names) != 0 {
		t.Errorf("ReadNamesLHS(bare name) = %v, want empty", names)
	}

	derefNames := ReadNamesLHS(Deref(Name("x0"), Size64))
	if len(derefNames) != 1 || derefNames[0] != "x0" {
		t.Errorf("ReadNamesLHS(deref) = %v, want [x0]", derefNames)
	}
}

func TestHasSideEffects(t *testing.T) {
	pure := Binary(Add, Name("a"), Num(1))
	if HasSideEffects(pure) {
		t.Errorf("pure expr reported as having side effects")
	}
	withCall := Binary(Add, Call(Func(1)), Num(1))
	if !HasSideEffects(withCall) {
		t.Errorf("expr containing a call reported as pure")
	}
}

func TestCollapseCmp(t *testing.T) {
	cmp := Binary(Cmp, Name("a"), Name("b"))
	e := Unary(CmpLt, cmp)
	got := CollapseCmp(e)
	if got == nil {
		t.Fatal("CollapseCmp returned nil for a valid Unary{CmpLt, Binary{Cmp}}")
	}
	bin, ok := got.(*BinaryExpr)
	if !ok || bin.Op != Lt {
		t.Errorf("CollapseCmp result = %s, want a Lt binary", got)
	}

	if CollapseCmp(Binary(Add, Name("a"), Num(1))) != nil {
		t.Errorf("CollapseCmp should return nil for non-matching shapes")
	}
}

func TestTakeLeavesBenignPlaceholder(t *testing.T) {
	var slot Expr = Call(Func(2), Name("x"))
	taken := Take(&slot)

	if _, ok := taken.(*CallExpr); !ok {
		t.Errorf("Take did not return the original expr, got %T", taken)
	}
	if HasSideEffects(slot) {
		t.Errorf("slot left behind by Take still has side effects: %s", slot)
	}
}
