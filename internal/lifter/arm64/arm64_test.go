package arm64

import (
	"encoding/binary"
	"testing"

	"decomp/internal/expr"
	"decomp/internal/lifter"
	"decomp/internal/lir"
	"decomp/internal/module"
)

func encode(words ...uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func TestToLIR_Ret(t *testing.T) {
	fn, err := New().ToLIR(encode(0xD65F03C0), 0, nil)
	if err != nil {
		t.Fatalf("ToLIR: %v", err)
	}
	if len(fn.Body) != 1 {
		t.Fatalf("expected 1 statement, got %d: %v", len(fn.Body), fn.Body)
	}
	ret, ok := fn.Body[0].(*lir.Return)
	if !ok || ret.Value != nil {
		t.Fatalf("expected a bare Return, got %v", fn.Body[0])
	}
}

func TestToLIR_AddImmediate(t *testing.T) {
	// add x0, x0, #1
	fn, err := New().ToLIR(encode(0x91000400), 0, nil)
	if err != nil {
		t.Fatalf("ToLIR: %v", err)
	}
	if len(fn.Body) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(fn.Body))
	}
	as, ok := fn.Body[0].(*lir.Assign)
	if !ok {
		t.Fatalf("expected an Assign, got %v", fn.Body[0])
	}
	if as.Dst.String() != "x0" {
		t.Errorf("dst = %s, want x0", as.Dst)
	}
	bin, ok := as.Src.(*expr.BinaryExpr)
	if !ok || bin.Op != expr.Add {
		t.Fatalf("src = %v, want an Add", as.Src)
	}
}

func TestToLIR_CmpThenBCondIsDeferred(t *testing.T) {
	// cmp x0, x1 ; b.eq #8 (branch over the next instruction)
	words := []uint32{
		0x6B01001F, // subs xzr, x0, x1 (CMP alias)
		0x54000040, // b.eq +8
	}
	fn, err := New().ToLIR(encode(words...), 0, nil)
	if err != nil {
		t.Fatalf("ToLIR: %v", err)
	}
	var branch *lir.Branch
	for _, s := range fn.Body {
		if b, ok := s.(*lir.Branch); ok {
			branch = b
		}
	}
	if branch == nil || branch.Cond == nil {
		t.Fatalf("expected a conditional branch, got body %v", fn.Body)
	}
	u, ok := branch.Cond.(*expr.UnaryExpr)
	if !ok || u.Op != expr.CmpEq {
		t.Fatalf("branch cond = %v, want a CmpEq predicate", branch.Cond)
	}
}

func TestToLIR_BLResolvesCallTarget(t *testing.T) {
	targets := map[uint64]module.FuncID{0x100: 7}
	fn, err := New().ToLIR(encode(0x94000040), 0, targets) // bl +256
	if err != nil {
		t.Fatalf("ToLIR: %v", err)
	}
	do, ok := fn.Body[0].(*lir.Do)
	if !ok {
		t.Fatalf("expected a Do, got %v", fn.Body[0])
	}
	call, ok := do.Value.(*expr.CallExpr)
	if !ok {
		t.Fatalf("expected a Call, got %v", do.Value)
	}
	fe, ok := call.Func.(*expr.FuncExpr)
	if !ok || fe.FuncID != 7 {
		t.Fatalf("call target = %v, want FuncID 7", call.Func)
	}
}

func TestToLIR_BLUnresolvedTargetErrors(t *testing.T) {
	_, err := New().ToLIR(encode(0x94000040), 0, nil)
	if err == nil {
		t.Fatal("expected an error for an unresolved call target")
	}
	lerr, ok := err.(*lifter.Error)
	if !ok || lerr.Kind != lifter.BadFunctionIndex {
		t.Fatalf("err = %v, want a BadFunctionIndex lifter.Error", err)
	}
}

func TestToLIR_UnknownInstructionErrors(t *testing.T) {
	_, err := New().ToLIR(encode(0xFFFFFFFF), 0, nil)
	if err == nil {
		t.Fatal("expected an error for an unrecognized word")
	}
	lerr, ok := err.(*lifter.Error)
	if !ok || lerr.Kind != lifter.UnknownInstruction {
		t.Fatalf("err = %v, want an UnknownInstruction lifter.Error", err)
	}
}

func TestToLIR_OddLengthErrors(t *testing.T) {
	_, err := New().ToLIR([]byte{1, 2, 3}, 0, nil)
	if err == nil {
		t.Fatal("expected an error for a non-multiple-of-4 length")
	}
}

func TestAbi(t *testing.T) {
	abi := New().Abi()
	if abi.BaseReg != "x29" {
		t.Errorf("BaseReg = %q, want x29", abi.BaseReg)
	}
	if !abi.IsEliminate("x29") {
		t.Error("x29 should be eliminated")
	}
	if !abi.IsCalleeSaved("x19") {
		t.Error("x19 should be callee-saved")
	}
}
