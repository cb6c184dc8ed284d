package dataflow

import (
	"testing"

	"decomp/internal/expr"
	"decomp/internal/lir"
	"decomp/internal/module"
)

func abiFor(args, calleeSaved, global []string) *module.Abi {
	return &module.Abi{Args: args, CalleeSaved: calleeSaved, Global: global}
}

func TestEliminateDeadWrites(t *testing.T) {
	fn := lir.NewFunc("f")
	fn.Append(&lir.Assign{Dst: expr.Name("tmp"), Src: expr.Num(1)}) // dead
	fn.Append(&lir.Assign{Dst: expr.Name("x0"), Src: expr.Num(2)})
	fn.Append(&lir.Return{Value: expr.Name("x0")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	abi := abiFor(nil, nil, nil)
	EliminateDeadWrites(b.Blocks, b.Graph, abi)

	if len(b.Blocks[0].Statements) != 2 {
		t.Fatalf("expected dead write removed, left with %d statements: %v", len(b.Blocks[0].Statements), b.Blocks[0].Statements)
	}
}

func TestEliminateDeadWritesKeepsCalleeSavedBeforeReturn(t *testing.T) {
	fn := lir.NewFunc("f")
	fn.Append(&lir.Assign{Dst: expr.Name("x19"), Src: expr.Num(9)})
	fn.Append(&lir.Return{Value: expr.Name("x0")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	abi := abiFor(nil, []string{"x19"}, nil)
	EliminateDeadWrites(b.Blocks, b.Graph, abi)

	if len(b.Blocks[0].Statements) != 2 {
		t.Fatalf("callee-saved write before return should survive, got %v", b.Blocks[0].Statements)
	}
}

func TestInlineSingleUse(t *testing.T) {
	fn := lir.NewFunc("f")
	fn.Append(&lir.Assign{Dst: expr.Name("t"), Src: expr.Binary(expr.Add, expr.Name("a"), expr.Num(1))})
	fn.Append(&lir.Return{Value: expr.Name("t")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	changed := InlineSingleUse(b.Blocks, b.Graph)
	if !changed {
		t.Fatal("expected inlining to occur")
	}
	if len(b.Blocks[0].Statements) != 1 {
		t.Fatalf("expected assignment removed after inlining, got %v", b.Blocks[0].Statements)
	}
	ret, ok := b.Blocks[0].Statements[0].(*lir.Return)
	if !ok {
		t.Fatalf("expected a Return statement, got %T", b.Blocks[0].Statements[0])
	}
	if ret.Value.String() != "(a + 1)" {
		t.Errorf("expected inlined expression (a + 1), got %s", ret.Value)
	}
}

func TestInlineSingleUseBlockedByIntermediateCall(t *testing.T) {
	fn := lir.NewFunc("f")
	fn.Append(&lir.Assign{Dst: expr.Name("t"), Src: expr.Name("a")})
	fn.Append(&lir.Do{Value: expr.Call(expr.Func(1))})
	fn.Append(&lir.Return{Value: expr.Name("t")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	InlineSingleUse(b.Blocks, b.Graph)
	if len(b.Blocks[0].Statements) != 3 {
		t.Fatalf("inlining across an intervening call should be blocked, got %v", b.Blocks[0].Statements)
	}
}

func TestStackFrameRecovery(t *testing.T) {
	fn := lir.NewFunc("f")
	addr := expr.Binary(expr.Add, expr.Name("x29"), expr.Num(16))
	fn.Append(&lir.Assign{Dst: expr.Name("v"), Src: expr.Deref(addr.Clone(), expr.Size64)})
	fn.Append(&lir.Return{Value: expr.Name("v")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	fr := RecoverStackFrame(b.Blocks, "x29")
	if len(fr.Locals()) != 1 {
		t.Fatalf("expected one recovered local, got %d", len(fr.Locals()))
	}
	local := fr.Locals()[0]
	if local.Offset != 16 {
		t.Errorf("expected offset 16, got %d", local.Offset)
	}
	if local.Size != expr.Size64 {
		t.Errorf("expected size fixed to 64 after typed access, got %d", local.Size)
	}

	asn := b.Blocks[0].Statements[0].(*lir.Assign)
	if _, ok := asn.Src.(*expr.NameExpr); !ok {
		t.Errorf("expected Deref{Ref{local}} folded to bare Name, got %s", asn.Src)
	}
}

func TestArgumentInferenceStopsAtFirstUnreadRegister(t *testing.T) {
	fn := lir.NewFunc("f")
	fn.Append(&lir.Assign{Dst: expr.Name("t"), Src: expr.Name("x0")})
	fn.Append(&lir.Return{Value: expr.Name("t")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	abi := module.Abi{Args: []string{"x0", "x1"}}
	mod := module.NewModule(abi)
	decl := &module.FunctionDecl{FuncID: 0}
	mod.AddDecl(decl)

	defs := module.NewFunctionDefSet()
	defs.Put(&module.FunctionDef{FuncID: 0, Graph: b.Graph, Blocks: b.Blocks})

	InferArguments(mod, defs)

	if len(decl.Args) != 1 || decl.Args[0] != "x0" {
		t.Errorf("expected inferred args [x0], got %v", decl.Args)
	}
}

// TestArgumentInferenceSurvivesCallDstAliasingReadRegister covers the
// call-forwarding/thunk pattern: x0 = call(f), where f's ABI reads x0
// (already inferred) and the call also writes its result into x0. The
// callee's read must count even though the same statement's Dst is the
// candidate register.
func TestArgumentInferenceSurvivesCallDstAliasingReadRegister(t *testing.T) {
	callee := &module.FunctionDecl{FuncID: 1, Args: []string{"x0"}}

	fn := lir.NewFunc("f")
	fn.Append(&lir.Assign{Dst: expr.Name("x0"), Src: expr.Call(expr.Func(1))})
	fn.Append(&lir.Return{Value: expr.Name("x0")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}

	abi := module.Abi{Args: []string{"x0"}}
	mod := module.NewModule(abi)
	mod.AddDecl(callee)
	caller := &module.FunctionDecl{FuncID: 0}
	mod.AddDecl(caller)

	defs := module.NewFunctionDefSet()
	defs.Put(&module.FunctionDef{FuncID: 0, Graph: b.Graph, Blocks: b.Blocks})

	InferArguments(mod, defs)

	if len(caller.Args) != 1 || caller.Args[0] != "x0" {
		t.Errorf("expected x0 inferred as read-before-written despite aliasing the call's Dst, got %v", caller.Args)
	}
}
