package driver

import (
	"testing"

	"decomp/internal/expr"
	"decomp/internal/lir"
	"decomp/internal/mir"
	"decomp/internal/module"
)

func simpleModule(abi module.Abi) (*module.Module, *module.FunctionDefSet) {
	mod := module.NewModule(abi)
	defs := module.NewFunctionDefSet()
	return mod, defs
}

// addAdder registers a function that computes a dead write, a
// single-use temp, and a return, the shape EliminateDeadWrites and
// InlineSingleUse both fire on.
func addAdder(t *testing.T, mod *module.Module, defs *module.FunctionDefSet, id module.FuncID, name string) {
	t.Helper()
	fn := lir.NewFunc(name)
	fn.Append(&lir.Assign{Dst: expr.Name("dead"), Src: expr.Num(1)})
	fn.Append(&lir.Assign{Dst: expr.Name("t"), Src: expr.Binary(expr.Add, expr.Name("x0"), expr.Num(1))})
	fn.Append(&lir.Return{Value: expr.Name("t")})

	b, err := lir.Blockify(fn)
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}
	mod.AddDecl(&module.FunctionDecl{FuncID: id, Name: name})
	defs.Put(&module.FunctionDef{FuncID: id, Graph: b.Graph, Blocks: b.Blocks})
}

func TestRunCleansUpDeadWriteAndInlines(t *testing.T) {
	mod, defs := simpleModule(module.Abi{Args: []string{"x0"}})
	addAdder(t, mod, defs, 0, "f")

	results := Run(mod, defs)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if r.Func == nil {
		t.Fatal("expected a finished MIR function")
	}
	if r.Name != "f" {
		t.Errorf("name = %q, want f", r.Name)
	}

	if len(r.Func.Body) == 0 {
		t.Fatal("expected a non-empty function body")
	}
	ret, ok := r.Func.Body[len(r.Func.Body)-1].(*mir.Return)
	if !ok {
		t.Fatalf("expected the body to end in a Return, got %T", r.Func.Body[len(r.Func.Body)-1])
	}
	if ret.Value == nil || ret.Value.String() != "(x0 + 1)" {
		t.Errorf("expected the dead write gone and the add inlined into the return, got %v", ret.Value)
	}
}

func TestRunMissingDefinitionIsReported(t *testing.T) {
	mod, defs := simpleModule(module.Abi{})
	mod.AddDecl(&module.FunctionDecl{FuncID: 0, Name: "ghost"})

	results := Run(mod, defs)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatal("expected an error for a declaration with no definition")
	}
}

func TestRunParallelMatchesRun(t *testing.T) {
	mod, defs := simpleModule(module.Abi{Args: []string{"x0"}})
	addAdder(t, mod, defs, 0, "f0")
	addAdder(t, mod, defs, 1, "f1")
	addAdder(t, mod, defs, 2, "f2")

	results := RunParallel(mod, defs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error for %s: %v", r.Name, r.Err)
		}
		seen[r.Name] = true
	}
	for _, name := range []string{"f0", "f1", "f2"} {
		if !seen[name] {
			t.Errorf("missing result for %s", name)
		}
	}
}

func TestDeclNameFallsBackToFuncID(t *testing.T) {
	decl := &module.FunctionDecl{FuncID: 5}
	if got := declName(decl); got != "fn5" {
		t.Errorf("declName = %q, want fn5", got)
	}
}
