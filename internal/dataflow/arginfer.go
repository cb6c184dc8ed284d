package dataflow

import (
	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
	"decomp/internal/module"
)

// InferArguments implements spec section 4.3.4's fixed-point driver:
// for each function, for each register in the ABI's argument order, if
// it is read-before-written starting at the function's entry, it is
// appended to the function's inferred argument prefix; the moment a
// candidate register fails, the search for that function stops for this
// round (arguments are a contiguous prefix of abi.Args). The driver
// repeats over every function until no declaration's argument list grows.
//
// A call site is treated, conservatively, as reading the callee's
// *current* inferred argument prefix and writing every other register —
// an over-approximation that is always sound because it can only shrink
// (never grow) the set of registers considered read-before-written.
// Indirect calls (callee not statically known) are treated as opaque:
// they neither confirm nor deny that a register survives past them,
// since the spec gives no calling-convention information for a computed
// target.
func InferArguments(mod *module.Module, defs *module.FunctionDefSet) {
	for {
		changed := false
		for _, decl := range mod.Decls {
			def, ok := defs.Get(decl.FuncID)
			if !ok {
				continue
			}
			nextIdx := len(decl.Args)
			if nextIdx >= len(mod.Abi.Args) {
				continue
			}
			candidate := mod.Abi.Args[nextIdx]
			if readBeforeWritten(def, mod, defs, candidate) {
				decl.AddArg(candidate)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// InjectCallArguments extends every direct call site's argument list with
// the callee's inferred argument registers, once InferArguments has
// reached its fixed point. Indirect calls are left unmodified.
func InjectCallArguments(mod *module.Module, defs *module.FunctionDefSet) {
	for _, id := range defs.IDs() {
		def, _ := defs.Get(id)
		for _, b := range def.Blocks {
			for i, stmt := range b.Statements {
				b.Statements[i] = injectIntoStmt(stmt, mod)
			}
		}
	}
}

func injectIntoStmt(stmt lir.Lir, mod *module.Module) lir.Lir {
	switch s := stmt.(type) {
	case *lir.Assign:
		return &lir.Assign{Dst: s.Dst, Src: injectIntoExpr(s.Src, mod)}
	case *lir.Do:
		return &lir.Do{Value: injectIntoExpr(s.Value, mod)}
	case *lir.Return:
		if s.Value == nil {
			return s
		}
		return &lir.Return{Value: injectIntoExpr(s.Value, mod)}
	default:
		return stmt
	}
}

func injectIntoExpr(e expr.Expr, mod *module.Module) expr.Expr {
	call, ok := e.(*expr.CallExpr)
	if !ok {
		return e
	}
	fn, ok := call.Func.(*expr.FuncExpr)
	if !ok {
		return call
	}
	decl := mod.DeclByID(module.FuncID(fn.FuncID))
	if decl == nil {
		return call
	}
	args := append([]expr.Expr{}, call.Args...)
	for _, reg := range decl.Args {
		args = append(args, expr.Name(reg))
	}
	return &expr.CallExpr{Func: call.Func, Args: args}
}

func readBeforeWritten(def *module.FunctionDef, mod *module.Module, defs *module.FunctionDefSet, reg string) bool {
	visited := map[int]bool{}
	return readBeforeWrittenDFS(def.Blocks, def.Graph, 0, 0, reg, mod, defs, visited)
}

func readBeforeWrittenDFS(blocks []*lir.Node, g *cfg.CFG, blockIdx, fromStmt int, reg string, mod *module.Module, defs *module.FunctionDefSet, visited map[int]bool) bool {
	if blockIdx < 0 || blockIdx >= len(blocks) {
		return false
	}
	b := blocks[blockIdx]
	for i := fromStmt; i < len(b.Statements); i++ {
		stmt := b.Statements[i]

		if readsName(stmt, reg) {
			return true
		}
		if call, ok := extractCall(stmt); ok {
			if calleeArgs, known := calleeArgsOf(call, mod); known {
				if !containsStr(calleeArgs, reg) {
					return false
				}
				// The callee's ABI reads reg: this statement reads it,
				// full stop, even if reg also happens to be the call's
				// own Dst (a call-forwarding/thunk pattern). Don't fall
				// through to the overwrites check below, or the read
				// would be cancelled by the statement's own write.
				return true
			}
			// indirect call: opaque, keep scanning without resolving.
		}
		if overwrites(stmt, reg) {
			return false
		}
	}

	if visited[blockIdx] {
		return false
	}
	visited[blockIdx] = true
	for _, succ := range g.Out(blockIdx) {
		if readBeforeWrittenDFS(blocks, g, succ, 0, reg, mod, defs, visited) {
			return true
		}
	}
	return false
}

func extractCall(stmt lir.Lir) (*expr.CallExpr, bool) {
	switch s := stmt.(type) {
	case *lir.Assign:
		c, ok := s.Src.(*expr.CallExpr)
		return c, ok
	case *lir.Do:
		c, ok := s.Value.(*expr.CallExpr)
		return c, ok
	case *lir.Return:
		if s.Value == nil {
			return nil, false
		}
		c, ok := s.Value.(*expr.CallExpr)
		return c, ok
	default:
		return nil, false
	}
}

func calleeArgsOf(call *expr.CallExpr, mod *module.Module) ([]string, bool) {
	fn, ok := call.Func.(*expr.FuncExpr)
	if !ok {
		return nil, false
	}
	decl := mod.DeclByID(module.FuncID(fn.FuncID))
	if decl == nil {
		return nil, false
	}
	return decl.Args, true
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
