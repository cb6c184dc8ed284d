// Package driver orchestrates a whole module through the dataflow passes
// and the MIR structuring/rewrite pipeline, the way kanso's
// internal/ir.OptimizationPipeline drives its own pass list over a
// Program.
package driver

import (
	"fmt"
	"runtime"
	"sync"

	"decomp/internal/cfg"
	"decomp/internal/dataflow"
	"decomp/internal/frame"
	"decomp/internal/lir"
	"decomp/internal/mir"
	"decomp/internal/module"
)

// Result is one function's finished MIR body, or the error that stopped
// it short. A per-function failure (a declaration with no definition, or
// non-convergence of the MIR rewrite pipeline) is reported and skipped
// rather than aborting the rest of the module, per spec section 7. Func
// is nil whenever Err is set.
type Result struct {
	FuncID module.FuncID
	Name   string
	Func   *mir.Function
	Err    error
}

// Run processes every function declaration in mod against its
// definition in defs, in declaration order.
func Run(mod *module.Module, defs *module.FunctionDefSet) []Result {
	dataflow.InferArguments(mod, defs)
	dataflow.InjectCallArguments(mod, defs)

	out := make([]Result, len(mod.Decls))
	for i, decl := range mod.Decls {
		out[i] = processFunction(mod, defs, decl)
	}
	return out
}

// RunParallel is Run's concurrent counterpart. The interprocedural
// argument-inference fixed point still runs single-threaded first (spec
// section 5's ordering constraint: no call site may gain injected
// arguments before every declaration's argument list has stopped
// growing); the remaining per-function passes are then independent of
// each other and fan out across a pool sized to runtime.GOMAXPROCS.
func RunParallel(mod *module.Module, defs *module.FunctionDefSet) []Result {
	dataflow.InferArguments(mod, defs)
	dataflow.InjectCallArguments(mod, defs)

	decls := mod.Decls
	out := make([]Result, len(decls))
	if len(decls) == 0 {
		return out
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(decls) {
		workers = len(decls)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = processFunction(mod, defs, decls[i])
			}
		}()
	}
	for i := range decls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return out
}

// processFunction runs the full per-function pipeline: local dataflow
// cleanup, per-name SSA on the ABI's eliminate set, stack-frame
// recovery, then structuring and the MIR rewrite pipeline to a fixed
// point. Shared module state (mod.Abi, mod.Decls) is read-only from this
// point on; only the function's own blocks are mutated, so concurrent
// callers never contend on the same data.
func processFunction(mod *module.Module, defs *module.FunctionDefSet, decl *module.FunctionDecl) Result {
	name := declName(decl)
	def, ok := defs.Get(decl.FuncID)
	if !ok {
		return Result{FuncID: decl.FuncID, Name: name, Err: fmt.Errorf("no definition for %s", name)}
	}

	abi := &mod.Abi
	localFixpoint(def.Blocks, def.Graph, abi)

	ssaCounter := 0
	for _, reg := range abi.Eliminate {
		for dataflow.SSARename(def.Blocks, def.Graph, reg, abi.IsCalleeSaved(reg), &ssaCounter) {
		}
	}
	localFixpoint(def.Blocks, def.Graph, abi)

	fr := frame.New()
	if abi.BaseReg != "" {
		fr = dataflow.RecoverStackFrame(def.Blocks, abi.BaseReg)
		localFixpoint(def.Blocks, def.Graph, abi)
	}

	dom := cfg.Compute(def.Graph)
	structured := mir.Structure(def.Blocks, def.Graph, dom)

	body, err := mir.Converge(structured)
	if err != nil {
		return Result{FuncID: decl.FuncID, Name: name, Err: err}
	}

	return Result{
		FuncID: decl.FuncID,
		Name:   name,
		Func: &mir.Function{
			Name:  name,
			Args:  decl.Args,
			Frame: fr,
			Body:  body,
		},
	}
}

// localFixpoint alternates dead-write elimination and single-use
// inlining until neither finds anything, matching spec section 4.3's
// "repeat until no change" scheduling.
func localFixpoint(blocks []*lir.Node, g *cfg.CFG, abi *module.Abi) {
	for {
		changed := dataflow.EliminateDeadWrites(blocks, g, abi)
		if dataflow.InlineSingleUse(blocks, g) {
			changed = true
		}
		if !changed {
			return
		}
	}
}

func declName(decl *module.FunctionDecl) string {
	if decl.Name != "" {
		return decl.Name
	}
	return fmt.Sprintf("fn%d", decl.FuncID)
}
