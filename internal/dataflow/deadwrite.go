// Package dataflow implements the analyses that run on LIR basic blocks
// plus their CFG: dead-write elimination, single-use name inlining,
// per-name SSA, interprocedural argument inference, and stack-frame
// recovery.
package dataflow

import (
	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
	"decomp/internal/module"
)

// EliminateDeadWrites deletes Assign{dst: Name(n), src: e} statements
// whose value is provably never read, per spec section 4.3.1. Runs block
// by block to a local fixed point, then moves on, matching the "repeat
// within each block until no change" traversal order in the spec.
// Returns true if any statement was removed.
func EliminateDeadWrites(blocks []*lir.Node, g *cfg.CFG, abi *module.Abi) bool {
	anyChanged := false

	for blockIdx, b := range blocks {
		for {
			removed := false
			for stmtIdx := 0; stmtIdx < len(b.Statements); stmtIdx++ {
				asn, ok := b.Statements[stmtIdx].(*lir.Assign)
				if !ok {
					continue
				}
				name, ok := asn.Dst.(*expr.NameExpr)
				if !ok {
					continue
				}
				if abi.IsGlobal(name.Name) {
					continue
				}
				if expr.HasSideEffects(asn.Src) {
					continue
				}
				if readerExistsOnAnyPath(blocks, g, blockIdx, stmtIdx+1, name.Name, abi.IsCalleeSaved(name.Name)) {
					continue
				}

				b.Statements = append(b.Statements[:stmtIdx], b.Statements[stmtIdx+1:]...)
				removed = true
				anyChanged = true
				break
			}
			if !removed {
				break
			}
		}
	}

	return anyChanged
}

// readerExistsOnAnyPath implements the DFS described in 4.3.1: starting
// immediately after the candidate assignment, walk forward (within the
// block, then across the CFG) with a per-call visited set, stopping a
// path as soon as name is overwritten. A Return counts as a read when
// name is callee-saved, since the callee contract requires preserving it.
func readerExistsOnAnyPath(blocks []*lir.Node, g *cfg.CFG, startBlock, startStmt int, name string, calleeSaved bool) bool {
	visited := map[int]bool{}
	return dfsForReader(blocks, g, startBlock, startStmt, name, calleeSaved, visited)
}

func dfsForReader(blocks []*lir.Node, g *cfg.CFG, blockIdx, fromStmt int, name string, calleeSaved bool, visited map[int]bool) bool {
	if blockIdx < 0 || blockIdx >= len(blocks) {
		return false
	}
	b := blocks[blockIdx]
	for i := fromStmt; i < len(b.Statements); i++ {
		stmt := b.Statements[i]
		if readsName(stmt, name) {
			return true
		}
		if _, isRet := stmt.(*lir.Return); isRet && calleeSaved {
			return true
		}
		if overwrites(stmt, name) {
			return false
		}
	}

	if visited[blockIdx] {
		return false
	}
	visited[blockIdx] = true

	for _, succ := range g.Out(blockIdx) {
		if dfsForReader(blocks, g, succ, 0, name, calleeSaved, visited) {
			return true
		}
	}
	return false
}

func readsName(stmt lir.Lir, name string) bool {
	switch s := stmt.(type) {
	case *lir.Assign:
		if expr.CountReads(s.Dst, name) > 0 && isMemoryWrite(s.Dst) {
			return true
		}
		return expr.CountReads(s.Src, name) > 0
	case *lir.Branch:
		return s.Cond != nil && expr.CountReads(s.Cond, name) > 0
	case *lir.Return:
		return s.Value != nil && expr.CountReads(s.Value, name) > 0
	case *lir.Do:
		return expr.CountReads(s.Value, name) > 0
	default:
		return false
	}
}

// isMemoryWrite reports whether dst is a Deref (a memory write whose
// address expression is itself a read), as opposed to a bare Name write
// target which contributes no read of itself.
func isMemoryWrite(dst expr.Expr) bool {
	_, ok := dst.(*expr.DerefExpr)
	return ok
}

// overwrites reports whether stmt redefines name as a Name destination
// (a register/local write), which blocks any earlier definition from
// reaching further down this path.
func overwrites(stmt lir.Lir, name string) bool {
	asn, ok := stmt.(*lir.Assign)
	if !ok {
		return false
	}
	n, ok := asn.Dst.(*expr.NameExpr)
	return ok && n.Name == name
}
