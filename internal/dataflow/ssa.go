package dataflow

import (
	"fmt"

	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// SSARename implements spec section 4.3.3: per-name SSA. For each
// assignment A to name, the set R(A) of downstream reads dominated by A
// is collected; A is SSA-eligible iff every backward path from each
// r in R(A) to the entry that writes name writes it at precisely A. For
// an eligible A, the defining Name(name) is renamed to a fresh
// name_{k}, every dominated read is renamed to match, and — if a read is a
// Return and name is callee-saved — a preserving assignment
// name = name_{k} is inserted immediately before that return so the
// callee-saved contract still holds after renaming.
//
// counter supplies successive SSA version numbers across calls so that
// renaming several names in the same function never collides.
func SSARename(blocks []*lir.Node, g *cfg.CFG, name string, calleeSaved bool, counter *int) bool {
	anyChanged := false

	defs := findDefs(blocks, name)
	for _, def := range defs {
		reads := dominatedReads(blocks, g, def, name)
		if len(reads) == 0 {
			continue
		}
		if !allEligible(blocks, g, reads, def, name) {
			continue
		}

		version := *counter
		*counter++
		fresh := fmt.Sprintf("%s_%d", name, version)

		renameDef(blocks[def.Block], def.Stmt, name, fresh)
		for _, r := range reads {
			renameRead(blocks[r.Block], r.Stmt, name, fresh)
			if isReturnStmt(blocks[r.Block].Statements[r.Stmt]) && calleeSaved {
				insertPreservingAssign(blocks[r.Block], r.Stmt, name, fresh)
			}
		}
		anyChanged = true
	}

	return anyChanged
}

func findDefs(blocks []*lir.Node, name string) []destKey {
	var defs []destKey
	for bi, b := range blocks {
		for si, stmt := range b.Statements {
			if overwrites(stmt, name) {
				defs = append(defs, destKey{Block: bi, Stmt: si})
			}
		}
	}
	return defs
}

// dominatedReads collects every downstream read of name reachable from
// def before a redefinition, stopping each forward path at the first
// redefinition (mirrors the forward walk used by dead-write elimination,
// but collects every read instead of a single boolean).
func dominatedReads(blocks []*lir.Node, g *cfg.CFG, def destKey, name string) []destKey {
	var reads []destKey
	visited := map[int]bool{}
	collectDominatedReads(blocks, g, def.Block, def.Stmt+1, name, visited, &reads)
	return reads
}

func collectDominatedReads(blocks []*lir.Node, g *cfg.CFG, blockIdx, fromStmt int, name string, visited map[int]bool, out *[]destKey) {
	if blockIdx < 0 || blockIdx >= len(blocks) {
		return
	}
	b := blocks[blockIdx]
	for i := fromStmt; i < len(b.Statements); i++ {
		stmt := b.Statements[i]
		if readsName(stmt, name) {
			*out = append(*out, destKey{Block: blockIdx, Stmt: i})
		}
		if overwrites(stmt, name) {
			return
		}
	}
	if visited[blockIdx] {
		return
	}
	visited[blockIdx] = true
	for _, succ := range g.Out(blockIdx) {
		collectDominatedReads(blocks, g, succ, 0, name, visited, out)
	}
}

// allEligible checks, for every read in reads, that the unique reaching
// definition (by backward walk) is exactly def.
func allEligible(blocks []*lir.Node, g *cfg.CFG, reads []destKey, def destKey, name string) bool {
	for _, r := range reads {
		if !singleDefinitionReaches(blocks, g, r.Block, r.Stmt, name, def.Block, def.Stmt) {
			return false
		}
	}
	return true
}

func renameDef(b *lir.Node, stmt int, name, fresh string) {
	asn := b.Statements[stmt].(*lir.Assign)
	b.Statements[stmt] = &lir.Assign{Dst: expr.Name(fresh), Src: asn.Src}
}

func renameRead(b *lir.Node, stmt int, name, fresh string) {
	b.Statements[stmt] = substituteInStmt(b.Statements[stmt], name, expr.Name(fresh))
}

func isReturnStmt(stmt lir.Lir) bool {
	_, ok := stmt.(*lir.Return)
	return ok
}

func insertPreservingAssign(b *lir.Node, retIdx int, name, fresh string) {
	preserve := &lir.Assign{Dst: expr.Name(name), Src: expr.Name(fresh)}
	b.Statements = append(b.Statements[:retIdx], append([]lir.Lir{preserve}, b.Statements[retIdx:]...)...)
}
