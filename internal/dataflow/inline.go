package dataflow

import (
	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// segment is one block-range a reader's path passes through: statements
// [from, to) of Block were traversed to reach the reader. For the final
// segment of a reader's path, to-1 is the index of the reading statement
// itself.
type segment struct {
	Block int
	From  int
	To    int
}

type readerRecord struct {
	Block int
	Stmt  int
	Paths [][]segment
}

type destKey struct{ Block, Stmt int }

// InlineSingleUse implements spec section 4.3.2: for every
// Assign{dst: Name(n), src: v}, if every downstream reader of n resolves
// to the same single destination statement, that statement reads n
// exactly once, only this assignment's definition reaches it, and no
// statement on any path in between clobbers a name read_names_rhs(v)
// depends on or has a side effect (except possibly the destination
// statement itself), delete the assignment and substitute v into the
// destination. After a successful inlining the current block is revisited
// from the start, since earlier statements may now become inlineable.
// Returns true if any inlining happened.
func InlineSingleUse(blocks []*lir.Node, g *cfg.CFG) bool {
	anyChanged := false

	for blockIdx := 0; blockIdx < len(blocks); blockIdx++ {
		for {
			changedThisBlock := false
			b := blocks[blockIdx]
			for stmtIdx := 0; stmtIdx < len(b.Statements); stmtIdx++ {
				asn, ok := b.Statements[stmtIdx].(*lir.Assign)
				if !ok {
					continue
				}
				name, ok := asn.Dst.(*expr.NameExpr)
				if !ok {
					continue
				}
				if tryInline(blocks, g, blockIdx, stmtIdx, name.Name, asn.Src) {
					changedThisBlock = true
					anyChanged = true
					break
				}
			}
			if !changedThisBlock {
				break
			}
		}
	}

	return anyChanged
}

func tryInline(blocks []*lir.Node, g *cfg.CFG, defBlock, defStmt int, name string, value expr.Expr) bool {
	readers := findReaders(blocks, g, defBlock, defStmt+1, name)
	if len(readers) != 1 {
		return false
	}
	var reader *readerRecord
	for _, r := range readers {
		reader = r
	}

	destStmt := blocks[reader.Block].Statements[reader.Stmt]
	if countReadsInStmt(destStmt, name) != 1 {
		return false
	}

	if !singleDefinitionReaches(blocks, g, reader.Block, reader.Stmt, name, defBlock, defStmt) {
		return false
	}

	readNames := expr.ReadNamesRHS(value)
	for _, path := range reader.Paths {
		if !pathIsSafeForInlining(blocks, path, readNames) {
			return false
		}
	}

	blocks[reader.Block].Statements[reader.Stmt] = substituteInStmt(destStmt, name, value)
	removeStatement(blocks[defBlock], defStmt)
	return true
}

func removeStatement(b *lir.Node, idx int) {
	b.Statements = append(b.Statements[:idx], b.Statements[idx+1:]...)
}

// findReaders performs the forward search described in 4.3.2, stopping
// each path either at the first statement that reads name (recording a
// reader) or at a redefinition of name (a dead end with no reader).
func findReaders(blocks []*lir.Node, g *cfg.CFG, startBlock, startStmt int, name string) map[destKey]*readerRecord {
	readers := map[destKey]*readerRecord{}
	visited := map[int]bool{}
	walkForReaders(blocks, g, startBlock, startStmt, name, nil, visited, readers)
	return readers
}

func walkForReaders(blocks []*lir.Node, g *cfg.CFG, blockIdx, fromStmt int, name string, path []segment, visited map[int]bool, readers map[destKey]*readerRecord) {
	if blockIdx < 0 || blockIdx >= len(blocks) {
		return
	}
	b := blocks[blockIdx]
	for i := fromStmt; i < len(b.Statements); i++ {
		stmt := b.Statements[i]
		if readsName(stmt, name) {
			finalPath := append(append([]segment{}, path...), segment{Block: blockIdx, From: fromStmt, To: i + 1})
			key := destKey{Block: blockIdx, Stmt: i}
			rec, ok := readers[key]
			if !ok {
				rec = &readerRecord{Block: blockIdx, Stmt: i}
				readers[key] = rec
			}
			rec.Paths = append(rec.Paths, finalPath)
			return
		}
		if overwrites(stmt, name) {
			return
		}
	}

	if visited[blockIdx] {
		return
	}
	newVisited := map[int]bool{}
	for k := range visited {
		newVisited[k] = true
	}
	newVisited[blockIdx] = true

	newPath := append(append([]segment{}, path...), segment{Block: blockIdx, From: fromStmt, To: len(b.Statements)})
	for _, succ := range g.Out(blockIdx) {
		walkForReaders(blocks, g, succ, 0, name, newPath, newVisited, readers)
	}
}

// singleDefinitionReaches walks backward from (destBlock, destStmt) and
// verifies the only definition of name reaching it is (defBlock, defStmt).
func singleDefinitionReaches(blocks []*lir.Node, g *cfg.CFG, destBlock, destStmt int, name string, defBlock, defStmt int) bool {
	visited := map[int]bool{}
	return backwardDefsAllMatch(blocks, g, destBlock, destStmt-1, name, defBlock, defStmt, visited)
}

func backwardDefsAllMatch(blocks []*lir.Node, g *cfg.CFG, blockIdx, fromStmt int, name string, wantBlock, wantStmt int, visited map[int]bool) bool {
	if blockIdx < 0 || blockIdx >= len(blocks) {
		return true
	}
	b := blocks[blockIdx]
	for i := fromStmt; i >= 0; i-- {
		if overwrites(b.Statements[i], name) {
			return blockIdx == wantBlock && i == wantStmt
		}
	}

	if visited[blockIdx] {
		return true
	}
	visited[blockIdx] = true

	for _, pred := range g.In(blockIdx) {
		predBlock := blocks[pred]
		if !backwardDefsAllMatch(blocks, g, pred, len(predBlock.Statements)-1, name, wantBlock, wantStmt, visited) {
			return false
		}
	}
	return true
}

func pathIsSafeForInlining(blocks []*lir.Node, path []segment, readNames []string) bool {
	for segIdx, seg := range path {
		b := blocks[seg.Block]
		isFinalSegment := segIdx == len(path)-1
		for i := seg.From; i < seg.To; i++ {
			isLastOverall := isFinalSegment && i == seg.To-1
			if isLastOverall {
				continue
			}
			stmt := b.Statements[i]
			if clobbersAny(stmt, readNames) {
				return false
			}
			if stmtHasSideEffects(stmt) {
				return false
			}
		}
	}
	return true
}

func clobbersAny(stmt lir.Lir, names []string) bool {
	asn, ok := stmt.(*lir.Assign)
	if !ok {
		return false
	}
	n, ok := asn.Dst.(*expr.NameExpr)
	if !ok {
		return false
	}
	for _, name := range names {
		if n.Name == name {
			return true
		}
	}
	return false
}

func stmtHasSideEffects(stmt lir.Lir) bool {
	switch s := stmt.(type) {
	case *lir.Assign:
		return expr.HasSideEffects(s.Src) || expr.HasSideEffects(s.Dst)
	case *lir.Do:
		return true
	case *lir.Branch:
		return s.Cond != nil && expr.HasSideEffects(s.Cond)
	case *lir.Return:
		return s.Value != nil && expr.HasSideEffects(s.Value)
	default:
		return false
	}
}

func countReadsInStmt(stmt lir.Lir, name string) int {
	switch s := stmt.(type) {
	case *lir.Assign:
		total := expr.CountReads(s.Src, name)
		if d, ok := s.Dst.(*expr.DerefExpr); ok {
			total += expr.CountReads(d.Ptr, name)
		}
		return total
	case *lir.Branch:
		if s.Cond == nil {
			return 0
		}
		return expr.CountReads(s.Cond, name)
	case *lir.Return:
		if s.Value == nil {
			return 0
		}
		return expr.CountReads(s.Value, name)
	case *lir.Do:
		return expr.CountReads(s.Value, name)
	default:
		return 0
	}
}

func substituteInStmt(stmt lir.Lir, name string, value expr.Expr) lir.Lir {
	switch s := stmt.(type) {
	case *lir.Assign:
		dst := s.Dst
		if d, ok := dst.(*expr.DerefExpr); ok {
			dst = &expr.DerefExpr{Ptr: expr.ReplaceName(d.Ptr, name, value), Size: d.Size}
		}
		return &lir.Assign{Dst: dst, Src: expr.ReplaceName(s.Src, name, value)}
	case *lir.Branch:
		if s.Cond == nil {
			return s
		}
		return &lir.Branch{Cond: expr.ReplaceName(s.Cond, name, value), Target: s.Target}
	case *lir.Return:
		if s.Value == nil {
			return s
		}
		return &lir.Return{Value: expr.ReplaceName(s.Value, name, value)}
	case *lir.Do:
		return &lir.Do{Value: expr.ReplaceName(s.Value, name, value)}
	default:
		return stmt
	}
}
