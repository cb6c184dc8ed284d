package lir

import (
	"fmt"

	"decomp/internal/cfg"
)

// InvariantError reports a violation of a structural invariant the lifter
// is contractually required to uphold. These are programmer errors per
// the spec's error taxonomy: not recoverable within blockification
// itself, but the object-file loader that calls Blockify (§4.7) can
// still skip just the one offending function and keep loading the rest
// of the module.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

// Node is a nonempty Lir sequence forming one basic block. After
// blockification its only possible internal Label (the header) has been
// stripped; the block's position in the owning slice is its index, which
// doubles as its CFG node id.
type Node struct {
	Statements []Lir
}

// Blockified holds the basic-block list and the block-level CFG built
// from a linear Func.
type Blockified struct {
	Blocks []*Node
	Graph  *cfg.CFG
}

// Blockify splits a linear Func into basic blocks and builds the
// block-level CFG, per spec section 4.2.
//
// Policy:
//  1. Scan once to collect every label referenced by a Branch; labels
//     never referenced are erased.
//  2. Split at each referenced label (plus position 0), and after each
//     Branch, so that a Branch always ends its block.
//  3. Assign each surviving label a fresh small integer, the block index.
//  4. Strip residual Label statements and rewrite branch targets to block
//     indices directly.
//
// Every Branch must be immediately followed by a Label; violating this is
// a fatal input error surfaced as *InvariantError, since it indicates a
// contract violation by the lifter.
func Blockify(fn *Func) (*Blockified, error) {
	used := collectUsedLabels(fn.Body)

	if err := checkBranchFollowedByLabel(fn.Body); err != nil {
		return nil, err
	}

	blocks, labelToIndex := splitIntoBlocks(fn.Body, used)
	if err := rewriteTargets(blocks, labelToIndex); err != nil {
		return nil, err
	}

	graph := buildCFG(blocks)

	return &Blockified{Blocks: blocks, Graph: graph}, nil
}

func collectUsedLabels(body []Lir) map[Label]bool {
	used := map[Label]bool{}
	for _, stmt := range body {
		if b, ok := stmt.(*Branch); ok {
			used[b.Target] = true
		}
	}
	return used
}

func checkBranchFollowedByLabel(body []Lir) error {
	for i, stmt := range body {
		if _, ok := stmt.(*Branch); !ok {
			continue
		}
		if i+1 >= len(body) {
			return &InvariantError{Msg: "Branch must be followed by a Label: branch is the last statement"}
		}
		if _, ok := body[i+1].(*LabelStmt); !ok {
			return &InvariantError{Msg: fmt.Sprintf("Branch must be followed by a Label: statement %d is not", i)}
		}
	}
	return nil
}

// splitIntoBlocks partitions body at every statement that is a used
// Label, plus position 0, and after every Branch, stripping the Label
// statements from the resulting block bodies (the block index becomes
// the label). Returns the blocks and a map from the original Label value
// to its new index.
func splitIntoBlocks(body []Lir, used map[Label]bool) ([]*Node, map[Label]int) {
	var blocks []*Node
	labelToIndex := map[Label]int{}

	var current []Lir
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, &Node{Statements: current})
			current = nil
		}
	}

	for _, stmt := range body {
		if ls, ok := stmt.(*LabelStmt); ok {
			if !used[ls.Label] {
				// Never-referenced label: erased, does not start a block.
				continue
			}
			flush()
			labelToIndex[ls.Label] = len(blocks)
			continue
		}
		current = append(current, stmt)
		if _, ok := stmt.(*Branch); ok {
			// A Branch ends its block even when the Label after it is
			// never referenced and so does not start one.
			flush()
		}
	}
	flush()

	return blocks, labelToIndex
}

func rewriteTargets(blocks []*Node, labelToIndex map[Label]int) error {
	for _, b := range blocks {
		for i, stmt := range b.Statements {
			if br, ok := stmt.(*Branch); ok {
				idx, ok := labelToIndex[br.Target]
				if !ok {
					// Dangling reference: target label was never defined in
					// this function body. This is the lifter's contract
					// violation, not a recoverable structuring decision.
					return &InvariantError{Msg: fmt.Sprintf("branch targets undefined label L%d", br.Target)}
				}
				b.Statements[i] = &Branch{Cond: br.Cond, Target: Label(idx)}
			}
		}
	}
	return nil
}

// buildCFG walks blocks in index order and adds edges per each block's
// last statement, per spec section 4.2.
func buildCFG(blocks []*Node) *cfg.CFG {
	g := cfg.New(len(blocks), 0)

	for i, b := range blocks {
		if len(b.Statements) == 0 {
			continue
		}
		last := b.Statements[len(b.Statements)-1]
		switch s := last.(type) {
		case *Return:
			// No out-edges.
		case *Branch:
			if s.Cond != nil {
				g.AddEdge(i, int(s.Target))
				if i+1 < len(blocks) {
					g.AddEdge(i, i+1)
				}
			} else {
				g.AddEdge(i, int(s.Target))
			}
		default:
			if i+1 < len(blocks) {
				g.AddEdge(i, i+1)
			}
		}
	}

	g.TrimUnreachable()
	return g
}

// Flatten reverses Blockify for the round-trip invariant tested in
// section 8: it re-linearizes blocks back into a Func, inserting a fresh
// Label statement before each block and rewriting every Branch target to
// reference it, so the result is semantically equivalent linear LIR
// reaching the same basic-block entries.
func Flatten(name string, blocks []*Node) *Func {
	fn := NewFunc(name)
	labels := make([]Label, len(blocks))
	for i := range blocks {
		labels[i] = fn.Labels.Fresh()
	}

	for i, b := range blocks {
		fn.Append(&LabelStmt{Label: labels[i]})
		for _, stmt := range b.Statements {
			if br, ok := stmt.(*Branch); ok {
				fn.Append(&Branch{Cond: br.Cond, Target: labels[int(br.Target)]})
				continue
			}
			fn.Append(stmt)
		}
	}
	return fn
}
