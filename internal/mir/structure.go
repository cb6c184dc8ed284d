package mir

import (
	"decomp/internal/cfg"
	"decomp/internal/expr"
	"decomp/internal/lir"
)

// Structure runs the block-graph-to-MIR structuring algorithm of spec
// section 4.4 over the whole function: emit(allBlocks, g.Entry, nil).
func Structure(blocks []*lir.Node, g *cfg.CFG, dom *cfg.Dominators) []Mir {
	all := map[int]bool{}
	for _, n := range g.Nodes() {
		all[n] = true
	}
	return emit(blocks, g, dom, all, g.Entry, nil)
}

// emit is the recursive procedure of spec section 4.4.
func emit(blocks []*lir.Node, g *cfg.CFG, dom *cfg.Dominators, subgraph map[int]bool, entry int, fallthrough_ *int) []Mir {
	if !subgraph[entry] {
		return nil
	}

	var output []Mir
	output = append(output, &LabelStmt{Label: lir.Label(entry)})
	output = append(output, convertBlock(blocks[entry])...)

	node := entry
	for {
		o := forwardSuccessors(g, dom, subgraph, node)
		if len(o) == 0 {
			return output
		}
		if len(o) == 1 {
			target := o[0]
			if fallthrough_ != nil && target == *fallthrough_ {
				return output
			}
			output = append(output, &LabelStmt{Label: lir.Label(target)})
			output = append(output, convertBlock(blocks[target])...)
			node = target
			continue
		}
		break
	}

	o := forwardSuccessors(g, dom, subgraph, node)

	last, ok := output[len(output)-1].(*Branch)
	if !ok {
		// Not a well-formed conditional fork: the algorithm assumes
		// reducibility (spec section 9's documented limitation). Leave
		// the sequence as-is rather than asserting.
		return output
	}
	output = output[:len(output)-1]

	a := int(last.Target)
	var b int
	for _, v := range o {
		if v != a {
			b = v
		}
	}
	cond := last.Cond

	discA := discover(g, dom, subgraph, a)
	discB := discover(g, dom, subgraph, b)
	purple := intersectNodes(discA, discB)
	red := subtractNodes(discA, purple)
	blue := subtractNodes(discB, purple)

	if anyEndsInReturn(blocks, red) {
		red, blue = blue, red
		a, b = b, a
		cond = expr.Neg(cond)
	}

	newTerminating, purpleOk := uniquePurpleEntry(g, purple)
	var armFallthrough *int
	if purpleOk && len(purple) > 0 {
		armFallthrough = &newTerminating
	} else {
		purple = map[int]bool{}
	}

	var ifNode *If
	switch {
	case len(red) > 0 && len(blue) > 0:
		ifNode = &If{
			Cond:      cond,
			TrueThen:  emit(blocks, g, dom, red, a, armFallthrough),
			FalseThen: emit(blocks, g, dom, blue, b, armFallthrough),
		}
	case len(red) == 0:
		ifNode = &If{
			Cond:     expr.Neg(cond),
			TrueThen: emit(blocks, g, dom, blue, b, armFallthrough),
		}
	default: // blue empty
		ifNode = &If{
			Cond:     cond,
			TrueThen: emit(blocks, g, dom, red, a, armFallthrough),
		}
	}
	output = append(output, ifNode)

	if len(purple) > 0 {
		output = append(output, emit(blocks, g, dom, purple, newTerminating, fallthrough_)...)
	}

	return output
}

// convertBlock converts a basic block's statements 1-to-1 from Lir to Mir.
func convertBlock(b *lir.Node) []Mir {
	out := make([]Mir, 0, len(b.Statements))
	for _, stmt := range b.Statements {
		out = append(out, convertStmt(stmt))
	}
	return out
}

func convertStmt(stmt lir.Lir) Mir {
	switch s := stmt.(type) {
	case *lir.Assign:
		return &Assign{Dst: s.Dst, Src: s.Src}
	case *lir.Branch:
		return &Branch{Cond: s.Cond, Target: s.Target}
	case *lir.Return:
		return &Return{Value: s.Value}
	case *lir.Do:
		return &Do{Value: s.Value}
	case *lir.LabelStmt:
		return &LabelStmt{Label: s.Label}
	default:
		return &Do{Value: expr.Placeholder()}
	}
}

// forwardSuccessors computes O from spec step 3/4: the successors of node
// within subgraph, excluding back edges.
func forwardSuccessors(g *cfg.CFG, dom *cfg.Dominators, subgraph map[int]bool, node int) []int {
	var out []int
	for _, succ := range g.Out(node) {
		if !subgraph[succ] {
			continue
		}
		if dom.IsBackEdge(node, succ) {
			continue
		}
		out = append(out, succ)
	}
	return out
}

// discover computes the forward-reachable set from start within subgraph,
// ignoring back edges, per spec step 4's disc().
func discover(g *cfg.CFG, dom *cfg.Dominators, subgraph map[int]bool, start int) map[int]bool {
	visited := map[int]bool{}
	var dfs func(n int)
	dfs = func(n int) {
		if visited[n] || !subgraph[n] {
			return
		}
		visited[n] = true
		for _, succ := range g.Out(n) {
			if !subgraph[succ] || dom.IsBackEdge(n, succ) {
				continue
			}
			dfs(succ)
		}
	}
	dfs(start)
	return visited
}

func intersectNodes(a, b map[int]bool) map[int]bool {
	out := map[int]bool{}
	for n := range a {
		if b[n] {
			out[n] = true
		}
	}
	return out
}

func subtractNodes(a, b map[int]bool) map[int]bool {
	out := map[int]bool{}
	for n := range a {
		if !b[n] {
			out[n] = true
		}
	}
	return out
}

func anyEndsInReturn(blocks []*lir.Node, set map[int]bool) bool {
	for n := range set {
		stmts := blocks[n].Statements
		if len(stmts) == 0 {
			continue
		}
		if _, ok := stmts[len(stmts)-1].(*lir.Return); ok {
			return true
		}
	}
	return false
}

// uniquePurpleEntry finds new_terminating per spec step 6: the unique node
// in purple all of whose in-edges originate outside purple. If purple is
// empty the result is trivially "ok" with no entry needed. If zero or more
// than one candidate exists, ok is false and the caller falls back to
// treating purple as empty (the documented irreducible-graph limitation).
func uniquePurpleEntry(g *cfg.CFG, purple map[int]bool) (int, bool) {
	if len(purple) == 0 {
		return 0, true
	}
	var candidates []int
	for n := range purple {
		external := true
		for _, pred := range g.In(n) {
			if purple[pred] {
				external = false
				break
			}
		}
		if external {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return 0, false
}
