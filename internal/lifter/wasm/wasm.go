// Package wasm lifts a WebAssembly function body (the code-section bytes
// after the local declarations, up to and including the final end) into
// linear Lir, by
// simulating the operand stack with Name temporaries the way kanso's
// internal/ir/builder.go simulates an expression stack while emitting SSA
// values.
package wasm

import (
	"fmt"

	"decomp/internal/expr"
	"decomp/internal/lifter"
	"decomp/internal/lir"
	"decomp/internal/module"
)

// Signature is a function's param/result counts, as read from the type
// section. The Lifter trait's to_lir only receives an address->FuncId map
// (spec section 6), not a type table, so a WASM Lifter additionally closes
// over the signatures it needs to know how many stack values a call
// consumes and produces: information ARM64 gets for free from its fixed
// register-based calling convention.
type Signature struct {
	Params  int
	Results int
}

// Lifter decodes WebAssembly bytecode. funcSigs is keyed by function index
// (the "address" this architecture passes as baseAddress/callTargets
// keys, since WASM functions have no linear address of their own).
type Lifter struct {
	funcSigs map[uint64]Signature
}

// New returns a WASM Lifter. funcSigs supplies each function's signature
// by function index, for resolving how many operands a Call consumes.
func New(funcSigs map[uint64]Signature) *Lifter {
	return &Lifter{funcSigs: funcSigs}
}

// abi: WASM locals aren't physical registers, so there is no callee-saved
// set and no base register; stack-frame recovery is a no-op for WASM
// functions. Args is a generous bound on local-slot names so the
// interprocedural argument-inference pass (which narrows this list down
// to the locals actually read before written) has candidates to work
// from, mirroring how the Rust original treats local index 0 onward.
// Global index 0 is conventionally the toolchain-emitted stack pointer
// (`sp` per the original); other globals use the `g{index}` fallback
// noted in DESIGN.md and are not tracked as Abi globals.
var abi = module.Abi{
	CalleeSaved: nil,
	Args:        localNames(16),
	Global:      []string{"sp"},
	Eliminate:   nil,
	BaseReg:     "",
}

func localNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("l%d", i)
	}
	return names
}

func (l *Lifter) Abi() module.Abi { return abi }

func localRef(idx uint64) expr.Expr { return expr.Name(fmt.Sprintf("l%d", idx)) }

func globalRef(idx uint64) expr.Expr {
	if idx == 0 {
		return expr.Name("sp")
	}
	return expr.Name(fmt.Sprintf("g%d", idx))
}

// stackNaming assigns each pushed value a fresh "s{n}" temporary, mirroring
// the Rust lifter's StackNaming/StackName.
type stackNaming struct {
	names []int
	next  int
}

func (s *stackNaming) push() expr.Expr {
	s.names = append(s.names, s.next)
	s.next++
	return expr.Name(fmt.Sprintf("s%d", s.names[len(s.names)-1]))
}

func (s *stackNaming) pop() (expr.Expr, error) {
	if len(s.names) == 0 {
		return nil, fmt.Errorf("operand stack underflow")
	}
	n := s.names[len(s.names)-1]
	s.names = s.names[:len(s.names)-1]
	return expr.Name(fmt.Sprintf("s%d", n)), nil
}

func (s *stackNaming) peek() (expr.Expr, error) {
	if len(s.names) == 0 {
		return nil, fmt.Errorf("operand stack underflow")
	}
	return expr.Name(fmt.Sprintf("s%d", s.names[len(s.names)-1])), nil
}

// blockEntry is a structured-control frame: the label its Br targets when
// `loops` (a loop's own header), or the label reached on "falling out"
// otherwise (a block's end). Index 0 is always the implicit function-level
// block the final Return branches to.
type blockEntry struct {
	start, end lir.Label
	loops      bool
}

type blockStack struct {
	fn     *lir.Func
	frames []blockEntry
}

func newBlockStack(fn *lir.Func) *blockStack {
	return &blockStack{fn: fn, frames: []blockEntry{{start: fn.Labels.Fresh(), end: fn.Labels.Fresh()}}}
}

func (b *blockStack) push(loops bool) blockEntry {
	e := blockEntry{start: b.fn.Labels.Fresh(), end: b.fn.Labels.Fresh(), loops: loops}
	b.frames = append(b.frames, e)
	return e
}

func (b *blockStack) pop() (blockEntry, error) {
	if len(b.frames) == 0 {
		return blockEntry{}, fmt.Errorf("unbalanced end")
	}
	e := b.frames[len(b.frames)-1]
	b.frames = b.frames[:len(b.frames)-1]
	return e, nil
}

func (b *blockStack) targetRel(rel uint32) (lir.Label, error) {
	idx := len(b.frames) - 1 - int(rel)
	if idx < 0 {
		return 0, fmt.Errorf("branch depth %d exceeds block nesting", rel)
	}
	e := b.frames[idx]
	if e.loops {
		return e.start, nil
	}
	return e.end, nil
}

func (b *blockStack) returnLabel() lir.Label { return b.frames[0].end }

// ToLIR decodes a single function's code-section body (locals declarations
// already stripped; baseAddress is that function's index, also the key
// into funcSigs and callTargets).
func (l *Lifter) ToLIR(code []byte, baseAddress uint64, callTargets map[uint64]module.FuncID) (*lir.Func, error) {
	fn := lir.NewFunc(fmt.Sprintf("fn_%d", baseAddress))
	dec := &decoder{code: code, lifter: l, callTargets: callTargets}
	blocks := newBlockStack(fn)
	stack := &stackNaming{}

	fn.Append(&lir.LabelStmt{Label: blocks.frames[0].start})

	for dec.pos < len(dec.code) {
		opcode := dec.code[dec.pos]
		dec.pos++
		stmts, err := dec.step(opcode, blocks, stack)
		if err != nil {
			return nil, err
		}
		for _, s := range stmts {
			fn.Append(s)
		}
	}

	retVal, err := stack.pop()
	if err != nil {
		// A void function: the implicit function-level block's Return
		// carries nothing.
		fn.Append(&lir.Return{})
		return fn, nil
	}
	fn.Append(&lir.Return{Value: retVal})
	return fn, nil
}

type decoder struct {
	code        []byte
	pos         int
	lifter      *Lifter
	callTargets map[uint64]module.FuncID
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.code) {
		return 0, fmt.Errorf("truncated code")
	}
	b := d.code[d.pos]
	d.pos++
	return b, nil
}

// uleb reads an unsigned LEB128 integer, WebAssembly's variable-length
// integer encoding (distinct from protobuf-style varints, hence hand
// written rather than reused from encoding/binary).
func (d *decoder) uleb() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := d.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("uleb128 overflow")
		}
	}
}

func (d *decoder) sleb() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = d.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// memarg reads the alignment/offset pair every load/store carries; only
// offset is meaningful to the lifted address expression.
func (d *decoder) memarg() (uint64, error) {
	if _, err := d.uleb(); err != nil { // align, unused
		return 0, err
	}
	return d.uleb()
}

// blockType consumes a block's type immediate. Only the empty block type
// (0x40) is supported; typed blocks are out of this decompiler's scope.
func (d *decoder) blockType() error {
	b, err := d.byte()
	if err != nil {
		return err
	}
	if b != 0x40 {
		return fmt.Errorf("non-empty block type 0x%02x not supported", b)
	}
	return nil
}

func binOp(op expr.BinaryOp, stack *stackNaming) (lir.Lir, error) {
	rhs, err := stack.pop()
	if err != nil {
		return nil, err
	}
	lhs, err := stack.pop()
	if err != nil {
		return nil, err
	}
	dst := stack.push()
	return &lir.Assign{Dst: dst, Src: expr.Binary(op, lhs, rhs)}, nil
}

func cmpOp(unaryOp expr.UnaryOp, stack *stackNaming) (lir.Lir, error) {
	rhs, err := stack.pop()
	if err != nil {
		return nil, err
	}
	lhs, err := stack.pop()
	if err != nil {
		return nil, err
	}
	dst := stack.push()
	cmp := expr.Binary(expr.Cmp, lhs, rhs)
	return &lir.Assign{Dst: dst, Src: expr.Unary(unaryOp, cmp)}, nil
}

func builtinUnary(tag expr.BuiltInTag, stack *stackNaming) (lir.Lir, error) {
	v, err := stack.pop()
	if err != nil {
		return nil, err
	}
	dst := stack.push()
	return &lir.Assign{Dst: dst, Src: expr.BuiltIn(tag, v)}, nil
}

func builtinBinary(tag expr.BuiltInTag, stack *stackNaming) (lir.Lir, error) {
	rhs, err := stack.pop()
	if err != nil {
		return nil, err
	}
	lhs, err := stack.pop()
	if err != nil {
		return nil, err
	}
	dst := stack.push()
	return &lir.Assign{Dst: dst, Src: expr.BuiltIn(tag, lhs, rhs)}, nil
}

// step decodes one instruction, returning the Lir it lifts to (possibly
// none, e.g. for structural markers that only push/pop block state).
func (d *decoder) step(opcode byte, blocks *blockStack, stack *stackNaming) ([]lir.Lir, error) {
	badOp := func(err error) ([]lir.Lir, error) {
		return nil, &lifter.Error{Kind: lifter.UnknownInstruction, Addr: uint64(d.pos), Msg: err.Error()}
	}

	switch opcode {
	case 0x00: // unreachable
		return []lir.Lir{&lir.Return{}}, nil

	case 0x01: // nop
		return nil, nil

	case 0x02: // block
		if err := d.blockType(); err != nil {
			return badOp(err)
		}
		e := blocks.push(false)
		return []lir.Lir{&lir.LabelStmt{Label: e.start}}, nil

	case 0x03: // loop
		if err := d.blockType(); err != nil {
			return badOp(err)
		}
		e := blocks.push(true)
		return []lir.Lir{&lir.LabelStmt{Label: e.start}}, nil

	case 0x0B: // end
		e, err := blocks.pop()
		if err != nil {
			return badOp(err)
		}
		var stmts []lir.Lir
		if e.loops {
			stmts = append(stmts, &lir.Branch{Target: e.start})
		}
		stmts = append(stmts, &lir.LabelStmt{Label: e.end})
		return stmts, nil

	case 0x0C: // br
		rel, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		target, err := blocks.targetRel(uint32(rel))
		if err != nil {
			return badOp(err)
		}
		return []lir.Lir{&lir.Branch{Target: target}}, nil

	case 0x0D: // br_if
		rel, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		target, err := blocks.targetRel(uint32(rel))
		if err != nil {
			return badOp(err)
		}
		cond, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		return []lir.Lir{&lir.Branch{Cond: cond, Target: target}}, nil

	case 0x0F: // return
		return []lir.Lir{&lir.Branch{Target: blocks.returnLabel()}}, nil

	case 0x10: // call
		idx, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		sig := d.lifter.funcSigs[idx]
		args := make([]expr.Expr, sig.Params)
		for i := sig.Params - 1; i >= 0; i-- {
			a, err := stack.pop()
			if err != nil {
				return badOp(err)
			}
			args[i] = a
		}
		id, ok := d.callTargets[idx]
		if !ok {
			return nil, &lifter.Error{Kind: lifter.BadFunctionIndex, Addr: idx, Msg: fmt.Sprintf("call to unresolved function index %d", idx)}
		}
		call := expr.Call(expr.Func(int(id)), args...)
		if sig.Results == 0 {
			return []lir.Lir{&lir.Do{Value: call}}, nil
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: call}}, nil

	case 0x11: // call_indirect: the target isn't statically known, so the
		// call is lowered best-effort against the table index alone.
		if _, err := d.uleb(); err != nil { // type index
			return badOp(err)
		}
		if _, err := d.uleb(); err != nil { // table index
			return badOp(err)
		}
		tableIdx, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.Call(expr.Name("table"), tableIdx)}}, nil

	case 0x1A: // drop
		if _, err := stack.pop(); err != nil {
			return badOp(err)
		}
		return nil, nil

	case 0x1B: // select
		i, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		v2, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		v1, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.BuiltIn(expr.Select, i, v1, v2)}}, nil

	case 0x20: // local.get
		idx, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: localRef(idx)}}, nil

	case 0x21: // local.set
		idx, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		src, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		return []lir.Lir{&lir.Assign{Dst: localRef(idx), Src: src}}, nil

	case 0x22: // local.tee
		idx, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		src, err := stack.peek()
		if err != nil {
			return badOp(err)
		}
		return []lir.Lir{&lir.Assign{Dst: localRef(idx), Src: src}}, nil

	case 0x23: // global.get
		idx, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: globalRef(idx)}}, nil

	case 0x24: // global.set
		idx, err := d.uleb()
		if err != nil {
			return badOp(err)
		}
		src, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		return []lir.Lir{&lir.Assign{Dst: globalRef(idx), Src: src}}, nil

	case 0x28, 0x29: // i32.load, i64.load
		off, err := d.memarg()
		if err != nil {
			return badOp(err)
		}
		addr, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		size := expr.Size32
		if opcode == 0x29 {
			size = expr.Size64
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.Deref(offsetAddr(addr, off), size)}}, nil

	case 0x36, 0x37: // i32.store, i64.store
		off, err := d.memarg()
		if err != nil {
			return badOp(err)
		}
		val, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		addr, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		size := expr.Size32
		if opcode == 0x37 {
			size = expr.Size64
		}
		return []lir.Lir{&lir.Assign{Dst: expr.Deref(offsetAddr(addr, off), size), Src: val}}, nil

	case 0x41: // i32.const
		v, err := d.sleb()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.Num(v)}}, nil

	case 0x42: // i64.const
		v, err := d.sleb()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.Num(v)}}, nil

	case 0x45, 0x50: // i32.eqz, i64.eqz
		v, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.Unary(expr.Not, v)}}, nil

	case 0x46, 0x51: // i32.eq, i64.eq
		s, err := cmpOp(expr.CmpEq, stack)
		return wrap(s, err)
	case 0x47, 0x52: // i32.ne, i64.ne
		s, err := cmpOp(expr.CmpNe, stack)
		return wrap(s, err)
	case 0x48, 0x53: // i32.lt_s, i64.lt_s
		s, err := cmpOp(expr.CmpLt, stack)
		return wrap(s, err)
	case 0x4A, 0x55: // i32.gt_s, i64.gt_s
		s, err := cmpOp(expr.CmpGt, stack)
		return wrap(s, err)
	case 0x4C, 0x57: // i32.le_s, i64.le_s
		s, err := cmpOp(expr.CmpLe, stack)
		return wrap(s, err)
	case 0x4E, 0x59: // i32.ge_s, i64.ge_s
		s, err := cmpOp(expr.CmpGe, stack)
		return wrap(s, err)

	case 0x67, 0x79: // i32.clz, i64.clz
		s, err := builtinUnary(expr.Clz, stack)
		return wrap(s, err)
	case 0x68, 0x7A: // i32.ctz, i64.ctz
		s, err := builtinUnary(expr.Ctz, stack)
		return wrap(s, err)

	case 0x6A, 0x7C: // i32.add, i64.add
		s, err := binOp(expr.Add, stack)
		return wrap(s, err)
	case 0x6B, 0x7D: // i32.sub, i64.sub
		s, err := binOp(expr.Sub, stack)
		return wrap(s, err)
	case 0x6C, 0x7E: // i32.mul, i64.mul
		s, err := binOp(expr.Mul, stack)
		return wrap(s, err)
	case 0x71, 0x83: // i32.and, i64.and
		s, err := binOp(expr.And, stack)
		return wrap(s, err)
	case 0x72, 0x84: // i32.or, i64.or
		s, err := binOp(expr.Or, stack)
		return wrap(s, err)
	case 0x73, 0x85: // i32.xor, i64.xor
		s, err := binOp(expr.Xor, stack)
		return wrap(s, err)
	case 0x74, 0x86: // i32.shl, i64.shl
		s, err := binOp(expr.Shl, stack)
		return wrap(s, err)
	case 0x76, 0x88: // i32.shr_u, i64.shr_u
		s, err := binOp(expr.Shr, stack)
		return wrap(s, err)
	case 0x77, 0x89: // i32.rotl, i64.rotl
		s, err := builtinBinary(expr.Rotl, stack)
		return wrap(s, err)
	case 0x78, 0x8A: // i32.rotr, i64.rotr
		s, err := builtinBinary(expr.Rotr, stack)
		return wrap(s, err)

	case 0xA7: // i32.wrap_i64
		v, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: expr.Binary(expr.And, v, expr.Num(0xFFFFFFFF))}}, nil

	case 0xAC, 0xAD: // i64.extend_i32_s, i64.extend_i32_u
		v, err := stack.pop()
		if err != nil {
			return badOp(err)
		}
		dst := stack.push()
		return []lir.Lir{&lir.Assign{Dst: dst, Src: v}}, nil

	default:
		return badOp(fmt.Errorf("opcode 0x%02x not in the supported instruction set", opcode))
	}
}

func wrap(s lir.Lir, err error) ([]lir.Lir, error) {
	if err != nil {
		return nil, &lifter.Error{Kind: lifter.MalformedCode, Msg: err.Error()}
	}
	return []lir.Lir{s}, nil
}

func offsetAddr(base expr.Expr, offset uint64) expr.Expr {
	if offset == 0 {
		return base
	}
	return expr.Binary(expr.Add, base, expr.Num(int64(offset)))
}
