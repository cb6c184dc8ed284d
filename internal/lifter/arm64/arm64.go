// Package arm64 lifts a little-endian AArch64 instruction stream into
// linear Lir. It decodes the bounded instruction list spec section 6
// names: ADD, SUB, MOV, LDR, LDUR, STR, STUR, CMP, SUBS, RET, CSEL, CSET,
// BL, B, B.cond, TBNZ, STP, LDP.
package arm64

import (
	"encoding/binary"
	"fmt"

	"decomp/internal/expr"
	"decomp/internal/lifter"
	"decomp/internal/lir"
	"decomp/internal/module"
)

// Lifter decodes AArch64 machine code.
type Lifter struct{}

// New returns an ARM64 Lifter.
func New() *Lifter { return &Lifter{} }

// abi is the AArch64 AAPCS64 register convention this decompiler assumes:
// x19-x28 callee-saved, x29 (frame pointer) and x30 (link register) also
// preserved across calls, x0-x7 are the integer argument/result registers,
// and the frame pointer is eliminated into named stack slots.
var abi = module.Abi{
	CalleeSaved: []string{
		"x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28",
		"x29", "x30", "sp",
	},
	Args:      []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"},
	Global:    nil,
	Eliminate: []string{"x29"},
	BaseReg:   "x29",
}

func (l *Lifter) Abi() module.Abi { return abi }

func reg(n uint32) string {
	if n == 31 {
		return "sp"
	}
	return fmt.Sprintf("x%d", n)
}

// zeroOrReg returns expr.Num(0) for the zero register (x31 in most
// contexts) or a Name for any other register.
func zeroOrReg(n uint32) expr.Expr {
	if n == 31 {
		return expr.Num(0)
	}
	return expr.Name(reg(n))
}

func bits(word uint32, hi, lo uint) uint32 {
	mask := uint32(1)<<(hi-lo+1) - 1
	return (word >> lo) & mask
}

func signExtend(v uint32, bitWidth uint) int64 {
	shift := 32 - bitWidth
	return int64(int32(v<<shift)) >> shift
}

// predicate builds the boolean Expr a given 4-bit condition evaluates to,
// against the most recently computed Cmp(lhs, rhs) pair.
func predicate(c uint32, cmp expr.Expr) expr.Expr {
	negate := c&1 == 1 && c != 0xF && c != 0xE
	var op expr.UnaryOp
	switch c &^ 1 {
	case 0x0:
		op = expr.CmpEq
	case 0x2:
		op = expr.CmpGe // CS (unsigned >=) approximated with signed Ge
	case 0x4:
		op = expr.CmpLt // MI
	case 0x8:
		op = expr.CmpGt // HI
	case 0xA:
		op = expr.CmpGe // GE
	case 0xC:
		op = expr.CmpGt // GT
	default:
		op = expr.CmpEq
	}
	e := expr.Unary(op, cmp)
	if negate {
		return expr.Neg(e)
	}
	return e
}

// translationState threads the label allocator, the running Cmp operand
// pair (for the flag-dependent instructions that follow a SUBS/CMP), and
// the address->Label map across the whole decode.
type translationState struct {
	fn         *lir.Func
	addrLabel  map[uint64]lir.Label
	lastCmp    expr.Expr
	callTarget map[uint64]module.FuncID
	base       uint64
}

func (s *translationState) labelFor(addr uint64) lir.Label {
	if l, ok := s.addrLabel[addr]; ok {
		return l
	}
	l := s.fn.Labels.Fresh()
	s.addrLabel[addr] = l
	return l
}

// ToLIR decodes a 4-byte-aligned little-endian instruction stream.
func (l *Lifter) ToLIR(bytes []byte, baseAddress uint64, callTargets map[uint64]module.FuncID) (*lir.Func, error) {
	if len(bytes)%4 != 0 {
		return nil, &lifter.Error{Kind: lifter.MalformedCode, Addr: baseAddress, Msg: "code length not a multiple of 4"}
	}

	fn := lir.NewFunc(fmt.Sprintf("fn_%x", baseAddress))
	st := &translationState{
		fn:         fn,
		addrLabel:  map[uint64]lir.Label{},
		callTarget: callTargets,
		base:       baseAddress,
	}

	n := len(bytes) / 4
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(bytes[i*4:])
	}

	// Pre-scan every branch target so forward jumps land on a Label that
	// already exists by the time CompressControlFlow et al. run.
	for i, w := range words {
		addr := baseAddress + uint64(i)*4
		if t, ok := branchTargetAddr(w, addr); ok {
			st.labelFor(t)
		}
	}

	for i, w := range words {
		addr := baseAddress + uint64(i)*4
		if label, ok := st.addrLabel[addr]; ok {
			fn.Append(&lir.LabelStmt{Label: label})
		}
		stmts, err := st.decode(w, addr)
		if err != nil {
			return nil, err
		}
		for _, stmt := range stmts {
			fn.Append(stmt)
		}
	}

	return fn, nil
}

// branchTargetAddr reports the absolute target address of a B/BL/B.cond/
// TBNZ instruction, if w is one.
func branchTargetAddr(w uint32, addr uint64) (uint64, bool) {
	switch {
	case bits(w, 31, 26) == 0b000101 || bits(w, 31, 26) == 0b100101: // B / BL
		imm26 := bits(w, 25, 0)
		off := signExtend(imm26, 26) * 4
		return uint64(int64(addr) + off), true
	case bits(w, 31, 24) == 0b01010100: // B.cond
		imm19 := bits(w, 23, 5)
		off := signExtend(imm19, 19) * 4
		return uint64(int64(addr) + off), true
	case bits(w, 30, 25) == 0b011011: // TBNZ/TBZ
		imm14 := bits(w, 18, 5)
		off := signExtend(imm14, 14) * 4
		return uint64(int64(addr) + off), true
	default:
		return 0, false
	}
}

func (s *translationState) decode(w uint32, addr uint64) ([]lir.Lir, error) {
	switch {
	case w == 0xD65F03C0: // RET (x30)
		return []lir.Lir{&lir.Return{Value: nil}}, nil

	case bits(w, 31, 10) == 0b1101011001011111000000 && bits(w, 4, 0) == 0: // RET Xn
		return []lir.Lir{&lir.Return{Value: expr.Name(reg(bits(w, 9, 5)))}}, nil

	case bits(w, 28, 24) == 0b10001 && bits(w, 30, 29) == 0b00: // ADD (immediate)
		rd, rn := bits(w, 4, 0), bits(w, 9, 5)
		imm := int64(bits(w, 21, 10))
		if bits(w, 22, 22) == 1 {
			imm <<= 12
		}
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Binary(expr.Add, zeroOrReg(rn), expr.Num(imm))}}, nil

	case bits(w, 28, 24) == 0b10001 && bits(w, 30, 29) == 0b10: // SUB (immediate)
		rd, rn := bits(w, 4, 0), bits(w, 9, 5)
		imm := int64(bits(w, 21, 10))
		if bits(w, 22, 22) == 1 {
			imm <<= 12
		}
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Binary(expr.Sub, zeroOrReg(rn), expr.Num(imm))}}, nil

	case bits(w, 28, 24) == 0b01011 && bits(w, 30, 29) == 0b00: // ADD (shifted register)
		rd, rn, rm := bits(w, 4, 0), bits(w, 9, 5), bits(w, 20, 16)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Binary(expr.Add, zeroOrReg(rn), zeroOrReg(rm))}}, nil

	case bits(w, 28, 24) == 0b01011 && bits(w, 30, 29) == 0b10 && bits(w, 4, 0) != 0b11111: // SUB (shifted register)
		rd, rn, rm := bits(w, 4, 0), bits(w, 9, 5), bits(w, 20, 16)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Binary(expr.Sub, zeroOrReg(rn), zeroOrReg(rm))}}, nil

	case bits(w, 28, 24) == 0b01011 && bits(w, 30, 29) == 0b11 && bits(w, 4, 0) == 0b11111: // CMP (shifted register), alias of SUBS xzr, Rn, Rm
		rn, rm := bits(w, 9, 5), bits(w, 20, 16)
		s.lastCmp = expr.Binary(expr.Cmp, zeroOrReg(rn), zeroOrReg(rm))
		return nil, nil

	case bits(w, 30, 29) == 0b11 && bits(w, 28, 24) == 0b01011: // SUBS (shifted register), Rd != xzr
		rd, rn, rm := bits(w, 4, 0), bits(w, 9, 5), bits(w, 20, 16)
		s.lastCmp = expr.Binary(expr.Cmp, zeroOrReg(rn), zeroOrReg(rm))
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Binary(expr.Sub, zeroOrReg(rn), zeroOrReg(rm))}}, nil

	case bits(w, 30, 29) == 0b11 && bits(w, 28, 24) == 0b10001: // SUBS (immediate), also covers CMP imm
		rd, rn := bits(w, 4, 0), bits(w, 9, 5)
		imm := int64(bits(w, 21, 10))
		if bits(w, 22, 22) == 1 {
			imm <<= 12
		}
		s.lastCmp = expr.Binary(expr.Cmp, zeroOrReg(rn), expr.Num(imm))
		if rd == 31 {
			return nil, nil
		}
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Binary(expr.Sub, zeroOrReg(rn), expr.Num(imm))}}, nil

	case bits(w, 30, 23) == 0b10100101 && bits(w, 31, 31) == 0: // MOVZ (32-bit, sf=0)
		rd := bits(w, 4, 0)
		imm16 := int64(bits(w, 20, 5))
		hw := bits(w, 22, 21)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Num(imm16 << (16 * hw))}}, nil

	case bits(w, 30, 23) == 0b10100101: // MOVZ (64-bit, sf=1)
		rd := bits(w, 4, 0)
		imm16 := int64(bits(w, 20, 5))
		hw := bits(w, 22, 21)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Num(imm16 << (16 * hw))}}, nil

	case bits(w, 30, 21) == 0b0101010000 && bits(w, 9, 5) == 0b11111: // MOV (register), alias of ORR Rd, XZR, Rm
		rd, rm := bits(w, 4, 0), bits(w, 20, 16)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: expr.Name(reg(rm))}}, nil

	case bits(w, 29, 27) == 0b111 && bits(w, 25, 24) == 0b01 && bits(w, 23, 22) == 0b01: // LDR (unsigned offset)
		rt, rn := bits(w, 4, 0), bits(w, 9, 5)
		size := sizeFromBits(bits(w, 31, 30))
		imm12 := int64(bits(w, 21, 10)) * int64(size.ByteCount())
		addrExpr := offsetAddr(rn, imm12)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rt)), Src: expr.Deref(addrExpr, size)}}, nil

	case bits(w, 29, 27) == 0b111 && bits(w, 25, 24) == 0b00 && bits(w, 23, 22) == 0b01 && bits(w, 11, 10) == 0b00: // LDUR
		rt, rn := bits(w, 4, 0), bits(w, 9, 5)
		size := sizeFromBits(bits(w, 31, 30))
		imm9 := signExtend(bits(w, 20, 12), 9)
		addrExpr := offsetAddr(rn, imm9)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rt)), Src: expr.Deref(addrExpr, size)}}, nil

	case bits(w, 29, 27) == 0b111 && bits(w, 25, 24) == 0b01 && bits(w, 23, 22) == 0b00: // STR (unsigned offset)
		rt, rn := bits(w, 4, 0), bits(w, 9, 5)
		size := sizeFromBits(bits(w, 31, 30))
		imm12 := int64(bits(w, 21, 10)) * int64(size.ByteCount())
		addrExpr := offsetAddr(rn, imm12)
		return []lir.Lir{&lir.Assign{Dst: expr.Deref(addrExpr, size), Src: zeroOrReg(rt)}}, nil

	case bits(w, 29, 27) == 0b111 && bits(w, 25, 24) == 0b00 && bits(w, 23, 22) == 0b00 && bits(w, 11, 10) == 0b00: // STUR
		rt, rn := bits(w, 4, 0), bits(w, 9, 5)
		size := sizeFromBits(bits(w, 31, 30))
		imm9 := signExtend(bits(w, 20, 12), 9)
		addrExpr := offsetAddr(rn, imm9)
		return []lir.Lir{&lir.Assign{Dst: expr.Deref(addrExpr, size), Src: zeroOrReg(rt)}}, nil

	case bits(w, 31, 23) == 0b101010010: // STP/LDP (signed offset, 64-bit)
		rt, rn, rt2 := bits(w, 4, 0), bits(w, 9, 5), bits(w, 14, 10)
		imm7 := signExtend(bits(w, 21, 15), 7) * 8
		lo := offsetAddr(rn, imm7)
		hi := offsetAddr(rn, imm7+8)
		if bits(w, 22, 22) == 1 { // L=1, LDP
			return []lir.Lir{
				&lir.Assign{Dst: expr.Name(reg(rt)), Src: expr.Deref(lo, expr.Size64)},
				&lir.Assign{Dst: expr.Name(reg(rt2)), Src: expr.Deref(hi, expr.Size64)},
			}, nil
		}
		return []lir.Lir{
			&lir.Assign{Dst: expr.Deref(lo, expr.Size64), Src: zeroOrReg(rt)},
			&lir.Assign{Dst: expr.Deref(hi, expr.Size64), Src: zeroOrReg(rt2)},
		}, nil

	case bits(w, 31, 21) == 0b10011010100 && bits(w, 11, 10) == 0b01 && bits(w, 20, 16) == 0b11111 && bits(w, 9, 5) == 0b11111: // CSET, alias of CSINC Rd, XZR, XZR, invert(cond)
		rd := bits(w, 4, 0)
		cond := bits(w, 15, 12) ^ 1
		guard := s.cmpGuard(cond)
		return []lir.Lir{&lir.Assign{Dst: expr.Name(reg(rd)), Src: guard}}, nil

	case bits(w, 31, 21) == 0b10011010100 && bits(w, 11, 10) == 0b00: // CSEL
		rd, rn, rm := bits(w, 4, 0), bits(w, 9, 5), bits(w, 20, 16)
		cond := bits(w, 15, 12)
		guard := s.cmpGuard(cond)
		return []lir.Lir{&lir.Assign{
			Dst: expr.Name(reg(rd)),
			Src: expr.BuiltIn(expr.Select, guard, zeroOrReg(rn), zeroOrReg(rm)),
		}}, nil

	case bits(w, 31, 26) == 0b100101: // BL
		imm26 := bits(w, 25, 0)
		off := signExtend(imm26, 26) * 4
		target := uint64(int64(addr) + off)
		if id, ok := s.callTarget[target]; ok {
			return []lir.Lir{&lir.Do{Value: expr.Call(expr.Func(int(id)))}}, nil
		}
		return nil, &lifter.Error{Kind: lifter.BadFunctionIndex, Addr: addr, Msg: fmt.Sprintf("call target 0x%x not in function table", target)}

	case bits(w, 31, 26) == 0b000101: // B (unconditional)
		target, _ := branchTargetAddr(w, addr)
		return []lir.Lir{&lir.Branch{Target: s.labelFor(target)}}, nil

	case bits(w, 31, 24) == 0b01010100: // B.cond
		target, _ := branchTargetAddr(w, addr)
		cond := bits(w, 3, 0)
		return []lir.Lir{&lir.Branch{Cond: s.cmpGuard(cond), Target: s.labelFor(target)}}, nil

	case bits(w, 30, 25) == 0b011011: // TBNZ/TBZ
		rt := bits(w, 4, 0)
		b5, b40 := bits(w, 31, 31), bits(w, 23, 19)
		bitIndex := b5<<5 | b40
		target, _ := branchTargetAddr(w, addr)
		mask := expr.Binary(expr.And, zeroOrReg(rt), expr.Num(1<<bitIndex))
		nz := bits(w, 24, 24) == 1
		var guard expr.Expr = expr.Unary(expr.CmpNe, mask)
		if !nz {
			guard = expr.Unary(expr.CmpEq, mask)
		}
		return []lir.Lir{&lir.Branch{Cond: guard, Target: s.labelFor(target)}}, nil

	default:
		return nil, &lifter.Error{Kind: lifter.UnknownInstruction, Addr: addr, Msg: fmt.Sprintf("unrecognized word 0x%08x", w)}
	}
}

// cmpGuard turns a 4-bit condition against the last flag-setting
// instruction into a boolean Expr. If no SUBS/CMP preceded this
// instruction, the guard degrades to comparing a zero sentinel against
// itself: a malformed-but-decodable stream, since the structural
// invariants elsewhere assume well-formed flag usage.
func (s *translationState) cmpGuard(cond uint32) expr.Expr {
	cmp := s.lastCmp
	if cmp == nil {
		cmp = expr.Binary(expr.Cmp, expr.Num(0), expr.Num(0))
	}
	return predicate(cond, cmp.Clone())
}

func sizeFromBits(b uint32) expr.Size {
	switch b {
	case 0b00:
		return expr.Size8
	case 0b01:
		return expr.Size16
	case 0b10:
		return expr.Size32
	default:
		return expr.Size64
	}
}

func offsetAddr(rn uint32, imm int64) expr.Expr {
	base := zeroOrReg(rn)
	if imm == 0 {
		return base
	}
	return expr.Binary(expr.Add, base, expr.Num(imm))
}
