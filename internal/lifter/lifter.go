// Package lifter defines the architecture-independent Lifter trait: bytes
// in, linear Lir out, plus the static Abi every lifter publishes.
package lifter

import (
	"fmt"

	"decomp/internal/lir"
	"decomp/internal/module"
)

// ErrorKind closes the taxonomy of lifter-reported errors (spec section 7).
type ErrorKind int

const (
	UnknownInstruction ErrorKind = iota
	MalformedCode
	BadFunctionIndex
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownInstruction:
		return "unknown instruction"
	case MalformedCode:
		return "malformed code"
	case BadFunctionIndex:
		return "bad function index"
	default:
		return "unknown lifter error"
	}
}

// Error reports a per-function lift failure. It propagates to the caller;
// a single unliftable function should not stop the whole module (the
// object-file loader reports it and skips that one function, per spec
// section 7).
type Error struct {
	Kind ErrorKind
	Addr uint64
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lifter: %s at 0x%x: %s", e.Kind, e.Addr, e.Msg)
}

// Lifter decodes a contiguous region of machine code into linear Lir.
type Lifter interface {
	// Abi returns this architecture's static ABI descriptor (spec section 3).
	Abi() module.Abi

	// ToLIR decodes bytes (starting at baseAddress) into a linear Lir
	// function. callTargets maps a known call-target address to the
	// FuncID it resolves to, so direct calls lift to Func(FuncID) rather
	// than a raw address.
	ToLIR(bytes []byte, baseAddress uint64, callTargets map[uint64]module.FuncID) (*lir.Func, error)
}
