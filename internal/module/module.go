// Package module holds the function registry (declarations and
// definitions) and the ABI descriptor that the dataflow passes and the
// lifters consult.
package module

import (
	"decomp/internal/cfg"
	"decomp/internal/lir"
)

// FuncID identifies a function within a Module.
type FuncID int

// Abi is the closed per-architecture configuration consulted throughout
// the dataflow passes.
type Abi struct {
	// CalleeSaved names registers that must be preserved across a return.
	CalleeSaved []string
	// Args is the ordered list of registers tried as potential incoming
	// arguments.
	Args []string
	// Global names module-level state, never eligible for dead-write
	// removal.
	Global []string
	// Eliminate names registers to be SSA-ified and inlined away (e.g.
	// frame/base pointers).
	Eliminate []string
	// BaseReg is the optional stack-base register used for stack-frame
	// recovery.
	BaseReg string
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func (a *Abi) IsCalleeSaved(name string) bool { return contains(a.CalleeSaved, name) }
func (a *Abi) IsGlobal(name string) bool      { return contains(a.Global, name) }
func (a *Abi) IsEliminate(name string) bool   { return contains(a.Eliminate, name) }

// FunctionDecl is the metadata interprocedural passes mutate: identity,
// optional resolved name, and the inferred argument register prefix.
type FunctionDecl struct {
	FuncID FuncID
	Name   string
	Args   []string
	// version is bumped every time Args changes, letting a fixed-point
	// driver detect growth cheaply without recomputing equality.
	version int
}

// AddArg appends a register to the decl's inferred argument list and
// bumps its version.
func (d *FunctionDecl) AddArg(reg string) {
	d.Args = append(d.Args, reg)
	d.version++
}

// Version returns the current change-detection counter.
func (d *FunctionDecl) Version() int { return d.version }

// FunctionDef is a function's body: its blockified CFG and owned block
// list.
type FunctionDef struct {
	FuncID FuncID
	Graph  *cfg.CFG
	Blocks []*lir.Node
}

// FunctionDefSet maps FuncID to FunctionDef. Declarations and definitions
// are split into separate collections (Module.Decls vs DefSet) so that
// interprocedural passes can mutate decl metadata while iterating over
// defs without the two aliasing.
type FunctionDefSet struct {
	defs map[FuncID]*FunctionDef
}

// NewFunctionDefSet creates an empty def set.
func NewFunctionDefSet() *FunctionDefSet {
	return &FunctionDefSet{defs: make(map[FuncID]*FunctionDef)}
}

func (s *FunctionDefSet) Put(def *FunctionDef) { s.defs[def.FuncID] = def }
func (s *FunctionDefSet) Get(id FuncID) (*FunctionDef, bool) {
	d, ok := s.defs[id]
	return d, ok
}

// IDs returns every defined function id.
func (s *FunctionDefSet) IDs() []FuncID {
	out := make([]FuncID, 0, len(s.defs))
	for id := range s.defs {
		out = append(out, id)
	}
	return out
}

// Module is a compiled unit: its ABI plus the function declarations.
// Definitions live in a separate FunctionDefSet, per spec section 3.
type Module struct {
	Abi   Abi
	Decls []*FunctionDecl
}

// NewModule creates an empty module with the given ABI.
func NewModule(abi Abi) *Module {
	return &Module{Abi: abi}
}

// DeclByID finds a declaration by id, or nil.
func (m *Module) DeclByID(id FuncID) *FunctionDecl {
	for _, d := range m.Decls {
		if d.FuncID == id {
			return d
		}
	}
	return nil
}

// AddDecl registers a new function declaration.
func (m *Module) AddDecl(decl *FunctionDecl) {
	m.Decls = append(m.Decls, decl)
}
