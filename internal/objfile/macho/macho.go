// Package macho loads an ARM64 Mach-O object (thin or fat) into a Module
// plus its blockified FunctionDefSet, per SPEC_FULL.md section 4.7.
package macho

import (
	"bytes"
	"debug/macho"
	"fmt"
	"os"
	"sort"
	"strings"

	"decomp/internal/diagnostic"
	"decomp/internal/lifter"
	"decomp/internal/lifter/arm64"
	"decomp/internal/lir"
	"decomp/internal/module"
	"decomp/internal/objfile"
)

// N_TYPE masks a Mach-O nlist Type byte down to its type bits; N_SECT
// marks a symbol defined in a numbered section (debug/macho does not
// export these, so they're reproduced here from the Mach-O nlist.h
// layout).
const (
	nType = 0x0e
	nSect = 0x0e
	nStab = 0xe0
)

// Loader implements objfile.Loader for Mach-O containers.
type Loader struct{}

func New() *Loader { return &Loader{} }

var _ objfile.Loader = (*Loader)(nil)

type rawFunc struct {
	name  string
	addr  uint64
	bytes []byte
}

// Load parses a Mach-O file (preferring the ARM64 slice of a fat binary),
// slices its __TEXT,__text section into per-symbol function bodies, and
// lifts each one with the ARM64 lifter.
func (l *Loader) Load(data []byte) (*module.Module, *module.FunctionDefSet, error) {
	f, err := openArm64(data)
	if err != nil {
		return nil, nil, err
	}

	text := f.Section("__text")
	if text == nil {
		return nil, nil, &objfile.DecodeError{Kind: objfile.NoCode, Msg: "no __TEXT,__text section"}
	}
	textBytes, err := text.Data()
	if err != nil {
		return nil, nil, &objfile.DecodeError{Kind: objfile.Invalid, Msg: "reading __text: " + err.Error()}
	}
	textSectNum := sectionNumber(f, text)
	if textSectNum == 0 {
		return nil, nil, &objfile.DecodeError{Kind: objfile.NoCode, Msg: "could not locate __text section index"}
	}

	if f.Symtab == nil || len(f.Symtab.Syms) == 0 {
		return nil, nil, &objfile.DecodeError{Kind: objfile.NoCode, Msg: "no symbol table"}
	}

	funcs := definedFunctions(f, textSectNum, text.Addr, textBytes)
	if len(funcs) == 0 {
		return nil, nil, &objfile.DecodeError{Kind: objfile.NoCode, Msg: "no function symbols in __text"}
	}

	lft := arm64.New()
	mod := module.NewModule(lft.Abi())
	defs := module.NewFunctionDefSet()

	callTargets := make(map[uint64]module.FuncID, len(funcs))
	for i, fn := range funcs {
		id := module.FuncID(i)
		callTargets[fn.addr] = id
	}

	diag := diagnostic.NewReporter(nil)
	for i, fn := range funcs {
		id := module.FuncID(i)
		mod.AddDecl(&module.FunctionDecl{FuncID: id, Name: fn.name})

		linear, err := lft.ToLIR(fn.bytes, fn.addr, callTargets)
		if err != nil {
			if le, ok := err.(*lifter.Error); ok {
				fmt.Fprint(os.Stderr, diag.Format(diagnostic.FromLifterError(fn.name, le)))
			} else {
				fmt.Fprintf(os.Stderr, "objfile/macho: skipping %s: %v\n", fn.name, err)
			}
			continue
		}
		blocked, err := lir.Blockify(linear)
		if err != nil {
			if ie, ok := err.(*lir.InvariantError); ok {
				fmt.Fprint(os.Stderr, diag.Format(diagnostic.FromInvariantError(fn.name, ie)))
			} else {
				fmt.Fprintf(os.Stderr, "objfile/macho: skipping %s: %v\n", fn.name, err)
			}
			continue
		}
		defs.Put(&module.FunctionDef{FuncID: id, Graph: blocked.Graph, Blocks: blocked.Blocks})
	}

	return mod, defs, nil
}

// openArm64 parses either a thin or fat Mach-O, returning the ARM64
// *macho.File or a DecodeError.
func openArm64(data []byte) (*macho.File, error) {
	if fat, err := macho.NewFatFile(bytes.NewReader(data)); err == nil {
		for _, arch := range fat.Arches {
			if arch.Cpu == macho.CpuArm64 {
				return arch.File, nil
			}
		}
		return nil, &objfile.DecodeError{Kind: objfile.UnknownArch, Msg: "fat binary has no arm64 slice"}
	}

	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, &objfile.DecodeError{Kind: objfile.UnknownFormat, Msg: err.Error()}
	}
	if f.Cpu != macho.CpuArm64 {
		return nil, &objfile.DecodeError{Kind: objfile.UnknownArch, Msg: fmt.Sprintf("unsupported cpu %v", f.Cpu)}
	}
	return f, nil
}

// sectionNumber returns sect's 1-based index among f.Sections, matching
// the numbering symbol.Sect refers to, or 0 if not found.
func sectionNumber(f *macho.File, sect *macho.Section) int {
	for i, s := range f.Sections {
		if s == sect {
			return i + 1
		}
	}
	return 0
}

// definedFunctions collects every defined symbol in the text section,
// sorts by address, and slices the section's bytes between consecutive
// symbols (the last symbol runs to the section's end).
func definedFunctions(f *macho.File, textSectNum int, textAddr uint64, textBytes []byte) []rawFunc {
	type sym struct {
		name string
		addr uint64
	}
	var syms []sym
	for _, s := range f.Symtab.Syms {
		if int(s.Sect) != textSectNum {
			continue
		}
		if s.Type&nStab != 0 {
			continue
		}
		if s.Type&nType != nSect {
			continue
		}
		if s.Name == "" {
			continue
		}
		syms = append(syms, sym{name: strings.TrimPrefix(s.Name, "_"), addr: s.Value})
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].addr < syms[j].addr })

	var out []rawFunc
	end := textAddr + uint64(len(textBytes))
	for i, s := range syms {
		stop := end
		if i+1 < len(syms) {
			stop = syms[i+1].addr
		}
		if stop <= s.addr || s.addr < textAddr || stop > end {
			continue
		}
		lo := s.addr - textAddr
		hi := stop - textAddr
		out = append(out, rawFunc{name: s.name, addr: s.addr, bytes: textBytes[lo:hi]})
	}
	return out
}
