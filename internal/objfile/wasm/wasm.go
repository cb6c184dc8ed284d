// Package wasm loads a WebAssembly module into a Module plus its
// blockified FunctionDefSet, per SPEC_FULL.md section 4.7. It is a small
// section-by-section reader in the shape of
// other_examples/0938f648_lhaig-intent__internal-wasmbe-wasmbe.go.go's
// backend-facing module model, and builds the combined import+function
// type table the way original_source/dcp/src/ofile/wasmmod.rs's
// module_from does.
package wasm

import (
	"fmt"
	"os"

	"decomp/internal/diagnostic"
	"decomp/internal/lifter"
	"decomp/internal/lifter/wasm"
	"decomp/internal/lir"
	"decomp/internal/module"
	"decomp/internal/objfile"
)

const (
	secCustom   = 0
	secType     = 1
	secImport   = 2
	secFunction = 3
	secTable    = 4
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secStart    = 8
	secElement  = 9
	secCode     = 10
)

const (
	importKindFunc   = 0
	importKindTable  = 1
	importKindMemory = 2
	importKindGlobal = 3
)

// Loader implements objfile.Loader for the WebAssembly binary format.
type Loader struct{}

func New() *Loader { return &Loader{} }

var _ objfile.Loader = (*Loader)(nil)

// funcEntry is one slot in the module-wide function index space: imports
// first, then defined functions, matching the WASM spec's numbering (and
// the numbering the call opcode's index operand refers to).
type funcEntry struct {
	name    string
	sig     wasm.Signature
	code    []byte // nil for imports: no body to lift
	hasBody bool
}

// Load parses a `\0asm` module and lifts every function with a code-section
// body using the WASM lifter.
func (l *Loader) Load(data []byte) (*module.Module, *module.FunctionDefSet, error) {
	if len(data) < 8 || string(data[0:4]) != "\x00asm" {
		return nil, nil, &objfile.DecodeError{Kind: objfile.UnknownFormat, Msg: "missing \\0asm magic"}
	}

	r := &reader{buf: data, pos: 8}

	var types []wasm.Signature
	var funcs []funcEntry
	var pendingTypeIdx []int // type index per function-section entry, resolved after the type section is known
	exportNames := map[uint64]string{}

	for r.pos < len(r.buf) {
		id, err := r.byte()
		if err != nil {
			return nil, nil, &objfile.DecodeError{Kind: objfile.Invalid, Msg: "reading section id: " + err.Error()}
		}
		size, err := r.uleb()
		if err != nil {
			return nil, nil, &objfile.DecodeError{Kind: objfile.Invalid, Msg: "reading section size: " + err.Error()}
		}
		if r.pos+int(size) > len(r.buf) {
			return nil, nil, &objfile.DecodeError{Kind: objfile.Invalid, Msg: "section runs past end of file"}
		}
		body := r.buf[r.pos : r.pos+int(size)]
		r.pos += int(size)
		sec := &reader{buf: body}

		switch id {
		case secType:
			types, err = readTypeSection(sec)
		case secImport:
			var imported []funcEntry
			imported, err = readImportSection(sec, types)
			funcs = append(funcs, imported...)
		case secFunction:
			pendingTypeIdx, err = readFunctionSection(sec)
		case secCode:
			err = readCodeSection(sec, types, pendingTypeIdx, &funcs)
		case secExport:
			err = readExportSection(sec, exportNames)
		default:
			// Table, memory, global, start, element, data, custom: no
			// function-index-space or code content, nothing to extract.
		}
		if err != nil {
			return nil, nil, &objfile.DecodeError{Kind: objfile.Invalid, Msg: fmt.Sprintf("section %d: %v", id, err)}
		}
	}

	if len(funcs) == 0 {
		return nil, nil, &objfile.DecodeError{Kind: objfile.NoCode, Msg: "no functions in module"}
	}

	funcSigs := make(map[uint64]wasm.Signature, len(funcs))
	callTargets := make(map[uint64]module.FuncID, len(funcs))
	for i, f := range funcs {
		funcSigs[uint64(i)] = f.sig
		callTargets[uint64(i)] = module.FuncID(i)
	}

	lft := wasm.New(funcSigs)
	mod := module.NewModule(lft.Abi())
	defs := module.NewFunctionDefSet()

	diag := diagnostic.NewReporter(nil)
	for i, f := range funcs {
		id := module.FuncID(i)
		name := f.name
		if exp, ok := exportNames[uint64(i)]; ok {
			name = exp
		}
		mod.AddDecl(&module.FunctionDecl{FuncID: id, Name: name})

		if !f.hasBody {
			continue
		}
		linear, err := lft.ToLIR(f.code, uint64(i), callTargets)
		if err != nil {
			if le, ok := err.(*lifter.Error); ok {
				fmt.Fprint(os.Stderr, diag.Format(diagnostic.FromLifterError(name, le)))
			} else {
				fmt.Fprintf(os.Stderr, "objfile/wasm: skipping %s: %v\n", name, err)
			}
			continue
		}
		blocked, err := lir.Blockify(linear)
		if err != nil {
			if ie, ok := err.(*lir.InvariantError); ok {
				fmt.Fprint(os.Stderr, diag.Format(diagnostic.FromInvariantError(name, ie)))
			} else {
				fmt.Fprintf(os.Stderr, "objfile/wasm: skipping %s: %v\n", name, err)
			}
			continue
		}
		defs.Put(&module.FunctionDef{FuncID: id, Graph: blocked.Graph, Blocks: blocked.Blocks})
	}

	return mod, defs, nil
}

// reader is a minimal LEB128/byte-vector cursor over a section's bytes.
// Duplicated from internal/lifter/wasm's decoder rather than shared,
// since that type is unexported and the two packages read different
// things (module structure here, instruction stream there); both exist
// because WASM's LEB128 encoding is bit-incompatible with
// encoding/binary's varints and no pack library parses WASM containers.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uleb() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.byte()
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

func (r *reader) skip(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("truncated")
	}
	r.pos += n
	return nil
}

func (r *reader) name() (string, error) {
	n, err := r.uleb()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("truncated name")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) limits() error {
	flag, err := r.byte()
	if err != nil {
		return err
	}
	if _, err := r.uleb(); err != nil { // min
		return err
	}
	if flag&1 != 0 {
		if _, err := r.uleb(); err != nil { // max
			return err
		}
	}
	return nil
}

func readTypeSection(r *reader) ([]wasm.Signature, error) {
	count, err := r.uleb()
	if err != nil {
		return nil, err
	}
	types := make([]wasm.Signature, 0, count)
	for i := uint64(0); i < count; i++ {
		marker, err := r.byte()
		if err != nil {
			return nil, err
		}
		if marker != 0x60 {
			return nil, fmt.Errorf("type entry %d: expected func type marker 0x60, got 0x%02x", i, marker)
		}
		params, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if err := r.skip(int(params)); err != nil {
			return nil, err
		}
		results, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if err := r.skip(int(results)); err != nil {
			return nil, err
		}
		types = append(types, wasm.Signature{Params: int(params), Results: int(results)})
	}
	return types, nil
}

func readImportSection(r *reader, types []wasm.Signature) ([]funcEntry, error) {
	count, err := r.uleb()
	if err != nil {
		return nil, err
	}
	var funcs []funcEntry
	for i := uint64(0); i < count; i++ {
		mod, err := r.name()
		if err != nil {
			return nil, err
		}
		field, err := r.name()
		if err != nil {
			return nil, err
		}
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch kind {
		case importKindFunc:
			typeIdx, err := r.uleb()
			if err != nil {
				return nil, err
			}
			if int(typeIdx) >= len(types) {
				return nil, fmt.Errorf("import %d: type index %d out of range", i, typeIdx)
			}
			funcs = append(funcs, funcEntry{name: mod + "." + field, sig: types[typeIdx]})
		case importKindTable:
			if _, err := r.byte(); err != nil { // reftype
				return nil, err
			}
			if err := r.limits(); err != nil {
				return nil, err
			}
		case importKindMemory:
			if err := r.limits(); err != nil {
				return nil, err
			}
		case importKindGlobal:
			if _, err := r.byte(); err != nil { // valtype
				return nil, err
			}
			if _, err := r.byte(); err != nil { // mutability
				return nil, err
			}
		default:
			return nil, fmt.Errorf("import %d: unknown import kind %d", i, kind)
		}
	}
	return funcs, nil
}

func readFunctionSection(r *reader) ([]int, error) {
	count, err := r.uleb()
	if err != nil {
		return nil, err
	}
	idx := make([]int, 0, count)
	for i := uint64(0); i < count; i++ {
		typeIdx, err := r.uleb()
		if err != nil {
			return nil, err
		}
		idx = append(idx, int(typeIdx))
	}
	return idx, nil
}

// readCodeSection appends one funcEntry per code-section body, resolving
// each against the type index the function section recorded for it (code
// and function section entries correspond 1:1, in order).
func readCodeSection(r *reader, types []wasm.Signature, typeIdx []int, funcs *[]funcEntry) error {
	count, err := r.uleb()
	if err != nil {
		return err
	}
	if int(count) != len(typeIdx) {
		return fmt.Errorf("code section has %d entries, function section declared %d", count, len(typeIdx))
	}
	for i := uint64(0); i < count; i++ {
		bodySize, err := r.uleb()
		if err != nil {
			return err
		}
		if r.pos+int(bodySize) > len(r.buf) {
			return fmt.Errorf("code entry %d: body runs past section end", i)
		}
		body := &reader{buf: r.buf[r.pos : r.pos+int(bodySize)]}
		r.pos += int(bodySize)

		localGroups, err := body.uleb()
		if err != nil {
			return err
		}
		for g := uint64(0); g < localGroups; g++ {
			if _, err := body.uleb(); err != nil { // decl count
				return err
			}
			if _, err := body.byte(); err != nil { // valtype
				return err
			}
		}
		code := body.buf[body.pos:]

		ti := typeIdx[i]
		if ti >= len(types) {
			return fmt.Errorf("code entry %d: type index %d out of range", i, ti)
		}
		*funcs = append(*funcs, funcEntry{
			name:    fmt.Sprintf("fn_%d", len(*funcs)),
			sig:     types[ti],
			code:    code,
			hasBody: true,
		})
	}
	return nil
}

func readExportSection(r *reader, names map[uint64]string) error {
	count, err := r.uleb()
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		idx, err := r.uleb()
		if err != nil {
			return err
		}
		if kind == importKindFunc {
			names[idx] = name
		}
	}
	return nil
}
