package macho

import (
	"bytes"
	"encoding/binary"
	"testing"

	"decomp/internal/objfile"
)

// buildThinArm64 assembles a minimal valid thin 64-bit Mach-O object: one
// __TEXT,__text section holding code, one LC_SYMTAB with a single
// N_SECT-typed symbol pointing at its start. Offsets are computed by hand
// to match debug/macho's FileHeader/Segment64/Section64/SymtabCmd/Nlist64
// layouts exactly.
func buildThinArm64(t *testing.T, code []byte) []byte {
	t.Helper()
	const (
		textAddr = 0x1000
	)

	var buf bytes.Buffer
	w := func(v interface{}) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}

	segCmdSize := uint32(72 + 80) // segment_command_64 + one section_64
	symCmdSize := uint32(24)      // symtab_command
	cmdsSize := segCmdSize + symCmdSize
	headerSize := uint32(32)

	textOff := headerSize + cmdsSize
	symOff := textOff + uint32(len(code))
	strOff := symOff + 16 // one nlist_64 entry
	strTab := append([]byte{0x00}, []byte("_foo\x00")...)

	// mach_header_64
	w(uint32(0xfeedfacf))          // Magic64
	w(uint32(0x0100000c))          // CpuArm64 (CpuArm | cpuArch64)
	w(uint32(0))                   // subtype: CPU_SUBTYPE_ARM64_ALL
	w(uint32(1))                   // filetype: MH_OBJECT
	w(uint32(2))                   // ncmds
	w(cmdsSize)                    // sizeofcmds
	w(uint32(0))                   // flags
	w(uint32(0))                   // reserved

	// LC_SEGMENT_64
	w(uint32(0x19))     // cmd
	w(segCmdSize)       // cmdsize
	w(name16("__TEXT")) // segname
	w(uint64(textAddr))    // vmaddr
	w(uint64(len(code)))   // vmsize
	w(uint64(textOff))     // fileoff
	w(uint64(len(code)))   // filesize
	w(uint32(7))           // maxprot
	w(uint32(7))           // initprot
	w(uint32(1))           // nsects
	w(uint32(0))           // flags

	// section_64
	w(name16("__text"))   // sectname
	w(name16("__TEXT"))   // segname
	w(uint64(textAddr))   // addr
	w(uint64(len(code)))  // size
	w(uint32(textOff))    // offset
	w(uint32(0))          // align
	w(uint32(0))          // reloff
	w(uint32(0))          // nreloc
	w(uint32(0))          // flags
	w(uint32(0))          // reserved1
	w(uint32(0))          // reserved2
	w(uint32(0))          // reserved3

	// LC_SYMTAB
	w(uint32(0x2))  // cmd
	w(symCmdSize)   // cmdsize
	w(symOff)       // symoff
	w(uint32(1))    // nsyms
	w(strOff)       // stroff
	w(uint32(len(strTab))) // strsize

	buf.Write(code)

	// nlist_64
	w(uint32(1))          // n_strx (points past the leading NUL)
	w(uint8(0x0e))         // n_type = N_SECT
	w(uint8(1))            // n_sect = 1 (first and only section)
	w(uint16(0))           // n_desc
	w(uint64(textAddr))    // n_value

	buf.Write(strTab)

	return buf.Bytes()
}

func name16(s string) [16]byte {
	var out [16]byte
	copy(out[:], s)
	return out
}

func TestLoadThinArm64SingleFunction(t *testing.T) {
	// ret (0xD65F03C0, little-endian bytes)
	code := []byte{0xC0, 0x03, 0x5F, 0xD6}
	data := buildThinArm64(t, code)

	mod, defs, err := New().Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.Decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(mod.Decls))
	}
	if mod.Decls[0].Name != "foo" {
		t.Errorf("name = %q, want foo (leading _ stripped)", mod.Decls[0].Name)
	}
	def, ok := defs.Get(mod.Decls[0].FuncID)
	if !ok {
		t.Fatal("expected a definition for foo")
	}
	if len(def.Blocks) == 0 {
		t.Error("expected at least one block")
	}
}

func TestLoadRejectsNonMachOBytes(t *testing.T) {
	_, _, err := New().Load([]byte("not a mach-o file at all"))
	if err == nil {
		t.Fatal("expected an error")
	}
	de, ok := err.(*objfile.DecodeError)
	if !ok || de.Kind != objfile.UnknownFormat {
		t.Fatalf("err = %v, want an UnknownFormat DecodeError", err)
	}
}

func TestLoadRejectsWrongArch(t *testing.T) {
	data := buildThinArm64(t, []byte{0xC0, 0x03, 0x5F, 0xD6})
	// Flip the cputype field (right after the magic) to amd64's (7).
	binary.LittleEndian.PutUint32(data[4:8], 7)

	_, _, err := New().Load(data)
	if err == nil {
		t.Fatal("expected an error for a non-arm64 cpu type")
	}
	de, ok := err.(*objfile.DecodeError)
	if !ok || de.Kind != objfile.UnknownArch {
		t.Fatalf("err = %v, want an UnknownArch DecodeError", err)
	}
}
