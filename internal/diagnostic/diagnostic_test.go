package diagnostic

import (
	"strings"
	"testing"

	"decomp/internal/lifter"
	"decomp/internal/lir"
	"decomp/internal/mir"
	"decomp/internal/objfile"
)

func TestFromDecodeErrorMapsEveryKind(t *testing.T) {
	cases := []struct {
		kind objfile.DecodeErrorKind
		code string
	}{
		{objfile.UnknownFormat, CodeUnknownFormat},
		{objfile.UnknownArch, CodeUnknownArch},
		{objfile.NoCode, CodeNoCode},
		{objfile.Invalid, CodeInvalid},
	}
	for _, c := range cases {
		d := FromDecodeError(&objfile.DecodeError{Kind: c.kind, Msg: "boom"})
		if d.Code != c.code {
			t.Errorf("kind %v: code = %s, want %s", c.kind, d.Code, c.code)
		}
		if d.Level != Error {
			t.Errorf("kind %v: level = %s, want error", c.kind, d.Level)
		}
	}
}

func TestFromLifterErrorUsesAddrAsOffset(t *testing.T) {
	d := FromLifterError("foo", &lifter.Error{Kind: lifter.UnknownInstruction, Addr: 0x40, Msg: "bad opcode"})
	if d.Code != CodeUnknownInstruction {
		t.Errorf("code = %s, want %s", d.Code, CodeUnknownInstruction)
	}
	if d.Pos.Function != "foo" || d.Pos.Offset != 0x40 {
		t.Errorf("pos = %+v, want {foo 0x40}", d.Pos)
	}

	d = FromLifterError("bar", &lifter.Error{Kind: lifter.BadFunctionIndex, Addr: 0x8, Msg: "oob"})
	if d.Code != CodeBadFunctionIndex {
		t.Errorf("code = %s, want %s", d.Code, CodeBadFunctionIndex)
	}
}

func TestFromNonConvergenceCarriesHelpText(t *testing.T) {
	d := FromNonConvergence("loopy", &mir.NonConvergenceError{Bound: 32})
	if d.Code != CodeNonConvergence {
		t.Errorf("code = %s, want %s", d.Code, CodeNonConvergence)
	}
	if d.Level != Warning {
		t.Errorf("level = %s, want warning", d.Level)
	}
	if d.HelpText == "" {
		t.Error("expected non-empty help text")
	}
}

func TestFromInvariantErrorCarriesFunctionName(t *testing.T) {
	d := FromInvariantError("foo", &lir.InvariantError{Msg: "branch not followed by label"})
	if d.Code != CodeInvariantError {
		t.Errorf("code = %s, want %s", d.Code, CodeInvariantError)
	}
	if d.Level != Error {
		t.Errorf("level = %s, want error", d.Level)
	}
	if d.Pos.Function != "foo" {
		t.Errorf("pos.Function = %q, want foo", d.Pos.Function)
	}
}

func TestReporterFormatIncludesHexWindow(t *testing.T) {
	code := []byte{0x01, 0x02, 0x03, 0xAA, 0x05, 0x06}
	r := NewReporter(map[string][]byte{"foo": code})

	d := FromLifterError("foo", &lifter.Error{Kind: lifter.UnknownInstruction, Addr: 3, Msg: "bad opcode"})
	out := r.Format(d)

	if !strings.Contains(out, "L001") {
		t.Errorf("output missing error code:\n%s", out)
	}
	if !strings.Contains(out, "foo") {
		t.Errorf("output missing function name:\n%s", out)
	}
	if !strings.Contains(out, "aa") {
		t.Errorf("output missing hex byte at offset:\n%s", out)
	}
}

func TestReporterFormatWithoutBytesOmitsWindow(t *testing.T) {
	r := NewReporter(nil)
	d := FromDecodeError(&objfile.DecodeError{Kind: objfile.NoCode, Msg: "empty module"})
	out := r.Format(d)
	if !strings.Contains(out, "D003") {
		t.Errorf("output missing error code:\n%s", out)
	}
}
