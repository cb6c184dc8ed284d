// Package diagnostic renders the decoder/lifter/structuring error
// taxonomy as Rust-compiler-style reports, in the shape of kanso's
// internal/errors.ErrorReporter — but anchored on a byte offset inside a
// function's raw bytes instead of a source line/column, since this
// toolchain's "source" is machine code, not text.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"decomp/internal/lifter"
	"decomp/internal/lir"
	"decomp/internal/mir"
	"decomp/internal/objfile"
)

// Level is the severity of a reported diagnostic.
type Level string

const (
	Error   Level = "error"
	Warning Level = "warning"
	Note    Level = "note"
)

// Error codes, in the same E-series-by-range style as kanso's codes.go,
// partitioned by which package's closed error taxonomy they cover.
const (
	CodeUnknownFormat = "D001" // objfile.UnknownFormat
	CodeUnknownArch   = "D002" // objfile.UnknownArch
	CodeNoCode        = "D003" // objfile.NoCode
	CodeInvalid       = "D004" // objfile.Invalid

	CodeUnknownInstruction = "L001" // lifter.UnknownInstruction
	CodeMalformedCode      = "L002" // lifter.MalformedCode
	CodeBadFunctionIndex   = "L003" // lifter.BadFunctionIndex

	CodeNonConvergence = "S001" // mir.NonConvergenceError

	CodeInvariantError = "B001" // lir.InvariantError
)

// Position locates a diagnostic inside a function's raw byte stream.
// Function is empty for module-level (whole-file) decode errors.
type Position struct {
	Function string
	Offset   uint64
}

// Diagnostic is a single reportable problem.
type Diagnostic struct {
	Level    Level
	Code     string
	Message  string
	Pos      Position
	Notes    []string
	HelpText string
}

// FromDecodeError builds a module-level Diagnostic from a DecodeError.
func FromDecodeError(err *objfile.DecodeError) Diagnostic {
	code := CodeInvalid
	switch err.Kind {
	case objfile.UnknownFormat:
		code = CodeUnknownFormat
	case objfile.UnknownArch:
		code = CodeUnknownArch
	case objfile.NoCode:
		code = CodeNoCode
	}
	return Diagnostic{Level: Error, Code: code, Message: err.Msg}
}

// FromLifterError builds a per-function Diagnostic from a lifter.Error.
// The instruction address it reports (err.Addr) is itself the offset
// that failed to decode.
func FromLifterError(fn string, err *lifter.Error) Diagnostic {
	code := CodeUnknownInstruction
	switch err.Kind {
	case lifter.MalformedCode:
		code = CodeMalformedCode
	case lifter.BadFunctionIndex:
		code = CodeBadFunctionIndex
	}
	return Diagnostic{
		Level:   Error,
		Code:    code,
		Message: err.Msg,
		Pos:     Position{Function: fn, Offset: err.Addr},
	}
}

// FromNonConvergence builds a per-function Diagnostic reporting that the
// MIR rewrite pipeline never reached a fixed point.
func FromNonConvergence(fn string, err *mir.NonConvergenceError) Diagnostic {
	return Diagnostic{
		Level:   Warning,
		Code:    CodeNonConvergence,
		Message: err.Error(),
		Pos:     Position{Function: fn},
		HelpText: "no MIR is printed for this function; the rewrite pipeline " +
			"stopped at its iteration bound, which usually means a rewrite pass " +
			"and its own undo are fighting each other",
	}
}

// FromInvariantError builds a Diagnostic from a lir.InvariantError: a
// structural invariant the lifter should have upheld (e.g. a Branch not
// followed by its target Label) was violated during blockification. This
// is reported at the same per-function-skip point as a lifter.Error,
// since blockification runs inside the object-file loader's per-function
// loop, not inside internal/driver.
func FromInvariantError(fn string, err *lir.InvariantError) Diagnostic {
	return Diagnostic{
		Level:   Error,
		Code:    CodeInvariantError,
		Message: err.Msg,
		Pos:     Position{Function: fn},
	}
}

// Reporter formats Diagnostics against a function's raw byte buffer,
// showing a hex-dump context window around the offending offset the way
// kanso's ErrorReporter shows source lines around a token.
type Reporter struct {
	bytes map[string][]byte // function name -> raw bytes, for offset context
}

// NewReporter creates a reporter. src may be nil; diagnostics with no
// matching function bytes simply print without a context window.
func NewReporter(src map[string][]byte) *Reporter {
	return &Reporter{bytes: src}
}

// Format renders d as a multi-line, colorized report.
func (r *Reporter) Format(d Diagnostic) string {
	var out strings.Builder

	levelColor := r.levelColor(d.Level)
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	if d.Code != "" {
		out.WriteString(fmt.Sprintf("%s[%s]: %s\n", levelColor(string(d.Level)), d.Code, d.Message))
	} else {
		out.WriteString(fmt.Sprintf("%s: %s\n", levelColor(string(d.Level)), d.Message))
	}

	if d.Pos.Function != "" {
		out.WriteString(fmt.Sprintf("  %s %s @ offset 0x%x\n", dim("-->"), bold(d.Pos.Function), d.Pos.Offset))
		if window := r.hexWindow(d.Pos); window != "" {
			out.WriteString(window)
		}
	}

	for _, note := range d.Notes {
		out.WriteString(fmt.Sprintf("  %s %s %s\n", dim("│"), color.BlueString("note:"), note))
	}
	if d.HelpText != "" {
		out.WriteString(fmt.Sprintf("  %s %s %s\n", dim("│"), color.GreenString("help:"), d.HelpText))
	}

	return out.String()
}

// hexWindow renders up to 8 bytes before and after pos.Offset, with the
// byte at the offset itself bracketed.
func (r *Reporter) hexWindow(pos Position) string {
	buf, ok := r.bytes[pos.Function]
	if !ok || int(pos.Offset) >= len(buf) {
		return ""
	}
	const radius = 8
	lo := int(pos.Offset) - radius
	if lo < 0 {
		lo = 0
	}
	hi := int(pos.Offset) + radius
	if hi > len(buf) {
		hi = len(buf)
	}

	var line strings.Builder
	line.WriteString("  │ ")
	for i := lo; i < hi; i++ {
		if i == int(pos.Offset) {
			line.WriteString(color.RedString("[%02x]", buf[i]))
		} else {
			line.WriteString(fmt.Sprintf("%02x", buf[i]))
		}
		line.WriteString(" ")
	}
	line.WriteString("\n")
	return line.String()
}

func (r *Reporter) levelColor(l Level) func(...interface{}) string {
	switch l {
	case Error:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}
