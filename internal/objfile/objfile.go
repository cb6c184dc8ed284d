// Package objfile defines the architecture-independent Object-file trait:
// raw container bytes in, a Module plus its FunctionDefSet out.
package objfile

import (
	"fmt"

	"decomp/internal/module"
)

// DecodeErrorKind closes the taxonomy of container-decode failures (spec
// section 7).
type DecodeErrorKind int

const (
	UnknownFormat DecodeErrorKind = iota
	UnknownArch
	NoCode
	Invalid
)

func (k DecodeErrorKind) String() string {
	switch k {
	case UnknownFormat:
		return "unknown format"
	case UnknownArch:
		return "unknown arch"
	case NoCode:
		return "no code"
	case Invalid:
		return "invalid"
	default:
		return "unknown decode error"
	}
}

// DecodeError reports why a container failed to load. It is fatal to the
// whole load, unlike a per-function lifter.Error.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("objfile: %s: %s", e.Kind, e.Msg)
}

// Loader decodes a container format into a Module (declarations) plus a
// FunctionDefSet (blockified bodies).
type Loader interface {
	Load(bytes []byte) (*module.Module, *module.FunctionDefSet, error)
}
