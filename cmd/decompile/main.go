// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"decomp/internal/diagnostic"
	"decomp/internal/driver"
	"decomp/internal/mir"
	"decomp/internal/module"
	"decomp/internal/objfile"
	"decomp/internal/objfile/macho"
	"decomp/internal/objfile/wasm"
	"decomp/internal/printer"
)

func main() {
	parallel := flag.Bool("parallel", false, "process functions concurrently")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: decompile [-parallel] <file>")
		os.Exit(1)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		color.Red("failed to read %s: %s", path, err)
		os.Exit(1)
	}

	diag := diagnostic.NewReporter(nil)

	mod, defs, err := load(data)
	if err != nil {
		reportDecodeError(diag, path, err)
		os.Exit(1)
	}

	var results []driver.Result
	if *parallel {
		results = driver.RunParallel(mod, defs)
	} else {
		results = driver.Run(mod, defs)
	}

	ctx := &printer.PrettyPrintContext{Module: mod}
	ok := true
	for _, r := range results {
		if r.Err != nil {
			reportFunctionError(diag, r)
			ok = false
			continue
		}
		fmt.Println(printer.Print(ctx, r.Func))
	}

	if ok {
		color.Green("✅ decompiled %s (%d functions)", path, len(results))
	} else {
		os.Exit(1)
	}
}

// load tries every registered object-file loader in turn and returns the
// first one that recognizes the container. A loader that stumbles on the
// format signature returns UnknownFormat, which load treats as "try the
// next one" rather than fatal.
func load(data []byte) (*module.Module, *module.FunctionDefSet, error) {
	loaders := []objfile.Loader{macho.New(), wasm.New()}

	var lastErr error
	for _, l := range loaders {
		mod, defs, err := l.Load(data)
		if err == nil {
			return mod, defs, nil
		}
		lastErr = err
		if de, ok := err.(*objfile.DecodeError); ok && de.Kind != objfile.UnknownFormat {
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}

func reportDecodeError(diag *diagnostic.Reporter, path string, err error) {
	de, ok := err.(*objfile.DecodeError)
	if !ok {
		color.Red("✗ %s: %s", path, err)
		return
	}
	fmt.Print(diag.Format(diagnostic.FromDecodeError(de)))
}

// reportFunctionError prints a per-function failure. A NonConvergenceError
// is reported as a warning-level diagnostic; no MIR is printed for that
// function, since the driver returns no Function alongside the error, and
// the run still ends with exit status 1.
func reportFunctionError(diag *diagnostic.Reporter, r driver.Result) {
	if nc, ok := r.Err.(*mir.NonConvergenceError); ok {
		fmt.Print(diag.Format(diagnostic.FromNonConvergence(r.Name, nc)))
		return
	}
	color.Red("✗ %s: %s", r.Name, r.Err)
}
