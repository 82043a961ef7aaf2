package program

import (
	"time"

	"github.com/woxQAQ/wasmhost/internal/wasm"
)

// Program is a compiled guest module together with its manifest.
type Program struct {
	// Manifest is the parsed program metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the program was loaded
	LoadedAt time.Time
}

// Name returns the program name.
func (p *Program) Name() string {
	return p.Manifest.Name
}

// Entry returns the export run by default.
func (p *Program) Entry() string {
	return p.Manifest.Entry
}

// Inputs returns the values the manifest supplies to read_i32.
func (p *Program) Inputs() []int32 {
	return p.Manifest.Inputs
}

// HasExport reports whether the module exports a function called name.
func (p *Program) HasExport(name string) bool {
	_, ok := p.Compiled.Exports[name]
	return ok
}
