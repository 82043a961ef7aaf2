package program

import (
	"fmt"
)

// ManifestNotFoundError occurs when program.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when program.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when program.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in a manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// ProgramLoadError occurs when a program's module fails to load.
type ProgramLoadError struct {
	ProgramName string
	Err         error
}

func (e *ProgramLoadError) Error() string {
	return fmt.Sprintf("failed to load program '%s': %v", e.ProgramName, e.Err)
}

func (e *ProgramLoadError) Unwrap() error {
	return e.Err
}

// ProgramNotFoundError occurs when a program is not in the registry.
type ProgramNotFoundError struct {
	ProgramName string
}

func (e *ProgramNotFoundError) Error() string {
	return fmt.Sprintf("program '%s' not found", e.ProgramName)
}

// ProgramAlreadyRegisteredError occurs when registering a duplicate program.
type ProgramAlreadyRegisteredError struct {
	ProgramName string
}

func (e *ProgramAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("program '%s' is already registered", e.ProgramName)
}

// NoProgramsFoundError occurs when discovery finds nothing in the given paths.
type NoProgramsFoundError struct {
	Paths []string
}

func (e *NoProgramsFoundError) Error() string {
	return fmt.Sprintf("no programs found in paths: %v", e.Paths)
}

// EntrySignatureError occurs when the entry export is not a () -> () function.
type EntrySignatureError struct {
	ProgramName string
	Entry       string
	Type        string
}

func (e *EntrySignatureError) Error() string {
	return fmt.Sprintf("entry '%s' of program '%s' must take no arguments and return nothing, has type %s",
		e.Entry, e.ProgramName, e.Type)
}
