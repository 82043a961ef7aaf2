package program

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest file name inside a program directory.
const ManifestFile = "program.yaml"

// DefaultEntry is the export run when a manifest names none.
const DefaultEntry = "main"

var validate = validator.New()

// Manifest represents the program.yaml structure.
type Manifest struct {
	Name  string     `yaml:"name" validate:"required"`
	Wasm  WasmConfig `yaml:"wasm"`
	Entry string     `yaml:"entry" validate:"omitempty,printascii"`

	// Values returned by read_i32, in order.
	Inputs []int32 `yaml:"inputs"`

	// Exports a host callback may re-enter while they are running.
	ReentrantExports []string `yaml:"reentrant_exports" validate:"dive,required"`

	// Internal fields
	dir  string // Directory containing manifest
	path string // Manifest file, empty when synthesized
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file" validate:"required"`
}

// ParseManifest reads and parses program.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	m.path = manifestPath
	if m.Entry == "" {
		m.Entry = DefaultEntry
	}

	// Validate manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// ManifestForWasm builds the manifest of a bare .wasm file: named after
// the file, running main, with no inputs.
func ManifestForWasm(wasmPath string) (*Manifest, error) {
	m := &Manifest{
		Name:  strings.TrimSuffix(filepath.Base(wasmPath), filepath.Ext(wasmPath)),
		Wasm:  WasmConfig{File: filepath.Base(wasmPath)},
		Entry: DefaultEntry,
		dir:   filepath.Dir(wasmPath),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ResolveManifest accepts either a program directory or a .wasm file.
func ResolveManifest(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ManifestNotFoundError{Path: path, Err: err}
	}
	if info.IsDir() {
		return ParseManifest(path)
	}
	return ManifestForWasm(path)
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fe := verrs[0]
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   yamlField(fe.Namespace()),
				Message: fe.Error(),
			}
		}
		return &ManifestValidationError{Path: m.Path(), Message: err.Error()}
	}

	// Validate Wasm file exists
	wasmPath := m.WasmPath()
	if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// yamlField maps a validator namespace such as "Manifest.Wasm.File" onto
// the manifest key "wasm.file".
func yamlField(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Path returns the manifest file path, or the Wasm path for a bare module.
func (m *Manifest) Path() string {
	if m.path == "" {
		return m.WasmPath()
	}
	return m.path
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
