package wasm

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// ModuleLoader handles loading and compiling Wasm modules.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// ModuleSource represents a source for Wasm bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes() ([]byte, error)

	// Name returns a name/identifier for this module.
	Name() string

	// Size returns the size in bytes.
	Size() int64
}

// FileModuleSource loads Wasm from a file.
type FileModuleSource struct {
	Path string
}

// Bytes reads the Wasm file.
func (f *FileModuleSource) Bytes() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Name returns the file path as the module name.
func (f *FileModuleSource) Name() string {
	return f.Path
}

// Size returns the file size.
func (f *FileModuleSource) Size() int64 {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// MemoryModuleSource loads Wasm from memory.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

// Bytes returns the Wasm bytecode.
func (m *MemoryModuleSource) Bytes() ([]byte, error) {
	return m.Data, nil
}

// Name returns the module name.
func (m *MemoryModuleSource) Name() string {
	return m.ModuleName
}

// Size returns the data size.
func (m *MemoryModuleSource) Size() int64 {
	return int64(len(m.Data))
}

// ImportDecl is a function import declared by a module.
type ImportDecl struct {
	Index  int
	Module string
	Name   string
	Type   FuncType
}

// QualifiedName returns "module.name".
func (d ImportDecl) QualifiedName() string {
	return d.Module + "." + d.Name
}

// ExportDecl is a function exported by a module.
type ExportDecl struct {
	Name string
	Type FuncType
}

// MemoryDecl describes the module's memory in pages.
type MemoryDecl struct {
	Min      uint32
	Max      uint32
	HasMax   bool
	Imported bool
}

// LoadModule loads a Wasm module from a source.
// Compiles it if not already cached.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	if l.runtime.IsClosed() {
		return nil, ErrRuntimeClosed
	}

	// Check cache first
	if cached, ok := l.runtime.GetCompiledModule(source.Name()); ok {
		l.logger.Debug("Module cache hit",
			zap.String("module", source.Name()),
		)
		return cached, nil
	}

	// Load Wasm bytes
	wasmBytes, err := source.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}

	// Compile the module
	l.logger.Info("Compiling Wasm module",
		zap.String("module", source.Name()),
		zap.Int64("size_bytes", source.Size()),
	)

	startTime := time.Now()

	// wazero.CompileModule decodes and validates the Wasm binary
	// This is CPU-intensive but only done once per module
	compiled, err := l.runtime.runtime.CompileModule(l.runtime.compileContext(ctx), wasmBytes)
	if err != nil {
		return nil, &CompilationError{
			ModuleName: source.Name(),
			Err:        err,
		}
	}

	duration := time.Since(startTime)

	// Wrap with metadata
	compiledModule := describeModule(compiled, wasmBytes)
	compiledModule.Name = source.Name()
	compiledModule.Source = source.Name()
	compiledModule.SizeBytes = source.Size()
	compiledModule.CompiledAt = time.Now().Unix()

	// Cache the compiled module
	l.runtime.StoreCompiledModule(compiledModule)

	l.logger.Info("Module compiled successfully",
		zap.String("module", source.Name()),
		zap.Duration("duration", duration),
		zap.Int("imports", len(compiledModule.Imports)),
		zap.Int("exports", len(compiledModule.Exports)),
	)

	return compiledModule, nil
}

// LoadModuleFromFile is a convenience function for loading from a file path.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	source := &FileModuleSource{Path: path}
	return l.LoadModule(ctx, source)
}

// LoadModuleFromMemory loads from a byte slice.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	source := &MemoryModuleSource{ModuleName: name, Data: data}
	return l.LoadModule(ctx, source)
}

// describeModule reads import, export and memory declarations from the
// engine's view of the module. The engine only describes imported and
// exported memories, so a memory the module keeps private is read from
// its memory section.
func describeModule(compiled wazero.CompiledModule, wasmBytes []byte) *CompiledModule {
	cm := &CompiledModule{
		Module:  compiled,
		Exports: make(map[string]ExportDecl),
	}

	for i, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		cm.Imports = append(cm.Imports, ImportDecl{
			Index:  i,
			Module: module,
			Name:   name,
			Type:   FuncType{Params: def.ParamTypes(), Results: def.ResultTypes()},
		})
	}

	for name, def := range compiled.ExportedFunctions() {
		cm.Exports[name] = ExportDecl{
			Name: name,
			Type: FuncType{Params: def.ParamTypes(), Results: def.ResultTypes()},
		}
	}

	for _, def := range compiled.ImportedMemories() {
		module, name, _ := def.Import()
		cm.OtherImports = append(cm.OtherImports, module+"."+name)
		limit, hasMax := def.Max()
		cm.Memory = &MemoryDecl{Min: def.Min(), Max: limit, HasMax: hasMax, Imported: true}
	}
	if cm.Memory == nil {
		cm.Memory = definedMemory(wasmBytes)
	}
	if cm.Memory == nil {
		for _, def := range compiled.ExportedMemories() {
			limit, hasMax := def.Max()
			cm.Memory = &MemoryDecl{Min: def.Min(), Max: limit, HasMax: hasMax}
			break
		}
	}

	return cm
}

const (
	sectionMemory = 5
	limitsHasMax  = 0x01
)

// definedMemory returns the first memory declared in the memory section of
// a module that already compiled, or nil when it has none.
func definedMemory(wasmBytes []byte) *MemoryDecl {
	if len(wasmBytes) < 8 {
		return nil
	}
	rest := wasmBytes[8:] // magic and version
	for len(rest) > 0 {
		id := rest[0]
		size, n := binary.Uvarint(rest[1:])
		if n <= 0 || size > uint64(len(rest)-1-n) {
			return nil
		}
		body := rest[1+n : 1+n+int(size)]
		rest = rest[1+n+int(size):]
		if id != sectionMemory {
			continue
		}

		count, n := binary.Uvarint(body)
		if n <= 0 || count == 0 || len(body) <= n {
			return nil
		}
		flags := body[n]
		body = body[n+1:]
		minPages, n := binary.Uvarint(body)
		if n <= 0 {
			return nil
		}
		decl := &MemoryDecl{Min: uint32(minPages)}
		if flags&limitsHasMax != 0 {
			maxPages, m := binary.Uvarint(body[n:])
			if m <= 0 {
				return nil
			}
			decl.Max, decl.HasMax = uint32(maxPages), true
		}
		return decl
	}
	return nil
}

// ExportNames returns the exported function names, sorted.
func (m *CompiledModule) ExportNames() []string {
	names := make([]string, 0, len(m.Exports))
	for name := range m.Exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
