package program

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasmhost/internal/wasm"
)

// Loader handles loading programs from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new program loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "program-loader")),
	}
}

// LoadProgram loads a program directory or a bare .wasm file.
func (l *Loader) LoadProgram(ctx context.Context, path string) (*Program, error) {
	l.logger.Debug("Loading program", zap.String("path", path))

	manifest, err := ResolveManifest(path)
	if err != nil {
		return nil, err
	}

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &ProgramLoadError{
			ProgramName: manifest.Name,
			Err:         err,
		}
	}

	prog := &Program{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Program loaded",
		zap.String("name", manifest.Name),
		zap.String("entry", manifest.Entry),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return prog, nil
}

// DiscoverPrograms scans directories for program directories and .wasm files.
func (l *Loader) DiscoverPrograms(ctx context.Context, paths []string) ([]*Program, error) {
	var programs []*Program
	var errs error

	for _, basePath := range paths {
		l.logger.Debug("Scanning program directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Program path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() && !strings.EqualFold(filepath.Ext(entry.Name()), ".wasm") {
				continue
			}

			path := filepath.Join(basePath, entry.Name())

			prog, err := l.LoadProgram(ctx, path)
			if err != nil {
				l.logger.Error("Failed to load program",
					zap.String("path", path),
					zap.Error(err),
				)
				errs = multierr.Append(errs, err)
				continue
			}

			programs = append(programs, prog)
		}
	}

	if len(programs) > 0 && errs != nil {
		l.logger.Warn("Some programs failed to load",
			zap.Int("loaded", len(programs)),
			zap.Int("failed", len(multierr.Errors(errs))),
		)
	}

	if len(programs) == 0 {
		return nil, multierr.Append(&NoProgramsFoundError{Paths: paths}, errs)
	}

	return programs, nil
}
