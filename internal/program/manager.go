package program

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasmhost/internal/wasm"
)

// Manager manages program lifecycle.
type Manager struct {
	runtime  *wasm.Runtime
	loader   *Loader
	registry *Registry
	runner   *Runner
	logger   *zap.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewManager creates a new program manager.
func NewManager(runtime *wasm.Runtime, runner *Runner, logger *zap.Logger) *Manager {
	return &Manager{
		runtime:  runtime,
		loader:   NewLoader(runtime, logger),
		registry: NewRegistry(logger),
		runner:   runner,
		logger:   logger.With(zap.String("component", "program-manager")),
	}
}

// LoadAll discovers and registers all programs under paths.
func (m *Manager) LoadAll(ctx context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("programs already loaded")
	}

	m.logger.Info("Loading programs", zap.Strings("paths", paths))

	programs, err := m.loader.DiscoverPrograms(ctx, paths)
	if err != nil {
		return err
	}

	for _, prog := range programs {
		if err := m.registry.Register(prog); err != nil {
			m.logger.Error("Failed to register program",
				zap.String("name", prog.Name()),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Programs loaded", zap.Int("count", m.registry.Count()))

	return nil
}

// Load loads and registers a single program directory or .wasm file.
func (m *Manager) Load(ctx context.Context, path string) (*Program, error) {
	prog, err := m.loader.LoadProgram(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := m.registry.Register(prog); err != nil {
		var dup *ProgramAlreadyRegisteredError
		if errors.As(err, &dup) {
			if existing, ok := m.registry.Get(prog.Name()); ok && existing.Compiled == prog.Compiled {
				return existing, nil
			}
		}
		return nil, err
	}
	return prog, nil
}

// Get retrieves a program by name.
func (m *Manager) Get(name string) (*Program, error) {
	prog, ok := m.registry.Get(name)
	if !ok {
		return nil, &ProgramNotFoundError{ProgramName: name}
	}
	return prog, nil
}

// Run runs a registered program's entry export, or entry when non-empty.
func (m *Manager) Run(ctx context.Context, name, entry string) error {
	prog, err := m.Get(name)
	if err != nil {
		return err
	}
	return m.runner.Run(ctx, prog, entry)
}

// Shutdown closes the runtime along with any live instances.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Debug("Shutting down program manager")

	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}
	return nil
}

// Registry returns the program registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether LoadAll has completed.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
