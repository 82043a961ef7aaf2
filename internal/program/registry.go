package program

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded programs.
type Registry struct {
	sync.RWMutex
	programs map[string]*Program // name -> program
	logger   *zap.Logger
}

// NewRegistry creates a new program registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		programs: make(map[string]*Program),
		logger:   logger.With(zap.String("component", "program-registry")),
	}
}

// Register adds a program to the registry.
func (r *Registry) Register(prog *Program) error {
	r.Lock()
	defer r.Unlock()

	name := prog.Name()
	if _, exists := r.programs[name]; exists {
		return &ProgramAlreadyRegisteredError{ProgramName: name}
	}

	r.programs[name] = prog

	r.logger.Debug("Program registered", zap.String("name", name))

	return nil
}

// Get retrieves a program by name.
func (r *Registry) Get(name string) (*Program, bool) {
	r.RLock()
	defer r.RUnlock()

	prog, ok := r.programs[name]
	return prog, ok
}

// List returns all registered programs sorted by name.
func (r *Registry) List() []*Program {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Program, 0, len(r.programs))
	for _, prog := range r.programs {
		result = append(result, prog)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Unregister removes a program from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.programs[name]; !ok {
		return
	}
	delete(r.programs, name)

	r.logger.Debug("Program unregistered", zap.String("name", name))
}

// Count returns the number of registered programs.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.programs)
}
