package wasm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// State is the lifecycle state of an Instance.
//
//	Created -> Running -> Idle -> Running -> ...
//	Running -> Trapped (terminal)
//	Created/Idle/Trapped -> Destroyed
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateIdle
	StateTrapped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateTrapped:
		return "trapped"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Instance ID (if empty, generates UUID).
	InstanceID string

	// Exports that may be re-entered from a host callback while already
	// executing on the same instance.
	ReentrantExports []string
}

// InstanceOption customizes InstanceConfig.
type InstanceOption func(*InstanceConfig)

// WithInstanceID sets the instance ID instead of generating one.
func WithInstanceID(id string) InstanceOption {
	return func(c *InstanceConfig) { c.InstanceID = id }
}

// WithReentrantExports marks exports as safe to re-enter.
func WithReentrantExports(names ...string) InstanceOption {
	return func(c *InstanceConfig) {
		c.ReentrantExports = append(c.ReentrantExports, names...)
	}
}

// Instance represents an instantiated Wasm module.
//
// An Instance runs one call at a time on one goroutine. It does no locking:
// an embedding application that shares an Instance across goroutines must
// serialize access itself. Different instances are fully independent.
type Instance struct {
	// wazero module instance.
	module api.Module

	// Instance metadata.
	id        string
	name      string
	createdAt int64

	compiled *CompiledModule
	binding  *Binding
	memory   *LinearMemory
	runtime  *Runtime

	// Exported functions (cached for performance).
	exports map[string]*Export

	reentrant map[string]bool

	state   State
	frames  []*CallFrame
	trapErr error
}

// Export is an opaque callable handle to an exported function.
type Export struct {
	inst *Instance
	decl ExportDecl
	fn   api.Function
}

// Name returns the export name.
func (e *Export) Name() string { return e.decl.Name }

// Type returns the declared function type.
func (e *Export) Type() FuncType { return e.decl.Type }

// Call invokes the export through the runtime's dispatcher.
func (e *Export) Call(ctx context.Context, args ...Value) (Value, error) {
	return e.inst.runtime.dispatcher.Call(ctx, e.inst, e.decl.Name, args...)
}

// CallFrame records one in-flight export invocation.
type CallFrame struct {
	Export  string
	Depth   int
	Started time.Time

	// failure is set by a host callback that aborts the guest.
	failure *TrapError
}

// Instantiate creates a new instance of module using imports resolved by
// the Resolver. No guest code runs during instantiation. The instance is
// registered with the runtime only after its memory is in place, so host
// functions never see a half built instance.
func (m *InstanceManager) Instantiate(ctx context.Context, module *CompiledModule, binding *Binding, opts ...InstanceOption) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, ErrRuntimeClosed
	}
	if binding == nil || binding.module != module {
		return nil, fmt.Errorf("%w: binding was not made for module '%s'", ErrBindingModuleMismatch, module.Name)
	}

	config := &InstanceConfig{}
	for _, opt := range opts {
		opt(config)
	}

	// Generate instance ID if not provided.
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateUUID()
	}

	if err := m.runtime.reserveInstance(); err != nil {
		return nil, err
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", module.Name),
		zap.String("instance_id", instanceID),
	)

	// The engine names the module after the instance so host trampolines
	// can find it. Start functions are disabled: guest code only runs
	// through the dispatcher.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions()

	mod, err := m.runtime.runtime.InstantiateModule(ctx, module.Module, moduleConfig)
	if err != nil {
		m.runtime.releaseInstance()
		return nil, &InstantiationError{
			ModuleName: module.Name,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    mod,
		id:        instanceID,
		name:      module.Name,
		createdAt: time.Now().Unix(),
		compiled:  module,
		binding:   binding,
		memory:    m.newMemory(mod, module),
		runtime:   m.runtime,
		reentrant: make(map[string]bool, len(config.ReentrantExports)),
		state:     StateCreated,
	}
	for _, name := range config.ReentrantExports {
		instance.reentrant[name] = true
	}
	instance.exports = cacheExportedFunctions(instance, mod, module)

	// Track active instance.
	m.runtime.storeInstance(instance)
	m.runtime.observer.InstanceOpened(instanceID, module.Name)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(instance.exports)),
		zap.Uint32("memory_pages", instance.memory.Pages()),
	)

	return instance, nil
}

// newMemory wraps the module's memory with the growth cap: the smaller of
// its declared maximum and the runtime limit. The engine hands back a
// non-nil api.Memory holding a nil pointer for modules without memory, so
// the compiled declaration decides whether there is one.
func (m *InstanceManager) newMemory(mod api.Module, compiled *CompiledModule) *LinearMemory {
	limit := m.runtime.config.MemoryPages
	decl := compiled.Memory
	if decl == nil {
		return newLinearMemory(nil, limit)
	}
	if decl.HasMax && (limit == 0 || decl.Max < limit) {
		limit = decl.Max
	}
	return newLinearMemory(mod.Memory(), limit)
}

// cacheExportedFunctions caches references to exported functions.
// This improves performance by avoiding repeated lookups.
func cacheExportedFunctions(inst *Instance, mod api.Module, compiled *CompiledModule) map[string]*Export {
	exports := make(map[string]*Export, len(compiled.Exports))
	for name, decl := range compiled.Exports {
		if fn := mod.ExportedFunction(name); fn != nil {
			exports[name] = &Export{inst: inst, decl: decl, fn: fn}
		}
	}
	return exports
}

// ID returns the instance ID.
func (i *Instance) ID() string { return i.id }

// Name returns the name of the module the instance was created from.
func (i *Instance) Name() string { return i.name }

// CreatedAt returns the creation time as a Unix timestamp.
func (i *Instance) CreatedAt() int64 { return i.createdAt }

// Module returns the compiled module.
func (i *Instance) Module() *CompiledModule { return i.compiled }

// Binding returns the import binding the instance was created with.
func (i *Instance) Binding() *Binding { return i.binding }

// Memory returns the instance's linear memory.
func (i *Instance) Memory() *LinearMemory { return i.memory }

// State returns the lifecycle state.
func (i *Instance) State() State { return i.state }

// Err returns the trap that ended the instance, or nil.
func (i *Instance) Err() error { return i.trapErr }

// Export returns a callable handle for an exported function.
func (i *Instance) Export(name string) (*Export, error) {
	exp, ok := i.exports[name]
	if !ok {
		return nil, &UnknownExportError{ModuleName: i.name, Export: name}
	}
	return exp, nil
}

// Exports returns the exported function names, sorted.
func (i *Instance) Exports() []string {
	names := make([]string, 0, len(i.exports))
	for name := range i.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes an export by name. See Dispatcher.Call.
func (i *Instance) Call(ctx context.Context, name string, args ...Value) (Value, error) {
	return i.runtime.dispatcher.Call(ctx, i, name, args...)
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	if i.state == StateDestroyed {
		return nil
	}
	i.state = StateDestroyed
	i.runtime.deleteInstance(i.id)
	i.runtime.releaseInstance()
	i.runtime.observer.InstanceClosed(i.id, i.name)
	return i.module.Close(ctx)
}

// currentFrame returns the innermost active call frame.
func (i *Instance) currentFrame() *CallFrame {
	if len(i.frames) == 0 {
		return nil
	}
	return i.frames[len(i.frames)-1]
}

// trap moves the instance to its terminal Trapped state. A destroyed
// instance stays destroyed.
func (i *Instance) trap(err *TrapError) {
	if i.state == StateTrapped || i.state == StateDestroyed {
		return
	}
	i.state = StateTrapped
	i.trapErr = err
	i.runtime.observer.InstanceTrapped(i.id, err.Reason)
}

// generateUUID generates a unique instance ID.
func generateUUID() string {
	return "inst-" + uuid.NewString()
}
