package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/experimental/logging"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Runtime manages the wazero runtime lifecycle.
// One Runtime is created at startup and shared by every module and
// instance of the process. The host table it is built from is sealed and
// never changes afterwards.
type Runtime struct {
	// wazero runtime (singleton)
	runtime wazero.Runtime

	// Sealed host function table the host modules were built from.
	table *HostTable

	// Compiled module cache (key: module name/path -> value: compiled module)
	// This avoids recompiling the same Wasm binary multiple times
	modules sync.Map // map[string]*CompiledModule

	// Live instances, keyed by instance ID (also the engine module name).
	// Host trampolines use it to find the calling instance.
	instances sync.Map // map[string]*Instance
	live      atomic.Int32

	dispatcher *Dispatcher
	observer   Observer

	// Configuration
	config *RuntimeConfig

	// Logger
	logger *zap.Logger

	// Engine call tracing, set when DebugEnabled.
	trace     *zapio.Writer
	listeners experimental.FunctionListenerFactory

	// Shutdown management
	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limits for Wasm modules (in pages, 64KB each)
	// Default: 256 pages = 16MB max memory per module
	MemoryPages uint32

	// Trace every function entry and exit at debug level. Applies to
	// modules compiled after the runtime is created.
	DebugEnabled bool

	// Compilation cache directory (for persistent caching)
	// If empty, uses in-memory caching only
	CacheDir string

	// Maximum number of concurrent instances
	MaxInstances int
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*Runtime)

// WithObserver reports lifecycle and call events to o.
func WithObserver(o Observer) RuntimeOption {
	return func(r *Runtime) {
		if o != nil {
			r.observer = o
		}
	}
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	// wazero compiled module
	Module wazero.CompiledModule

	// Module metadata
	Name      string
	Source    string // File path or identifier
	SizeBytes int64

	// Compilation timestamp
	CompiledAt int64

	// Declared function imports, in import index order.
	Imports []ImportDecl

	// Non-function imports (memories). The host supplies none of these.
	OtherImports []string

	// Exported functions by name.
	Exports map[string]ExportDecl

	// The module's memory, whether imported, exported or private. Nil
	// when it has none.
	Memory *MemoryDecl
}

// NewRuntime creates and initializes a new wazero runtime.
// This should be called once during application startup.
//
// table must be sealed. One host module is instantiated per import
// namespace in table, so guests can import its functions.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig, table *HostTable, opts ...RuntimeOption) (*Runtime, error) {
	// Validate config
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if table == nil {
		table = NewHostTable().Seal()
	}
	if !table.Sealed() {
		return nil, ErrTableNotSealed
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if config.MemoryPages > 0 && config.MemoryPages <= wasmMaxPages {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}
	if config.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	// Create wazero runtime with context
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	runtime := &Runtime{
		runtime:  r,
		table:    table,
		config:   config,
		observer: nopObserver{},
		logger:   logger.With(zap.String("component", "wasm-runtime")),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(runtime)
	}
	runtime.dispatcher = newDispatcher(runtime, logger)
	if config.DebugEnabled {
		runtime.trace = &zapio.Writer{Log: logger.Named("trace"), Level: zap.DebugLevel}
		runtime.listeners = logging.NewLoggingListenerFactory(traceWriter{runtime.trace})
	}

	if err := runtime.instantiateHostModules(runtime.compileContext(ctx)); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
		zap.Int("host_functions", len(table.Functions())),
	)

	return runtime, nil
}

// traceWriter feeds engine call traces into the logger, one entry per line.
type traceWriter struct {
	*zapio.Writer
}

func (w traceWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// compileContext attaches the trace listeners, if any, to ctx. The engine
// reads them when a module is compiled.
func (r *Runtime) compileContext(ctx context.Context) context.Context {
	if r.listeners == nil {
		return ctx
	}
	return experimental.WithFunctionListenerFactory(ctx, r.listeners)
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  256, // 16MB
		DebugEnabled: false,
		CacheDir:     "",
		MaxInstances: 100,
	}
}

// instantiateHostModules exports every table entry to the engine. Each
// export is a trampoline into the Dispatcher.
func (r *Runtime) instantiateHostModules(ctx context.Context) error {
	byModule := make(map[string][]*HostFunctionSpec)
	for _, spec := range r.table.Functions() {
		byModule[spec.Module] = append(byModule[spec.Module], spec)
	}

	for _, name := range r.table.Modules() {
		builder := r.runtime.NewHostModuleBuilder(name)
		for _, spec := range byModule[name] {
			params, results := lowerSignature(spec.Signature)
			builder.NewFunctionBuilder().
				WithGoModuleFunction(r.trampoline(spec), params, results).
				WithName(spec.Name).
				Export(spec.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("failed to instantiate host module %s: %w", name, err)
		}
		r.logger.Debug("Host module instantiated",
			zap.String("module", name),
			zap.Int("functions", len(byModule[name])),
		)
	}
	return nil
}

// trampoline routes a guest call of spec to the calling instance's
// dispatcher. The engine passes the calling module, whose name is the
// instance ID.
func (r *Runtime) trampoline(spec *HostFunctionSpec) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		inst, ok := r.GetInstance(mod.Name())
		if !ok {
			panic(&HostFunctionError{
				FunctionName: spec.QualifiedName(),
				Err:          fmt.Errorf("no instance registered for module %q", mod.Name()),
			})
		}
		r.dispatcher.routeHostCall(ctx, inst, spec, stack)
	}
}

func lowerSignature(sig Signature) (params, results []api.ValueType) {
	params = make([]api.ValueType, len(sig.Params))
	for i, k := range sig.Params {
		params[i], _ = k.valueType()
	}
	if vt, ok := sig.Result.valueType(); ok {
		results = []api.ValueType{vt}
	}
	return params, results
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		// Close all active instances first
		r.instances.Range(func(key, value interface{}) bool {
			if inst, ok := value.(*Instance); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		// Close the runtime (closes compiled modules)
		err = r.runtime.Close(ctx)
		if r.trace != nil {
			_ = r.trace.Close()
		}

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// Table returns the sealed host table.
func (r *Runtime) Table() *HostTable {
	return r.table
}

// Dispatcher returns the call dispatcher shared by all instances.
func (r *Runtime) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Config returns the runtime configuration.
func (r *Runtime) Config() RuntimeConfig {
	return *r.config
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves a live instance.
func (r *Runtime) GetInstance(instanceID string) (*Instance, bool) {
	val, ok := r.instances.Load(instanceID)
	if !ok {
		return nil, false
	}
	inst, ok := val.(*Instance)
	return inst, ok
}

// storeInstance publishes a fully constructed instance.
func (r *Runtime) storeInstance(inst *Instance) {
	r.instances.Store(inst.ID(), inst)
}

// deleteInstance removes an instance from tracking.
func (r *Runtime) deleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	return int(r.live.Load())
}

// reserveInstance claims a slot under MaxInstances.
func (r *Runtime) reserveInstance() error {
	n := r.live.Inc()
	if r.config.MaxInstances > 0 && int(n) > r.config.MaxInstances {
		r.live.Dec()
		return fmt.Errorf("%w: %d live instances", ErrInstanceLimit, r.config.MaxInstances)
	}
	return nil
}

func (r *Runtime) releaseInstance() {
	r.live.Dec()
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
