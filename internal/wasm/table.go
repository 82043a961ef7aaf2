package wasm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// DefaultHostModule is the import namespace used when none is given.
const DefaultHostModule = "env"

// HostFunc is the native implementation of a host import.
//
// It runs synchronously on the goroutine executing the guest. A returned
// error traps the calling export; it never unwinds into the host process.
// The returned Value must have the kind of the signature's result
// (Void when there is none).
type HostFunc func(ctx context.Context, call *HostCall) (Value, error)

// HostFunctionSpec is one registered host function.
type HostFunctionSpec struct {
	Module    string
	Name      string
	Signature Signature
	Callback  HostFunc
}

// QualifiedName returns "module.name".
func (s *HostFunctionSpec) QualifiedName() string {
	return s.Module + "." + s.Name
}

// HostCall carries one guest-to-host invocation.
type HostCall struct {
	Function *HostFunctionSpec
	Instance *Instance
	Args     []Value
}

// Memory returns the calling instance's linear memory. Pointer arguments
// are offsets into it.
func (c *HostCall) Memory() *LinearMemory {
	return c.Instance.Memory()
}

type hostKey struct {
	module string
	name   string
}

// HostTable is the registry of host functions offered to guests.
//
// Functions are registered during setup, then the table is sealed and only
// read afterwards. A sealed table is safe for concurrent use and is shared
// by reference between every resolution.
type HostTable struct {
	mu     sync.Mutex
	funcs  map[hostKey]*HostFunctionSpec
	sealed atomic.Bool
}

// NewHostTable creates an empty, unsealed table.
func NewHostTable() *HostTable {
	return &HostTable{funcs: make(map[hostKey]*HostFunctionSpec)}
}

// Register adds a host function. module defaults to DefaultHostModule.
func (t *HostTable) Register(module, name string, sig Signature, fn HostFunc) error {
	if module == "" {
		module = DefaultHostModule
	}
	if name == "" || fn == nil {
		return fmt.Errorf("%w: host function needs a name and a callback", ErrInvalidRegistration)
	}
	if sig.Result != KindVoid {
		if _, ok := sig.Result.valueType(); !ok {
			return fmt.Errorf("%w: %s.%s has invalid result kind %s", ErrInvalidRegistration, module, name, sig.Result)
		}
	}
	for _, p := range sig.Params {
		if _, ok := p.valueType(); !ok {
			return fmt.Errorf("%w: %s.%s has invalid parameter kind %s", ErrInvalidRegistration, module, name, p)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed.Load() {
		return fmt.Errorf("%w: cannot register %s.%s", ErrTableSealed, module, name)
	}
	key := hostKey{module: module, name: name}
	if _, exists := t.funcs[key]; exists {
		return &DuplicateRegistrationError{Name: module + "." + name}
	}

	t.funcs[key] = &HostFunctionSpec{
		Module:    module,
		Name:      name,
		Signature: Signature{Params: append([]Kind(nil), sig.Params...), Result: sig.Result},
		Callback:  fn,
	}
	return nil
}

// Seal freezes the table. Further registrations fail with ErrTableSealed.
func (t *HostTable) Seal() *HostTable {
	t.mu.Lock()
	t.sealed.Store(true)
	t.mu.Unlock()
	return t
}

// Sealed reports whether Seal has been called.
func (t *HostTable) Sealed() bool {
	return t.sealed.Load()
}

// Resolve looks up a host function by exact module and name.
func (t *HostTable) Resolve(module, name string) (*HostFunctionSpec, error) {
	if module == "" {
		module = DefaultHostModule
	}
	if !t.sealed.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	spec, ok := t.funcs[hostKey{module: module, name: name}]
	if !ok {
		return nil, &UnknownImportError{Name: module + "." + name}
	}
	return spec, nil
}

// Functions returns every registered function sorted by qualified name.
func (t *HostTable) Functions() []*HostFunctionSpec {
	if !t.sealed.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	specs := make([]*HostFunctionSpec, 0, len(t.funcs))
	for _, spec := range t.funcs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].QualifiedName() < specs[j].QualifiedName()
	})
	return specs
}

// Modules returns the distinct import namespaces in the table.
func (t *HostTable) Modules() []string {
	seen := make(map[string]struct{})
	var modules []string
	for _, spec := range t.Functions() {
		if _, ok := seen[spec.Module]; ok {
			continue
		}
		seen[spec.Module] = struct{}{}
		modules = append(modules, spec.Module)
	}
	return modules
}
