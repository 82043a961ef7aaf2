package wasm

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Binding is the result of resolving a module's imports: one host function
// per declared import, in import order. A Binding only exists when every
// import resolved.
type Binding struct {
	module  *CompiledModule
	imports []*HostFunctionSpec
}

// Module returns the module the binding was made for.
func (b *Binding) Module() *CompiledModule {
	return b.module
}

// Imports returns the resolved host functions in import index order.
func (b *Binding) Imports() []*HostFunctionSpec {
	return append([]*HostFunctionSpec(nil), b.imports...)
}

// Resolver binds module imports against a host table.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger: logger.With(zap.String("component", "wasm-resolver")),
	}
}

// Bind resolves every import of module by exact module and name.
//
// Binding is all or nothing. Missing imports are reported together in one
// UnsatisfiedImportError and every signature mismatch gets its own
// SignatureMismatchError; all of them are combined into the returned error.
func (r *Resolver) Bind(module *CompiledModule, table *HostTable) (*Binding, error) {
	if !table.Sealed() {
		return nil, ErrTableNotSealed
	}

	var (
		missing    []string
		mismatches error
		resolved   = make([]*HostFunctionSpec, len(module.Imports))
	)

	for i, imp := range module.Imports {
		spec, err := table.Resolve(imp.Module, imp.Name)
		if err != nil {
			missing = append(missing, imp.QualifiedName())
			continue
		}
		if !spec.Signature.Matches(imp.Type.Params, imp.Type.Results) {
			mismatches = multierr.Append(mismatches, &SignatureMismatchError{
				Import:   imp.QualifiedName(),
				Declared: imp.Type,
				Host:     spec.Signature,
			})
			continue
		}
		resolved[i] = spec
	}
	// The host only supplies functions.
	missing = append(missing, module.OtherImports...)

	var err error
	if len(missing) > 0 {
		err = &UnsatisfiedImportError{ModuleName: module.Name, Imports: missing}
	}
	err = multierr.Append(err, mismatches)
	if err != nil {
		r.logger.Warn("Import binding failed",
			zap.String("module", module.Name),
			zap.Strings("missing", missing),
			zap.Error(err),
		)
		return nil, err
	}

	r.logger.Debug("Imports bound",
		zap.String("module", module.Name),
		zap.Int("imports", len(resolved)),
	)
	return &Binding{module: module, imports: resolved}, nil
}
