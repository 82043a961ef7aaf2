package wasm

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every structured error below unwraps to exactly one of these,
// so callers can test with errors.Is and still get context via errors.As.
var (
	ErrCompilation            = errors.New("CompilationError")
	ErrUnsatisfiedImport      = errors.New("UnsatisfiedImport")
	ErrSignatureMismatch      = errors.New("SignatureMismatch")
	ErrUnknownExport          = errors.New("UnknownExport")
	ErrArityMismatch          = errors.New("ArityMismatch")
	ErrArgumentTypeMismatch   = errors.New("ArgumentTypeMismatch")
	ErrOutOfBounds            = errors.New("OutOfBounds")
	ErrUnterminatedString     = errors.New("UnterminatedString")
	ErrGrowLimitExceeded      = errors.New("GrowLimitExceeded")
	ErrTrap                   = errors.New("Trap")
	ErrReentrancyDenied       = errors.New("ReentrancyDenied")
	ErrDuplicateRegistration  = errors.New("DuplicateRegistration")
	ErrUnknownImport          = errors.New("UnknownImport")
	ErrInstanceTrapped        = errors.New("InstanceTrapped")
	ErrInstanceClosed         = errors.New("InstanceClosed")
	ErrTableSealed            = errors.New("HostTableSealed")
	ErrTableNotSealed         = errors.New("HostTableNotSealed")
	ErrInvalidRegistration    = errors.New("InvalidRegistration")
	ErrInstanceLimit          = errors.New("InstanceLimitReached")
	ErrRuntimeClosed          = errors.New("RuntimeClosed")
	ErrBindingModuleMismatch  = errors.New("BindingModuleMismatch")
	ErrInputExhausted         = errors.New("InputExhausted")
	ErrInstantiation          = errors.New("InstantiationError")
	ErrModuleNotFound         = errors.New("ModuleNotFound")
	ErrHostResultKindMismatch = errors.New("HostResultKindMismatch")
)

var errorKinds = []error{
	ErrCompilation,
	ErrUnsatisfiedImport,
	ErrSignatureMismatch,
	ErrUnknownExport,
	ErrArityMismatch,
	ErrArgumentTypeMismatch,
	ErrReentrancyDenied,
	ErrInstanceTrapped,
	ErrInstanceClosed,
	ErrTrap,
	ErrOutOfBounds,
	ErrUnterminatedString,
	ErrGrowLimitExceeded,
	ErrDuplicateRegistration,
	ErrUnknownImport,
	ErrTableSealed,
	ErrTableNotSealed,
	ErrInvalidRegistration,
	ErrInstanceLimit,
	ErrRuntimeClosed,
	ErrBindingModuleMismatch,
	ErrInputExhausted,
	ErrInstantiation,
	ErrModuleNotFound,
	ErrHostResultKindMismatch,
}

// KindOf returns the name of the error kind err belongs to, or "Error" when
// err is not one of this package's errors.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "Error"
}

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() []error {
	return []error{ErrCompilation, e.Err}
}

// InstantiationError occurs when the engine refuses to instantiate a module
// whose imports were already bound.
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() []error {
	return []error{ErrInstantiation, e.Err}
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

func (e *ModuleNotFoundError) Unwrap() error { return ErrModuleNotFound }

// UnsatisfiedImportError lists every import the host table could not supply.
type UnsatisfiedImportError struct {
	ModuleName string
	Imports    []string // "module.name"
}

func (e *UnsatisfiedImportError) Error() string {
	return fmt.Sprintf("module '%s' has unsatisfied imports: %s",
		e.ModuleName, strings.Join(e.Imports, ", "))
}

func (e *UnsatisfiedImportError) Unwrap() error { return ErrUnsatisfiedImport }

// SignatureMismatchError occurs when a declared import does not match the
// registered host function.
type SignatureMismatchError struct {
	Import   string
	Declared FuncType
	Host     Signature
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("import '%s' declared as %s but host provides %s",
		e.Import, e.Declared, e.Host)
}

func (e *SignatureMismatchError) Unwrap() error { return ErrSignatureMismatch }

// UnknownExportError occurs when an exported function is missing
type UnknownExportError struct {
	ModuleName string
	Export     string
}

func (e *UnknownExportError) Error() string {
	return fmt.Sprintf("function '%s' not exported by module '%s'", e.Export, e.ModuleName)
}

func (e *UnknownExportError) Unwrap() error { return ErrUnknownExport }

// ArityMismatchError occurs when a call supplies the wrong number of arguments.
type ArityMismatchError struct {
	Export string
	Want   int
	Got    int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("export '%s' takes %d argument(s), got %d", e.Export, e.Want, e.Got)
}

func (e *ArityMismatchError) Unwrap() error { return ErrArityMismatch }

// ArgumentTypeMismatchError occurs when an argument's kind does not match
// the declared parameter type.
type ArgumentTypeMismatchError struct {
	Export string
	Index  int
	Want   string
	Got    Kind
}

func (e *ArgumentTypeMismatchError) Error() string {
	return fmt.Sprintf("export '%s' argument %d: want %s, got %s", e.Export, e.Index, e.Want, e.Got)
}

func (e *ArgumentTypeMismatchError) Unwrap() error { return ErrArgumentTypeMismatch }

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint64
	Size      uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d, size=%d): %v",
		e.Operation, e.Address, e.Length, e.Size, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// GrowLimitError occurs when growing memory would pass its maximum.
type GrowLimitError struct {
	Current   uint32
	Requested uint32
	Max       uint32
}

func (e *GrowLimitError) Error() string {
	return fmt.Sprintf("cannot grow memory from %d by %d page(s): limit is %d",
		e.Current, e.Requested, e.Max)
}

func (e *GrowLimitError) Unwrap() error { return ErrGrowLimitExceeded }

// DuplicateRegistrationError occurs when a host function name is registered twice.
type DuplicateRegistrationError struct {
	Name string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("host function '%s' already registered", e.Name)
}

func (e *DuplicateRegistrationError) Unwrap() error { return ErrDuplicateRegistration }

// UnknownImportError occurs when the host table has no entry for a name.
type UnknownImportError struct {
	Name string
}

func (e *UnknownImportError) Error() string {
	return fmt.Sprintf("no host function registered as '%s'", e.Name)
}

func (e *UnknownImportError) Unwrap() error { return ErrUnknownImport }

// HostFunctionError occurs when host function execution fails
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// ReentrancyDeniedError occurs when a host callback calls back into an export
// that is already executing on the same instance.
type ReentrancyDeniedError struct {
	InstanceID string
	Export     string
}

func (e *ReentrancyDeniedError) Error() string {
	return fmt.Sprintf("reentrant call into '%s' denied on instance %s", e.Export, e.InstanceID)
}

func (e *ReentrancyDeniedError) Unwrap() error { return ErrReentrancyDenied }

// InstanceStateError occurs when calling an instance that can no longer run.
type InstanceStateError struct {
	InstanceID string
	State      State
	Cause      error
}

func (e *InstanceStateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("instance %s is %s: %v", e.InstanceID, e.State, e.Cause)
	}
	return fmt.Sprintf("instance %s is %s", e.InstanceID, e.State)
}

func (e *InstanceStateError) Unwrap() error {
	if e.State == StateTrapped {
		return ErrInstanceTrapped
	}
	return ErrInstanceClosed
}
