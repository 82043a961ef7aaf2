package wasm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("plain"), "Error"},
		{&CompilationError{ModuleName: "m", Err: errors.New("bad magic")}, "CompilationError"},
		{&UnsatisfiedImportError{ModuleName: "m", Imports: []string{"env.x"}}, "UnsatisfiedImport"},
		{&ArityMismatchError{Export: "f", Want: 1}, "ArityMismatch"},
		{fmt.Errorf("wrapped: %w", &UnknownExportError{Export: "f"}), "UnknownExport"},
		{&InstanceStateError{State: StateDestroyed}, "InstanceClosed"},
		{&InstanceStateError{State: StateTrapped}, "InstanceTrapped"},
		{&GrowLimitError{Current: 1, Requested: 1, Max: 1}, "GrowLimitExceeded"},
		{&TrapError{Reason: TrapMemoryViolation, Err: &MemoryAccessError{Err: ErrOutOfBounds}}, "Trap"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			&CompilationError{ModuleName: "test", Err: errors.New("test error")},
			"failed to compile Wasm module 'test': test error",
		},
		{
			&InstantiationError{ModuleName: "test", InstanceID: "inst-1", Err: errors.New("test error")},
			"failed to instantiate module 'test' (instance: inst-1): test error",
		},
		{
			&ModuleNotFoundError{ModuleName: "test"},
			"module 'test' not found in cache",
		},
		{
			&UnknownExportError{ModuleName: "test", Export: "parse"},
			"function 'parse' not exported by module 'test'",
		},
		{
			&UnsatisfiedImportError{ModuleName: "test", Imports: []string{"env.a", "env.b"}},
			"module 'test' has unsatisfied imports: env.a, env.b",
		},
		{
			&SignatureMismatchError{
				Import:   "env.print_i32",
				Declared: FuncType{Params: []api.ValueType{api.ValueTypeF32}},
				Host:     Sig(KindVoid, KindI32),
			},
			"import 'env.print_i32' declared as (f32) -> () but host provides (i32) -> void",
		},
		{
			&TrapError{InstanceID: "i", Export: "main", Reason: TrapUnreachable},
			"trap in 'main' (instance i): Unreachable",
		},
		{
			&InstanceStateError{InstanceID: "i", State: StateTrapped, Cause: errors.New("boom")},
			"instance i is trapped: boom",
		},
	}
	for _, tt := range tests {
		assert.EqualError(t, tt.err, tt.want)
	}
}

func TestClassifyTrap(t *testing.T) {
	tests := []struct {
		err  error
		want TrapReason
	}{
		{errors.New("wasm error: out of bounds memory access\nwasm stack trace: ..."), TrapMemoryViolation},
		{errors.New("wasm error: integer divide by zero"), TrapDivideByZero},
		{errors.New("wasm error: integer overflow"), TrapIntegerOverflow},
		{errors.New("wasm error: invalid conversion to integer"), TrapInvalidConversion},
		{errors.New("wasm error: stack overflow"), TrapStackOverflow},
		{errors.New("wasm error: invalid table access"), TrapTableAccess},
		{errors.New("wasm error: indirect call type mismatch"), TrapIndirectCallMismatch},
		{errors.New("wasm error: unreachable"), TrapUnreachable},
		{sys.NewExitError(3), TrapExit},
		{sys.NewExitError(sys.ExitCodeContextCanceled), TrapCanceled},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), TrapCanceled},
		{errors.New("something else"), TrapUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyTrap(tt.err), tt.err.Error())
	}

	assert.Equal(t, TrapMemoryViolation, hostTrapReason(&MemoryAccessError{Err: ErrOutOfBounds}))
	assert.Equal(t, TrapHostFunctionFailure, hostTrapReason(ErrInputExhausted))
}

func TestSignature(t *testing.T) {
	i32t := api.ValueTypeI32
	f32t := api.ValueTypeF32

	assert.True(t, Sig(KindVoid, KindPointer).Matches([]api.ValueType{i32t}, nil))
	assert.True(t, Sig(KindF32, KindI32, KindF32).Matches([]api.ValueType{i32t, f32t}, []api.ValueType{f32t}))
	assert.False(t, Sig(KindVoid, KindI32).Matches([]api.ValueType{f32t}, nil))
	assert.False(t, Sig(KindVoid).Matches(nil, []api.ValueType{i32t}))
	assert.False(t, Sig(KindI32).Matches(nil, nil))
	assert.False(t, Sig(KindI32).Matches(nil, []api.ValueType{i32t, i32t}))

	sig, ok := FuncType{Params: []api.ValueType{i32t}, Results: []api.ValueType{f32t}}.Signature()
	assert.True(t, ok)
	assert.Equal(t, "(i32) -> f32", sig.String())

	_, ok = FuncType{Params: []api.ValueType{api.ValueTypeI64}}.Signature()
	assert.False(t, ok)
	_, ok = FuncType{Results: []api.ValueType{i32t, i32t}}.Signature()
	assert.False(t, ok)
}
