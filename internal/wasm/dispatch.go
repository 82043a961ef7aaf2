package wasm

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Dispatcher invokes exports and routes guest calls of host imports back
// into the host table.
type Dispatcher struct {
	runtime *Runtime
	logger  *zap.Logger
}

func newDispatcher(runtime *Runtime, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-dispatch")),
	}
}

// Call invokes export on inst with args and returns its result (Void when
// the export has none).
//
// Arguments are checked against the declared signature before any guest
// code runs. Such rejections, like calls on a destroyed or trapped
// instance and denied reentry, leave the instance untouched. A fault
// during execution returns a *TrapError and leaves the instance Trapped.
func (d *Dispatcher) Call(ctx context.Context, inst *Instance, export string, args ...Value) (result Value, err error) {
	start := time.Now()
	defer func() {
		d.runtime.observer.CallFinished(export, time.Since(start), err)
	}()

	switch inst.state {
	case StateDestroyed:
		return Void, &InstanceStateError{InstanceID: inst.id, State: StateDestroyed}
	case StateTrapped:
		return Void, &InstanceStateError{InstanceID: inst.id, State: StateTrapped, Cause: inst.trapErr}
	}

	exp, err := inst.Export(export)
	if err != nil {
		return Void, err
	}
	if err := checkArgs(exp.decl, args); err != nil {
		return Void, err
	}
	for _, f := range inst.frames {
		if f.Export == export && !inst.reentrant[export] {
			return Void, &ReentrancyDeniedError{InstanceID: inst.id, Export: export}
		}
	}

	frame := &CallFrame{Export: export, Depth: len(inst.frames), Started: start}
	inst.frames = append(inst.frames, frame)
	inst.state = StateRunning

	fn := exp.fn
	if frame.Depth > 0 {
		// A nested call needs its own engine call stack.
		fn = inst.module.ExportedFunction(export)
	}

	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.raw()
	}

	if ce := d.logger.Check(zap.DebugLevel, "Calling export"); ce != nil {
		ce.Write(
			zap.String("instance_id", inst.id),
			zap.String("export", export),
			zap.Int("depth", frame.Depth),
		)
	}

	results, callErr := fn.Call(ctx, raw...)

	inst.frames = inst.frames[:len(inst.frames)-1]

	if callErr != nil {
		trap := frame.failure
		if trap == nil {
			trap = &TrapError{
				InstanceID: inst.id,
				Export:     export,
				Reason:     classifyTrap(callErr),
				Err:        callErr,
			}
		}
		inst.trap(trap)
		d.logger.Warn("Export trapped",
			zap.String("instance_id", inst.id),
			zap.String("export", export),
			zap.String("reason", string(trap.Reason)),
			zap.Error(trap.Err),
		)
		return Void, trap
	}

	// A nested call may have trapped the instance while a host callback
	// chose to carry on, or a callback may have closed it; either way the
	// instance is finished.
	switch inst.state {
	case StateTrapped:
		return Void, inst.trapErr
	case StateDestroyed:
		return Void, &InstanceStateError{InstanceID: inst.id, State: StateDestroyed}
	}

	if len(inst.frames) == 0 && inst.state == StateRunning {
		inst.state = StateIdle
	}

	if len(results) == 0 || len(exp.decl.Type.Results) == 0 {
		return Void, nil
	}
	kind, _ := kindOf(exp.decl.Type.Results[0])
	return valueFromRaw(kind, results[0]), nil
}

// checkArgs validates args against the export's declared parameters.
func checkArgs(decl ExportDecl, args []Value) error {
	if _, ok := decl.Type.Signature(); !ok {
		return fmt.Errorf("%w: export '%s' has unsupported type %s",
			ErrArgumentTypeMismatch, decl.Name, decl.Type)
	}
	if len(args) != len(decl.Type.Params) {
		return &ArityMismatchError{Export: decl.Name, Want: len(decl.Type.Params), Got: len(args)}
	}
	for i, a := range args {
		vt, ok := a.Kind().valueType()
		if !ok || vt != decl.Type.Params[i] {
			return &ArgumentTypeMismatchError{
				Export: decl.Name,
				Index:  i,
				Want:   api.ValueTypeName(decl.Type.Params[i]),
				Got:    a.Kind(),
			}
		}
	}
	return nil
}

// routeHostCall runs spec's callback for a guest call on inst. Arguments
// are decoded by kind from the engine stack; pointer arguments stay guest
// offsets. On failure the current frame records the trap and the guest is
// unwound by panicking back into the engine, which turns it into an error
// returned from Call.
func (d *Dispatcher) routeHostCall(ctx context.Context, inst *Instance, spec *HostFunctionSpec, stack []uint64) {
	frame := inst.currentFrame()
	if frame == nil {
		panic(&HostFunctionError{
			FunctionName: spec.QualifiedName(),
			Err:          fmt.Errorf("no call in progress on instance %s", inst.id),
		})
	}

	args := make([]Value, len(spec.Signature.Params))
	for i, k := range spec.Signature.Params {
		args[i] = valueFromRaw(k, stack[i])
	}
	call := &HostCall{Function: spec, Instance: inst, Args: args}

	result, err := invokeHost(ctx, spec, call)
	if err == nil && !resultMatches(spec.Signature.Result, result) {
		err = fmt.Errorf("%w: %s returned %s, want %s",
			ErrHostResultKindMismatch, spec.QualifiedName(), result.Kind(), spec.Signature.Result)
	}
	d.runtime.observer.HostCalled(spec.QualifiedName(), err)

	if err != nil {
		trap := &TrapError{
			InstanceID: inst.id,
			Export:     frame.Export,
			Reason:     hostTrapReason(err),
			Err:        &HostFunctionError{FunctionName: spec.QualifiedName(), Err: err},
		}
		frame.failure = trap
		panic(trap)
	}

	if spec.Signature.Result != KindVoid {
		stack[0] = result.raw()
	}
}

// invokeHost calls the callback, converting a panic into an error.
func invokeHost(ctx context.Context, spec *HostFunctionSpec, call *HostCall) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Void
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return spec.Callback(ctx, call)
}

func resultMatches(want Kind, got Value) bool {
	if want == KindVoid {
		return true
	}
	wvt, _ := want.valueType()
	gvt, ok := got.Kind().valueType()
	return ok && wvt == gvt
}
