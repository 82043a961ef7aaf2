package wasm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"
)

// TrapReason names why a call was aborted.
type TrapReason string

const (
	TrapUnreachable          TrapReason = "Unreachable"
	TrapDivideByZero         TrapReason = "IntegerDivideByZero"
	TrapIntegerOverflow      TrapReason = "IntegerOverflow"
	TrapInvalidConversion    TrapReason = "InvalidConversionToInteger"
	TrapMemoryViolation      TrapReason = "MemoryViolation"
	TrapStackOverflow        TrapReason = "StackOverflow"
	TrapTableAccess          TrapReason = "InvalidTableAccess"
	TrapIndirectCallMismatch TrapReason = "IndirectCallTypeMismatch"
	TrapHostFunctionFailure  TrapReason = "HostFunctionFailure"
	TrapExit                 TrapReason = "Exit"
	TrapCanceled             TrapReason = "Canceled"
	TrapUnknown              TrapReason = "Unknown"
)

// TrapError is returned when guest execution faults. The instance that
// produced it is left in the Trapped state.
type TrapError struct {
	InstanceID string
	Export     string
	Reason     TrapReason
	Err        error
}

func (e *TrapError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("trap in '%s' (instance %s): %s", e.Export, e.InstanceID, e.Reason)
	}
	return fmt.Sprintf("trap in '%s' (instance %s): %s: %v", e.Export, e.InstanceID, e.Reason, e.Err)
}

func (e *TrapError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTrap}
	}
	return []error{ErrTrap, e.Err}
}

// Engine trap messages, matched against errors returned by api.Function.Call.
var engineTraps = []struct {
	msg    string
	reason TrapReason
}{
	{"out of bounds memory access", TrapMemoryViolation},
	{"integer divide by zero", TrapDivideByZero},
	{"integer overflow", TrapIntegerOverflow},
	{"invalid conversion to integer", TrapInvalidConversion},
	{"stack overflow", TrapStackOverflow},
	{"invalid table access", TrapTableAccess},
	{"indirect call type mismatch", TrapIndirectCallMismatch},
	{"unreachable", TrapUnreachable},
}

// classifyTrap maps an engine error onto a trap reason.
func classifyTrap(err error) TrapReason {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			return TrapCanceled
		}
		return TrapExit
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return TrapCanceled
	}

	msg := err.Error()
	for _, t := range engineTraps {
		if strings.Contains(msg, t.msg) {
			return t.reason
		}
	}
	return TrapUnknown
}

// hostTrapReason picks the trap reason for a failed host callback.
func hostTrapReason(err error) TrapReason {
	if errors.Is(err, ErrOutOfBounds) {
		return TrapMemoryViolation
	}
	return TrapHostFunctionFailure
}
