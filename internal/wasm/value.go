package wasm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// Kind is the primitive kind of a value crossing the host/guest boundary.
type Kind uint8

const (
	// KindVoid marks the absence of a value (no result).
	KindVoid Kind = iota
	// KindI32 is a 32-bit signed integer.
	KindI32
	// KindF32 is a 32-bit float.
	KindF32
	// KindPointer is an offset into the instance's linear memory.
	// It lowers to a wasm i32 and is never a host address.
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindI32:
		return "i32"
	case KindF32:
		return "f32"
	case KindPointer:
		return "ptr"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// valueType returns the wasm value type a kind lowers to.
func (k Kind) valueType() (api.ValueType, bool) {
	switch k {
	case KindI32, KindPointer:
		return api.ValueTypeI32, true
	case KindF32:
		return api.ValueTypeF32, true
	default:
		return 0, false
	}
}

// kindOf maps a wasm value type onto the kind used for it when no
// pointer information is available.
func kindOf(vt api.ValueType) (Kind, bool) {
	switch vt {
	case api.ValueTypeI32:
		return KindI32, true
	case api.ValueTypeF32:
		return KindF32, true
	default:
		return KindVoid, false
	}
}

// Value is a typed value passed to or returned from guest and host functions.
type Value struct {
	kind Kind
	bits uint64
}

// I32 returns an i32 value.
func I32(v int32) Value {
	return Value{kind: KindI32, bits: api.EncodeI32(v)}
}

// F32 returns an f32 value.
func F32(v float32) Value {
	return Value{kind: KindF32, bits: api.EncodeF32(v)}
}

// Pointer returns a pointer value addressing guest linear memory.
func Pointer(offset uint32) Value {
	return Value{kind: KindPointer, bits: api.EncodeU32(offset)}
}

// Void is the value returned by functions without a result.
var Void = Value{}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// I32 returns the value as int32. Pointers are returned as their offset bits.
func (v Value) I32() int32 { return api.DecodeI32(v.bits) }

// F32 returns the value as float32.
func (v Value) F32() float32 { return api.DecodeF32(v.bits) }

// Pointer returns the value as a linear memory offset.
func (v Value) Pointer() uint32 { return api.DecodeU32(v.bits) }

// String formats the value the way the host output functions print it.
func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case KindF32:
		return formatF32(v.F32())
	case KindPointer:
		return "0x" + strconv.FormatUint(uint64(v.Pointer()), 16)
	default:
		return "void"
	}
}

// raw returns the stack encoding of the value.
func (v Value) raw() uint64 { return v.bits }

// valueFromRaw decodes a stack slot as the given kind.
func valueFromRaw(k Kind, raw uint64) Value {
	switch k {
	case KindI32, KindPointer, KindF32:
		// 32-bit slots only carry the low 32 bits.
		return Value{kind: k, bits: uint64(uint32(raw))}
	default:
		return Void
	}
}

func formatF32(f float32) string {
	switch {
	case math.IsNaN(float64(f)):
		return "NaN"
	case math.IsInf(float64(f), 1):
		return "Infinity"
	case math.IsInf(float64(f), -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// Signature is the structural type of a function: ordered parameter kinds
// and at most one result kind (KindVoid for none).
type Signature struct {
	Params []Kind
	Result Kind
}

// Sig is shorthand for building a Signature.
func Sig(result Kind, params ...Kind) Signature {
	return Signature{Params: params, Result: result}
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ", ") + ") -> " + s.Result.String()
}

// Matches reports whether the signature structurally matches the given wasm
// parameter and result types.
func (s Signature) Matches(params, results []api.ValueType) bool {
	if len(params) != len(s.Params) {
		return false
	}
	for i, k := range s.Params {
		vt, ok := k.valueType()
		if !ok || vt != params[i] {
			return false
		}
	}
	switch len(results) {
	case 0:
		return s.Result == KindVoid
	case 1:
		vt, ok := s.Result.valueType()
		return ok && vt == results[0]
	default:
		return false
	}
}

// FuncType is a wasm function type as declared by a compiled module.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (t FuncType) String() string {
	return "(" + valueTypeNames(t.Params) + ") -> (" + valueTypeNames(t.Results) + ")"
}

// Signature converts the declared type into a Signature. ok is false when
// the type uses values this runtime cannot marshal (i64, f64, refs) or has
// more than one result.
func (t FuncType) Signature() (Signature, bool) {
	sig := Signature{Params: make([]Kind, len(t.Params))}
	for i, vt := range t.Params {
		k, ok := kindOf(vt)
		if !ok {
			return Signature{}, false
		}
		sig.Params[i] = k
	}
	switch len(t.Results) {
	case 0:
	case 1:
		k, ok := kindOf(t.Results[0])
		if !ok {
			return Signature{}, false
		}
		sig.Result = k
	default:
		return Signature{}, false
	}
	return sig, true
}

func valueTypeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, vt := range types {
		names[i] = api.ValueTypeName(vt)
	}
	return strings.Join(names, ", ")
}
