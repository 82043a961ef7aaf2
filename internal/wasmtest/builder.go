// Package wasmtest assembles small WebAssembly binaries for tests.
//
// Only the subset of the binary format the host runtime cares about is
// covered: function types, function and memory imports, functions with
// locals, one memory, exports and active data segments.
package wasmtest

import (
	"encoding/binary"
	"math"
)

// ValType is a WebAssembly value type byte.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	externFunc   = 0x00
	externMemory = 0x02
)

type funcType struct {
	params  []ValType
	results []ValType
}

type importEntry struct {
	module, name string
	kind         byte
	typeIdx      uint32
	limits       limits
}

type function struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type limits struct {
	min    uint32
	max    uint32
	hasMax bool
}

type segment struct {
	offset uint32
	data   []byte
}

// Builder collects module parts and encodes them with Bytes.
type Builder struct {
	types   []funcType
	imports []importEntry
	funcs   []function
	memory  *limits
	exports []export
	data    []segment

	importedFuncs uint32
}

// New returns an empty module builder.
func New() *Builder {
	return &Builder{}
}

// Params is shorthand for a value type list.
func Params(types ...ValType) []ValType { return types }

// Results is shorthand for a value type list.
func Results(types ...ValType) []ValType { return types }

func (b *Builder) typeIndex(params, results []ValType) uint32 {
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
// All imports must be declared before the first Func.
func (b *Builder) ImportFunc(module, name string, params, results []ValType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	b.imports = append(b.imports, importEntry{
		module:  module,
		name:    name,
		kind:    externFunc,
		typeIdx: b.typeIndex(params, results),
	})
	b.importedFuncs++
	return b.importedFuncs - 1
}

// ImportMemory declares a memory import.
func (b *Builder) ImportMemory(module, name string, minPages uint32) *Builder {
	b.imports = append(b.imports, importEntry{
		module: module,
		name:   name,
		kind:   externMemory,
		limits: limits{min: minPages},
	})
	return b
}

// Func adds a function and returns its index. body must not include the
// final end opcode.
func (b *Builder) Func(params, results, locals []ValType, body ...[]byte) uint32 {
	var code []byte
	for _, part := range body {
		code = append(code, part...)
	}
	b.funcs = append(b.funcs, function{
		typeIdx: b.typeIndex(params, results),
		locals:  locals,
		body:    append(code, OpEnd),
	})
	return b.importedFuncs + uint32(len(b.funcs)-1)
}

// Memory declares the module's memory. A max of zero means unbounded.
func (b *Builder) Memory(minPages, maxPages uint32) *Builder {
	b.memory = &limits{min: minPages, max: maxPages, hasMax: maxPages > 0}
	return b
}

// Export exports function idx under name.
func (b *Builder) Export(name string, idx uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: externFunc, idx: idx})
	return b
}

// ExportMemory exports memory 0 under name.
func (b *Builder) ExportMemory(name string) *Builder {
	b.exports = append(b.exports, export{name: name, kind: externMemory})
	return b
}

// Data places data at offset in memory 0 at instantiation.
func (b *Builder) Data(offset uint32, data []byte) *Builder {
	b.data = append(b.data, segment{offset: offset, data: data})
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		sec := uleb(uint64(len(b.types)))
		for _, ft := range b.types {
			sec = append(sec, 0x60)
			sec = appendValTypes(sec, ft.params)
			sec = appendValTypes(sec, ft.results)
		}
		out = appendSection(out, sectionType, sec)
	}

	if len(b.imports) > 0 {
		sec := uleb(uint64(len(b.imports)))
		for _, imp := range b.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, imp.kind)
			switch imp.kind {
			case externFunc:
				sec = append(sec, uleb(uint64(imp.typeIdx))...)
			case externMemory:
				sec = appendLimits(sec, imp.limits)
			}
		}
		out = appendSection(out, sectionImport, sec)
	}

	if len(b.funcs) > 0 {
		sec := uleb(uint64(len(b.funcs)))
		for _, fn := range b.funcs {
			sec = append(sec, uleb(uint64(fn.typeIdx))...)
		}
		out = appendSection(out, sectionFunction, sec)
	}

	if b.memory != nil {
		sec := uleb(1)
		sec = appendLimits(sec, *b.memory)
		out = appendSection(out, sectionMemory, sec)
	}

	if len(b.exports) > 0 {
		sec := uleb(uint64(len(b.exports)))
		for _, e := range b.exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = append(sec, uleb(uint64(e.idx))...)
		}
		out = appendSection(out, sectionExport, sec)
	}

	if len(b.funcs) > 0 {
		sec := uleb(uint64(len(b.funcs)))
		for _, fn := range b.funcs {
			entry := uleb(uint64(len(fn.locals)))
			for _, l := range fn.locals {
				entry = append(entry, 0x01, byte(l))
			}
			entry = append(entry, fn.body...)
			sec = append(sec, uleb(uint64(len(entry)))...)
			sec = append(sec, entry...)
		}
		out = appendSection(out, sectionCode, sec)
	}

	if len(b.data) > 0 {
		sec := uleb(uint64(len(b.data)))
		for _, seg := range b.data {
			sec = append(sec, 0x00)
			sec = append(sec, I32Const(int32(seg.offset))...)
			sec = append(sec, OpEnd)
			sec = append(sec, uleb(uint64(len(seg.data)))...)
			sec = append(sec, seg.data...)
		}
		out = appendSection(out, sectionData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func appendValTypes(out []byte, types []ValType) []byte {
	out = append(out, uleb(uint64(len(types)))...)
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func appendName(out []byte, name string) []byte {
	out = append(out, uleb(uint64(len(name)))...)
	return append(out, name...)
}

func appendLimits(out []byte, l limits) []byte {
	if l.hasMax {
		out = append(out, 0x01)
		out = append(out, uleb(uint64(l.min))...)
		return append(out, uleb(uint64(l.max))...)
	}
	out = append(out, 0x00)
	return append(out, uleb(uint64(l.min))...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}

// Opcodes used by the instruction helpers and tests.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpEnd         byte = 0x0b
	OpReturn      byte = 0x0f
	OpDrop        byte = 0x1a

	OpI32Add  byte = 0x6a
	OpI32Sub  byte = 0x6b
	OpI32Mul  byte = 0x6c
	OpI32DivS byte = 0x6d

	OpF32Add byte = 0x92
	OpF32Mul byte = 0x94

	OpI32TruncF32S byte = 0xa8
)

// Op wraps single opcodes for use as a Func body part.
func Op(ops ...byte) []byte { return ops }

// I32Const pushes v.
func I32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(int64(v))...)
}

// F32Const pushes v.
func F32Const(v float32) []byte {
	out := []byte{0x43, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[1:], math.Float32bits(v))
	return out
}

// LocalGet pushes local i.
func LocalGet(i uint32) []byte {
	return append([]byte{0x20}, uleb(uint64(i))...)
}

// LocalSet pops into local i.
func LocalSet(i uint32) []byte {
	return append([]byte{0x21}, uleb(uint64(i))...)
}

// Call calls function idx.
func Call(idx uint32) []byte {
	return append([]byte{0x10}, uleb(uint64(idx))...)
}

// I32Load loads an i32 at the popped address plus offset.
func I32Load(offset uint32) []byte {
	return append([]byte{0x28, 0x02}, uleb(uint64(offset))...)
}

// I32Store stores an i32 at the popped address plus offset.
func I32Store(offset uint32) []byte {
	return append([]byte{0x36, 0x02}, uleb(uint64(offset))...)
}

// I32Store8 stores the low byte of an i32.
func I32Store8(offset uint32) []byte {
	return append([]byte{0x3a, 0x00}, uleb(uint64(offset))...)
}

// MemorySize pushes the memory size in pages.
func MemorySize() []byte { return []byte{0x3f, 0x00} }

// MemoryGrow grows memory by the popped page count.
func MemoryGrow() []byte { return []byte{0x40, 0x00} }

// CString returns s with a terminating zero byte.
func CString(s string) []byte {
	return append([]byte(s), 0)
}
