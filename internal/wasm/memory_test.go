package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/wasmhost/internal/wasmtest"
)

// memoryInstance returns an instance with one page of memory that may grow
// to maxPages (unbounded when zero).
func memoryInstance(t *testing.T, h *harness, maxPages uint32) *Instance {
	t.Helper()
	b := wasmtest.New()
	grow := b.Func(i32, i32, nil,
		wasmtest.LocalGet(0),
		wasmtest.MemoryGrow(),
	)
	size := b.Func(noTypes, i32, nil, wasmtest.MemorySize())
	b.Memory(1, maxPages).
		Data(100, []byte("hello\x00world")).
		Export("grow", grow).
		Export("size", size)
	return h.instantiate(t.Name(), b)
}

func TestLinearMemory_ReadWrite(t *testing.T) {
	h := newHarness(t)
	mem := memoryInstance(t, h, 2).Memory()

	assert.Equal(t, uint32(PageSize), mem.Size())
	assert.Equal(t, uint32(1), mem.Pages())
	assert.Equal(t, uint32(2), mem.MaxPages())

	require.NoError(t, mem.WriteBytes(10, []byte{1, 2, 3}))
	got, err := mem.ReadBytes(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// Reads are copies.
	got[0] = 99
	again, err := mem.ReadBytes(10, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, again)

	require.NoError(t, mem.WriteUint32Le(PageSize-4, 0xdeadbeef))
	v, err := mem.ReadUint32Le(PageSize - 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)

	raw, err := mem.ReadBytes(PageSize-4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, raw)
}

func TestLinearMemory_OutOfBounds(t *testing.T) {
	h := newHarness(t)
	mem := memoryInstance(t, h, 2).Memory()

	tests := []struct {
		name string
		run  func() error
	}{
		{"read past end", func() error { _, err := mem.ReadBytes(PageSize-2, 4); return err }},
		{"read at size", func() error { _, err := mem.ReadBytes(PageSize, 1); return err }},
		{"read huge length", func() error { _, err := mem.ReadBytes(1, 0xffffffff); return err }},
		{"write past end", func() error { return mem.WriteBytes(PageSize-1, []byte{1, 2}) }},
		{"write at max offset", func() error { return mem.WriteBytes(0xffffffff, []byte{1}) }},
		{"u32 past end", func() error { _, err := mem.ReadUint32Le(PageSize - 3); return err }},
		{"string at size", func() error { _, err := mem.ReadCString(PageSize); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.ErrorIs(t, err, ErrOutOfBounds)
			assert.Equal(t, "OutOfBounds", KindOf(err))

			var accessErr *MemoryAccessError
			require.ErrorAs(t, err, &accessErr)
			assert.Equal(t, uint32(PageSize), accessErr.Size)
		})
	}

	// Failed writes leave memory untouched.
	tail, err := mem.ReadBytes(PageSize-1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, tail)
}

func TestLinearMemory_ReadCString(t *testing.T) {
	h := newHarness(t)
	mem := memoryInstance(t, h, 2).Memory()

	s, err := mem.ReadCString(100)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(s))

	s, err = mem.ReadCString(106)
	require.NoError(t, err)
	assert.Equal(t, "world", string(s))

	s, err = mem.ReadCString(105)
	require.NoError(t, err)
	assert.Empty(t, s)

	require.NoError(t, mem.WriteBytes(PageSize-3, []byte("abc")))
	_, err = mem.ReadCString(PageSize - 3)
	assert.ErrorIs(t, err, ErrUnterminatedString)
	assert.Equal(t, "UnterminatedString", KindOf(err))
}

func TestLinearMemory_Grow(t *testing.T) {
	h := newHarness(t)
	inst := memoryInstance(t, h, 3)
	mem := inst.Memory()

	pages, err := mem.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pages)
	assert.Equal(t, uint32(2*PageSize), mem.Size())

	// Newly grown memory is zeroed and addressable.
	require.NoError(t, mem.WriteBytes(PageSize+10, []byte{7}))

	_, err = mem.Grow(2)
	var growErr *GrowLimitError
	require.ErrorAs(t, err, &growErr)
	assert.Equal(t, uint32(2), growErr.Current)
	assert.Equal(t, uint32(2), growErr.Requested)
	assert.Equal(t, uint32(3), growErr.Max)
	assert.ErrorIs(t, err, ErrGrowLimitExceeded)
	assert.Equal(t, uint32(2), mem.Pages())

	// Guest view agrees with the host.
	size, err := inst.Call(h.ctx, "size")
	require.NoError(t, err)
	assert.Equal(t, int32(2), size.I32())

	pages, err = mem.Grow(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pages)
}

func TestLinearMemory_GrowCappedByRuntime(t *testing.T) {
	config := DefaultRuntimeConfig()
	config.MemoryPages = 2
	h := newHarness(t, withConfig(config))
	inst := memoryInstance(t, h, 0)
	mem := inst.Memory()

	assert.Equal(t, uint32(2), mem.MaxPages())
	_, err := mem.Grow(2)
	assert.ErrorIs(t, err, ErrGrowLimitExceeded)

	// memory.grow from the guest reports failure as -1.
	res, err := inst.Call(h.ctx, "grow", I32(5))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), res.I32())

	res, err = inst.Call(h.ctx, "grow", I32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), res.I32())
	assert.Equal(t, uint32(2), mem.Pages())
}

func TestLinearMemory_NoMemory(t *testing.T) {
	mem := newLinearMemory(nil, 0)

	assert.Zero(t, mem.Size())
	assert.Zero(t, mem.Pages())
	assert.Equal(t, uint32(wasmMaxPages), mem.MaxPages())

	_, err := mem.ReadBytes(0, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = mem.ReadCString(0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, mem.WriteBytes(0, []byte{1}), ErrOutOfBounds)

	_, err = mem.Grow(1)
	assert.ErrorIs(t, err, ErrGrowLimitExceeded)
	pages, err := mem.Grow(0)
	require.NoError(t, err)
	assert.Zero(t, pages)
}

func TestLinearMemory_ModuleWithoutMemory(t *testing.T) {
	h := newHarness(t)

	b := wasmtest.New()
	printString := b.ImportFunc("env", "print_string", i32, noTypes)
	b.Export("show", b.Func(i32, noTypes, nil,
		wasmtest.LocalGet(0),
		wasmtest.Call(printString),
	))

	inst := h.instantiate("memoryless", b)
	assert.Nil(t, inst.Module().Memory)

	mem := inst.Memory()
	assert.Zero(t, mem.Size())
	_, err := mem.ReadBytes(0, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, mem.WriteBytes(0, []byte{1}), ErrOutOfBounds)

	// A pointer into memory the module lacks is a memory violation.
	_, err = inst.Call(h.ctx, "show", Pointer(0))
	var trap *TrapError
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, TrapMemoryViolation, trap.Reason)
	assert.Equal(t, StateTrapped, inst.State())
}

func TestLinearMemory_PrivateMemoryIsDescribed(t *testing.T) {
	h := newHarness(t)

	module := h.load("private", wasmtest.New().Memory(1, 3))
	require.NotNil(t, module.Memory)
	assert.Equal(t, MemoryDecl{Min: 1, Max: 3, HasMax: true}, *module.Memory)

	module = h.load("private-unbounded", wasmtest.New().Memory(2, 0))
	require.NotNil(t, module.Memory)
	assert.Equal(t, MemoryDecl{Min: 2}, *module.Memory)

	module = h.load("exported", wasmtest.New().Memory(1, 2).ExportMemory("memory"))
	require.NotNil(t, module.Memory)
	assert.Equal(t, uint32(2), module.Memory.Max)
	assert.False(t, module.Memory.Imported)

	module = h.load("none", printSeven())
	assert.Nil(t, module.Memory)
}

func TestDefinedMemory_Malformed(t *testing.T) {
	good := wasmtest.New().Memory(1, 3).Bytes()
	require.NotNil(t, definedMemory(good))

	assert.Nil(t, definedMemory(nil))
	assert.Nil(t, definedMemory(good[:8]))
	// A section whose size runs past the end.
	assert.Nil(t, definedMemory(append(good[:8:8], 5, 0x7f)))
}
