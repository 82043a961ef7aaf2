package wasm

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasmhost/internal/wasmtest"
)

func TestHostFunctions_Register(t *testing.T) {
	table := NewHostTable()
	host := NewHostFunctions(zaptest.NewLogger(t), &bytes.Buffer{}, nil)
	require.NoError(t, host.Register(table, ""))

	var names []string
	for _, spec := range table.Functions() {
		names = append(names, spec.QualifiedName())
	}
	assert.Equal(t, []string{
		"env.print_char",
		"env.print_f32",
		"env.print_i32",
		"env.print_num",
		"env.print_string",
		"env.read_i32",
	}, names)

	// Registering twice reports every duplicate.
	err := host.Register(table, "env")
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
	assert.Contains(t, err.Error(), "env.read_i32")
}

// printAll calls each print function once.
func printAll() *wasmtest.Builder {
	b := wasmtest.New()
	printI32 := b.ImportFunc("env", "print_i32", i32, noTypes)
	printF32 := b.ImportFunc("env", "print_f32", f32, noTypes)
	printString := b.ImportFunc("env", "print_string", i32, noTypes)
	printChar := b.ImportFunc("env", "print_char", i32, noTypes)
	printNum := b.ImportFunc("env", "print_num", i32, noTypes)
	run := b.Func(noTypes, noTypes, nil,
		wasmtest.I32Const(-42), wasmtest.Call(printI32),
		wasmtest.F32Const(2.5), wasmtest.Call(printF32),
		wasmtest.I32Const(0), wasmtest.Call(printString),
		wasmtest.I32Const('x'), wasmtest.Call(printChar),
		wasmtest.I32Const(12), wasmtest.Call(printNum),
		wasmtest.I32Const('\n'), wasmtest.Call(printChar),
	)
	return b.Memory(1, 1).Data(0, wasmtest.CString("hello")).Export("run", run)
}

func TestHostFunctions_Output(t *testing.T) {
	tests := []struct {
		name   string
		labels bool
		want   string
	}{
		{"plain", false, "-42\n2.5\nhello\nx12\n"},
		{"labelled", true, "[Output Int]: -42\n[Output Float]: 2.5\n[Output String]: hello\nx12\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zaptest.NewLogger(t)
			ctx := context.Background()
			out := &bytes.Buffer{}
			events := &EventLog{}

			table := NewHostTable()
			host := NewHostFunctions(logger, out, nil, WithLabels(tt.labels), WithRecorder(events))
			require.NoError(t, host.Register(table, DefaultHostModule))

			runtime, err := NewRuntime(ctx, logger, nil, table.Seal())
			require.NoError(t, err)
			defer runtime.Close(ctx)

			module, err := NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "print-all", printAll().Bytes())
			require.NoError(t, err)
			binding, err := NewResolver(logger).Bind(module, table)
			require.NoError(t, err)
			inst, err := NewInstanceManager(runtime, logger).Instantiate(ctx, module, binding)
			require.NoError(t, err)

			_, err = inst.Call(ctx, "run")
			require.NoError(t, err)
			require.NoError(t, host.Sync())

			assert.Equal(t, tt.want, out.String())
			assert.Equal(t, []string{"-42", "2.5", "hello", "x", "12", "\n"}, texts(events.Events()))
		})
	}
}

func TestValueFormatting(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{I32(0), "0"},
		{I32(-2147483648), "-2147483648"},
		{F32(0.1), "0.1"},
		{F32(1e10), "1e+10"},
		{F32(-3), "-3"},
		{Pointer(255), "0xff"},
		{Void, "void"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.value.String())
	}
}

func TestQueueInput(t *testing.T) {
	ctx := context.Background()

	q := NewQueueInput(1, 2)
	for _, want := range []int32{1, 2} {
		v, err := q.ReadI32(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err := q.ReadI32(ctx)
	assert.ErrorIs(t, err, ErrInputExhausted)

	open := NewOpenQueueInput(1)
	open.Push(9)
	v, err := open.ReadI32(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(9), v)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = open.ReadI32(canceled)
	assert.ErrorIs(t, err, context.Canceled)

	open.Close()
	open.Close()
	_, err = open.ReadI32(ctx)
	assert.ErrorIs(t, err, ErrInputExhausted)
}

func TestScannerInput(t *testing.T) {
	ctx := context.Background()
	in := NewScannerInput(strings.NewReader(" 12\n-7\tabc 99999999999"))

	v, err := in.ReadI32(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(12), v)

	v, err = in.ReadI32(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v)

	_, err = in.ReadI32(ctx)
	assert.ErrorContains(t, err, `parse input "abc"`)

	_, err = in.ReadI32(ctx)
	assert.Error(t, err)

	_, err = in.ReadI32(ctx)
	assert.ErrorIs(t, err, ErrInputExhausted)
}

func TestConstInput(t *testing.T) {
	v, err := ConstInput(42).ReadI32(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)
}

func TestHostFunctions_TextEncoding(t *testing.T) {
	h := newHarness(t)

	b := wasmtest.New()
	printString := b.ImportFunc("env", "print_string", i32, noTypes)
	printChar := b.ImportFunc("env", "print_char", i32, noTypes)
	b.Export("show", b.Func(i32, noTypes, nil, wasmtest.LocalGet(0), wasmtest.Call(printString)))
	b.Export("char", b.Func(i32, noTypes, nil, wasmtest.LocalGet(0), wasmtest.Call(printChar)))
	b.Memory(1, 1).
		Data(0, wasmtest.CString("café")).
		Data(16, []byte{'o', 'k', 0xff, 0xfe, 0})

	inst := h.instantiate("encoding", b)
	for _, call := range []struct {
		export string
		arg    Value
	}{
		{"show", Pointer(0)},
		{"show", Pointer(16)},
		{"char", I32(0x263A)},
		{"char", I32(-1)},
	} {
		_, err := inst.Call(h.ctx, call.export, call.arg)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"café", "ok�", "☺", "�"}, texts(h.events.Events()))
}
