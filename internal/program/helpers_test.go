package program

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasmhost/internal/wasm"
	"github.com/woxQAQ/wasmhost/internal/wasmtest"
)

var (
	noTypes = wasmtest.Params()
	i32     = wasmtest.Params(wasmtest.I32)
)

// printSeven exports main, which prints 7.
func printSeven() *wasmtest.Builder {
	b := wasmtest.New()
	printI32 := b.ImportFunc("env", "print_i32", i32, noTypes)
	main := b.Func(noTypes, noTypes, nil, wasmtest.I32Const(7), wasmtest.Call(printI32))
	return b.Export("main", main)
}

// echoTwice exports main, which reads two integers and prints their sum,
// and start, which prints 1.
func echoTwice() *wasmtest.Builder {
	b := wasmtest.New()
	printI32 := b.ImportFunc("env", "print_i32", i32, noTypes)
	readI32 := b.ImportFunc("env", "read_i32", noTypes, i32)
	main := b.Func(noTypes, noTypes, nil,
		wasmtest.Call(readI32),
		wasmtest.Call(readI32),
		wasmtest.Op(wasmtest.OpI32Add),
		wasmtest.Call(printI32),
	)
	start := b.Func(noTypes, noTypes, nil, wasmtest.I32Const(1), wasmtest.Call(printI32))
	return b.Export("main", main).Export("start", start)
}

// trapping exports main, which prints 1 and then hits unreachable, and
// add, which takes arguments.
func trapping() *wasmtest.Builder {
	b := wasmtest.New()
	printI32 := b.ImportFunc("env", "print_i32", i32, noTypes)
	main := b.Func(noTypes, noTypes, nil,
		wasmtest.I32Const(1),
		wasmtest.Call(printI32),
		wasmtest.Op(wasmtest.OpUnreachable),
	)
	add := b.Func(wasmtest.Params(wasmtest.I32, wasmtest.I32), i32, nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasmtest.OpI32Add))
	return b.Export("main", main).Export("add", add)
}

func writeWasm(t *testing.T, dir, file string, b *wasmtest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// writeProgram creates dir/name with a program.yaml and, when b is not
// nil, the module it names as prog.wasm.
func writeProgram(t *testing.T, dir, name, manifest string, b *wasmtest.Builder) string {
	t.Helper()
	progDir := filepath.Join(dir, name)
	if err := os.MkdirAll(progDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(progDir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if b != nil {
		writeWasm(t, progDir, "prog.wasm", b)
	}
	return progDir
}

// newTestRuntime builds a runtime with the standard host functions
// printing to the returned buffer.
func newTestRuntime(t *testing.T, input wasm.InputSource) (*wasm.Runtime, *bytes.Buffer) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	out := &bytes.Buffer{}

	table := wasm.NewHostTable()
	host := wasm.NewHostFunctions(logger, out, input)
	if err := host.Register(table, wasm.DefaultHostModule); err != nil {
		t.Fatal(err)
	}

	runtime, err := wasm.NewRuntime(context.Background(), logger, nil, table.Seal())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { _ = runtime.Close(context.Background()) })
	return runtime, out
}
