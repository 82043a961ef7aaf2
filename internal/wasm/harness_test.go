package wasm

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasmhost/internal/wasmtest"
)

// harness wires a runtime with the standard host functions.
type harness struct {
	t        *testing.T
	ctx      context.Context
	runtime  *Runtime
	loader   *ModuleLoader
	resolver *Resolver
	manager  *InstanceManager
	events   *EventLog
	out      *bytes.Buffer
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	config *RuntimeConfig
	input  InputSource
	extra  func(t *HostTable)
	opts   []RuntimeOption
}

func withConfig(c *RuntimeConfig) harnessOption {
	return func(h *harnessConfig) { h.config = c }
}

func withInput(in InputSource) harnessOption {
	return func(h *harnessConfig) { h.input = in }
}

// withHost registers extra host functions before the table is sealed.
func withHost(fn func(t *HostTable)) harnessOption {
	return func(h *harnessConfig) { h.extra = fn }
}

func withRuntimeOptions(opts ...RuntimeOption) harnessOption {
	return func(h *harnessConfig) { h.opts = append(h.opts, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := &harnessConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	events := &EventLog{}
	out := &bytes.Buffer{}

	table := NewHostTable()
	host := NewHostFunctions(logger, out, cfg.input, WithRecorder(events))
	require.NoError(t, host.Register(table, DefaultHostModule))
	if cfg.extra != nil {
		cfg.extra(table)
	}

	runtime, err := NewRuntime(ctx, logger, cfg.config, table.Seal(), cfg.opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close(context.Background()) })

	return &harness{
		t:        t,
		ctx:      ctx,
		runtime:  runtime,
		loader:   NewModuleLoader(runtime, logger),
		resolver: NewResolver(logger),
		manager:  NewInstanceManager(runtime, logger),
		events:   events,
		out:      out,
	}
}

func (h *harness) load(name string, b *wasmtest.Builder) *CompiledModule {
	h.t.Helper()
	module, err := h.loader.LoadModuleFromMemory(h.ctx, name, b.Bytes())
	require.NoError(h.t, err)
	return module
}

func (h *harness) instantiate(name string, b *wasmtest.Builder, opts ...InstanceOption) *Instance {
	h.t.Helper()
	module := h.load(name, b)
	binding, err := h.resolver.Bind(module, h.runtime.Table())
	require.NoError(h.t, err)
	inst, err := h.manager.Instantiate(h.ctx, module, binding, opts...)
	require.NoError(h.t, err)
	return inst
}

func texts(events []PrintEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Text
	}
	return out
}

var (
	noTypes = wasmtest.Params()
	i32     = wasmtest.Params(wasmtest.I32)
	f32     = wasmtest.Params(wasmtest.F32)
)
