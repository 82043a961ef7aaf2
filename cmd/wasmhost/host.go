package main

import (
	"context"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/wasmhost/internal/config"
	"github.com/woxQAQ/wasmhost/internal/metrics"
	"github.com/woxQAQ/wasmhost/internal/wasm"
)

// newLogger builds a development logger for debug, otherwise a
// production logger at level writing to stderr.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// host is a runtime wired with the standard host functions.
type host struct {
	runtime   *wasm.Runtime
	functions *wasm.HostFunctions
	collector *metrics.Collector
	cfg       *config.Config
	logger    *zap.Logger
}

func newHost(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, input wasm.InputSource) (*host, error) {
	h := &host{cfg: cfg, logger: logger}

	table := wasm.NewHostTable()
	h.functions = wasm.NewHostFunctions(logger, out, input, wasm.WithLabels(cfg.Output.Labels))
	if err := h.functions.Register(table, cfg.Runtime.HostModule); err != nil {
		return nil, err
	}

	var opts []wasm.RuntimeOption
	if cfg.MetricsEnabled {
		h.collector = metrics.NewCollector()
		opts = append(opts, wasm.WithObserver(h.collector))
	}

	runtime, err := wasm.NewRuntime(ctx, logger, cfg.WasmRuntimeConfig(), table.Seal(), opts...)
	if err != nil {
		return nil, err
	}
	h.runtime = runtime
	return h, nil
}

// close flushes guest output, closes the runtime and writes metrics.
func (h *host) close() error {
	// Terminals and pipes reject fsync.
	if serr := h.functions.Sync(); serr != nil {
		h.logger.Debug("Output sync failed", zap.Error(serr))
	}
	err := h.runtime.Close(context.Background())
	if h.collector != nil {
		if werr := h.collector.WriteFile(h.cfg.MetricsFile); werr != nil {
			err = multierr.Append(err, werr)
		} else {
			h.logger.Debug("Metrics written", zap.String("file", h.cfg.MetricsFile))
		}
	}
	return err
}
