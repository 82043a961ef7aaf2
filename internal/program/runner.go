package program

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasmhost/internal/wasm"
)

const (
	startBanner = "--- Starting Program ---"
	endBanner   = "--- End Program ---"
)

// Runner executes a program's entry export in a fresh instance.
type Runner struct {
	runtime   *wasm.Runtime
	resolver  *wasm.Resolver
	instances *wasm.InstanceManager
	out       io.Writer
	banner    bool
	reentrant []string
	logger    *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBanner prints start and end banners around the entry call.
func WithBanner(enabled bool) RunnerOption {
	return func(r *Runner) { r.banner = enabled }
}

// WithReentrantExports allows these exports to be re-entered in every
// program, in addition to those its manifest lists.
func WithReentrantExports(names ...string) RunnerOption {
	return func(r *Runner) { r.reentrant = append(r.reentrant, names...) }
}

// NewRunner creates a runner. Banners go to out, which should be the
// writer the host functions print to.
func NewRunner(runtime *wasm.Runtime, out io.Writer, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		runtime:   runtime,
		resolver:  wasm.NewResolver(logger),
		instances: wasm.NewInstanceManager(runtime, logger),
		out:       out,
		logger:    logger.With(zap.String("component", "program-runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run binds prog against the runtime's host table, instantiates it and
// calls entry (the manifest's entry when empty). The instance is closed
// before Run returns.
func (r *Runner) Run(ctx context.Context, prog *Program, entry string) (err error) {
	if entry == "" {
		entry = prog.Entry()
	}

	binding, err := r.resolver.Bind(prog.Compiled, r.runtime.Table())
	if err != nil {
		return err
	}

	reentrant := append(append([]string(nil), r.reentrant...), prog.Manifest.ReentrantExports...)
	inst, err := r.instances.Instantiate(ctx, prog.Compiled, binding, wasm.WithReentrantExports(reentrant...))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, inst.Close(ctx))
	}()

	export, err := inst.Export(entry)
	if err != nil {
		return err
	}
	if typ := export.Type(); len(typ.Params) != 0 || len(typ.Results) != 0 {
		return &EntrySignatureError{ProgramName: prog.Name(), Entry: entry, Type: typ.String()}
	}

	logger := r.logger.With(
		zap.String("program", prog.Name()),
		zap.String("instance_id", inst.ID()),
		zap.String("entry", entry),
	)
	logger.Debug("Running program")

	if r.banner {
		fmt.Fprintln(r.out, startBanner)
	}

	start := time.Now()
	if _, err := export.Call(ctx); err != nil {
		logger.Warn("Program failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}

	if r.banner {
		fmt.Fprintln(r.out, endBanner)
	}

	logger.Info("Program finished", zap.Duration("duration", time.Since(start)))
	return nil
}
