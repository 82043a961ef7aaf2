package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasmhost/internal/config"
	"github.com/woxQAQ/wasmhost/internal/program"
	"github.com/woxQAQ/wasmhost/internal/wasm"
)

var (
	configFlag = cli.StringFlag{
		Name:   "config, c",
		Usage:  "Load configuration from `FILE`",
		EnvVar: "WASMHOST_CONFIG",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level, l",
		Usage: "log level, debug|info|warn|error (overrides the config file)",
	}

	cmdRun = cli.Command{
		Name:      "run",
		Usage:     "run a program's entry export",
		ArgsUsage: "<module.wasm|program-dir>",
		Flags: []cli.Flag{
			configFlag,
			logLevelFlag,
			cli.StringFlag{
				Name:  "entry, e",
				Usage: "export to call instead of the manifest entry",
			},
			cli.StringSliceFlag{
				Name:  "input, i",
				Usage: "integers returned by read_i32, in order (repeat or comma separate)",
			},
			cli.BoolFlag{
				Name:  "stdin",
				Usage: "read read_i32 values from standard input",
			},
			cli.StringFlag{
				Name:  "output, o",
				Usage: "also write guest output to `FILE`",
			},
		},
		Action: func(c *cli.Context) error {
			return exitError(runAction(c))
		},
	}

	cmdInspect = cli.Command{
		Name:      "inspect",
		Usage:     "show a module's imports, their binding status and its exports",
		ArgsUsage: "<module.wasm|program-dir>",
		Flags:     []cli.Flag{configFlag, logLevelFlag},
		Action: func(c *cli.Context) error {
			return exitError(inspectAction(c))
		},
	}

	cmdList = cli.Command{
		Name:      "list",
		Usage:     "list the programs found in directories",
		ArgsUsage: "<dir>...",
		Flags:     []cli.Flag{configFlag, logLevelFlag},
		Action: func(c *cli.Context) error {
			return exitError(listAction(c))
		},
	}
)

// exitError formats err as "wasmhost: <Kind>: <error>" with exit status 1.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(cli.ExitCoder); ok {
		return err
	}
	return cli.NewExitError(fmt.Sprintf("wasmhost: %s: %v", wasm.KindOf(err), err), 1)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runAction(c *cli.Context) (err error) {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("wasmhost: run requires a module or program directory", 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext(logger)
	defer cancel()

	manifest, err := program.ResolveManifest(path)
	if err != nil {
		return err
	}

	input, err := inputSource(c, manifest)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if file := c.String("output"); file != "" {
		f, ferr := os.Create(file)
		if ferr != nil {
			return fmt.Errorf("failed to create output file: %w", ferr)
		}
		defer multierr.AppendInvoke(&err, multierr.Close(f))
		out = io.MultiWriter(os.Stdout, f)
	}

	h, err := newHost(ctx, cfg, logger, out, input)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(h.close))

	runner := program.NewRunner(h.runtime, out, logger,
		program.WithBanner(cfg.Output.Banner),
		program.WithReentrantExports(cfg.Runtime.AllowReentry...),
	)
	manager := program.NewManager(h.runtime, runner, logger)

	prog, err := manager.Load(ctx, path)
	if err != nil {
		return err
	}
	return manager.Run(ctx, prog.Name(), c.String("entry"))
}

// inputSource picks where read_i32 values come from: --stdin, then
// --input, then the manifest's inputs.
func inputSource(c *cli.Context, manifest *program.Manifest) (wasm.InputSource, error) {
	if c.Bool("stdin") {
		return wasm.NewScannerInput(os.Stdin), nil
	}
	if flags := c.StringSlice("input"); len(flags) > 0 {
		values, err := parseInputs(flags)
		if err != nil {
			return nil, err
		}
		return wasm.NewQueueInput(values...), nil
	}
	return wasm.NewQueueInput(manifest.Inputs...), nil
}

// parseInputs accepts repeated and comma separated integers.
func parseInputs(flags []string) ([]int32, error) {
	var values []int32
	for _, flag := range flags {
		for _, field := range strings.Split(flag, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid --input value %q: %w", field, err)
			}
			values = append(values, int32(v))
		}
	}
	return values, nil
}

func inspectAction(c *cli.Context) (err error) {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("wasmhost: inspect requires a module or program directory", 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	h, err := newHost(ctx, cfg, logger, io.Discard, nil)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(h.close))

	prog, err := program.NewLoader(h.runtime, logger).LoadProgram(ctx, path)
	if err != nil {
		return err
	}

	writeInspection(os.Stdout, prog, h.runtime.Table())
	return nil
}

func writeInspection(w io.Writer, prog *program.Program, table *wasm.HostTable) {
	module := prog.Compiled
	fmt.Fprintf(w, "program: %s (%s)\n", prog.Name(), prog.Manifest.WasmPath())
	fmt.Fprintf(w, "entry: %s\n", prog.Entry())

	if mem := module.Memory; mem != nil {
		max := "unbounded"
		if mem.HasMax {
			max = strconv.FormatUint(uint64(mem.Max), 10)
		}
		fmt.Fprintf(w, "memory: min %d pages, max %s\n", mem.Min, max)
	} else {
		fmt.Fprintln(w, "memory: none")
	}

	fmt.Fprintln(w, "imports:")
	for _, imp := range module.Imports {
		fmt.Fprintf(w, "  %s %s: %s\n", imp.QualifiedName(), imp.Type, importStatus(imp, table))
	}
	for _, other := range module.OtherImports {
		fmt.Fprintf(w, "  %s: unsatisfied (not a function)\n", other)
	}

	fmt.Fprintln(w, "exports:")
	for _, name := range module.ExportNames() {
		fmt.Fprintf(w, "  %s %s\n", name, module.Exports[name].Type)
	}
}

func importStatus(imp wasm.ImportDecl, table *wasm.HostTable) string {
	spec, err := table.Resolve(imp.Module, imp.Name)
	if err != nil {
		return "unsatisfied"
	}
	if !spec.Signature.Matches(imp.Type.Params, imp.Type.Results) {
		return "mismatch, host provides " + spec.Signature.String()
	}
	return "bound"
}

func listAction(c *cli.Context) (err error) {
	dirs := []string(c.Args())
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	h, err := newHost(ctx, cfg, logger, io.Discard, nil)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(h.close))

	manager := program.NewManager(h.runtime, nil, logger)
	if err := manager.LoadAll(ctx, dirs); err != nil {
		return err
	}

	for _, prog := range manager.Registry().List() {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", prog.Name(), prog.Entry(), prog.Manifest.WasmPath())
	}
	return nil
}
