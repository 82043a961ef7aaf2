package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := cli.NewApp()
	app.Name = "wasmhost"
	app.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	app.Compiled = time.Now()
	app.Usage = "run WebAssembly programs against the standard env host functions"

	//commands
	app.Commands = []cli.Command{
		cmdRun,
		cmdInspect,
		cmdList,
	}

	app.Action = func(c *cli.Context) error {
		return cli.ShowAppHelp(c)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
