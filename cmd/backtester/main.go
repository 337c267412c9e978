package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	configDir string
	label     string
	persist   bool
)

func main() {
	app := cli.NewApp()
	app.Name = "backtester"
	app.Usage = "turn target-weight signals into trades and report portfolio performance"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Value:       "./configs",
			Usage:       "directory holding config.yml",
			Destination: &configDir,
		},
		&cli.BoolFlag{
			Name:        "persist",
			Usage:       "store results in the configured database",
			Destination: &persist,
		},
		&cli.StringFlag{
			Name:        "label",
			Usage:       "label recorded with persisted runs",
			Destination: &label,
		},
	}
	app.Commands = []*cli.Command{
		runCommand,
		sweepCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
