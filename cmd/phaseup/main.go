package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/nholik/phaseup/internal/cli"
	"github.com/nholik/phaseup/internal/config"
	"github.com/nholik/phaseup/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	cli.Version = version
	streams := cli.Streams{
		In:     bufio.NewReader(os.Stdin),
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
	factory := func(logLevel string) (cli.Runner, error) {
		level := cfg.LogLevel
		var opts []cli.AppOption
		if logLevel != "" {
			level = logLevel
			opts = append(opts, cli.WithGlobalArgs("--log-level", logLevel))
		}
		return cli.NewApp(cfg, logging.NewOperator(level, cfg.LogFormat), streams, opts...)
	}

	os.Exit(cli.Execute(context.Background(), os.Args[1:], factory, streams))
}
