package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/internal/app"
	"github.com/benchlab/stupidmeter/internal/config"
)

const usage = `usage: stupidmeter <command> [flags]

commands:
  serve               run the scheduler daemon
  run --suite <name>  fire one suite tick (hourly|deep|tooling) and exit
  discover            discover vendor models and insert new ones
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg := config.Load(os.Getenv("STUPIDMETER_CONFIG"))

	level := slog.LevelInfo
	if cfg.Logging.Perf {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	switch os.Args[1] {
	case "serve":
		a := mustApp(cfg, logger)
		if err := a.RunWithSignal(); err != nil {
			logger.Error("daemon exited", "error", err)
			os.Exit(1)
		}
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		suiteName := fs.String("suite", string(stupidmeter.SuiteHourly), "suite to run: hourly|deep|tooling")
		fs.Parse(os.Args[2:])

		suite := stupidmeter.Suite(*suiteName)
		switch suite {
		case stupidmeter.SuiteHourly, stupidmeter.SuiteDeep, stupidmeter.SuiteTooling:
		default:
			fmt.Fprintf(os.Stderr, "unknown suite %q\n", *suiteName)
			os.Exit(1)
		}

		a := mustApp(cfg, logger)
		if err := a.RunOnce(context.Background(), suite); err != nil {
			logger.Error("suite tick failed", "suite", suite, "error", err)
			os.Exit(1)
		}
	case "discover":
		a := mustApp(cfg, logger)
		if err := a.SyncModels(context.Background()); err != nil {
			logger.Error("model discovery failed", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func mustApp(cfg config.Config, logger *slog.Logger) *app.App {
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	return a
}
