// Command threadclass fine-tunes a forum-post classifier and serves its
// predictions from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/joho/godotenv"

	"github.com/crimson-sun/threadclass/internal/config"
	"github.com/crimson-sun/threadclass/internal/logging"
)

type args struct {
	Train   *trainCmd   `arg:"subcommand:train" help:"fine-tune a classifier on a labelled corpus"`
	Predict *predictCmd `arg:"subcommand:predict" help:"classify texts with a trained artifact set"`
	Inspect *inspectCmd `arg:"subcommand:inspect" help:"show the manifest of an artifact set"`

	EnvFile   string `arg:"--env-file" default:".env" help:"dotenv file loaded before reading configuration"`
	LogLevel  string `arg:"--log-level" help:"debug, info, warn or error (default: THREADCLASS_LOG_LEVEL)"`
	LogFormat string `arg:"--log-format" help:"text or json (default: THREADCLASS_LOG_FORMAT)"`
}

func (args) Description() string {
	return "threadclass fine-tunes and runs text classifiers for forum posts.\n"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	if err := godotenv.Load(a.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "threadclass: %s: %v\n", a.EnvFile, err)
		os.Exit(1)
	}

	lc := config.Load().Log
	if a.LogLevel != "" {
		lc.Level = a.LogLevel
	}
	if a.LogFormat != "" {
		lc.Format = a.LogFormat
	}
	// Diagnostics go to stderr so stdout can carry predictions.
	logger := logging.Init(os.Stderr, lc.Format, logging.ParseLevel(lc.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case a.Train != nil:
		err = a.Train.run(ctx, logger)
	case a.Predict != nil:
		err = a.Predict.run(ctx, logger)
	case a.Inspect != nil:
		err = a.Inspect.run()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted")
			os.Exit(130)
		}
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}
