package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/parallax-ml/parallax/internal/logger"
)

var (
	contextLen int64
	hiddenDim  int64
	modelSeed  int64
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "context",
			Aliases:     []string{"ctx", "c"},
			Usage:       "model context length",
			Value:       64,
			Destination: &contextLen,
		},
		&cli.Int64Flag{
			Name:        "hidden",
			Usage:       "model hidden dimension",
			Value:       16,
			Destination: &hiddenDim,
		},
		&cli.Int64Flag{
			Name:        "model-seed",
			Usage:       "weight initialization seed",
			Value:       1,
			Destination: &modelSeed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// newLog builds the command logger from the logging flags.
func newLog() logger.Logger {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	if logFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Pretty(os.Stderr, level)
}
