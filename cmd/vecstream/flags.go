package main

import "github.com/urfave/cli/v3"

var (
	logLevel   string
	logFormat  string
	debug      bool
	configFile string

	backendName string
	simWorkers  int64
	streamCount int64
	segmentSize int64
	blockSize   int64

	// fileConfig is loaded by the root Before hook.
	fileConfig Config
)

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
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Sources:     cli.EnvVars("VECSTREAM_CONFIG"),
			Destination: &configFile,
		},
	}
}

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "streams",
			Aliases:     []string{"s"},
			Usage:       "number of device streams",
			Value:       4,
			Destination: &streamCount,
		},
		&cli.Int64Flag{
			Name:        "segment-size",
			Aliases:     []string{"seg"},
			Usage:       "elements per segment",
			Value:       128,
			Destination: &segmentSize,
		},
		&cli.Int64Flag{
			Name:        "block-size",
			Usage:       "kernel block size",
			Value:       128,
			Destination: &blockSize,
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "accelerator backend (auto, sim, cuda)",
			Value:       "auto",
			Sources:     cli.EnvVars("VECSTREAM_BACKEND"),
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "sim-workers",
			Usage:       "goroutines per simulated kernel dispatch (0 = number of CPUs)",
			Destination: &simWorkers,
		},
	}
}
