package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vecstream/internal/logger"
	"github.com/samcharles93/vecstream/internal/vecio"
)

func genCmd() *cli.Command {
	var (
		length int64
		seed   int64
		outDir string
		format string
	)

	return &cli.Command{
		Name:  "gen",
		Usage: "Generate a random dataset with its expected sum",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "length",
				Aliases:     []string{"n"},
				Usage:       "vector length",
				Required:    true,
				Destination: &length,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "random seed (default: current time)",
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "out-dir",
				Aliases:     []string{"o"},
				Usage:       "directory for input0, input1 and output",
				Required:    true,
				Destination: &outDir,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "file format (raw, json, bin)",
				Value:       string(vecio.Text),
				Destination: &format,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			f, err := vecio.ParseFormat(format)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if !cmd.IsSet("seed") {
				seed = time.Now().UnixNano()
			}

			ds, err := vecio.Generate(int(length), uint64(seed))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			paths, err := vecio.WriteDataset(outDir, f, ds)
			if err != nil {
				return fmt.Errorf("write dataset: %w", err)
			}
			log.Info("dataset written", "dir", outDir, "length", length, "seed", seed, "format", string(f))
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}
