package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/logger"
	"github.com/samcharles93/vecstream/internal/pipeline"
	"github.com/samcharles93/vecstream/internal/vecio"
	"github.com/samcharles93/vecstream/internal/verify"
)

// runReport is written by --report.
type runReport struct {
	Device   string          `json:"device"`
	Inputs   []string        `json:"inputs"`
	Output   string          `json:"output,omitempty"`
	Length   int             `json:"length"`
	Config   pipeline.Config `json:"config"`
	Stats    pipeline.Stats  `json:"stats"`
	Timings  timings         `json:"timings_ms"`
	Verify   *verify.Report  `json:"verify,omitempty"`
	Expected string          `json:"expected,omitempty"`
}

type timings struct {
	Read    float64 `json:"read"`
	Setup   float64 `json:"setup"`
	Compute float64 `json:"compute"`
	Write   float64 `json:"write,omitempty"`
	Verify  float64 `json:"verify,omitempty"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func runCmd() *cli.Command {
	var (
		outputPath   string
		expectedPath string
		datasetDir   string
		format       string
		tolerance    float64
		reportPath   string
	)

	return &cli.Command{
		Name:      "run",
		Usage:     "Add two vectors through the stream pipeline",
		ArgsUsage: "[input0 input1]",
		Flags: append(append(pipelineFlags(), deviceFlags()...),
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "input vector file (given twice)",
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the sum to this file (.raw, .json or .bin)",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "expected",
				Aliases:     []string{"e"},
				Usage:       "compare the sum against this file",
				Destination: &expectedPath,
			},
			&cli.StringFlag{
				Name:        "dataset",
				Aliases:     []string{"d"},
				Usage:       "directory written by gen; supplies inputs and expected output",
				Destination: &datasetDir,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "file format of --dataset (raw, json, bin)",
				Value:       string(vecio.Text),
				Destination: &format,
			},
			&cli.Float64Flag{
				Name:        "tolerance",
				Usage:       "largest accepted absolute difference (0 = bit exact)",
				Destination: &tolerance,
			},
			&cli.StringFlag{
				Name:        "report",
				Usage:       "write a JSON run report to this path",
				Destination: &reportPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDeviceConfig(cmd, fileConfig)
			applyPipelineConfig(cmd, fileConfig)
			if fileConfig.Tolerance != nil && !cmd.IsSet("tolerance") {
				tolerance = *fileConfig.Tolerance
			}

			inputs := append(cmd.StringSlice("input"), cmd.Args().Slice()...)
			in, err := resolveInputs(inputs, datasetDir, format, expectedPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			report := runReport{
				Inputs:   []string{in.in1, in.in2},
				Output:   outputPath,
				Expected: in.expected,
				Config:   pipelineConfig(),
			}

			start := time.Now()
			in1, in2, err := vecio.ReadPair(in.in1, in.in2)
			if err != nil {
				return fmt.Errorf("read inputs: %w", err)
			}
			report.Timings.Read = millis(time.Since(start))
			report.Length = len(in1)
			log.Info("inputs loaded", "length", len(in1), "elapsed", time.Since(start))

			start = time.Now()
			dev, err := openDevice(log)
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()
			p, err := pipeline.New(dev, report.Config, pipeline.WithLogger(log))
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()
			report.Device = dev.Name()
			report.Timings.Setup = millis(time.Since(start))

			start = time.Now()
			out, err := p.Add(in1, in2)
			if err != nil {
				return describeFailure(err)
			}
			report.Timings.Compute = millis(time.Since(start))
			report.Stats = p.Stats()

			if outputPath != "" {
				start = time.Now()
				if err := vecio.Write(outputPath, out); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				report.Timings.Write = millis(time.Since(start))
			}

			var verifyErr error
			if in.expected != "" {
				start = time.Now()
				want, err := vecio.Read(in.expected)
				if err != nil {
					return fmt.Errorf("read expected: %w", err)
				}
				r, cmpErr := verify.Compare(out, want, verify.Tolerance(tolerance))
				report.Verify = &r
				report.Timings.Verify = millis(time.Since(start))
				verifyErr = cmpErr
			}

			if reportPath != "" {
				if err := writeReport(reportPath, report); err != nil {
					return err
				}
			}

			printSummary(report)
			return verifyErr
		},
	}
}

type runInputs struct {
	in1, in2 string
	expected string
}

// resolveInputs takes two explicit files, or the files of a dataset
// directory. A dataset supplies its expected output unless -e is given and
// it is only used when present on disk.
func resolveInputs(inputs []string, datasetDir, format, expected string) (runInputs, error) {
	switch {
	case len(inputs) == 2:
		return runInputs{in1: inputs[0], in2: inputs[1], expected: expected}, nil
	case len(inputs) == 0 && datasetDir != "":
		f, err := vecio.ParseFormat(format)
		if err != nil {
			return runInputs{}, err
		}
		p1, p2, pe := vecio.DatasetPaths(datasetDir, f)
		if expected == "" {
			if _, err := os.Stat(pe); err == nil {
				expected = pe
			} else if !errors.Is(err, fs.ErrNotExist) {
				return runInputs{}, err
			}
		}
		return runInputs{in1: p1, in2: p2, expected: expected}, nil
	case len(inputs) == 0:
		return runInputs{}, errors.New("two input files or --dataset are required")
	default:
		return runInputs{}, fmt.Errorf("exactly two input files are required, got %d", len(inputs))
	}
}

// describeFailure adds the failing operation and source location to an
// accelerator error.
func describeFailure(err error) error {
	var devErr *device.Error
	if errors.As(err, &devErr) {
		loc := "unknown location"
		if devErr.File != "" {
			loc = fmt.Sprintf("%s:%d", devErr.File, devErr.Line)
		}
		return fmt.Errorf("accelerator failure: %s: %v (at %s)", devErr.Op, devErr.Err, loc)
	}
	return err
}

func writeReport(path string, r runReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printSummary(r runReport) {
	fmt.Printf("device:   %s\n", r.Device)
	fmt.Printf("length:   %d\n", r.Length)
	fmt.Printf("pipeline: %s\n", r.Config)
	fmt.Printf("stats:    %s\n", r.Stats)
	fmt.Printf("timing:   read %.3fms  setup %.3fms  compute %.3fms\n",
		r.Timings.Read, r.Timings.Setup, r.Timings.Compute)
	if r.Output != "" {
		fmt.Printf("output:   %s\n", r.Output)
	}
	if r.Verify != nil {
		fmt.Printf("verify:   %s\n", r.Verify)
	}
}
