package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vecstream/internal/plan"
)

type planOutput struct {
	InputLength   int              `json:"input_length"`
	SegmentSize   int              `json:"segment_size"`
	StreamCount   int              `json:"stream_count"`
	NumRounds     int              `json:"num_rounds"`
	EmptySegments int              `json:"empty_segments"`
	Rounds        [][]plan.Segment `json:"rounds"`
}

func planCmd() *cli.Command {
	var (
		length int64
		asJSON bool
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Print the segment plan for a vector length",
		Flags: append(pipelineFlags(),
			&cli.Int64Flag{
				Name:        "length",
				Aliases:     []string{"n"},
				Usage:       "vector length",
				Required:    true,
				Destination: &length,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyPipelineConfig(cmd, fileConfig)
			pl, err := plan.New(int(length), int(segmentSize), int(streamCount))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			out := planOutput{
				InputLength:   pl.InputLength(),
				SegmentSize:   pl.SegmentSize(),
				StreamCount:   pl.StreamCount(),
				NumRounds:     pl.NumRounds(),
				EmptySegments: pl.EmptySegments(),
				Rounds:        make([][]plan.Segment, 0, pl.NumRounds()),
			}
			for _, segs := range pl.Rounds() {
				out.Rounds = append(out.Rounds, segs)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Print(formatPlan(out))
			return nil
		},
	}
}

func formatPlan(p planOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "length %d, segment %d, streams %d: %d round(s), %d empty segment(s)\n",
		p.InputLength, p.SegmentSize, p.StreamCount, p.NumRounds, p.EmptySegments)
	for r, segs := range p.Rounds {
		fmt.Fprintf(&b, "round %d:", r)
		for _, seg := range segs {
			if seg.Empty() {
				fmt.Fprintf(&b, " s%d=empty", seg.Slot)
				continue
			}
			fmt.Fprintf(&b, " s%d=[%d,%d)", seg.Slot, seg.Offset, seg.End())
		}
		b.WriteByte('\n')
	}
	return b.String()
}
