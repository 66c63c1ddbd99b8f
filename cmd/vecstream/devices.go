package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vecstream/internal/backend"
	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/device/sim"
	"github.com/samcharles93/vecstream/internal/logger"
)

func devicesCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "devices",
		Usage: "List accelerator backends and whether they can be used",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			infos := backend.Describe()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			for _, info := range infos {
				status := "unavailable"
				if info.Available {
					status = "available"
				}
				fmt.Printf("%-6s %-12s %s\n", info.Name, status, info.Detail)
			}
			return nil
		},
	}
}

// openDevice opens the backend selected by --backend.
func openDevice(log logger.Logger) (device.Device, error) {
	dev, err := backend.Open(backendName, sim.WithWorkers(int(simWorkers)))
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", backendName, err)
	}
	log.Debug("device opened", "requested", backendName, "device", dev.Name())
	return dev, nil
}
