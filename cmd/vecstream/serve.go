package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vecstream/internal/api"
	"github.com/samcharles93/vecstream/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		maxLength     int64
		storeCapacity int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the vector addition REST API",
		Flags: append(append(pipelineFlags(), deviceFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-length",
				Usage:       "largest vector a request may submit",
				Value:       api.DefaultMaxLength,
				Destination: &maxLength,
			},
			&cli.Int64Flag{
				Name:        "store-capacity",
				Usage:       "number of results kept for GET /v1/vecadd/:id",
				Value:       api.DefaultStoreCapacity,
				Destination: &storeCapacity,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDeviceConfig(cmd, fileConfig)
			applyPipelineConfig(cmd, fileConfig)
			applyServeConfig(cmd, fileConfig, &addr)

			cfg := pipelineConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			dev, err := openDevice(log)
			if err != nil {
				return err
			}
			defer func() {
				if err := dev.Close(); err != nil {
					log.Warn("device close failed", "error", err)
				}
			}()

			server := api.NewServer(dev, api.Options{
				Defaults:      cfg,
				MaxLength:     int(maxLength),
				StoreCapacity: int(storeCapacity),
				Logger:        log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "device", dev.Name(), "config", cfg.String())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
