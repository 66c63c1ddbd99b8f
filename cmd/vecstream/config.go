package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/vecstream/internal/pipeline"
)

// Config represents the vecstream configuration file
// (~/.config/vecstream/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// Device
	Backend    string `yaml:"backend"`
	SimWorkers *int64 `yaml:"sim_workers"`

	// Pipeline shape
	StreamCount *int64 `yaml:"stream_count"`
	SegmentSize *int64 `yaml:"segment_size"`
	BlockSize   *int64 `yaml:"block_size"`

	// Verification
	Tolerance *float64 `yaml:"tolerance"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vecstream", "config.yaml")
}

// LoadConfig reads the config file. An explicit path must exist and parse;
// the default path is optional and a zero Config is returned when it is
// missing.
func LoadConfig(explicit string) (Config, error) {
	path := explicit
	if path == "" {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if explicit == "" && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the logging flags
// when they were not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyDeviceConfig applies config file defaults to the backend flags.
func applyDeviceConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.SimWorkers != nil && !c.IsSet("sim-workers") {
		simWorkers = *cfg.SimWorkers
	}
}

// applyPipelineConfig applies config file defaults to the pipeline shape
// flags.
func applyPipelineConfig(c *cli.Command, cfg Config) {
	if cfg.StreamCount != nil && !c.IsSet("streams") {
		streamCount = *cfg.StreamCount
	}
	if cfg.SegmentSize != nil && !c.IsSet("segment-size") {
		segmentSize = *cfg.SegmentSize
	}
	if cfg.BlockSize != nil && !c.IsSet("block-size") {
		blockSize = *cfg.BlockSize
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		StreamCount: int(streamCount),
		SegmentSize: int(segmentSize),
		BlockSize:   int(blockSize),
	}
}
