package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing default file is not an error", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Backend != "" || cfg.StreamCount != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("default file is read from the user config dir", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		writeFile(t, filepath.Join(dir, "vecstream", "config.yaml"), "backend: sim\nstream_count: 8\n")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Backend != "sim" {
			t.Fatalf("unexpected backend: %q", cfg.Backend)
		}
		if cfg.StreamCount == nil || *cfg.StreamCount != 8 {
			t.Fatalf("unexpected stream count: %v", cfg.StreamCount)
		}
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatalf("expected error for missing explicit config")
		}
	})

	t.Run("explicit file is parsed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vs.yaml")
		writeFile(t, path, `
segment_size: 256
block_size: 64
tolerance: 0.001
log_level: debug
log_format: json
server_address: 0.0.0.0:9000
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.SegmentSize == nil || *cfg.SegmentSize != 256 {
			t.Fatalf("unexpected segment size: %v", cfg.SegmentSize)
		}
		if cfg.BlockSize == nil || *cfg.BlockSize != 64 {
			t.Fatalf("unexpected block size: %v", cfg.BlockSize)
		}
		if cfg.Tolerance == nil || *cfg.Tolerance != 0.001 {
			t.Fatalf("unexpected tolerance: %v", cfg.Tolerance)
		}
		if cfg.StreamCount != nil {
			t.Fatalf("stream count should be unset, got %d", *cfg.StreamCount)
		}
		if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		writeFile(t, path, "stream_count: [1, 2\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}

func TestApplyPipelineConfigFlagWins(t *testing.T) {
	streams, segment := int64(16), int64(512)
	cfg := Config{StreamCount: &streams, SegmentSize: &segment}

	cmd := &cli.Command{
		Name:  "t",
		Flags: pipelineFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyPipelineConfig(c, cfg)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"t", "--streams", "2"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := pipelineConfig()
	if got.StreamCount != 2 {
		t.Fatalf("explicit flag should win: stream count %d", got.StreamCount)
	}
	if got.SegmentSize != 512 {
		t.Fatalf("config should fill unset flag: segment size %d", got.SegmentSize)
	}
	if got.BlockSize != 128 {
		t.Fatalf("flag default expected for block size, got %d", got.BlockSize)
	}
}
