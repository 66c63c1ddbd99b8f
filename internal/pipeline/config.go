package pipeline

import (
	"errors"
	"fmt"

	"github.com/samcharles93/vecstream/internal/kernel"
)

const (
	DefaultStreamCount = 4
	DefaultSegmentSize = 128
	DefaultBlockSize   = 128
)

var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config fixes the shape of a pipeline for its whole lifetime.
type Config struct {
	StreamCount int `yaml:"stream_count" json:"stream_count"`
	SegmentSize int `yaml:"segment_size" json:"segment_size"`
	BlockSize   int `yaml:"block_size" json:"block_size"`
}

func DefaultConfig() Config {
	return Config{
		StreamCount: DefaultStreamCount,
		SegmentSize: DefaultSegmentSize,
		BlockSize:   DefaultBlockSize,
	}
}

func (c Config) Validate() error {
	if c.StreamCount < 1 {
		return fmt.Errorf("%w: stream count must be > 0, got %d", ErrInvalidConfig, c.StreamCount)
	}
	if c.SegmentSize < 1 {
		return fmt.Errorf("%w: segment size must be > 0, got %d", ErrInvalidConfig, c.SegmentSize)
	}
	if c.BlockSize < 1 || c.BlockSize > kernel.MaxBlockSize {
		return fmt.Errorf("%w: block size must be in [1, %d], got %d", ErrInvalidConfig, kernel.MaxBlockSize, c.BlockSize)
	}
	return nil
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.StreamCount == 0 {
		c.StreamCount = d.StreamCount
	}
	if c.SegmentSize == 0 {
		c.SegmentSize = d.SegmentSize
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	return c
}

// Launch is the grid every segment's dispatch uses: sized against the
// segment capacity, with the segment length bounding the active units.
func (c Config) Launch() kernel.LaunchConfig {
	return kernel.NewLaunch(c.SegmentSize, c.BlockSize)
}

func (c Config) String() string {
	return fmt.Sprintf("streams=%d segment=%d block=%d", c.StreamCount, c.SegmentSize, c.BlockSize)
}
