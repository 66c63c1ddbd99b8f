// Package api serves the streamed vector addition over HTTP.
package api

import (
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/logger"
	"github.com/samcharles93/vecstream/internal/pipeline"
)

const (
	DefaultMaxLength      = 1 << 24
	DefaultMaxBodyBytes   = 512 << 20
	DefaultMaxStreams     = 64
	DefaultMaxSegmentSize = 1 << 20
)

type Options struct {
	// Defaults is the pipeline shape used when a request does not override it.
	Defaults pipeline.Config
	// MaxLength caps the vector length a request may submit.
	MaxLength    int
	MaxBodyBytes int64
	// MaxStreams and MaxSegmentSize cap the pipeline shape a request may
	// ask for; together they bound the device memory one request allocates.
	MaxStreams     int
	MaxSegmentSize int

	StoreCapacity int
	Logger        logger.Logger
}

func (o Options) withDefaults() Options {
	o.Defaults = o.Defaults.WithDefaults()
	if o.MaxLength <= 0 {
		o.MaxLength = DefaultMaxLength
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.MaxStreams <= 0 {
		o.MaxStreams = max(DefaultMaxStreams, o.Defaults.StreamCount)
	}
	if o.MaxSegmentSize <= 0 {
		o.MaxSegmentSize = max(DefaultMaxSegmentSize, o.Defaults.SegmentSize)
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}

// Server runs each request on its own pipeline over a shared device.
type Server struct {
	dev   device.Device
	opts  Options
	store *ResultStore
	log   logger.Logger
	clock func() time.Time
}

func NewServer(dev device.Device, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		dev:   dev,
		opts:  opts,
		store: NewResultStore(opts.StoreCapacity),
		log:   opts.Logger,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/vecadd", s.handleVecAdd)
	e.GET("/v1/vecadd/:id", s.handleGetVecAdd)
	e.DELETE("/v1/vecadd/:id", s.handleDeleteVecAdd)
	e.GET("/v1/plan", s.handlePlan)
	e.GET("/v1/device", s.handleDevice)
	e.GET("/healthz", s.handleHealthz)
}
