package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/pipeline"
)

func (s *Server) handleVecAdd(c *echo.Context) error {
	if s.dev == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "device not configured", "", "")
	}
	req, err := decodeJSON[VecAddRequest](c.Request().Body, s.opts.MaxBodyBytes)
	if err != nil {
		return writeBadRequest(c, err)
	}
	cfg, err := s.validate(&req)
	if err != nil {
		return writeBadRequest(c, err)
	}

	id := newResultID()
	log := s.log.With("id", id)
	p, err := pipeline.New(s.dev, cfg, pipeline.WithLogger(log))
	if err != nil {
		log.Error("pipeline setup failed", "error", err)
		return writeServerError(c, err, failureCode(err))
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("pipeline close failed", "error", err)
		}
	}()

	start := s.clock()
	out, err := p.Add(req.In1, req.In2)
	if err != nil {
		return writeServerError(c, err, failureCode(err))
	}
	elapsed := s.clock().Sub(start)

	resp := &VecAddResponse{
		ID:        id,
		Object:    "vecadd",
		CreatedAt: start.Unix(),
		Device:    s.dev.Name(),
		Length:    len(out),
		Output:    out,
		Stats:     p.Stats(),
		Config:    cfg,
		ElapsedMS: float64(elapsed) / float64(time.Millisecond),
	}
	if req.Store == nil || *req.Store {
		s.store.Put(resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// validate checks the request and returns the pipeline config it runs with.
func (s *Server) validate(req *VecAddRequest) (pipeline.Config, error) {
	if req.In1 == nil {
		return pipeline.Config{}, newInvalidRequest("in1", "is required")
	}
	if req.In2 == nil {
		return pipeline.Config{}, newInvalidRequest("in2", "is required")
	}
	if len(req.In1) != len(req.In2) {
		return pipeline.Config{}, newInvalidRequest("in2", "length %d does not match in1 length %d", len(req.In2), len(req.In1))
	}
	if len(req.In1) > s.opts.MaxLength {
		return pipeline.Config{}, newInvalidRequest("in1", "length %d exceeds the limit of %d", len(req.In1), s.opts.MaxLength)
	}

	cfg := s.opts.Defaults
	if o := req.Config; o != nil {
		if o.StreamCount != nil {
			cfg.StreamCount = *o.StreamCount
		}
		if o.SegmentSize != nil {
			cfg.SegmentSize = *o.SegmentSize
		}
		if o.BlockSize != nil {
			cfg.BlockSize = *o.BlockSize
		}
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, newInvalidRequest("config", "%v", err)
	}
	if err := s.checkShape(cfg.SegmentSize, cfg.StreamCount, "config"); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// checkShape rejects pipeline shapes above the server limits. param names
// the offending request field; when empty the query parameter name is used.
func (s *Server) checkShape(segmentSize, streamCount int, param string) error {
	field := func(name string) string {
		if param == "" {
			return name
		}
		return param
	}
	if streamCount > s.opts.MaxStreams {
		return newInvalidRequest(field("stream_count"), "stream_count %d exceeds the limit of %d", streamCount, s.opts.MaxStreams)
	}
	if segmentSize > s.opts.MaxSegmentSize {
		return newInvalidRequest(field("segment_size"), "segment_size %d exceeds the limit of %d", segmentSize, s.opts.MaxSegmentSize)
	}
	return nil
}

func failureCode(err error) string {
	var devErr *device.Error
	if errors.As(err, &devErr) {
		return "accelerator_error"
	}
	return ""
}

func (s *Server) handleGetVecAdd(c *echo.Context) error {
	resp, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "result not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteVecAdd(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "result not found")
	}
	return c.JSON(http.StatusOK, DeleteResp{
		ID:      id,
		Object:  "vecadd",
		Deleted: true,
	})
}
