package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/vecstream/internal/backend"
	"github.com/samcharles93/vecstream/internal/plan"
)

func (s *Server) handlePlan(c *echo.Context) error {
	if c.QueryParam("length") == "" {
		return writeBadRequest(c, newInvalidRequest("length", "is required"))
	}
	length, err := queryInt(c, "length", 0)
	if err != nil {
		return writeBadRequest(c, err)
	}
	if length > s.opts.MaxLength {
		return writeBadRequest(c, newInvalidRequest("length", "%d exceeds the limit of %d", length, s.opts.MaxLength))
	}
	segmentSize, err := queryInt(c, "segment_size", s.opts.Defaults.SegmentSize)
	if err != nil {
		return writeBadRequest(c, err)
	}
	streamCount, err := queryInt(c, "stream_count", s.opts.Defaults.StreamCount)
	if err != nil {
		return writeBadRequest(c, err)
	}

	if err := s.checkShape(segmentSize, streamCount, ""); err != nil {
		return writeBadRequest(c, err)
	}

	pl, err := plan.New(length, segmentSize, streamCount)
	if err != nil {
		return writeBadRequest(c, err)
	}
	rounds := make([][]plan.Segment, 0, pl.NumRounds())
	for _, segs := range pl.Rounds() {
		rounds = append(rounds, segs)
	}
	return c.JSON(http.StatusOK, PlanResponse{
		Object:        "plan",
		InputLength:   pl.InputLength(),
		SegmentSize:   pl.SegmentSize(),
		StreamCount:   pl.StreamCount(),
		NumRounds:     pl.NumRounds(),
		EmptySegments: pl.EmptySegments(),
		Rounds:        rounds,
	})
}

func (s *Server) handleDevice(c *echo.Context) error {
	name := ""
	if s.dev != nil {
		name = s.dev.Name()
	}
	return c.JSON(http.StatusOK, DeviceResponse{
		Object:    "device",
		Name:      name,
		Available: backend.Available(),
		Backends:  backend.Describe(),
		Defaults:  s.opts.Defaults,
	})
}

func (s *Server) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
