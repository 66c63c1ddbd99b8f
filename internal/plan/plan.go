// Package plan splits a vector into the per-stream segments processed by the
// pipeline, one round of streamCount segments at a time.
package plan

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

var ErrInvalidPlan = errors.New("invalid plan")

// Segment is the contiguous range [Offset, Offset+Length) handled by one
// stream slot in one round. Zero-length segments appear only at the tail
// and carry their arithmetic offset, which may lie past the vector end.
type Segment struct {
	Round  int `json:"round"`
	Slot   int `json:"slot"`
	Offset int `json:"offset"`
	Length int `json:"length"`
}

func (s Segment) Empty() bool {
	return s.Length == 0
}

func (s Segment) End() int {
	return s.Offset + s.Length
}

func (s Segment) String() string {
	return fmt.Sprintf("r%d/s%d[%d:+%d]", s.Round, s.Slot, s.Offset, s.Length)
}

// Planner holds the three parameters a plan is derived from. It has no other
// state, so every iteration recomputes the same sequence.
type Planner struct {
	inputLength int
	segmentSize int
	streamCount int
}

func New(inputLength, segmentSize, streamCount int) (Planner, error) {
	if inputLength < 0 {
		return Planner{}, fmt.Errorf("%w: input length must be >= 0, got %d", ErrInvalidPlan, inputLength)
	}
	if segmentSize < 1 {
		return Planner{}, fmt.Errorf("%w: segment size must be > 0, got %d", ErrInvalidPlan, segmentSize)
	}
	if streamCount < 1 {
		return Planner{}, fmt.Errorf("%w: stream count must be > 0, got %d", ErrInvalidPlan, streamCount)
	}
	// every offset is below inputLength+segmentSize*streamCount, which must fit in an int.
	if segmentSize > math.MaxInt/streamCount || segmentSize*streamCount > math.MaxInt-inputLength {
		return Planner{}, fmt.Errorf("%w: %d segments of %d elements overflow the offset range for length %d",
			ErrInvalidPlan, streamCount, segmentSize, inputLength)
	}
	return Planner{
		inputLength: inputLength,
		segmentSize: segmentSize,
		streamCount: streamCount,
	}, nil
}

func (p Planner) InputLength() int { return p.inputLength }
func (p Planner) SegmentSize() int { return p.segmentSize }
func (p Planner) StreamCount() int { return p.streamCount }

// RoundSpan is the number of elements one full round covers.
func (p Planner) RoundSpan() int {
	return p.segmentSize * p.streamCount
}

func (p Planner) NumRounds() int {
	if p.inputLength == 0 {
		return 0
	}
	span := p.RoundSpan()
	return (p.inputLength + span - 1) / span
}

// Segment returns slot k of round r.
func (p Planner) Segment(r, k int) Segment {
	offset := r*p.RoundSpan() + k*p.segmentSize
	return Segment{
		Round:  r,
		Slot:   k,
		Offset: offset,
		Length: max(min(p.segmentSize, p.inputLength-offset), 0),
	}
}

// Round returns the streamCount segments of round r.
func (p Planner) Round(r int) []Segment {
	segs := make([]Segment, p.streamCount)
	for k := range segs {
		segs[k] = p.Segment(r, k)
	}
	return segs
}

// Rounds yields each round index with its segments.
func (p Planner) Rounds() iter.Seq2[int, []Segment] {
	return func(yield func(int, []Segment) bool) {
		n := p.NumRounds()
		for r := 0; r < n; r++ {
			if !yield(r, p.Round(r)) {
				return
			}
		}
	}
}

// Segments yields every segment in round-major order, zero-length ones
// included.
func (p Planner) Segments() iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		n := p.NumRounds()
		for r := 0; r < n; r++ {
			for k := 0; k < p.streamCount; k++ {
				if !yield(p.Segment(r, k)) {
					return
				}
			}
		}
	}
}

// Covered sums the lengths of all segments.
func (p Planner) Covered() int {
	total := 0
	for s := range p.Segments() {
		total += s.Length
	}
	return total
}

// EmptySegments counts the zero-length segments of the plan.
func (p Planner) EmptySegments() int {
	n := 0
	for s := range p.Segments() {
		if s.Empty() {
			n++
		}
	}
	return n
}
