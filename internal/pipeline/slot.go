package pipeline

import (
	"errors"
	"fmt"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/kernel"
	"github.com/samcharles93/vecstream/internal/plan"
)

var ErrSlotOrder = errors.New("slot used out of order")

type phase int

const (
	phaseIdle phase = iota
	phaseLoaded
	phaseComputed
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseLoaded:
		return "loaded"
	case phaseComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// Slot is one stream plus the buffer triple it owns for the pipeline's
// lifetime. Each round a slot is loaded, computed and drained, in that
// order; the stream's in-order execution makes the next round's load safe.
type Slot struct {
	index  int
	stream device.Stream
	in1    device.Buffer
	in2    device.Buffer
	out    device.Buffer

	phase phase
	seg   plan.Segment
}

func (s *Slot) Index() int { return s.index }

func (s *Slot) StreamID() int { return s.stream.ID() }

func (s *Slot) expect(want phase, next string) error {
	if s.phase != want {
		return fmt.Errorf("%w: slot %d is %s, cannot %s", ErrSlotOrder, s.index, s.phase, next)
	}
	return nil
}

// load queues the host-to-device copies of both input ranges of seg.
func (s *Slot) load(dev device.Device, seg plan.Segment, h1, h2 []float32) error {
	if err := s.expect(phaseIdle, "load"); err != nil {
		return err
	}
	if seg.Length > s.in1.Len() {
		return fmt.Errorf("%w: segment of %d exceeds slot capacity %d", device.ErrOutOfRange, seg.Length, s.in1.Len())
	}
	id := s.stream.ID()
	if err := device.Check(device.OpMemcpyH2D, id, dev.MemcpyH2DAsync(s.in1, h1, s.stream)); err != nil {
		return err
	}
	if err := device.Check(device.OpMemcpyH2D, id, dev.MemcpyH2DAsync(s.in2, h2, s.stream)); err != nil {
		return err
	}
	s.seg = seg
	s.phase = phaseLoaded
	return nil
}

// compute queues the kernel over the loaded segment's length.
func (s *Slot) compute(dev device.Device, l kernel.LaunchConfig) error {
	if err := s.expect(phaseLoaded, "compute"); err != nil {
		return err
	}
	err := dev.LaunchVecAdd(l, s.in1, s.in2, s.out, s.seg.Length, s.stream)
	if err := device.Check(device.OpLaunch, s.stream.ID(), err); err != nil {
		return err
	}
	s.phase = phaseComputed
	return nil
}

// drain queues the device-to-host copy of the result into dst and returns
// the slot to idle.
func (s *Slot) drain(dev device.Device, dst []float32) error {
	if err := s.expect(phaseComputed, "drain"); err != nil {
		return err
	}
	if len(dst) != s.seg.Length {
		return fmt.Errorf("%w: drain of %d elements for segment of %d", device.ErrOutOfRange, len(dst), s.seg.Length)
	}
	err := dev.MemcpyD2HAsync(dst, s.out, s.stream)
	if err := device.Check(device.OpMemcpyD2H, s.stream.ID(), err); err != nil {
		return err
	}
	s.phase = phaseIdle
	return nil
}

// release frees the slot's buffers and destroys its stream. Nil handles
// from a partially built slot are skipped.
func (s *Slot) release(dev device.Device) error {
	var errs []error
	for _, b := range []device.Buffer{s.in1, s.in2, s.out} {
		if b == nil {
			continue
		}
		if err := dev.Free(b); err != nil {
			errs = append(errs, device.Check(device.OpFree, -1, err))
		}
	}
	if s.stream != nil {
		if err := s.stream.Destroy(); err != nil {
			errs = append(errs, device.Check(device.OpStreamDestroy, s.stream.ID(), err))
		}
	}
	s.in1, s.in2, s.out, s.stream = nil, nil, nil, nil
	s.phase = phaseIdle
	return errors.Join(errs...)
}
