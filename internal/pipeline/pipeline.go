// Package pipeline drives the segmented vector addition across a fixed pool
// of device streams, overlapping host-to-device copies, kernels and
// device-to-host copies of different segments.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/kernel"
	"github.com/samcharles93/vecstream/internal/logger"
	"github.com/samcharles93/vecstream/internal/plan"
)

var (
	ErrLengthMismatch = errors.New("input and output lengths differ")
	ErrClosed         = errors.New("pipeline closed")
)

type Option func(*Pipeline)

func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline owns StreamCount slots on one device. It is driven from a single
// goroutine; the device provides the concurrency.
type Pipeline struct {
	dev    device.Device
	cfg    Config
	launch kernel.LaunchConfig
	slots  []*Slot
	log    logger.Logger

	stats  Stats
	failed error
	closed bool
}

// New validates cfg and acquires every stream and buffer the pipeline will
// use. Nothing is allocated after New returns.
func New(dev device.Device, cfg Config, opts ...Option) (*Pipeline, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		dev:    dev,
		cfg:    cfg,
		launch: cfg.Launch(),
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.slots = make([]*Slot, 0, cfg.StreamCount)
	for i := 0; i < cfg.StreamCount; i++ {
		slot, err := p.newSlot(i)
		if slot != nil {
			p.slots = append(p.slots, slot)
		}
		if err != nil {
			if relErr := p.release(); relErr != nil {
				err = errors.Join(err, relErr)
			}
			return nil, fmt.Errorf("create slot %d: %w", i, err)
		}
	}

	p.log.Debug("pipeline ready", "device", dev.Name(), "config", cfg.String(), "launch", p.launch.String())
	return p, nil
}

// newSlot returns whatever it managed to acquire, even on error, so the
// caller can release it.
func (p *Pipeline) newSlot(index int) (*Slot, error) {
	stream, err := p.dev.NewStream()
	if err := device.Check(device.OpStreamCreate, -1, err); err != nil {
		return nil, err
	}
	slot := &Slot{index: index, stream: stream}
	for _, dst := range []*device.Buffer{&slot.in1, &slot.in2, &slot.out} {
		buf, err := p.dev.Alloc(p.cfg.SegmentSize)
		if err := device.Check(device.OpMalloc, -1, err); err != nil {
			return slot, err
		}
		*dst = buf
	}
	return slot, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) Device() device.Device { return p.dev }

func (p *Pipeline) Slots() int { return len(p.slots) }

// Stats returns the counters accumulated over every Enqueue.
func (p *Pipeline) Stats() Stats { return p.stats }

// Plan returns the segment plan for a vector of length n.
func (p *Pipeline) Plan(n int) (plan.Planner, error) {
	return plan.New(n, p.cfg.SegmentSize, p.cfg.StreamCount)
}

// Enqueue issues every round for out = in1 + in2 without waiting for the
// device. Within a round all copy-ins are queued first, then all kernels,
// then all copy-outs; zero-length segments are skipped. out is only valid
// after Synchronize returns nil. The first failure stops enqueueing and
// poisons the pipeline.
func (p *Pipeline) Enqueue(in1, in2, out []float32) error {
	if p.closed {
		return ErrClosed
	}
	if p.failed != nil {
		return p.failed
	}
	if len(in1) != len(in2) || len(in1) != len(out) {
		return fmt.Errorf("%w: in1=%d in2=%d out=%d", ErrLengthMismatch, len(in1), len(in2), len(out))
	}
	pl, err := p.Plan(len(in1))
	if err != nil {
		return err
	}
	if err := p.enqueue(pl, in1, in2, out); err != nil {
		p.failed = err
		return err
	}
	return nil
}

func (p *Pipeline) enqueue(pl plan.Planner, in1, in2, out []float32) error {
	trace := p.log.Enabled(slog.LevelDebug)
	for r, segs := range pl.Rounds() {
		if trace {
			p.log.Debug("round", "round", r, "offset", segs[0].Offset)
		}

		for k, seg := range segs {
			if trace {
				p.log.Debug("segment", "round", r, "stream", k, "offset", seg.Offset, "length", seg.Length)
			}
			if seg.Empty() {
				p.stats.SegmentsSkipped++
				continue
			}
			if err := p.slots[k].load(p.dev, seg, in1[seg.Offset:seg.End()], in2[seg.Offset:seg.End()]); err != nil {
				return err
			}
			p.stats.BytesToDevice += 2 * device.Bytes(seg.Length)
		}

		for k, seg := range segs {
			if seg.Empty() {
				continue
			}
			if err := p.slots[k].compute(p.dev, p.launch); err != nil {
				return err
			}
			p.stats.Kernels++
		}

		for k, seg := range segs {
			if seg.Empty() {
				continue
			}
			if err := p.slots[k].drain(p.dev, out[seg.Offset:seg.End()]); err != nil {
				return err
			}
			p.stats.BytesFromDevice += device.Bytes(seg.Length)
			p.stats.Segments++
			p.stats.Elements += int64(seg.Length)
		}
		p.stats.Rounds++
	}
	return nil
}

// Synchronize blocks until every slot's stream has drained and reports the
// failures any of them hit.
func (p *Pipeline) Synchronize() error {
	if p.closed {
		return ErrClosed
	}
	var errs []error
	for _, s := range p.slots {
		if err := device.Check(device.OpSynchronize, s.StreamID(), s.stream.Synchronize()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		if p.failed == nil {
			p.failed = err
		}
		return err
	}
	return nil
}

// Run enqueues the whole vector and waits for the result.
func (p *Pipeline) Run(in1, in2, out []float32) error {
	runID := uuid.NewString()
	log := p.log.With("run_id", runID, "length", len(in1))
	start := time.Now()
	before := p.stats

	if err := p.Enqueue(in1, in2, out); err != nil {
		log.Error("enqueue failed", "error", err)
		// drain what was queued so host slices are no longer referenced.
		_ = p.Synchronize()
		return err
	}
	if err := p.Synchronize(); err != nil {
		log.Error("synchronize failed", "error", err)
		return err
	}

	delta := p.stats.Sub(before)
	log.Info("pipeline run complete",
		"rounds", delta.Rounds,
		"segments", delta.Segments,
		"skipped", delta.SegmentsSkipped,
		"elapsed", time.Since(start),
	)
	return nil
}

// Add returns in1 + in2 in freshly allocated host memory.
func (p *Pipeline) Add(in1, in2 []float32) ([]float32, error) {
	if len(in1) != len(in2) {
		return nil, fmt.Errorf("%w: in1=%d in2=%d", ErrLengthMismatch, len(in1), len(in2))
	}
	out := make([]float32, len(in1))
	if err := p.Run(in1, in2, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close waits for outstanding work, then frees every buffer and destroys
// every stream. Calling Close again is a no-op.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	var errs []error
	// a failure already returned to the caller is not reported twice.
	alreadyFailed := p.failed != nil
	if err := p.Synchronize(); err != nil && !alreadyFailed {
		errs = append(errs, err)
	}
	if err := p.release(); err != nil {
		errs = append(errs, err)
	}
	p.closed = true
	p.log.Debug("pipeline closed", "stats", p.stats.String())
	return errors.Join(errs...)
}

func (p *Pipeline) release() error {
	var errs []error
	for _, s := range p.slots {
		if err := s.release(p.dev); err != nil {
			errs = append(errs, err)
		}
	}
	p.slots = nil
	return errors.Join(errs...)
}
