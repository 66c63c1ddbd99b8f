// Package sim is an in-process accelerator. Each stream is a goroutine
// draining an in-order queue, device buffers are fixed-size float32 slices,
// and a kernel dispatch fans its blocks out over a bounded set of workers.
package sim

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/kernel"
)

const Name = "sim"

// Stage selects when an injected fault fires.
type Stage int

const (
	// AtEnqueue fails the call itself.
	AtEnqueue Stage = iota
	// AtExecute lets the call succeed and fails the queued operation; the
	// stream reports it afterwards.
	AtExecute
)

type fault struct {
	op    device.Op
	nth   int
	stage Stage
	err   error
}

// Event is one entry of the device trace.
type Event struct {
	Stage  Stage
	Op     device.Op
	Stream int
	Elems  int
}

type Option func(*Device)

// WithWorkers bounds the goroutines a single dispatch may use.
func WithWorkers(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithFault fails the nth (1-based) call of op at the given stage with err.
func WithFault(op device.Op, nth int, stage Stage, err error) Option {
	return func(d *Device) {
		if err == nil {
			err = errors.New("injected fault")
		}
		d.faults = append(d.faults, fault{op: op, nth: nth, stage: stage, err: err})
	}
}

// WithTrace records every enqueue and execution in order.
func WithTrace() Option {
	return func(d *Device) {
		d.tracing = true
	}
}

type Device struct {
	workers int
	faults  []fault
	tracing bool

	mu      sync.Mutex
	nextID  int
	streams map[*Stream]struct{}
	buffers map[*Buffer]struct{}
	calls   map[device.Op]int
	trace   []Event
	closed  bool

	g errgroup.Group
}

func New(opts ...Option) *Device {
	d := &Device{
		workers: runtime.NumCPU(),
		streams: make(map[*Stream]struct{}),
		buffers: make(map[*Buffer]struct{}),
		calls:   make(map[device.Op]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Name() string {
	return Name
}

// Calls returns how many times op has been called on the device.
func (d *Device) Calls(op device.Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Trace returns a copy of the recorded events. Empty unless WithTrace was set.
func (d *Device) Trace() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.trace...)
}

// Live reports the streams and buffers not yet released.
func (d *Device) Live() (streams, buffers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams), len(d.buffers)
}

// call counts op and returns the fault registered for this call, if any.
func (d *Device) call(op device.Op, stream, elems int) (*fault, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrDestroyed
	}
	d.calls[op]++
	if d.tracing {
		d.trace = append(d.trace, Event{Stage: AtEnqueue, Op: op, Stream: stream, Elems: elems})
	}
	n := d.calls[op]
	for i := range d.faults {
		f := &d.faults[i]
		if f.op != op || f.nth != n {
			continue
		}
		if f.stage == AtEnqueue {
			return nil, f.err
		}
		return f, nil
	}
	return nil, nil
}

func (d *Device) record(ev Event) {
	if !d.tracing {
		return
	}
	d.mu.Lock()
	d.trace = append(d.trace, ev)
	d.mu.Unlock()
}

func (d *Device) NewStream() (device.Stream, error) {
	if _, err := d.call(device.OpStreamCreate, -1, 0); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newStream(d, d.nextID)
	d.nextID++
	d.streams[s] = struct{}{}
	d.g.Go(s.worker)
	return s, nil
}

func (d *Device) Alloc(elems int) (device.Buffer, error) {
	if elems <= 0 {
		return nil, fmt.Errorf("%w: device alloc size must be > 0", device.ErrInvalidValue)
	}
	if _, err := d.call(device.OpMalloc, -1, elems); err != nil {
		return nil, err
	}
	b := &Buffer{dev: d, data: make([]float32, elems)}
	d.mu.Lock()
	d.buffers[b] = struct{}{}
	d.mu.Unlock()
	return b, nil
}

func (d *Device) Free(b device.Buffer) error {
	if _, err := d.call(device.OpFree, -1, 0); err != nil {
		return err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if !buf.freed.CompareAndSwap(false, true) {
		return device.ErrDestroyed
	}
	d.mu.Lock()
	delete(d.buffers, buf)
	d.mu.Unlock()
	return nil
}

func (d *Device) MemcpyH2DAsync(dst device.Buffer, src []float32, s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	buf, err := d.buffer(dst)
	if err != nil {
		return err
	}
	if len(src) > buf.Len() {
		return fmt.Errorf("%w: copy of %d elements into buffer of %d", device.ErrOutOfRange, len(src), buf.Len())
	}
	f, err := d.call(device.OpMemcpyH2D, st.id, len(src))
	if err != nil {
		return err
	}
	return st.submit(device.OpMemcpyH2D, len(src), func() error {
		if err := f.fire(); err != nil {
			return err
		}
		if buf.freed.Load() {
			return device.ErrDestroyed
		}
		copy(buf.data, src)
		return nil
	})
}

func (d *Device) MemcpyD2HAsync(dst []float32, src device.Buffer, s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	buf, err := d.buffer(src)
	if err != nil {
		return err
	}
	if len(dst) > buf.Len() {
		return fmt.Errorf("%w: copy of %d elements from buffer of %d", device.ErrOutOfRange, len(dst), buf.Len())
	}
	f, err := d.call(device.OpMemcpyD2H, st.id, len(dst))
	if err != nil {
		return err
	}
	return st.submit(device.OpMemcpyD2H, len(dst), func() error {
		if err := f.fire(); err != nil {
			return err
		}
		if buf.freed.Load() {
			return device.ErrDestroyed
		}
		copy(dst, buf.data)
		return nil
	})
}

func (d *Device) LaunchVecAdd(l kernel.LaunchConfig, in1, in2, out device.Buffer, n int, s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return fmt.Errorf("%w: %v", device.ErrInvalidValue, err)
	}
	bufs := make([]*Buffer, 0, 3)
	for _, b := range []device.Buffer{in1, in2, out} {
		buf, err := d.buffer(b)
		if err != nil {
			return err
		}
		if n < 0 || n > buf.Len() {
			return fmt.Errorf("%w: length %d for buffer of %d", device.ErrOutOfRange, n, buf.Len())
		}
		bufs = append(bufs, buf)
	}
	f, err := d.call(device.OpLaunch, st.id, n)
	if err != nil {
		return err
	}
	a, b, c := bufs[0], bufs[1], bufs[2]
	return st.submit(device.OpLaunch, n, func() error {
		if err := f.fire(); err != nil {
			return err
		}
		if a.freed.Load() || b.freed.Load() || c.freed.Load() {
			return device.ErrDestroyed
		}
		return d.dispatch(l, a.data, b.data, c.data, n)
	})
}

// dispatch splits the grid into contiguous block ranges, one per worker.
// Units inside a block run sequentially.
func (d *Device) dispatch(l kernel.LaunchConfig, in1, in2, out []float32, n int) error {
	if l.Grid == 0 {
		return nil
	}
	workers := min(d.workers, l.Grid)
	per := (l.Grid + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * per
		end := min(start+per, l.Grid)
		if start >= end {
			break
		}
		g.Go(func() error {
			for blk := start; blk < end; blk++ {
				kernel.RunBlock(l, blk, in1, in2, out, n)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Device) Synchronize() error {
	d.mu.Lock()
	streams := make([]*Stream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains and destroys every stream, releases every buffer and waits
// for the stream workers to exit.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	streams := make([]*Stream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil {
			errs = append(errs, err)
		}
		s.shutdown()
	}

	d.mu.Lock()
	d.closed = true
	for b := range d.buffers {
		b.freed.Store(true)
	}
	clear(d.buffers)
	clear(d.streams)
	d.mu.Unlock()

	if err := d.g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Device) stream(s device.Stream) (*Stream, error) {
	st, ok := s.(*Stream)
	if !ok || st == nil || st.dev != d {
		return nil, fmt.Errorf("%w: stream %v", device.ErrInvalidHandle, s)
	}
	return st, nil
}

func (d *Device) buffer(b device.Buffer) (*Buffer, error) {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil || buf.dev != d {
		return nil, fmt.Errorf("%w: buffer %T", device.ErrInvalidHandle, b)
	}
	if buf.freed.Load() {
		return nil, device.ErrDestroyed
	}
	return buf, nil
}

func (f *fault) fire() error {
	if f == nil {
		return nil
	}
	return f.err
}
