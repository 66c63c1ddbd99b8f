package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/vecstream/internal/device"
)

// Buffer is a fixed-capacity region of simulated device memory.
type Buffer struct {
	dev   *Device
	data  []float32
	freed atomic.Bool
}

func (b *Buffer) Len() int {
	return len(b.data)
}

type task struct {
	op    device.Op
	elems int
	run   func() error
}

// Stream executes its tasks one at a time in submission order. The queue is
// unbounded so submit never blocks the host.
type Stream struct {
	dev *Device
	id  int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []task
	pending   int
	err       error
	destroyed bool
	stopped   bool
}

func newStream(d *Device, id int) *Stream {
	s := &Stream{dev: d, id: id}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Stream) ID() int {
	return s.id
}

func (s *Stream) String() string {
	return fmt.Sprintf("sim stream %d", s.id)
}

// submit queues fn. Once a task on the stream has failed, the failure is
// returned instead and nothing further is queued.
func (s *Stream) submit(op device.Op, elems int, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return device.ErrDestroyed
	}
	if s.err != nil {
		return s.err
	}
	s.queue = append(s.queue, task{op: op, elems: elems, run: fn})
	s.pending++
	s.cond.Broadcast()
	return nil
}

func (s *Stream) worker() error {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		t := s.queue[0]
		s.queue[0] = task{}
		s.queue = s.queue[1:]
		skip := s.err != nil
		s.mu.Unlock()

		var err error
		if !skip {
			err = runTask(t)
			s.dev.record(Event{Stage: AtExecute, Op: t.op, Stream: s.id, Elems: t.elems})
		}

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = &device.Error{Op: t.op, Stream: s.id, Err: err}
		}
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func runTask(t task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = executionError(rec)
		}
	}()
	return t.run()
}

func executionError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("sim execution failed: %w", recErr)
	}
	return fmt.Errorf("sim execution failed: %v", rec)
}

// Synchronize blocks until every queued task has run and returns the
// stream's first failure, if any.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	return s.err
}

// Destroy drains the stream and stops its worker.
func (s *Stream) Destroy() error {
	if _, err := s.dev.call(device.OpStreamDestroy, s.id, 0); err != nil {
		return err
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return device.ErrDestroyed
	}
	s.destroyed = true
	s.mu.Unlock()

	// a failure on the stream was already reported by Synchronize or by
	// the enqueue that observed it.
	_ = s.Synchronize()
	s.shutdown()

	s.dev.mu.Lock()
	delete(s.dev.streams, s)
	s.dev.mu.Unlock()
	return nil
}

func (s *Stream) shutdown() {
	s.mu.Lock()
	s.destroyed = true
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
