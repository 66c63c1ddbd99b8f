//go:build cuda

package cuda

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/device/cuda/native"
)

// staged is pinned memory referenced by queued copies. dst is set for
// device-to-host copies that still have to reach the caller's slice.
type staged struct {
	buf native.HostBuffer
	dst []float32
}

type Stream struct {
	dev    *Device
	id     int
	handle native.Stream

	mu        sync.Mutex
	held      []staged
	destroyed bool
}

func (s *Stream) ID() int {
	return s.id
}

func (s *Stream) String() string {
	return fmt.Sprintf("cuda stream %d", s.id)
}

func (s *Stream) hold(buf native.HostBuffer, dst []float32) {
	s.mu.Lock()
	s.held = append(s.held, staged{buf: buf, dst: dst})
	s.mu.Unlock()
}

// Synchronize waits for the stream, then delivers device-to-host results
// and returns the staging memory to the pool. Results are not delivered if
// the stream failed.
func (s *Stream) Synchronize() error {
	err := s.handle.Synchronize()

	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	for _, h := range held {
		if err == nil && h.dst != nil {
			copy(h.dst, h.buf.Float32s(len(h.dst)))
		}
		s.dev.putPinned(h.buf)
	}
	return err
}

// Destroy drains the stream and releases it. A failure on the stream was
// already reported by Synchronize or by the enqueue that observed it.
func (s *Stream) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return device.ErrDestroyed
	}
	s.destroyed = true
	s.mu.Unlock()

	syncErr := s.Synchronize()
	err := s.handle.Destroy()

	s.dev.mu.Lock()
	delete(s.dev.streams, s)
	s.dev.mu.Unlock()

	if err != nil {
		return errors.Join(err, syncErr)
	}
	return nil
}
