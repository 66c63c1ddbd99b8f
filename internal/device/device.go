// Package device defines the accelerator API the pipeline drives: in-order
// streams, fixed-size device buffers, asynchronous copies and the vector
// addition dispatch.
package device

import "github.com/samcharles93/vecstream/internal/kernel"

// Device is one accelerator. Every enqueue method returns as soon as the
// operation is queued on the stream; errors from the operation itself are
// reported by the next call on that stream or by Synchronize.
type Device interface {
	Name() string

	NewStream() (Stream, error)

	// Alloc returns a buffer of elems float32 values. Buffers never grow.
	Alloc(elems int) (Buffer, error)
	Free(b Buffer) error

	// MemcpyH2DAsync copies len(src) elements into the front of dst.
	MemcpyH2DAsync(dst Buffer, src []float32, s Stream) error
	// MemcpyD2HAsync copies len(dst) elements from the front of src. dst may
	// be written at any point up to the stream's Synchronize and must not be
	// read before it returns nil; a back-end may deliver the data only then.
	MemcpyD2HAsync(dst []float32, src Buffer, s Stream) error

	// LaunchVecAdd dispatches out[i] = in1[i] + in2[i] for i in [0, n).
	LaunchVecAdd(l kernel.LaunchConfig, in1, in2, out Buffer, n int, s Stream) error

	// Synchronize waits for every stream of the device to drain.
	Synchronize() error
	Close() error
}

// Stream is an in-order queue of device operations.
type Stream interface {
	ID() int
	Synchronize() error
	Destroy() error
}

// Buffer is device memory owned by one Device.
type Buffer interface {
	Len() int
}

// Bytes is the transfer size of n float32 elements.
func Bytes(n int) int64 {
	return int64(n) * 4
}
