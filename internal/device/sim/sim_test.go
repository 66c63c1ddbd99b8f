package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/kernel"
)

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := New(opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func allocOrFail(t *testing.T, d *Device, n int) device.Buffer {
	t.Helper()
	b, err := d.Alloc(n)
	require.NoError(t, err)
	return b
}

func TestRoundTripOnStream(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	s, err := d.NewStream()
	require.NoError(t, err)

	in1 := []float32{1, 2, 3, 4, 5}
	in2 := []float32{10, 20, 30, 40, 50}
	out := make([]float32, 5)

	a := allocOrFail(t, d, 8)
	b := allocOrFail(t, d, 8)
	c := allocOrFail(t, d, 8)

	require.NoError(t, d.MemcpyH2DAsync(a, in1, s))
	require.NoError(t, d.MemcpyH2DAsync(b, in2, s))
	require.NoError(t, d.LaunchVecAdd(kernel.NewLaunch(8, 2), a, b, c, 5, s))
	require.NoError(t, d.MemcpyD2HAsync(out, c, s))
	require.NoError(t, s.Synchronize())

	assert.Equal(t, []float32{11, 22, 33, 44, 55}, out)
}

func TestLaunchUsesManyWorkers(t *testing.T) {
	t.Parallel()

	const n = 10_000
	d := newTestDevice(t, WithWorkers(3))
	s, err := d.NewStream()
	require.NoError(t, err)

	in1 := make([]float32, n)
	in2 := make([]float32, n)
	for i := range in1 {
		in1[i] = float32(i)
		in2[i] = float32(2 * i)
	}
	out := make([]float32, n)
	a, b, c := allocOrFail(t, d, n), allocOrFail(t, d, n), allocOrFail(t, d, n)

	require.NoError(t, d.MemcpyH2DAsync(a, in1, s))
	require.NoError(t, d.MemcpyH2DAsync(b, in2, s))
	require.NoError(t, d.LaunchVecAdd(kernel.NewLaunch(n, 64), a, b, c, n, s))
	require.NoError(t, d.MemcpyD2HAsync(out, c, s))
	require.NoError(t, d.Synchronize())

	for i := range out {
		require.Equal(t, float32(3*i), out[i], "index %d", i)
	}
}

func TestStreamsExecuteInOrder(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, WithTrace())
	s0, err := d.NewStream()
	require.NoError(t, err)
	s1, err := d.NewStream()
	require.NoError(t, err)

	a := allocOrFail(t, d, 4)
	b := allocOrFail(t, d, 4)
	hostA := []float32{1, 2, 3, 4}
	hostB := []float32{5, 6, 7, 8}
	for range 5 {
		require.NoError(t, d.MemcpyH2DAsync(a, hostA, s0))
		require.NoError(t, d.MemcpyD2HAsync(hostA, a, s0))
		require.NoError(t, d.MemcpyH2DAsync(b, hostB, s1))
		require.NoError(t, d.MemcpyD2HAsync(hostB[:2], b, s1))
	}
	require.NoError(t, d.Synchronize())

	perStream := map[int][]device.Op{}
	for _, ev := range d.Trace() {
		if ev.Stage == AtExecute {
			perStream[ev.Stream] = append(perStream[ev.Stream], ev.Op)
		}
	}
	for id, ops := range perStream {
		require.Len(t, ops, 10, "stream %d", id)
		for i, op := range ops {
			want := device.OpMemcpyH2D
			if i%2 == 1 {
				want = device.OpMemcpyD2H
			}
			assert.Equal(t, want, op, "stream %d position %d", id, i)
		}
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	other := newTestDevice(t)
	s, err := d.NewStream()
	require.NoError(t, err)
	foreign, err := other.NewStream()
	require.NoError(t, err)

	a := allocOrFail(t, d, 4)
	b := allocOrFail(t, d, 4)
	c := allocOrFail(t, d, 4)

	_, err = d.Alloc(0)
	assert.ErrorIs(t, err, device.ErrInvalidValue)

	err = d.MemcpyH2DAsync(a, make([]float32, 5), s)
	assert.ErrorIs(t, err, device.ErrOutOfRange)

	err = d.MemcpyD2HAsync(make([]float32, 5), a, s)
	assert.ErrorIs(t, err, device.ErrOutOfRange)

	err = d.MemcpyH2DAsync(a, []float32{1}, foreign)
	assert.ErrorIs(t, err, device.ErrInvalidHandle)

	err = d.LaunchVecAdd(kernel.NewLaunch(5, 4), a, b, c, 5, s)
	assert.ErrorIs(t, err, device.ErrOutOfRange)

	err = d.LaunchVecAdd(kernel.LaunchConfig{Grid: 1, Block: 0}, a, b, c, 1, s)
	assert.ErrorIs(t, err, device.ErrInvalidValue)

	require.NoError(t, d.Free(c))
	assert.ErrorIs(t, d.Free(c), device.ErrDestroyed)
	err = d.LaunchVecAdd(kernel.NewLaunch(4, 4), a, b, c, 4, s)
	assert.ErrorIs(t, err, device.ErrDestroyed)
}

func TestZeroLengthOperationsAreNoOps(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	s, err := d.NewStream()
	require.NoError(t, err)
	a := allocOrFail(t, d, 4)

	require.NoError(t, d.MemcpyH2DAsync(a, nil, s))
	require.NoError(t, d.MemcpyD2HAsync(nil, a, s))
	require.NoError(t, d.LaunchVecAdd(kernel.NewLaunch(0, 128), a, a, a, 0, s))
	require.NoError(t, s.Synchronize())
}

func TestFaultAtEnqueue(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d := newTestDevice(t, WithFault(device.OpMemcpyH2D, 2, AtEnqueue, boom))
	s, err := d.NewStream()
	require.NoError(t, err)
	a := allocOrFail(t, d, 4)

	require.NoError(t, d.MemcpyH2DAsync(a, []float32{1}, s))
	assert.ErrorIs(t, d.MemcpyH2DAsync(a, []float32{1}, s), boom)
	require.NoError(t, d.MemcpyH2DAsync(a, []float32{1}, s))
	require.NoError(t, s.Synchronize())
}

func TestFaultAtExecuteIsSticky(t *testing.T) {
	t.Parallel()

	boom := errors.New("launch failure")
	d := newTestDevice(t, WithFault(device.OpLaunch, 1, AtExecute, boom))
	s, err := d.NewStream()
	require.NoError(t, err)
	a := allocOrFail(t, d, 4)

	require.NoError(t, d.LaunchVecAdd(kernel.NewLaunch(4, 4), a, a, a, 4, s))

	err = s.Synchronize()
	require.ErrorIs(t, err, boom)
	var devErr *device.Error
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, device.OpLaunch, devErr.Op)
	assert.Equal(t, s.ID(), devErr.Stream)

	// later enqueues on the failed stream report the same failure.
	assert.ErrorIs(t, d.MemcpyH2DAsync(a, []float32{1}, s), boom)
	assert.ErrorIs(t, d.Synchronize(), boom)
}

func TestStreamDestroy(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	s, err := d.NewStream()
	require.NoError(t, err)
	a := allocOrFail(t, d, 4)
	require.NoError(t, d.MemcpyH2DAsync(a, []float32{1, 2}, s))

	require.NoError(t, s.Destroy())
	assert.ErrorIs(t, s.Destroy(), device.ErrDestroyed)
	assert.ErrorIs(t, d.MemcpyH2DAsync(a, []float32{1}, s), device.ErrDestroyed)

	streams, buffers := d.Live()
	assert.Zero(t, streams)
	assert.Equal(t, 1, buffers)
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	d := New()
	for range 3 {
		_, err := d.NewStream()
		require.NoError(t, err)
		allocOrFail(t, d, 16)
	}
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	streams, buffers := d.Live()
	assert.Zero(t, streams)
	assert.Zero(t, buffers)

	_, err := d.NewStream()
	assert.ErrorIs(t, err, device.ErrDestroyed)
}

func TestCallsCounter(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	s, err := d.NewStream()
	require.NoError(t, err)
	a := allocOrFail(t, d, 2)
	require.NoError(t, d.MemcpyH2DAsync(a, []float32{1}, s))
	require.NoError(t, d.MemcpyH2DAsync(a, []float32{1}, s))

	assert.Equal(t, 1, d.Calls(device.OpStreamCreate))
	assert.Equal(t, 1, d.Calls(device.OpMalloc))
	assert.Equal(t, 2, d.Calls(device.OpMemcpyH2D))
	assert.Zero(t, d.Calls(device.OpLaunch))
}
