package pipeline

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/device/sim"
	"github.com/samcharles93/vecstream/internal/logger"
)

func newSim(t *testing.T, opts ...sim.Option) *sim.Device {
	t.Helper()
	d := sim.New(opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newPipeline(t *testing.T, dev device.Device, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(dev, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func randomVectors(n int, seed uint64) ([]float32, []float32) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	in1 := make([]float32, n)
	in2 := make([]float32, n)
	for i := range in1 {
		in1[i] = r.Float32()*200 - 100
		in2[i] = r.Float32()*200 - 100
	}
	return in1, in2
}

func requireSum(t *testing.T, in1, in2, out []float32) {
	t.Helper()
	require.Len(t, out, len(in1))
	for i := range out {
		want := in1[i] + in2[i]
		if math.Float32bits(out[i]) != math.Float32bits(want) {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, Config{StreamCount: 4, SegmentSize: 128, BlockSize: 128}, DefaultConfig())

	bad := []Config{
		{StreamCount: 0, SegmentSize: 128, BlockSize: 128},
		{StreamCount: 4, SegmentSize: 0, BlockSize: 128},
		{StreamCount: 4, SegmentSize: 128, BlockSize: 0},
		{StreamCount: 4, SegmentSize: 128, BlockSize: 2048},
		{StreamCount: -1, SegmentSize: -1, BlockSize: -1},
	}
	for _, cfg := range bad {
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, cfg.String())
	}

	filled := Config{SegmentSize: 64}.WithDefaults()
	assert.Equal(t, Config{StreamCount: 4, SegmentSize: 64, BlockSize: 128}, filled)
	assert.Equal(t, 1, DefaultConfig().Launch().Grid)
	assert.Equal(t, 2, Config{StreamCount: 1, SegmentSize: 129, BlockSize: 128}.Launch().Grid)
}

func TestNewFailsFast(t *testing.T) {
	t.Parallel()

	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	d := newSim(t)
	_, err = New(d, Config{StreamCount: 4, SegmentSize: 0, BlockSize: 128})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, d.Calls(device.OpStreamCreate), "invalid config must not touch the device")
}

func TestNewAllocatesOncePerSlot(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p := newPipeline(t, d, DefaultConfig())
	assert.Equal(t, 4, p.Slots())
	assert.Equal(t, 4, d.Calls(device.OpStreamCreate))
	assert.Equal(t, 12, d.Calls(device.OpMalloc))

	in1, in2 := randomVectors(5000, 1)
	_, err := p.Add(in1, in2)
	require.NoError(t, err)

	assert.Equal(t, 12, d.Calls(device.OpMalloc), "buffers are reused across rounds")
}

func TestNewReleasesPartialSlots(t *testing.T) {
	t.Parallel()

	d := newSim(t, sim.WithFault(device.OpMalloc, 5, sim.AtEnqueue, errors.New("out of memory")))
	_, err := New(d, DefaultConfig())
	require.Error(t, err)
	assert.True(t, device.IsAcceleratorError(err))

	streams, buffers := d.Live()
	assert.Zero(t, streams)
	assert.Zero(t, buffers)
}

func TestScenario300(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p := newPipeline(t, d, DefaultConfig())

	in1, in2 := randomVectors(300, 7)
	out, err := p.Add(in1, in2)
	require.NoError(t, err)

	requireSum(t, in1, in2, out)
	assert.Equal(t, in1[256]+in2[256], out[256])

	st := p.Stats()
	assert.Equal(t, 1, st.Rounds)
	assert.Equal(t, 3, st.Segments)
	assert.Equal(t, 1, st.SegmentsSkipped)
	assert.Equal(t, 3, st.Kernels)
	assert.Equal(t, int64(300), st.Elements)
	assert.Equal(t, int64(2*300*4), st.BytesToDevice)
	assert.Equal(t, int64(300*4), st.BytesFromDevice)

	assert.Equal(t, 6, d.Calls(device.OpMemcpyH2D))
	assert.Equal(t, 3, d.Calls(device.OpLaunch))
	assert.Equal(t, 3, d.Calls(device.OpMemcpyD2H))
}

func TestSmallVectorAnyShape(t *testing.T) {
	t.Parallel()

	in1 := []float32{1, 2, 3}
	in2 := []float32{10, 20, 30}
	for _, segment := range []int{1, 2, 3, 4, 128} {
		for _, streams := range []int{1, 2, 3, 4, 7} {
			for _, block := range []int{1, 2, 128} {
				d := newSim(t)
				p := newPipeline(t, d, Config{StreamCount: streams, SegmentSize: segment, BlockSize: block})
				out, err := p.Add(in1, in2)
				require.NoError(t, err)
				assert.Equal(t, []float32{11, 22, 33}, out, "segment=%d streams=%d block=%d", segment, streams, block)
			}
		}
	}
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p := newPipeline(t, d, DefaultConfig())

	out, err := p.Add(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, p.Stats().Rounds)
	assert.Zero(t, d.Calls(device.OpMemcpyH2D))
	assert.Zero(t, d.Calls(device.OpLaunch))
	assert.Zero(t, d.Calls(device.OpMemcpyD2H))
}

func TestBoundaryLengths(t *testing.T) {
	t.Parallel()

	cfg := Config{StreamCount: 4, SegmentSize: 16, BlockSize: 8}
	tests := []struct {
		name    string
		length  int
		skipped int
	}{
		{"divisible by a round", 16 * 4 * 3, 0},
		{"one segment short of a round", 16 * 3, 1},
		{"one element short of a round", 16*4 - 1, 0},
		{"one element past a round", 16*4 + 1, 3},
		{"single element", 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newSim(t)
			p := newPipeline(t, d, cfg)
			in1, in2 := randomVectors(tt.length, uint64(tt.length))
			out, err := p.Add(in1, in2)
			require.NoError(t, err)
			requireSum(t, in1, in2, out)
			assert.Equal(t, tt.skipped, p.Stats().SegmentsSkipped)
		})
	}
}

func TestLargeRandomMatchesHostSum(t *testing.T) {
	t.Parallel()

	d := newSim(t, sim.WithWorkers(4))
	p := newPipeline(t, d, Config{StreamCount: 4, SegmentSize: 1000, BlockSize: 96})

	in1, in2 := randomVectors(123_457, 42)
	out, err := p.Add(in1, in2)
	require.NoError(t, err)
	requireSum(t, in1, in2, out)
}

func TestIdempotent(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p := newPipeline(t, d, DefaultConfig())

	in1, in2 := randomVectors(10_000, 3)
	in1[17] = float32(math.NaN())
	in2[18] = float32(math.Inf(-1))

	first, err := p.Add(in1, in2)
	require.NoError(t, err)
	second, err := p.Add(in1, in2)
	require.NoError(t, err)

	for i := range first {
		require.Equal(t, math.Float32bits(first[i]), math.Float32bits(second[i]), "index %d", i)
	}
}

func TestEnqueueThenSynchronize(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p := newPipeline(t, d, Config{StreamCount: 3, SegmentSize: 50, BlockSize: 32})

	in1, in2 := randomVectors(2_000, 9)
	out := make([]float32, len(in1))
	require.NoError(t, p.Enqueue(in1, in2, out))
	require.NoError(t, p.Synchronize())
	requireSum(t, in1, in2, out)
}

func TestPhasesAreBatchedPerRound(t *testing.T) {
	t.Parallel()

	d := newSim(t, sim.WithTrace())
	cfg := Config{StreamCount: 3, SegmentSize: 8, BlockSize: 4}
	p := newPipeline(t, d, cfg)

	in1, in2 := randomVectors(8*3*2, 11)
	_, err := p.Add(in1, in2)
	require.NoError(t, err)

	var enqueued []device.Op
	perStream := map[int][]device.Op{}
	for _, ev := range d.Trace() {
		switch ev.Op {
		case device.OpMemcpyH2D, device.OpLaunch, device.OpMemcpyD2H:
		default:
			continue
		}
		if ev.Stage == sim.AtEnqueue {
			enqueued = append(enqueued, ev.Op)
		} else {
			perStream[ev.Stream] = append(perStream[ev.Stream], ev.Op)
		}
	}

	round := []device.Op{
		device.OpMemcpyH2D, device.OpMemcpyH2D, device.OpMemcpyH2D,
		device.OpMemcpyH2D, device.OpMemcpyH2D, device.OpMemcpyH2D,
		device.OpLaunch, device.OpLaunch, device.OpLaunch,
		device.OpMemcpyD2H, device.OpMemcpyD2H, device.OpMemcpyD2H,
	}
	assert.Equal(t, append(append([]device.Op{}, round...), round...), enqueued)

	slotOrder := []device.Op{device.OpMemcpyH2D, device.OpMemcpyH2D, device.OpLaunch, device.OpMemcpyD2H}
	require.Len(t, perStream, 3)
	for id, ops := range perStream {
		assert.Equal(t, append(append([]device.Op{}, slotOrder...), slotOrder...), ops, "stream %d", id)
	}
}

func TestEnqueueFaultIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("copy engine fault")
	d := newSim(t, sim.WithFault(device.OpMemcpyH2D, 3, sim.AtEnqueue, boom))
	p, err := New(d, DefaultConfig())
	require.NoError(t, err)

	in1, in2 := randomVectors(1000, 5)
	_, err = p.Add(in1, in2)
	require.ErrorIs(t, err, boom)

	var devErr *device.Error
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, device.OpMemcpyH2D, devErr.Op)
	assert.Equal(t, "slot.go", filepath.Base(devErr.File))
	assert.Positive(t, devErr.Line)

	// the pipeline stays failed.
	_, err = p.Add(in1, in2)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, p.Close())
	streams, buffers := d.Live()
	assert.Zero(t, streams)
	assert.Zero(t, buffers)
}

func TestExecuteFaultIsReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("illegal address")
	d := newSim(t, sim.WithFault(device.OpLaunch, 2, sim.AtExecute, boom))
	p, err := New(d, DefaultConfig())
	require.NoError(t, err)

	in1, in2 := randomVectors(128*4, 5)
	// the failure surfaces either at a later enqueue on the same stream or
	// at Synchronize, depending on when the stream worker reaches it.
	_, err = p.Add(in1, in2)
	require.ErrorIs(t, err, boom)
	var devErr *device.Error
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, device.OpLaunch, devErr.Op)
	assert.NotEmpty(t, devErr.File)

	_, err = p.Add(in1, in2)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, p.Close())

	streams, buffers := d.Live()
	assert.Zero(t, streams)
	assert.Zero(t, buffers)
}

func TestLengthMismatch(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, newSim(t), DefaultConfig())
	err := p.Enqueue(make([]float32, 3), make([]float32, 4), make([]float32, 3))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = p.Add(make([]float32, 3), make([]float32, 2))
	assert.ErrorIs(t, err, ErrLengthMismatch)

	// a rejected call does not poison the pipeline.
	out, err := p.Add([]float32{1}, []float32{2})
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, out)
}

func TestClose(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p, err := New(d, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Enqueue(nil, nil, nil), ErrClosed)
	assert.ErrorIs(t, p.Synchronize(), ErrClosed)

	streams, buffers := d.Live()
	assert.Zero(t, streams)
	assert.Zero(t, buffers)
}

func TestSlotOrder(t *testing.T) {
	t.Parallel()

	d := newSim(t)
	p := newPipeline(t, d, Config{StreamCount: 1, SegmentSize: 4, BlockSize: 4})
	slot := p.slots[0]

	pl, err := p.Plan(3)
	require.NoError(t, err)
	seg := pl.Segment(0, 0)
	h := []float32{1, 2, 3}
	out := make([]float32, 3)

	assert.ErrorIs(t, slot.compute(d, p.launch), ErrSlotOrder)
	assert.ErrorIs(t, slot.drain(d, out), ErrSlotOrder)

	require.NoError(t, slot.load(d, seg, h, h))
	assert.ErrorIs(t, slot.load(d, seg, h, h), ErrSlotOrder)
	assert.ErrorIs(t, slot.drain(d, out), ErrSlotOrder)

	require.NoError(t, slot.compute(d, p.launch))
	assert.ErrorIs(t, slot.compute(d, p.launch), ErrSlotOrder)
	assert.ErrorIs(t, slot.drain(d, out[:2]), device.ErrOutOfRange)

	require.NoError(t, slot.drain(d, out))
	require.NoError(t, p.Synchronize())
	assert.Equal(t, []float32{2, 4, 6}, out)
}

func TestRunLogsSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p, err := New(newSim(t), DefaultConfig(), WithLogger(logger.JSON(&buf, logger.ParseLevel("debug"))))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Add(make([]float32, 300), make([]float32, 300))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"pipeline run complete"`)
	assert.Contains(t, out, `"run_id":`)
	assert.Contains(t, out, `"msg":"segment"`)
	assert.Contains(t, out, `"skipped":1`)
}
