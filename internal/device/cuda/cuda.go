//go:build cuda

// Package cuda runs the vector addition on an NVIDIA GPU. The kernel is
// compiled from kernel.VecAddSource with NVRTC when the device is opened.
package cuda

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/device/cuda/native"
	"github.com/samcharles93/vecstream/internal/kernel"
)

const Name = "cuda"

// Count returns the number of CUDA devices visible to the process.
func Count() (int, error) {
	return native.DeviceCount()
}

type Device struct {
	ordinal int
	label   string
	ctx     native.Context
	module  native.Module
	fn      native.Function

	mu      sync.Mutex
	nextID  int
	streams map[*Stream]struct{}
	buffers map[*Buffer]struct{}
	pinned  map[int64][]native.HostBuffer
	closed  bool
}

// New opens device ordinal and loads the vecAdd kernel into its primary
// context.
func New(ordinal int) (*Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, device.ErrNoDevice
	}
	if ordinal < 0 || ordinal >= count {
		return nil, fmt.Errorf("%w: device ordinal %d (have %d)", device.ErrInvalidValue, ordinal, count)
	}

	ctx, err := native.Init(ordinal)
	if err != nil {
		return nil, fmt.Errorf("cuda init failed: %w", err)
	}
	ptx, err := native.CompilePTX(kernel.VecAddSource, "vecadd.cu")
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", kernel.VecAddName, err)
	}
	mod, err := native.LoadModule(ctx, ptx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kernel.VecAddName, err)
	}
	fn, err := mod.Function(kernel.VecAddName)
	if err != nil {
		_ = mod.Unload(ctx)
		return nil, fmt.Errorf("resolve %s: %w", kernel.VecAddName, err)
	}

	label := fmt.Sprintf("cuda:%d", ordinal)
	if name, err := native.DeviceName(ordinal); err == nil && name != "" {
		label = fmt.Sprintf("cuda:%d (%s)", ordinal, name)
	}

	return &Device{
		ordinal: ordinal,
		label:   label,
		ctx:     ctx,
		module:  mod,
		fn:      fn,
		streams: make(map[*Stream]struct{}),
		buffers: make(map[*Buffer]struct{}),
		pinned:  make(map[int64][]native.HostBuffer),
	}, nil
}

func (d *Device) Name() string {
	return Name
}

// Label identifies the physical device, e.g. "cuda:0 (NVIDIA L4)".
func (d *Device) Label() string {
	return d.label
}

type Buffer struct {
	dev   *Device
	mem   native.DeviceBuffer
	elems int
	freed bool
}

func (b *Buffer) Len() int {
	return b.elems
}

func (d *Device) NewStream() (device.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrDestroyed
	}
	h, err := native.NewStream()
	if err != nil {
		return nil, err
	}
	st := &Stream{dev: d, id: d.nextID, handle: h}
	d.nextID++
	d.streams[st] = struct{}{}
	return st, nil
}

func (d *Device) Alloc(elems int) (device.Buffer, error) {
	if elems <= 0 {
		return nil, fmt.Errorf("%w: device alloc size must be > 0", device.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrDestroyed
	}
	mem, err := native.AllocDevice(device.Bytes(elems))
	if err != nil {
		return nil, err
	}
	b := &Buffer{dev: d, mem: mem, elems: elems}
	d.buffers[b] = struct{}{}
	return b, nil
}

func (d *Device) Free(b device.Buffer) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf.freed {
		return device.ErrDestroyed
	}
	buf.freed = true
	delete(d.buffers, buf)
	return buf.mem.Free()
}

// MemcpyH2DAsync stages src in pinned host memory so the copy can run after
// the call returns.
func (d *Device) MemcpyH2DAsync(dst device.Buffer, src []float32, s device.Stream) error {
	st, buf, err := d.operands(s, dst)
	if err != nil {
		return err
	}
	if len(src) > buf.elems {
		return fmt.Errorf("%w: copy of %d elements into buffer of %d", device.ErrOutOfRange, len(src), buf.elems)
	}
	if len(src) == 0 {
		return nil
	}
	bytes := device.Bytes(len(src))
	staging, err := d.takePinned(bytes)
	if err != nil {
		return err
	}
	copy(staging.Float32s(len(src)), src)
	if err := native.MemcpyH2DAsync(buf.mem, staging, bytes, st.handle); err != nil {
		d.putPinned(staging)
		return err
	}
	st.hold(staging, nil)
	return nil
}

// MemcpyD2HAsync copies into pinned host memory; dst is filled when the
// stream is synchronized.
func (d *Device) MemcpyD2HAsync(dst []float32, src device.Buffer, s device.Stream) error {
	st, buf, err := d.operands(s, src)
	if err != nil {
		return err
	}
	if len(dst) > buf.elems {
		return fmt.Errorf("%w: copy of %d elements from buffer of %d", device.ErrOutOfRange, len(dst), buf.elems)
	}
	if len(dst) == 0 {
		return nil
	}
	bytes := device.Bytes(len(dst))
	staging, err := d.takePinned(bytes)
	if err != nil {
		return err
	}
	if err := native.MemcpyD2HAsync(staging, buf.mem, bytes, st.handle); err != nil {
		d.putPinned(staging)
		return err
	}
	st.hold(staging, dst)
	return nil
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
		if n < 0 || n > buf.elems {
			return fmt.Errorf("%w: length %d for buffer of %d", device.ErrOutOfRange, n, buf.elems)
		}
		bufs = append(bufs, buf)
	}
	if l.Grid == 0 {
		return nil
	}
	if err := native.LaunchVecAdd(d.ctx, d.fn, l.Grid, l.Block, st.handle, bufs[0].mem, bufs[1].mem, bufs[2].mem, n); err != nil {
		return err
	}
	return native.LastError()
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

// Close destroys every stream, frees every buffer and the staging pool, and
// unloads the kernel module.
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
		if err := s.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for b := range d.buffers {
		b.freed = true
		if err := b.mem.Free(); err != nil {
			errs = append(errs, err)
		}
	}
	clear(d.buffers)
	for _, pool := range d.pinned {
		for _, hb := range pool {
			if err := hb.Free(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	clear(d.pinned)
	if err := d.module.Unload(d.ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Device) takePinned(bytes int64) (native.HostBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pool := d.pinned[bytes]; len(pool) > 0 {
		hb := pool[len(pool)-1]
		d.pinned[bytes] = pool[:len(pool)-1]
		return hb, nil
	}
	return native.AllocHostPinned(bytes)
}

func (d *Device) putPinned(hb native.HostBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		_ = hb.Free()
		return
	}
	d.pinned[hb.Bytes()] = append(d.pinned[hb.Bytes()], hb)
}

func (d *Device) operands(s device.Stream, b device.Buffer) (*Stream, *Buffer, error) {
	st, err := d.stream(s)
	if err != nil {
		return nil, nil, err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return nil, nil, err
	}
	return st, buf, nil
}

func (d *Device) stream(s device.Stream) (*Stream, error) {
	st, ok := s.(*Stream)
	if !ok || st == nil || st.dev != d {
		return nil, fmt.Errorf("%w: stream %v", device.ErrInvalidHandle, s)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return nil, device.ErrDestroyed
	}
	return st, nil
}

func (d *Device) buffer(b device.Buffer) (*Buffer, error) {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil || buf.dev != d {
		return nil, fmt.Errorf("%w: buffer %T", device.ErrInvalidHandle, b)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf.freed {
		return nil, device.ErrDestroyed
	}
	return buf, nil
}
