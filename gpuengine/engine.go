// Package gpuengine implements the buffer family of the raystack engine
// protocol on top of WebGPU device memory. It drives the exact marshaling
// path under investigation against a real GPU: shared host views packed and
// uploaded, owned device buffers, device-side copies, mapped readback.
//
// Scene objects are tracked host-side and rendering is limited to a
// background clear; the defect this harness reproduces lives in the buffer
// path, not the renderer.
package gpuengine

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/raystack"
)

type object struct {
	kind    raystack.ObjectKind
	subtype string
	refs    int

	// buffer state
	isBuffer bool
	dtype    raystack.DataType
	shape    [3]int
	strides  [3]int
	shared   bool
	hostPtr  unsafe.Pointer
	buf      *wgpu.Buffer

	// staged properties, host-side
	objects map[string]raystack.Handle
	floats  map[string]float32
	ints    map[string]int32
	uints   map[string]uint32
	vec3s   map[string]mgl32.Vec3
	vec4s   map[string]mgl32.Vec4

	// framebuffer state, host-side
	width, height int
	format        raystack.FrameFormat
	pixels        []byte
	mapped        bool
}

func newObject() *object {
	return &object{
		refs:    1,
		objects: make(map[string]raystack.Handle),
		floats:  make(map[string]float32),
		ints:    make(map[string]int32),
		uints:   make(map[string]uint32),
		vec3s:   make(map[string]mgl32.Vec3),
		vec4s:   make(map[string]mgl32.Vec4),
	}
}

func (o *object) byteSize() uint64 {
	n := o.shape[0] * o.shape[1] * o.shape[2] * o.dtype.Size()
	// wgpu requires copy sizes in multiples of 4
	return uint64((n + 3) &^ 3)
}

// Engine implements raystack.Engine on a headless WebGPU device. Not safe
// for concurrent use.
type Engine struct {
	log     raystack.Logger
	device  *wgpu.Device
	queue   *wgpu.Queue
	handles map[raystack.Handle]*object
	next    raystack.Handle
}

var _ raystack.Engine = (*Engine)(nil)

// New acquires a headless WebGPU device, preferring a discrete adapter.
func New(log raystack.Logger) (*Engine, error) {
	if log == nil {
		log = raystack.NewNopLogger()
	}
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}

	return &Engine{
		log:     log,
		device:  device,
		queue:   device.GetQueue(),
		handles: make(map[raystack.Handle]*object),
		next:    1,
	}, nil
}

// Close releases every surviving device buffer. Objects still live at this
// point indicate a teardown bug upstream; they are logged and freed.
func (e *Engine) Close() error {
	for h, o := range e.handles {
		e.log.Warnf("handle %d (%s) leaked past teardown", h, o.kind)
		if o.buf != nil {
			o.buf.Release()
		}
		delete(e.handles, h)
	}
	return nil
}

func (e *Engine) register(o *object) raystack.Handle {
	h := e.next
	e.next++
	e.handles[h] = o
	return h
}

func (e *Engine) lookup(h raystack.Handle) (*object, error) {
	o, ok := e.handles[h]
	if !ok {
		return nil, fmt.Errorf("unknown or destroyed handle %d", h)
	}
	return o, nil
}

func (e *Engine) NewSharedBuffer(ptr unsafe.Pointer, t raystack.DataType, extents, strides [3]int) (raystack.Handle, error) {
	if ptr == nil {
		return raystack.NilHandle, fmt.Errorf("shared buffer with nil pointer")
	}
	if t.Size() == 0 {
		return raystack.NilHandle, fmt.Errorf("shared buffer with unknown element type")
	}
	o := newObject()
	o.isBuffer = true
	o.shared = true
	o.dtype = t
	o.shape = extents
	o.strides = strides
	o.hostPtr = ptr

	buf, err := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("shared %s %v", t, extents),
		Size:  o.byteSize(),
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return raystack.NilHandle, err
	}
	o.buf = buf
	return e.register(o), nil
}

func (e *Engine) NewOwnedBuffer(t raystack.DataType, extents [3]int) (raystack.Handle, error) {
	if t.Size() == 0 {
		return raystack.NilHandle, fmt.Errorf("owned buffer with unknown element type")
	}
	esz := t.Size()
	o := newObject()
	o.isBuffer = true
	o.dtype = t
	o.shape = extents
	o.strides = [3]int{esz, esz * extents[0], esz * extents[0] * extents[1]}

	buf, err := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("owned %s %v", t, extents),
		Size:  o.byteSize(),
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return raystack.NilHandle, err
	}
	o.buf = buf
	return e.register(o), nil
}

// pack gathers a shared buffer's host elements into a contiguous slice,
// honoring the strides declared at creation time.
func (o *object) pack() []byte {
	esz := o.dtype.Size()
	out := make([]byte, o.shape[0]*o.shape[1]*o.shape[2]*esz)
	i := 0
	for i2 := 0; i2 < o.shape[2]; i2++ {
		for i1 := 0; i1 < o.shape[1]; i1++ {
			for i0 := 0; i0 < o.shape[0]; i0++ {
				off := i0*o.strides[0] + i1*o.strides[1] + i2*o.strides[2]
				copy(out[i:i+esz], unsafe.Slice((*byte)(unsafe.Add(o.hostPtr, off)), esz))
				i += esz
			}
		}
	}
	return out
}

func (e *Engine) Commit(h raystack.Handle) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	// Committing a shared buffer snapshots the host memory it aliases into
	// device memory. WebGPU cannot alias host allocations, so commit is the
	// point where the aliased array must still be alive and unchanged.
	if o.isBuffer && o.shared {
		data := o.pack()
		if len(data)%4 != 0 {
			data = append(data, make([]byte, 4-len(data)%4)...)
		}
		if err := e.queue.WriteBuffer(o.buf, 0, data); err != nil {
			return fmt.Errorf("upload shared buffer: %w", err)
		}
	}
	return nil
}

func (e *Engine) CopyBuffer(src, dst raystack.Handle, offset [3]int) error {
	so, err := e.lookup(src)
	if err != nil {
		return err
	}
	do, err := e.lookup(dst)
	if err != nil {
		return err
	}
	if !so.isBuffer || !do.isBuffer {
		return fmt.Errorf("copy between non-buffer objects")
	}
	if so.dtype != do.dtype {
		return fmt.Errorf("copy between %s and %s buffers", so.dtype, do.dtype)
	}
	if offset != [3]int{} {
		return fmt.Errorf("device copy at offset %v not supported, only (0,0,0)", offset)
	}
	if so.shape != do.shape {
		return fmt.Errorf("device copy between extents %v and %v", so.shape, do.shape)
	}

	encoder, err := e.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	if err := encoder.CopyBufferToBuffer(so.buf, 0, do.buf, 0, so.byteSize()); err != nil {
		return err
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	e.queue.Submit(cmd)
	return nil
}

func (e *Engine) BufferExtents(h raystack.Handle) ([3]int, error) {
	o, err := e.lookup(h)
	if err != nil {
		return [3]int{}, err
	}
	if !o.isBuffer {
		return [3]int{}, fmt.Errorf("handle %d is not a buffer", h)
	}
	return o.shape, nil
}

// ReadBuffer copies a buffer's device contents back to the host through a
// staging buffer, blocking until the map completes.
func (e *Engine) ReadBuffer(h raystack.Handle) ([]byte, [3]int, raystack.DataType, error) {
	o, err := e.lookup(h)
	if err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	if !o.isBuffer {
		return nil, [3]int{}, raystack.TypeUnknown, fmt.Errorf("handle %d is not a buffer", h)
	}
	size := o.byteSize()

	staging, err := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "readback staging",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	defer staging.Release()

	encoder, err := e.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	if err := encoder.CopyBufferToBuffer(o.buf, 0, staging, 0, size); err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	e.queue.Submit(cmd)

	var status wgpu.BufferMapAsyncStatus
	if err := staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	e.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, [3]int{}, raystack.TypeUnknown, fmt.Errorf("map readback staging buffer: status %d", status)
	}
	mapped := staging.GetMappedRange(0, uint(size))
	n := o.shape[0] * o.shape[1] * o.shape[2] * o.dtype.Size()
	out := make([]byte, n)
	copy(out, mapped)
	staging.Unmap()
	return out, o.shape, o.dtype, nil
}

func (e *Engine) NewObject(kind raystack.ObjectKind, subtype string) (raystack.Handle, error) {
	o := newObject()
	o.kind = kind
	o.subtype = subtype
	return e.register(o), nil
}

func (e *Engine) NewFrameBuffer(width, height int, format raystack.FrameFormat, channels raystack.FrameChannel) (raystack.Handle, error) {
	if width < 1 || height < 1 {
		return raystack.NilHandle, fmt.Errorf("framebuffer size %dx%d", width, height)
	}
	if channels != raystack.ChannelColor {
		return raystack.NilHandle, fmt.Errorf("unsupported channel set %d", channels)
	}
	o := newObject()
	o.kind = "framebuffer"
	o.width = width
	o.height = height
	o.format = format
	o.pixels = make([]byte, width*height*4)
	return e.register(o), nil
}

func (e *Engine) SetObject(h raystack.Handle, name string, value raystack.Handle) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	if _, err := e.lookup(value); err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}
	o.objects[name] = value
	return nil
}

func (e *Engine) SetFloat(h raystack.Handle, name string, value float32) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.floats[name] = value
	return nil
}

func (e *Engine) SetInt(h raystack.Handle, name string, value int32) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.ints[name] = value
	return nil
}

func (e *Engine) SetUint(h raystack.Handle, name string, value uint32) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.uints[name] = value
	return nil
}

func (e *Engine) SetVec3f(h raystack.Handle, name string, value mgl32.Vec3) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.vec3s[name] = value
	return nil
}

func (e *Engine) SetVec4f(h raystack.Handle, name string, value mgl32.Vec4) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.vec4s[name] = value
	return nil
}

func (e *Engine) Release(h raystack.Handle) error {
	o, ok := e.handles[h]
	if !ok {
		return fmt.Errorf("release of unknown or already destroyed handle %d", h)
	}
	o.refs--
	if o.refs == 0 {
		if o.buf != nil {
			o.buf.Release()
			o.buf = nil
		}
		delete(e.handles, h)
	}
	return nil
}

// RenderFrameBlocking clears the framebuffer to the renderer's background
// color. Geometry rendering is out of scope for this backend.
func (e *Engine) RenderFrameBlocking(fb, renderer, camera, world raystack.Handle) (float32, error) {
	fbo, err := e.lookup(fb)
	if err != nil {
		return 0, err
	}
	if fbo.pixels == nil {
		return 0, fmt.Errorf("render target %d is not a framebuffer", fb)
	}
	ro, err := e.lookup(renderer)
	if err != nil {
		return 0, err
	}
	if _, err := e.lookup(camera); err != nil {
		return 0, err
	}
	if _, err := e.lookup(world); err != nil {
		return 0, err
	}
	e.log.Warnf("gpuengine renders background only; scene geometry is ignored")

	bg, ok := ro.vec4s["backgroundColor"]
	if !ok {
		bg = mgl32.Vec4{0, 0, 0, 0}
	}
	var px [4]byte
	for c := 0; c < 4; c++ {
		v := bg[c]
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		px[c] = byte(v*255 + 0.5)
	}
	for i := 0; i < len(fbo.pixels); i += 4 {
		copy(fbo.pixels[i:i+4], px[:])
	}
	return 0, nil
}

func (e *Engine) MapFrameBuffer(h raystack.Handle, channel raystack.FrameChannel) ([]byte, error) {
	o, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	if o.pixels == nil {
		return nil, fmt.Errorf("handle %d is not a framebuffer", h)
	}
	if channel != raystack.ChannelColor {
		return nil, fmt.Errorf("framebuffer has no channel %d", channel)
	}
	if o.mapped {
		return nil, fmt.Errorf("framebuffer is already mapped")
	}
	o.mapped = true
	return o.pixels, nil
}

func (e *Engine) UnmapFrameBuffer(h raystack.Handle) error {
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	if !o.mapped {
		return fmt.Errorf("framebuffer is not mapped")
	}
	o.mapped = false
	return nil
}
