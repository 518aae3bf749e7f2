// Package softengine is an in-process software implementation of the
// raystack engine protocol. It exists so the buffer-marshaling path and the
// full reproduction scene can be exercised and inspected without a native
// rendering engine: buffers keep their declared shapes and strides, object
// lifetimes are reference-counted exactly, and rendering is a deterministic
// orthographic raycast.
package softengine

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/raystack"
)

type object struct {
	kind      raystack.ObjectKind
	subtype   string
	refs      int
	committed bool

	// buffer state
	isBuffer bool
	dtype    raystack.DataType
	shape    [3]int
	strides  [3]int
	shared   bool
	hostPtr  unsafe.Pointer // shared buffers alias caller memory
	data     []byte         // owned buffers hold their own copy

	// staged properties
	objects map[string]raystack.Handle
	floats  map[string]float32
	ints    map[string]int32
	uints   map[string]uint32
	vec3s   map[string]mgl32.Vec3
	vec4s   map[string]mgl32.Vec4

	// framebuffer state
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

// Engine implements raystack.Engine in process memory. Not safe for
// concurrent use; the protocol is strictly synchronous.
type Engine struct {
	log     raystack.Logger
	handles map[raystack.Handle]*object
	next    raystack.Handle
	calls   map[string]int
}

var _ raystack.Engine = (*Engine)(nil)

func New() *Engine {
	return NewWithLogger(raystack.NewNopLogger())
}

func NewWithLogger(log raystack.Logger) *Engine {
	return &Engine{
		log:     log,
		handles: make(map[raystack.Handle]*object),
		next:    1,
		calls:   make(map[string]int),
	}
}

// CallCount returns how many times the named protocol operation ran. Used
// by tests as an allocation and call probe.
func (e *Engine) CallCount(op string) int { return e.calls[op] }

// LiveObjects returns the number of objects with a nonzero refcount.
func (e *Engine) LiveObjects() int { return len(e.handles) }

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
	e.calls["NewSharedBuffer"]++
	if ptr == nil {
		return raystack.NilHandle, fmt.Errorf("shared buffer with nil pointer")
	}
	if t.Size() == 0 {
		return raystack.NilHandle, fmt.Errorf("shared buffer with unknown element type")
	}
	for i, d := range extents {
		if d < 1 {
			return raystack.NilHandle, fmt.Errorf("shared buffer extent %d in dimension %d", d, i)
		}
	}
	o := newObject()
	o.isBuffer = true
	o.shared = true
	o.dtype = t
	o.shape = extents
	o.strides = strides
	o.hostPtr = ptr
	return e.register(o), nil
}

func (e *Engine) NewOwnedBuffer(t raystack.DataType, extents [3]int) (raystack.Handle, error) {
	e.calls["NewOwnedBuffer"]++
	if t.Size() == 0 {
		return raystack.NilHandle, fmt.Errorf("owned buffer with unknown element type")
	}
	n := extents[0] * extents[1] * extents[2]
	if n < 1 {
		return raystack.NilHandle, fmt.Errorf("owned buffer with extents %v", extents)
	}
	esz := t.Size()
	o := newObject()
	o.isBuffer = true
	o.dtype = t
	o.shape = extents
	o.strides = [3]int{esz, esz * extents[0], esz * extents[0] * extents[1]}
	o.data = make([]byte, n*esz)
	return e.register(o), nil
}

// elemAt returns the raw bytes of element (i0,i1,i2), honoring the
// buffer's declared strides. Shared buffers read straight from the host
// memory they alias.
func (o *object) elemAt(i0, i1, i2 int) []byte {
	off := i0*o.strides[0] + i1*o.strides[1] + i2*o.strides[2]
	esz := o.dtype.Size()
	if o.shared {
		return unsafe.Slice((*byte)(unsafe.Add(o.hostPtr, off)), esz)
	}
	return o.data[off : off+esz]
}

func (e *Engine) CopyBuffer(src, dst raystack.Handle, offset [3]int) error {
	e.calls["CopyBuffer"]++
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
	if do.shared {
		return fmt.Errorf("copy into a shared buffer")
	}
	if so.dtype != do.dtype {
		return fmt.Errorf("copy between %s and %s buffers", so.dtype, do.dtype)
	}
	for i := 0; i < 3; i++ {
		if offset[i] < 0 || offset[i]+so.shape[i] > do.shape[i] {
			return fmt.Errorf("copy of extents %v at offset %v exceeds destination extents %v",
				so.shape, offset, do.shape)
		}
	}

	// Walk every source element through its declared strides. This is the
	// behavior the shared-buffer protocol demands: the layout given at
	// creation, not an assumed contiguous one.
	for i2 := 0; i2 < so.shape[2]; i2++ {
		for i1 := 0; i1 < so.shape[1]; i1++ {
			for i0 := 0; i0 < so.shape[0]; i0++ {
				dstElem := do.elemAt(i0+offset[0], i1+offset[1], i2+offset[2])
				copy(dstElem, so.elemAt(i0, i1, i2))
			}
		}
	}
	return nil
}

func (e *Engine) BufferExtents(h raystack.Handle) ([3]int, error) {
	e.calls["BufferExtents"]++
	o, err := e.lookup(h)
	if err != nil {
		return [3]int{}, err
	}
	if !o.isBuffer {
		return [3]int{}, fmt.Errorf("handle %d is not a buffer", h)
	}
	return o.shape, nil
}

// ReadBuffer returns a contiguous snapshot of a buffer's contents,
// element order dimension 0 fastest. Tests use it to verify round-trips.
func (e *Engine) ReadBuffer(h raystack.Handle) ([]byte, [3]int, raystack.DataType, error) {
	o, err := e.lookup(h)
	if err != nil {
		return nil, [3]int{}, raystack.TypeUnknown, err
	}
	if !o.isBuffer {
		return nil, [3]int{}, raystack.TypeUnknown, fmt.Errorf("handle %d is not a buffer", h)
	}
	esz := o.dtype.Size()
	out := make([]byte, o.shape[0]*o.shape[1]*o.shape[2]*esz)
	i := 0
	for i2 := 0; i2 < o.shape[2]; i2++ {
		for i1 := 0; i1 < o.shape[1]; i1++ {
			for i0 := 0; i0 < o.shape[0]; i0++ {
				copy(out[i:i+esz], o.elemAt(i0, i1, i2))
				i += esz
			}
		}
	}
	return out, o.shape, o.dtype, nil
}

func (e *Engine) NewObject(kind raystack.ObjectKind, subtype string) (raystack.Handle, error) {
	e.calls["NewObject"]++
	o := newObject()
	o.kind = kind
	o.subtype = subtype
	return e.register(o), nil
}

func (e *Engine) NewFrameBuffer(width, height int, format raystack.FrameFormat, channels raystack.FrameChannel) (raystack.Handle, error) {
	e.calls["NewFrameBuffer"]++
	if width < 1 || height < 1 {
		return raystack.NilHandle, fmt.Errorf("framebuffer size %dx%d", width, height)
	}
	if channels != raystack.ChannelColor {
		return raystack.NilHandle, fmt.Errorf("unsupported channel set %d", channels)
	}
	switch format {
	case raystack.FormatSRGBA, raystack.FormatRGBA8:
	default:
		return raystack.NilHandle, fmt.Errorf("unsupported framebuffer format %d", format)
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
	e.calls["SetObject"]++
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
	e.calls["SetFloat"]++
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.floats[name] = value
	return nil
}

func (e *Engine) SetInt(h raystack.Handle, name string, value int32) error {
	e.calls["SetInt"]++
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.ints[name] = value
	return nil
}

func (e *Engine) SetUint(h raystack.Handle, name string, value uint32) error {
	e.calls["SetUint"]++
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.uints[name] = value
	return nil
}

func (e *Engine) SetVec3f(h raystack.Handle, name string, value mgl32.Vec3) error {
	e.calls["SetVec3f"]++
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.vec3s[name] = value
	return nil
}

func (e *Engine) SetVec4f(h raystack.Handle, name string, value mgl32.Vec4) error {
	e.calls["SetVec4f"]++
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.vec4s[name] = value
	return nil
}

func (e *Engine) Commit(h raystack.Handle) error {
	e.calls["Commit"]++
	o, err := e.lookup(h)
	if err != nil {
		return err
	}
	o.committed = true
	return nil
}

func (e *Engine) Release(h raystack.Handle) error {
	e.calls["Release"]++
	o, ok := e.handles[h]
	if !ok {
		return fmt.Errorf("release of unknown or already destroyed handle %d", h)
	}
	o.refs--
	if o.refs == 0 {
		delete(e.handles, h)
	}
	return nil
}

func (e *Engine) MapFrameBuffer(h raystack.Handle, channel raystack.FrameChannel) ([]byte, error) {
	e.calls["MapFrameBuffer"]++
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
	e.calls["UnmapFrameBuffer"]++
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
