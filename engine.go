package raystack

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// Handle is an opaque reference to an engine-side object. The engine
// reference-counts its objects; a handle stays valid until the refcount
// reaches zero. The zero value is the nil handle.
type Handle uint64

const NilHandle Handle = 0

// DataType identifies the element type of an engine buffer.
type DataType int

const (
	TypeUnknown DataType = iota

	// scalar and vector element types
	TypeFloat32
	TypeUint32
	TypeUint64
	TypeVec2f
	TypeVec3f
	TypeVec3ui
	TypeVec4ui

	// object reference types; elements are handle-sized unsigned integers
	TypeGeometricModel
	TypeInstance
	TypeLight
)

// Size returns the element size in bytes.
func (t DataType) Size() int {
	switch t {
	case TypeFloat32, TypeUint32:
		return 4
	case TypeVec2f:
		return 8
	case TypeUint64:
		return 8
	case TypeVec3f, TypeVec3ui:
		return 12
	case TypeVec4ui:
		return 16
	case TypeGeometricModel, TypeInstance, TypeLight:
		return int(unsafe.Sizeof(Handle(0)))
	}
	return 0
}

// IsObject reports whether elements of this type are engine object handles.
func (t DataType) IsObject() bool {
	switch t {
	case TypeGeometricModel, TypeInstance, TypeLight:
		return true
	}
	return false
}

func (t DataType) String() string {
	switch t {
	case TypeFloat32:
		return "float32"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeVec2f:
		return "vec2f"
	case TypeVec3f:
		return "vec3f"
	case TypeVec3ui:
		return "vec3ui"
	case TypeVec4ui:
		return "vec4ui"
	case TypeGeometricModel:
		return "geometric_model"
	case TypeInstance:
		return "instance"
	case TypeLight:
		return "light"
	}
	return "unknown"
}

// ObjectKind names a family of engine scene objects.
type ObjectKind string

const (
	KindGeometry       ObjectKind = "geometry"
	KindMaterial       ObjectKind = "material"
	KindTexture        ObjectKind = "texture"
	KindGeometricModel ObjectKind = "geometric_model"
	KindGroup          ObjectKind = "group"
	KindInstance       ObjectKind = "instance"
	KindLight          ObjectKind = "light"
	KindWorld          ObjectKind = "world"
	KindCamera         ObjectKind = "camera"
	KindRenderer       ObjectKind = "renderer"
)

// TextureFormat selects the pixel layout of a texture's data buffer.
type TextureFormat uint32

const (
	TextureRGB32F TextureFormat = iota + 1
)

// FrameFormat selects the pixel encoding of a framebuffer.
type FrameFormat int

const (
	// FormatSRGBA is 8-bit RGBA with sRGB-encoded color channels.
	FormatSRGBA FrameFormat = iota + 1
	// FormatRGBA8 is 8-bit RGBA with linear color channels.
	FormatRGBA8
)

// FrameChannel selects which framebuffer channel to map.
type FrameChannel int

const (
	ChannelColor FrameChannel = iota + 1
)

// Engine is the object-commit protocol of the external rendering engine.
// Every call blocks until the engine has finished it. Implementations are
// explicit device values; there is no process-global current device.
//
// Property setters and Commit follow the engine's two-phase model: setters
// stage values, Commit finalizes the current property set and makes the
// object usable by dependents.
type Engine interface {
	// NewSharedBuffer creates a buffer descriptor aliasing caller memory.
	// The caller must keep the memory alive and unchanged for as long as
	// the handle is used. Extents and byte strides describe the layout per
	// dimension, dimension 0 fastest-varying.
	NewSharedBuffer(ptr unsafe.Pointer, t DataType, extents, strides [3]int) (Handle, error)

	// NewOwnedBuffer creates an engine-owned buffer of the given extents.
	NewOwnedBuffer(t DataType, extents [3]int) (Handle, error)

	// CopyBuffer copies the full contents of src into dst at the given
	// destination offset. Both buffers must be committed.
	CopyBuffer(src, dst Handle, offset [3]int) error

	// BufferExtents returns the three-dimensional extents of a buffer.
	BufferExtents(h Handle) ([3]int, error)

	NewObject(kind ObjectKind, subtype string) (Handle, error)
	NewFrameBuffer(width, height int, format FrameFormat, channels FrameChannel) (Handle, error)

	SetObject(h Handle, name string, value Handle) error
	SetFloat(h Handle, name string, value float32) error
	SetInt(h Handle, name string, value int32) error
	SetUint(h Handle, name string, value uint32) error
	SetVec3f(h Handle, name string, value mgl32.Vec3) error
	SetVec4f(h Handle, name string, value mgl32.Vec4) error

	Commit(h Handle) error

	// Release decrements the object's reference count, destroying it at
	// zero. Releasing an unknown or already-destroyed handle is an error.
	Release(h Handle) error

	// RenderFrameBlocking renders one frame into the framebuffer and
	// returns the frame variance estimate.
	RenderFrameBlocking(framebuffer, renderer, camera, world Handle) (float32, error)

	// MapFrameBuffer exposes the raw pixels of a framebuffer channel. The
	// slice stays valid until UnmapFrameBuffer.
	MapFrameBuffer(framebuffer Handle, channel FrameChannel) ([]byte, error)
	UnmapFrameBuffer(framebuffer Handle) error
}
