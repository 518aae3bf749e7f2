package softengine

import (
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/raystack"
)

func TestReleaseDestroysAtZero(t *testing.T) {
	e := New()
	h, err := e.NewObject(raystack.KindGroup, "")
	require.NoError(t, err)
	require.Equal(t, 1, e.LiveObjects())

	require.NoError(t, e.Release(h))
	assert.Zero(t, e.LiveObjects())

	// double release is a caller error and must be detected
	assert.Error(t, e.Release(h))
}

func TestReleaseUnknownHandle(t *testing.T) {
	e := New()
	assert.Error(t, e.Release(raystack.Handle(99)))
}

func TestCallCountProbe(t *testing.T) {
	e := New()
	_, err := e.NewOwnedBuffer(raystack.TypeFloat32, [3]int{4, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, e.CallCount("NewOwnedBuffer"))
	assert.Zero(t, e.CallCount("CopyBuffer"))
}

func TestCopyBufferHonorsSourceStrides(t *testing.T) {
	e := New()

	// two rows of three float32 values, rows padded to five
	host := []float32{
		1, 2, 3, -1, -1,
		4, 5, 6, -1, -1,
	}
	src, err := e.NewSharedBuffer(
		unsafe.Pointer(&host[0]),
		raystack.TypeFloat32,
		[3]int{3, 2, 1},
		[3]int{4, 20, 40},
	)
	require.NoError(t, err)
	require.NoError(t, e.Commit(src))

	dst, err := e.NewOwnedBuffer(raystack.TypeFloat32, [3]int{3, 2, 1})
	require.NoError(t, err)
	require.NoError(t, e.Commit(dst))
	require.NoError(t, e.CopyBuffer(src, dst, [3]int{}))

	got, shape, dtype, err := e.ReadBuffer(dst)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 1}, shape)
	assert.Equal(t, raystack.TypeFloat32, dtype)

	want := []float32{1, 2, 3, 4, 5, 6}
	assert.Equal(t, unsafe.Slice((*byte)(unsafe.Pointer(&want[0])), 24), got)
}

func TestCopyBufferRejectsOversizedSource(t *testing.T) {
	e := New()
	host := make([]float32, 16)
	src, err := e.NewSharedBuffer(
		unsafe.Pointer(&host[0]),
		raystack.TypeFloat32,
		[3]int{16, 1, 1},
		[3]int{4, 64, 64},
	)
	require.NoError(t, err)

	dst, err := e.NewOwnedBuffer(raystack.TypeFloat32, [3]int{8, 1, 1})
	require.NoError(t, err)

	assert.Error(t, e.CopyBuffer(src, dst, [3]int{}))
	assert.Error(t, e.CopyBuffer(src, dst, [3]int{4, 0, 0}))
}

func TestCopyBufferRejectsTypeMismatch(t *testing.T) {
	e := New()
	host := make([]float32, 4)
	src, err := e.NewSharedBuffer(
		unsafe.Pointer(&host[0]),
		raystack.TypeFloat32,
		[3]int{4, 1, 1},
		[3]int{4, 16, 16},
	)
	require.NoError(t, err)

	dst, err := e.NewOwnedBuffer(raystack.TypeUint32, [3]int{4, 1, 1})
	require.NoError(t, err)

	assert.Error(t, e.CopyBuffer(src, dst, [3]int{}))
}

func TestFrameBufferMapUnmap(t *testing.T) {
	e := New()
	fb, err := e.NewFrameBuffer(4, 4, raystack.FormatSRGBA, raystack.ChannelColor)
	require.NoError(t, err)

	px, err := e.MapFrameBuffer(fb, raystack.ChannelColor)
	require.NoError(t, err)
	assert.Len(t, px, 4*4*4)

	// a second map while mapped is an error
	_, err = e.MapFrameBuffer(fb, raystack.ChannelColor)
	assert.Error(t, err)

	require.NoError(t, e.UnmapFrameBuffer(fb))
	assert.Error(t, e.UnmapFrameBuffer(fb))
}

func TestRenderBackgroundOnly(t *testing.T) {
	e := New()

	world, err := e.NewObject(raystack.KindWorld, "")
	require.NoError(t, err)
	require.NoError(t, e.Commit(world))

	renderer, err := e.NewObject(raystack.KindRenderer, "scivis")
	require.NoError(t, err)
	require.NoError(t, e.SetVec4f(renderer, "backgroundColor", mgl32.Vec4{0, 1, 0, 1}))
	require.NoError(t, e.Commit(renderer))

	camera, err := e.NewObject(raystack.KindCamera, "orthographic")
	require.NoError(t, err)
	require.NoError(t, e.SetFloat(camera, "height", 1))
	require.NoError(t, e.SetVec3f(camera, "position", mgl32.Vec3{0, 0, 1}))
	require.NoError(t, e.SetVec3f(camera, "direction", mgl32.Vec3{0, 0, -1}))
	require.NoError(t, e.SetVec3f(camera, "up", mgl32.Vec3{0, 1, 0}))
	require.NoError(t, e.Commit(camera))

	fb, err := e.NewFrameBuffer(2, 2, raystack.FormatRGBA8, raystack.ChannelColor)
	require.NoError(t, err)
	require.NoError(t, e.Commit(fb))

	_, err = e.RenderFrameBlocking(fb, renderer, camera, world)
	require.NoError(t, err)

	px, err := e.MapFrameBuffer(fb, raystack.ChannelColor)
	require.NoError(t, err)
	defer func() { require.NoError(t, e.UnmapFrameBuffer(fb)) }()

	for i := 0; i < len(px); i += 4 {
		assert.Equal(t, []byte{0, 255, 0, 255}, px[i:i+4])
	}
}

func TestRenderRequiresCommittedObjects(t *testing.T) {
	e := New()

	world, _ := e.NewObject(raystack.KindWorld, "")
	renderer, _ := e.NewObject(raystack.KindRenderer, "scivis")
	camera, _ := e.NewObject(raystack.KindCamera, "orthographic")
	fb, _ := e.NewFrameBuffer(2, 2, raystack.FormatRGBA8, raystack.ChannelColor)

	_, err := e.RenderFrameBlocking(fb, renderer, camera, world)
	assert.Error(t, err)
}
