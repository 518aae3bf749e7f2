package raystack_test

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/raystack"
	"github.com/gekko3d/raystack/softengine"
)

func TestFrameImageCopiesAndUnmaps(t *testing.T) {
	eng := softengine.New()
	fb, err := eng.NewFrameBuffer(8, 8, raystack.FormatRGBA8, raystack.ChannelColor)
	require.NoError(t, err)
	scene := raystack.Scene{FrameBuffer: fb, Width: 8, Height: 8}

	px, err := eng.MapFrameBuffer(fb, raystack.ChannelColor)
	require.NoError(t, err)
	px[0], px[1], px[2], px[3] = 10, 20, 30, 255
	require.NoError(t, eng.UnmapFrameBuffer(fb))

	img, err := raystack.FrameImage(eng, scene)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255}, []byte(img.Pix[:4]))

	// the framebuffer must be unmapped again afterwards
	_, err = eng.MapFrameBuffer(fb, raystack.ChannelColor)
	require.NoError(t, err)
	require.NoError(t, eng.UnmapFrameBuffer(fb))
}

func TestStampLabelMarksImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	before := make([]byte, len(img.Pix))
	copy(before, img.Pix)

	raystack.StampLabel(img, "cpu19")
	assert.NotEqual(t, before, []byte(img.Pix))
}

func TestWritePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}

	path := filepath.Join(t.TempDir(), "out.png")
	n, err := raystack.WritePNG(path, img)
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
