package raystack_test

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/raystack"
	"github.com/gekko3d/raystack/softengine"
)

// TestTexturedPlaneFullyOccludes is the regression test for the reported
// marshaling defect: a 19x19 three-channel float texture on a plane that
// fully covers a black triangle. If the texture buffer is mis-marshaled the
// plane turns partially transparent and the triangle (or background) shows
// through; a correct render has every pixel fully opaque and nothing black.
func TestTexturedPlaneFullyOccludes(t *testing.T) {
	eng := softengine.New()
	stack := raystack.NewResourceStack()
	defer func() { require.NoError(t, stack.Close()) }()

	asm := raystack.NewSceneAssembler(eng, stack, raystack.NewNopLogger())
	scene, err := asm.Build(raystack.Config{Resolution: 19, Size: 96})
	require.NoError(t, err)

	_, err = eng.RenderFrameBlocking(scene.FrameBuffer, scene.Renderer, scene.Camera, scene.World)
	require.NoError(t, err)

	img, err := raystack.FrameImage(eng, scene)
	require.NoError(t, err)

	transparent := 0
	black := 0
	for y := 0; y < scene.Height; y++ {
		for x := 0; x < scene.Width; x++ {
			off := img.PixOffset(x, y)
			r, g, b, a := img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]
			if a != 255 {
				transparent++
			}
			if r == 0 && g == 0 && b == 0 {
				black++
			}
		}
	}
	assert.Zero(t, transparent, "every pixel must be fully opaque")
	assert.Zero(t, black, "the occluded black triangle must not show through")
}

func TestSceneTeardownReleasesEverything(t *testing.T) {
	eng := softengine.New()
	stack := raystack.NewResourceStack()

	asm := raystack.NewSceneAssembler(eng, stack, raystack.NewNopLogger())
	_, err := asm.Build(raystack.Config{Resolution: 2, Size: 8})
	require.NoError(t, err)
	require.NotZero(t, eng.LiveObjects())

	require.NoError(t, stack.Close())
	assert.Zero(t, eng.LiveObjects(), "scene teardown must release every engine object")
}

func TestHarnessRunWritesImage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "repro.png")

	h := &raystack.Harness{
		Engine: softengine.New(),
		Config: raystack.Config{Resolution: 16, Size: 64},
		Label:  "cpu16",
	}
	require.NoError(t, h.Run(out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	bounds := img.Bounds()
	assert.Equal(t, 64, bounds.Dx())
	assert.Equal(t, 64, bounds.Dy())
}

func TestHarnessRunFailsOnBadConfig(t *testing.T) {
	h := &raystack.Harness{
		Engine: softengine.New(),
		Config: raystack.Config{Resolution: 0, Size: 64},
	}
	assert.Error(t, h.Run(filepath.Join(t.TempDir(), "never.png")))
}
