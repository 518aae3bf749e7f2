package raystack

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoiseTextureDeterministic(t *testing.T) {
	a := NoiseTexture(19, mgl32.Vec3{})
	b := NoiseTexture(19, mgl32.Vec3{})
	assert.Equal(t, a, b)
}

func TestNoiseTextureRange(t *testing.T) {
	for _, size := range []int{1, 2, 16, 19} {
		texels := NoiseTexture(size, mgl32.Vec3{})
		require.Len(t, texels, size*size)
		for i, tx := range texels {
			for c := 0; c < 3; c++ {
				assert.GreaterOrEqual(t, tx[c], float32(0), "texel %d channel %d", i, c)
				assert.LessOrEqual(t, tx[c], float32(1), "texel %d channel %d", i, c)
			}
		}
	}
}

func TestNoiseTextureTintSaturates(t *testing.T) {
	texels := NoiseTexture(8, mgl32.Vec3{1, 0, 0})
	for _, tx := range texels {
		// the red channel is clamped to 1 before blurring, so it stays 1
		assert.InDelta(t, 1.0, tx[0], 1e-5)
	}
}

func TestNoiseTextureBlursTowardMean(t *testing.T) {
	texels := NoiseTexture(19, mgl32.Vec3{})

	var mean, lo, hi float32
	lo, hi = 1, 0
	for _, tx := range texels {
		mean += tx[0]
		if tx[0] < lo {
			lo = tx[0]
		}
		if tx[0] > hi {
			hi = tx[0]
		}
	}
	mean /= float32(len(texels))

	// three gaussian passes pull uniform noise well off the extremes
	assert.Greater(t, lo, float32(0.05))
	assert.Less(t, hi, float32(0.95))
	assert.InDelta(t, 0.5, mean, 0.15)
}
