package raystack

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// noiseSeed fixes the texture contents so renders are comparable across
// runs and backends.
const noiseSeed = 0

const noiseBlurPasses = 3

// NoiseTexture generates a size×size RGB float texture of smoothed random
// noise, dimension 0 fastest (texel (x,y) at index x + y*size). Each
// channel is independent uniform noise, shifted by tint, clamped to [0,1]
// and blurred with three passes of a sigma-1 gaussian.
func NoiseTexture(size int, tint mgl32.Vec3) []mgl32.Vec3 {
	rng := rand.New(rand.NewSource(noiseSeed))

	texels := make([]mgl32.Vec3, size*size)
	for c := 0; c < 3; c++ {
		for i := range texels {
			texels[i][c] = clamp01(rng.Float32() + tint[c])
		}
	}

	for pass := 0; pass < noiseBlurPasses; pass++ {
		gaussianBlur(texels, size)
	}
	return texels
}

func clamp01(x float32) float32 {
	return math32.Min(math32.Max(x, 0), 1)
}

// gaussianKernel returns a normalized 1D gaussian of sigma 1, truncated at
// three standard deviations.
func gaussianKernel() []float32 {
	const radius = 3
	k := make([]float32, 2*radius+1)
	var sum float32
	for i := -radius; i <= radius; i++ {
		w := math32.Exp(-0.5 * float32(i*i))
		k[i+radius] = w
		sum += w
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur convolves the image in place, one axis at a time, clamping
// samples at the edges.
func gaussianBlur(texels []mgl32.Vec3, size int) {
	kernel := gaussianKernel()
	radius := len(kernel) / 2
	tmp := make([]mgl32.Vec3, len(texels))

	// horizontal
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var acc mgl32.Vec3
			for i, w := range kernel {
				sx := clampIndex(x+i-radius, size)
				acc = acc.Add(texels[sx+y*size].Mul(w))
			}
			tmp[x+y*size] = acc
		}
	}
	// vertical
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var acc mgl32.Vec3
			for i, w := range kernel {
				sy := clampIndex(y+i-radius, size)
				acc = acc.Add(tmp[x+sy*size].Mul(w))
			}
			texels[x+y*size] = acc
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
