package raystack

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FrameImage maps the color channel of a rendered framebuffer and copies
// it into an image.RGBA. The framebuffer is unmapped before returning.
func FrameImage(eng Engine, scene Scene) (*image.RGBA, error) {
	raw, err := eng.MapFrameBuffer(scene.FrameBuffer, ChannelColor)
	if err != nil {
		return nil, foreignErr("MapFrameBuffer", err)
	}
	defer func() { _ = eng.UnmapFrameBuffer(scene.FrameBuffer) }()

	want := scene.Width * scene.Height * 4
	if len(raw) < want {
		return nil, fmt.Errorf("mapped framebuffer holds %d bytes, need %d for %dx%d RGBA",
			len(raw), want, scene.Width, scene.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, scene.Width, scene.Height))
	copy(img.Pix, raw[:want])
	return img, nil
}

// StampLabel draws a one-line identifying label into the top-left corner of
// the image, white on whatever is underneath.
func StampLabel(img *image.RGBA, label string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(label)
}

// WritePNG encodes img to path and returns the encoded size in bytes.
func WritePNG(path string, img image.Image) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
