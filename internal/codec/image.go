package codec

import (
	"image"
	"image/color"

	"github.com/strataml/strata/internal/tensor"
)

// ToImage converts one batch item of a channel-first [0,1] pixel tensor into
// an NRGBA image. Grids with a single channel are rendered as grayscale.
func ToImage(img tensor.Grid, b int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.W, img.H))
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			var r, g, bl float32
			if img.C >= 3 {
				r, g, bl = img.At(b, 0, y, x), img.At(b, 1, y, x), img.At(b, 2, y, x)
			} else {
				v := img.At(b, 0, y, x)
				r, g, bl = v, v, v
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(r),
				G: clampByte(g),
				B: clampByte(bl),
				A: 0xff,
			})
		}
	}
	return out
}

// GridFromImage converts an image into a (1, 3, H, W) tensor in [0,1].
func GridFromImage(img image.Image) tensor.Grid {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	out := tensor.NewGrid(1, 3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(0, 0, y, x, float32(r)/0xffff)
			out.Set(0, 1, y, x, float32(g)/0xffff)
			out.Set(0, 2, y, x, float32(b)/0xffff)
		}
	}
	return out
}

// MaskFromImage converts an image into a binary (1, 1, H, W) mask: pixels
// brighter than mid-gray become 1.
func MaskFromImage(img image.Image) tensor.Grid {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	out := tensor.NewGrid(1, 1, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := (float32(r) + float32(g) + float32(b)) / (3 * 0xffff)
			if lum > 0.5 {
				out.Set(0, 0, y, x, 1)
			}
		}
	}
	return out
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(v*255 + 0.5)
}
