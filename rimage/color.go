package rimage

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// NewColorFromHSV returns a fully opaque color from hue (degrees), saturation and value.
func NewColorFromHSV(h, s, v float64) color.RGBA {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return color.RGBA{r, g, b, 255}
}

// ToPrettyPicture colors the map on a hue ramp from near (orange) to far (blue), clamping depths
// to [hardMin, hardMax]. Pixels without a reading are left transparent.
func (dm *DepthMap) ToPrettyPicture(hardMin, hardMax Depth) image.Image {
	min, max := dm.MinMax()

	if min < hardMin {
		min = hardMin
	}
	if hardMax > 0 && max > hardMax {
		max = hardMax
	}

	img := image.NewRGBA(dm.Bounds())

	span := float64(max) - float64(min)

	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}

			if z < min {
				z = min
			}
			if z > max {
				z = max
			}

			ratio := 0.0
			if span > 0 {
				ratio = float64(z-min) / span
			}

			hue := 30 + (200.0 * ratio)
			img.SetRGBA(x, y, NewColorFromHSV(hue, 1.0, 1.0))
		}
	}

	return img
}
