package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawCaption returns a copy of img with text written in the top left corner over a dark band.
func DrawCaption(img image.Image, text string) image.Image {
	dc := gg.NewContextForImage(img)
	size := float64(dc.Height()) / 24
	if size < 10 {
		size = 10
	}
	dc.SetColor(color.RGBA{0, 0, 0, 160})
	dc.DrawRectangle(0, 0, float64(dc.Width()), size*1.6)
	dc.Fill()
	DrawString(dc, text, image.Point{int(size / 3), int(size / 4)}, color.White, size)
	return dc.Image()
}

// Thumbnail returns the colorized map scaled to fit within maxWidth x maxHeight.
func (dm *DepthMap) Thumbnail(maxWidth, maxHeight int) image.Image {
	return imaging.Fit(dm.ToPrettyPicture(0, 0), maxWidth, maxHeight, imaging.NearestNeighbor)
}
