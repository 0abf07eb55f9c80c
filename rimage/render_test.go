package rimage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcam/utils"
)

func TestToPrettyPicture(t *testing.T) {
	dm := NewEmptyDepthMap(3, 1)
	dm.Set(1, 0, 1000)
	dm.Set(2, 0, 3000)

	img := dm.ToPrettyPicture(0, 0)
	test.That(t, img.Bounds(), test.ShouldResemble, dm.Bounds())

	_, _, _, a := img.At(0, 0).RGBA()
	test.That(t, a, test.ShouldEqual, uint32(0))

	near := img.At(1, 0).(color.RGBA)
	far := img.At(2, 0).(color.RGBA)
	test.That(t, near.A, test.ShouldEqual, uint8(255))
	test.That(t, near.R, test.ShouldBeGreaterThan, near.B)
	test.That(t, far.B, test.ShouldBeGreaterThan, far.R)

	// a single reading has no span and still gets a color
	single := NewEmptyDepthMap(1, 1)
	single.Set(0, 0, 42)
	test.That(t, single.ToPrettyPicture(0, 0).At(0, 0).(color.RGBA), test.ShouldResemble, NewColorFromHSV(30, 1, 1))
}

func TestDrawCaptionAndThumbnail(t *testing.T) {
	dm := gradientDepthMap(64, 48)
	captioned := DrawCaption(dm.ToPrettyPicture(0, 0), "depth 64x48")
	test.That(t, captioned.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 48))

	thumb := dm.Thumbnail(16, 16)
	test.That(t, thumb.Bounds().Dx(), test.ShouldEqual, 16)
	test.That(t, thumb.Bounds().Dy(), test.ShouldEqual, 12)
	test.That(t, Font(), test.ShouldNotBeNil)
}

func TestEncodeImage(t *testing.T) {
	ctx := context.Background()
	dm := gradientDepthMap(8, 6)

	t.Run("png", func(t *testing.T) {
		data, err := EncodeImage(ctx, dm, utils.MimeTypePNG)
		test.That(t, err, test.ShouldBeNil)
		img, err := DecodeImage(ctx, data, utils.MimeTypePNG)
		test.That(t, err, test.ShouldBeNil)
		decoded, ok := img.(*DepthMap)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, decoded.Data(), test.ShouldResemble, dm.Data())
	})

	t.Run("raw depth", func(t *testing.T) {
		data, err := EncodeImage(ctx, dm, utils.MimeTypeRawDepth)
		test.That(t, err, test.ShouldBeNil)
		img, err := DecodeImage(ctx, data, utils.MimeTypeRawDepth)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.(*DepthMap).Data(), test.ShouldResemble, dm.Data())

		_, err = EncodeImage(ctx, image.NewRGBA(image.Rect(0, 0, 1, 1)), utils.MimeTypeRawDepth)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("jpeg", func(t *testing.T) {
		data, err := EncodeImage(ctx, dm, utils.MimeTypeJPEG)
		test.That(t, err, test.ShouldBeNil)
		img, err := DecodeImage(ctx, data, utils.MimeTypeJPEG)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds(), test.ShouldResemble, dm.Bounds())
	})

	for _, mimeType := range []string{utils.MimeTypeQOI, utils.MimeTypePPM} {
		t.Run(mimeType, func(t *testing.T) {
			data, err := EncodeImage(ctx, dm, mimeType)
			test.That(t, err, test.ShouldBeNil)
			img, err := DecodeImage(ctx, data, mimeType)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, img.Bounds(), test.ShouldResemble, dm.Bounds())

			// both formats are lossless, so the colorized pixels come back unchanged
			want := dm.ToPrettyPicture(0, 0)
			r1, g1, b1, _ := want.At(3, 2).RGBA()
			r2, g2, b2, _ := img.At(3, 2).RGBA()
			test.That(t, []uint32{r2, g2, b2}, test.ShouldResemble, []uint32{r1, g1, b1})
		})
	}

	_, err := EncodeImage(ctx, dm, "image/bmp")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EncodeImage(ctx, nil, utils.MimeTypePNG)
	test.That(t, err, test.ShouldNotBeNil)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = EncodeImage(cancelCtx, dm, utils.MimeTypePNG)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestPlotDepthMap(t *testing.T) {
	dm := gradientDepthMap(20, 10)
	dm.Set(3, 3, 0)

	p, err := PlotDepthMap(dm, "Depth Image (20x10)")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Title.Text, test.ShouldEqual, "Depth Image (20x10)")
	test.That(t, p.X.Max, test.ShouldEqual, 19.5)
	test.That(t, p.Y.Max, test.ShouldEqual, 9.5)

	wt, err := p.WriterTo(200, 100, "png")
	test.That(t, err, test.ShouldBeNil)
	var buf bytes.Buffer
	_, err = wt.WriteTo(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.Len(), test.ShouldBeGreaterThan, 0)

	grid := newDepthGrid(dm)
	c, r := grid.Dims()
	test.That(t, c, test.ShouldEqual, 20)
	test.That(t, r, test.ShouldEqual, 10)
	// grid row 0 is the bottom row of the map
	test.That(t, grid.Z(0, 0), test.ShouldEqual, float64(dm.GetDepth(0, 9)))
	test.That(t, math.IsNaN(grid.Z(3, 6)), test.ShouldBeTrue)

	flat := NewEmptyDepthMap(2, 2)
	flat.Set(0, 0, 5)
	flat.Set(1, 1, 5)
	flatGrid := newDepthGrid(flat)
	test.That(t, flatGrid.Max(), test.ShouldBeGreaterThan, flatGrid.Min())

	_, err = PlotDepthMap(NewEmptyDepthMap(0, 0), "empty")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStats(t *testing.T) {
	dm := NewEmptyDepthMap(2, 3)
	for i, z := range []Depth{0, 100, 200, 300, 0, 400} {
		dm.Set(i%2, i/2, z)
	}

	s := Stats(dm)
	test.That(t, s.Width, test.ShouldEqual, 2)
	test.That(t, s.Height, test.ShouldEqual, 3)
	test.That(t, s.Valid, test.ShouldEqual, 4)
	test.That(t, s.ValidRatio(), test.ShouldAlmostEqual, 4.0/6.0)
	test.That(t, s.Min, test.ShouldEqual, Depth(100))
	test.That(t, s.Max, test.ShouldEqual, Depth(400))
	test.That(t, s.Mean, test.ShouldAlmostEqual, 250.0)
	test.That(t, s.StdDev, test.ShouldAlmostEqual, math.Sqrt(50000.0/3.0))
	test.That(t, s.Median, test.ShouldAlmostEqual, 200.0)
	test.That(t, s.P5, test.ShouldEqual, 100.0)
	test.That(t, s.P95, test.ShouldEqual, 400.0)

	empty := Stats(NewEmptyDepthMap(4, 4))
	test.That(t, empty.Valid, test.ShouldEqual, 0)
	test.That(t, empty.Mean, test.ShouldEqual, 0.0)

	var out strings.Builder
	test.That(t, FprintHistogram(&out, dm, 4, 20), test.ShouldBeNil)
	test.That(t, out.Len(), test.ShouldBeGreaterThan, 0)

	err := FprintHistogram(&out, NewEmptyDepthMap(4, 4), 4, 20)
	test.That(t, errors.Is(err, ErrNoReadings), test.ShouldBeTrue)

	flat := NewEmptyDepthMap(2, 1)
	flat.Set(0, 0, 7)
	flat.Set(1, 0, 7)
	out.Reset()
	test.That(t, FprintHistogram(&out, flat, 4, 20), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "7-7")
}
