package rimage

import (
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
)

// depthGrid adapts a DepthMap to plotter.GridXYZ. Grid rows count up from the bottom of the map so
// the plot looks like the image.
type depthGrid struct {
	dm       *DepthMap
	min, max float64
}

func newDepthGrid(dm *DepthMap) depthGrid {
	min, max := dm.MinMax()
	g := depthGrid{dm: dm, min: float64(min), max: float64(max)}
	if g.max <= g.min {
		g.max = g.min + 1
	}
	return g
}

func (g depthGrid) Dims() (c, r int) {
	return g.dm.Width(), g.dm.Height()
}

func (g depthGrid) Z(c, r int) float64 {
	z := g.dm.GetDepth(c, g.dm.Height()-1-r)
	if z == 0 {
		return math.NaN()
	}
	return float64(z)
}

func (g depthGrid) X(c int) float64 {
	return float64(c)
}

func (g depthGrid) Y(r int) float64 {
	return float64(r)
}

func (g depthGrid) Min() float64 {
	return g.min
}

func (g depthGrid) Max() float64 {
	return g.max
}

// PlotDepthMap returns a heat map of dm. Pixels without a reading are drawn black.
func PlotDepthMap(dm *DepthMap, title string) (*plot.Plot, error) {
	if dm == nil || !dm.HasData() {
		return nil, errors.New("cannot plot an empty depth map")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px from bottom)"

	hm := plotter.NewHeatMap(newDepthGrid(dm), palette.Heat(64, 1))
	hm.Rasterized = dm.Width() > 1 && dm.Height() > 1
	hm.NaN = color.Black
	p.Add(hm)

	p.X.Min, p.X.Max = -0.5, float64(dm.Width())-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(dm.Height())-0.5
	return p, nil
}
