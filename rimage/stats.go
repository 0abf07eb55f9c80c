package rimage

import (
	"fmt"
	"io"
	"sort"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrNoReadings is returned by statistics helpers when every sample of a map is zero.
var ErrNoReadings = errors.New("depth map has no readings")

// DepthStats summarizes the non-zero samples of a depth map. Depths are in millimeters.
type DepthStats struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Valid  int     `json:"valid"`
	Min    Depth   `json:"min"`
	Max    Depth   `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P95    float64 `json:"p95"`
}

// ValidRatio is the fraction of samples holding a reading.
func (s DepthStats) ValidRatio() float64 {
	if s.Width*s.Height == 0 {
		return 0
	}
	return float64(s.Valid) / float64(s.Width*s.Height)
}

func (dm *DepthMap) validDepths() []float64 {
	depths := make([]float64, 0, len(dm.data))
	for _, z := range dm.data {
		if z != 0 {
			depths = append(depths, float64(z))
		}
	}
	return depths
}

// Stats computes summary statistics over the samples with a reading. The float fields are 0 when
// there are none. P5 and P95 are nearest-rank percentiles.
func Stats(dm *DepthMap) DepthStats {
	s := DepthStats{Width: dm.Width(), Height: dm.Height()}
	depths := dm.validDepths()
	s.Valid = len(depths)
	if s.Valid == 0 {
		return s
	}
	s.Min, s.Max = dm.MinMax()
	if s.Valid > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(depths, nil)
	} else {
		s.Mean = depths[0]
	}
	sort.Float64s(depths)
	s.Median = stat.Quantile(0.5, stat.Empirical, depths, nil)
	// only errors on empty input or a percent out of (0, 100]
	//nolint:errcheck
	s.P5, _ = stats.PercentileNearestRank(depths, 5)
	//nolint:errcheck
	s.P95, _ = stats.PercentileNearestRank(depths, 95)
	return s
}

// FprintHistogram draws a text histogram of the samples with a reading to w.
func FprintHistogram(w io.Writer, dm *DepthMap, bins, width int) error {
	depths := dm.validDepths()
	if len(depths) == 0 {
		return ErrNoReadings
	}
	if bins < 1 {
		bins = 1
	}
	min, max := dm.MinMax()
	if min == max {
		_, err := fmt.Fprintf(w, "%d-%d\t100%%\t%d\n", min, max, len(depths))
		return err
	}
	hist := histogram.Hist(bins, depths)
	return histogram.Fprint(w, hist, histogram.Linear(width))
}
