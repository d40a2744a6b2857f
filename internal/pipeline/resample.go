package pipeline

import (
	"math"

	"wheelslip/internal/config"
	"wheelslip/internal/models"
)

// Resample maps samples (strictly increasing in time) onto a fixed grid
// starting at the first sample. Grid point k sits at origin + k*TimeBinSize.
// A grid point takes every value of the single closest sample within
// MaxTimeDifference of the grid time, preferring the earlier sample on a tie.
// A wheel that sample lacks stays empty rather than borrowing from a
// neighbour. A grid point nothing matched is marked as a gap; values are
// never interpolated.
func Resample(samples []models.Sample, cfg config.Config) []models.GridPoint {
	if len(samples) == 0 {
		return nil
	}

	origin := samples[0].Time
	end := samples[len(samples)-1].Time + cfg.MaxTimeDifference
	n := int(math.Floor((end-origin)/cfg.TimeBinSize+gridEpsilon)) + 1

	grid := make([]models.GridPoint, 0, n)
	lo := 0
	for k := 0; k < n; k++ {
		t := origin + float64(k)*cfg.TimeBinSize

		// Advance past samples that are too early for this and every later grid point.
		for lo < len(samples) && samples[lo].Time < t-cfg.MaxTimeDifference {
			lo++
		}

		gp := models.GridPoint{Index: k, Time: t}
		best := -1
		for j := lo; j < len(samples) && samples[j].Time <= t+cfg.MaxTimeDifference; j++ {
			// strict comparison keeps the earlier sample on a tie
			if best < 0 || math.Abs(samples[j].Time-t) < math.Abs(samples[best].Time-t) {
				best = j
			}
		}

		if best < 0 {
			gp.Gap = true
		} else {
			s := samples[best]
			gp.LeftRPM = copyFloat(s.LeftRPM)
			gp.RightRPM = copyFloat(s.RightRPM)
			gp.Steering = copyFloat(s.Steering)
		}
		grid = append(grid, gp)
	}

	return grid
}

// gridEpsilon absorbs floating-point error when the span is an exact
// multiple of the bin size.
const gridEpsilon = 1e-9

// CountGaps returns the number of grid points with no matched sample
func CountGaps(grid []models.GridPoint) int {
	n := 0
	for _, gp := range grid {
		if gp.Gap {
			n++
		}
	}
	return n
}

// GridToSamples converts the present grid points back into samples
func GridToSamples(grid []models.GridPoint) []models.Sample {
	out := make([]models.Sample, 0, len(grid))
	for _, gp := range grid {
		if gp.Gap {
			continue
		}
		out = append(out, models.Sample{
			Time:     gp.Time,
			LeftRPM:  copyFloat(gp.LeftRPM),
			RightRPM: copyFloat(gp.RightRPM),
			Steering: copyFloat(gp.Steering),
		})
	}
	return out
}
