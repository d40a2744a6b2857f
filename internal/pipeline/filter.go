package pipeline

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"wheelslip/internal/config"
	"wheelslip/internal/models"
)

// Filtering is the output of the NoiseFilter stage
type Filtering struct {
	Samples  []models.Sample
	Filtered map[models.Wheel]int
}

// NoiseFilter drops wheel readings whose z-score against the trailing window
// of that wheel's previous WindowSize readings exceeds ZThreshold. Wheels are
// scored independently; a sample left with no wheel reading is removed. With
// ZThreshold == 0 the input is returned unchanged.
func NoiseFilter(samples []models.Sample, cfg config.Config) Filtering {
	f := Filtering{Filtered: map[models.Wheel]int{models.WheelLeft: 0, models.WheelRight: 0}}
	if !cfg.FilterEnabled() {
		f.Samples = samples
		return f
	}

	keepLeft := zscoreMask(samples, models.WheelLeft, cfg)
	keepRight := zscoreMask(samples, models.WheelRight, cfg)

	f.Samples = make([]models.Sample, 0, len(samples))
	for i, s := range samples {
		out := s
		if s.LeftRPM != nil && !keepLeft[i] {
			out.LeftRPM = nil
			f.Filtered[models.WheelLeft]++
		}
		if s.RightRPM != nil && !keepRight[i] {
			out.RightRPM = nil
			f.Filtered[models.WheelRight]++
		}
		if out.LeftRPM == nil && out.RightRPM == nil {
			continue
		}
		f.Samples = append(f.Samples, out)
	}
	return f
}

// zscoreMask returns, per sample index, whether the wheel's reading passes.
// Samples without a reading for the wheel are reported as passing.
func zscoreMask(samples []models.Sample, w models.Wheel, cfg config.Config) []bool {
	keep := make([]bool, len(samples))
	window := make([]float64, 0, cfg.WindowSize)

	for i, s := range samples {
		v, ok := s.RPM(w)
		if !ok {
			keep[i] = true
			continue
		}

		keep[i] = withinZ(v, window, cfg.ZThreshold)

		// The window holds every validated reading, including dropped ones.
		if len(window) == cfg.WindowSize {
			copy(window, window[1:])
			window = window[:len(window)-1]
		}
		window = append(window, v)
	}
	return keep
}

// withinZ scores v against the window. Fewer than two readings or a zero
// spread means there is nothing to score against and v passes.
func withinZ(v float64, window []float64, threshold float64) bool {
	if len(window) < 2 {
		return true
	}
	mean, std := stat.MeanStdDev(window, nil)
	if std == 0 || math.IsNaN(std) {
		return true
	}
	return math.Abs((v-mean)/std) <= threshold
}
