package pipeline

import (
	"math"

	"wheelslip/internal/models"
)

// DetectSlips walks the grid once per wheel and emits a SlipEvent whenever the
// reading changes by at least threshold between two adjacent grid points that
// both carry a reading for that wheel. A gap or a filtered reading leaves the
// wheel nil on that grid point, so no delta is taken across it and a dropout
// never reads as a slip.
func DetectSlips(grid []models.GridPoint, threshold float64) []models.SlipEvent {
	var events []models.SlipEvent
	for i := 1; i < len(grid); i++ {
		prev, cur := grid[i-1], grid[i]
		for _, w := range []models.Wheel{models.WheelLeft, models.WheelRight} {
			before, ok1 := prev.RPM(w)
			after, ok2 := cur.RPM(w)
			if !ok1 || !ok2 {
				continue
			}
			delta := after - before
			if math.Abs(delta) >= threshold {
				events = append(events, models.SlipEvent{
					Time:       cur.Time,
					Wheel:      w,
					PriorRPM:   before,
					CurrentRPM: after,
					DeltaRPM:   delta,
				})
			}
		}
	}
	return events
}

// DetectDiffLoad flags grid points where both wheels are present and
// |left - right| is at least threshold. The sign of DeltaRPM is kept.
func DetectDiffLoad(grid []models.GridPoint, threshold float64) []models.DiffLoadEvent {
	var events []models.DiffLoadEvent
	for _, gp := range grid {
		left, okL := gp.RPM(models.WheelLeft)
		right, okR := gp.RPM(models.WheelRight)
		if !okL || !okR {
			continue
		}
		delta := left - right
		if math.Abs(delta) >= threshold {
			events = append(events, models.DiffLoadEvent{
				Time:     gp.Time,
				LeftRPM:  left,
				RightRPM: right,
				DeltaRPM: delta,
			})
		}
	}
	return events
}
