package output

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"wheelslip/internal/models"
	"wheelslip/internal/pipeline"
)

var (
	leftColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	rightColor    = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	slipColor     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	diffLoadColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// RenderPlot draws both wheel speeds over the grid with slip and
// differential-load events marked, and saves it to path. The format follows
// the file extension (png, svg, pdf).
func RenderPlot(path string, res pipeline.Result) error {
	p := plot.New()
	p.Title.Text = "Rear wheel speed"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Wheel speed (rpm)"
	p.Add(plotter.NewGrid())

	for _, w := range []struct {
		wheel models.Wheel
		label string
		color color.Color
	}{
		{models.WheelLeft, "RL wheel", leftColor},
		{models.WheelRight, "RR wheel", rightColor},
	} {
		segments := wheelSegments(res.Grid, w.wheel)
		for i, seg := range segments {
			line, err := plotter.NewLine(seg)
			if err != nil {
				return fmt.Errorf("%s line: %w", w.wheel, err)
			}
			line.Color = w.color
			line.Width = vg.Points(1)
			p.Add(line)
			if i == 0 {
				p.Legend.Add(w.label, line)
			}
		}
	}

	if len(res.Slips) > 0 {
		pts := make(plotter.XYs, len(res.Slips))
		for i, e := range res.Slips {
			pts[i] = plotter.XY{X: e.Time, Y: e.CurrentRPM}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("slip markers: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		sc.GlyphStyle.Color = slipColor
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("slip (%d)", len(res.Slips)), sc)
	}

	if len(res.DiffLoads) > 0 {
		pts := make(plotter.XYs, len(res.DiffLoads))
		for i, e := range res.DiffLoads {
			pts[i] = plotter.XY{X: e.Time, Y: (e.LeftRPM + e.RightRPM) / 2}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("diff-load markers: %w", err)
		}
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		sc.GlyphStyle.Color = diffLoadColor
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("diff load (%d)", len(res.DiffLoads)), sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// wheelSegments splits one wheel's grid values into runs of consecutive
// present points so lines break at gaps instead of bridging them.
func wheelSegments(grid []models.GridPoint, w models.Wheel) []plotter.XYs {
	var segments []plotter.XYs
	var cur plotter.XYs
	for _, gp := range grid {
		v, ok := gp.RPM(w)
		if !ok {
			if len(cur) > 0 {
				segments = append(segments, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: gp.Time, Y: v})
	}
	if len(cur) > 0 {
		segments = append(segments, cur)
	}
	return segments
}
