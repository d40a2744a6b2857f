package output

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"wheelslip/internal/models"
	"wheelslip/internal/pipeline"
)

// emptyValue is how echarts marks a missing point in a series
const emptyValue = "-"

// RenderChart writes an interactive HTML page with the wheel speeds over the
// grid and a scatter of event deltas.
func RenderChart(w io.Writer, title string, grid []models.GridPoint, slips []models.SlipEvent, diffLoads []models.DiffLoadEvent) error {
	times := make([]string, len(grid))
	for i, gp := range grid {
		times[i] = formatTime(gp.Time)
	}

	speed := charts.NewLine()
	speed.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Rear wheel speed",
			Subtitle: fmt.Sprintf("%s points=%d gaps=%d", title, len(grid), pipeline.CountGaps(grid)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rpm"}),
	)
	speed.SetXAxis(times).
		AddSeries("RL wheel", lineData(grid, models.WheelLeft)).
		AddSeries("RR wheel", lineData(grid, models.WheelRight))

	events := charts.NewScatter()
	events.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Events",
			Subtitle: fmt.Sprintf("slips=%d diff_loads=%d", len(slips), len(diffLoads)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "delta (rpm)"}),
	)

	var left, right, diffs []opts.ScatterData
	for _, e := range slips {
		pt := opts.ScatterData{Value: []interface{}{roundTime(e.Time), e.DeltaRPM}}
		if e.Wheel == models.WheelLeft {
			left = append(left, pt)
		} else {
			right = append(right, pt)
		}
	}
	for _, e := range diffLoads {
		diffs = append(diffs, opts.ScatterData{Value: []interface{}{roundTime(e.Time), e.DeltaRPM}})
	}
	events.AddSeries("slip RL", left, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10})).
		AddSeries("slip RR", right, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10})).
		AddSeries("diff load", diffs, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	page := components.NewPage()
	page.AddCharts(speed, events)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func lineData(grid []models.GridPoint, w models.Wheel) []opts.LineData {
	data := make([]opts.LineData, len(grid))
	for i, gp := range grid {
		if v, ok := gp.RPM(w); ok {
			data[i] = opts.LineData{Value: v}
		} else {
			data[i] = opts.LineData{Value: emptyValue}
		}
	}
	return data
}
