// Package output writes pipeline results to flat files: CSV tables for the
// cleaned grid and both event types, a JSON diagnostics summary, a PNG plot
// and an interactive HTML chart.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"wheelslip/internal/models"
	"wheelslip/internal/pipeline"
)

// File names written by WriteAll
const (
	CleanedFile     = "cleaned.csv"
	SlipsFile       = "slips.csv"
	DiffLoadsFile   = "diffloads.csv"
	DiagnosticsFile = "diagnostics.json"
	PlotFile        = "plot.png"
	ChartFile       = "chart.html"
)

// Files lists the paths written by WriteAll
type Files struct {
	Cleaned     string `json:"cleaned"`
	Slips       string `json:"slips"`
	DiffLoads   string `json:"diff_loads"`
	Diagnostics string `json:"diagnostics"`
	Plot        string `json:"plot,omitempty"`
	Chart       string `json:"chart,omitempty"`
}

// WriteAll writes every output of a run into dir, creating it if needed.
// The PNG plot and the HTML chart are skipped when withPlot is false.
func WriteAll(dir string, res pipeline.Result, withPlot bool) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	files := Files{
		Cleaned:     filepath.Join(dir, CleanedFile),
		Slips:       filepath.Join(dir, SlipsFile),
		DiffLoads:   filepath.Join(dir, DiffLoadsFile),
		Diagnostics: filepath.Join(dir, DiagnosticsFile),
	}

	writers := []struct {
		path  string
		write func(io.Writer) error
	}{
		{files.Cleaned, func(w io.Writer) error { return WriteCleaned(w, res.Grid) }},
		{files.Slips, func(w io.Writer) error { return WriteSlips(w, res.Slips) }},
		{files.DiffLoads, func(w io.Writer) error { return WriteDiffLoads(w, res.DiffLoads) }},
		{files.Diagnostics, func(w io.Writer) error { return WriteDiagnostics(w, res.Diagnostics) }},
	}
	for _, wr := range writers {
		if err := writeFile(wr.path, wr.write); err != nil {
			return files, err
		}
	}

	if withPlot {
		files.Plot = filepath.Join(dir, PlotFile)
		if err := RenderPlot(files.Plot, res); err != nil {
			return files, err
		}

		files.Chart = filepath.Join(dir, ChartFile)
		err := writeFile(files.Chart, func(w io.Writer) error {
			return RenderChart(w, filepath.Base(dir), res.Grid, res.Slips, res.DiffLoads)
		})
		if err != nil {
			return files, err
		}
	}

	return files, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteCleaned writes the grid as time,left_rpm,right_rpm,steering. Gap
// points and missing wheel readings are written as empty cells.
func WriteCleaned(w io.Writer, grid []models.GridPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "left_rpm", "right_rpm", "steering"}); err != nil {
		return err
	}
	for _, gp := range grid {
		rec := []string{
			formatTime(gp.Time),
			formatOptional(gp.LeftRPM),
			formatOptional(gp.RightRPM),
			formatOptional(gp.Steering),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSlips writes slip events as time,wheel,prior_rpm,current_rpm,delta_rpm
func WriteSlips(w io.Writer, events []models.SlipEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "wheel", "prior_rpm", "current_rpm", "delta_rpm"}); err != nil {
		return err
	}
	for _, e := range events {
		rec := []string{
			formatTime(e.Time),
			string(e.Wheel),
			formatFloat(e.PriorRPM),
			formatFloat(e.CurrentRPM),
			formatFloat(e.DeltaRPM),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDiffLoads writes differential-load events as time,left_rpm,right_rpm,delta_rpm
func WriteDiffLoads(w io.Writer, events []models.DiffLoadEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "left_rpm", "right_rpm", "delta_rpm"}); err != nil {
		return err
	}
	for _, e := range events {
		rec := []string{
			formatTime(e.Time),
			formatFloat(e.LeftRPM),
			formatFloat(e.RightRPM),
			formatFloat(e.DeltaRPM),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDiagnostics writes the run counters as indented JSON
func WriteDiagnostics(w io.Writer, d models.Diagnostics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// roundTime trims grid arithmetic noise such as 0.30000000000000004
func roundTime(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func formatTime(v float64) string {
	return formatFloat(roundTime(v))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(p *float64) string {
	if p == nil {
		return ""
	}
	return formatFloat(*p)
}
