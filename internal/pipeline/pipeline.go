// Package pipeline turns parsed wheel-speed rows into a cleaned, gridded
// series and the slip and differential-load events found on it.
//
// Stages run in a fixed order over the whole in-memory dataset:
//
//	Validate -> NoiseFilter -> Resample -> {DetectSlips, DetectDiffLoad}
//
// Each stage takes the immutable config value and returns new slices.
package pipeline

import (
	"log/slog"
	"sort"
	"time"

	"wheelslip/internal/config"
	"wheelslip/internal/models"
)

// Result is everything one run produces
type Result struct {
	Cleaned     []models.Sample    // validated and noise-filtered, irregular timestamps
	Grid        []models.GridPoint // fixed-interval series, gaps marked
	Slips       []models.SlipEvent
	DiffLoads   []models.DiffLoadEvent
	Diagnostics models.Diagnostics
}

// Run executes all stages. Row-level problems are counted, never fatal; the
// config must already be valid.
func Run(raw []models.RawSample, cfg config.Config, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	validated := Validate(raw, cfg)
	for _, issue := range validated.Issues {
		logger.Debug("row rejected",
			slog.Int("row", issue.Row),
			slog.String("reason", string(issue.Reason)),
			slog.String("wheel", string(issue.Wheel)),
			slog.String("detail", issue.Detail))
	}

	filtered := NoiseFilter(validated.Samples, cfg)
	grid := Resample(filtered.Samples, cfg)
	slips := DetectSlips(grid, cfg.SlipThreshold)
	diffs := DetectDiffLoad(grid, cfg.DiffThreshold)

	diag := models.Diagnostics{
		InputRows:      len(raw),
		AcceptedRows:   len(validated.Samples),
		Rejected:       validated.Rejected,
		NoiseFiltered:  filtered.Filtered,
		CleanedSamples: len(filtered.Samples),
		GridPoints:     len(grid),
		Gaps:           CountGaps(grid),
		SlipEvents:     len(slips),
		DiffLoadEvents: len(diffs),
		Issues:         validated.Issues,
	}

	logger.Info("pipeline complete",
		slog.Int("input_rows", diag.InputRows),
		slog.Int("accepted_rows", diag.AcceptedRows),
		slog.Any("rejected", reasonAttrs(diag.Rejected)),
		slog.Int("noise_filtered_left", diag.NoiseFiltered[models.WheelLeft]),
		slog.Int("noise_filtered_right", diag.NoiseFiltered[models.WheelRight]),
		slog.Int("grid_points", diag.GridPoints),
		slog.Int("gaps", diag.Gaps),
		slog.Int("slip_events", diag.SlipEvents),
		slog.Int("diff_load_events", diag.DiffLoadEvents),
		slog.Duration("elapsed", time.Since(start)))

	return Result{
		Cleaned:     filtered.Samples,
		Grid:        grid,
		Slips:       slips,
		DiffLoads:   diffs,
		Diagnostics: diag,
	}
}

// reasonAttrs renders rejection counts as a stable-ordered slog group
func reasonAttrs(m map[models.RejectReason]int) slog.Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Int(k, m[models.RejectReason(k)]))
	}
	return slog.GroupValue(attrs...)
}
