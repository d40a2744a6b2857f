package pipeline

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelslip/internal/models"
	"wheelslip/internal/parser"
)

func TestRunRejectedWheelExcludedDownstream(t *testing.T) {
	raw := []models.RawSample{
		row(1, 0.0, 1000, 1000),
		row(2, 0.1, 1000, 5000),
		row(3, 0.2, 1000, 1000),
	}
	cfg := testConfig()
	cfg.SlipThreshold = 200
	cfg.DiffThreshold = 100

	res := Run(raw, cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	assert.Equal(t, 1, res.Diagnostics.Rejected[models.ReasonAboveMaxRPM])
	require.Len(t, res.Grid, 3)
	assert.Nil(t, res.Grid[1].RightRPM)
	assert.Equal(t, 1000.0, *res.Grid[1].LeftRPM, "left wheel still processed")
	assert.Empty(t, res.Slips, "the 5000 rpm reading never reaches slip detection")
	assert.Empty(t, res.DiffLoads, "paired check skipped where right is missing")
}

func TestRunDenseRejectedWheelStaysMissing(t *testing.T) {
	// 0.10 and 0.13 both sit within tolerance of the 0.1 grid point
	raw := []models.RawSample{
		row(1, 0.00, 1000, 1000),
		row(2, 0.10, 1000, 5000),
		row(3, 0.13, 1400, 1300),
	}
	cfg := testConfig()
	cfg.SlipThreshold = 200
	cfg.DiffThreshold = 100

	res := Run(raw, cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	assert.Equal(t, 1, res.Diagnostics.Rejected[models.ReasonAboveMaxRPM])
	require.Len(t, res.Grid, 2)
	require.NotNil(t, res.Grid[1].LeftRPM)
	assert.Equal(t, 1000.0, *res.Grid[1].LeftRPM, "left comes from the 0.10 row")
	assert.Nil(t, res.Grid[1].RightRPM, "right is not borrowed from the 0.13 row")
	assert.Empty(t, res.Slips)
	assert.Empty(t, res.DiffLoads)
}

func TestRunDenseFilteredWheelStaysMissing(t *testing.T) {
	raw := []models.RawSample{
		row(1, 0.00, 1200, 1000),
		row(2, 0.02, 1200, 1001),
		row(3, 0.04, 1200, 999),
		row(4, 0.06, 1200, 1000),
		row(5, 0.08, 1200, 1001),
		row(6, 0.10, 1200, 2500),
		row(7, 0.12, 1200, 1300),
	}
	cfg := testConfig()
	cfg.ZThreshold = 2.5
	cfg.WindowSize = 5
	cfg.SlipThreshold = 200
	cfg.DiffThreshold = 100

	res := Run(raw, cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	assert.Equal(t, 1, res.Diagnostics.NoiseFiltered[models.WheelRight])
	assert.Zero(t, res.Diagnostics.NoiseFiltered[models.WheelLeft])
	require.Len(t, res.Grid, 2)
	require.NotNil(t, res.Grid[1].LeftRPM)
	assert.Equal(t, 1200.0, *res.Grid[1].LeftRPM)
	assert.Nil(t, res.Grid[1].RightRPM, "right is not borrowed from the 0.08 or 0.12 rows")

	require.Len(t, res.DiffLoads, 1, "only the first grid point carries both wheels")
	assert.Equal(t, res.Grid[0].Time, res.DiffLoads[0].Time)
	assert.Equal(t, 200.0, res.DiffLoads[0].DeltaRPM)
}

func TestRunEndToEndFromCSV(t *testing.T) {
	csv := strings.Join([]string{
		"Time (s),RR Wheel Speed (rpm),RL Wheel Speed (rpm),Steering (degrees)",
		"0.0,1000,1000,0",
		"0.1,1000,1000,0",
		"0.1,1000,1000,0",
		"0.2,1000,1400,1",
		"0.3,1000,1400,2",
		"0.25,1000,1000,2",
		"0.7,1000,1000,0",
		"0.8,bad,1000,0",
		"0.9,1000,1000,0",
	}, "\n")
	raw, err := parser.ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SlipThreshold = 200
	cfg.DiffThreshold = 300

	var logs bytes.Buffer
	res := Run(raw, cfg, slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	d := res.Diagnostics

	assert.Equal(t, 9, d.InputRows)
	assert.Equal(t, 6, d.AcceptedRows)
	assert.Equal(t, 1, d.Rejected[models.ReasonDuplicateTimestamp])
	assert.Equal(t, 1, d.Rejected[models.ReasonOutOfOrder])
	assert.Equal(t, 1, d.Rejected[models.ReasonUnparsable])
	assert.Equal(t, 3, d.TotalRejected())

	// Grid 0.0 .. 0.9, nothing between 0.3 and 0.7 or at 0.8.
	assert.Equal(t, 10, d.GridPoints)
	assert.Equal(t, 4, d.Gaps)

	// 1000 -> 1400 on the left at 0.2; the 1400 -> 1000 drop straddles a gap.
	require.Len(t, res.Slips, 1)
	assert.Equal(t, models.WheelLeft, res.Slips[0].Wheel)
	assert.Equal(t, 400.0, res.Slips[0].DeltaRPM)

	require.Len(t, res.DiffLoads, 2)
	assert.Equal(t, 400.0, res.DiffLoads[0].DeltaRPM)
	assert.Equal(t, d.SlipEvents, len(res.Slips))
	assert.Equal(t, d.DiffLoadEvents, len(res.DiffLoads))

	assert.Contains(t, logs.String(), "pipeline complete")
	assert.Contains(t, logs.String(), "row rejected")
}

func TestRunCleanedSeriesInvariants(t *testing.T) {
	raw := []models.RawSample{
		row(1, 0.00, 1000, 1000),
		row(2, 0.05, 3500, 1000),
		row(3, 0.05, 1000, 1000),
		row(4, 0.02, 1000, 1000),
		row(5, 0.10, -5, 1200),
		row(6, 0.15, 1100, 1100),
		row(7, 0.30, 1100, 9999),
	}
	cfg := testConfig()
	res := Run(raw, cfg, nil)

	for i, s := range res.Cleaned {
		if i > 0 {
			assert.Greater(t, s.Time, res.Cleaned[i-1].Time)
		}
		for _, w := range []models.Wheel{models.WheelLeft, models.WheelRight} {
			if v, ok := s.RPM(w); ok {
				assert.GreaterOrEqual(t, v, cfg.MinRPM)
				assert.LessOrEqual(t, v, cfg.MaxRPM)
			}
		}
	}
	for i, gp := range res.Grid {
		if i > 0 {
			assert.Greater(t, gp.Time, res.Grid[i-1].Time)
		}
	}
}

func TestRunEmptyInput(t *testing.T) {
	res := Run(nil, testConfig(), nil)
	assert.Empty(t, res.Grid)
	assert.Empty(t, res.Slips)
	assert.Zero(t, res.Diagnostics.GridPoints)
}
