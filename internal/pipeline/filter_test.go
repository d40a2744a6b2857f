package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelslip/internal/models"
)

func samplesFrom(left, right []float64) []models.Sample {
	out := make([]models.Sample, len(left))
	for i := range left {
		out[i] = models.Sample{Time: float64(i) * 0.1, LeftRPM: ptr(left[i]), RightRPM: ptr(right[i])}
	}
	return out
}

func TestNoiseFilterDisabledIsPassThrough(t *testing.T) {
	in := samplesFrom(
		[]float64{1000, 1000, 9000, 1000},
		[]float64{1000, 1000, 1000, 1000},
	)
	cfg := testConfig()
	cfg.ZThreshold = 0

	f := NoiseFilter(in, cfg)
	assert.Equal(t, in, f.Samples)
	assert.Zero(t, f.Filtered[models.WheelLeft])
	assert.Zero(t, f.Filtered[models.WheelRight])
}

func TestNoiseFilterDropsOutlierOnOneWheel(t *testing.T) {
	in := samplesFrom(
		[]float64{1000, 1001, 999, 1000, 1001, 1000, 5000, 1000},
		[]float64{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000},
	)
	cfg := testConfig()
	cfg.ZThreshold = 2.5
	cfg.WindowSize = 5

	f := NoiseFilter(in, cfg)
	require.Len(t, f.Samples, len(in), "right wheel keeps the sample alive")
	assert.Nil(t, f.Samples[6].LeftRPM)
	assert.Equal(t, 1000.0, *f.Samples[6].RightRPM)
	assert.Equal(t, 1000.0, *f.Samples[7].LeftRPM)
	assert.Equal(t, 1, f.Filtered[models.WheelLeft])
	assert.Equal(t, 0, f.Filtered[models.WheelRight])
}

func TestNoiseFilterRemovesSampleWhenBothWheelsDrop(t *testing.T) {
	in := samplesFrom(
		[]float64{1000, 1001, 999, 1000, 4000},
		[]float64{800, 801, 799, 800, 100},
	)
	cfg := testConfig()
	cfg.ZThreshold = 3
	cfg.WindowSize = 10

	f := NoiseFilter(in, cfg)
	require.Len(t, f.Samples, 4)
	assert.Equal(t, 1, f.Filtered[models.WheelLeft])
	assert.Equal(t, 1, f.Filtered[models.WheelRight])
}

func TestNoiseFilterZeroSpreadPasses(t *testing.T) {
	in := samplesFrom(
		[]float64{1000, 1000, 1000, 2000},
		[]float64{1000, 1000, 1000, 1000},
	)
	cfg := testConfig()
	cfg.ZThreshold = 1
	cfg.WindowSize = 3

	f := NoiseFilter(in, cfg)
	require.Len(t, f.Samples, 4)
	assert.Equal(t, 2000.0, *f.Samples[3].LeftRPM)
	assert.Zero(t, f.Filtered[models.WheelLeft])
}

func TestNoiseFilterWarmupUsesAvailableSamples(t *testing.T) {
	// First two readings have fewer than two prior readings and always pass.
	in := samplesFrom(
		[]float64{1000, 2500, 1000},
		[]float64{1000, 1000, 1000},
	)
	cfg := testConfig()
	cfg.ZThreshold = 0.5
	cfg.WindowSize = 50

	f := NoiseFilter(in, cfg)
	require.Len(t, f.Samples, 3)
	assert.NotNil(t, f.Samples[0].LeftRPM)
	assert.NotNil(t, f.Samples[1].LeftRPM)
}

func TestNoiseFilterSkipsMissingReadings(t *testing.T) {
	in := []models.Sample{
		{Time: 0, LeftRPM: ptr(1000), RightRPM: ptr(1000)},
		{Time: 0.1, RightRPM: ptr(1000)},
		{Time: 0.2, LeftRPM: ptr(1000), RightRPM: ptr(1000)},
	}
	cfg := testConfig()
	cfg.ZThreshold = 2

	f := NoiseFilter(in, cfg)
	require.Len(t, f.Samples, 3)
	assert.Nil(t, f.Samples[1].LeftRPM)
	assert.Zero(t, f.Filtered[models.WheelLeft])
}
