package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"wheelslip/internal/parser"

	"github.com/spf13/cobra"
)

// genOptions controls the synthetic wheel-speed trace
type genOptions struct {
	Duration float64 // seconds
	Rate     float64 // samples per second
	BaseRPM  float64
	Noise    float64 // std dev of sensor noise (rpm)
	Seed     int64
}

// generateTrace writes a CSV trace with the standard telemetry header. It
// injects a left-wheel slip, a logging dropout, a right-wheel sensor fault
// and a duplicated timestamp at fixed fractions of the duration.
func generateTrace(w io.Writer, opts genOptions) (int, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{parser.ColTime, parser.ColRightRPM, parser.ColLeftRPM, parser.ColSteering}); err != nil {
		return 0, err
	}

	var (
		slipStart, slipEnd = 0.3 * opts.Duration, 0.3*opts.Duration + 0.4
		dropStart, dropEnd = 0.6 * opts.Duration, 0.6*opts.Duration + 0.5
		faultAt            = int(0.45 * opts.Duration * opts.Rate)
		dupAt              = int(0.75 * opts.Duration * opts.Rate)
	)

	n := int(opts.Duration * opts.Rate)
	rows := 0
	for i := 0; i < n; i++ {
		t := float64(i) / opts.Rate
		if t >= dropStart && t < dropEnd {
			continue
		}

		steering := 12 * math.Sin(2*math.Pi*t/6)
		left := opts.BaseRPM + steering*3 + rng.NormFloat64()*opts.Noise
		right := opts.BaseRPM - steering*3 + rng.NormFloat64()*opts.Noise
		if t >= slipStart && t < slipEnd {
			left += 450
		}
		if i == faultAt {
			right = 5000
		}

		record := []string{
			strconv.FormatFloat(t, 'f', 4, 64),
			strconv.FormatFloat(right, 'f', 1, 64),
			strconv.FormatFloat(left, 'f', 1, 64),
			strconv.FormatFloat(steering, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return rows, err
		}
		rows++
		if i == dupAt {
			if err := cw.Write(record); err != nil {
				return rows, err
			}
			rows++
		}
	}

	cw.Flush()
	return rows, cw.Error()
}

// generateCmd writes a synthetic telemetry CSV
func generateCmd() *cobra.Command {
	opts := genOptions{}
	var out string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic wheel-speed telemetry CSV",
		RunE: func(_ *cobra.Command, args []string) error {
			if opts.Duration <= 0 || opts.Rate <= 0 {
				return fmt.Errorf("duration and rate must be positive")
			}
			if opts.Seed == 0 {
				opts.Seed = time.Now().UnixNano()
			}

			var w io.Writer = os.Stdout
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()
				w = file
			}

			rows, err := generateTrace(w, opts)
			if err != nil {
				return fmt.Errorf("writing trace: %w", err)
			}
			if out != "" {
				fmt.Fprintf(os.Stderr, "Generated %d rows (seed %d) in %s\n", rows, opts.Seed, out)
			}
			return nil
		},
	}

	cmd.Flags().Float64VarP(&opts.Duration, "duration", "d", 20, "Trace length (s)")
	cmd.Flags().Float64VarP(&opts.Rate, "rate", "r", 50, "Sample rate (Hz)")
	cmd.Flags().Float64Var(&opts.BaseRPM, "base-rpm", 1000, "Cruising wheel speed (rpm)")
	cmd.Flags().Float64Var(&opts.Noise, "noise", 4, "Sensor noise std dev (rpm)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed (0 picks a time based seed)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default stdout)")
	return cmd
}
