package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"wheelslip/internal/models"
)

// Column names expected in the logger export, matched case-insensitively
const (
	ColTime     = "time (s)"
	ColRightRPM = "rr wheel speed (rpm)"
	ColLeftRPM  = "rl wheel speed (rpm)"
	ColSteering = "steering (degrees)"
)

// RequiredColumns must all be present in the header
var RequiredColumns = []string{ColTime, ColRightRPM, ColLeftRPM}

var (
	// ErrEmptyInput is returned when the file has no header row
	ErrEmptyInput = errors.New("empty input")
	// ErrMissingColumn is returned when a required column is absent
	ErrMissingColumn = errors.New("missing required column")
)

// ParseFile parses a wheel-speed CSV file
func ParseFile(filename string) ([]models.RawSample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseCSV(file)
}

// ParseCSV reads wheel-speed rows. Structural problems (no header, missing
// required columns) are returned as errors before any row is read; cell-level
// problems are carried on each RawSample for the validator to count.
func ParseCSV(r io.Reader) ([]models.RawSample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // short rows show up as missing fields
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff") // byte order mark
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := indices[col]; !ok {
			missing = append(missing, fmt.Sprintf("%q", col))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	var results []models.RawSample
	row := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++

		var perr *csv.ParseError
		if errors.As(err, &perr) {
			results = append(results, models.RawSample{Row: row, ParseErr: perr.Err})
			continue
		}
		if err != nil {
			return results, fmt.Errorf("error at row %d: %w", row, err)
		}
		if isBlank(record) {
			continue
		}

		results = append(results, recordToSample(row, record, indices))
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: header only", ErrEmptyInput)
	}

	return results, nil
}

// recordToSample converts a CSV record to a RawSample using the header map
func recordToSample(row int, record []string, indices map[string]int) models.RawSample {
	s := models.RawSample{Row: row}

	getValue := func(key string) (*float64, error) {
		idx, ok := indices[key]
		if !ok || idx >= len(record) {
			return nil, nil
		}
		v := strings.TrimSpace(record[idx])
		if v == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("column %q: cannot parse %q", key, v)
		}
		return &f, nil
	}

	var errs []error
	var err error
	if s.Time, err = getValue(ColTime); err != nil {
		errs = append(errs, err)
	}
	if s.LeftRPM, err = getValue(ColLeftRPM); err != nil {
		errs = append(errs, err)
	}
	if s.RightRPM, err = getValue(ColRightRPM); err != nil {
		errs = append(errs, err)
	}
	// Steering is informational; a bad cell drops the value, not the row.
	s.Steering, _ = getValue(ColSteering)
	s.ParseErr = errors.Join(errs...)

	return s
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
