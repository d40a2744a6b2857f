package models

import "time"

// Wheel identifies one of the two rear wheels
type Wheel string

const (
	WheelLeft  Wheel = "left"
	WheelRight Wheel = "right"
)

// ParseWheel maps a wheel name to a Wheel
func ParseWheel(s string) (Wheel, bool) {
	switch Wheel(s) {
	case WheelLeft, WheelRight:
		return Wheel(s), true
	}
	return "", false
}

// RejectReason names why a row, or one wheel reading of a row, was dropped
type RejectReason string

const (
	ReasonMissingField       RejectReason = "missing_field"
	ReasonUnparsable         RejectReason = "unparsable_value"
	ReasonDuplicateTimestamp RejectReason = "duplicate_timestamp"
	ReasonOutOfOrder         RejectReason = "out_of_order"
	ReasonBelowMinRPM        RejectReason = "below_min_rpm"
	ReasonAboveMaxRPM        RejectReason = "above_max_rpm"
)

// RawSample is one parsed CSV row before validation. A nil field means the
// cell was empty or the column is absent.
type RawSample struct {
	Row      int      // 1-based data row number in the source file
	Time     *float64 // seconds
	LeftRPM  *float64
	RightRPM *float64
	Steering *float64 // degrees

	// ParseErr is set when a cell could not be parsed as a number
	ParseErr error
}

// Sample is a validated wheel-speed reading. Either wheel may be absent when
// its reading was rejected or filtered; at least one is present.
type Sample struct {
	Time     float64  `json:"time"`
	LeftRPM  *float64 `json:"left_rpm,omitempty"`
	RightRPM *float64 `json:"right_rpm,omitempty"`
	Steering *float64 `json:"steering,omitempty"`
}

// RPM returns the reading for one wheel
func (s Sample) RPM(w Wheel) (float64, bool) {
	p := s.LeftRPM
	if w == WheelRight {
		p = s.RightRPM
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// GridPoint is one fixed-interval point of the resampled series
type GridPoint struct {
	Index    int      `json:"index"`
	Time     float64  `json:"time"`
	LeftRPM  *float64 `json:"left_rpm,omitempty"`
	RightRPM *float64 `json:"right_rpm,omitempty"`
	Steering *float64 `json:"steering,omitempty"`
	Gap      bool     `json:"gap"`
}

// RPM returns the value for one wheel at this grid point
func (g GridPoint) RPM(w Wheel) (float64, bool) {
	p := g.LeftRPM
	if w == WheelRight {
		p = g.RightRPM
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SlipEvent is an abrupt single-wheel speed change between adjacent grid points
type SlipEvent struct {
	Time       float64 `json:"time"`
	Wheel      Wheel   `json:"wheel"`
	PriorRPM   float64 `json:"prior_rpm"`
	CurrentRPM float64 `json:"current_rpm"`
	DeltaRPM   float64 `json:"delta_rpm"`
}

// DiffLoadEvent is a left/right imbalance at one grid point
type DiffLoadEvent struct {
	Time     float64 `json:"time"`
	LeftRPM  float64 `json:"left_rpm"`
	RightRPM float64 `json:"right_rpm"`
	DeltaRPM float64 `json:"delta_rpm"` // left - right
}

// RowIssue is a per-row diagnostic. Wheel is empty when the whole row was rejected.
type RowIssue struct {
	Row    int          `json:"row"`
	Reason RejectReason `json:"reason"`
	Wheel  Wheel        `json:"wheel,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// Diagnostics holds the per-run counters handed to the log and file writers
type Diagnostics struct {
	InputRows      int                  `json:"input_rows"`
	AcceptedRows   int                  `json:"accepted_rows"`
	Rejected       map[RejectReason]int `json:"rejected"`
	NoiseFiltered  map[Wheel]int        `json:"noise_filtered"`
	CleanedSamples int                  `json:"cleaned_samples"`
	GridPoints     int                  `json:"grid_points"`
	Gaps           int                  `json:"gaps"`
	SlipEvents     int                  `json:"slip_events"`
	DiffLoadEvents int                  `json:"diff_load_events"`
	Issues         []RowIssue           `json:"issues,omitempty"`
}

// TotalRejected sums rejections over all reasons
func (d Diagnostics) TotalRejected() int {
	n := 0
	for _, c := range d.Rejected {
		n += c
	}
	return n
}

// Run is a stored pipeline run
type Run struct {
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	CreatedAt   time.Time   `json:"created_at"`
	Config      string      `json:"config"` // YAML snapshot of the thresholds used
	Diagnostics Diagnostics `json:"diagnostics"`
}

// RunQuery filters stored runs
type RunQuery struct {
	Source string
	Limit  int
	Offset int
}
