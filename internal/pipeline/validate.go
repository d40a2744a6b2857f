package pipeline

import (
	"fmt"

	"wheelslip/internal/config"
	"wheelslip/internal/models"
)

// Validation is the output of the Validate stage
type Validation struct {
	Samples  []models.Sample
	Rejected map[models.RejectReason]int
	Issues   []models.RowIssue
}

func (v *Validation) reject(row int, reason models.RejectReason, wheel models.Wheel, detail string) {
	v.Rejected[reason]++
	v.Issues = append(v.Issues, models.RowIssue{Row: row, Reason: reason, Wheel: wheel, Detail: detail})
}

// Validate checks each parsed row in input order. Rows that are unparsable,
// missing a required field, or not strictly later than the last accepted row
// are rejected whole. An out-of-range RPM drops only that wheel's reading;
// the row is rejected when neither wheel survives. Every rejection is counted.
func Validate(raw []models.RawSample, cfg config.Config) Validation {
	v := Validation{Rejected: make(map[models.RejectReason]int)}

	var last float64
	haveLast := false

	for _, r := range raw {
		if r.ParseErr != nil {
			v.reject(r.Row, models.ReasonUnparsable, "", r.ParseErr.Error())
			continue
		}
		if r.Time == nil || r.LeftRPM == nil || r.RightRPM == nil {
			v.reject(r.Row, models.ReasonMissingField, "", missingDetail(r))
			continue
		}

		ts := *r.Time
		if haveLast && ts == last {
			v.reject(r.Row, models.ReasonDuplicateTimestamp, "", fmt.Sprintf("t=%g", ts))
			continue
		}
		if haveLast && ts < last {
			v.reject(r.Row, models.ReasonOutOfOrder, "", fmt.Sprintf("t=%g after t=%g", ts, last))
			continue
		}

		s := models.Sample{Time: ts, Steering: copyFloat(r.Steering)}
		s.LeftRPM = v.checkRange(r.Row, models.WheelLeft, *r.LeftRPM, cfg)
		s.RightRPM = v.checkRange(r.Row, models.WheelRight, *r.RightRPM, cfg)
		if s.LeftRPM == nil && s.RightRPM == nil {
			continue
		}

		v.Samples = append(v.Samples, s)
		last = ts
		haveLast = true
	}

	return v
}

// checkRange returns the reading when it lies in [MinRPM, MaxRPM], else
// records the rejection and returns nil
func (v *Validation) checkRange(row int, w models.Wheel, rpm float64, cfg config.Config) *float64 {
	switch {
	case rpm < cfg.MinRPM:
		v.reject(row, models.ReasonBelowMinRPM, w, fmt.Sprintf("%g < %g", rpm, cfg.MinRPM))
		return nil
	case rpm > cfg.MaxRPM:
		v.reject(row, models.ReasonAboveMaxRPM, w, fmt.Sprintf("%g > %g", rpm, cfg.MaxRPM))
		return nil
	}
	return &rpm
}

func missingDetail(r models.RawSample) string {
	switch {
	case r.Time == nil:
		return "time"
	case r.LeftRPM == nil:
		return "left rpm"
	default:
		return "right rpm"
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
