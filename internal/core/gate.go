package core

import (
	"fmt"

	"stitchcore/pkg/domain"
)

// ratioRule is a cross-field plausibility check evaluated after the per-field
// pass. Rules only run when both codes passed individually.
type ratioRule struct {
	name    string
	greater string
	lesser  string
}

var ratioRules = []ratioRule{
	{name: "chest_over_waist", greater: "Cg", lesser: "Wg"},
	{name: "hip_over_waist", greater: "Hg", lesser: "Wg"},
	{name: "thigh_over_knee", greater: "Tg", lesser: "Kg"},
	{name: "outseam_over_inseam", greater: "Os", lesser: "Il"},
}

// SanityGate validates measurement sets against the static code schema. It is
// pure: the same set always yields the same verdict.
type SanityGate struct {
	// HardFailRatios promotes ratio findings from warnings to failures.
	HardFailRatios bool
}

// Evaluate produces the verdict for a measurement set. Every P0 code must be
// present, in range, and at or above the P0 confidence floor. P1 codes are
// checked only when present; an absent P1 code is a warning. The overall
// confidence is a P0-weighted mean attached for reporting and never gates the
// pass flag.
func (g SanityGate) Evaluate(set MeasurementSet) Verdict {
	verdict := Verdict{Pass: true}

	var p0Sum, p1Sum float64
	var p0N, p1N int
	fieldOK := make(map[string]bool, len(set))

	for _, code := range domain.CodesByTier(domain.TierP0) {
		m, present := set[code]
		if !present {
			verdict.Failures = append(verdict.Failures, FieldError{
				Code:   code,
				Reason: "required measurement missing",
			})
			continue
		}
		p0Sum += m.Confidence
		p0N++
		if errs := checkField(code, m, domain.P0ConfidenceFloor); len(errs) > 0 {
			verdict.Failures = append(verdict.Failures, errs...)
			continue
		}
		fieldOK[code] = true
	}

	for _, code := range domain.CodesByTier(domain.TierP1) {
		m, present := set[code]
		if !present {
			verdict.Warnings = append(verdict.Warnings, FieldWarning{
				Code:   code,
				Reason: "secondary measurement missing",
			})
			continue
		}
		p1Sum += m.Confidence
		p1N++
		if errs := checkField(code, m, domain.P1ConfidenceFloor); len(errs) > 0 {
			verdict.Failures = append(verdict.Failures, errs...)
			continue
		}
		fieldOK[code] = true
	}

	for _, rule := range ratioRules {
		if !fieldOK[rule.greater] || !fieldOK[rule.lesser] {
			continue
		}
		if set[rule.greater].Value > set[rule.lesser].Value {
			continue
		}
		reason := fmt.Sprintf("ratio %s violated: %s=%.1f is not greater than %s=%.1f",
			rule.name, rule.greater, set[rule.greater].Value, rule.lesser, set[rule.lesser].Value)
		if g.HardFailRatios {
			verdict.Failures = append(verdict.Failures, FieldError{Code: rule.greater, Reason: reason})
		} else {
			verdict.Warnings = append(verdict.Warnings, FieldWarning{Code: rule.greater, Reason: reason})
		}
	}

	for code := range set {
		if _, known := domain.SpecFor(code); !known {
			verdict.Warnings = append(verdict.Warnings, FieldWarning{
				Code:   code,
				Reason: "unknown measurement code ignored",
			})
		}
	}

	verdict.Pass = len(verdict.Failures) == 0
	verdict.OverallConfidence = overallConfidence(p0Sum, p0N, p1Sum, p1N)
	return verdict
}

func checkField(code string, m Measurement, floor float64) []FieldError {
	spec, _ := domain.SpecFor(code)
	var errs []FieldError
	if m.Value < spec.Min || m.Value > spec.Max {
		errs = append(errs, FieldError{
			Code:   code,
			Value:  m.Value,
			Reason: fmt.Sprintf("value %.1f outside range [%.1f, %.1f]", m.Value, spec.Min, spec.Max),
		})
	}
	if m.Confidence < floor {
		errs = append(errs, FieldError{
			Code:   code,
			Value:  m.Value,
			Reason: fmt.Sprintf("confidence %.2f below floor %.2f", m.Confidence, floor),
		})
	}
	return errs
}

// overallConfidence is the weighted mean with P0 weight 2 and P1 weight 1.
// Absent tiers contribute zero to their average.
func overallConfidence(p0Sum float64, p0N int, p1Sum float64, p1N int) float64 {
	var p0Avg, p1Avg float64
	if p0N > 0 {
		p0Avg = p0Sum / float64(p0N)
	}
	if p1N > 0 {
		p1Avg = p1Sum / float64(p1N)
	}
	return (p0Avg*2 + p1Avg) / 3
}
