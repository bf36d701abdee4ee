package domain

import "sort"

// MeasurementTier classifies a measurement code by accuracy requirements.
type MeasurementTier string

// Measurement tiers per ops manual section 13. P0 codes are required for
// pattern generation; P1 codes refine fit when present.
const (
	// TierP0 requires confidence >= 0.90 and must be present.
	TierP0 MeasurementTier = "P0"
	// TierP1 requires confidence >= 0.85 and may be absent.
	TierP1 MeasurementTier = "P1"
)

// Confidence thresholds applied by the sanity gate.
const (
	P0ConfidenceFloor = 0.90
	P1ConfidenceFloor = 0.85
)

// Measurement is a single measured value with capture confidence.
type Measurement struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

// MeasurementSet maps a measurement code to its captured value.
type MeasurementSet map[string]Measurement

// MeasurementSpec is the static metadata for one measurement code.
type MeasurementSpec struct {
	Code string
	Name string
	Tier MeasurementTier
	// Min and Max bound the physiologically plausible value in centimetres.
	Min float64
	Max float64
}

// measurementSpecs is the documented 19-code schema: 13 P0 codes and 6 P1
// codes, all in centimetres. Ranges come from the sanity-gate tables in the
// ops manual; values outside them force manual review regardless of confidence.
var measurementSpecs = map[string]MeasurementSpec{
	"Cg":  {Code: "Cg", Name: "chest_girth", Tier: TierP0, Min: 60, Max: 160},
	"Wg":  {Code: "Wg", Name: "waist_girth", Tier: TierP0, Min: 50, Max: 150},
	"Hg":  {Code: "Hg", Name: "hip_girth", Tier: TierP0, Min: 60, Max: 160},
	"Sh":  {Code: "Sh", Name: "shoulder_width", Tier: TierP0, Min: 30, Max: 60},
	"Al":  {Code: "Al", Name: "arm_length", Tier: TierP0, Min: 45, Max: 85},
	"Il":  {Code: "Il", Name: "inseam", Tier: TierP0, Min: 55, Max: 105},
	"Nc":  {Code: "Nc", Name: "neck_girth", Tier: TierP0, Min: 28, Max: 55},
	"Bg":  {Code: "Bg", Name: "bicep_girth", Tier: TierP0, Min: 20, Max: 55},
	"Wr":  {Code: "Wr", Name: "wrist_girth", Tier: TierP0, Min: 12, Max: 26},
	"Tg":  {Code: "Tg", Name: "thigh_girth", Tier: TierP0, Min: 35, Max: 90},
	"Kg":  {Code: "Kg", Name: "knee_girth", Tier: TierP0, Min: 25, Max: 60},
	"Ca":  {Code: "Ca", Name: "calf_girth", Tier: TierP0, Min: 25, Max: 60},
	"Bw":  {Code: "Bw", Name: "back_width", Tier: TierP0, Min: 28, Max: 60},
	"Fwl": {Code: "Fwl", Name: "front_waist_length", Tier: TierP1, Min: 30, Max: 60},
	"Bwl": {Code: "Bwl", Name: "back_waist_length", Tier: TierP1, Min: 30, Max: 62},
	"Fsw": {Code: "Fsw", Name: "front_shoulder_width", Tier: TierP1, Min: 28, Max: 55},
	"Si":  {Code: "Si", Name: "sleeve_inseam", Tier: TierP1, Min: 35, Max: 65},
	"Cd":  {Code: "Cd", Name: "crotch_depth", Tier: TierP1, Min: 18, Max: 40},
	"Os":  {Code: "Os", Name: "outseam", Tier: TierP1, Min: 80, Max: 130},
}

// SpecFor returns the static spec for a measurement code.
func SpecFor(code string) (MeasurementSpec, bool) {
	spec, ok := measurementSpecs[code]
	return spec, ok
}

// CodesByTier returns the measurement codes registered under a tier, in
// registration-independent sorted order suitable for deterministic iteration.
func CodesByTier(tier MeasurementTier) []string {
	out := make([]string, 0, len(measurementSpecs))
	for code, spec := range measurementSpecs {
		if spec.Tier == tier {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
