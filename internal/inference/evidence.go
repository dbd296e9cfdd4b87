// Package inference — evidence.go
//
// Bayes-factor utilities and the evidence ledger.
//
// A per-feature log Bayes factor log BF = log P(f|A) − log P(f|U)
// (Abandoned vs Useful reference pair by default) is attached to every
// inference so the decision is auditable. Numerical safety: log BFs are
// clamped to ±700 before exponentiation (exp(709) is near the float64
// ceiling); Δbits = log BF / ln 2.
//
// Evidence strength follows the Jeffreys scale on |log BF|:
//
//	none        |log BF| ≈ 0
//	anecdotal   < ln 3.2
//	substantial < ln 10
//	strong      < ln 32
//	very strong < ln 100
//	decisive    ≥ ln 100

package inference

import (
	"math"
	"time"
)

// LogBFMax bounds log Bayes factors before exponentiation.
const LogBFMax = 700.0

// Strength is the Jeffreys-scale label for |log BF|.
type Strength uint8

const (
	StrengthNone Strength = iota
	StrengthAnecdotal
	StrengthSubstantial
	StrengthStrong
	StrengthVeryStrong
	StrengthDecisive
)

// String returns the presentation label.
func (s Strength) String() string {
	switch s {
	case StrengthAnecdotal:
		return "anecdotal"
	case StrengthSubstantial:
		return "substantial"
	case StrengthStrong:
		return "strong"
	case StrengthVeryStrong:
		return "very strong"
	case StrengthDecisive:
		return "decisive"
	default:
		return "none"
	}
}

// StrengthFromLogBF classifies |log BF| on the Jeffreys scale. The raw
// log BF is always preserved alongside; labels are presentation only.
func StrengthFromLogBF(logBF float64) Strength {
	if math.IsNaN(logBF) {
		return StrengthNone
	}
	abs := math.Abs(logBF)
	ln3p2 := math.Log(3.2)
	ln32 := math.Log(32)
	ln100 := math.Log(100)
	switch {
	case abs < 1e-12:
		return StrengthNone
	case abs < ln3p2:
		return StrengthAnecdotal
	case abs < math.Ln10:
		return StrengthSubstantial
	case abs < ln32:
		return StrengthStrong
	case abs < ln100:
		return StrengthVeryStrong
	default:
		return StrengthDecisive
	}
}

// Direction records which hypothesis a feature favours.
type Direction int8

const (
	DirectionNeutral Direction = 0
	// DirectionAbandoned: log BF > 0 favours the Abandoned hypothesis.
	DirectionAbandoned Direction = 1
	// DirectionUseful: log BF < 0 favours the Useful hypothesis.
	DirectionUseful Direction = -1
)

// String returns the direction label.
func (d Direction) String() string {
	switch d {
	case DirectionAbandoned:
		return "favors_abandoned"
	case DirectionUseful:
		return "favors_useful"
	default:
		return "neutral"
	}
}

// DirectionFromLogBF derives the direction from the sign of log BF.
func DirectionFromLogBF(logBF float64) Direction {
	if math.IsNaN(logBF) || math.Abs(logBF) < 1e-12 {
		return DirectionNeutral
	}
	if logBF > 0 {
		return DirectionAbandoned
	}
	return DirectionUseful
}

// EValue converts a log Bayes factor to an e-value, clamping to ±LogBFMax
// before exponentiation.
func EValue(logBF float64) float64 {
	if math.IsNaN(logBF) {
		return math.NaN()
	}
	if math.IsInf(logBF, -1) {
		return 0
	}
	if math.IsInf(logBF, 1) {
		return math.MaxFloat64
	}
	return math.Exp(clamp(logBF, -LogBFMax, LogBFMax))
}

// DeltaBits converts a log Bayes factor in nats to bits.
func DeltaBits(logBF float64) float64 {
	return logBF / math.Ln2
}

// BayesFactorEntry is one feature's contribution in the ledger.
type BayesFactorEntry struct {
	Feature   string    `json:"feature"`
	LogBF     float64   `json:"log_bf"`
	EValue    float64   `json:"e_value"`
	DeltaBits float64   `json:"delta_bits"`
	Strength  Strength  `json:"-"`
	Direction Direction `json:"-"`

	// Serialized forms of the enum fields.
	StrengthLabel  string `json:"strength"`
	DirectionLabel string `json:"direction"`
}

// NewBayesFactorEntry packages one feature's log BF with its derived
// presentation fields. NaN log BFs are coerced to 0 so the ledger
// invariant (no NaN entries) holds.
func NewBayesFactorEntry(feature string, logBF float64) BayesFactorEntry {
	if math.IsNaN(logBF) {
		logBF = 0
	}
	s := StrengthFromLogBF(logBF)
	d := DirectionFromLogBF(logBF)
	return BayesFactorEntry{
		Feature:        feature,
		LogBF:          logBF,
		EValue:         EValue(logBF),
		DeltaBits:      DeltaBits(logBF),
		Strength:       s,
		Direction:      d,
		StrengthLabel:  s.String(),
		DirectionLabel: d.String(),
	}
}

// EvidenceLedger is the per-process audit object produced by inference.
type EvidenceLedger struct {
	PID            uint32             `json:"pid"`
	StartID        string             `json:"start_id"`
	Classification Class              `json:"-"`
	Confidence     Confidence         `json:"-"`
	Posterior      Posterior          `json:"posterior"`
	Entries        []BayesFactorEntry `json:"entries"`
	TopEvidence    []string           `json:"top_evidence"`
	WhySummary     string             `json:"why_summary"`
	// BypassedInference marks ledgers produced by the signature fast
	// path, which records a single synthetic entry instead of the full
	// per-feature decomposition.
	BypassedInference bool      `json:"bypassed_inference"`
	GeneratedAt       time.Time `json:"generated_at"`

	ClassificationLabel string `json:"classification"`
	ConfidenceLabel     string `json:"confidence"`
}
