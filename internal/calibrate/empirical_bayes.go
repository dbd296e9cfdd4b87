// Package calibrate — empirical_bayes.go
//
// Empirical-Bayes hyperparameter refits from action outcomes.
//
// Conjugate update rules, discounted by the learning rate η and
// clamped to a maximum relative change δ per refit:
//
//	Beta(α, β) + (k successes, n−k failures):
//	    α' = clamp(α + η·k,       α·(1−δ), α·(1+δ))
//	    β' = clamp(β + η·(n−k),   β·(1−δ), β·(1+δ))
//	Gamma(shape, rate) + (n values, sum S): analogous
//	Dirichlet(α…) + counts c…: per-component analogous
//
// No refit happens below min_observations. Every refit reports a
// clamped flag per changed parameter; consumers may reject refits that
// clamped a majority of parameters.

package calibrate

import (
	"fmt"
	"math"
	"time"
)

// Config bounds the refit aggressiveness.
type Config struct {
	// MaxChangeFraction is δ, the maximum relative change per
	// parameter per refit.
	MaxChangeFraction float64 `yaml:"max_change_fraction" json:"max_change_fraction"`
	// MinObservations gates refits entirely.
	MinObservations int `yaml:"min_observations" json:"min_observations"`
	// LearningRate is η, the discount on new evidence.
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
}

// DefaultConfig mirrors the shipped calibration defaults.
func DefaultConfig() Config {
	return Config{MaxChangeFraction: 0.3, MinObservations: 20, LearningRate: 0.5}
}

// Validate enforces the config invariants.
func (c Config) Validate() error {
	if c.MaxChangeFraction <= 0 || c.MaxChangeFraction >= 1 {
		return fmt.Errorf("calibrate: max_change_fraction must be in (0,1), got %g", c.MaxChangeFraction)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("calibrate: learning_rate must be in (0,1], got %g", c.LearningRate)
	}
	if c.MinObservations < 1 {
		return fmt.Errorf("calibrate: min_observations must be >= 1, got %d", c.MinObservations)
	}
	return nil
}

// clampParam bounds raw against a maximum relative change from prior.
// Returns the bounded value and whether clamping occurred.
func clampParam(prior, raw, maxFraction float64) (float64, bool) {
	lo := prior * (1 - maxFraction)
	hi := prior * (1 + maxFraction)
	if raw < lo {
		return lo, true
	}
	if raw > hi {
		return hi, true
	}
	return raw, false
}

// BetaUpdate applies one discounted, clamped conjugate Beta update.
func BetaUpdate(alpha, beta float64, successes, trials uint64, cfg Config) (newAlpha, newBeta float64, clamped bool) {
	if trials == 0 {
		return alpha, beta, false
	}
	failures := trials - successes
	rawAlpha := alpha + cfg.LearningRate*float64(successes)
	rawBeta := beta + cfg.LearningRate*float64(failures)

	a, ca := clampParam(alpha, rawAlpha, cfg.MaxChangeFraction)
	b, cb := clampParam(beta, rawBeta, cfg.MaxChangeFraction)
	return a, b, ca || cb
}

// GammaUpdate applies one discounted, clamped conjugate Gamma update
// (shape + η·n, rate + η·Σx).
func GammaUpdate(shape, rate float64, count uint64, sum float64, cfg Config) (newShape, newRate float64, clamped bool) {
	if count == 0 {
		return shape, rate, false
	}
	rawShape := shape + cfg.LearningRate*float64(count)
	rawRate := rate + cfg.LearningRate*sum

	s, cs := clampParam(shape, rawShape, cfg.MaxChangeFraction)
	r, cr := clampParam(rate, rawRate, cfg.MaxChangeFraction)
	return s, r, cs || cr
}

// DirichletUpdate applies one discounted, clamped conjugate Dirichlet
// update per component. The counts vector must match the alpha vector.
func DirichletUpdate(alpha []float64, counts []uint64, cfg Config) ([]float64, bool, error) {
	if len(alpha) != len(counts) {
		return nil, false, fmt.Errorf("calibrate: dirichlet alpha has %d components, counts %d",
			len(alpha), len(counts))
	}
	out := make([]float64, len(alpha))
	any := false
	for i, a := range alpha {
		raw := a + cfg.LearningRate*float64(counts[i])
		v, c := clampParam(a, raw, cfg.MaxChangeFraction)
		out[i] = v
		any = any || c
	}
	return out, any, nil
}

// ─── Refit over a parameter set ──────────────────────────────────────────────

// ParamKind discriminates ParamValue.
type ParamKind string

const (
	ParamBeta      ParamKind = "beta"
	ParamGamma     ParamKind = "gamma"
	ParamDirichlet ParamKind = "dirichlet"
)

// ParamValue is one named hyperparameter bundle.
type ParamValue struct {
	Kind  ParamKind `json:"kind"`
	Alpha float64   `json:"alpha,omitempty"`
	Beta  float64   `json:"beta,omitempty"`
	Shape float64   `json:"shape,omitempty"`
	Rate  float64   `json:"rate,omitempty"`
	Vec   []float64 `json:"vec,omitempty"`
}

// BetaObservation summarizes outcomes for one Beta-distributed
// parameter path (e.g. "classes.abandoned.cpu_beta").
type BetaObservation struct {
	Path      string
	Successes uint64
	Trials    uint64
}

// GammaObservation summarizes outcomes for one Gamma path.
type GammaObservation struct {
	Path  string
	Count uint64
	Sum   float64
}

// DirichletObservation summarizes category counts for one Dirichlet
// path.
type DirichletObservation struct {
	Path   string
	Counts []uint64
}

// Change records one parameter's before/after in a refit.
type Change struct {
	Path    string     `json:"path"`
	Before  ParamValue `json:"before"`
	After   ParamValue `json:"after"`
	Clamped bool       `json:"clamped"`
}

// RefitResult is the full outcome of one refit pass.
type RefitResult struct {
	ComputedAt       time.Time `json:"computed_at"`
	ObservationCount uint64    `json:"observation_count"`
	Changes          []Change  `json:"changes"`
	HasChanges       bool      `json:"has_changes"`
	ClampedMajority  bool      `json:"clamped_majority"`
}

// ComputeRefit applies all observation summaries against the current
// parameter set. Parameters without observations are untouched;
// observations without a matching parameter are ignored.
func ComputeRefit(
	betaObs []BetaObservation,
	gammaObs []GammaObservation,
	dirichletObs []DirichletObservation,
	params map[string]ParamValue,
	cfg Config,
) RefitResult {
	var total uint64
	for _, o := range betaObs {
		total += o.Trials
	}
	for _, o := range gammaObs {
		total += o.Count
	}
	for _, o := range dirichletObs {
		for _, c := range o.Counts {
			total += c
		}
	}

	res := RefitResult{ComputedAt: time.Now().UTC(), ObservationCount: total}
	if total < uint64(cfg.MinObservations) {
		return res
	}

	for _, o := range betaObs {
		p, ok := params[o.Path]
		if !ok || p.Kind != ParamBeta {
			continue
		}
		a, b, clamped := BetaUpdate(p.Alpha, p.Beta, o.Successes, o.Trials, cfg)
		if differs(a, p.Alpha) || differs(b, p.Beta) {
			res.Changes = append(res.Changes, Change{
				Path:    o.Path,
				Before:  p,
				After:   ParamValue{Kind: ParamBeta, Alpha: a, Beta: b},
				Clamped: clamped,
			})
		}
	}
	for _, o := range gammaObs {
		p, ok := params[o.Path]
		if !ok || p.Kind != ParamGamma {
			continue
		}
		s, r, clamped := GammaUpdate(p.Shape, p.Rate, o.Count, o.Sum, cfg)
		if differs(s, p.Shape) || differs(r, p.Rate) {
			res.Changes = append(res.Changes, Change{
				Path:    o.Path,
				Before:  p,
				After:   ParamValue{Kind: ParamGamma, Shape: s, Rate: r},
				Clamped: clamped,
			})
		}
	}
	for _, o := range dirichletObs {
		p, ok := params[o.Path]
		if !ok || p.Kind != ParamDirichlet {
			continue
		}
		vec, clamped, err := DirichletUpdate(p.Vec, o.Counts, cfg)
		if err != nil {
			continue
		}
		if vecDiffers(vec, p.Vec) {
			res.Changes = append(res.Changes, Change{
				Path:    o.Path,
				Before:  p,
				After:   ParamValue{Kind: ParamDirichlet, Vec: vec},
				Clamped: clamped,
			})
		}
	}

	res.HasChanges = len(res.Changes) > 0
	if n := len(res.Changes); n > 0 {
		clamped := 0
		for _, c := range res.Changes {
			if c.Clamped {
				clamped++
			}
		}
		res.ClampedMajority = clamped*2 > n
	}
	return res
}

func differs(a, b float64) bool { return math.Abs(a-b) > 1e-6 }

func vecDiffers(a, b []float64) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if differs(a[i], b[i]) {
			return true
		}
	}
	return false
}
