// Package decision — policy.go
//
// The policy document: loss matrix, FDR budget, robot-mode gate, and
// load-aware weighting. Loaded from the policy file at startup and on
// hot reload. A policy that fails semantic validation is fatal at
// startup and is discarded on hot reload (the previous policy stays
// active), so the core never scores with an invalid policy.

package decision

import (
	"fmt"

	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// LossMatrix maps (class, action) to a non-negative loss.
type LossMatrix map[inference.Class]map[Action]float64

// Loss returns L(class, action). Missing entries read as zero loss;
// Validate rejects a matrix with any missing entry.
func (m LossMatrix) Loss(c inference.Class, a Action) float64 {
	if row, ok := m[c]; ok {
		return row[a]
	}
	return 0
}

// Validate enforces completeness and non-negativity.
func (m LossMatrix) Validate() error {
	for _, c := range inference.Classes {
		row, ok := m[c]
		if !ok {
			return fmt.Errorf("decision: loss matrix missing class %s", c)
		}
		for _, a := range Actions {
			loss, ok := row[a]
			if !ok {
				return fmt.Errorf("decision: loss matrix missing entry (%s, %s)", c, a)
			}
			if loss < 0 {
				return fmt.Errorf("decision: loss (%s, %s) is negative: %g", c, a, loss)
			}
		}
	}
	return nil
}

// LoadAwareConfig weights the composite load score and the multipliers
// it applies to loss columns before minimization.
type LoadAwareConfig struct {
	// High thresholds normalize each raw signal to [0,1].
	QueueDepthHigh  float64 `yaml:"queue_depth_high" json:"queue_depth_high"`
	LoadPerCoreHigh float64 `yaml:"load_per_core_high" json:"load_per_core_high"`
	MemFractionHigh float64 `yaml:"mem_fraction_high" json:"mem_fraction_high"`
	PSIAvg10High    float64 `yaml:"psi_avg10_high" json:"psi_avg10_high"`

	// Weights combine the normalized signals.
	QueueDepthWeight  float64 `yaml:"queue_depth_weight" json:"queue_depth_weight"`
	LoadPerCoreWeight float64 `yaml:"load_per_core_weight" json:"load_per_core_weight"`
	MemFractionWeight float64 `yaml:"mem_fraction_weight" json:"mem_fraction_weight"`
	PSIAvg10Weight    float64 `yaml:"psi_avg10_weight" json:"psi_avg10_weight"`

	// Multipliers at full load; interpolated linearly from 1.0 at zero
	// load. KeepMax raises the cost of keeping, RiskyMax raises the
	// cost of destructive actions, ReversibleMin lowers the cost of
	// reversible ones.
	KeepMax       float64 `yaml:"keep_max" json:"keep_max"`
	RiskyMax      float64 `yaml:"risky_max" json:"risky_max"`
	ReversibleMin float64 `yaml:"reversible_min" json:"reversible_min"`
}

// DefaultLoadAware returns a neutral-but-plausible load config.
func DefaultLoadAware() LoadAwareConfig {
	return LoadAwareConfig{
		QueueDepthHigh: 32, LoadPerCoreHigh: 2.0, MemFractionHigh: 0.9, PSIAvg10High: 40,
		QueueDepthWeight: 0.2, LoadPerCoreWeight: 0.3, MemFractionWeight: 0.3, PSIAvg10Weight: 0.2,
		KeepMax: 2.0, RiskyMax: 1.5, ReversibleMin: 0.7,
	}
}

// Policy is the full decision policy document.
type Policy struct {
	Loss LossMatrix

	// FDRAlpha is the false-discovery budget for batch action selection.
	FDRAlpha float64

	// RobotMinPosterior is the minimum top-class posterior before
	// robot mode may act without a human in the loop.
	RobotMinPosterior float64

	// CVaRAlpha is the tail level for risk-sensitive modulation.
	CVaRAlpha float64

	// DRORadius is the Wasserstein ball radius for the adversarial
	// posterior.
	DRORadius float64

	LoadAware LoadAwareConfig

	// Intervention holds the Beta recovery priors per (class, action).
	Intervention map[inference.Class]map[Action]inference.Beta

	// RecoveryMinConcentration flags low-confidence recovery estimates:
	// a Beta prior with α+β below this is marked low-confidence.
	RecoveryMinConcentration float64
}

// Validate enforces the policy invariants.
func (p *Policy) Validate() error {
	if err := p.Loss.Validate(); err != nil {
		return err
	}
	if p.FDRAlpha <= 0 || p.FDRAlpha >= 1 {
		return fmt.Errorf("decision: fdr_alpha must be in (0,1), got %g", p.FDRAlpha)
	}
	if p.RobotMinPosterior <= 0 || p.RobotMinPosterior > 1 {
		return fmt.Errorf("decision: robot_min_posterior must be in (0,1], got %g", p.RobotMinPosterior)
	}
	if p.CVaRAlpha <= 0 || p.CVaRAlpha >= 1 {
		return fmt.Errorf("decision: cvar_alpha must be in (0,1), got %g", p.CVaRAlpha)
	}
	if p.DRORadius < 0 || p.DRORadius > 1 {
		return fmt.Errorf("decision: dro_radius must be in [0,1], got %g", p.DRORadius)
	}
	return nil
}
