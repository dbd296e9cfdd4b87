// Package config — policy.go
//
// The policy document: loss matrix, FDR α, robot-mode threshold, risk
// modulation levels, and load-aware weighting. Semantic validation
// happens here and again in decision.Policy.Validate; a policy that
// fails either never reaches the engine.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joyshmitz/process-triage-sub005/internal/decision"
	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// PolicyDoc is the on-disk policy file.
type PolicyDoc struct {
	SchemaVersion string `yaml:"schema_version"`

	// LossMatrix maps class name → action name → non-negative loss.
	LossMatrix map[string]map[string]float64 `yaml:"loss_matrix"`

	FDRAlpha          float64 `yaml:"fdr_alpha"`
	RobotMinPosterior float64 `yaml:"robot_min_posterior"`
	CVaRAlpha         float64 `yaml:"cvar_alpha"`
	DRORadius         float64 `yaml:"dro_radius"`

	LoadAware decision.LoadAwareConfig `yaml:"load_aware"`

	RecoveryMinConcentration float64 `yaml:"recovery_min_concentration"`
}

// DefaultPolicyDoc returns a complete, conservative policy.
func DefaultPolicyDoc() *PolicyDoc {
	matrix := map[string]map[string]float64{
		"useful":     {"keep": 0.0, "pause": 2.0, "throttle": 1.5, "renice": 1.0, "restart": 5.0, "kill": 10.0},
		"useful_bad": {"keep": 3.0, "pause": 1.0, "throttle": 0.5, "renice": 0.5, "restart": 2.0, "kill": 4.0},
		"abandoned":  {"keep": 5.0, "pause": 2.0, "throttle": 2.0, "renice": 3.0, "restart": 4.0, "kill": 0.5},
		"zombie":     {"keep": 0.5, "pause": 1.0, "throttle": 1.0, "renice": 1.0, "restart": 1.0, "kill": 1.0},
	}
	return &PolicyDoc{
		SchemaVersion:            "1",
		LossMatrix:               matrix,
		FDRAlpha:                 0.05,
		RobotMinPosterior:        0.95,
		CVaRAlpha:                0.75,
		DRORadius:                0.15,
		LoadAware:                decision.DefaultLoadAware(),
		RecoveryMinConcentration: 10,
	}
}

// LoadPolicy reads, parses, and validates the policy document.
func LoadPolicy(path string) (*PolicyDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy %q: %w", path, err)
	}
	doc := DefaultPolicyDoc()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("config: parse policy %q: %w", path, err)
	}
	if _, err := doc.Policy(nil); err != nil {
		return nil, fmt.Errorf("config: policy %q: %w", path, err)
	}
	return doc, nil
}

// Policy assembles and validates the decision engine's typed policy.
// The intervention model comes from the priors document; nil is
// accepted (recovery expectations then report low confidence).
func (d *PolicyDoc) Policy(intervention map[inference.Class]map[decision.Action]inference.Beta) (*decision.Policy, error) {
	loss := decision.LossMatrix{}
	for className, row := range d.LossMatrix {
		class, err := inference.ParseClass(className)
		if err != nil {
			return nil, fmt.Errorf("loss_matrix: %w", err)
		}
		typed := map[decision.Action]float64{}
		for actName, l := range row {
			act, err := decision.ParseAction(actName)
			if err != nil {
				return nil, fmt.Errorf("loss_matrix.%s: %w", className, err)
			}
			typed[act] = l
		}
		loss[class] = typed
	}

	p := &decision.Policy{
		Loss:                     loss,
		FDRAlpha:                 d.FDRAlpha,
		RobotMinPosterior:        d.RobotMinPosterior,
		CVaRAlpha:                d.CVaRAlpha,
		DRORadius:                d.DRORadius,
		LoadAware:                d.LoadAware,
		Intervention:             intervention,
		RecoveryMinConcentration: d.RecoveryMinConcentration,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
