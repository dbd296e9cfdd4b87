// Package config — priors.go
//
// The versioned priors document. The schema version string must match
// the runtime expectation exactly; any mismatch refuses to load (no
// silent migration). Class prior probabilities must sum to 1.0 within
// 0.001 and every hyperparameter must be strictly positive — both
// enforced by inference.PriorSet.Validate.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joyshmitz/process-triage-sub005/internal/decision"
	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// PriorsSchemaVersion is the exact version this runtime accepts.
const PriorsSchemaVersion = "1"

// PriorsDoc is the on-disk priors file.
type PriorsDoc struct {
	SchemaVersion string `yaml:"schema_version"`

	// Classes holds the per-class prior bundle, keyed by snake_case
	// class name.
	Classes map[string]inference.ClassPriors `yaml:"classes"`

	// SemiMarkov holds dwell-time parameters per class.
	SemiMarkov map[string]inference.Gamma `yaml:"semi_markov,omitempty"`

	// ChangePoint holds the change-point hazard rate per class.
	ChangePoint map[string]float64 `yaml:"change_point,omitempty"`

	// HazardRegimes holds regime-switching hazard multipliers.
	HazardRegimes map[string]float64 `yaml:"hazard_regimes,omitempty"`

	// Intervention holds the Beta recovery priors per class and
	// action name.
	Intervention map[string]map[string]inference.Beta `yaml:"intervention,omitempty"`
}

// LoadPriors reads, parses, and validates the priors document.
func LoadPriors(path string) (*PriorsDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read priors %q: %w", path, err)
	}
	var doc PriorsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse priors %q: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config: priors %q: %w", path, err)
	}
	return &doc, nil
}

// Validate enforces the priors invariants.
func (d *PriorsDoc) Validate() error {
	if d.SchemaVersion != PriorsSchemaVersion {
		return fmt.Errorf("schema_version is %q, runtime requires exactly %q",
			d.SchemaVersion, PriorsSchemaVersion)
	}
	set, err := d.PriorSet()
	if err != nil {
		return err
	}
	if err := set.Validate(); err != nil {
		return err
	}
	for class, gamma := range d.SemiMarkov {
		if err := gamma.Validate(); err != nil {
			return fmt.Errorf("semi_markov.%s: %w", class, err)
		}
	}
	for class, rate := range d.ChangePoint {
		if !(rate > 0) || rate >= 1 {
			return fmt.Errorf("change_point.%s must be in (0,1), got %g", class, rate)
		}
	}
	for class, row := range d.Intervention {
		if _, err := inference.ParseClass(class); err != nil {
			return fmt.Errorf("intervention: %w", err)
		}
		for act, b := range row {
			if _, err := decision.ParseAction(act); err != nil {
				return fmt.Errorf("intervention.%s: %w", class, err)
			}
			if err := b.Validate(); err != nil {
				return fmt.Errorf("intervention.%s.%s: %w", class, act, err)
			}
		}
	}
	return nil
}

// PriorSet assembles the inference-ready prior bundle. Every class
// must be present.
func (d *PriorsDoc) PriorSet() (*inference.PriorSet, error) {
	set := &inference.PriorSet{}
	for _, c := range inference.Classes {
		cp, ok := d.Classes[c.String()]
		if !ok {
			return nil, fmt.Errorf("classes.%s is missing", c)
		}
		set.Classes[c] = cp
	}
	return set, nil
}

// InterventionModel converts the document's intervention section into
// the decision engine's typed form. Unknown names were rejected by
// Validate.
func (d *PriorsDoc) InterventionModel() map[inference.Class]map[decision.Action]inference.Beta {
	out := make(map[inference.Class]map[decision.Action]inference.Beta, len(d.Intervention))
	for className, row := range d.Intervention {
		class, err := inference.ParseClass(className)
		if err != nil {
			continue
		}
		typed := make(map[decision.Action]inference.Beta, len(row))
		for actName, b := range row {
			act, err := decision.ParseAction(actName)
			if err != nil {
				continue
			}
			typed[act] = b
		}
		out[class] = typed
	}
	return out
}

// SavePriors writes the document atomically (temp + rename) so a
// concurrent scan never reads a torn file. The refit path uses this
// together with a version bump in the calibration history.
func SavePriors(path string, doc *PriorsDoc) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("config: refuse to save invalid priors: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal priors: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write priors %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: commit priors %q: %w", path, err)
	}
	return nil
}
