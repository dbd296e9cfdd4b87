// Package inference — posterior.go
//
// Full Bayesian evaluation of one process observation against the four
// class priors:
//
//  1. Per feature, evaluate the class-conditional log-likelihood.
//  2. Sum with log π(class).
//  3. Normalize via log-sum-exp into the posterior.
//  4. Per feature, attach log BF (Abandoned vs Useful) to the ledger.
//  5. Build the why_summary from the top three absolute contributions.
//
// The posterior always sums to 1.0 within 1e-6.

package inference

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// FeatureVector is the observation the engine scores. Fractions are in
// [0,1]; runtime is in hours so the Gamma priors stay well-conditioned
// for processes that live days.
type FeatureVector struct {
	CPUFraction  float64 // instantaneous CPU occupancy, [0,1]
	OrphanProb   float64 // probability the parent no longer attends, [0,1]
	TTYAttached  float64 // 1.0 when a controlling TTY is present
	RuntimeHours float64 // elapsed time since start, hours
	Category     int     // command category index into the Dirichlet
}

// ClassPriors bundles the per-class prior probability with the feature
// distributions conditioned on that class.
type ClassPriors struct {
	Prob     float64   `json:"prob" yaml:"prob"`
	CPU      Beta      `json:"cpu_beta" yaml:"cpu_beta"`
	Orphan   Beta      `json:"orphan_beta" yaml:"orphan_beta"`
	TTY      Beta      `json:"tty_beta" yaml:"tty_beta"`
	Runtime  Gamma     `json:"runtime_gamma" yaml:"runtime_gamma"`
	Category Dirichlet `json:"category_dirichlet" yaml:"category_dirichlet"`
}

// PriorSet is the complete prior bundle the engine evaluates against,
// indexed in Classes order.
type PriorSet struct {
	Classes [4]ClassPriors
}

// Get returns the priors for one class.
func (p *PriorSet) Get(c Class) ClassPriors { return p.Classes[c] }

// Validate enforces the prior invariants: class probabilities sum to
// 1.0 within 0.001 and every hyperparameter is strictly positive.
func (p *PriorSet) Validate() error {
	var sum float64
	for i, cp := range p.Classes {
		sum += cp.Prob
		if !(cp.Prob > 0) {
			return fmt.Errorf("inference: class %s prior probability must be > 0, got %g", Classes[i], cp.Prob)
		}
		for _, err := range []error{
			cp.CPU.Validate(), cp.Orphan.Validate(), cp.TTY.Validate(),
			cp.Runtime.Validate(), cp.Category.Validate(),
		} {
			if err != nil {
				return fmt.Errorf("inference: class %s: %w", Classes[i], err)
			}
		}
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("inference: class prior probabilities sum to %g, want 1.0 ± 0.001", sum)
	}
	return nil
}

// featureEval is one feature's per-class log-likelihood evaluation.
type featureEval struct {
	name   string
	logLik [4]float64
}

// Engine evaluates feature vectors against a PriorSet.
type Engine struct {
	priors *PriorSet

	// Now is injectable for deterministic ledger timestamps in tests.
	Now func() time.Time
}

// NewEngine builds an engine. The prior set must already be validated.
func NewEngine(priors *PriorSet) *Engine {
	return &Engine{priors: priors, Now: time.Now}
}

// Result packages one process's inference output.
type Result struct {
	Classification Class
	Confidence     Confidence
	Posterior      Posterior
	Ledger         EvidenceLedger
	// LogOddsAbandonedUseful is the posterior log-odds of the default
	// reference pair, used by the decision layer's robot-mode gate.
	LogOddsAbandonedUseful float64
}

// Evaluate runs the full pipeline for one observation.
func (e *Engine) Evaluate(pid uint32, startID string, f FeatureVector) Result {
	evals := e.evaluateFeatures(f)

	// Joint log score per class: log π(c) + Σ log P(fᵢ|c).
	var logScores [4]float64
	for ci := range Classes {
		logScores[ci] = math.Log(e.priors.Classes[ci].Prob)
		for _, fe := range evals {
			logScores[ci] += fe.logLik[ci]
		}
	}

	// Normalize.
	norm := logSumExp(logScores[:])
	var post Posterior
	for ci := range logScores {
		post[ci] = math.Exp(logScores[ci] - norm)
	}

	classification, topProb := post.Top()
	confidence := ConfidenceFor(topProb)

	// Per-feature Bayes factors against the Abandoned/Useful pair.
	entries := make([]BayesFactorEntry, 0, len(evals))
	for _, fe := range evals {
		logBF := fe.logLik[ClassAbandoned] - fe.logLik[ClassUseful]
		entries = append(entries, NewBayesFactorEntry(fe.name, logBF))
	}

	ledger := EvidenceLedger{
		PID:                 pid,
		StartID:             startID,
		Classification:      classification,
		Confidence:          confidence,
		Posterior:           post,
		Entries:             entries,
		GeneratedAt:         e.Now(),
		ClassificationLabel: classification.String(),
		ConfidenceLabel:     confidence.String(),
	}
	ledger.TopEvidence, ledger.WhySummary = summarize(entries)

	return Result{
		Classification:         classification,
		Confidence:             confidence,
		Posterior:              post,
		Ledger:                 ledger,
		LogOddsAbandonedUseful: logScores[ClassAbandoned] - logScores[ClassUseful],
	}
}

// evaluateFeatures computes each feature's class-conditional
// log-likelihood under every class prior.
func (e *Engine) evaluateFeatures(f FeatureVector) []featureEval {
	evals := []featureEval{
		{name: "cpu_occupancy"},
		{name: "orphan_probability"},
		{name: "tty_attachment"},
		{name: "runtime"},
		{name: "command_category"},
	}
	for ci := range Classes {
		cp := e.priors.Classes[ci]
		evals[0].logLik[ci] = cp.CPU.LogPDF(f.CPUFraction)
		evals[1].logLik[ci] = cp.Orphan.LogPDF(f.OrphanProb)
		evals[2].logLik[ci] = cp.TTY.LogPDF(f.TTYAttached)
		evals[3].logLik[ci] = cp.Runtime.LogPDF(f.RuntimeHours)
		evals[4].logLik[ci] = cp.Category.LogPMF(f.Category)
	}
	return evals
}

// summarize picks the top three features by |log BF| and renders the
// signed why_summary line.
func summarize(entries []BayesFactorEntry) ([]string, string) {
	ranked := make([]BayesFactorEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].LogBF) > math.Abs(ranked[j].LogBF)
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	top := make([]string, 0, len(ranked))
	parts := make([]string, 0, len(ranked))
	for _, en := range ranked {
		top = append(top, en.Feature)
		sign := "+"
		if en.LogBF < 0 {
			sign = "-"
		}
		parts = append(parts, fmt.Sprintf("%s%s (%s, %.1f bits)",
			sign, en.Feature, en.Strength, math.Abs(en.DeltaBits)))
	}
	return top, strings.Join(parts, ", ")
}
