// Package signature — fastpath.go
//
// Inference bypass for high-confidence signature matches.
//
// When the best match scores at or above the threshold (default 0.9)
// and the signature carries explicit Beta priors, full Bayesian
// inference is skipped: per-class probabilities are derived from the
// Beta means, normalized, and classified by argmax. The synthetic
// ledger records "signature_match" as the sole evidence entry so the
// bypass remains auditable.

package signature

import (
	"fmt"
	"math"
	"time"

	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// FastPathConfig controls the bypass.
type FastPathConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MinScore is the minimum match score to trigger the bypass.
	MinScore float64 `yaml:"min_score" json:"min_score"`
	// RequireExplicitPriors forces fall-through to full inference for
	// signatures without classification priors.
	RequireExplicitPriors bool `yaml:"require_explicit_priors" json:"require_explicit_priors"`
}

// DefaultFastPathConfig enables the bypass at threshold 0.9 with
// explicit priors required.
func DefaultFastPathConfig() FastPathConfig {
	return FastPathConfig{Enabled: true, MinScore: 0.9, RequireExplicitPriors: true}
}

// SkipReason explains why the fast path declined a process.
type SkipReason uint8

const (
	SkipDisabled SkipReason = iota
	SkipNoMatch
	SkipScoreBelowThreshold
	SkipNoPriors
)

// String returns the reason label.
func (r SkipReason) String() string {
	switch r {
	case SkipNoMatch:
		return "no_match"
	case SkipScoreBelowThreshold:
		return "score_below_threshold"
	case SkipNoPriors:
		return "no_priors"
	default:
		return "disabled"
	}
}

// TryFastPath attempts the bypass for the best signature match of a
// process. Returns (result, true) when the bypass fires; otherwise
// (zero, false) and the skip reason, and the caller runs full
// inference.
func TryFastPath(cfg FastPathConfig, best *Match, pid uint32, startID string) (inference.Result, bool, SkipReason) {
	if !cfg.Enabled {
		return inference.Result{}, false, SkipDisabled
	}
	if best == nil {
		return inference.Result{}, false, SkipNoMatch
	}
	if best.Score < cfg.MinScore {
		return inference.Result{}, false, SkipScoreBelowThreshold
	}
	if cfg.RequireExplicitPriors && best.Signature.Priors.Empty() {
		return inference.Result{}, false, SkipNoPriors
	}

	post, classification := posteriorFromPriors(best.Signature.Priors)
	confidence := inference.ConfidenceFor(post.Get(classification))

	entry := inference.NewBayesFactorEntry("signature_match",
		math.Log(post.Get(inference.ClassAbandoned))-math.Log(post.Get(inference.ClassUseful)))

	ledger := inference.EvidenceLedger{
		PID:                 pid,
		StartID:             startID,
		Classification:      classification,
		Confidence:          confidence,
		Posterior:           post,
		Entries:             []inference.BayesFactorEntry{entry},
		TopEvidence:         []string{"signature_match"},
		BypassedInference:   true,
		GeneratedAt:         time.Now(),
		ClassificationLabel: classification.String(),
		ConfidenceLabel:     confidence.String(),
	}
	ledger.WhySummary = fmt.Sprintf("signature %q matched at %.2f (%s)",
		best.Signature.Name, best.Score, best.Level)

	return inference.Result{
		Classification:         classification,
		Confidence:             confidence,
		Posterior:              post,
		Ledger:                 ledger,
		LogOddsAbandonedUseful: entry.LogBF,
	}, true, 0
}

// posteriorFromPriors converts the signature's Beta means into a
// normalized posterior and classifies by argmax. Missing class priors
// contribute the uniform 0.25. Tie order (zombie, then abandoned, then
// useful_bad) keeps the riskier diagnosis when means collide.
func posteriorFromPriors(p Priors) (inference.Posterior, inference.Class) {
	mean := func(b *inference.Beta) float64 {
		if b == nil {
			return 0.25
		}
		return b.Mean()
	}
	var post inference.Posterior
	post[inference.ClassUseful] = mean(p.Useful)
	post[inference.ClassUsefulBad] = mean(p.UsefulBad)
	post[inference.ClassAbandoned] = mean(p.Abandoned)
	post[inference.ClassZombie] = mean(p.Zombie)

	total := post.Sum()
	for i := range post {
		post[i] /= total
	}

	classification := inference.ClassUseful
	switch {
	case post[inference.ClassZombie] >= post[inference.ClassAbandoned] &&
		post[inference.ClassZombie] >= post[inference.ClassUseful] &&
		post[inference.ClassZombie] >= post[inference.ClassUsefulBad]:
		classification = inference.ClassZombie
	case post[inference.ClassAbandoned] >= post[inference.ClassUseful] &&
		post[inference.ClassAbandoned] >= post[inference.ClassUsefulBad]:
		classification = inference.ClassAbandoned
	case post[inference.ClassUsefulBad] >= post[inference.ClassUseful]:
		classification = inference.ClassUsefulBad
	}
	return post, classification
}
