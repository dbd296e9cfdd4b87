// Package decision — engine.go
//
// Expected-loss decisioning with risk controls.
//
// Base rule: the optimal action minimizes Σ_c P(c)·L(c,a) over feasible
// actions, ties resolved toward the more reversible action.
//
// Modulations, applied in order when their triggers fire:
//
//	load-aware — loss columns scaled by the composite load score
//	DRO        — worst-case posterior within a radius-ε ball replaces
//	             the nominal posterior
//	CVaR       — per-action tail mean replaces the plain expectation
//
// Every decision carries a Rationale with the per-action losses, the
// matrix used, the gates applied, and the modulations that fired, so
// the choice is reproducible from the outcome alone.

package decision

import (
	"math"
	"sort"

	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// Feasibility is the set of actions disabled for one process, each with
// an operator-readable reason.
type Feasibility struct {
	Disabled map[Action]string
}

// NewFeasibility returns an all-actions-feasible set.
func NewFeasibility() Feasibility {
	return Feasibility{Disabled: make(map[Action]string)}
}

// Disable marks an action infeasible. The first reason wins.
func (f *Feasibility) Disable(a Action, reason string) {
	if _, ok := f.Disabled[a]; !ok {
		f.Disabled[a] = reason
	}
}

// Allowed reports whether an action remains feasible.
func (f Feasibility) Allowed(a Action) bool {
	_, disabled := f.Disabled[a]
	return !disabled
}

// CVaRTriggers are the conditions that switch the engine from mean to
// tail loss.
type CVaRTriggers struct {
	RobotMode            bool
	LowConfidence        bool
	HighBlastRadius      bool
	ExplicitConservative bool
}

// Any reports whether at least one trigger fired.
func (t CVaRTriggers) Any() bool {
	return t.RobotMode || t.LowConfidence || t.HighBlastRadius || t.ExplicitConservative
}

// DROTriggers are the conditions that substitute the adversarial
// posterior.
type DROTriggers struct {
	PosteriorPredictiveFailure bool
	WassersteinDrift           bool
	EtaTempering               bool
	LowModelConfidence         bool
}

// Any reports whether at least one trigger fired.
func (t DROTriggers) Any() bool {
	return t.PosteriorPredictiveFailure || t.WassersteinDrift || t.EtaTempering || t.LowModelConfidence
}

// LoadSignals is the raw host-load snapshot for load-aware weighting.
type LoadSignals struct {
	QueueDepth  float64
	LoadPerCore float64
	MemFraction float64
	PSIAvg10    float64
}

// Score normalizes each signal by its configured high threshold,
// weights, and combines into [0,1].
func (s LoadSignals) Score(cfg LoadAwareConfig) float64 {
	norm := func(x, high float64) float64 {
		if high <= 0 {
			return 0
		}
		return math.Min(x/high, 1.0)
	}
	totalW := cfg.QueueDepthWeight + cfg.LoadPerCoreWeight + cfg.MemFractionWeight + cfg.PSIAvg10Weight
	if totalW <= 0 {
		return 0
	}
	score := cfg.QueueDepthWeight*norm(s.QueueDepth, cfg.QueueDepthHigh) +
		cfg.LoadPerCoreWeight*norm(s.LoadPerCore, cfg.LoadPerCoreHigh) +
		cfg.MemFractionWeight*norm(s.MemFraction, cfg.MemFractionHigh) +
		cfg.PSIAvg10Weight*norm(s.PSIAvg10, cfg.PSIAvg10High)
	return score / totalW
}

// RecoveryExpectation is the expected recovery probability for the
// chosen (class, action), from the intervention model's Beta prior.
type RecoveryExpectation struct {
	Prob          float64 `json:"prob"`
	LowConfidence bool    `json:"low_confidence"`
}

// Rationale makes a decision reproducible: everything that entered the
// minimization is recorded.
type Rationale struct {
	ExpectedLosses  map[Action]float64  `json:"expected_losses"`
	LossMatrixUsed  LossMatrix          `json:"-"`
	Posterior       inference.Posterior `json:"posterior"`
	DisabledActions map[Action]string   `json:"-"`
	Modulations     []string            `json:"modulations,omitempty"`
	LoadScore       float64             `json:"load_score,omitempty"`
	Recovery        RecoveryExpectation `json:"recovery"`

	DisabledLabels map[string]string `json:"disabled_actions,omitempty"`
}

// Outcome is the decision for one process.
type Outcome struct {
	OptimalAction Action    `json:"-"`
	ActionLabel   string    `json:"action"`
	Rationale     Rationale `json:"rationale"`
}

// Request bundles one decision's inputs.
type Request struct {
	Posterior   inference.Posterior
	Feasibility Feasibility
	CVaR        CVaRTriggers
	DRO         DROTriggers
	Load        *LoadSignals // nil disables load-aware weighting
}

// Engine applies a policy to decision requests.
type Engine struct {
	policy *Policy
}

// NewEngine wraps a validated policy.
func NewEngine(policy *Policy) *Engine {
	return &Engine{policy: policy}
}

// Decide selects the loss-minimizing feasible action for one process.
func (e *Engine) Decide(req Request) Outcome {
	post := req.Posterior
	var modulations []string

	// Effective loss matrix: copy-on-modulate so the rationale can
	// carry exactly what was minimized.
	loss := e.policy.Loss
	var loadScore float64
	if req.Load != nil {
		loadScore = req.Load.Score(e.policy.LoadAware)
		if loadScore > 0 {
			loss = applyLoadMultipliers(loss, e.policy.LoadAware, loadScore)
			modulations = append(modulations, "load_aware")
		}
	}

	if req.DRO.Any() {
		post = adversarialPosterior(post, loss, e.policy.DRORadius)
		modulations = append(modulations, "dro")
	}

	useCVaR := req.CVaR.Any()
	if useCVaR {
		modulations = append(modulations, "cvar")
	}

	losses := make(map[Action]float64, len(Actions))
	for _, a := range Actions {
		if useCVaR {
			losses[a] = cvar(post, loss, a, e.policy.CVaRAlpha)
		} else {
			losses[a] = expectedLoss(post, loss, a)
		}
	}

	best := pickAction(losses, req.Feasibility)

	topClass, _ := post.Top()
	rationale := Rationale{
		ExpectedLosses:  losses,
		LossMatrixUsed:  loss,
		Posterior:       post,
		DisabledActions: req.Feasibility.Disabled,
		Modulations:     modulations,
		LoadScore:       loadScore,
		Recovery:        e.recovery(topClass, best),
		DisabledLabels:  labelDisabled(req.Feasibility.Disabled),
	}

	return Outcome{OptimalAction: best, ActionLabel: best.String(), Rationale: rationale}
}

// expectedLoss is Σ_c P(c)·L(c,a).
func expectedLoss(post inference.Posterior, loss LossMatrix, a Action) float64 {
	var sum float64
	for _, c := range inference.Classes {
		sum += post.Get(c) * loss.Loss(c, a)
	}
	return sum
}

// cvar computes the Conditional Value-at-Risk of the discrete per-class
// loss vector at level α: the probability-weighted mean of the worst
// (1−α) fraction of the distribution.
func cvar(post inference.Posterior, loss LossMatrix, a Action, alpha float64) float64 {
	type cl struct {
		loss float64
		prob float64
	}
	cls := make([]cl, 0, len(inference.Classes))
	for _, c := range inference.Classes {
		cls = append(cls, cl{loss: loss.Loss(c, a), prob: post.Get(c)})
	}
	sort.SliceStable(cls, func(i, j int) bool { return cls[i].loss > cls[j].loss })

	tail := 1.0 - alpha
	if tail <= 0 {
		// Degenerate level: worst case only.
		return cls[0].loss
	}
	remaining := tail
	var acc float64
	for _, c := range cls {
		if remaining <= 0 {
			break
		}
		take := math.Min(c.prob, remaining)
		acc += take * c.loss
		remaining -= take
	}
	return acc / tail
}

// adversarialPosterior returns the worst-case posterior within a
// radius-ε ball of the nominal one, bounded by the simplex: up to ε
// total mass moves from the classes with the lowest worst-action loss
// to the class with the highest.
func adversarialPosterior(post inference.Posterior, loss LossMatrix, epsilon float64) inference.Posterior {
	if epsilon <= 0 {
		return post
	}

	// Severity of a class: its maximum loss over actions — the class
	// an adversary would want to inflate.
	severity := func(c inference.Class) float64 {
		worst := 0.0
		for _, a := range Actions {
			if l := loss.Loss(c, a); l > worst {
				worst = l
			}
		}
		return worst
	}

	worstClass := inference.ClassUseful
	worstSev := -1.0
	for _, c := range inference.Classes {
		if s := severity(c); s > worstSev {
			worstClass, worstSev = c, s
		}
	}

	// Donor order: cheapest classes give mass first.
	donors := make([]inference.Class, 0, 3)
	for _, c := range inference.Classes {
		if c != worstClass {
			donors = append(donors, c)
		}
	}
	sort.SliceStable(donors, func(i, j int) bool {
		return severity(donors[i]) < severity(donors[j])
	})

	adv := post
	budget := epsilon
	for _, c := range donors {
		if budget <= 0 {
			break
		}
		take := math.Min(adv[c], budget)
		adv[c] -= take
		adv[worstClass] += take
		budget -= take
	}
	return adv
}

// applyLoadMultipliers scales loss columns by the interpolated
// multipliers. score∈[0,1] interpolates each multiplier from 1.0.
func applyLoadMultipliers(loss LossMatrix, cfg LoadAwareConfig, score float64) LossMatrix {
	lerp := func(target float64) float64 {
		return 1.0 + (target-1.0)*score
	}
	out := make(LossMatrix, len(loss))
	for c, row := range loss {
		newRow := make(map[Action]float64, len(row))
		for a, l := range row {
			switch {
			case a == ActionKeep:
				newRow[a] = l * lerp(cfg.KeepMax)
			case a.Destructive():
				newRow[a] = l * lerp(cfg.RiskyMax)
			case a.Reversible():
				newRow[a] = l * lerp(cfg.ReversibleMin)
			default:
				newRow[a] = l
			}
		}
		out[c] = newRow
	}
	return out
}

// pickAction minimizes over feasible actions; ties within 1e-9 resolve
// by reversibility rank. Keep is the fallback when everything else is
// disabled (Keep itself is never disabled by feasibility analysis).
func pickAction(losses map[Action]float64, feas Feasibility) Action {
	best := ActionKeep
	bestLoss := math.Inf(1)
	for _, a := range Actions {
		if !feas.Allowed(a) {
			continue
		}
		l := losses[a]
		if l < bestLoss-1e-9 ||
			(math.Abs(l-bestLoss) <= 1e-9 && a.ReversibilityRank() < best.ReversibilityRank()) {
			best, bestLoss = a, l
		}
	}
	return best
}

// recovery reads the intervention model's Beta prior for the decided
// (class, action) pair.
func (e *Engine) recovery(c inference.Class, a Action) RecoveryExpectation {
	row, ok := e.policy.Intervention[c]
	if !ok {
		return RecoveryExpectation{Prob: 0.5, LowConfidence: true}
	}
	b, ok := row[a]
	if !ok {
		return RecoveryExpectation{Prob: 0.5, LowConfidence: true}
	}
	return RecoveryExpectation{
		Prob:          b.Mean(),
		LowConfidence: b.Concentration() < e.policy.RecoveryMinConcentration,
	}
}

func labelDisabled(disabled map[Action]string) map[string]string {
	if len(disabled) == 0 {
		return nil
	}
	out := make(map[string]string, len(disabled))
	for a, reason := range disabled {
		out[a.String()] = reason
	}
	return out
}
