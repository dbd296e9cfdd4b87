// Package goal — optimizer.go
//
// Action-set selection under a resource goal. Three algorithms share
// one contract:
//
//	greedy — marginal weighted gain per unit expected loss
//	dp     — exact minimum-loss subset for single-resource integer
//	         targets (subset-sum over scaled contributions)
//	ilp    — branch-and-bound over the full set with an LP-relaxation
//	         bound on the remaining achievable goal
//
// All three emit a structured Result: selected set, feasibility flag,
// per-goal achievement, Pareto alternatives (action count vs loss),
// and a telemetry log of the steps taken.

package goal

import (
	"fmt"
	"math"
	"sort"
)

// epsilonLoss avoids division by zero for free candidates.
const epsilonLoss = 1e-9

// Candidate is one selectable action with its resource contributions.
type Candidate struct {
	ID string `json:"id"`
	// ExpectedLoss is the decision engine's loss for acting.
	ExpectedLoss float64 `json:"expected_loss"`
	// Contribs maps resource key → amount released when acted on.
	Contribs map[string]float64 `json:"contribs"`
	// Blocked candidates are never selected (feasibility gates,
	// protected processes).
	Blocked bool `json:"blocked,omitempty"`
}

// Constraints bound the selection.
type Constraints struct {
	// MaxActions caps the selected set size; 0 means unlimited.
	MaxActions int
	// MaxTotalLoss caps the summed expected loss; 0 means unlimited.
	MaxTotalLoss float64
	// Weights per resource key for the greedy objective; missing keys
	// weigh 1.0.
	Weights map[string]float64
}

// Algorithm selects the solver.
type Algorithm uint8

const (
	AlgorithmGreedy Algorithm = iota
	AlgorithmDP
	AlgorithmILP
)

// String returns the solver name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmDP:
		return "dp"
	case AlgorithmILP:
		return "ilp"
	default:
		return "greedy"
	}
}

// Event is one telemetry log row.
type Event struct {
	Event       string  `json:"event"`
	CandidateID string  `json:"candidate_id,omitempty"`
	Loss        float64 `json:"loss,omitempty"`
	Achieved    float64 `json:"achieved,omitempty"`
}

// Alternative is one Pareto point: fewer actions traded against loss.
type Alternative struct {
	IDs       []string `json:"ids"`
	TotalLoss float64  `json:"total_loss"`
	Actions   int      `json:"actions"`
}

// Result is the structured optimizer output.
type Result struct {
	Algorithm string             `json:"algorithm"`
	Selected  []string           `json:"selected"`
	Feasible  bool               `json:"feasible"`
	TotalLoss float64            `json:"total_loss"`
	Achieved  map[string]float64 `json:"achieved"`
	Pareto    []Alternative      `json:"pareto,omitempty"`
	Telemetry []Event            `json:"telemetry,omitempty"`
}

// Requirements canonicalizes a parsed goal into resource targets for
// the optimizer. Port targets become binary "port:<n>" requirements.
func Requirements(g Goal) map[string]float64 {
	req := make(map[string]float64)
	for _, t := range g.Targets() {
		if t.Metric == MetricPort {
			req[fmt.Sprintf("port:%d", int(t.Amount))] = 1
			continue
		}
		req[t.Metric.String()] += t.Amount
	}
	return req
}

// Optimize runs the requested algorithm.
func Optimize(algo Algorithm, targets map[string]float64, candidates []Candidate, cons Constraints) Result {
	switch algo {
	case AlgorithmDP:
		return optimizeDP(targets, candidates, cons)
	case AlgorithmILP:
		return optimizeILP(targets, candidates, cons)
	default:
		return optimizeGreedy(targets, candidates, cons)
	}
}

// eligible filters blocked candidates.
func eligible(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Blocked {
			out = append(out, c)
		}
	}
	return out
}

// achievedBy sums the contributions of a selection per target key for
// the achievement report. The sums are not capped at the target.
func achievedBy(targets map[string]float64, byID map[string]Candidate, ids []string) map[string]float64 {
	ach := make(map[string]float64, len(targets))
	for key := range targets {
		for _, id := range ids {
			ach[key] += byID[id].Contribs[key]
		}
	}
	return ach
}

func metAll(targets, achieved map[string]float64) bool {
	for key, want := range targets {
		if achieved[key] < want-1e-9 {
			return false
		}
	}
	return true
}

func indexByID(candidates []Candidate) map[string]Candidate {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	return byID
}

// ─── Greedy ──────────────────────────────────────────────────────────────────

func optimizeGreedy(targets map[string]float64, candidates []Candidate, cons Constraints) Result {
	res := Result{Algorithm: "greedy", Achieved: map[string]float64{}}
	pool := eligible(candidates)
	byID := indexByID(pool)

	weight := func(key string) float64 {
		if w, ok := cons.Weights[key]; ok {
			return w
		}
		return 1.0
	}

	remaining := make(map[string]float64, len(targets))
	for k, v := range targets {
		remaining[k] = v
	}
	used := make(map[string]bool)
	var totalLoss float64

	for !metAll(targets, res.Achieved) {
		if cons.MaxActions > 0 && len(res.Selected) >= cons.MaxActions {
			res.Telemetry = append(res.Telemetry, Event{Event: "budget_exhausted"})
			break
		}

		bestID, bestScore := "", 0.0
		for _, c := range pool {
			if used[c.ID] {
				continue
			}
			if cons.MaxTotalLoss > 0 && totalLoss+c.ExpectedLoss > cons.MaxTotalLoss {
				continue
			}
			var gain float64
			for key, rem := range remaining {
				if rem <= 0 {
					continue
				}
				gain += weight(key) * math.Min(c.Contribs[key], rem)
			}
			if gain <= 0 {
				continue
			}
			score := gain / (c.ExpectedLoss + epsilonLoss)
			if score > bestScore {
				bestID, bestScore = c.ID, score
			}
		}
		if bestID == "" {
			res.Telemetry = append(res.Telemetry, Event{Event: "no_improving_candidate"})
			break
		}

		c := byID[bestID]
		used[bestID] = true
		res.Selected = append(res.Selected, bestID)
		totalLoss += c.ExpectedLoss
		for key := range remaining {
			remaining[key] = math.Max(0, remaining[key]-c.Contribs[key])
		}
		res.Achieved = achievedBy(targets, byID, res.Selected)
		res.Telemetry = append(res.Telemetry, Event{
			Event: "selected", CandidateID: bestID,
			Loss: totalLoss, Achieved: totalAchievement(targets, res.Achieved),
		})
	}

	res.TotalLoss = totalLoss
	res.Feasible = metAll(targets, res.Achieved)
	res.Pareto = paretoPrefixes(byID, targets, res.Selected)
	return res
}

// totalAchievement is the fraction of the (weighted-uniform) goal met,
// used only for telemetry display.
func totalAchievement(targets, achieved map[string]float64) float64 {
	if len(targets) == 0 {
		return 1
	}
	var sum float64
	for key, want := range targets {
		if want <= 0 {
			sum += 1
			continue
		}
		sum += math.Min(achieved[key]/want, 1)
	}
	return sum / float64(len(targets))
}

// paretoPrefixes emits the selection's prefixes as (actions, loss)
// alternatives: each prefix trades completeness for fewer actions.
func paretoPrefixes(byID map[string]Candidate, targets map[string]float64, selected []string) []Alternative {
	var out []Alternative
	var loss float64
	for i, id := range selected {
		loss += byID[id].ExpectedLoss
		ids := make([]string, i+1)
		copy(ids, selected[:i+1])
		out = append(out, Alternative{IDs: ids, TotalLoss: loss, Actions: i + 1})
	}
	return out
}

// ─── Dynamic programming ─────────────────────────────────────────────────────

// optimizeDP solves single-resource integer targets exactly via
// subset-sum DP on the scaled contributions. Multi-resource targets
// fall back to greedy.
func optimizeDP(targets map[string]float64, candidates []Candidate, cons Constraints) Result {
	if len(targets) != 1 {
		r := optimizeGreedy(targets, candidates, cons)
		r.Algorithm = "dp"
		r.Telemetry = append(r.Telemetry, Event{Event: "dp_fallback_multi_resource"})
		return r
	}
	var key string
	var target float64
	for k, v := range targets {
		key, target = k, v
	}

	pool := eligible(candidates)
	byID := indexByID(pool)
	goalUnits := int(math.Ceil(target))
	if goalUnits <= 0 {
		return Result{Algorithm: "dp", Feasible: true, Achieved: map[string]float64{key: 0}}
	}

	// dp[v] = minimum loss achieving coverage v (capped at goalUnits);
	// choice reconstructs the subset.
	const inf = math.MaxFloat64
	dp := make([]float64, goalUnits+1)
	sel := make([][]string, goalUnits+1)
	for v := 1; v <= goalUnits; v++ {
		dp[v] = inf
	}

	for _, c := range pool {
		contrib := int(math.Floor(c.Contribs[key]))
		if contrib <= 0 {
			continue
		}
		for v := goalUnits; v >= 0; v-- {
			if dp[v] == inf {
				continue
			}
			nv := v + contrib
			if nv > goalUnits {
				nv = goalUnits
			}
			cost := dp[v] + c.ExpectedLoss
			better := cost < dp[nv]-1e-12 ||
				(math.Abs(cost-dp[nv]) <= 1e-12 && len(sel[v])+1 < len(sel[nv]))
			if better {
				if cons.MaxActions > 0 && len(sel[v])+1 > cons.MaxActions {
					continue
				}
				if cons.MaxTotalLoss > 0 && cost > cons.MaxTotalLoss {
					continue
				}
				ids := make([]string, len(sel[v]), len(sel[v])+1)
				copy(ids, sel[v])
				dp[nv] = cost
				sel[nv] = append(ids, c.ID)
			}
		}
	}

	res := Result{Algorithm: "dp", Achieved: map[string]float64{}}
	if dp[goalUnits] == inf {
		// Exact target unreachable under the budgets: report the best
		// greedy effort instead so callers still get a plan.
		r := optimizeGreedy(targets, candidates, cons)
		r.Algorithm = "dp"
		r.Telemetry = append(r.Telemetry, Event{Event: "dp_infeasible_greedy_fallback"})
		return r
	}

	res.Selected = sel[goalUnits]
	sort.Strings(res.Selected)
	res.TotalLoss = dp[goalUnits]
	res.Achieved = achievedBy(targets, byID, res.Selected)
	res.Feasible = metAll(targets, res.Achieved)
	res.Pareto = paretoPrefixes(byID, targets, res.Selected)
	res.Telemetry = append(res.Telemetry, Event{
		Event: "dp_solved", Loss: res.TotalLoss,
		Achieved: totalAchievement(targets, res.Achieved),
	})
	return res
}

// ─── ILP branch-and-bound ────────────────────────────────────────────────────

type ilpState struct {
	targets map[string]float64
	pool    []Candidate
	cons    Constraints

	bestLoss    float64
	bestActions int
	bestSet     []string
	found       bool
	telemetry   []Event
}

// optimizeILP explores include/exclude branches over candidates ordered
// by loss efficiency, pruning on the incumbent loss and on an LP
// relaxation (fractional remaining contribution) bound on feasibility.
func optimizeILP(targets map[string]float64, candidates []Candidate, cons Constraints) Result {
	pool := eligible(candidates)
	byID := indexByID(pool)

	// Efficiency order: total weighted contribution per unit loss.
	sort.SliceStable(pool, func(i, j int) bool {
		return ilpEfficiency(pool[i], targets) > ilpEfficiency(pool[j], targets)
	})

	st := &ilpState{targets: targets, pool: pool, cons: cons, bestLoss: math.Inf(1)}
	st.branch(0, nil, 0, cloneTargets(targets))

	res := Result{Algorithm: "ilp", Achieved: map[string]float64{}, Telemetry: st.telemetry}
	if !st.found {
		res.Telemetry = append(res.Telemetry, Event{Event: "ilp_infeasible"})
		return res
	}
	res.Selected = append([]string(nil), st.bestSet...)
	sort.Strings(res.Selected)
	res.TotalLoss = st.bestLoss
	res.Achieved = achievedBy(targets, byID, res.Selected)
	res.Feasible = true
	res.Pareto = paretoPrefixes(byID, targets, res.Selected)
	res.Telemetry = append(res.Telemetry, Event{Event: "ilp_solved", Loss: st.bestLoss})
	return res
}

func ilpEfficiency(c Candidate, targets map[string]float64) float64 {
	var gain float64
	for key := range targets {
		gain += c.Contribs[key]
	}
	return gain / (c.ExpectedLoss + epsilonLoss)
}

func cloneTargets(t map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (st *ilpState) branch(idx int, selected []string, loss float64, remaining map[string]float64) {
	// Feasibility reached?
	met := true
	for _, rem := range remaining {
		if rem > 1e-9 {
			met = false
			break
		}
	}
	if met {
		if loss < st.bestLoss-1e-12 ||
			(math.Abs(loss-st.bestLoss) <= 1e-12 && len(selected) < st.bestActions) {
			st.bestLoss = loss
			st.bestActions = len(selected)
			st.bestSet = append([]string(nil), selected...)
			st.found = true
			st.telemetry = append(st.telemetry, Event{Event: "incumbent", Loss: loss})
		}
		return
	}

	if idx >= len(st.pool) {
		return
	}
	// Prune: incumbent dominates.
	if loss >= st.bestLoss {
		return
	}
	// Prune: action budget exhausted.
	if st.cons.MaxActions > 0 && len(selected) >= st.cons.MaxActions &&
		anyRemaining(remaining) {
		return
	}
	// LP relaxation bound: even taking every remaining candidate
	// fractionally cannot close the gap.
	for key, rem := range remaining {
		if rem <= 1e-9 {
			continue
		}
		var avail float64
		for i := idx; i < len(st.pool); i++ {
			avail += st.pool[i].Contribs[key]
		}
		if avail < rem-1e-9 {
			return
		}
	}

	c := st.pool[idx]

	// Branch 1: include (when budgets allow).
	lossOK := st.cons.MaxTotalLoss <= 0 || loss+c.ExpectedLoss <= st.cons.MaxTotalLoss
	actionsOK := st.cons.MaxActions <= 0 || len(selected)+1 <= st.cons.MaxActions
	if lossOK && actionsOK {
		next := cloneTargets(remaining)
		for key := range next {
			next[key] = math.Max(0, next[key]-c.Contribs[key])
		}
		st.branch(idx+1, append(selected, c.ID), loss+c.ExpectedLoss, next)
	}

	// Branch 2: exclude.
	st.branch(idx+1, selected, loss, remaining)
}

func anyRemaining(remaining map[string]float64) bool {
	for _, rem := range remaining {
		if rem > 1e-9 {
			return true
		}
	}
	return false
}

// ─── Reoptimization trigger ──────────────────────────────────────────────────

// churnThreshold is the candidate-set churn ratio that forces a fresh
// solve.
const churnThreshold = 0.25

// ShouldReoptimize compares old and new candidate sets and reports
// whether a fresh solve is needed: (a) a selected candidate vanished,
// (b) churn ratio ≥ 25%, or (c) the preference model shifted beyond
// the threshold.
func ShouldReoptimize(oldCands, newCands []Candidate, selected []string, prefShift, prefThreshold float64) bool {
	newIDs := make(map[string]bool, len(newCands))
	for _, c := range newCands {
		newIDs[c.ID] = true
	}
	for _, id := range selected {
		if !newIDs[id] {
			return true
		}
	}

	oldIDs := make(map[string]bool, len(oldCands))
	for _, c := range oldCands {
		oldIDs[c.ID] = true
	}
	changed := 0
	for id := range oldIDs {
		if !newIDs[id] {
			changed++
		}
	}
	for id := range newIDs {
		if !oldIDs[id] {
			changed++
		}
	}
	denom := len(oldIDs)
	if len(newIDs) > denom {
		denom = len(newIDs)
	}
	if denom > 0 && float64(changed)/float64(denom) >= churnThreshold {
		return true
	}

	return prefThreshold > 0 && prefShift >= prefThreshold
}
