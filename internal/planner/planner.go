// Package planner assembles staged, executable plans from decisions.
//
// Each PlanAction carries everything the runner needs to act safely:
// the identity tuple for TOCTOU revalidation, pre-checks, a timeout
// triple per action kind, the reversal hook name, routing hints for
// unkillable targets, the blast-radius summary, and a confidence band.
//
// Ordering is deterministic: (priority_tier, −expected_benefit, pid).
// Tier 0 is urgent (memory emergencies), tier 1 normal, tier 2
// opportunistic cleanup.

package planner

import (
	"sort"
	"time"

	"github.com/joyshmitz/process-triage-sub005/internal/blast"
	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/decision"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// Timeouts is the per-action timing budget in milliseconds.
type Timeouts struct {
	SignalDeliveryMS  int64 `json:"signal_delivery_ms"`
	StateTransitionMS int64 `json:"state_transition_ms"`
	VerificationMS    int64 `json:"verification_ms"`
}

// TimeoutsFor returns the default timing budget per action kind.
// Kill gets the longest transition window for the SIGTERM grace.
func TimeoutsFor(a decision.Action) Timeouts {
	switch a {
	case decision.ActionKill, decision.ActionRestart:
		return Timeouts{SignalDeliveryMS: 200, StateTransitionMS: 5000, VerificationMS: 2000}
	case decision.ActionPause, decision.ActionThrottle:
		return Timeouts{SignalDeliveryMS: 200, StateTransitionMS: 1000, VerificationMS: 1000}
	default:
		return Timeouts{SignalDeliveryMS: 200, StateTransitionMS: 500, VerificationMS: 500}
	}
}

// ReversalHookFor names the undo hook per action kind, empty when the
// action has no reversal.
func ReversalHookFor(a decision.Action) string {
	switch a {
	case decision.ActionPause:
		return "sigcont"
	case decision.ActionThrottle:
		return "cgroup_detach"
	case decision.ActionRenice:
		return "renice_restore"
	default:
		return ""
	}
}

// PlanAction is one staged, executable unit.
type PlanAction struct {
	Identity identity.ProcessIdentity `json:"identity"`
	Action   decision.Action          `json:"-"`
	Comm     string                   `json:"comm"`

	PreChecks    []string `json:"pre_checks"`
	Timeouts     Timeouts `json:"timeouts"`
	ReversalHook string   `json:"reversal_hook,omitempty"`
	// Routing holds the alternative path for unkillable targets, e.g.
	// "forward to supervisor stop" or "investigate NFS wait".
	Routing string `json:"routing,omitempty"`

	Blast      *blast.Radius        `json:"blast_radius,omitempty"`
	Confidence inference.Confidence `json:"-"`

	ExpectedBenefit float64 `json:"expected_benefit"`
	ExpectedLoss    float64 `json:"expected_loss"`
	PriorityTier    int     `json:"priority_tier"`
	Rationale       string  `json:"rationale"`

	ActionLabel     string `json:"action"`
	ConfidenceLabel string `json:"confidence"`

	// UseProcessGroup routes the signal to -pgid instead of pid.
	UseProcessGroup bool `json:"use_process_group,omitempty"`
}

// Plan is an ordered set of staged actions for one scan.
type Plan struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Actions     []PlanAction `json:"actions"`
}

// Input is one process's decision-stage output entering the planner.
type Input struct {
	Record   collect.ProcessRecord
	Result   inference.Result
	Outcome  decision.Outcome
	Blast    *blast.Radius
	Tier     int
	// ExpectedBenefit is the resource payoff of acting, in the scan's
	// dominant unit (bytes freed for memory goals).
	ExpectedBenefit float64
}

// Builder composes plans from decision outcomes.
type Builder struct {
	// Now is injectable for deterministic plans in tests.
	Now func() time.Time
}

// NewBuilder returns a Builder with the wall clock.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// Build assembles and deterministically orders the plan. Keep decisions
// produce no plan action.
func (b *Builder) Build(inputs []Input) *Plan {
	plan := &Plan{GeneratedAt: b.Now()}
	for _, in := range inputs {
		act := in.Outcome.OptimalAction
		if act == decision.ActionKeep {
			continue
		}

		pa := PlanAction{
			Identity:        in.Record.Identity,
			Action:          act,
			Comm:            in.Record.Comm,
			PreChecks:       preChecks(act),
			Timeouts:        TimeoutsFor(act),
			ReversalHook:    ReversalHookFor(act),
			Routing:         routingFor(in),
			Blast:           in.Blast,
			Confidence:      in.Result.Confidence,
			ExpectedBenefit: in.ExpectedBenefit,
			ExpectedLoss:    in.Outcome.Rationale.ExpectedLosses[act],
			PriorityTier:    in.Tier,
			Rationale:       in.Result.Ledger.WhySummary,
			ActionLabel:     act.String(),
			ConfidenceLabel: in.Result.Confidence.String(),
		}
		plan.Actions = append(plan.Actions, pa)
	}

	sort.SliceStable(plan.Actions, func(i, j int) bool {
		a, c := plan.Actions[i], plan.Actions[j]
		if a.PriorityTier != c.PriorityTier {
			return a.PriorityTier < c.PriorityTier
		}
		if a.ExpectedBenefit != c.ExpectedBenefit {
			return a.ExpectedBenefit > c.ExpectedBenefit
		}
		return a.Identity.PID < c.Identity.PID
	})
	return plan
}

// preChecks lists the revalidation steps the runner performs before
// signaling.
func preChecks(a decision.Action) []string {
	checks := []string{"reread_state", "revalidate_identity"}
	if a.Destructive() {
		checks = append(checks, "confirm_not_disk_sleep")
	}
	return checks
}

// routingFor records alternate handling for targets signals cannot
// reach.
func routingFor(in Input) string {
	switch in.Record.State {
	case collect.StateDiskSleep:
		hint := "disk sleep: investigate wait channel"
		return hint
	case collect.StateZombie:
		return "zombie: reap via parent"
	}
	if _, ok := in.Outcome.Rationale.DisabledActions[decision.ActionKill]; ok &&
		in.Outcome.OptimalAction == decision.ActionRestart {
		return "forward to supervisor stop"
	}
	return ""
}
