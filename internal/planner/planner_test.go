package planner

import (
	"testing"
	"time"

	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/decision"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

func input(pid uint32, act decision.Action, tier int, benefit float64) Input {
	losses := map[decision.Action]float64{}
	for _, a := range decision.Actions {
		losses[a] = 1.0
	}
	return Input{
		Record: collect.ProcessRecord{
			Identity: identity.ProcessIdentity{
				PID: pid, StartID: "b:1:1", UID: 1000, Quality: identity.QualityFull,
			},
			Comm:  "proc",
			State: collect.StateSleeping,
		},
		Result: inference.Result{
			Classification: inference.ClassAbandoned,
			Confidence:     inference.ConfidenceHigh,
		},
		Outcome: decision.Outcome{
			OptimalAction: act,
			ActionLabel:   act.String(),
			Rationale:     decision.Rationale{ExpectedLosses: losses},
		},
		Tier:            tier,
		ExpectedBenefit: benefit,
	}
}

func builder() *Builder {
	b := NewBuilder()
	b.Now = func() time.Time { return time.Unix(0, 0) }
	return b
}

func TestKeepProducesNoAction(t *testing.T) {
	plan := builder().Build([]Input{input(1, decision.ActionKeep, 1, 0)})
	if len(plan.Actions) != 0 {
		t.Fatalf("keep must not enter the plan: %+v", plan.Actions)
	}
}

func TestDeterministicOrdering(t *testing.T) {
	inputs := []Input{
		input(30, decision.ActionKill, 1, 100),
		input(10, decision.ActionKill, 0, 5),
		input(20, decision.ActionKill, 1, 100),
		input(40, decision.ActionKill, 1, 500),
	}
	plan := builder().Build(inputs)
	// (tier, -benefit, pid): 10 (tier 0), 40 (500), 20 (100, pid 20), 30.
	want := []uint32{10, 40, 20, 30}
	for i, w := range want {
		if plan.Actions[i].Identity.PID != w {
			t.Fatalf("position %d: pid %d, want %d", i, plan.Actions[i].Identity.PID, w)
		}
	}
}

func TestTimeoutTriples(t *testing.T) {
	kill := TimeoutsFor(decision.ActionKill)
	if kill.StateTransitionMS < TimeoutsFor(decision.ActionRenice).StateTransitionMS {
		t.Fatal("kill needs the longest transition window for the SIGTERM grace")
	}
	for _, a := range decision.Actions {
		tt := TimeoutsFor(a)
		if tt.SignalDeliveryMS <= 0 || tt.StateTransitionMS <= 0 || tt.VerificationMS <= 0 {
			t.Fatalf("%s: all timeout components must be positive: %+v", a, tt)
		}
	}
}

func TestReversalHooks(t *testing.T) {
	cases := map[decision.Action]string{
		decision.ActionPause:    "sigcont",
		decision.ActionThrottle: "cgroup_detach",
		decision.ActionRenice:   "renice_restore",
		decision.ActionKill:     "",
	}
	for a, want := range cases {
		if got := ReversalHookFor(a); got != want {
			t.Errorf("%s: hook %q, want %q", a, got, want)
		}
	}
}

func TestRoutingForDState(t *testing.T) {
	in := input(1, decision.ActionThrottle, 1, 0)
	in.Record.State = collect.StateDiskSleep
	plan := builder().Build([]Input{in})
	if len(plan.Actions) != 1 || plan.Actions[0].Routing == "" {
		t.Fatalf("disk-sleep target must carry a routing hint: %+v", plan.Actions)
	}
}

func TestPreChecksIncludeIdentity(t *testing.T) {
	plan := builder().Build([]Input{input(1, decision.ActionKill, 1, 0)})
	checks := plan.Actions[0].PreChecks
	found := false
	for _, c := range checks {
		if c == "revalidate_identity" {
			found = true
		}
	}
	if !found {
		t.Fatalf("every action must revalidate identity: %v", checks)
	}
}
