package apply

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/joyshmitz/process-triage-sub005/internal/collect"
)

func ident(pid uint32) Identity {
	return Identity{PID: pid, StartID: fmt.Sprintf("boot1:%d:%d", pid*100, pid), UID: 1000}
}

func planned(pid uint32) PlannedAction {
	return PlannedAction{Identity: ident(pid), Action: "kill", ExpectedLoss: 0.1, Rationale: "test"}
}

func live(pid uint32) *collect.CurrentIdentity {
	return &collect.CurrentIdentity{
		PID: pid, StartID: fmt.Sprintf("boot1:%d:%d", pid*100, pid), UID: 1000, Alive: true,
	}
}

func driver() *Driver { return NewDriver(zap.NewNop()) }

func TestRevalidate(t *testing.T) {
	planned := ident(1)

	if got := Revalidate(planned, live(1)); got != ReasonMatch {
		t.Fatalf("matching identity → %s", got)
	}
	if got := Revalidate(planned, nil); got != ReasonProcessGone {
		t.Fatalf("missing process → %s", got)
	}
	dead := live(1)
	dead.Alive = false
	if got := Revalidate(planned, dead); got != ReasonProcessGone {
		t.Fatalf("dead process → %s", got)
	}
	reused := live(1)
	reused.StartID = "boot1:999:1"
	if got := Revalidate(planned, reused); got != ReasonPidReused {
		t.Fatalf("start_id change → %s", got)
	}
	chowned := live(1)
	chowned.UID = 2000
	if got := Revalidate(planned, chowned); got != ReasonUidChanged {
		t.Fatalf("uid change → %s", got)
	}
}

func TestResumeAllValid(t *testing.T) {
	plan := NewExecutionPlan("s1", []PlannedAction{planned(1), planned(2)})
	res := driver().Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity { return live(pid) },
		func(a PlannedAction) error { return nil })

	if res.NewlyApplied != 2 || res.PreviouslyApplied != 0 {
		t.Fatalf("want 2 newly applied, got %+v", res)
	}
	if !plan.IsComplete() {
		t.Fatal("plan must be complete")
	}
	if res.ExitCode() != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode())
	}
}

func TestResumePidReuseFailsClosed(t *testing.T) {
	plan := NewExecutionPlan("s1", []PlannedAction{{
		Identity: Identity{PID: 123, StartID: "boot1:100:123", UID: 1000},
		Action:   "kill",
	}})
	executed := false
	res := driver().Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity {
			return &collect.CurrentIdentity{PID: 123, StartID: "boot1:999:123", UID: 1000, Alive: true}
		},
		func(a PlannedAction) error { executed = true; return nil })

	if executed {
		t.Fatal("no signal may be sent on a PID-reuse mismatch")
	}
	if res.SkippedIdentityMismatch != 1 || res.NewlyApplied != 0 {
		t.Fatalf("want one identity mismatch, got %+v", res)
	}
	if len(res.Entries) != 1 || res.Entries[0].Status != StatusIdentityMismatch {
		t.Fatalf("log entry: %+v", res.Entries)
	}
	if res.Entries[0].Error != string(ReasonPidReused) {
		t.Fatalf("reason = %q", res.Entries[0].Error)
	}
	// Identity mismatch blocked every destructive action → exit 3.
	if res.ExitCode() != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode())
	}

	// Terminal: a second resume does not retry.
	res2 := driver().Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity { return live(pid) },
		func(a PlannedAction) error { t.Fatal("retried terminal skip"); return nil })
	if len(res2.Entries) != 0 {
		t.Fatalf("second resume attempted work: %+v", res2.Entries)
	}
}

func TestResumeProcessGone(t *testing.T) {
	plan := NewExecutionPlan("s1", []PlannedAction{planned(1)})
	res := driver().Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity { return nil },
		func(a PlannedAction) error { return nil })

	if res.SkippedProcessGone != 1 {
		t.Fatalf("want skipped process gone, got %+v", res)
	}
	if res.ExitCode() != 2 {
		t.Fatalf("exit code = %d, want 2 (partial)", res.ExitCode())
	}
	if !plan.IsComplete() {
		t.Fatal("skipped is terminal")
	}
}

func TestResumeFailedIsRetried(t *testing.T) {
	plan := NewExecutionPlan("s1", []PlannedAction{planned(1), planned(2), planned(3)})

	r1 := driver().Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity { return live(pid) },
		func(a PlannedAction) error {
			if a.Identity.PID == 3 {
				return errors.New("transient failure")
			}
			return nil
		})
	if r1.NewlyApplied != 2 || r1.Failed != 1 {
		t.Fatalf("first pass: %+v", r1)
	}
	if plan.IsComplete() {
		t.Fatal("failed action must stay pending")
	}

	r2 := driver().Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity { return live(pid) },
		func(a PlannedAction) error { return nil })
	if r2.PreviouslyApplied != 2 || r2.NewlyApplied != 1 {
		t.Fatalf("second pass: %+v", r2)
	}
	if !plan.IsComplete() {
		t.Fatal("plan must be complete after retry")
	}
}

func TestResumeIdempotent(t *testing.T) {
	plan := NewExecutionPlan("s1", []PlannedAction{planned(1)})
	lookup := func(pid uint32) *collect.CurrentIdentity { return live(pid) }

	_ = driver().Resume(context.Background(), plan, lookup,
		func(a PlannedAction) error { return nil })
	r2 := driver().Resume(context.Background(), plan, lookup,
		func(a PlannedAction) error { t.Fatal("idempotence violated"); return nil })
	if r2.PreviouslyApplied != 1 || r2.NewlyApplied != 0 {
		t.Fatalf("second resume: %+v", r2)
	}
}

func TestResumeCancellation(t *testing.T) {
	plan := NewExecutionPlan("s1", []PlannedAction{planned(1), planned(2)})
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	_ = driver().Resume(ctx, plan,
		func(pid uint32) *collect.CurrentIdentity { return live(pid) },
		func(a PlannedAction) error {
			count++
			cancel() // cancel mid-plan; in-flight action completes
			return nil
		})
	if count != 1 {
		t.Fatalf("want exactly one action before cancellation, got %d", count)
	}
	if plan.IsComplete() {
		t.Fatal("remaining action must stay pending for the next resume")
	}
}

func TestAppliedSubsetOfActions(t *testing.T) {
	// Invariant 1: applied(log) ⊆ actions(P), completed ∩ pending = ∅
	// after every resume call.
	plan := NewExecutionPlan("s1", []PlannedAction{planned(1), planned(2)})
	actionSet := map[Identity]bool{ident(1): true, ident(2): true}

	for i := 0; i < 3; i++ {
		_ = driver().Resume(context.Background(), plan,
			func(pid uint32) *collect.CurrentIdentity { return live(pid) },
			func(a PlannedAction) error { return nil })

		for _, e := range plan.Log {
			if e.Status == StatusApplied && !actionSet[e.Identity] {
				t.Fatalf("applied entry outside plan actions: %+v", e)
			}
		}
		pending := map[Identity]bool{}
		for _, a := range plan.PendingActions() {
			pending[a.Identity] = true
		}
		for id := range plan.completedSet() {
			if pending[id] {
				t.Fatalf("identity %v both completed and pending", id)
			}
		}
	}
}

func TestPlanPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.json")
	logPath := filepath.Join(dir, "execution.log")

	plan := NewExecutionPlan("s1", []PlannedAction{planned(1), planned(2)})
	if err := SavePlan(planPath, plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	d := driver()
	d.LogPath = logPath
	_ = d.Resume(context.Background(), plan,
		func(pid uint32) *collect.CurrentIdentity {
			if pid == 2 {
				return nil
			}
			return live(pid)
		},
		func(a PlannedAction) error { return nil })

	loaded, err := LoadPlan(planPath, logPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Log) != 2 {
		t.Fatalf("replayed log has %d entries, want 2", len(loaded.Log))
	}
	if !loaded.IsComplete() {
		t.Fatal("replayed plan must be complete")
	}
	if loaded.AppliedCount() != 1 {
		t.Fatalf("applied count = %d, want 1", loaded.AppliedCount())
	}
}
