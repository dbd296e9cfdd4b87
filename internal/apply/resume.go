// Package apply — resume.go
//
// The resumable apply driver with the strict identity gate.
//
// For every pending action:
//
//  1. lookup_fn: nil or not-alive → Skipped (ProcessGone)
//  2. start_id differs → IdentityMismatch (PidReused);
//     uid differs → IdentityMismatch (UidChanged); both terminal-skip
//  3. execute_fn: Ok → Applied, Err → Failed (retried on next resume)
//
// Fail-closed invariant: identity ambiguity is terminal, never
// retried. Calling Resume twice with the same inputs is idempotent —
// the second call only attempts still-pending actions. All counters
// are derived from the log, never stored.

package apply

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

// MismatchReason explains a revalidation miss.
type MismatchReason string

const (
	ReasonMatch       MismatchReason = "match"
	ReasonProcessGone MismatchReason = "process_gone"
	ReasonPidReused   MismatchReason = "pid_reused"
	ReasonUidChanged  MismatchReason = "uid_changed"
)

// LookupFunc retrieves the current identity of a PID; nil means the
// process does not exist.
type LookupFunc func(pid uint32) *collect.CurrentIdentity

// ExecuteFunc performs one action; a non-nil error marks it Failed.
type ExecuteFunc func(a PlannedAction) error

// Revalidate compares a planned identity against the live one.
func Revalidate(planned Identity, current *collect.CurrentIdentity) MismatchReason {
	if current == nil || !current.Alive {
		return ReasonProcessGone
	}
	if !identity.Match(planned.StartID, current.StartID) {
		return ReasonPidReused
	}
	if current.UID != planned.UID {
		return ReasonUidChanged
	}
	return ReasonMatch
}

// Result summarizes one resume pass. Every count is derived from the
// entries appended during the pass plus the pre-existing log.
type Result struct {
	SessionID               string  `json:"session_id"`
	PreviouslyApplied       int     `json:"previously_applied"`
	NewlyApplied            int     `json:"newly_applied"`
	SkippedIdentityMismatch int     `json:"skipped_identity_mismatch"`
	SkippedProcessGone      int     `json:"skipped_process_gone"`
	Failed                  int     `json:"failed"`
	Entries                 []Entry `json:"entries"`
}

// ExitCode maps a finished plan to the process exit code contract:
// 0 all applied, 2 partial (skips or failures), 3 the identity gate
// blocked every destructive action.
func (r Result) ExitCode() int {
	attempted := r.NewlyApplied + r.SkippedIdentityMismatch + r.SkippedProcessGone + r.Failed
	switch {
	case attempted > 0 && r.SkippedIdentityMismatch == attempted:
		return 3
	case r.SkippedIdentityMismatch > 0 || r.SkippedProcessGone > 0 || r.Failed > 0:
		return 2
	default:
		return 0
	}
}

// Driver runs resume passes over execution plans.
type Driver struct {
	log *zap.Logger

	// LogPath, when set, durably appends every entry as it is recorded.
	LogPath string

	// Now is injectable for deterministic timestamps.
	Now func() time.Time
}

// NewDriver builds a driver.
func NewDriver(log *zap.Logger) *Driver {
	return &Driver{log: log, Now: time.Now}
}

// Resume executes all pending actions of the plan, gating each on
// identity revalidation. The context is checked between actions
// (cooperative cancellation); an in-flight execute runs to completion.
func (d *Driver) Resume(ctx context.Context, plan *ExecutionPlan, lookup LookupFunc, execute ExecuteFunc) Result {
	res := Result{
		SessionID:         plan.SessionID,
		PreviouslyApplied: plan.AppliedCount(),
	}

	pending := plan.PendingActions()
	for _, a := range pending {
		if ctx.Err() != nil {
			d.log.Info("resume cancelled; partial progress recoverable",
				zap.String("session", plan.SessionID))
			break
		}

		reason := Revalidate(a.Identity, lookup(a.Identity.PID))
		if reason != ReasonMatch {
			status := StatusIdentityMismatch
			if reason == ReasonProcessGone {
				status = StatusSkipped
				res.SkippedProcessGone++
			} else {
				res.SkippedIdentityMismatch++
			}
			d.record(plan, &res, Entry{
				Identity:  a.Identity,
				Action:    a.Action,
				Status:    status,
				Timestamp: d.Now().UTC(),
				Error:     string(reason),
			})
			d.log.Warn("action skipped by identity gate",
				zap.Uint32("pid", a.Identity.PID),
				zap.String("start_id", a.Identity.StartID),
				zap.String("reason", string(reason)))
			continue
		}

		if err := execute(a); err != nil {
			res.Failed++
			d.record(plan, &res, Entry{
				Identity:  a.Identity,
				Action:    a.Action,
				Status:    StatusFailed,
				Timestamp: d.Now().UTC(),
				Error:     err.Error(),
			})
			d.log.Error("action failed",
				zap.Uint32("pid", a.Identity.PID),
				zap.String("action", a.Action),
				zap.Error(err))
			continue
		}

		res.NewlyApplied++
		d.record(plan, &res, Entry{
			Identity:  a.Identity,
			Action:    a.Action,
			Status:    StatusApplied,
			Timestamp: d.Now().UTC(),
		})
	}

	return res
}

// record appends to the in-memory log, the result, and (when
// configured) the durable log file.
func (d *Driver) record(plan *ExecutionPlan, res *Result, e Entry) {
	plan.Record(e)
	res.Entries = append(res.Entries, e)
	if d.LogPath != "" {
		if err := AppendLogEntry(d.LogPath, e); err != nil {
			d.log.Error("durable log append failed", zap.Error(err))
		}
	}
}
