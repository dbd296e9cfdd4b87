// Package decision — feasibility.go
//
// Action feasibility gating from the observed process state and the
// identity quality. These gates run before loss minimization; a gated
// action can never be selected regardless of its expected loss.

package decision

import (
	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

// FeasibilityFor derives the disabled-action set for one observation.
//
// Gates:
//   - Zombie: already exited; only Keep (harvest happens at the parent)
//   - DiskSleep: signals cannot interrupt D-state; Kill disabled and
//     the planner records a routing hint instead
//   - identity quality: PidOnly forbids everything but Keep; NoBootId
//     permits pause and throttle only
//   - privileged renice: lowering nice below 0 needs CAP_SYS_NICE
func FeasibilityFor(state collect.ProcState, quality identity.Quality, wantsNegativeNice, privileged bool) Feasibility {
	f := NewFeasibility()

	switch state {
	case collect.StateZombie:
		for _, a := range Actions {
			if a != ActionKeep {
				f.Disable(a, "zombie: process already exited, awaiting parent reap")
			}
		}
		return f
	case collect.StateDiskSleep:
		f.Disable(ActionKill, "disk sleep: uninterruptible; investigate the wait channel instead")
	}

	if !quality.AllowsKill() {
		f.Disable(ActionKill, "identity quality "+quality.String()+": automated kill forbidden")
		f.Disable(ActionRestart, "identity quality "+quality.String()+": automated restart forbidden")
		f.Disable(ActionRenice, "identity quality "+quality.String()+": renice forbidden without full identity")
	}
	if !quality.AllowsPause() {
		f.Disable(ActionPause, "identity quality "+quality.String()+": no destructive actions")
		f.Disable(ActionThrottle, "identity quality "+quality.String()+": no destructive actions")
	}

	if wantsNegativeNice && !privileged {
		f.Disable(ActionRenice, "renice below 0 requires CAP_SYS_NICE")
	}

	return f
}
