// Package action — provider.go
//
// The TOCTOU identity gate. Every runner calls Revalidate immediately
// before signaling; a false result fails the action with
// IdentityMismatch and the plan records a terminal skip. The live
// provider re-reads start_id and uid from /proc, so a PID recycled
// between planning and execution can never be signaled.

package action

import (
	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

// IdentityProvider revalidates a planned identity against the live
// system immediately before a destructive act.
type IdentityProvider interface {
	// Revalidate returns true only when the PID still denotes the
	// planned incarnation under the planned UID.
	Revalidate(planned identity.ProcessIdentity) (bool, error)
}

// LiveIdentityProvider reads /proc.
type LiveIdentityProvider struct {
	// Lookup is injectable for tests; defaults to collect.LookupIdentity.
	Lookup func(pid uint32) *collect.CurrentIdentity
}

// NewLiveIdentityProvider returns the /proc-backed provider.
func NewLiveIdentityProvider() *LiveIdentityProvider {
	return &LiveIdentityProvider{Lookup: collect.LookupIdentity}
}

// Revalidate implements IdentityProvider. A vanished process, a
// start_id mismatch (PID reuse), or a UID change all return false.
func (p *LiveIdentityProvider) Revalidate(planned identity.ProcessIdentity) (bool, error) {
	cur := p.Lookup(planned.PID)
	if cur == nil || !cur.Alive {
		return false, nil
	}
	if !identity.Match(planned.StartID, cur.StartID) {
		return false, nil
	}
	if cur.UID != planned.UID {
		return false, nil
	}
	return true, nil
}
