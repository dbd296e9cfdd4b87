// Package identity — identity.go
//
// Stable process-incarnation identity for process triage.
//
// A PID alone does not name a process: the kernel recycles PIDs, so an
// action planned against PID 4312 an hour ago may land on an unrelated
// process today. Every destructive decision in this system is therefore
// keyed on a start_id, a string that is stable for exactly one OS-level
// incarnation of a process.
//
// Canonical start_id form:
//
//	"<boot_id>:<starttime_ticks>:<pid>"
//
// where boot_id comes from /proc/sys/kernel/random/boot_id and
// starttime_ticks is field 22 of /proc/<pid>/stat. Two degraded forms
// exist:
//
//	"unknown:<start_unix>:<pid>"  — boot id unavailable
//	"<pid>:<starttime>"           — legacy two-segment form, accepted for
//	                                matching only, never composed
//
// Matching rule: when both ids decompose into segments containing a start
// time, the start-time segments are compared; otherwise the ids are
// compared verbatim. This accepts legacy formats while still rejecting
// true PID reuse (a reused PID has a different start time).
//
// Identity quality gates autonomy:
//
//	Full     — automated destructive actions permitted
//	NoBootId — pause and throttle only
//	PidOnly  — no destructive actions at all

package identity

import (
	"fmt"
	"strings"
)

// Quality records the provenance of a start_id and gates what the core
// may do autonomously to the process it names.
type Quality uint8

const (
	// QualityFull means the start_id carries a boot id and kernel start
	// ticks. Automated destructive actions are permitted.
	QualityFull Quality = iota

	// QualityNoBootId means the start time is known but the boot id is
	// not. Pause and throttle are permitted; kill is not.
	QualityNoBootId

	// QualityPidOnly means only the PID is known. All destructive
	// actions are forbidden.
	QualityPidOnly
)

// String returns the quality name used in logs and session snapshots.
func (q Quality) String() string {
	switch q {
	case QualityFull:
		return "full"
	case QualityNoBootId:
		return "no_boot_id"
	case QualityPidOnly:
		return "pid_only"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(q))
	}
}

// AllowsKill reports whether automated kill/restart is permitted at this
// identity quality.
func (q Quality) AllowsKill() bool {
	return q == QualityFull
}

// AllowsPause reports whether pause/throttle is permitted at this
// identity quality.
func (q Quality) AllowsPause() bool {
	return q == QualityFull || q == QualityNoBootId
}

// ProcessIdentity uniquely names one process incarnation across time.
// PGID and SID are zero when the platform listing did not provide them.
type ProcessIdentity struct {
	PID     uint32  `json:"pid" yaml:"pid"`
	StartID string  `json:"start_id" yaml:"start_id"`
	UID     uint32  `json:"uid" yaml:"uid"`
	PGID    uint32  `json:"pgid,omitempty" yaml:"pgid,omitempty"`
	SID     uint32  `json:"sid,omitempty" yaml:"sid,omitempty"`
	Quality Quality `json:"quality" yaml:"quality"`
}

// String renders the identity tuple for log lines and user-facing
// summaries of skipped or failed actions.
func (id ProcessIdentity) String() string {
	return fmt.Sprintf("pid=%d start_id=%s uid=%d quality=%s",
		id.PID, id.StartID, id.UID, id.Quality)
}

// Compose builds the canonical three-segment start_id.
func Compose(bootID string, startTicks uint64, pid uint32) string {
	return fmt.Sprintf("%s:%d:%d", bootID, startTicks, pid)
}

// ComposeDegraded builds the degraded start_id used when no boot id is
// available. Identity quality for such ids is at most NoBootId.
func ComposeDegraded(startUnix int64, pid uint32) string {
	return fmt.Sprintf("unknown:%d:%d", startUnix, pid)
}

// Parts decomposes a start_id into its colon-separated segments.
// Returns (boot, starttime, pid string, ok) for the three-segment form.
func Parts(startID string) (boot, start, pid string, ok bool) {
	seg := strings.Split(startID, ":")
	if len(seg) != 3 {
		return "", "", "", false
	}
	return seg[0], seg[1], seg[2], true
}

// startSegment extracts the start-time segment from either canonical
// form. Three-segment ids carry it in the middle; the legacy two-segment
// "pid:starttime" form carries it second.
func startSegment(startID string) (string, bool) {
	seg := strings.Split(startID, ":")
	switch len(seg) {
	case 2, 3:
		return seg[1], seg[1] != ""
	default:
		return "", false
	}
}

// Match reports whether two start_id values denote the same incarnation.
// When both decompose into a recognised form the start-time segments are
// compared; otherwise the ids are compared verbatim.
func Match(a, b string) bool {
	if a == b {
		return a != ""
	}
	sa, oka := startSegment(a)
	sb, okb := startSegment(b)
	if oka && okb {
		return sa == sb
	}
	return false
}
