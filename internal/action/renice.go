// Package action — renice.go
//
// Priority demotion via setpriority(2) with reversal metadata.
//
// The previous nice value is read from /proc/<pid>/stat (field 19)
// before the change and persisted as ReniceReversalMetadata so the
// action can be undone. Verification re-reads the value after the
// call. Requested values outside [-20, 19] are clamped when
// ClampToValid is set and rejected otherwise; lowering below 0 is
// gated earlier by feasibility analysis.

package action

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/planner"
)

// Nice value bounds per setpriority(2).
const (
	MinNice = -20
	MaxNice = 19

	// DefaultNice is the demotion target for runaway processes.
	DefaultNice = 10
)

// ReniceConfig controls the demotion.
type ReniceConfig struct {
	// Nice is the target value.
	Nice int `yaml:"nice" json:"nice"`
	// ClampToValid clamps out-of-range requests instead of failing.
	ClampToValid bool `yaml:"clamp_to_valid" json:"clamp_to_valid"`
	// CaptureReversal reads the previous value before changing it.
	CaptureReversal bool `yaml:"capture_reversal" json:"capture_reversal"`
}

// DefaultReniceConfig demotes to nice 10 with reversal capture on.
func DefaultReniceConfig() ReniceConfig {
	return ReniceConfig{Nice: DefaultNice, ClampToValid: true, CaptureReversal: true}
}

// ReniceReversalMetadata is the persisted undo record.
type ReniceReversalMetadata struct {
	PID          uint32    `json:"pid"`
	PreviousNice int       `json:"previous_nice"`
	AppliedNice  int       `json:"applied_nice"`
	AppliedAt    time.Time `json:"applied_at"`
}

// ReniceRunner applies and verifies priority demotions.
type ReniceRunner struct {
	cfg      ReniceConfig
	provider IdentityProvider
	log      *zap.Logger

	// Reversals collects the metadata captured during this run, in
	// apply order. The caller persists it with the session.
	Reversals []ReniceReversalMetadata

	setPriority func(pid int, nice int) error
	getNice     func(pid uint32) (int, error)
	now         func() time.Time
}

// NewReniceRunner builds a runner gated by the given identity provider.
func NewReniceRunner(cfg ReniceConfig, provider IdentityProvider, log *zap.Logger) *ReniceRunner {
	return &ReniceRunner{
		cfg:      cfg,
		provider: provider,
		log:      log,
		setPriority: func(pid, nice int) error {
			return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
		},
		getNice: collect.StatNice,
		now:     time.Now,
	}
}

// effectiveNice applies the clamp policy.
func (r *ReniceRunner) effectiveNice() (int, error) {
	n := r.cfg.Nice
	if n >= MinNice && n <= MaxNice {
		return n, nil
	}
	if !r.cfg.ClampToValid {
		return 0, fmt.Errorf("nice %d outside [%d, %d]", n, MinNice, MaxNice)
	}
	if n < MinNice {
		return MinNice, nil
	}
	return MaxNice, nil
}

// Execute implements Runner.
func (r *ReniceRunner) Execute(pa *planner.PlanAction) error {
	pid := pa.Identity.PID
	nice, err := r.effectiveNice()
	if err != nil {
		return &Error{Kind: KindFailed, Op: "renice", PID: pid, Err: err}
	}

	ok, err := r.provider.Revalidate(pa.Identity)
	if err != nil {
		return &Error{Kind: KindFailed, Op: "renice", PID: pid, Err: err}
	}
	if !ok {
		return &Error{Kind: KindIdentityMismatch, Op: "renice", PID: pid}
	}

	var previous int
	havePrevious := false
	if r.cfg.CaptureReversal {
		if p, err := r.getNice(pid); err == nil {
			previous, havePrevious = p, true
		}
	}

	if err := r.setPriority(int(pid), nice); err != nil {
		return classifyErrno("setpriority", pid, err)
	}

	if havePrevious {
		r.Reversals = append(r.Reversals, ReniceReversalMetadata{
			PID:          pid,
			PreviousNice: previous,
			AppliedNice:  nice,
			AppliedAt:    r.now(),
		})
	}
	r.log.Debug("renice applied",
		zap.Uint32("pid", pid), zap.Int("nice", nice))
	return nil
}

// Verify implements Runner: the live nice value must match the target.
func (r *ReniceRunner) Verify(pa *planner.PlanAction) error {
	pid := pa.Identity.PID
	want, err := r.effectiveNice()
	if err != nil {
		return &Error{Kind: KindFailed, Op: "verify renice", PID: pid, Err: err}
	}
	got, err := r.getNice(pid)
	if err != nil {
		return &Error{Kind: KindProcessGone, Op: "verify renice", PID: pid, Err: err}
	}
	if got != want {
		return &Error{Kind: KindFailed, Op: "verify renice", PID: pid,
			Err: fmt.Errorf("nice is %d, want %d", got, want)}
	}
	return nil
}

// Restore undoes a previously applied renice from its reversal record.
// The identity gate still applies: a recycled PID is never touched.
func (r *ReniceRunner) Restore(meta ReniceReversalMetadata, planned planner.PlanAction) error {
	ok, err := r.provider.Revalidate(planned.Identity)
	if err != nil {
		return &Error{Kind: KindFailed, Op: "renice_restore", PID: meta.PID, Err: err}
	}
	if !ok {
		return &Error{Kind: KindIdentityMismatch, Op: "renice_restore", PID: meta.PID}
	}
	if err := r.setPriority(int(meta.PID), meta.PreviousNice); err != nil {
		return classifyErrno("renice_restore", meta.PID, err)
	}
	return nil
}
