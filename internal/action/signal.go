// Package action — signal.go
//
// Unix signal delivery with staged escalation and verification.
//
//	Pause  → SIGSTOP, then poll for state T within the verify window
//	Resume → SIGCONT, then poll for S or R
//	Kill   → SIGTERM, poll for exit within the grace window; if still
//	         alive, SIGKILL and poll for exit within the remaining
//	         budget
//
// Process-group mode sends to -pgid instead of pid. Every destructive
// send is preceded by the identity gate; a revalidation miss fails the
// action with IdentityMismatch and no signal is sent.

package action

import (
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
	"github.com/joyshmitz/process-triage-sub005/internal/planner"
)

// SignalConfig holds the timing budget for signal delivery.
type SignalConfig struct {
	// TermGrace is how long a SIGTERM'd process gets before SIGKILL.
	TermGrace time.Duration `yaml:"term_grace" json:"term_grace"`
	// VerifyTimeout bounds state-transition polling.
	VerifyTimeout time.Duration `yaml:"verify_timeout" json:"verify_timeout"`
	// PollInterval is the state re-read cadence.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultSignalConfig mirrors the planner's kill timeout triple.
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		TermGrace:     2 * time.Second,
		VerifyTimeout: 5 * time.Second,
		PollInterval:  50 * time.Millisecond,
	}
}

// Runner is the uniform per-platform action contract.
type Runner interface {
	Execute(pa *planner.PlanAction) error
	Verify(pa *planner.PlanAction) error
}

// SignalRunner delivers pause/resume/kill via kill(2).
type SignalRunner struct {
	cfg      SignalConfig
	provider IdentityProvider
	log      *zap.Logger

	// hooks injectable for tests
	kill      func(pid int, sig syscall.Signal) error
	readState func(pid uint32) (byte, error)
	sleep     func(d time.Duration)
}

// NewSignalRunner builds a runner gated by the given identity provider.
func NewSignalRunner(cfg SignalConfig, provider IdentityProvider, log *zap.Logger) *SignalRunner {
	return &SignalRunner{
		cfg:       cfg,
		provider:  provider,
		log:       log,
		kill:      unix.Kill,
		readState: collect.StatState,
		sleep:     time.Sleep,
	}
}

// sendSignal delivers one signal, honouring process-group mode.
func (r *SignalRunner) sendSignal(pa *planner.PlanAction, sig syscall.Signal) error {
	target := int(pa.Identity.PID)
	if pa.UseProcessGroup && pa.Identity.PGID != 0 {
		target = -int(pa.Identity.PGID)
	}
	if err := r.kill(target, sig); err != nil {
		return classifyErrno(fmt.Sprintf("signal %d", sig), pa.Identity.PID, err)
	}
	return nil
}

// gate runs the TOCTOU revalidation.
func (r *SignalRunner) gate(planned identity.ProcessIdentity, op string) error {
	ok, err := r.provider.Revalidate(planned)
	if err != nil {
		return &Error{Kind: KindFailed, Op: op, PID: planned.PID, Err: err}
	}
	if !ok {
		return &Error{Kind: KindIdentityMismatch, Op: op, PID: planned.PID}
	}
	return nil
}

// Execute implements Runner for pause and kill (restart is delivered
// as a kill). Resume is not an Execute label; it goes through Resume.
func (r *SignalRunner) Execute(pa *planner.PlanAction) error {
	switch pa.ActionLabel {
	case "pause":
		return r.executePause(pa)
	case "kill", "restart":
		return r.executeKill(pa)
	default:
		return &Error{Kind: KindFailed, Op: "execute " + pa.ActionLabel, PID: pa.Identity.PID,
			Err: fmt.Errorf("signal runner cannot execute %q", pa.ActionLabel)}
	}
}

// Verify implements Runner.
func (r *SignalRunner) Verify(pa *planner.PlanAction) error {
	switch pa.ActionLabel {
	case "pause":
		return r.verifyState(pa.Identity.PID, "verify pause", 'T')
	case "kill", "restart":
		return r.verifyGone(pa.Identity.PID, r.cfg.VerifyTimeout)
	default:
		return nil
	}
}

func (r *SignalRunner) executePause(pa *planner.PlanAction) error {
	if err := r.gate(pa.Identity, "pause"); err != nil {
		return err
	}
	if err := r.sendSignal(pa, unix.SIGSTOP); err != nil {
		return err
	}
	return r.verifyState(pa.Identity.PID, "pause", 'T')
}

// Resume sends SIGCONT and verifies the process left the stopped
// state. Used directly and as the pause reversal hook.
func (r *SignalRunner) Resume(planned identity.ProcessIdentity, useGroup bool) error {
	if err := r.gate(planned, "resume"); err != nil {
		return err
	}
	target := int(planned.PID)
	if useGroup && planned.PGID != 0 {
		target = -int(planned.PGID)
	}
	if err := r.kill(target, unix.SIGCONT); err != nil {
		return classifyErrno("sigcont", planned.PID, err)
	}
	return r.verifyState(planned.PID, "resume", 'S', 'R')
}

func (r *SignalRunner) executeKill(pa *planner.PlanAction) error {
	pid := pa.Identity.PID
	if err := r.gate(pa.Identity, "kill"); err != nil {
		return err
	}

	if err := r.sendSignal(pa, unix.SIGTERM); err != nil {
		if KindOf(err) == KindProcessGone {
			return nil // Already exited between plan and signal.
		}
		return err
	}

	if r.waitGone(pid, r.cfg.TermGrace) {
		r.log.Debug("terminated on SIGTERM", zap.Uint32("pid", pid))
		return nil
	}

	// Escalate.
	r.log.Info("SIGTERM grace expired, escalating to SIGKILL", zap.Uint32("pid", pid))
	if err := r.sendSignal(pa, unix.SIGKILL); err != nil {
		if KindOf(err) == KindProcessGone {
			return nil
		}
		return err
	}
	if !r.waitGone(pid, r.cfg.VerifyTimeout) {
		return &Error{Kind: KindTimeout, Op: "kill", PID: pid,
			Err: fmt.Errorf("still alive %s after SIGKILL", r.cfg.VerifyTimeout)}
	}
	return nil
}

// waitGone polls until the PID stops existing or the window closes.
// A zombie counts as gone: the signal did its work, reaping is the
// parent's job.
func (r *SignalRunner) waitGone(pid uint32, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		if err := r.kill(int(pid), 0); err != nil {
			return true
		}
		if st, err := r.readState(pid); err != nil || st == 'Z' || st == 'X' || st == 'x' {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		r.sleep(r.cfg.PollInterval)
	}
}

// verifyState polls until the process shows one of the wanted state
// letters.
func (r *SignalRunner) verifyState(pid uint32, op string, want ...byte) error {
	deadline := time.Now().Add(r.cfg.VerifyTimeout)
	for {
		st, err := r.readState(pid)
		if err != nil {
			return &Error{Kind: KindProcessGone, Op: op, PID: pid, Err: err}
		}
		for _, w := range want {
			if st == w {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return &Error{Kind: KindTimeout, Op: op, PID: pid,
				Err: fmt.Errorf("state %q, want one of %q", st, want)}
		}
		r.sleep(r.cfg.PollInterval)
	}
}

// verifyGone confirms the target exited.
func (r *SignalRunner) verifyGone(pid uint32, window time.Duration) error {
	if r.waitGone(pid, window) {
		return nil
	}
	return &Error{Kind: KindTimeout, Op: "verify kill", PID: pid,
		Err: fmt.Errorf("still alive after %s", window)}
}
