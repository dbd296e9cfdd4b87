package action

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
	"github.com/joyshmitz/process-triage-sub005/internal/planner"
)

// staticProvider revalidates from a fixed table.
type staticProvider struct {
	byPID map[uint32]*collect.CurrentIdentity
}

func (p *staticProvider) Revalidate(planned identity.ProcessIdentity) (bool, error) {
	cur := p.byPID[planned.PID]
	if cur == nil || !cur.Alive {
		return false, nil
	}
	return identity.Match(planned.StartID, cur.StartID) && cur.UID == planned.UID, nil
}

func plannedAction(pid uint32, label string) *planner.PlanAction {
	return &planner.PlanAction{
		Identity: identity.ProcessIdentity{
			PID: pid, StartID: "boot1:100:123", UID: 1000, Quality: identity.QualityFull,
		},
		ActionLabel: label,
	}
}

func matchingProvider(pid uint32) *staticProvider {
	return &staticProvider{byPID: map[uint32]*collect.CurrentIdentity{
		pid: {PID: pid, StartID: "boot1:100:123", UID: 1000, Alive: true},
	}}
}

// fakeKernel simulates kill(2) and /proc state for a single PID.
type fakeKernel struct {
	state     byte
	exists    bool
	signals   []syscall.Signal
	termKills bool // SIGTERM makes the process exit
}

func (f *fakeKernel) kill(pid int, sig syscall.Signal) error {
	if !f.exists {
		return unix.ESRCH
	}
	if sig == 0 {
		return nil
	}
	f.signals = append(f.signals, sig)
	switch sig {
	case unix.SIGSTOP:
		f.state = 'T'
	case unix.SIGCONT:
		f.state = 'S'
	case unix.SIGTERM:
		if f.termKills {
			f.exists = false
		}
	case unix.SIGKILL:
		f.exists = false
	}
	return nil
}

func (f *fakeKernel) readState(pid uint32) (byte, error) {
	if !f.exists {
		return 0, os.ErrNotExist
	}
	return f.state, nil
}

func fakeRunner(k *fakeKernel, provider IdentityProvider) *SignalRunner {
	r := NewSignalRunner(SignalConfig{
		TermGrace:     20 * time.Millisecond,
		VerifyTimeout: 50 * time.Millisecond,
		PollInterval:  time.Millisecond,
	}, provider, zap.NewNop())
	r.kill = k.kill
	r.readState = k.readState
	r.sleep = func(time.Duration) {}
	return r
}

func TestPauseThenResume(t *testing.T) {
	k := &fakeKernel{state: 'S', exists: true}
	r := fakeRunner(k, matchingProvider(123))
	pa := plannedAction(123, "pause")

	if err := r.Execute(pa); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if k.state != 'T' {
		t.Fatalf("state after pause = %q, want T", k.state)
	}
	if err := r.Verify(pa); err != nil {
		t.Fatalf("verify pause: %v", err)
	}

	if err := r.Resume(pa.Identity, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if k.state != 'S' {
		t.Fatalf("state after resume = %q, want S", k.state)
	}
}

func TestKillGracefulOnSIGTERM(t *testing.T) {
	k := &fakeKernel{state: 'S', exists: true, termKills: true}
	r := fakeRunner(k, matchingProvider(123))

	if err := r.Execute(plannedAction(123, "kill")); err != nil {
		t.Fatalf("kill: %v", err)
	}
	for _, sig := range k.signals {
		if sig == unix.SIGKILL {
			t.Fatal("SIGKILL must not be sent when SIGTERM suffices")
		}
	}
}

func TestKillEscalatesToSIGKILL(t *testing.T) {
	k := &fakeKernel{state: 'S', exists: true, termKills: false}
	r := fakeRunner(k, matchingProvider(123))

	if err := r.Execute(plannedAction(123, "kill")); err != nil {
		t.Fatalf("kill: %v", err)
	}
	sawTerm, sawKill := false, false
	for _, sig := range k.signals {
		if sig == unix.SIGTERM {
			sawTerm = true
		}
		if sig == unix.SIGKILL {
			if !sawTerm {
				t.Fatal("SIGKILL before SIGTERM")
			}
			sawKill = true
		}
	}
	if !sawKill {
		t.Fatal("stubborn process must be escalated to SIGKILL")
	}
}

func TestIdentityGateBlocksSignal(t *testing.T) {
	k := &fakeKernel{state: 'S', exists: true}
	// Same PID, different start_id: PID reuse.
	provider := &staticProvider{byPID: map[uint32]*collect.CurrentIdentity{
		123: {PID: 123, StartID: "boot1:999:123", UID: 1000, Alive: true},
	}}
	r := fakeRunner(k, provider)

	err := r.Execute(plannedAction(123, "kill"))
	if KindOf(err) != KindIdentityMismatch {
		t.Fatalf("want identity_mismatch, got %v", err)
	}
	if len(k.signals) != 0 {
		t.Fatal("no signal may be sent after a revalidation miss")
	}
}

func TestKillProcessGoneIsSuccess(t *testing.T) {
	k := &fakeKernel{exists: false}
	provider := matchingProvider(123)
	r := fakeRunner(k, provider)

	// The gate passes (static table says alive) but the kernel says
	// ESRCH: already exited — counted as done, not an error.
	if err := r.Execute(plannedAction(123, "kill")); err != nil {
		t.Fatalf("kill of vanished process should succeed: %v", err)
	}
}

func TestErrnoClassification(t *testing.T) {
	cases := []struct {
		errno error
		want  Kind
	}{
		{unix.ESRCH, KindProcessGone},
		{unix.EPERM, KindPermissionDenied},
		{unix.EACCES, KindPermissionDenied},
		{unix.EINVAL, KindFailed},
		{unix.EIO, KindFatal},
	}
	for _, c := range cases {
		got := classifyErrno("test", 1, c.errno)
		if got.Kind != c.want {
			t.Errorf("%v → %s, want %s", c.errno, got.Kind, c.want)
		}
	}
}

func TestReniceCapturesReversal(t *testing.T) {
	provider := matchingProvider(123)
	r := NewReniceRunner(DefaultReniceConfig(), provider, zap.NewNop())

	applied := -1
	r.setPriority = func(pid, nice int) error { applied = nice; return nil }
	current := 0
	r.getNice = func(pid uint32) (int, error) { return current, nil }
	r.now = func() time.Time { return time.Unix(1700000000, 0) }

	pa := plannedAction(123, "renice")
	if err := r.Execute(pa); err != nil {
		t.Fatalf("renice: %v", err)
	}
	if applied != DefaultNice {
		t.Fatalf("applied nice %d, want %d", applied, DefaultNice)
	}
	if len(r.Reversals) != 1 {
		t.Fatalf("reversal metadata not captured")
	}
	meta := r.Reversals[0]
	if meta.PreviousNice != 0 || meta.AppliedNice != DefaultNice || meta.PID != 123 {
		t.Fatalf("bad reversal metadata: %+v", meta)
	}

	// Verify against the new live value.
	current = DefaultNice
	if err := r.Verify(pa); err != nil {
		t.Fatalf("verify renice: %v", err)
	}

	// Restore.
	if err := r.Restore(meta, *pa); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if applied != 0 {
		t.Fatalf("restore applied %d, want 0", applied)
	}
}

func TestReniceClamp(t *testing.T) {
	provider := matchingProvider(123)
	cfg := ReniceConfig{Nice: 99, ClampToValid: true}
	r := NewReniceRunner(cfg, provider, zap.NewNop())
	n, err := r.effectiveNice()
	if err != nil || n != MaxNice {
		t.Fatalf("clamped nice = %d (%v), want %d", n, err, MaxNice)
	}

	cfg.ClampToValid = false
	r = NewReniceRunner(cfg, provider, zap.NewNop())
	if _, err := r.effectiveNice(); err == nil {
		t.Fatal("unclamped out-of-range nice must fail")
	}
}

func TestReniceIdentityGate(t *testing.T) {
	provider := &staticProvider{byPID: map[uint32]*collect.CurrentIdentity{}}
	r := NewReniceRunner(DefaultReniceConfig(), provider, zap.NewNop())
	sent := false
	r.setPriority = func(pid, nice int) error { sent = true; return nil }

	err := r.Execute(plannedAction(123, "renice"))
	if KindOf(err) != KindIdentityMismatch {
		t.Fatalf("want identity_mismatch, got %v", err)
	}
	if sent {
		t.Fatal("setpriority must not run after a revalidation miss")
	}
}

// TestPauseResumeLiveProcess exercises the real signal path against a
// spawned sleep, mirroring the pause/resume end-to-end scenario.
func TestPauseResumeLiveProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn sleep: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	pid := uint32(cmd.Process.Pid)
	cur := collect.LookupIdentity(pid)
	if cur == nil {
		t.Fatal("spawned process not found in /proc")
	}

	provider := NewLiveIdentityProvider()
	r := NewSignalRunner(DefaultSignalConfig(), provider, zap.NewNop())
	pa := &planner.PlanAction{
		Identity: identity.ProcessIdentity{
			PID: pid, StartID: cur.StartID, UID: cur.UID, Quality: identity.QualityFull,
		},
		ActionLabel: "pause",
	}

	if err := r.Execute(pa); err != nil {
		t.Fatalf("pause live process: %v", err)
	}
	st, err := collect.StatState(pid)
	if err != nil || st != 'T' {
		t.Fatalf("state = %q (%v), want T", st, err)
	}

	if err := r.Resume(pa.Identity, false); err != nil {
		t.Fatalf("resume live process: %v", err)
	}
	st, err = collect.StatState(pid)
	if err != nil || (st != 'S' && st != 'R') {
		t.Fatalf("state = %q (%v), want S or R", st, err)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindFailed {
		t.Fatal("plain errors default to failed")
	}
}
