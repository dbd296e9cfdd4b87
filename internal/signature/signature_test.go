package signature

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase([]SupervisorSignature{
		{
			Name:        "jest-worker",
			CommPattern: `^node$`,
			CmdlinePattern: `jest-worker`,
			Confidence:  0.95,
			Priors: Priors{
				Abandoned: &inference.Beta{Alpha: 8, Beta: 2},
				Useful:    &inference.Beta{Alpha: 2, Beta: 8},
			},
		},
		{
			Name:        "ssh-session",
			CommPattern: `^sshd$`,
			Confidence:  0.8,
		},
		{
			Name:       "vscode-helper",
			ParentComm: "code",
			EnvPattern: `^VSCODE_PID=`,
			Confidence: 1.0,
		},
	})
	require.NoError(t, err)
	return db
}

func TestDatabaseValidation(t *testing.T) {
	_, err := NewDatabase([]SupervisorSignature{{Name: "", Confidence: 0.5}})
	require.Error(t, err, "empty name rejected")

	_, err = NewDatabase([]SupervisorSignature{{Name: "x", Confidence: 1.5}})
	require.Error(t, err, "confidence out of range rejected")

	_, err = NewDatabase([]SupervisorSignature{{Name: "x", Confidence: 0.5, CommPattern: "("}})
	require.Error(t, err, "invalid regexp rejected")
}

func TestMatchLevels(t *testing.T) {
	db := testDB(t)

	// comm only → CommandOnly at 0.70 × 0.8.
	m := db.Best(Subject{Comm: "sshd"})
	require.NotNil(t, m)
	require.Equal(t, MatchCommandOnly, m.Level)
	require.InDelta(t, 0.70*0.8, m.Score, 1e-9)

	// comm + cmdline → MultiPattern at 1.0 × 0.95.
	m = db.Best(Subject{Comm: "node", Cmdline: "node /repo/node_modules/.bin/jest-worker"})
	require.NotNil(t, m)
	require.Equal(t, MatchMultiPattern, m.Level)
	require.InDelta(t, 0.95, m.Score, 1e-9)

	// parent comm + env → MultiPattern.
	m = db.Best(Subject{Comm: "zsh", ParentComm: "code", Env: []string{"VSCODE_PID=42"}})
	require.NotNil(t, m)
	require.Equal(t, MatchMultiPattern, m.Level)
	require.InDelta(t, 1.0, m.Score, 1e-9)

	require.Nil(t, db.Best(Subject{Comm: "bash"}))
}

func TestFastPathBypass(t *testing.T) {
	db := testDB(t)
	cfg := DefaultFastPathConfig()

	best := db.Best(Subject{Comm: "node", Cmdline: "jest-worker --maxWorkers 4"})
	require.NotNil(t, best)
	require.GreaterOrEqual(t, best.Score, 0.9)

	res, ok, _ := TryFastPath(cfg, best, 4312, "boot:100:4312")
	require.True(t, ok)
	require.True(t, res.Ledger.BypassedInference)
	require.Equal(t, inference.ClassAbandoned, res.Classification)
	require.Len(t, res.Ledger.Entries, 1)
	require.Equal(t, "signature_match", res.Ledger.Entries[0].Feature)
	require.InDelta(t, 1.0, res.Posterior.Sum(), 1e-9)

	// Beta means: abandoned 0.8, useful 0.2, others 0.25 → normalized
	// abandoned = 0.8/1.5.
	require.InDelta(t, 0.8/1.5, res.Posterior.Get(inference.ClassAbandoned), 1e-9)
}

func TestFastPathDeclines(t *testing.T) {
	db := testDB(t)
	cfg := DefaultFastPathConfig()

	// Below threshold.
	best := db.Best(Subject{Comm: "sshd"})
	_, ok, reason := TryFastPath(cfg, best, 1, "x")
	require.False(t, ok)
	require.Equal(t, SkipScoreBelowThreshold, reason)

	// No priors despite perfect score.
	best = db.Best(Subject{Comm: "zsh", ParentComm: "code", Env: []string{"VSCODE_PID=42"}})
	_, ok, reason = TryFastPath(cfg, best, 1, "x")
	require.False(t, ok)
	require.Equal(t, SkipNoPriors, reason)

	// No match at all.
	_, ok, reason = TryFastPath(cfg, nil, 1, "x")
	require.False(t, ok)
	require.Equal(t, SkipNoMatch, reason)

	// Disabled.
	off := cfg
	off.Enabled = false
	_, ok, reason = TryFastPath(off, best, 1, "x")
	require.False(t, ok)
	require.Equal(t, SkipDisabled, reason)
}
