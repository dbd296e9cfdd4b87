package blast

import (
	"math"
	"testing"
)

func TestNoBlastRadius(t *testing.T) {
	r := Compute(Input{PID: 100, Table: map[uint32]ProcEntry{
		100: {Comm: "leaf", PPID: 1},
	}})
	if len(r.Children) != 0 || len(r.Ports) != 0 || len(r.Writes) != 0 {
		t.Fatalf("leaf process should have empty radius: %+v", r)
	}
	if r.Score != 0 || r.Summary != "LOW" {
		t.Fatalf("empty radius must score 0/LOW, got %g/%s", r.Score, r.Summary)
	}
}

func TestChildrenEnumeratedDeterministically(t *testing.T) {
	tbl := map[uint32]ProcEntry{
		100: {Comm: "root", PPID: 1},
		103: {Comm: "c3", PPID: 100},
		101: {Comm: "c1", PPID: 100},
		200: {Comm: "gc", PPID: 101},
		999: {Comm: "other", PPID: 1},
	}
	r := Compute(Input{PID: 100, Table: tbl})
	if len(r.Children) != 3 {
		t.Fatalf("want 3 descendants, got %d", len(r.Children))
	}
	// depth 1 sorted by pid, then depth 2.
	if r.Children[0].PID != 101 || r.Children[1].PID != 103 || r.Children[2].PID != 200 {
		t.Fatalf("deterministic (depth, pid) ordering violated: %+v", r.Children)
	}
	if r.Children[2].Depth != 2 {
		t.Fatalf("grandchild depth = %d, want 2", r.Children[2].Depth)
	}
	want := math.Log1p(3) * 0.5
	if math.Abs(r.Score-want) > 1e-9 {
		t.Fatalf("score = %g, want %g", r.Score, want)
	}
}

func TestCycleDefense(t *testing.T) {
	// Corrupt table with a ppid loop must still terminate.
	tbl := map[uint32]ProcEntry{
		100: {Comm: "a", PPID: 200},
		200: {Comm: "b", PPID: 100},
	}
	r := Compute(Input{PID: 100, Table: tbl})
	if len(r.Children) != 1 {
		t.Fatalf("loop should yield one visited child, got %d", len(r.Children))
	}
}

func TestPortWeights(t *testing.T) {
	r := Compute(Input{PID: 1, Table: map[uint32]ProcEntry{},
		ListeningPorts: []uint16{80, 8080}})
	if math.Abs(r.Score-3.0) > 1e-9 {
		t.Fatalf("privileged 2.0 + unprivileged 1.0 = 3.0, got %g", r.Score)
	}
	if r.Summary != "MEDIUM" {
		t.Fatalf("score 3.0 is MEDIUM, got %s", r.Summary)
	}
}

func TestWriteCategorization(t *testing.T) {
	cases := []struct {
		path string
		kind WriteKind
		w    float64
	}{
		{"/data/app.db", WriteDatabase, 3.0},
		{"/data/app.sqlite3", WriteDatabase, 3.0},
		{"/data/app.db-wal", WriteDatabase, 3.0},
		{"/data/app.db-journal", WriteDatabase, 3.0},
		{"/run/app.lock", WriteLock, 2.0},
		{"/run/app.pid", WriteLock, 2.0},
		{"/repo/.git/objects/pack/tmp", WriteCritical, 2.0},
		{"/tmp/scratch.txt", WriteGeneric, 0.5},
	}
	critical := []string{".git/"}
	for _, c := range cases {
		kind, w := categorizeWrite(c.path, critical)
		if kind != c.kind || w != c.w {
			t.Errorf("%s: got (%s, %g), want (%s, %g)", c.path, kind, w, c.kind, c.w)
		}
	}
}

func TestCombinedHighRisk(t *testing.T) {
	tbl := map[uint32]ProcEntry{
		10: {Comm: "svc", PPID: 1},
		11: {Comm: "w1", PPID: 10},
		12: {Comm: "w2", PPID: 10},
	}
	r := Compute(Input{
		PID:            10,
		Table:          tbl,
		ListeningPorts: []uint16{443},
		OpenWriteFiles: []string{"/var/lib/app/state.db"},
	})
	// ln(3)*0.5 + 2.0 + 3.0 ≈ 5.55 → HIGH.
	if r.Summary != "HIGH" {
		t.Fatalf("combined risk should be HIGH, got %s (%g)", r.Summary, r.Score)
	}
}
