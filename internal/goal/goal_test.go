package goal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	g, err := Parse("free 2GB")
	require.NoError(t, err)
	require.NotNil(t, g.Target)
	require.Equal(t, MetricMemoryBytes, g.Target.Metric)
	require.Equal(t, float64(2<<30), g.Target.Amount)

	g, err = Parse("free 512 MB memory")
	require.NoError(t, err)
	require.Equal(t, float64(512<<20), g.Target.Amount)

	g, err = Parse("free 1048576 ram")
	require.NoError(t, err)
	require.Equal(t, float64(1048576), g.Target.Amount)
}

func TestParseCPU(t *testing.T) {
	g, err := Parse("reduce cpu 50%")
	require.NoError(t, err)
	require.Equal(t, MetricCPUFraction, g.Target.Metric)
	require.InDelta(t, 0.5, g.Target.Amount, 1e-9)

	g, err = Parse("free cpu 0.25")
	require.NoError(t, err)
	require.InDelta(t, 0.25, g.Target.Amount, 1e-9)
}

func TestParsePort(t *testing.T) {
	g, err := Parse("release port 8080")
	require.NoError(t, err)
	require.Equal(t, MetricPort, g.Target.Metric)
	require.Equal(t, float64(8080), g.Target.Amount)

	_, err = Parse("release port 0")
	require.Error(t, err)
	_, err = Parse("release port 99999")
	require.Error(t, err)
}

func TestParseFDs(t *testing.T) {
	g, err := Parse("free 100 fds")
	require.NoError(t, err)
	require.Equal(t, MetricFDCount, g.Target.Metric)
	require.Equal(t, float64(100), g.Target.Amount)

	g, err = Parse("free 50 file descriptors")
	require.NoError(t, err)
	require.Equal(t, MetricFDCount, g.Target.Metric)
}

func TestParseComposition(t *testing.T) {
	g, err := Parse("free 1GB and release port 3000")
	require.NoError(t, err)
	require.Len(t, g.And, 2)
	require.True(t, g.Conjunctive())

	g, err = Parse("free 2GB or free 4GB")
	require.NoError(t, err)
	require.Len(t, g.Or, 2)
	require.False(t, g.Conjunctive())

	_, err = Parse("free 1GB and free 2GB or free 3GB")
	require.Error(t, err, "mixed and/or is ambiguous")
}

func TestParseRejects(t *testing.T) {
	for _, bad := range []string{"", "   ", "destroy everything", "free", "free -2GB", "free xGB"} {
		_, err := Parse(bad)
		require.Error(t, err, bad)
	}
}

func TestRequirements(t *testing.T) {
	g, err := Parse("free 1GB and release port 3000")
	require.NoError(t, err)
	req := Requirements(g)
	require.Equal(t, float64(1<<30), req["memory_bytes"])
	require.Equal(t, float64(1), req["port:3000"])
}

func candidates() []Candidate {
	return []Candidate{
		{ID: "A", ExpectedLoss: 1.0, Contribs: map[string]float64{"memory_bytes": 5}},
		{ID: "B", ExpectedLoss: 1.0, Contribs: map[string]float64{"memory_bytes": 5}},
		{ID: "C", ExpectedLoss: 1.5, Contribs: map[string]float64{"memory_bytes": 10}},
	}
}

func TestDPPicksCheapestSubset(t *testing.T) {
	res := Optimize(AlgorithmDP, map[string]float64{"memory_bytes": 10}, candidates(), Constraints{})
	require.True(t, res.Feasible)
	require.Equal(t, []string{"C"}, res.Selected)
	require.InDelta(t, 1.5, res.TotalLoss, 1e-9)
}

func TestGreedyMeetsTarget(t *testing.T) {
	res := Optimize(AlgorithmGreedy, map[string]float64{"memory_bytes": 10}, candidates(), Constraints{})
	require.True(t, res.Feasible)
	require.GreaterOrEqual(t, res.Achieved["memory_bytes"], 10.0)
	require.NotEmpty(t, res.Telemetry)
}

func TestGreedyInfeasibleFlagged(t *testing.T) {
	res := Optimize(AlgorithmGreedy, map[string]float64{"memory_bytes": 100}, candidates(), Constraints{})
	require.False(t, res.Feasible)
}

func TestGreedyRespectsBlocked(t *testing.T) {
	cands := candidates()
	cands[2].Blocked = true
	res := Optimize(AlgorithmGreedy, map[string]float64{"memory_bytes": 10}, cands, Constraints{})
	require.NotContains(t, res.Selected, "C")
	require.True(t, res.Feasible) // A + B still reach 10
}

func TestGreedyMaxActions(t *testing.T) {
	res := Optimize(AlgorithmGreedy, map[string]float64{"memory_bytes": 15},
		candidates(), Constraints{MaxActions: 1})
	require.False(t, res.Feasible)
	require.Len(t, res.Selected, 1)
}

func TestILPDominatesGreedy(t *testing.T) {
	targets := map[string]float64{"memory_bytes": 10}
	greedy := Optimize(AlgorithmGreedy, targets, candidates(), Constraints{})
	ilp := Optimize(AlgorithmILP, targets, candidates(), Constraints{})

	require.True(t, ilp.Feasible)
	// ILP dominates greedy on (loss, actions) or is equal.
	require.LessOrEqual(t, ilp.TotalLoss, greedy.TotalLoss+1e-9)
	require.Equal(t, []string{"C"}, ilp.Selected)
}

func TestILPMultiResource(t *testing.T) {
	cands := []Candidate{
		{ID: "mem", ExpectedLoss: 1, Contribs: map[string]float64{"memory_bytes": 10}},
		{ID: "port", ExpectedLoss: 0.5, Contribs: map[string]float64{"port:8080": 1}},
		{ID: "both", ExpectedLoss: 2.0, Contribs: map[string]float64{"memory_bytes": 10, "port:8080": 1}},
	}
	res := Optimize(AlgorithmILP,
		map[string]float64{"memory_bytes": 10, "port:8080": 1}, cands, Constraints{})
	require.True(t, res.Feasible)
	// {mem, port} at 1.5 beats {both} at 2.0.
	require.Equal(t, []string{"mem", "port"}, res.Selected)
	require.InDelta(t, 1.5, res.TotalLoss, 1e-9)
}

func TestILPInfeasible(t *testing.T) {
	res := Optimize(AlgorithmILP, map[string]float64{"memory_bytes": 1000}, candidates(), Constraints{})
	require.False(t, res.Feasible)
	require.Empty(t, res.Selected)
}

func TestDeterministicRuns(t *testing.T) {
	targets := map[string]float64{"memory_bytes": 10}
	first := Optimize(AlgorithmGreedy, targets, candidates(), Constraints{})
	for i := 0; i < 5; i++ {
		again := Optimize(AlgorithmGreedy, targets, candidates(), Constraints{})
		require.Equal(t, first.Selected, again.Selected)
	}
}

func TestShouldReoptimize(t *testing.T) {
	old := candidates()

	// Selected candidate disappeared.
	require.True(t, ShouldReoptimize(old, old[:2], []string{"C"}, 0, 0))

	// No change at all.
	require.False(t, ShouldReoptimize(old, old, []string{"C"}, 0, 0))

	// Churn ≥ 25%: one of three replaced → 2/3 ≥ 0.25.
	newSet := []Candidate{old[0], old[1], {ID: "D", ExpectedLoss: 1}}
	require.True(t, ShouldReoptimize(old, newSet, []string{"A"}, 0, 0))

	// Preference shift beyond threshold.
	require.True(t, ShouldReoptimize(old, old, []string{"A"}, 0.6, 0.5))
	require.False(t, ShouldReoptimize(old, old, []string{"A"}, 0.4, 0.5))
}
