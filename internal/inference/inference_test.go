package inference

import (
	"math"
	"testing"
	"time"
)

func approxEq(a, b, tol float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) <= tol
}

func testPriors() *PriorSet {
	mk := func(prob, cpuA, cpuB float64) ClassPriors {
		return ClassPriors{
			Prob:     prob,
			CPU:      Beta{Alpha: cpuA, Beta: cpuB},
			Orphan:   Beta{Alpha: 1, Beta: 1},
			TTY:      Beta{Alpha: 1, Beta: 1},
			Runtime:  Gamma{Shape: 2, Rate: 0.5},
			Category: Dirichlet{Alpha: []float64{1, 1, 1, 1}},
		}
	}
	p := &PriorSet{}
	p.Classes[ClassUseful] = mk(0.55, 4, 2)     // useful processes burn CPU
	p.Classes[ClassUsefulBad] = mk(0.10, 8, 1)  // runaway CPU
	p.Classes[ClassAbandoned] = mk(0.30, 1, 9)  // idle
	p.Classes[ClassZombie] = mk(0.05, 1, 20)    // no CPU at all
	return p
}

func TestPriorSetValidate(t *testing.T) {
	p := testPriors()
	if err := p.Validate(); err != nil {
		t.Fatalf("valid priors rejected: %v", err)
	}

	bad := testPriors()
	bad.Classes[ClassUseful].Prob = 0.9 // sum now 1.35
	if err := bad.Validate(); err == nil {
		t.Fatal("prior probabilities not summing to 1 must be rejected")
	}

	bad = testPriors()
	bad.Classes[ClassZombie].CPU.Alpha = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("non-positive beta hyperparameter must be rejected")
	}
}

func TestPosteriorSumsToOne(t *testing.T) {
	eng := NewEngine(testPriors())
	eng.Now = func() time.Time { return time.Unix(0, 0) }

	vectors := []FeatureVector{
		{CPUFraction: 0.0, OrphanProb: 0.9, TTYAttached: 0, RuntimeHours: 48},
		{CPUFraction: 0.7, OrphanProb: 0.1, TTYAttached: 1, RuntimeHours: 0.5},
		{CPUFraction: 1.0, OrphanProb: 0.0, TTYAttached: 1, RuntimeHours: 200, Category: 3},
		{CPUFraction: 0.5, OrphanProb: 0.5, TTYAttached: 0.5, RuntimeHours: 1, Category: 99},
	}
	for i, f := range vectors {
		res := eng.Evaluate(uint32(i+1), "boot:1:1", f)
		if !approxEq(res.Posterior.Sum(), 1.0, 1e-6) {
			t.Errorf("vector %d: posterior sums to %g", i, res.Posterior.Sum())
		}
		for _, en := range res.Ledger.Entries {
			if math.IsNaN(en.LogBF) {
				t.Errorf("vector %d: NaN log BF for %s", i, en.Feature)
			}
		}
	}
}

func TestIdleOrphanLeansAbandoned(t *testing.T) {
	eng := NewEngine(testPriors())
	res := eng.Evaluate(1, "boot:1:1", FeatureVector{
		CPUFraction: 0.01, OrphanProb: 0.5, TTYAttached: 0.5, RuntimeHours: 4,
	})
	if res.Posterior.Get(ClassAbandoned) < res.Posterior.Get(ClassUsefulBad) {
		t.Errorf("idle process should lean abandoned over useful_bad: %+v", res.Posterior)
	}
	// CPU occupancy must appear in the ledger with a positive log BF
	// (idle CPU favours Abandoned under these priors).
	found := false
	for _, en := range res.Ledger.Entries {
		if en.Feature == "cpu_occupancy" {
			found = true
			if en.LogBF <= 0 {
				t.Errorf("idle cpu should favour abandoned, log BF = %g", en.LogBF)
			}
			if en.Direction != DirectionAbandoned {
				t.Errorf("direction = %s", en.Direction)
			}
		}
	}
	if !found {
		t.Fatal("cpu_occupancy entry missing from ledger")
	}
}

func TestWhySummaryTopThree(t *testing.T) {
	eng := NewEngine(testPriors())
	res := eng.Evaluate(1, "boot:1:1", FeatureVector{CPUFraction: 0.01, RuntimeHours: 4})
	if len(res.Ledger.TopEvidence) > 3 {
		t.Fatalf("top evidence has %d entries, want at most 3", len(res.Ledger.TopEvidence))
	}
	if len(res.Ledger.TopEvidence) == 0 || res.Ledger.WhySummary == "" {
		t.Fatal("why summary must not be empty")
	}
}

func TestStrengthThresholds(t *testing.T) {
	cases := []struct {
		logBF float64
		want  Strength
	}{
		{0, StrengthNone},
		{0.69, StrengthAnecdotal},
		{math.Log(5), StrengthSubstantial},
		{math.Log(15), StrengthStrong},
		{math.Log(50), StrengthVeryStrong},
		{math.Log(1000), StrengthDecisive},
		{-math.Log(1000), StrengthDecisive}, // absolute value
	}
	for _, c := range cases {
		if got := StrengthFromLogBF(c.logBF); got != c.want {
			t.Errorf("StrengthFromLogBF(%g) = %s, want %s", c.logBF, got, c.want)
		}
	}
}

func TestEValueClamping(t *testing.T) {
	if e := EValue(1000); !(e > 1e300) || math.IsInf(e, 1) {
		t.Errorf("large log BF must clamp, not overflow: %g", e)
	}
	if e := EValue(-1000); e >= 1e-300 {
		t.Errorf("very negative log BF must underflow toward zero: %g", e)
	}
	if e := EValue(0); !approxEq(e, 1.0, 1e-12) {
		t.Errorf("EValue(0) = %g, want 1", e)
	}
	if e := EValue(math.Inf(-1)); e != 0 {
		t.Errorf("EValue(-inf) = %g, want 0", e)
	}
	if !math.IsNaN(EValue(math.NaN())) {
		t.Error("EValue(NaN) must be NaN")
	}
	// Symmetry: e(x) * e(-x) == 1.
	if p := EValue(3) * EValue(-3); !approxEq(p, 1.0, 1e-10) {
		t.Errorf("e-value symmetry violated: %g", p)
	}
}

func TestDeltaBits(t *testing.T) {
	if b := DeltaBits(math.Ln2); !approxEq(b, 1.0, 1e-12) {
		t.Errorf("ln 2 nats = %g bits, want 1", b)
	}
	if b := DeltaBits(1.0); !approxEq(b, 1/math.Ln2, 1e-10) {
		t.Errorf("1 nat = %g bits", b)
	}
}

func TestNaNLogBFCoerced(t *testing.T) {
	en := NewBayesFactorEntry("x", math.NaN())
	if math.IsNaN(en.LogBF) {
		t.Fatal("ledger entries must never carry NaN log BF")
	}
	if en.Strength != StrengthNone || en.Direction != DirectionNeutral {
		t.Fatalf("coerced entry should be neutral: %+v", en)
	}
}

func TestConfidenceBands(t *testing.T) {
	cases := []struct {
		p    float64
		want Confidence
	}{
		{0.995, ConfidenceVeryHigh},
		{0.99, ConfidenceVeryHigh},
		{0.96, ConfidenceHigh},
		{0.95, ConfidenceHigh},
		{0.85, ConfidenceMedium},
		{0.80, ConfidenceMedium},
		{0.5, ConfidenceLow},
	}
	for _, c := range cases {
		if got := ConfidenceFor(c.p); got != c.want {
			t.Errorf("ConfidenceFor(%g) = %s, want %s", c.p, got, c.want)
		}
	}
}

func TestLogSumExpStability(t *testing.T) {
	// Extreme inputs must not overflow.
	v := logSumExp([]float64{-1e6, -1e6 + 1})
	if math.IsInf(v, 0) || math.IsNaN(v) {
		t.Fatalf("logSumExp unstable: %g", v)
	}
	if got := logSumExp([]float64{math.Log(0.25), math.Log(0.75)}); !approxEq(got, 0, 1e-12) {
		t.Errorf("logSumExp(log .25, log .75) = %g, want 0", got)
	}
}
