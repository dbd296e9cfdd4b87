// Package goal — parser.go
//
// Text grammar for resource goals. Examples:
//
//	free 2GB            → memory target, 2·2³⁰ bytes
//	free 512 mb memory  → memory target
//	reduce cpu 50%      → CPU fraction target
//	release port 8080   → port target
//	free 100 fds        → file-descriptor count target
//	free 1GB and release port 3000
//	free 2GB or free 4GB
//
// Targets are canonicalized to bytes, CPU fraction, count, or a port
// number. Composition is a flat And/Or over single targets; mixed
// and/or in one expression is rejected as ambiguous.

package goal

import (
	"fmt"
	"strconv"
	"strings"
)

// Metric is the resource dimension of a target.
type Metric uint8

const (
	MetricMemoryBytes Metric = iota
	MetricCPUFraction
	MetricFDCount
	MetricPort
)

// String returns the canonical metric name used as the resource key in
// optimizer contributions.
func (m Metric) String() string {
	switch m {
	case MetricMemoryBytes:
		return "memory_bytes"
	case MetricCPUFraction:
		return "cpu_fraction"
	case MetricFDCount:
		return "fd_count"
	default:
		return "port"
	}
}

// Target is a single canonical-unit resource goal.
type Target struct {
	Metric Metric  `json:"-"`
	Amount float64 `json:"amount"`

	MetricLabel string `json:"metric"`
}

// Canonical renders the target in its canonical textual form.
func (t Target) Canonical() string {
	switch t.Metric {
	case MetricMemoryBytes:
		return fmt.Sprintf("free %d bytes", int64(t.Amount))
	case MetricCPUFraction:
		return fmt.Sprintf("free cpu %.2f", t.Amount)
	case MetricFDCount:
		return fmt.Sprintf("free %d fds", int64(t.Amount))
	default:
		return fmt.Sprintf("release port %d", int64(t.Amount))
	}
}

// Goal is a target or a flat composition of targets.
type Goal struct {
	Target *Target  `json:"target,omitempty"`
	And    []Target `json:"and,omitempty"`
	Or     []Target `json:"or,omitempty"`
}

// Targets flattens the goal into its constituent targets.
func (g Goal) Targets() []Target {
	switch {
	case g.Target != nil:
		return []Target{*g.Target}
	case len(g.And) > 0:
		return g.And
	default:
		return g.Or
	}
}

// Conjunctive reports whether all targets must be met (single targets
// are trivially conjunctive).
func (g Goal) Conjunctive() bool { return len(g.Or) == 0 }

// Parse parses a goal expression.
func Parse(input string) (Goal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Goal{}, fmt.Errorf("goal: empty input")
	}

	lower := strings.ToLower(trimmed)
	hasAnd := strings.Contains(lower, " and ")
	hasOr := strings.Contains(lower, " or ")
	if hasAnd && hasOr {
		return Goal{}, fmt.Errorf("goal: mixed and/or composition is ambiguous: %q", input)
	}

	split := func(sep string) []string {
		var parts []string
		for _, p := range strings.Split(lower, sep) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	}

	switch {
	case hasAnd:
		var targets []Target
		for _, part := range split(" and ") {
			t, err := parseSingle(part)
			if err != nil {
				return Goal{}, err
			}
			targets = append(targets, t)
		}
		return Goal{And: targets}, nil
	case hasOr:
		var targets []Target
		for _, part := range split(" or ") {
			t, err := parseSingle(part)
			if err != nil {
				return Goal{}, err
			}
			targets = append(targets, t)
		}
		return Goal{Or: targets}, nil
	default:
		t, err := parseSingle(lower)
		if err != nil {
			return Goal{}, err
		}
		return Goal{Target: &t}, nil
	}
}

// parseSingle parses one target clause (already lowercased).
func parseSingle(s string) (Target, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return Target{}, fmt.Errorf("goal: unrecognized clause %q", s)
	}

	// release port N
	if fields[0] == "release" && fields[1] == "port" {
		if len(fields) != 3 {
			return Target{}, fmt.Errorf("goal: %q: want 'release port <n>'", s)
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil || port == 0 {
			return Target{}, fmt.Errorf("goal: invalid port %q", fields[2])
		}
		return mk(MetricPort, float64(port)), nil
	}

	verb := fields[0]
	if verb != "free" && verb != "reduce" {
		return Target{}, fmt.Errorf("goal: unknown verb %q in %q", verb, s)
	}
	rest := fields[1:]
	// Strip a trailing noun ("memory", "ram").
	if n := len(rest); n > 0 && (rest[n-1] == "memory" || rest[n-1] == "ram") {
		rest = rest[:n-1]
	}

	// cpu targets: "reduce cpu 50%" / "free cpu 0.5"
	if len(rest) >= 2 && rest[0] == "cpu" {
		frac, err := parseCPUFraction(strings.Join(rest[1:], ""))
		if err != nil {
			return Target{}, err
		}
		return mk(MetricCPUFraction, frac), nil
	}

	// fd targets: "free 100 fds" / "free 100 file descriptors"
	if n := len(rest); n >= 2 {
		last := rest[n-1]
		if last == "fds" || last == "fd" || (n >= 3 && rest[n-2] == "file" && strings.HasPrefix(last, "descriptor")) {
			countStr := rest[0]
			count, err := strconv.ParseFloat(countStr, 64)
			if err != nil || count <= 0 {
				return Target{}, fmt.Errorf("goal: invalid fd count %q", countStr)
			}
			return mk(MetricFDCount, count), nil
		}
	}

	// memory amount: joined so "2 GB" and "2GB" both parse.
	bytes, err := parseMemoryAmount(strings.Join(rest, ""))
	if err != nil {
		return Target{}, err
	}
	return mk(MetricMemoryBytes, bytes), nil
}

func mk(m Metric, amount float64) Target {
	return Target{Metric: m, Amount: amount, MetricLabel: m.String()}
}

// parseCPUFraction accepts "50%" or "0.5".
func parseCPUFraction(s string) (float64, error) {
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v <= 0 || v > 100 {
			return 0, fmt.Errorf("goal: invalid cpu percentage %q", s)
		}
		return v / 100, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v > 1 {
		return 0, fmt.Errorf("goal: invalid cpu fraction %q", s)
	}
	return v, nil
}

// parseMemoryAmount accepts "2gb", "512mb", "1024kb", "100b", and bare
// byte counts. Binary units (1 GB = 2³⁰ bytes).
func parseMemoryAmount(s string) (float64, error) {
	units := []struct {
		suffix string
		mult   float64
	}{
		{"tb", 1 << 40}, {"gb", 1 << 30}, {"mb", 1 << 20}, {"kb", 1 << 10},
		{"t", 1 << 40}, {"g", 1 << 30}, {"m", 1 << 20}, {"k", 1 << 10},
		{"b", 1},
	}
	for _, u := range units {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			v, err := strconv.ParseFloat(num, 64)
			if err != nil || v <= 0 {
				return 0, fmt.Errorf("goal: invalid memory amount %q", s)
			}
			return v * u.mult, nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("goal: invalid memory amount %q", s)
	}
	return v, nil
}
