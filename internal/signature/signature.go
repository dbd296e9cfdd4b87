// Package signature — pattern-based classification shortcuts.
//
// A user-extensible database maps patterns over comm, cmdline, env,
// cwd, socket paths, and parent comm to a SupervisorSignature carrying
// classification priors and a confidence weight. Matches feed the
// inference stage as informed priors; sufficiently confident matches
// bypass it entirely (fast path, see fastpath.go).
//
// Match levels and base scores:
//
//	CommandOnly  0.70 — comm pattern alone matched
//	ExactCommand 0.85 — full cmdline pattern matched
//	MultiPattern 1.00 — two or more independent pattern groups matched
//
// The final score is the base score multiplied by the signature's
// confidence weight, so a weakly trusted signature can never reach the
// fast-path threshold on a comm match alone.

package signature

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// MatchLevel describes how much of a signature's pattern set matched.
type MatchLevel uint8

const (
	MatchCommandOnly MatchLevel = iota
	MatchExactCommand
	MatchMultiPattern
)

// String returns the level name.
func (l MatchLevel) String() string {
	switch l {
	case MatchExactCommand:
		return "exact_command"
	case MatchMultiPattern:
		return "multi_pattern"
	default:
		return "command_only"
	}
}

// baseScore is the pre-confidence score per match level.
func (l MatchLevel) baseScore() float64 {
	switch l {
	case MatchMultiPattern:
		return 1.00
	case MatchExactCommand:
		return 0.85
	default:
		return 0.70
	}
}

// Priors holds optional per-class Beta priors. Unknown classes default
// cleanly: a nil entry contributes the uniform 0.25 mean.
type Priors struct {
	Useful    *inference.Beta `yaml:"useful,omitempty" json:"useful,omitempty"`
	UsefulBad *inference.Beta `yaml:"useful_bad,omitempty" json:"useful_bad,omitempty"`
	Abandoned *inference.Beta `yaml:"abandoned,omitempty" json:"abandoned,omitempty"`
	Zombie    *inference.Beta `yaml:"zombie,omitempty" json:"zombie,omitempty"`
}

// Empty reports whether no class carries an explicit prior.
func (p Priors) Empty() bool {
	return p.Useful == nil && p.UsefulBad == nil && p.Abandoned == nil && p.Zombie == nil
}

// SupervisorSignature is one database entry.
type SupervisorSignature struct {
	Name string `yaml:"name" json:"name"`

	// Pattern groups. Empty patterns never match. CommPattern and
	// CmdlinePattern are regular expressions that match anywhere in the
	// string unless they carry ^ or $ anchors; EnvPattern matches against
	// "KEY=VALUE" strings; ParentComm matches the parent's comm exactly.
	CommPattern    string `yaml:"comm_pattern,omitempty" json:"comm_pattern,omitempty"`
	CmdlinePattern string `yaml:"cmdline_pattern,omitempty" json:"cmdline_pattern,omitempty"`
	EnvPattern     string `yaml:"env_pattern,omitempty" json:"env_pattern,omitempty"`
	CwdPattern     string `yaml:"cwd_pattern,omitempty" json:"cwd_pattern,omitempty"`
	SocketPattern  string `yaml:"socket_pattern,omitempty" json:"socket_pattern,omitempty"`
	ParentComm     string `yaml:"parent_comm,omitempty" json:"parent_comm,omitempty"`

	// Confidence weight in [0,1] multiplied into the match score.
	Confidence float64 `yaml:"confidence" json:"confidence"`

	Priors Priors `yaml:"priors,omitempty" json:"priors,omitempty"`

	commRE    *regexp.Regexp
	cmdlineRE *regexp.Regexp
	envRE     *regexp.Regexp
	cwdRE     *regexp.Regexp
	socketRE  *regexp.Regexp
}

// compile prepares the signature's regular expressions.
func (s *SupervisorSignature) compile() error {
	var err error
	compileOne := func(pat string) (*regexp.Regexp, error) {
		if pat == "" {
			return nil, nil
		}
		return regexp.Compile(pat)
	}
	if s.commRE, err = compileOne(s.CommPattern); err != nil {
		return fmt.Errorf("signature %q: comm pattern: %w", s.Name, err)
	}
	if s.cmdlineRE, err = compileOne(s.CmdlinePattern); err != nil {
		return fmt.Errorf("signature %q: cmdline pattern: %w", s.Name, err)
	}
	if s.envRE, err = compileOne(s.EnvPattern); err != nil {
		return fmt.Errorf("signature %q: env pattern: %w", s.Name, err)
	}
	if s.cwdRE, err = compileOne(s.CwdPattern); err != nil {
		return fmt.Errorf("signature %q: cwd pattern: %w", s.Name, err)
	}
	if s.socketRE, err = compileOne(s.SocketPattern); err != nil {
		return fmt.Errorf("signature %q: socket pattern: %w", s.Name, err)
	}
	return nil
}

// Subject is the process view a signature is matched against.
type Subject struct {
	Comm       string
	Cmdline    string
	Cwd        string
	ParentComm string
	Env        []string
	Sockets    []string
}

// Match is one signature's scored match against a subject.
type Match struct {
	Signature *SupervisorSignature
	Level     MatchLevel
	// Score is base(level) × signature confidence.
	Score float64
}

// Database is an ordered set of compiled signatures.
type Database struct {
	signatures []*SupervisorSignature
}

// NewDatabase compiles the given signatures. A signature with an
// invalid pattern or out-of-range confidence fails the whole load —
// signature files are configuration, and configuration errors are
// fatal at startup.
func NewDatabase(sigs []SupervisorSignature) (*Database, error) {
	db := &Database{signatures: make([]*SupervisorSignature, 0, len(sigs))}
	for i := range sigs {
		s := sigs[i]
		if s.Name == "" {
			return nil, fmt.Errorf("signature %d: name is required", i)
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return nil, fmt.Errorf("signature %q: confidence %g out of [0,1]", s.Name, s.Confidence)
		}
		if err := s.compile(); err != nil {
			return nil, err
		}
		db.signatures = append(db.signatures, &s)
	}
	return db, nil
}

// Match returns all matching signatures sorted by score descending,
// ties broken by name for determinism.
func (db *Database) Match(subj Subject) []Match {
	var matches []Match
	for _, sig := range db.signatures {
		if m, ok := sig.match(subj); ok {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Signature.Name < matches[j].Signature.Name
	})
	return matches
}

// Best returns the highest-scoring match, or nil when nothing matched.
func (db *Database) Best(subj Subject) *Match {
	matches := db.Match(subj)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// match scores one signature against a subject.
func (s *SupervisorSignature) match(subj Subject) (Match, bool) {
	groups := 0
	commHit := s.commRE != nil && s.commRE.MatchString(subj.Comm)
	if commHit {
		groups++
	}
	cmdlineHit := s.cmdlineRE != nil && s.cmdlineRE.MatchString(subj.Cmdline)
	if cmdlineHit {
		groups++
	}
	if s.envRE != nil {
		for _, kv := range subj.Env {
			if s.envRE.MatchString(kv) {
				groups++
				break
			}
		}
	}
	if s.cwdRE != nil && s.cwdRE.MatchString(subj.Cwd) {
		groups++
	}
	if s.socketRE != nil {
		for _, sock := range subj.Sockets {
			if s.socketRE.MatchString(sock) {
				groups++
				break
			}
		}
	}
	if s.ParentComm != "" && s.ParentComm == subj.ParentComm {
		groups++
	}

	if groups == 0 {
		return Match{}, false
	}

	level := MatchCommandOnly
	switch {
	case groups >= 2:
		level = MatchMultiPattern
	case cmdlineHit:
		level = MatchExactCommand
	}

	return Match{
		Signature: s,
		Level:     level,
		Score:     level.baseScore() * s.Confidence,
	}, true
}
