// Package blast scores the downstream impact of terminating a process:
// orphaned descendants, released listening ports, and interrupted
// writes.
//
// Score:
//
//	ln(1 + n_children)·0.5
//	+ Σ port_weight      (2.0 privileged <1024, 1.0 otherwise)
//	+ Σ write_weight     (3.0 database, 2.0 lock or critical path,
//	                      0.5 generic)
//
// Summary bands: HIGH > 5, MEDIUM > 2, else LOW.
//
// The process tree is a reversed ppid map — acyclic by OS invariant,
// but the BFS keeps a visited set as a defense against corrupt tables.

package blast

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// WriteKind categorizes an open write handle by risk.
type WriteKind uint8

const (
	WriteGeneric WriteKind = iota
	WriteDatabase
	WriteLock
	WriteCritical
)

// String returns the category label.
func (k WriteKind) String() string {
	switch k {
	case WriteDatabase:
		return "database"
	case WriteLock:
		return "lock"
	case WriteCritical:
		return "write_handle"
	default:
		return "generic"
	}
}

// Child is one descendant found by the BFS.
type Child struct {
	PID   uint32 `json:"pid"`
	Comm  string `json:"comm"`
	Depth int    `json:"depth"`
}

// Port is one listening port held by the target.
type Port struct {
	Port   uint16  `json:"port"`
	Weight float64 `json:"weight"`
}

// WriteHandle is one open-for-write file with its risk category.
type WriteHandle struct {
	Path   string    `json:"path"`
	Kind   WriteKind `json:"-"`
	Weight float64   `json:"weight"`

	KindLabel string `json:"kind"`
}

// Radius is the computed blast radius for one process.
type Radius struct {
	PID      uint32        `json:"pid"`
	Children []Child       `json:"children,omitempty"`
	Ports    []Port        `json:"ports,omitempty"`
	Writes   []WriteHandle `json:"writes,omitempty"`
	Score    float64       `json:"score"`
	Summary  string        `json:"summary"`
}

// Input is everything the scorer needs.
type Input struct {
	PID uint32
	// Table maps pid → (comm, ppid) for the whole process table.
	Table map[uint32]ProcEntry
	// ListeningPorts held by the target.
	ListeningPorts []uint16
	// OpenWriteFiles are paths the target has open for writing.
	OpenWriteFiles []string
	// CriticalPathFragments flag write handles under paths that must
	// not be interrupted (e.g. ".git/", "/var/lib/").
	CriticalPathFragments []string
}

// ProcEntry is one row of the reversed process table.
type ProcEntry struct {
	Comm string
	PPID uint32
}

// Compute scores the blast radius for one target.
func Compute(in Input) Radius {
	r := Radius{PID: in.PID}
	r.Children = enumerateChildren(in.PID, in.Table)

	for _, p := range in.ListeningPorts {
		w := 1.0
		if p < 1024 {
			w = 2.0
		}
		r.Ports = append(r.Ports, Port{Port: p, Weight: w})
	}

	for _, path := range in.OpenWriteFiles {
		kind, weight := categorizeWrite(path, in.CriticalPathFragments)
		r.Writes = append(r.Writes, WriteHandle{
			Path: path, Kind: kind, Weight: weight, KindLabel: kind.String(),
		})
	}

	r.Score = math.Log1p(float64(len(r.Children))) * 0.5
	for _, p := range r.Ports {
		r.Score += p.Weight
	}
	for _, w := range r.Writes {
		r.Score += w.Weight
	}

	switch {
	case r.Score > 5:
		r.Summary = "HIGH"
	case r.Score > 2:
		r.Summary = "MEDIUM"
	default:
		r.Summary = "LOW"
	}
	return r
}

// enumerateChildren walks the reversed ppid map breadth-first with
// deterministic (depth, pid) ordering.
func enumerateChildren(root uint32, table map[uint32]ProcEntry) []Child {
	// Invert: parent → sorted child pids.
	childrenOf := make(map[uint32][]uint32)
	for pid, e := range table {
		childrenOf[e.PPID] = append(childrenOf[e.PPID], pid)
	}
	for _, pids := range childrenOf {
		sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	}

	var out []Child
	visited := map[uint32]bool{root: true}
	frontier := []uint32{root}
	depth := 0
	for len(frontier) > 0 {
		depth++
		var next []uint32
		for _, pid := range frontier {
			for _, child := range childrenOf[pid] {
				if visited[child] {
					continue
				}
				visited[child] = true
				out = append(out, Child{PID: child, Comm: table[child].Comm, Depth: depth})
				next = append(next, child)
			}
		}
		frontier = next
	}
	return out
}

// categorizeWrite classifies one write path.
func categorizeWrite(path string, critical []string) (WriteKind, float64) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".db"),
		strings.Contains(lower, ".sqlite"),
		strings.HasSuffix(lower, "-wal"),
		strings.HasSuffix(lower, "-journal"):
		return WriteDatabase, 3.0
	case strings.HasSuffix(lower, ".lock"), strings.HasSuffix(lower, ".pid"):
		return WriteLock, 2.0
	}
	for _, frag := range critical {
		if frag != "" && strings.Contains(path, frag) {
			return WriteCritical, 2.0
		}
	}
	return WriteGeneric, 0.5
}

// Describe renders a one-line operator summary.
func (r Radius) Describe() string {
	return fmt.Sprintf("%s (score %.1f: %d children, %d ports, %d writes)",
		r.Summary, r.Score, len(r.Children), len(r.Ports), len(r.Writes))
}
