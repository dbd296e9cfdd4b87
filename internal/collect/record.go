// Package collect enumerates processes and derives their identity.
//
// Two scan modes exist:
//
//   - Quick scan: one bounded invocation of the platform process listing
//     (`ps` with a fixed extended format), parsed into ProcessRecord.
//   - Deep scan: per-PID reads of /proc/<pid>/{stat,status,io,...}.
//     Every optional file is best-effort; a missing or unreadable file
//     degrades the record but never fails the scan.
//
// Ownership: the collector exclusively owns freshly scanned records and
// hands them to the inference stage. Records are never shared between
// scans.

package collect

import (
	"time"

	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

// ProcState is the kernel scheduling state of a process at observation
// time, decoded from the single-letter ps/stat state field.
type ProcState uint8

const (
	StateRunning ProcState = iota
	StateSleeping
	StateDiskSleep
	StateStopped
	StateZombie
	StateIdle
	StateDead
	StateTracingStop
	StateUnknown
)

// String returns the state name used in snapshots and log lines.
func (s ProcState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateDiskSleep:
		return "disk_sleep"
	case StateStopped:
		return "stopped"
	case StateZombie:
		return "zombie"
	case StateIdle:
		return "idle"
	case StateDead:
		return "dead"
	case StateTracingStop:
		return "tracing_stop"
	default:
		return "unknown"
	}
}

// StateFromChar decodes the single-letter state from ps or
// /proc/<pid>/stat field 3.
func StateFromChar(c byte) ProcState {
	switch c {
	case 'R':
		return StateRunning
	case 'S':
		return StateSleeping
	case 'D':
		return StateDiskSleep
	case 'T':
		return StateStopped
	case 't':
		return StateTracingStop
	case 'Z':
		return StateZombie
	case 'I':
		return StateIdle
	case 'X', 'x':
		return StateDead
	default:
		return StateUnknown
	}
}

// ProcessRecord is one observation of one process at one instant.
type ProcessRecord struct {
	Identity identity.ProcessIdentity `json:"identity"`
	PPID     uint32                   `json:"ppid"`
	User     string                   `json:"user,omitempty"`

	Comm    string `json:"comm"`
	Cmdline string `json:"cmdline"`
	Exe     string `json:"exe,omitempty"`
	TTY     string `json:"tty,omitempty"`

	State      ProcState     `json:"state"`
	CPUPercent float64       `json:"cpu_percent"`
	RSSBytes   uint64        `json:"rss_bytes"`
	VSZBytes   uint64        `json:"vsz_bytes"`
	Elapsed    time.Duration `json:"elapsed"`

	// Optional fields filled by the deep scan. Zero means unobserved.
	USSBytes   uint64   `json:"uss_bytes,omitempty"`
	FDCount    int      `json:"fd_count,omitempty"`
	Ports      []uint16 `json:"ports,omitempty"`
	ChildCount int      `json:"child_count,omitempty"`
}

// DeepScanRecord extends ProcessRecord with the best-effort detail read
// from per-PID /proc files. Nil pointer fields mean the source file was
// absent or unreadable.
type DeepScanRecord struct {
	ProcessRecord

	IO        *IOCounters     `json:"io,omitempty"`
	Sched     *SchedStats     `json:"sched,omitempty"`
	MemDetail *MemoryDetail   `json:"mem_detail,omitempty"`
	Cgroup    string          `json:"cgroup,omitempty"`
	WChan     string          `json:"wchan,omitempty"`
	Environ   map[string]string `json:"environ,omitempty"`
}

// IOCounters mirrors /proc/<pid>/io.
type IOCounters struct {
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	SyscallsR  uint64 `json:"syscr"`
	SyscallsW  uint64 `json:"syscw"`
}

// SchedStats mirrors the interesting lines of /proc/<pid>/schedstat.
type SchedStats struct {
	RunTimeNS  uint64 `json:"run_time_ns"`
	WaitTimeNS uint64 `json:"wait_time_ns"`
	Timeslices uint64 `json:"timeslices"`
}

// MemoryDetail mirrors /proc/<pid>/statm, scaled to bytes.
type MemoryDetail struct {
	SizeBytes     uint64 `json:"size_bytes"`
	ResidentBytes uint64 `json:"resident_bytes"`
	SharedBytes   uint64 `json:"shared_bytes"`
}
