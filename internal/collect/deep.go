// Package collect — deep.go
//
// Deep scan: per-PID best-effort reads of the /proc files the quick scan
// does not touch. Every optional source degrades independently; the only
// hard requirement is that /proc/<pid> exists at read time.

package collect

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DeepScanner augments quick-scan records with per-PID /proc detail.
type DeepScanner struct {
	// ReadEnviron controls whether /proc/<pid>/environ is read. Environ
	// reads require ptrace-level access for foreign processes and can be
	// large; off by default.
	ReadEnviron bool

	log *zap.Logger
}

// NewDeepScanner returns a deep scanner with environ reads disabled.
func NewDeepScanner(log *zap.Logger) *DeepScanner {
	return &DeepScanner{log: log}
}

// Augment deep-scans one already-collected record. Missing optional
// files leave the corresponding field nil; only a vanished process
// returns an error.
func (d *DeepScanner) Augment(rec ProcessRecord) (DeepScanRecord, error) {
	pid := rec.Identity.PID
	if _, err := os.Stat(fmt.Sprintf("%s/%d", procRoot, pid)); err != nil {
		return DeepScanRecord{}, fmt.Errorf("collect: deep scan pid %d: %w", pid, err)
	}

	deep := DeepScanRecord{ProcessRecord: rec}

	if io, err := readIO(pid); err == nil {
		deep.IO = io
	}
	if sched, err := readSchedstat(pid); err == nil {
		deep.Sched = sched
	}
	if mem, err := readStatm(pid); err == nil {
		deep.MemDetail = mem
	}
	if cg, err := readCgroup(pid); err == nil {
		deep.Cgroup = cg
	}
	if wc, err := readWchan(pid); err == nil {
		deep.WChan = wc
	}
	if n, err := countFDs(pid); err == nil {
		deep.FDCount = n
	}
	if exe, err := os.Readlink(fmt.Sprintf("%s/%d/exe", procRoot, pid)); err == nil {
		deep.Exe = exe
	}
	if cmdline, err := readCmdline(pid); err == nil && cmdline != "" {
		deep.Cmdline = cmdline
	}
	if d.ReadEnviron {
		if env, err := readEnviron(pid); err == nil {
			deep.Environ = env
		}
	}

	return deep, nil
}

func readIO(pid uint32) (*IOCounters, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/io", procRoot, pid))
	if err != nil {
		return nil, err
	}
	io := &IOCounters{}
	for _, line := range strings.Split(string(b), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n, _ := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		switch k {
		case "read_bytes":
			io.ReadBytes = n
		case "write_bytes":
			io.WriteBytes = n
		case "syscr":
			io.SyscallsR = n
		case "syscw":
			io.SyscallsW = n
		}
	}
	return io, nil
}

func readSchedstat(pid uint32) (*SchedStats, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/schedstat", procRoot, pid))
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return nil, fmt.Errorf("collect: schedstat pid %d: short", pid)
	}
	run, _ := strconv.ParseUint(fields[0], 10, 64)
	wait, _ := strconv.ParseUint(fields[1], 10, 64)
	slices, _ := strconv.ParseUint(fields[2], 10, 64)
	return &SchedStats{RunTimeNS: run, WaitTimeNS: wait, Timeslices: slices}, nil
}

func readStatm(pid uint32) (*MemoryDetail, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/statm", procRoot, pid))
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return nil, fmt.Errorf("collect: statm pid %d: short", pid)
	}
	page := uint64(os.Getpagesize())
	size, _ := strconv.ParseUint(fields[0], 10, 64)
	res, _ := strconv.ParseUint(fields[1], 10, 64)
	shared, _ := strconv.ParseUint(fields[2], 10, 64)
	return &MemoryDetail{
		SizeBytes:     size * page,
		ResidentBytes: res * page,
		SharedBytes:   shared * page,
	}, nil
}

func readCgroup(pid uint32) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/cgroup", procRoot, pid))
	if err != nil {
		return "", err
	}
	// cgroup v2 has a single "0::<path>" line; v1 has one per controller.
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) == 3 && parts[0] == "0" {
			return parts[2], nil
		}
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) > 0 {
		parts := strings.SplitN(lines[0], ":", 3)
		if len(parts) == 3 {
			return parts[2], nil
		}
	}
	return "", fmt.Errorf("collect: cgroup pid %d: unparseable", pid)
}

func readWchan(pid uint32) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/wchan", procRoot, pid))
	if err != nil {
		return "", err
	}
	wc := strings.TrimSpace(string(b))
	if wc == "" || wc == "0" {
		return "", fmt.Errorf("collect: wchan pid %d: not waiting", pid)
	}
	return wc, nil
}

func countFDs(pid uint32) (int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("%s/%d/fd", procRoot, pid))
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func readCmdline(pid uint32) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/cmdline", procRoot, pid))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(strings.ReplaceAll(string(b), "\x00", " "), " "), nil
}

func readEnviron(pid uint32) (map[string]string, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/environ", procRoot, pid))
	if err != nil {
		return nil, err
	}
	env := make(map[string]string)
	for _, kv := range strings.Split(string(b), "\x00") {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env, nil
}
