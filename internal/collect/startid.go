// Package collect — startid.go
//
// start_id derivation, in order of preference:
//
//  1. boot_id + starttime ticks:  "<boot_id>:<start_ticks>:<pid>"   (Full)
//  2. starttime ticks only:       "unknown:<start_ticks>:<pid>"     (NoBootId)
//  3. elapsed-based reconstruction when the stat read failed:
//     start_ticks = floor((uptime − elapsed) × HZ), then composed as
//     in 1 (Full) or 2 (NoBootId) depending on boot_id availability
//  4. wall-clock fallback:        "unknown:<start_unix>:<pid>"      (NoBootId)
//  5. nothing but the PID:        "unknown:0:<pid>"                 (PidOnly)
//
// starttime is field 22 of /proc/<pid>/stat. The comm field (field 2)
// is parenthesised and may itself contain spaces and parentheses, so
// parsing locates the LAST ')' to delimit it.

package collect

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

// procRoot is the /proc mount point. Overridden in tests.
var procRoot = "/proc"

// ClockTicks returns the kernel clock tick rate (USER_HZ). The CLK_TCK
// environment variable overrides it for tests; 100 is the value on every
// mainstream Linux build.
func ClockTicks() int {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return v
	}
	return 100
}

// BootID reads /proc/sys/kernel/random/boot_id.
func BootID() (string, error) {
	b, err := os.ReadFile(procRoot + "/sys/kernel/random/boot_id")
	if err != nil {
		return "", fmt.Errorf("collect: boot_id: %w", err)
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", fmt.Errorf("collect: boot_id: empty")
	}
	return id, nil
}

// Uptime reads system uptime in seconds from /proc/uptime.
func Uptime() (float64, error) {
	b, err := os.ReadFile(procRoot + "/uptime")
	if err != nil {
		return 0, fmt.Errorf("collect: uptime: %w", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("collect: uptime: empty")
	}
	up, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("collect: uptime %q: %w", fields[0], err)
	}
	return up, nil
}

// statAfterComm splits one /proc/<pid>/stat line at the last ')',
// returning the whitespace-separated fields that follow comm. Field N of
// stat(5) is fields[N-3] of the returned slice.
func statAfterComm(line string) ([]string, error) {
	i := strings.LastIndexByte(line, ')')
	if i < 0 || i+2 > len(line) {
		return nil, fmt.Errorf("collect: stat line has no comm delimiter")
	}
	return strings.Fields(line[i+1:]), nil
}

// statComm extracts the comm field (between the first '(' and the last
// ')') from a stat line.
func statComm(line string) (string, error) {
	open := strings.IndexByte(line, '(')
	end := strings.LastIndexByte(line, ')')
	if open < 0 || end < open {
		return "", fmt.Errorf("collect: stat line has no comm")
	}
	return line[open+1 : end], nil
}

// StartTicks reads the starttime field (field 22) of /proc/<pid>/stat.
func StartTicks(pid uint32) (uint64, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return 0, fmt.Errorf("collect: stat pid %d: %w", pid, err)
	}
	fields, err := statAfterComm(string(b))
	if err != nil {
		return 0, err
	}
	// starttime is field 22 overall; fields here start at field 3.
	const idx = 22 - 3
	if len(fields) <= idx {
		return 0, fmt.Errorf("collect: stat pid %d: %d fields, need %d", pid, len(fields), idx+1)
	}
	ticks, err := strconv.ParseUint(fields[idx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("collect: starttime %q: %w", fields[idx], err)
	}
	return ticks, nil
}

// StatState reads the single-letter state field (field 3) of
// /proc/<pid>/stat. Used by the action layer to poll for transitions.
func StatState(pid uint32) (byte, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return 0, err
	}
	fields, err := statAfterComm(string(b))
	if err != nil {
		return 0, err
	}
	if len(fields) == 0 || len(fields[0]) == 0 {
		return 0, fmt.Errorf("collect: stat pid %d: no state field", pid)
	}
	return fields[0][0], nil
}

// StatNice reads the nice value (field 19) of /proc/<pid>/stat. Used to
// capture renice reversal metadata.
func StatNice(pid uint32) (int, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return 0, err
	}
	fields, err := statAfterComm(string(b))
	if err != nil {
		return 0, err
	}
	const idx = 19 - 3
	if len(fields) <= idx {
		return 0, fmt.Errorf("collect: stat pid %d: %d fields, need %d", pid, len(fields), idx+1)
	}
	return strconv.Atoi(fields[idx])
}

// DeriveStartID derives the start_id and identity quality for a PID,
// falling through the preference order documented at the top of this
// file. elapsed is the process age from the quick scan, used for the
// reconstruction and wall-clock fallbacks.
func DeriveStartID(pid uint32, elapsed time.Duration) (string, identity.Quality) {
	bootID, bootErr := BootID()

	ticks, tickErr := StartTicks(pid)
	if tickErr != nil {
		if up, err := Uptime(); err == nil && elapsed > 0 {
			startSecs := up - elapsed.Seconds()
			if startSecs > 0 {
				ticks = uint64(startSecs * float64(ClockTicks()))
				tickErr = nil
			}
		}
	}

	switch {
	case bootErr == nil && tickErr == nil:
		return identity.Compose(bootID, ticks, pid), identity.QualityFull
	case tickErr == nil:
		return fmt.Sprintf("unknown:%d:%d", ticks, pid), identity.QualityNoBootId
	case elapsed > 0:
		startUnix := time.Now().Add(-elapsed).Unix()
		return identity.ComposeDegraded(startUnix, pid), identity.QualityNoBootId
	default:
		return fmt.Sprintf("unknown:0:%d", pid), identity.QualityPidOnly
	}
}

// CurrentIdentity is a point-in-time identity lookup for one PID, used
// by the resumable apply driver and the TOCTOU gate.
type CurrentIdentity struct {
	PID     uint32 `json:"pid"`
	StartID string `json:"start_id"`
	UID     uint32 `json:"uid"`
	Alive   bool   `json:"alive"`
}

// LookupIdentity re-reads the identity of a PID from /proc. Returns nil
// when the process no longer exists.
func LookupIdentity(pid uint32) *CurrentIdentity {
	if _, err := os.Stat(fmt.Sprintf("%s/%d", procRoot, pid)); err != nil {
		return nil
	}
	startID, _ := DeriveStartID(pid, 0)
	uid, err := statusUID(pid)
	if err != nil {
		return &CurrentIdentity{PID: pid, StartID: startID, Alive: true}
	}
	alive := true
	if st, err := StatState(pid); err == nil && (st == 'Z' || st == 'X' || st == 'x') {
		alive = false
	}
	return &CurrentIdentity{PID: pid, StartID: startID, UID: uid, Alive: alive}
}

// statusUID reads the real UID (first column of the Uid: line) from
// /proc/<pid>/status.
func statusUID(pid uint32) (uint32, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/status", procRoot, pid))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line[4:])
			if len(fields) == 0 {
				break
			}
			uid, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return 0, err
			}
			return uint32(uid), nil
		}
	}
	return 0, fmt.Errorf("collect: status pid %d: no Uid line", pid)
}
