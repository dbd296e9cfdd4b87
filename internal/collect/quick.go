// Package collect — quick.go
//
// Quick scan: one invocation of the platform process listing per scan.
//
// Invocation (Linux and other Unix):
//
//	ps axo pid=,ppid=,uid=,user=,pgid=,sess=,state=,%cpu=,rss=,vsz=,tty=,etimes=,comm=,args=
//
// The trailing `=` suppresses headers. Fields are whitespace-separated;
// args is last and may contain arbitrary whitespace, so each line is
// split into at most 14 fields and the remainder is kept verbatim.
// RSS and VSZ arrive in KB and are scaled to bytes. etimes is elapsed
// seconds; ParseElapsed handles the [[dd-]hh:]mm:ss string form for
// platforms whose ps lacks etimes.

package collect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

// psFormat is the fixed extended column list for the quick scan.
const psFormat = "pid=,ppid=,uid=,user=,pgid=,sess=,state=,%cpu=,rss=,vsz=,tty=,etimes=,comm=,args="

// quickScanFieldCount is the number of columns in psFormat; args is the
// 14th column and absorbs the rest of the line.
const quickScanFieldCount = 14

// QuickScanner runs the bounded ps invocation and parses its output.
type QuickScanner struct {
	// Timeout bounds the external ps invocation.
	Timeout time.Duration

	// StartIDFor derives the start_id and quality for a PID observed in
	// the listing. Injectable for tests; defaults to DeriveStartID.
	StartIDFor func(pid uint32, elapsed time.Duration) (string, identity.Quality)

	log *zap.Logger
}

// NewQuickScanner returns a scanner with the default 5 second timeout.
func NewQuickScanner(log *zap.Logger) *QuickScanner {
	return &QuickScanner{
		Timeout:    5 * time.Second,
		StartIDFor: DeriveStartID,
		log:        log,
	}
}

// Scan runs ps once and returns one ProcessRecord per parseable line.
// Unparseable lines are logged and skipped; the scan itself fails only
// when the ps invocation fails or times out.
func (s *QuickScanner) Scan(ctx context.Context) ([]ProcessRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ps", "axo", psFormat)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("collect: ps invocation: %w", err)
	}
	return s.parse(&out)
}

func (s *QuickScanner) parse(r *bytes.Buffer) ([]ProcessRecord, error) {
	var records []ProcessRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := s.parseLine(line)
		if err != nil {
			s.log.Debug("quick scan line skipped",
				zap.String("line", line), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("collect: read ps output: %w", err)
	}
	return records, nil
}

// parseLine parses one ps output line into a ProcessRecord.
func (s *QuickScanner) parseLine(line string) (ProcessRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < quickScanFieldCount-1 {
		return ProcessRecord{}, fmt.Errorf("short line: %d fields", len(fields))
	}

	pid, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("pid %q: %w", fields[0], err)
	}
	ppid, _ := strconv.ParseUint(fields[1], 10, 32)
	uid, _ := strconv.ParseUint(fields[2], 10, 32)
	user := fields[3]
	pgid, _ := strconv.ParseUint(fields[4], 10, 32)
	sid, _ := strconv.ParseUint(fields[5], 10, 32)

	state := StateUnknown
	if len(fields[6]) > 0 {
		state = StateFromChar(fields[6][0])
	}

	cpu, _ := strconv.ParseFloat(fields[7], 64)
	rssKB, _ := strconv.ParseUint(fields[8], 10, 64)
	vszKB, _ := strconv.ParseUint(fields[9], 10, 64)
	tty := fields[10]
	if tty == "?" {
		tty = ""
	}

	elapsedSecs, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		// Some ps builds emit [[dd-]hh:]mm:ss even for etimes.
		elapsedSecs, err = ParseElapsed(fields[11])
		if err != nil {
			return ProcessRecord{}, fmt.Errorf("etime %q: %w", fields[11], err)
		}
	}
	elapsed := time.Duration(elapsedSecs) * time.Second

	comm := fields[12]
	args := comm
	if len(fields) > quickScanFieldCount-1 {
		// Skip the leading columns and keep the rest of the line as is.
		rest := strings.TrimSpace(line)
		for i := 0; i < quickScanFieldCount-1; i++ {
			j := strings.IndexAny(rest, " \t")
			rest = strings.TrimLeft(rest[j:], " \t")
		}
		args = rest
	}

	startID, quality := s.StartIDFor(uint32(pid), elapsed)

	return ProcessRecord{
		Identity: identity.ProcessIdentity{
			PID:     uint32(pid),
			StartID: startID,
			UID:     uint32(uid),
			PGID:    uint32(pgid),
			SID:     uint32(sid),
			Quality: quality,
		},
		PPID:       uint32(ppid),
		User:       user,
		Comm:       comm,
		Cmdline:    args,
		TTY:        tty,
		State:      state,
		CPUPercent: cpu,
		RSSBytes:   rssKB * 1024,
		VSZBytes:   vszKB * 1024,
		Elapsed:    elapsed,
	}, nil
}

// ParseElapsed converts a ps elapsed-time string of the form
// [[dd-]hh:]mm:ss into whole seconds.
func ParseElapsed(s string) (int64, error) {
	var days int64
	if i := strings.IndexByte(s, '-'); i >= 0 {
		d, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("elapsed days %q: %w", s, err)
		}
		days = d
		s = s[i+1:]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("elapsed %q: want mm:ss, hh:mm:ss, or dd-hh:mm:ss", s)
	}

	var total int64
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("elapsed segment %q: %w", p, err)
		}
		total = total*60 + v
	}
	return days*86400 + total, nil
}
