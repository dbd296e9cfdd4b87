package collect

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joyshmitz/process-triage-sub005/internal/identity"
)

func testScanner() *QuickScanner {
	s := NewQuickScanner(zap.NewNop())
	s.StartIDFor = func(pid uint32, _ time.Duration) (string, identity.Quality) {
		return identity.Compose("testboot", uint64(pid)*100, pid), identity.QualityFull
	}
	return s
}

func TestParseElapsed(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"00:05", 5},
		{"12:34", 754},
		{"01:02:03", 3723},
		{"2-01:02:03", 2*86400 + 3723},
		{"10-00:00:01", 10*86400 + 1},
	}
	for _, c := range cases {
		got, err := ParseElapsed(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "5", "a:b", "1:2:3:4"} {
		_, err := ParseElapsed(bad)
		require.Error(t, err, bad)
	}
}

func TestParseLine(t *testing.T) {
	line := "4312 1200 1000 dev 4312 1200 S 12.5 204800 1048576 pts/3 3723 node node /opt/app/server.js --port 8080"
	rec, err := testScanner().parseLine(line)
	require.NoError(t, err)

	require.Equal(t, uint32(4312), rec.Identity.PID)
	require.Equal(t, uint32(1200), rec.PPID)
	require.Equal(t, uint32(1000), rec.Identity.UID)
	require.Equal(t, "dev", rec.User)
	require.Equal(t, uint32(4312), rec.Identity.PGID)
	require.Equal(t, uint32(1200), rec.Identity.SID)
	require.Equal(t, StateSleeping, rec.State)
	require.InDelta(t, 12.5, rec.CPUPercent, 1e-9)
	require.Equal(t, uint64(204800*1024), rec.RSSBytes)
	require.Equal(t, uint64(1048576*1024), rec.VSZBytes)
	require.Equal(t, "pts/3", rec.TTY)
	require.Equal(t, 3723*time.Second, rec.Elapsed)
	require.Equal(t, "node", rec.Comm)
	require.Equal(t, "node /opt/app/server.js --port 8080", rec.Cmdline)
	require.Equal(t, "testboot:431200:4312", rec.Identity.StartID)
}

func TestParseLineElapsedString(t *testing.T) {
	// Some ps builds emit hh:mm:ss even under etimes.
	line := "77 1 0 root 77 77 R 0.0 100 200 ? 01:00:00 kworker kworker"
	rec, err := testScanner().parseLine(line)
	require.NoError(t, err)
	require.Equal(t, time.Hour, rec.Elapsed)
	require.Equal(t, "", rec.TTY)
}

func TestParseSkipsGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("4312 1200 1000 dev 4312 1200 S 12.5 204800 1048576 pts/3 60 node node\n")
	buf.WriteString("not a ps line\n")
	buf.WriteString("\n")
	recs, err := testScanner().parse(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestStateFromChar(t *testing.T) {
	require.Equal(t, StateRunning, StateFromChar('R'))
	require.Equal(t, StateDiskSleep, StateFromChar('D'))
	require.Equal(t, StateStopped, StateFromChar('T'))
	require.Equal(t, StateTracingStop, StateFromChar('t'))
	require.Equal(t, StateZombie, StateFromChar('Z'))
	require.Equal(t, StateIdle, StateFromChar('I'))
	require.Equal(t, StateUnknown, StateFromChar('?'))
}
