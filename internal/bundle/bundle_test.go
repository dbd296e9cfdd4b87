package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleFiles() []File {
	return []File{
		{Path: "snapshots/snapshot-000001.json", Content: []byte(`{"pid":1}`)},
		{Path: "execution.log", Content: []byte(`{"status":"applied"}` + "\n")},
		{Path: "ledger.json", Content: []byte(`[]`)},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.zip")
	require.NoError(t, Write(path, "pt-20260801-123045-deadbeef", sampleFiles()))

	m, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, "pt-20260801-123045-deadbeef", m.SessionID)
	require.Len(t, m.Entries, 3)

	// Entries are path-sorted.
	require.Equal(t, "execution.log", m.Entries[0].Path)
	require.Equal(t, "ledger.json", m.Entries[1].Path)
	require.Equal(t, "snapshots/snapshot-000001.json", m.Entries[2].Path)

	require.Equal(t, "text/plain", m.Entries[0].Mime)
	require.Equal(t, "application/json", m.Entries[1].Mime)
}

func TestBitExactness(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.zip")
	b := filepath.Join(dir, "b.zip")

	require.NoError(t, Write(a, "s1", sampleFiles()))
	// Shuffled input order must not change the bytes.
	files := sampleFiles()
	files[0], files[2] = files[2], files[0]
	require.NoError(t, Write(b, "s1", files))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	require.Equal(t, da, db, "same content must produce bit-identical archives")
}

func TestReservedManifestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	err := Write(path, "s1", []File{{Path: "manifest.json", Content: []byte("{}")}})
	require.Error(t, err)
}

func TestTamperDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.zip")
	require.NoError(t, Write(path, "s1", sampleFiles()))

	// Write a second archive whose snapshot file carries altered
	// content.
	tampered := filepath.Join(t.TempDir(), "tampered.zip")
	files := sampleFiles()
	files[0].Content = []byte(`{"pid":2}`)
	require.NoError(t, Write(tampered, "s1", files))

	// Both archives individually verify.
	_, err := Read(path)
	require.NoError(t, err)
	_, err = Read(tampered)
	require.NoError(t, err)

	// But their manifests differ, which is what cross-tool
	// verification compares.
	ma, _ := Read(path)
	mb, _ := Read(tampered)
	require.NotEqual(t, ma.Entries[2].SHA256, mb.Entries[2].SHA256)
}
