package output

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotationBoundary(t *testing.T) {
	dir := t.TempDir()
	stats := NewStats()
	o, err := New(dir, "ts", 600, stats)
	require.NoError(t, err)

	firstPath := o.Path()
	seg := []byte("xyz")

	// Nine 65-second segments fit: 9*65 = 585 < 600.
	for i := 0; i < 9; i++ {
		rotated, err := o.WriteSegment(seg, 65)
		require.NoError(t, err)
		require.Empty(t, rotated, "segment %d must not rotate", i)
	}

	// The tenth would cross the limit (585+65 >= 600), so the file rotates
	// before the write and the segment lands in the next file.
	rotated, err := o.WriteSegment(seg, 65)
	require.NoError(t, err)
	require.Equal(t, firstPath, rotated)
	require.NotEqual(t, firstPath, o.Path())

	last, err := o.Finalize()
	require.NoError(t, err)

	first, err := os.ReadFile(firstPath)
	require.NoError(t, err)
	require.Len(t, first, 9*len(seg))

	second, err := os.ReadFile(last)
	require.NoError(t, err)
	require.Len(t, second, len(seg))

	snap := stats.Snapshot()
	require.Equal(t, int64(10*len(seg)), snap.Bytes)
	require.Equal(t, 650.0, snap.StreamSeconds)
}

func TestOversizedSingleSegmentStillWrites(t *testing.T) {
	o, err := New(t.TempDir(), "ts", 10, NewStats())
	require.NoError(t, err)

	// First segment into a fresh file never rotates, even past the limit.
	rotated, err := o.WriteSegment([]byte("a"), 500)
	require.NoError(t, err)
	require.Empty(t, rotated)

	// The next one does.
	rotated, err = o.WriteSegment([]byte("b"), 5)
	require.NoError(t, err)
	require.NotEmpty(t, rotated)

	_, err = o.Finalize()
	require.NoError(t, err)
}

func TestFileNaming(t *testing.T) {
	o, err := New(t.TempDir(), "mp4", 600, NewStats())
	require.NoError(t, err)
	defer o.Finalize()

	name := filepath.Base(o.Path())
	require.Regexp(t, regexp.MustCompile(`^\d{4}_\d{2}_\d{2}-\d{2}_\d{2}_0\.mp4$`), name)
}

func TestFreeIndexSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()

	a, err := New(dir, "ts", 600, NewStats())
	require.NoError(t, err)
	pathA := a.Path()
	_, err = a.Finalize()
	require.NoError(t, err)

	b, err := New(dir, "ts", 600, NewStats())
	require.NoError(t, err)
	pathB := b.Path()
	_, err = b.Finalize()
	require.NoError(t, err)

	require.NotEqual(t, pathA, pathB)
	for _, p := range []string{pathA, pathB} {
		_, err := os.Stat(p)
		require.NoError(t, err, "file %s must survive", p)
	}
}

func TestWriteAfterFinalize(t *testing.T) {
	o, err := New(t.TempDir(), "ts", 600, NewStats())
	require.NoError(t, err)

	_, err = o.Finalize()
	require.NoError(t, err)

	_, err = o.WriteSegment([]byte("x"), 5)
	require.ErrorIs(t, err, ErrClosed)

	_, err = o.Finalize()
	require.ErrorIs(t, err, ErrClosed)
}

func TestManyRotations(t *testing.T) {
	dir := t.TempDir()
	o, err := New(dir, "ts", 10, NewStats())
	require.NoError(t, err)

	var completed []string
	for i := 0; i < 30; i++ {
		rotated, err := o.WriteSegment([]byte(fmt.Sprintf("%02d", i)), 4)
		require.NoError(t, err)
		if rotated != "" {
			completed = append(completed, rotated)
		}
	}
	last, err := o.Finalize()
	require.NoError(t, err)
	completed = append(completed, last)

	// 4s segments against a 10s limit: two per file, 15 files total.
	require.Len(t, completed, 15)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 15)
}
