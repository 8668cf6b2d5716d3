package repository

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logindex"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

// failingBackend fails writes once armed.
type failingBackend struct {
	*storage.MemBackend
	failWrite bool
}

func (f *failingBackend) WriteAt(off uint64, data []byte) (int, error) {
	if f.failWrite {
		// Simulate a torn write before the failure is reported.
		_, _ = f.MemBackend.WriteAt(off, data[:len(data)/2])
		return len(data) / 2, fmt.Errorf("%w: disk full", storage.ErrStorage)
	}
	return f.MemBackend.WriteAt(off, data)
}

func newRepo(t *testing.T, initial string) (*Repository, *storage.MemBackend) {
	t.Helper()
	mem := storage.NewMemBackend([]byte(initial))
	r, err := Open(mem, 4)
	require.NoError(t, err)
	return r, mem
}

// appendPlain appends newline-terminated lines, matching against the filter
// the way the line processor does.
func appendPlain(t *testing.T, r *Repository, lines ...string) {
	t.Helper()
	var sb strings.Builder
	var ends []uint64
	var filtered []logindex.LineRange
	for _, l := range lines {
		start := uint64(sb.Len())
		sb.WriteString(l)
		sb.WriteByte('\n')
		ends = append(ends, uint64(sb.Len()))
		if r.MatchesFilter(l) {
			filtered = append(filtered, logindex.LineRange{Start: start, End: uint64(sb.Len())})
		}
	}
	require.NoError(t, r.AppendLines(sb.String(), ends, filtered))
}

func windowTexts(t *testing.T, r *Repository, start, count int) []string {
	t.Helper()
	w, err := r.Window(start, count)
	require.NoError(t, err)
	out := make([]string, len(w))
	for i, l := range w {
		out[i] = l.Text
	}
	return out
}

func TestOpenScansExistingLines(t *testing.T) {
	// Read buffer of 4 forces terminators to straddle block boundaries.
	r, _ := newRepo(t, "alpha\nbe\n\ngamma\n")
	assert.Equal(t, 4, r.Count())
	assert.Equal(t, []string{"alpha", "be", "", "gamma"}, windowTexts(t, r, 0, 10))
}

func TestOpenTerminatesPartialLine(t *testing.T) {
	r, mem := newRepo(t, "one\ntw")
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, "one\ntw\n", string(mem.Bytes()))

	size, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, r.Index().End(), size)
}

func TestOpenNilBackend(t *testing.T) {
	_, err := Open(nil, 0)
	assert.ErrorIs(t, err, storage.ErrNoBackend)
}

func TestAppendLinesOffsetsAreAbsolute(t *testing.T) {
	r, mem := newRepo(t, "x\n")
	appendPlain(t, r, "hello", "world")

	assert.Equal(t, 3, r.Count())
	lr, ok := r.LineRange(2)
	require.True(t, ok)
	assert.Equal(t, logindex.LineRange{Start: 8, End: 14}, lr)

	b, err := r.ReadLine(lr)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(b))
	assert.Equal(t, "x\nhello\nworld\n", string(mem.Bytes()))
}

func TestLineCountMatchesTerminators(t *testing.T) {
	r, _ := newRepo(t, "")
	var want []string
	for i := 0; i < 250; i++ {
		l := fmt.Sprintf("line %03d", i)
		want = append(want, l)
		appendPlain(t, r, l)
	}
	assert.Equal(t, 250, r.Count())
	assert.Equal(t, want, windowTexts(t, r, 0, 250))

	size, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, r.Index().End(), size)
}

func TestAppendLinesWriteFailureLeavesIndex(t *testing.T) {
	fb := &failingBackend{MemBackend: storage.NewMemBackend(nil)}
	r, err := Open(fb, 0)
	require.NoError(t, err)
	appendPlain(t, r, "ok")

	fb.failWrite = true
	err = r.AppendLines("broken\n", []uint64{7}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrStorage))

	assert.Equal(t, 1, r.Count())
	size, _ := r.Size()
	assert.EqualValues(t, 3, size, "torn write is rolled back")
}

func TestWindowClamps(t *testing.T) {
	r, _ := newRepo(t, "a\nb\nc\n")

	assert.Equal(t, []string{"b", "c"}, windowTexts(t, r, 1, 10))
	assert.Empty(t, windowTexts(t, r, 3, 5))
	assert.Empty(t, windowTexts(t, r, 100, 5))
	assert.Empty(t, windowTexts(t, r, 0, 0))
	assert.Equal(t, []string{"a"}, windowTexts(t, r, -4, 5)[:1])

	w, err := r.Window(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, w[0].Index)
}

func TestWindowHugeCountDoesNotOverflow(t *testing.T) {
	r, _ := newRepo(t, "a\nb\nc\n")

	assert.Equal(t, []string{"b", "c"}, windowTexts(t, r, 1, math.MaxInt))
	assert.Equal(t, []string{"a", "b", "c"}, windowTexts(t, r, 0, math.MaxInt))
	assert.Empty(t, windowTexts(t, r, math.MaxInt, math.MaxInt))
}

func TestWindowFiltered(t *testing.T) {
	r, _ := newRepo(t, "")
	f, err := logindex.NewFilter(logindex.FilterOptions{Query: "err"})
	require.NoError(t, err)
	r.Index().SetFilter(f)

	appendPlain(t, r, "ok 1", "ERR 2", "ok 3", "err 4")
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 4, r.LineCount())

	w, err := r.Window(0, 5)
	require.NoError(t, err)
	require.Len(t, w, 2)
	assert.Equal(t, WindowLine{Index: 0, Text: "ERR 2"}, w[0])
	assert.Equal(t, WindowLine{Index: 1, Text: "err 4"}, w[1])
}

func TestWindowReplacesInvalidUTF8(t *testing.T) {
	r, _ := newRepo(t, "ok\xff\n")
	assert.Equal(t, []string{"ok\uFFFD"}, windowTexts(t, r, 0, 1))
}

func TestClearKeepsFilter(t *testing.T) {
	r, mem := newRepo(t, "a\nb\n")
	f, _ := logindex.NewFilter(logindex.FilterOptions{Query: "b"})
	r.Index().SetFilter(f)

	require.NoError(t, r.Clear())
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, mem.Bytes())
	assert.Empty(t, windowTexts(t, r, 0, 10))
	assert.True(t, r.Filtering())

	appendPlain(t, r, "a", "b")
	assert.Equal(t, 1, r.Count())
}

func TestResetSwapsBackend(t *testing.T) {
	r, first := newRepo(t, "old\n")
	next := storage.NewMemBackend(nil)

	prev, err := r.Reset(next)
	require.NoError(t, err)
	assert.Same(t, first, prev)
	assert.Equal(t, 0, r.Count())
	assert.Same(t, next, r.Backend())

	appendPlain(t, r, "new")
	assert.Equal(t, "new\n", string(next.Bytes()))
	assert.Equal(t, "old\n", string(first.Bytes()))

	_, err = r.Reset(nil)
	assert.ErrorIs(t, err, storage.ErrNoBackend)
}

func TestMatchesFilterWithoutFilter(t *testing.T) {
	r, _ := newRepo(t, "")
	assert.False(t, r.MatchesFilter("anything"))
}
