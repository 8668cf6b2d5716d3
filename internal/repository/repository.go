// Package repository couples a session store with its line index so that a
// batch write and the index update it implies always commit together.
package repository

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logindex"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

var repoLog = logging.ForComponent(logging.CompStorage)

// DefaultReadBufferSize is the block size used when scanning an existing
// session file for line terminators.
const DefaultReadBufferSize = 64 * 1024

const newline = '\n'

// WindowLine is one line of a virtual scroll window.
type WindowLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Repository owns one storage backend and one line index. It is not safe for
// concurrent use; the worker goroutine is its only caller.
type Repository struct {
	backend     storage.Backend
	index       *logindex.LogIndex
	readBufSize int
}

// Open indexes the lines already present in backend. A trailing partial line
// left by an interrupted session is completed with a terminator so that the
// store size always equals the end of the last indexed line.
func Open(backend storage.Backend, readBufSize int) (*Repository, error) {
	if backend == nil {
		return nil, storage.ErrNoBackend
	}
	if readBufSize <= 0 {
		readBufSize = DefaultReadBufferSize
	}
	r := &Repository{backend: backend, index: logindex.New(), readBufSize: readBufSize}
	if err := r.scan(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) scan() error {
	size, err := r.backend.Size()
	if err != nil {
		return err
	}
	buf := make([]byte, r.readBufSize)
	var off uint64
	for off < size {
		n := int(min(size-off, uint64(len(buf))))
		got, err := r.backend.ReadAt(off, buf[:n])
		if err != nil {
			return err
		}
		if got == 0 {
			break
		}
		chunk := buf[:got]
		base := 0
		for {
			i := bytes.IndexByte(chunk[base:], newline)
			if i < 0 {
				break
			}
			base += i + 1
			r.index.PushLine(off + uint64(base))
		}
		off += uint64(got)
	}

	if end := r.index.End(); end < size {
		if _, err := r.backend.WriteAt(size, []byte{newline}); err != nil {
			return err
		}
		r.index.PushLine(size + 1)
		repoLog.Warn("partial_line_terminated", slog.Uint64("offset", end), slog.Uint64("size", size))
	}
	return nil
}

// Index exposes the line index for the search engine.
func (r *Repository) Index() *logindex.LogIndex { return r.index }

// Backend returns the underlying store.
func (r *Repository) Backend() storage.Backend { return r.backend }

// AppendLines writes text at the end of the store and then records each
// line end and filtered range, all given relative to the start of text.
// On a failed write the index is untouched and the store is cut back to
// its previous size.
func (r *Repository) AppendLines(text string, relEnds []uint64, relFiltered []logindex.LineRange) error {
	if len(text) == 0 {
		return nil
	}
	start, err := r.backend.Size()
	if err != nil {
		return err
	}
	if _, err := r.backend.WriteAt(start, []byte(text)); err != nil {
		if terr := r.backend.Truncate(start); terr != nil {
			repoLog.Error("append_rollback_failed", slog.String("error", terr.Error()))
		}
		return err
	}
	for _, e := range relEnds {
		r.index.PushLine(start + e)
	}
	for _, fr := range relFiltered {
		r.index.PushFiltered(logindex.LineRange{Start: start + fr.Start, End: start + fr.End})
	}
	return nil
}

// Count returns the number of visible lines.
func (r *Repository) Count() int { return r.index.Count() }

// LineCount returns the number of persisted lines regardless of filtering.
func (r *Repository) LineCount() int { return r.index.LineCount() }

// Size returns the store size in bytes.
func (r *Repository) Size() (uint64, error) { return r.backend.Size() }

// LineRange returns the byte range of visible line n.
func (r *Repository) LineRange(n int) (logindex.LineRange, bool) { return r.index.Range(n) }

// ReadLine reads the bytes of one line range, terminator included.
func (r *Repository) ReadLine(lr logindex.LineRange) ([]byte, error) {
	return r.ReadRange(lr.Start, lr.End)
}

// ReadRange reads [start, end) with a single backend read.
func (r *Repository) ReadRange(start, end uint64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}
	buf := make([]byte, end-start)
	n, err := r.backend.ReadAt(start, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Window returns up to count visible lines starting at start. Bounds are
// clamped to the visible count; out of range yields an empty window.
func (r *Repository) Window(start, count int) ([]WindowLine, error) {
	total := r.index.Count()
	if start < 0 {
		start = 0
	}
	if count < 0 {
		count = 0
	}
	s := min(start, total)
	e := s + min(count, total-s)
	if s >= e {
		return []WindowLine{}, nil
	}

	lines := make([]WindowLine, 0, e-s)
	if !r.index.Filtering() {
		offs := r.index.Offsets(s, e)
		base := offs[0]
		buf, err := r.ReadRange(base, offs[len(offs)-1])
		if err != nil {
			return nil, fmt.Errorf("read window: %w", err)
		}
		for i := 0; i+1 < len(offs); i++ {
			a, b := offs[i]-base, offs[i+1]-base
			if b > uint64(len(buf)) {
				b = uint64(len(buf))
			}
			if a > b {
				a = b
			}
			lines = append(lines, WindowLine{Index: s + i, Text: lineText(buf[a:b])})
		}
		return lines, nil
	}

	for i := s; i < e; i++ {
		lr, ok := r.index.Range(i)
		if !ok {
			break
		}
		buf, err := r.ReadLine(lr)
		if err != nil {
			return nil, fmt.Errorf("read window line %d: %w", i, err)
		}
		lines = append(lines, WindowLine{Index: i, Text: lineText(buf)})
	}
	return lines, nil
}

// lineText strips the terminator and replaces invalid UTF-8.
func lineText(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{newline})
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// Clear truncates the store and resets the index. The active filter is
// kept so new lines continue to be matched.
func (r *Repository) Clear() error {
	if err := r.backend.Truncate(0); err != nil {
		return err
	}
	if err := r.backend.Flush(); err != nil {
		return err
	}
	r.index.ResetBase()
	return nil
}

// Reset swaps in a new backend and rescans it. The filter is kept.
// The previous backend is returned for the caller to close.
func (r *Repository) Reset(backend storage.Backend) (storage.Backend, error) {
	if backend == nil {
		return nil, storage.ErrNoBackend
	}
	prev := r.backend
	r.backend = backend
	r.index.ResetBase()
	if err := r.scan(); err != nil {
		return prev, err
	}
	return prev, nil
}

// Filtering reports whether a filter is active.
func (r *Repository) Filtering() bool { return r.index.Filtering() }

// MatchesFilter reports whether text should join the filtered set. It is
// false when no filter is active.
func (r *Repository) MatchesFilter(text string) bool {
	return r.index.Filtering() && r.index.Matches(text)
}

// Flush makes appended data durable.
func (r *Repository) Flush() error { return r.backend.Flush() }
