// Package logindex maps logical line numbers onto byte ranges of a session
// log and tracks the subset of lines matching the active filter.
package logindex

// ByteOffset is an absolute byte position in the session log.
type ByteOffset = uint64

// LineIndex is a zero-based logical line number.
type LineIndex = int

// LineRange is the half-open byte interval of one persisted line, including
// its terminator.
type LineRange struct {
	Start ByteOffset
	End   ByteOffset
}

// Len returns the number of bytes in the range.
func (r LineRange) Len() uint64 { return r.End - r.Start }

// LogIndex holds the line offsets of a session log. lineOffsets always has
// lineCount+1 entries, starts at 0 and is strictly increasing. filtered is
// ascending and a subsequence of the full line set.
type LogIndex struct {
	lineOffsets []ByteOffset
	filtered    []LineRange
	filtering   bool
	filter      *ActiveFilter
}

// New returns an empty index.
func New() *LogIndex {
	return &LogIndex{lineOffsets: []ByteOffset{0}}
}

// ResetBase drops every line and filtered range. The active filter and the
// filtering flag are kept so later appends keep being matched.
func (x *LogIndex) ResetBase() {
	x.lineOffsets = x.lineOffsets[:1]
	x.lineOffsets[0] = 0
	x.filtered = x.filtered[:0]
}

// PushLine records a new line ending at end. Ends that do not advance past
// the previous line are ignored.
func (x *LogIndex) PushLine(end ByteOffset) {
	if end <= x.lineOffsets[len(x.lineOffsets)-1] {
		return
	}
	x.lineOffsets = append(x.lineOffsets, end)
}

// PushFiltered appends a matching range at the tail of the filtered set.
func (x *LogIndex) PushFiltered(r LineRange) {
	x.filtered = append(x.filtered, r)
}

// PrependFiltered inserts ranges, already in ascending order, at the front of
// the filtered set.
func (x *LogIndex) PrependFiltered(ranges []LineRange) {
	if len(ranges) == 0 {
		return
	}
	merged := make([]LineRange, 0, len(ranges)+len(x.filtered))
	merged = append(merged, ranges...)
	x.filtered = append(merged, x.filtered...)
}

// LineCount is the number of persisted lines regardless of filtering.
func (x *LogIndex) LineCount() int { return len(x.lineOffsets) - 1 }

// FilteredCount is the number of lines in the filtered set.
func (x *LogIndex) FilteredCount() int { return len(x.filtered) }

// Count is the number of visible lines: filtered while filtering, all lines
// otherwise.
func (x *LogIndex) Count() int {
	if x.filtering {
		return len(x.filtered)
	}
	return x.LineCount()
}

// End returns the byte offset just past the last line.
func (x *LogIndex) End() ByteOffset { return x.lineOffsets[len(x.lineOffsets)-1] }

// Range returns the byte range of visible line n. Out of range is reported
// with ok=false.
func (x *LogIndex) Range(n LineIndex) (LineRange, bool) {
	if n < 0 {
		return LineRange{}, false
	}
	if x.filtering {
		if n >= len(x.filtered) {
			return LineRange{}, false
		}
		return x.filtered[n], true
	}
	if n >= x.LineCount() {
		return LineRange{}, false
	}
	return LineRange{Start: x.lineOffsets[n], End: x.lineOffsets[n+1]}, true
}

// Offsets returns the line boundary offsets for the unfiltered lines
// [start, end): end-start+1 values, so consecutive pairs are line ranges.
// Bounds are clamped; an empty range yields nil.
func (x *LogIndex) Offsets(start, end LineIndex) []ByteOffset {
	if start < 0 {
		start = 0
	}
	if end > x.LineCount() {
		end = x.LineCount()
	}
	if start >= end {
		return nil
	}
	return x.lineOffsets[start : end+1]
}

// Filtering reports whether a filter is active.
func (x *LogIndex) Filtering() bool { return x.filtering }

// Filter returns the active filter, or nil.
func (x *LogIndex) Filter() *ActiveFilter { return x.filter }

// SetFilter installs f and clears the filtered set so a scan can rebuild it.
// A nil filter is the same as ClearFilter.
func (x *LogIndex) SetFilter(f *ActiveFilter) {
	if f == nil {
		x.ClearFilter()
		return
	}
	x.filter = f
	x.filtering = true
	x.filtered = x.filtered[:0]
}

// ClearFilter disables filtering and drops the filtered set.
func (x *LogIndex) ClearFilter() {
	x.filter = nil
	x.filtering = false
	x.filtered = x.filtered[:0]
}

// Matches reports whether text passes the active filter. With no filter
// every line matches.
func (x *LogIndex) Matches(text string) bool {
	if x.filter == nil {
		return true
	}
	return x.filter.Matches(text)
}
