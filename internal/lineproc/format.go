package lineproc

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"
)

// Format selects how completed input is rendered into persisted lines.
type Format uint8

const (
	// FormatText persists decoded text as rendered by the terminal emulator.
	FormatText Format = iota
	// FormatHex persists raw bytes as space-separated uppercase hex pairs.
	FormatHex
)

func (f Format) String() string {
	if f == FormatHex {
		return "hex"
	}
	return "text"
}

// LineLimit is the longest rendered line, in bytes, f produces for the
// given raw limit. Hex needs three characters per byte.
func (f Format) LineLimit(maxLineBytes int) int {
	if f == FormatHex {
		return maxLineBytes * 3
	}
	return maxLineBytes
}

// pieces renders one completed line and splits it so that no piece exceeds
// the line limit. An empty line yields a single empty piece.
func (f Format) pieces(line []byte, maxLineBytes int) []string {
	if f == FormatText {
		return SplitUTF8(string(line), maxLineBytes)
	}
	if len(line) == 0 {
		return []string{""}
	}
	var out []string
	for len(line) > 0 {
		n := min(len(line), maxLineBytes)
		out = append(out, HexPairs(line[:n]))
		line = line[n:]
	}
	return out
}

const hexDigits = "0123456789ABCDEF"

// HexPairs renders b as "48 49 0A".
func HexPairs(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// SplitUTF8 cuts s into pieces of at most max bytes without splitting a
// rune. A rune wider than max still forms its own piece.
func SplitUTF8(s string, max int) []string {
	if len(s) <= max || max <= 0 {
		return []string{s}
	}
	var out []string
	for len(s) > max {
		end := max
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			_, size := utf8.DecodeRuneInString(s)
			end = size
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// TimestampLayout renders the per-line prefix, 15 bytes including the
// trailing space.
const TimestampLayout = "[15:04:05.000] "

// TimestampLen is the byte length of a rendered timestamp prefix.
const TimestampLen = len(TimestampLayout)

// LocalTag marks locally originated lines.
const LocalTag = "[TX] "

// StripTimestamp removes a leading timestamp prefix, or the one right after
// a LocalTag, when present. Other lines are returned unchanged.
func StripTimestamp(line []byte) []byte {
	if isTimestamp(line) {
		return line[TimestampLen:]
	}
	if bytes.HasPrefix(line, []byte(LocalTag)) && isTimestamp(line[len(LocalTag):]) {
		out := make([]byte, 0, len(line)-TimestampLen)
		out = append(out, LocalTag...)
		return append(out, line[len(LocalTag)+TimestampLen:]...)
	}
	return line
}

// isTimestamp matches "[dd:dd:dd.ddd] " at the start of b.
func isTimestamp(b []byte) bool {
	if len(b) < TimestampLen {
		return false
	}
	for i := 0; i < TimestampLen; i++ {
		c := b[i]
		switch i {
		case 0:
			if c != '[' {
				return false
			}
		case 3, 6:
			if c != ':' {
				return false
			}
		case 9:
			if c != '.' {
				return false
			}
		case 13:
			if c != ']' {
				return false
			}
		case 14:
			if c != ' ' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

type stamper struct {
	enabled bool
	now     func() time.Time
}

func (s stamper) prefix() string {
	if !s.enabled {
		return ""
	}
	return s.now().Format(TimestampLayout)
}
