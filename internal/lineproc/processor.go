// Package lineproc turns raw serial chunks into complete, timestamped lines
// ready to be appended to the session log.
package lineproc

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logindex"
)

// LineEnding selects where a line ends.
type LineEnding uint8

const (
	EndingNone LineEnding = iota
	EndingLF
	EndingCR
	EndingCRLF
)

func (e LineEnding) String() string {
	switch e {
	case EndingNone:
		return "None"
	case EndingCR:
		return "CR"
	case EndingCRLF:
		return "CRLF"
	default:
		return "LF"
	}
}

// ParseLineEnding accepts None, LF, CR and CRLF (case-insensitive), plus
// the NL/NLCR spellings used by serial terminal settings.
func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return EndingNone, nil
	case "LF", "NL", "\\N":
		return EndingLF, nil
	case "CR", "\\R":
		return EndingCR, nil
	case "CRLF", "NLCR", "\\R\\N":
		return EndingCRLF, nil
	}
	return EndingLF, fmt.Errorf("unknown line ending %q", s)
}

// Filter is the view of the active search filter the processor needs.
type Filter interface {
	Filtering() bool
	MatchesFilter(text string) bool
}

// Batch is the output of one processing call. Ends and Filtered are
// relative to the start of Text.
type Batch struct {
	Text     string
	Ends     []uint64
	Filtered []logindex.LineRange
	// Active is the row still being rendered; nil when blank or filtered out.
	Active *string
}

// Lines returns the number of completed lines in the batch.
func (b Batch) Lines() int { return len(b.Ends) }

// Options configures a Processor. Zero fields take defaults.
type Options struct {
	Columns         int
	Scrollback      int
	ResetThreshold  int
	MaxLineBytes    int
	MaxUnterminated int
	Charset         string
	LineEnding      LineEnding
	Timestamps      bool
	Now             func() time.Time
}

// DefaultOptions returns the standard processing limits.
func DefaultOptions() Options {
	return Options{
		Columns:         1024,
		Scrollback:      10000,
		ResetThreshold:  5000,
		MaxLineBytes:    256,
		MaxUnterminated: 4096,
		Charset:         DefaultCharset,
		LineEnding:      EndingLF,
		Timestamps:      true,
		Now:             time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Columns <= 0 {
		o.Columns = d.Columns
	}
	if o.Scrollback <= 0 {
		o.Scrollback = d.Scrollback
	}
	if o.ResetThreshold <= 0 {
		o.ResetThreshold = d.ResetThreshold
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = d.MaxLineBytes
	}
	if o.MaxUnterminated <= 0 {
		o.MaxUnterminated = d.MaxUnterminated
	}
	if o.Charset == "" {
		o.Charset = d.Charset
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Processor holds the state carried between chunks: decoder remainder,
// emulator screen, and the unterminated hex buffer.
type Processor struct {
	opts   Options
	ending LineEnding
	stamp  stamper

	dec      *Decoder
	term     *Terminal
	consumed int
	lastCR   bool

	leftover []byte
}

// New creates a processor.
func New(opts Options) (*Processor, error) {
	opts = opts.withDefaults()
	dec, err := NewDecoder(opts.Charset)
	if err != nil {
		return nil, err
	}
	return &Processor{
		opts:   opts,
		ending: opts.LineEnding,
		stamp:  stamper{enabled: opts.Timestamps, now: opts.Now},
		dec:    dec,
		term:   NewTerminal(opts.Columns, opts.Scrollback),
	}, nil
}

// SetLineEnding changes the boundary convention for subsequent chunks.
func (p *Processor) SetLineEnding(e LineEnding) {
	p.ending = e
	p.lastCR = false
}

// LineEnding returns the current boundary convention.
func (p *Processor) LineEnding() LineEnding { return p.ending }

// SetTimestamps toggles the per-line timestamp prefix.
func (p *Processor) SetTimestamps(on bool) { p.stamp.enabled = on }

// Timestamps reports whether lines get a timestamp prefix.
func (p *Processor) Timestamps() bool { return p.stamp.enabled }

// Reset drops all carried state.
func (p *Processor) Reset() {
	p.dec.Reset()
	p.term.Reset()
	p.consumed = 0
	p.lastCR = false
	p.leftover = nil
}

// Process converts one chunk into completed lines. f may be nil when no
// filter is in play.
func (p *Processor) Process(chunk []byte, hex bool, f Filter) (Batch, error) {
	b := newBuilder(f, len(chunk))
	ts := p.stamp.prefix()
	if hex {
		p.processHex(chunk, b, ts)
		return b.batch(nil), nil
	}

	data, err := p.dec.Decode(chunk)
	if err != nil {
		return Batch{}, err
	}
	p.feed(p.translate(data), b, ts)

	var active *string
	if line := p.term.Line(); strings.TrimSpace(line) != "" {
		if !b.filtering || f.MatchesFilter(line) {
			active = &line
		}
	}
	return b.batch(active), nil
}

// FormatLocal renders a locally originated message as LocalTag lines.
// Embedded newlines start new lines.
func (p *Processor) FormatLocal(text string, f Filter) Batch {
	text = strings.ToValidUTF8(text, "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")

	b := newBuilder(f, len(text))
	prefix := LocalTag + p.stamp.prefix()
	for _, line := range strings.Split(text, "\n") {
		for _, piece := range FormatText.pieces([]byte(line), p.opts.MaxLineBytes) {
			b.add(prefix, piece)
		}
	}
	return b.batch(nil)
}

// translate applies CR mode: CR ends a line and an LF right after it is
// dropped. Other modes rely on LF implying CR in the emulator.
func (p *Processor) translate(data []byte) string {
	if p.ending != EndingCR {
		return string(data)
	}
	var sb strings.Builder
	sb.Grow(len(data) + 8)
	for _, c := range data {
		switch c {
		case '\r':
			sb.WriteString("\r\n")
			p.lastCR = true
			continue
		case '\n':
			if p.lastCR {
				p.lastCR = false
				continue
			}
		}
		sb.WriteByte(c)
		p.lastCR = false
	}
	return sb.String()
}

// feed writes s to the emulator in pieces small enough that the scrollback
// can never drop a row before it has been consumed: every rune retires at
// most one row.
func (p *Processor) feed(s string, b *builder, ts string) {
	for len(s) > 0 {
		n := runePrefixLen(s, p.opts.Scrollback)
		p.term.WriteString(s[:n])
		s = s[n:]
		p.drain(b, ts)
	}
}

// drain formats every row retired since the last call. Once the consumed
// count passes the reset threshold the emulator history is cleared; all
// retired rows have been read by then, so nothing is lost.
func (p *Processor) drain(b *builder, ts string) {
	rows := p.term.History(p.consumed)
	p.consumed = p.term.Retired()
	for _, row := range rows {
		for _, piece := range FormatText.pieces([]byte(row), p.opts.MaxLineBytes) {
			b.add(ts, piece)
		}
	}
	if p.consumed > p.opts.ResetThreshold {
		p.term.ClearHistory()
		p.consumed = 0
	}
}

func (p *Processor) processHex(chunk []byte, b *builder, ts string) {
	emit := func(line []byte) {
		for _, piece := range FormatHex.pieces(line, p.opts.MaxLineBytes) {
			b.add(ts, piece)
		}
	}

	if p.ending == EndingNone {
		// One line per chunk, carrying any bytes left from a previous mode.
		line := append(p.leftover, chunk...)
		p.leftover = nil
		if len(line) > 0 {
			emit(line)
		}
		return
	}

	data := make([]byte, 0, len(p.leftover)+len(chunk))
	data = append(append(data, p.leftover...), chunk...)

	start := 0
	for i := 0; i < len(data); i++ {
		end := -1
		switch p.ending {
		case EndingLF:
			if data[i] == '\n' {
				end = i + 1
			}
		case EndingCR:
			if data[i] == '\r' {
				end = i + 1
			}
		case EndingCRLF:
			if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				end = i + 2
			}
		}
		if end > 0 {
			emit(data[start:end])
			start = end
			i = end - 1
		}
	}

	rest := data[start:]
	for len(rest) >= p.opts.MaxUnterminated {
		emit(rest[:p.opts.MaxUnterminated])
		rest = rest[p.opts.MaxUnterminated:]
	}
	p.leftover = append([]byte(nil), rest...)
}

// Pending returns the number of unterminated hex bytes carried over.
func (p *Processor) Pending() int { return len(p.leftover) }

func runePrefixLen(s string, runes int) int {
	if len(s) <= runes {
		return len(s)
	}
	i := 0
	for n := 0; n < runes && i < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

type builder struct {
	sb        strings.Builder
	ends      []uint64
	filtered  []logindex.LineRange
	f         Filter
	filtering bool
}

func newBuilder(f Filter, hint int) *builder {
	b := &builder{f: f, filtering: f != nil && f.Filtering()}
	b.sb.Grow(hint + hint/2)
	return b
}

// add appends prefix+text and its terminator, matching the line (without
// terminator) against the filter.
func (b *builder) add(prefix, text string) {
	start := b.sb.Len()
	b.sb.WriteString(prefix)
	b.sb.WriteString(text)
	if b.filtering && b.f.MatchesFilter(b.sb.String()[start:]) {
		b.filtered = append(b.filtered, logindex.LineRange{Start: uint64(start), End: uint64(b.sb.Len() + 1)})
	}
	b.sb.WriteByte('\n')
	b.ends = append(b.ends, uint64(b.sb.Len()))
}

func (b *builder) batch(active *string) Batch {
	return Batch{Text: b.sb.String(), Ends: b.ends, Filtered: b.filtered, Active: active}
}
