package lineproc

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// widthCond fixes ambiguous-width runes to one cell regardless of locale.
var widthCond = func() *runewidth.Condition {
	c := runewidth.NewCondition()
	c.EastAsianWidth = false
	return c
}()

type cell struct {
	r    rune // 0 means never written
	comb string
	wide bool // r spans this cell and the next
	cont bool // right half of a wide rune
}

// Terminal is a minimal terminal emulator with a single-row viewport.
// Line feed (and autowrap) retires the row into a bounded scrollback;
// everything else edits the row in place. Line feed implies carriage return.
// Escape sequences are tokenized by an ansi.Parser; OSC, DCS and the other
// string sequences are consumed without effect.
type Terminal struct {
	cols       int
	scrollback int

	row      []cell
	used     int // high-water mark of touched cells
	col      int
	savedCol int

	history  []string
	histBase int // rows dropped from the front of history

	parser *ansi.Parser
}

// NewTerminal creates an emulator cols cells wide keeping at most
// scrollback retired rows.
func NewTerminal(cols, scrollback int) *Terminal {
	if cols < 2 {
		cols = 2
	}
	if scrollback < 1 {
		scrollback = 1
	}
	t := &Terminal{
		cols:       cols,
		scrollback: scrollback,
		row:        make([]cell, cols),
		parser:     ansi.NewParser(),
	}
	t.parser.SetHandler(ansi.Handler{
		Print:     t.print,
		Execute:   t.execute,
		HandleEsc: t.escape,
		HandleCsi: t.csi,
	})
	return t
}

// WriteString feeds decoded text to the emulator. Sequences split across
// calls are carried by the parser.
func (t *Terminal) WriteString(s string) {
	t.parser.Parse([]byte(s))
}

// Retired is the number of rows retired since the last ClearHistory.
func (t *Terminal) Retired() int { return t.histBase + len(t.history) }

// History returns the retired rows with absolute index >= from that are
// still held in scrollback.
func (t *Terminal) History(from int) []string {
	i := from - t.histBase
	if i < 0 {
		i = 0
	}
	if i >= len(t.history) {
		return nil
	}
	return t.history[i:]
}

// ClearHistory drops all retired rows and restarts the retired count.
// The row being rendered is kept.
func (t *Terminal) ClearHistory() {
	t.history = nil
	t.histBase = 0
}

// Line renders the row currently being written.
func (t *Terminal) Line() string { return t.render() }

// Col returns the cursor column.
func (t *Terminal) Col() int { return t.col }

// Reset restores power-on state, keeping nothing.
func (t *Terminal) Reset() {
	t.clearRow()
	t.col, t.savedCol = 0, 0
	t.parser.Reset()
	t.ClearHistory()
}

// execute handles C0 and C1 controls.
func (t *Terminal) execute(b byte) {
	switch b {
	case '\n', '\v', '\f':
		t.lineFeed()
		t.col = 0
	case '\r':
		t.col = 0
	case '\b':
		if t.col >= t.cols {
			t.col = t.cols - 1
		}
		if t.col > 0 {
			t.col--
		}
	case '\t':
		if t.col < t.cols-1 {
			t.col = min((t.col/8+1)*8, t.cols-1)
		}
	}
	// Other controls have no visible effect.
}

// escape handles ESC sequences. Designators such as ESC ( B carry an
// intermediate byte and are ignored.
func (t *Terminal) escape(cmd ansi.Cmd) {
	if cmd.Intermediate() != 0 {
		return
	}
	switch cmd.Final() {
	case 'c':
		t.clearRow()
		t.col, t.savedCol = 0, 0
	case 'D':
		col := t.col
		t.lineFeed()
		t.col = col
	case 'E':
		t.lineFeed()
		t.col = 0
	case '7':
		t.savedCol = t.col
	case '8':
		t.col = min(t.savedCol, t.cols-1)
	}
}

// param returns parameter i, treating a missing or zero value as def.
func param(ps ansi.Params, i, def int) int {
	if v, _, ok := ps.Param(i, def); ok && v > 0 {
		return v
	}
	return def
}

func (t *Terminal) csi(cmd ansi.Cmd, ps ansi.Params) {
	// Private (CSI ? ...) and intermediate-carrying sequences only touch
	// modes or report state.
	if cmd.Prefix() != 0 || cmd.Intermediate() != 0 {
		return
	}
	last := t.cols - 1
	switch cmd.Final() {
	case 'C', 'a':
		t.col = min(min(t.col, last)+param(ps, 0, 1), last)
	case 'D':
		t.col = max(min(t.col, last)-param(ps, 0, 1), 0)
	case 'G', '`':
		t.col = min(param(ps, 0, 1)-1, last)
	case 'H', 'f':
		t.col = min(param(ps, 1, 1)-1, last)
	case 'E', 'F':
		t.col = 0
	case 'K', 'J':
		mode, _, _ := ps.Param(0, 0)
		switch mode {
		case 0:
			t.erase(min(t.col, last), t.cols)
		case 1:
			t.erase(0, min(t.col, last)+1)
		default:
			t.erase(0, t.cols)
		}
	case 'X':
		c := min(t.col, last)
		t.erase(c, min(c+param(ps, 0, 1), t.cols))
	case 'P':
		t.deleteChars(min(t.col, last), param(ps, 0, 1))
	case '@':
		t.insertBlanks(min(t.col, last), param(ps, 0, 1))
	}
	// SGR, vertical movement and reports do not change row content.
}

func (t *Terminal) print(r rune) {
	w := widthCond.RuneWidth(r)
	if w == 0 {
		if unicode.In(r, unicode.Mn, unicode.Me) {
			t.combine(r)
		}
		return
	}
	if t.col+w > t.cols {
		t.lineFeed()
		t.col = 0
	}
	i := t.col
	t.row[i] = cell{r: r, wide: w == 2}
	if w == 2 {
		t.row[i+1] = cell{r: ' ', cont: true}
	}
	t.touch(i + w)
	t.repair(i-1, i+w)
	t.col += w
}

func (t *Terminal) combine(r rune) {
	i := t.col - 1
	if i >= 0 && i < t.cols && t.row[i].cont {
		i--
	}
	if i < 0 || t.row[i].r == 0 {
		return
	}
	t.row[i].comb += string(r)
}

// repair blanks half-overwritten wide runes in [from, to].
func (t *Terminal) repair(from, to int) {
	from = max(from, 0)
	to = min(to, t.cols-1)
	for i := from; i <= to; i++ {
		c := &t.row[i]
		if c.cont && (i == 0 || !t.row[i-1].wide) {
			*c = cell{r: ' '}
		}
		if c.wide && (i+1 >= t.cols || !t.row[i+1].cont) {
			*c = cell{r: ' '}
		}
	}
}

func (t *Terminal) erase(from, to int) {
	if from >= to {
		return
	}
	for i := from; i < to && i < t.used; i++ {
		t.row[i] = cell{}
	}
	t.repair(from-1, to)
}

func (t *Terminal) deleteChars(at, n int) {
	if at >= t.used {
		return
	}
	n = min(n, t.used-at)
	copy(t.row[at:], t.row[at+n:t.used])
	for i := t.used - n; i < t.used; i++ {
		t.row[i] = cell{}
	}
	t.repair(at-1, at)
}

func (t *Terminal) insertBlanks(at, n int) {
	if at >= t.used {
		return
	}
	n = min(n, t.cols-at)
	end := min(t.used+n, t.cols)
	copy(t.row[at+n:end], t.row[at:end-n])
	for i := at; i < at+n; i++ {
		t.row[i] = cell{r: ' '}
	}
	t.touch(end)
	t.repair(at-1, at+n)
	t.repair(t.cols-1, t.cols-1)
}

func (t *Terminal) touch(n int) {
	if n > t.used {
		t.used = n
	}
}

func (t *Terminal) lineFeed() {
	t.history = append(t.history, t.render())
	if len(t.history) > t.scrollback {
		drop := len(t.history) - t.scrollback
		t.history = t.history[drop:]
		t.histBase += drop
	}
	t.clearRow()
}

func (t *Terminal) clearRow() {
	for i := 0; i < t.used; i++ {
		t.row[i] = cell{}
	}
	t.used = 0
}

func (t *Terminal) render() string {
	end := t.used
	for end > 0 && t.row[end-1].r == 0 {
		end--
	}
	if end == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(end)
	for i := 0; i < end; i++ {
		c := t.row[i]
		switch {
		case c.cont:
		case c.r == 0:
			sb.WriteByte(' ')
		default:
			sb.WriteRune(c.r)
			sb.WriteString(c.comb)
		}
	}
	return sb.String()
}
