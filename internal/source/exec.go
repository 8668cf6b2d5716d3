package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

// Exec runs a command on a pseudo-terminal and feeds its output. The child
// sees a terminal, so it emits the same escape sequences a device console
// would. Send writes to its input, making it a local loopback device.
type Exec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// Cols and Rows size the terminal. Zero means the size of our own
	// stdout when it is a terminal, else 80x24.
	Cols, Rows uint16

	ChunkSize int
	Hex       bool

	mu   sync.Mutex
	ptmx *os.File
}

// Name implements Source.
func (e *Exec) Name() string { return "exec:" + e.Command }

// Run starts the command and forwards its output until it exits.
func (e *Exec) Run(ctx context.Context, sink Sink) error {
	if e.Command == "" {
		return errors.New("exec source: command is required")
	}
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	ptmx, err := pty.StartWithSize(cmd, e.winsize())
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	e.mu.Lock()
	e.ptmx = ptmx
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ptmx = nil
		e.mu.Unlock()
		_ = ptmx.Close()
	}()

	sourceLog.Info("exec_started", slog.String("command", e.Command), slog.Int("pid", cmd.Process.Pid))

	n, ferr := forward(ctx, e.Name(), sink, ptmx, e.ChunkSize, e.Hex)
	// The master reports EIO once the child side is gone.
	if errors.Is(ferr, syscall.EIO) {
		ferr = nil
	}
	werr := cmd.Wait()

	sourceLog.Info("exec_exited", slog.String("command", e.Command), slog.Int64("bytes", n))
	switch {
	case ctx.Err() != nil:
		return nil
	case ferr != nil:
		return ferr
	case werr != nil:
		return fmt.Errorf("exec source: %w", werr)
	}
	return nil
}

// Send writes text plus the line terminator to the child's input and logs
// it as a transmitted line.
func (e *Exec) Send(ctx context.Context, sink Sink, text string, ending lineproc.LineEnding) error {
	e.mu.Lock()
	ptmx := e.ptmx
	e.mu.Unlock()
	if ptmx == nil {
		return errors.New("exec source: not running")
	}
	if _, err := ptmx.Write([]byte(text + terminator(ending))); err != nil {
		return fmt.Errorf("write pty: %w", err)
	}
	return sink.Post(ctx, worker.AppendLog{Text: text})
}

// Resize changes the terminal size of a running command.
func (e *Exec) Resize(cols, rows uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ptmx == nil {
		return errors.New("exec source: not running")
	}
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	return pty.Setsize(e.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (e *Exec) winsize() *pty.Winsize {
	if e.Cols > 0 && e.Rows > 0 {
		return &pty.Winsize{Cols: e.Cols, Rows: e.Rows}
	}
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 0 {
			return &pty.Winsize{Cols: uint16(w), Rows: uint16(h)}
		}
	}
	return &pty.Winsize{Cols: 80, Rows: 24}
}

func terminator(e lineproc.LineEnding) string {
	switch e {
	case lineproc.EndingNone:
		return ""
	case lineproc.EndingCR:
		return "\r"
	case lineproc.EndingCRLF:
		return "\r\n"
	default:
		return "\n"
	}
}
