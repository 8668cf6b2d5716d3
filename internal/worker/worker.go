// Package worker runs the log pipeline on a single goroutine. Requests are
// posted to an inbox, executed one at a time against exclusively owned
// state, and answered through an event channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/export"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/repository"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/search"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

var workerLog = logging.ForComponent(logging.CompWorker)

var (
	// ErrClosed is returned when posting to a worker that has shut down.
	ErrClosed = errors.New("worker closed")
	// ErrRunning is returned by a second call to Run.
	ErrRunning = errors.New("worker already running")
)

// Config tunes the worker.
type Config struct {
	ReadBufferSize   int
	SearchBatchLines int
	SearchYield      time.Duration
	TickInterval     time.Duration
	// PushRate bounds TotalLines pushes caused by appends, per second.
	PushRate        float64
	PushBurst       int
	ExportChunkSize int
	InboxSize       int
	EventBuffer     int
	Processor       lineproc.Options
	// CrashDumpDir receives the log ring buffer when a command panics.
	CrashDumpDir string
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:   repository.DefaultReadBufferSize,
		SearchBatchLines: search.DefaultBatchLines,
		SearchYield:      time.Millisecond,
		TickInterval:     50 * time.Millisecond,
		PushRate:         20,
		PushBurst:        1,
		ExportChunkSize:  export.DefaultChunkSize,
		InboxSize:        256,
		EventBuffer:      256,
		Processor:        lineproc.DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.SearchBatchLines <= 0 {
		c.SearchBatchLines = d.SearchBatchLines
	}
	if c.SearchYield <= 0 {
		c.SearchYield = d.SearchYield
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.PushRate <= 0 {
		c.PushRate = d.PushRate
	}
	if c.PushBurst <= 0 {
		c.PushBurst = d.PushBurst
	}
	if c.ExportChunkSize <= 0 {
		c.ExportChunkSize = d.ExportChunkSize
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = 0
	}
	return c
}

// Option configures where the worker keeps its log.
type Option func(*Worker)

// WithSessions stores the log in a session directory. The newest session
// is recovered on start and NewSession rotates to a fresh file.
func WithSessions(s *storage.Sessions) Option {
	return func(w *Worker) { w.sessions = s }
}

// WithBackend uses a fixed store, typically a MemBackend in tests.
func WithBackend(b storage.Backend) Option {
	return func(w *Worker) { w.backend = b }
}

// WithObserver reports session file changes to o.
func WithObserver(o SessionObserver) Option {
	return func(w *Worker) { w.observer = o }
}

// Worker owns the repository, processor and search engine.
type Worker struct {
	cfg      Config
	sessions *storage.Sessions
	backend  storage.Backend
	observer SessionObserver

	state  *State
	inbox  chan Command
	events chan Event
	done   chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	limiter    *rate.Limiter
	lastPushed int
}

// New builds a worker. Nothing runs until Run is called.
func New(cfg Config, opts ...Option) (*Worker, error) {
	cfg = cfg.withDefaults()
	proc, err := lineproc.New(cfg.Processor)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	w := &Worker{
		cfg:        cfg,
		inbox:      make(chan Command, cfg.InboxSize),
		events:     make(chan Event, cfg.EventBuffer),
		done:       make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Limit(cfg.PushRate), cfg.PushBurst),
		lastPushed: -1,
	}
	for _, o := range opts {
		o(w)
	}
	w.state = &State{
		proc:     proc,
		search:   search.NewEngine(cfg.SearchBatchLines),
		sessions: w.sessions,
		w:        w,
	}
	return w, nil
}

// Events returns the outbound channel. It is closed when Run returns.
func (w *Worker) Events() <-chan Event { return w.events }

// Done is closed once the worker has shut down.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Post enqueues a request. It blocks while the inbox is full.
func (w *Worker) Post(ctx context.Context, req Request) error {
	return w.post(ctx, req)
}

func (w *Worker) post(ctx context.Context, cmd Command) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrClosed
	}
}

// Run executes commands until ctx is cancelled. It may be called once.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	defer w.shutdown()

	if err := w.init(); err != nil {
		workerLog.Error("worker_init_failed", slog.String("error", err.Error()))
		w.emit(Error{Message: err.Error()})
	}
	w.pushCount(true)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return nil
		case cmd := <-w.inbox:
			w.dispatch(cmd)
		case <-ticker.C:
			w.pushCount(false)
		}
	}
}

func (w *Worker) init() error {
	s := w.state
	switch {
	case w.sessions != nil:
		b, removed, err := w.sessions.Recover(w.ctx)
		if err != nil {
			return err
		}
		for _, name := range removed {
			w.notifyRemoved(name)
		}
		repo, err := repository.Open(b, w.cfg.ReadBufferSize)
		if err != nil {
			_ = b.Close()
			return err
		}
		s.repo = repo
		s.session = filepath.Base(b.Path())
		w.notifyOpened(s.session, b.Path())
	case w.backend != nil:
		repo, err := repository.Open(w.backend, w.cfg.ReadBufferSize)
		if err != nil {
			return err
		}
		s.repo = repo
	default:
		return nil
	}
	workerLog.Info("worker_started",
		slog.String("session", s.session), slog.Int("lines", s.repo.Count()))
	return nil
}

// dispatch runs one command. A failing or panicking command becomes a
// single Error event and the loop carries on.
func (w *Worker) dispatch(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			w.recovered(cmd, r)
		}
	}()

	outcome, err := cmd.Execute(w.state)
	if err != nil {
		workerLog.Warn("command_failed",
			slog.String("command", commandName(cmd)), slog.String("error", err.Error()))
		w.emit(Error{Command: commandName(cmd), Message: err.Error()})
		return
	}
	if outcome == NeedsAsync {
		w.startAsync(cmd)
		return
	}

	switch cmd.(type) {
	case AppendChunk, AppendLog:
		if w.limiter.Allow() {
			w.pushCount(false)
		}
	}
}

func (w *Worker) recovered(cmd Command, r any) {
	name := commandName(cmd)
	workerLog.Error("command_panic",
		slog.String("command", name),
		slog.String("panic", fmt.Sprint(r)),
		slog.String("stack", string(debug.Stack())))
	if w.cfg.CrashDumpDir != "" {
		path := filepath.Join(w.cfg.CrashDumpDir,
			fmt.Sprintf("crash-%d.log", time.Now().UnixMilli()))
		if err := logging.DumpRingBuffer(path); err != nil {
			workerLog.Warn("crash_dump_failed", slog.String("error", err.Error()))
		}
	}
	w.emit(Error{Command: name, Message: fmt.Sprintf("internal error in %s: %v", name, r)})
}

// startAsync launches the off-loop part of a NewSession.
func (w *Worker) startAsync(cmd Command) {
	if _, ok := cmd.(NewSession); !ok {
		return
	}
	sessions := w.sessions
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		b, err := sessions.Create(w.ctx)
		var ready sessionReady
		if err != nil {
			ready = sessionReady{err: err}
		} else {
			ready = sessionReady{backend: b}
		}
		if perr := w.post(w.ctx, ready); perr != nil && b != nil {
			_ = b.Close()
		}
	}()
}

// after re-enqueues cmd once d has elapsed.
func (w *Worker) after(d time.Duration, cmd Command) {
	w.wg.Add(1)
	time.AfterFunc(d, func() {
		defer w.wg.Done()
		_ = w.post(w.ctx, cmd)
	})
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

// pushCount emits TotalLines. Unforced pushes are skipped when the count
// has not changed since the last one.
func (w *Worker) pushCount(force bool) {
	repo := w.state.repo
	if repo == nil {
		return
	}
	n := repo.Count()
	if !force && n == w.lastPushed {
		return
	}
	w.lastPushed = n
	w.emit(TotalLines{N: n})
}

func (w *Worker) markPushed(n int) { w.lastPushed = n }

func (w *Worker) notifyOpened(name, path string) {
	if w.observer == nil {
		return
	}
	if err := w.observer.SessionOpened(w.ctx, name, path); err != nil {
		workerLog.Warn("observer_failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}

func (w *Worker) notifyRemoved(name string) {
	if w.observer == nil {
		return
	}
	if err := w.observer.SessionRemoved(w.ctx, name); err != nil {
		workerLog.Warn("observer_failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}

func (w *Worker) shutdown() {
	w.cancel()
	w.wg.Wait()
	if repo := w.state.repo; repo != nil {
		if err := repo.Flush(); err != nil {
			workerLog.Warn("flush_failed", slog.String("error", err.Error()))
		}
		if err := repo.Backend().Close(); err != nil {
			workerLog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}
	close(w.done)
	close(w.events)
	workerLog.Info("worker_stopped", slog.String("session", w.state.session))
}

func commandName(cmd Command) string {
	switch c := cmd.(type) {
	case Request:
		return c.requestName()
	case searchStep:
		return "searchStep"
	case sessionReady:
		return "sessionReady"
	case exportRead:
		return "exportRead"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}
