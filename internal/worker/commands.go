package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/export"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logindex"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/repository"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/search"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

// Outcome tells the run loop whether a command finished in its turn.
type Outcome uint8

const (
	// Handled means the command completed synchronously.
	Handled Outcome = iota
	// NeedsAsync means the run loop must start the command's async part.
	NeedsAsync
)

// Command is one unit of work executed on the worker goroutine.
type Command interface {
	Execute(s *State) (Outcome, error)
}

// Execute defers to the run loop, which acquires the new store off the
// worker goroutine. In-memory workers swap synchronously.
func (NewSession) Execute(s *State) (Outcome, error) {
	if s.sessions == nil {
		return sessionReady{backend: storage.NewMemBackend(nil)}.Execute(s)
	}
	return NeedsAsync, nil
}

func (c AppendChunk) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, err
	}
	batch, err := s.proc.Process(c.Chunk, c.IsHex, repo)
	if err != nil {
		return Handled, err
	}
	if err := repo.AppendLines(batch.Text, batch.Ends, batch.Filtered); err != nil {
		return Handled, fmt.Errorf("append chunk: %w", err)
	}
	logging.Aggregate(logging.CompWorker, "append_chunk",
		slog.Int("bytes", len(c.Chunk)), slog.Bool("hex", c.IsHex))
	if !c.IsHex {
		s.updateActive(batch.Active)
	}
	return Handled, nil
}

func (c AppendLog) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, err
	}
	batch := s.proc.FormatLocal(c.Text, repo)
	if err := repo.AppendLines(batch.Text, batch.Ends, batch.Filtered); err != nil {
		return Handled, fmt.Errorf("append log: %w", err)
	}
	return Handled, nil
}

func (c SetLineEnding) Execute(s *State) (Outcome, error) {
	s.proc.SetLineEnding(c.Mode)
	return Handled, nil
}

func (c SetTimestampState) Execute(s *State) (Outcome, error) {
	s.proc.SetTimestamps(c.Enabled)
	return Handled, nil
}

func (c RequestWindow) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, err
	}
	lines, err := repo.Window(c.StartLine, c.Count)
	if err != nil {
		return Handled, err
	}
	s.emit(LogWindow{StartLine: c.StartLine, Client: c.Client, Lines: lines})
	return Handled, nil
}

func (Clear) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, err
	}
	if err := repo.Clear(); err != nil {
		return Handled, fmt.Errorf("clear: %w", err)
	}
	s.resetLog()
	s.pushCount()
	return Handled, nil
}

func (c SearchLogs) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, err
	}
	job, err := s.search.Start(s.w.ctx, repo, logindex.FilterOptions{
		Query:         c.Query,
		CaseSensitive: c.MatchCase,
		Regex:         c.UseRegex,
		Invert:        c.Invert,
	})
	if err != nil {
		return Handled, err
	}
	if job.Done() {
		s.pushCount()
		return Handled, nil
	}
	return searchStep{job: job}.Execute(s)
}

func (c ExportLogs) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, err
	}
	size, err := repo.Size()
	if err != nil {
		return Handled, err
	}
	exp := export.New(routedReader{w: s.w, epoch: s.epoch}, size, export.Options{
		ChunkSize:         s.w.cfg.ExportChunkSize,
		IncludeTimestamps: c.IncludeTimestamp,
	})
	s.emit(ExportReady{Export: exp, Session: s.session})
	return Handled, nil
}

// searchStep scans one batch and yields before the next.
type searchStep struct {
	job *search.Job
}

func (c searchStep) Execute(s *State) (Outcome, error) {
	repo, err := s.Repo()
	if err != nil {
		return Handled, nil
	}
	done, err := c.job.Step(repo)
	switch {
	case errors.Is(err, search.ErrStale):
		return Handled, nil
	case err != nil:
		return Handled, fmt.Errorf("search: %w", err)
	case done:
		s.pushCount()
	default:
		s.after(s.w.cfg.SearchYield, c)
	}
	return Handled, nil
}

// sessionReady completes a NewSession once the new store is open.
type sessionReady struct {
	backend storage.Backend
	err     error
}

func (c sessionReady) Execute(s *State) (Outcome, error) {
	if c.err != nil {
		return Handled, fmt.Errorf("new session: %w", c.err)
	}

	name := ""
	if fb, ok := c.backend.(*storage.FileBackend); ok {
		name = filepath.Base(fb.Path())
	}

	if s.repo == nil {
		repo, err := repository.Open(c.backend, s.w.cfg.ReadBufferSize)
		if err != nil {
			_ = c.backend.Close()
			return Handled, fmt.Errorf("new session: %w", err)
		}
		s.repo = repo
	} else {
		prev, err := s.repo.Reset(c.backend)
		if prev != nil {
			if cerr := prev.Close(); cerr != nil {
				workerLog.Warn("session_close_failed", slog.String("error", cerr.Error()))
			}
		}
		if err != nil {
			return Handled, fmt.Errorf("new session: %w", err)
		}
	}

	old := s.session
	s.session = name
	s.resetLog()
	if old != "" && s.sessions != nil {
		if err := s.sessions.Remove(old); err != nil {
			workerLog.Warn("session_remove_failed", slog.String("file", old), slog.String("error", err.Error()))
		} else {
			s.w.notifyRemoved(old)
		}
	}
	if name != "" && s.sessions != nil {
		s.w.notifyOpened(name, filepath.Join(s.sessions.Dir(), name))
	}
	workerLog.Info("session_rotated", slog.String("file", name), slog.String("previous", old))

	s.emit(TotalLines{N: 0})
	s.w.markPushed(s.repo.Count())
	return Handled, nil
}

// exportRead serves one export chunk from the worker goroutine, which is
// the only owner of the store.
type exportRead struct {
	epoch uint64
	off   uint64
	n     int
	reply chan<- readResult
}

type readResult struct {
	data []byte
	err  error
}

func (c exportRead) Execute(s *State) (Outcome, error) {
	c.reply <- c.read(s)
	return Handled, nil
}

func (c exportRead) read(s *State) readResult {
	repo, err := s.Repo()
	if err != nil {
		return readResult{err: err}
	}
	if c.epoch != s.epoch {
		return readResult{err: export.ErrTruncated}
	}
	size, err := repo.Size()
	if err != nil {
		return readResult{err: err}
	}
	if c.off+uint64(c.n) > size {
		return readResult{err: export.ErrTruncated}
	}
	data, err := repo.ReadRange(c.off, c.off+uint64(c.n))
	return readResult{data: data, err: err}
}

// routedReader sends export reads through the worker inbox.
type routedReader struct {
	w     *Worker
	epoch uint64
}

func (r routedReader) ReadChunk(ctx context.Context, off uint64, buf []byte) (int, error) {
	reply := make(chan readResult, 1)
	if err := r.w.post(ctx, exportRead{epoch: r.epoch, off: off, n: len(buf), reply: reply}); err != nil {
		return 0, err
	}
	select {
	case res := <-reply:
		if res.err != nil {
			return 0, res.err
		}
		return copy(buf, res.data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.w.done:
		return 0, ErrClosed
	}
}
