package worker

import (
	"context"
	"time"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/repository"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/search"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

// SessionObserver is told about session files as the worker creates and
// deletes them.
type SessionObserver interface {
	SessionOpened(ctx context.Context, name, path string) error
	SessionRemoved(ctx context.Context, name string) error
}

// State is everything a command may touch. It is owned by the run loop and
// handed to one command at a time.
type State struct {
	repo     *repository.Repository // nil until a store is acquired
	proc     *lineproc.Processor
	search   *search.Engine
	sessions *storage.Sessions // nil for in-memory workers
	session  string            // current session file name

	// epoch changes whenever the log is cleared or replaced, so running
	// exports can tell their snapshot is gone.
	epoch uint64

	activeShown bool
	activeText  string

	w *Worker
}

// Repo returns the repository or ErrNoBackend before a store is acquired.
func (s *State) Repo() (*repository.Repository, error) {
	if s.repo == nil {
		return nil, storage.ErrNoBackend
	}
	return s.repo, nil
}

// Session returns the current session file name ("" when in memory).
func (s *State) Session() string { return s.session }

func (s *State) emit(ev Event) { s.w.emit(ev) }

func (s *State) pushCount() {
	s.w.pushCount(true)
}

// after re-enqueues cmd once d has elapsed.
func (s *State) after(d time.Duration, cmd Command) { s.w.after(d, cmd) }

// updateActive emits an ActiveLine event when the active row changed.
func (s *State) updateActive(line *string) {
	switch {
	case line == nil && !s.activeShown:
		return
	case line != nil && s.activeShown && *line == s.activeText:
		return
	}
	if line == nil {
		s.activeShown, s.activeText = false, ""
	} else {
		s.activeShown, s.activeText = true, *line
	}
	s.emit(ActiveLine{Text: line})
}

// resetLog is shared by Clear and session rotation: running searches are
// cancelled, exports invalidated and carried processor state dropped.
func (s *State) resetLog() {
	s.search.Cancel()
	s.proc.Reset()
	s.epoch++
	s.updateActive(nil)
}
