package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
)

var storageLog = logging.ForComponent(logging.CompStorage)

const (
	sessionPrefix = "logs_"
	sessionSuffix = ".txt"
	lockFileName  = ".lock"
)

// SessionFile describes one session log on disk.
type SessionFile struct {
	Name    string
	Path    string
	Created time.Time
	Size    int64
}

// Sessions manages the directory of session files. At most one process may
// own a directory at a time.
type Sessions struct {
	dir  string
	lock *flock.Flock
	now  func() time.Time
}

// OpenSessions creates dir if needed and takes the directory lock.
func OpenSessions(dir string) (*Sessions, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create session dir: %w", ErrStorage, err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %w", ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &Sessions{dir: dir, lock: lock, now: time.Now}, nil
}

// Dir returns the session directory.
func (s *Sessions) Dir() string { return s.dir }

// SetClock overrides the clock used to name new session files.
func (s *Sessions) SetClock(now func() time.Time) { s.now = now }

// Close releases the directory lock.
func (s *Sessions) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("%w: release lock: %w", ErrStorage, err)
	}
	return nil
}

// List returns the session files in the directory, newest first.
func (s *Sessions) List() ([]SessionFile, error) { return ListDir(s.dir) }

// ListDir lists the session files in dir without taking the lock, so it
// works while another process owns the directory.
func ListDir(dir string) ([]SessionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", ErrStorage, err)
	}
	var out []SessionFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		created, ok := ParseSessionName(e.Name())
		if !ok {
			continue
		}
		sf := SessionFile{Name: e.Name(), Path: filepath.Join(dir, e.Name()), Created: created}
		if info, err := e.Info(); err == nil {
			sf.Size = info.Size()
		}
		out = append(out, sf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// Recover opens the newest session file and deletes every older one. If no
// session exists, or the newest cannot be opened, a fresh session is created
// and all previous files are removed.
func (s *Sessions) Recover(ctx context.Context) (*FileBackend, []string, error) {
	files, err := s.List()
	if err != nil {
		return nil, nil, err
	}

	var backend *FileBackend
	stale := files
	if len(files) > 0 {
		backend, err = OpenFile(files[0].Path)
		if err == nil {
			stale = files[1:]
		} else {
			storageLog.Warn("session_recover_failed",
				slog.String("file", files[0].Name), slog.String("error", err.Error()))
		}
	}
	if backend == nil {
		backend, err = s.Create(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	var removed []string
	for _, f := range stale {
		if err := s.Remove(f.Name); err != nil {
			storageLog.Warn("session_cleanup_failed",
				slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		removed = append(removed, f.Name)
	}
	storageLog.Info("session_recovered",
		slog.String("file", filepath.Base(backend.Path())), slog.Int("removed", len(removed)))
	return backend, removed, nil
}

// Create makes a new, empty session file named after the current time.
// Name collisions within the same millisecond advance the timestamp.
func (s *Sessions) Create(ctx context.Context) (*FileBackend, error) {
	ms := s.now().UnixMilli()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dir, sessionName(ms))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			ms++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: create session: %w", ErrStorage, err)
		}
		storageLog.Info("session_created", slog.String("file", filepath.Base(path)))
		return &FileBackend{f: f, path: path}, nil
	}
}

// Remove deletes a session file by name. A missing file is not an error.
func (s *Sessions) Remove(name string) error {
	if _, ok := ParseSessionName(name); !ok {
		return fmt.Errorf("%w: not a session file: %q", ErrStorage, name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrStorage, name, err)
	}
	return nil
}

func sessionName(ms int64) string {
	return sessionPrefix + strconv.FormatInt(ms, 10) + sessionSuffix
}

// ParseSessionName extracts the creation time from a logs_<ms>.txt name.
func ParseSessionName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, sessionPrefix) || !strings.HasSuffix(name, sessionSuffix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, sessionPrefix), sessionSuffix), 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
