package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

// Follow tails a file, like tail -F. Appended bytes are forwarded as they
// land; a truncated file is read again from the start, and a replaced or
// late-created file is picked up when it appears.
type Follow struct {
	Path string
	// FromStart forwards existing content before following.
	FromStart bool
	ChunkSize int
	Hex       bool
}

// Name implements Source.
func (f *Follow) Name() string { return "follow:" + f.Path }

type tail struct {
	src  *Follow
	sink Sink
	file *os.File
	off  int64
	buf  []byte
}

// Run follows the file until ctx is cancelled.
func (f *Follow) Run(ctx context.Context, sink Sink) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so creates and renames of the file are seen.
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.Path), err)
	}

	size := f.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	t := &tail{src: f, sink: sink, buf: make([]byte, size)}
	defer t.close()

	if err := t.open(!f.FromStart); err != nil {
		return err
	}
	if err := t.drain(ctx); err != nil {
		return err
	}

	target := filepath.Clean(f.Path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				t.close()
				if err := t.open(false); err != nil {
					return err
				}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Read what was written before the file went away.
				if err := t.drain(ctx); err != nil {
					return err
				}
				t.close()
				continue
			}
			if err := t.drain(ctx); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sourceLog.Warn("follow_watch_error", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
}

// open opens the file if it exists. atEnd skips existing content.
func (t *tail) open(atEnd bool) error {
	file, err := os.Open(t.src.Path)
	if errors.Is(err, os.ErrNotExist) {
		sourceLog.Debug("follow_waiting", slog.String("path", t.src.Path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", t.src.Path, err)
	}
	t.file, t.off = file, 0
	if atEnd {
		info, err := file.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", t.src.Path, err)
		}
		t.off = info.Size()
	}
	return nil
}

func (t *tail) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

// drain forwards everything between the read offset and the current end.
func (t *tail) drain(ctx context.Context) error {
	if t.file == nil {
		return nil
	}
	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.src.Path, err)
	}
	if info.Size() < t.off {
		sourceLog.Info("follow_truncated", slog.String("path", t.src.Path), slog.Int64("offset", t.off))
		t.off = 0
	}
	for {
		n, err := t.file.ReadAt(t.buf, t.off)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, t.buf[:n])
			if perr := t.sink.Post(ctx, worker.AppendChunk{Chunk: chunk, IsHex: t.src.Hex}); perr != nil {
				return perr
			}
			t.off += int64(n)
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", t.src.Path, err)
		}
	}
}
