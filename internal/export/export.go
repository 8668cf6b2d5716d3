// Package export streams a snapshot of the session log as fixed-size chunks.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

var (
	// ErrTruncated means the log shrank below the snapshot size mid-export.
	ErrTruncated = errors.New("log truncated during export")
	// ErrConsumed is returned when a stream is iterated a second time.
	ErrConsumed = errors.New("export already consumed")
)

// DefaultChunkSize is the size of each raw chunk.
const DefaultChunkSize = 64 * 1024

// ChunkReader reads bytes of the session log. Implementations return
// ErrTruncated when the log no longer holds the requested range.
type ChunkReader interface {
	ReadChunk(ctx context.Context, off uint64, buf []byte) (int, error)
}

// Options selects the output form.
type Options struct {
	ChunkSize         int
	IncludeTimestamps bool
}

// Export is a single-pass stream over [0, size) of the log.
type Export struct {
	r        ChunkReader
	size     uint64
	opts     Options
	consumed atomic.Bool
}

// New prepares an export of the first size bytes. Bytes appended after the
// snapshot are not included.
func New(r ChunkReader, size uint64, opts Options) *Export {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Export{r: r, size: size, opts: opts}
}

// Size is the snapshot size in bytes.
func (e *Export) Size() uint64 { return e.size }

// IncludeTimestamps reports whether lines keep their timestamp prefix.
func (e *Export) IncludeTimestamps() bool { return e.opts.IncludeTimestamps }

// Stream yields the export chunk by chunk. Raw exports yield exactly Size
// bytes. Stripped exports rebuild each line without its timestamp prefix,
// holding partial lines until their terminator arrives. Iteration stops at
// the first error.
func (e *Export) Stream(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !e.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}
		var carry []byte
		buf := make([]byte, e.opts.ChunkSize)
		for off := uint64(0); off < e.size; {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			n := int(min(uint64(len(buf)), e.size-off))
			got, err := e.r.ReadChunk(ctx, off, buf[:n])
			if err != nil {
				yield(nil, err)
				return
			}
			if got < n {
				yield(nil, fmt.Errorf("%w: short read at %d", ErrTruncated, off+uint64(got)))
				return
			}
			off += uint64(n)

			if e.opts.IncludeTimestamps {
				if !yield(append([]byte(nil), buf[:n]...), nil) {
					return
				}
				continue
			}

			data := append(carry, buf[:n]...)
			out := make([]byte, 0, len(data))
			for {
				i := bytes.IndexByte(data, '\n')
				if i < 0 {
					break
				}
				out = append(out, lineproc.StripTimestamp(data[:i])...)
				out = append(out, '\n')
				data = data[i+1:]
			}
			carry = append([]byte(nil), data...)
			if len(out) > 0 && !yield(out, nil) {
				return
			}
		}
		if len(carry) > 0 {
			yield(lineproc.StripTimestamp(carry), nil)
		}
	}
}

// WriteTo copies the whole stream to w.
func (e *Export) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	var total int64
	for chunk, err := range e.Stream(ctx) {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// FromBackend reads straight from a store the caller owns exclusively,
// such as a session file opened by the CLI.
func FromBackend(b storage.Backend) ChunkReader { return backendReader{b} }

type backendReader struct{ b storage.Backend }

func (r backendReader) ReadChunk(_ context.Context, off uint64, buf []byte) (int, error) {
	return r.b.ReadAt(off, buf)
}
