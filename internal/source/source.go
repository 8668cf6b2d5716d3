// Package source turns local byte producers into AppendChunk requests.
package source

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

var sourceLog = logging.ForComponent(logging.CompSource)

// DefaultChunkSize is the read size used when a source does not set one.
const DefaultChunkSize = 4096

// Sink accepts requests, normally a *worker.Worker.
type Sink interface {
	Post(ctx context.Context, req worker.Request) error
}

// Source feeds a sink until its input ends or ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// forward copies r into the sink one read at a time. It returns nil at EOF.
func forward(ctx context.Context, name string, sink Sink, r io.Reader, chunkSize int, hex bool) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if perr := sink.Post(ctx, worker.AppendChunk{Chunk: chunk, IsHex: hex}); perr != nil {
				return total, perr
			}
			total += int64(n)
			logging.Aggregate(logging.CompSource, "chunk_forwarded",
				slog.String("source", name), slog.Int("bytes", n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}
