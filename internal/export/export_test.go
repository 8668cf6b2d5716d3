package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

const sample = "[10:00:00.000] boot\n" +
	"[10:00:00.125] ready\n" +
	"[TX] [10:00:01.000] AT\n" +
	"[10:00:02.500] \n" +
	"plain line\n"

const sampleStripped = "boot\nready\n[TX] AT\n\nplain line\n"

func collect(t *testing.T, e *Export) ([]byte, int) {
	t.Helper()
	var out bytes.Buffer
	chunks := 0
	for chunk, err := range e.Stream(context.Background()) {
		require.NoError(t, err)
		out.Write(chunk)
		chunks++
	}
	return out.Bytes(), chunks
}

func TestRawExportIsByteExactForAnyChunkSize(t *testing.T) {
	mem := storage.NewMemBackend([]byte(sample))
	for _, size := range []int{1, 3, 7, 16, 64, DefaultChunkSize} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			e := New(FromBackend(mem), uint64(len(sample)), Options{ChunkSize: size, IncludeTimestamps: true})
			got, chunks := collect(t, e)
			assert.Equal(t, sample, string(got))
			assert.Equal(t, (len(sample)+size-1)/size, chunks)
		})
	}
}

func TestStrippedExportAnyChunkSize(t *testing.T) {
	mem := storage.NewMemBackend([]byte(sample))
	for _, size := range []int{1, 5, 14, 15, 16, 1000} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			e := New(FromBackend(mem), uint64(len(sample)), Options{ChunkSize: size})
			got, _ := collect(t, e)
			assert.Equal(t, sampleStripped, string(got))
		})
	}
}

func TestExportExcludesBytesAfterSnapshot(t *testing.T) {
	mem := storage.NewMemBackend([]byte("a\n"))
	e := New(FromBackend(mem), 2, Options{IncludeTimestamps: true})
	_, err := mem.WriteAt(2, []byte("b\n"))
	require.NoError(t, err)

	got, _ := collect(t, e)
	assert.Equal(t, "a\n", string(got))
}

func TestExportTruncatedMidStream(t *testing.T) {
	mem := storage.NewMemBackend([]byte(strings.Repeat("x\n", 10)))
	e := New(FromBackend(mem), 20, Options{ChunkSize: 4, IncludeTimestamps: true})

	var gotErr error
	reads := 0
	for _, err := range e.Stream(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
		reads++
		if reads == 2 {
			require.NoError(t, mem.Truncate(0))
		}
	}
	assert.Equal(t, 2, reads)
	assert.ErrorIs(t, gotErr, ErrTruncated)
}

func TestExportSinglePass(t *testing.T) {
	mem := storage.NewMemBackend([]byte("a\n"))
	e := New(FromBackend(mem), 2, Options{})
	collect(t, e)

	for _, err := range e.Stream(context.Background()) {
		assert.ErrorIs(t, err, ErrConsumed)
	}
}

func TestExportEarlyBreak(t *testing.T) {
	mem := storage.NewMemBackend([]byte(strings.Repeat("y", 100)))
	e := New(FromBackend(mem), 100, Options{ChunkSize: 10, IncludeTimestamps: true})
	n := 0
	for range e.Stream(context.Background()) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestExportContextCancelled(t *testing.T) {
	mem := storage.NewMemBackend([]byte("a\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(FromBackend(mem), 2, Options{})
	for _, err := range e.Stream(ctx) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

type failingReader struct{}

func (failingReader) ReadChunk(context.Context, uint64, []byte) (int, error) {
	return 0, fmt.Errorf("%w: gone", storage.ErrStorage)
}

func TestExportWriteToPropagatesErrors(t *testing.T) {
	e := New(failingReader{}, 10, Options{IncludeTimestamps: true})
	var buf bytes.Buffer
	_, err := e.WriteTo(context.Background(), &buf)
	assert.True(t, errors.Is(err, storage.ErrStorage))
}

func TestExportWriteTo(t *testing.T) {
	mem := storage.NewMemBackend([]byte(sample))
	e := New(FromBackend(mem), uint64(len(sample)), Options{ChunkSize: 8})
	var buf bytes.Buffer
	n, err := e.WriteTo(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleStripped)), n)
	assert.Equal(t, sampleStripped, buf.String())
}

func TestExportEmptyLog(t *testing.T) {
	e := New(FromBackend(storage.NewMemBackend(nil)), 0, Options{IncludeTimestamps: true})
	got, chunks := collect(t, e)
	assert.Empty(t, got)
	assert.Zero(t, chunks)
}
