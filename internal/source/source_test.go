package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

type recordSink struct {
	mu   sync.Mutex
	reqs []worker.Request
	err  error
}

func (s *recordSink) Post(_ context.Context, req worker.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *recordSink) requests() []worker.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.Request(nil), s.reqs...)
}

func (s *recordSink) bytes() []byte {
	var buf bytes.Buffer
	for _, r := range s.requests() {
		if c, ok := r.(worker.AppendChunk); ok {
			buf.Write(c.Chunk)
		}
	}
	return buf.Bytes()
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestForwardCopiesChunks(t *testing.T) {
	sink := &recordSink{}
	r := iotest.OneByteReader(strings.NewReader("abc"))
	n, err := forward(context.Background(), "test", sink, r, 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	reqs := sink.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, worker.AppendChunk{Chunk: []byte("a"), IsHex: true}, reqs[0])
}

func TestForwardStopsOnSinkError(t *testing.T) {
	sink := &recordSink{err: errors.New("closed")}
	_, err := forward(context.Background(), "test", sink, strings.NewReader("abc"), 0, false)
	assert.EqualError(t, err, "closed")
}

func TestForwardReturnsReadErrors(t *testing.T) {
	sink := &recordSink{}
	r := io.MultiReader(strings.NewReader("ok"), iotest.ErrReader(errors.New("device gone")))
	n, err := forward(context.Background(), "test", sink, r, 0, false)
	assert.EqualError(t, err, "device gone")
	assert.Equal(t, int64(2), n)
}

func TestSimChunkShapes(t *testing.T) {
	assert.Equal(t, corruptBytes, simChunk(0.01))
	assert.True(t, strings.HasPrefix(string(simChunk(0.10)), "Error: System overheat at 82.0°C"))
	assert.Equal(t, "Warning: Voltage fluctuation detected: 3.20V\n", string(simChunk(0.20)))
	assert.Equal(t, "Info: Sensor reading: A=50.00, B=25.00, C=5.00\n", string(simChunk(0.5)))
}

func TestSimulatorEmitsCount(t *testing.T) {
	sink := &recordSink{}
	sim := &Simulator{Interval: time.Millisecond, Count: 25, Seed: 7}
	require.NoError(t, sim.Run(context.Background(), sink))

	reqs := sink.requests()
	require.Len(t, reqs, 25)
	for _, r := range reqs {
		c := r.(worker.AppendChunk)
		assert.False(t, c.IsHex)
		if !bytes.Equal(c.Chunk, corruptBytes) {
			assert.True(t, bytes.HasSuffix(c.Chunk, []byte("\n")))
		}
	}

	// Same seed, same output.
	again := &recordSink{}
	require.NoError(t, (&Simulator{Interval: time.Millisecond, Count: 25, Seed: 7}).Run(context.Background(), again))
	assert.Equal(t, sink.bytes(), again.bytes())
}

func TestSimulatorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &recordSink{}
	require.NoError(t, (&Simulator{Interval: time.Hour}).Run(ctx, sink))
	assert.Empty(t, sink.requests())
}

func runFollow(t *testing.T, f *Follow) *recordSink {
	t.Helper()
	sink := &recordSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, sink) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return sink
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, fh.Close())
}

func TestFollowForwardsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	sink := runFollow(t, &Follow{Path: path})
	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	appendFile(t, path, "new\n")

	eventually(t, func() bool { return string(sink.bytes()) == "new\n" }, "appended bytes forwarded")
}

func TestFollowFromStartAndTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	sink := runFollow(t, &Follow{Path: path, FromStart: true})
	eventually(t, func() bool { return string(sink.bytes()) == "one\ntwo\n" }, "existing content forwarded")

	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	eventually(t, func() bool { return string(sink.bytes()) == "one\ntwo\nx\n" }, "truncated file reread")
}

func TestFollowWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.log")
	sink := runFollow(t, &Follow{Path: path})
	time.Sleep(50 * time.Millisecond)

	appendFile(t, path, "hello\n")
	eventually(t, func() bool { return string(sink.bytes()) == "hello\n" }, "created file followed")
}

func requirePTY(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty not supported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecForwardsTerminalOutput(t *testing.T) {
	requirePTY(t)
	sink := &recordSink{}
	e := &Exec{Command: "sh", Args: []string{"-c", "printf 'boot ok\\n'"}, Cols: 100, Rows: 30}
	require.NoError(t, e.Run(context.Background(), sink))
	// The terminal turns \n into \r\n.
	assert.Contains(t, string(sink.bytes()), "boot ok\r\n")
}

func TestExecReportsSize(t *testing.T) {
	requirePTY(t)
	if _, err := exec.LookPath("stty"); err != nil {
		t.Skip("stty not available")
	}
	sink := &recordSink{}
	e := &Exec{Command: "stty", Args: []string{"size"}, Cols: 123, Rows: 45}
	require.NoError(t, e.Run(context.Background(), sink))
	assert.Contains(t, string(sink.bytes()), "45 123")
}

func TestExecSendLoopsBack(t *testing.T) {
	requirePTY(t)
	sink := &recordSink{}
	e := &Exec{Command: "cat", Cols: 80, Rows: 24}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, sink) }()

	eventually(t, func() bool { return e.Send(ctx, sink, "AT", lineproc.EndingLF) == nil }, "send accepted")
	eventually(t, func() bool { return strings.Contains(string(sink.bytes()), "AT") }, "echo received")

	var logged bool
	for _, r := range sink.requests() {
		if l, ok := r.(worker.AppendLog); ok && l.Text == "AT" {
			logged = true
		}
	}
	assert.True(t, logged)

	cancel()
	assert.NoError(t, <-done)
	assert.Error(t, e.Send(context.Background(), sink, "late", lineproc.EndingLF))
}

func TestTerminator(t *testing.T) {
	assert.Equal(t, "", terminator(lineproc.EndingNone))
	assert.Equal(t, "\n", terminator(lineproc.EndingLF))
	assert.Equal(t, "\r", terminator(lineproc.EndingCR))
	assert.Equal(t, "\r\n", terminator(lineproc.EndingCRLF))
}
