package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONL(t *testing.T) {
	path := initFileLogging(t, Config{})

	Logger().Info("session_opened", "file", "logs_1.txt")

	rec := findMsg(readRecords(t, path), "session_opened")
	require.NotNil(t, rec)
	assert.Equal(t, "logs_1.txt", rec["file"])
}

func TestInitWithoutSinkDiscards(t *testing.T) {
	Shutdown()
	Init(Config{})
	t.Cleanup(Shutdown)

	require.NotNil(t, Logger())
	Logger().Info("nowhere")
	Aggregate(CompWorker, "noop")
}

func TestForComponentResolvesAfterInit(t *testing.T) {
	Shutdown()
	// Created before Init, like package-level loggers.
	cl := ForComponent(CompSearch)

	path := initFileLogging(t, Config{})
	cl.Info("search_started", "generation", 3)

	rec := findMsg(readRecords(t, path), "search_started")
	require.NotNil(t, rec)
	assert.Equal(t, CompSearch, rec["component"])
	assert.EqualValues(t, 3, rec["generation"])
}

func TestForComponentWithAttrs(t *testing.T) {
	path := initFileLogging(t, Config{})

	ForComponent(CompWeb).With("client", "c1").Info("ws_connected")

	rec := findMsg(readRecords(t, path), "ws_connected")
	require.NotNil(t, rec)
	assert.Equal(t, CompWeb, rec["component"])
	assert.Equal(t, "c1", rec["client"])
}

func TestLevelFiltering(t *testing.T) {
	path := initFileLogging(t, Config{Level: "warn"})

	Logger().Info("should_be_filtered")
	Logger().Warn("should_appear")

	records := readRecords(t, path)
	assert.Nil(t, findMsg(records, "should_be_filtered"))
	assert.NotNil(t, findMsg(records, "should_appear"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestTextFormat(t *testing.T) {
	path := initFileLogging(t, Config{Format: "text"})

	Logger().Info("text_format_test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=text_format_test")

	var record map[string]any
	assert.Error(t, json.Unmarshal(data, &record))
}

func TestDumpRingBuffer(t *testing.T) {
	initFileLogging(t, Config{RingBufferSize: 1024})

	Logger().Info("ring_test_message")

	dumpPath := filepath.Join(t.TempDir(), "crash-dump.jsonl")
	require.NoError(t, DumpRingBuffer(dumpPath))

	data, err := os.ReadFile(dumpPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ring_test_message")
}

func TestDumpRingBufferBeforeInit(t *testing.T) {
	Shutdown()
	assert.NoError(t, DumpRingBuffer(filepath.Join(t.TempDir(), "x")))
}
