package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// readRecords parses every JSON line in the file at path.
func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var r map[string]any
		if json.Unmarshal(sc.Bytes(), &r) == nil {
			out = append(out, r)
		}
	}
	return out
}

func findMsg(records []map[string]any, msg string) map[string]any {
	for _, r := range records {
		if r["msg"] == msg {
			return r
		}
	}
	return nil
}

// initFileLogging points the global logger at a fresh temp dir.
func initFileLogging(t *testing.T, cfg Config) string {
	t.Helper()
	Shutdown()
	cfg.LogDir = t.TempDir()
	Init(cfg)
	t.Cleanup(Shutdown)
	return filepath.Join(cfg.LogDir, LogFileName)
}
