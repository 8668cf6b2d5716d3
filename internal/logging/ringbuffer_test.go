package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferWrites(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"single", 64, []string{"hello"}, "hello"},
		{"exact fill then wrap", 10, []string{"abcdefghij", "12345"}, "fghij12345"},
		{"larger than capacity", 5, []string{"0123456789"}, "56789"},
		{"small writes wrap", 8, []string{"AA", "BB", "CC", "DD", "EE"}, "BBCCDDEE"},
		{"split across end", 6, []string{"abcd", "efgh"}, "cdefgh"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rb := NewRingBuffer(tc.size)
			for _, w := range tc.writes {
				n, err := rb.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tc.want, string(rb.Bytes()))
			assert.Equal(t, len(tc.want), rb.Len())
		})
	}
}

func TestRingBufferReset(t *testing.T) {
	rb := NewRingBuffer(4)
	_, _ = rb.Write([]byte("abcdef"))
	rb.Reset()
	assert.Equal(t, 0, rb.Len())
	assert.Empty(t, rb.Bytes())
}

func TestRingBufferDefaultSize(t *testing.T) {
	rb := NewRingBuffer(0)
	_, _ = rb.Write([]byte("x"))
	assert.Equal(t, "x", string(rb.Bytes()))
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("{\"msg\":\"panic\"}\n"))

	path := filepath.Join(t.TempDir(), "dump.jsonl")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"panic\"}\n", string(data))
}
