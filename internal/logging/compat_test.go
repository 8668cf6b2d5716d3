package logging

import (
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeWriterParsesCategory(t *testing.T) {
	path := initFileLogging(t, Config{})
	bw := NewBridgeWriter("legacy")

	tests := []struct {
		input    string
		wantComp string
		wantMsg  string
	}{
		{"[WS] upgrade failed\n", CompWeb, "upgrade failed"},
		{"[PTY] child exited\n", CompSource, "child exited"},
		{"[STORE] flush done\n", CompStorage, "flush done"},
		{"[SQLITE] busy\n", CompCatalog, "busy"},
		{"[CUSTOM] thing\n", "custom", "thing"},
		{"plain message without category\n", "legacy", "plain message without category"},
	}
	for _, tc := range tests {
		n, err := bw.Write([]byte(tc.input))
		require.NoError(t, err)
		assert.Equal(t, len(tc.input), n)
	}

	records := readRecords(t, path)
	for _, tc := range tests {
		rec := findMsg(records, tc.wantMsg)
		if assert.NotNil(t, rec, tc.wantMsg) {
			assert.Equal(t, tc.wantComp, rec["component"], tc.wantMsg)
		}
	}
}

func TestBridgeWriterStripsStdlibTimestamp(t *testing.T) {
	path := initFileLogging(t, Config{})

	l := log.New(NewBridgeWriter(CompWeb), "", log.LstdFlags)
	l.Printf("http: TLS handshake error")

	rec := findMsg(readRecords(t, path), "http: TLS handshake error")
	require.NotNil(t, rec)
	assert.Equal(t, CompWeb, rec["component"])
}

func TestBridgeWriterSkipsBlank(t *testing.T) {
	initFileLogging(t, Config{})
	n, err := NewBridgeWriter("x").Write([]byte("   \n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStripLogTimestamp(t *testing.T) {
	assert.Equal(t, "msg", stripLogTimestamp("2024/01/02 15:04:05 msg"))
	assert.Equal(t, "msg", stripLogTimestamp("15:04:05.123456 msg"))
	assert.Equal(t, "msg", stripLogTimestamp("15:04:05 msg"))
	assert.Equal(t, "msg", stripLogTimestamp("msg"))
}
