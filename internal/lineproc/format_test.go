package lineproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripTimestamp(t *testing.T) {
	tests := []struct{ in, want string }{
		{"[13:04:05.123] hello", "hello"},
		{"[13:04:05.123] ", ""},
		{"[TX] [13:04:05.123] AT", "[TX] AT"},
		{"[TX] AT", "[TX] AT"},
		{"no prefix", "no prefix"},
		{"[13:04:05.12] short", "[13:04:05.12] short"},
		{"[aa:bb:cc.ddd] text", "[aa:bb:cc.ddd] text"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, string(StripTimestamp([]byte(tc.in))), tc.in)
	}
}

func TestTimestampLen(t *testing.T) {
	assert.Equal(t, 15, TimestampLen)
	assert.Len(t, fixedNow.Format(TimestampLayout), TimestampLen)
}

func TestHexPairs(t *testing.T) {
	assert.Equal(t, "48 49 0A", HexPairs([]byte("HI\n")))
	assert.Equal(t, "00 FF", HexPairs([]byte{0, 255}))
	assert.Equal(t, "", HexPairs(nil))
}

func TestSplitUTF8(t *testing.T) {
	assert.Equal(t, []string{""}, SplitUTF8("", 4))
	assert.Equal(t, []string{"abcd"}, SplitUTF8("abcd", 4))
	assert.Equal(t, []string{"abcd", "ef"}, SplitUTF8("abcdef", 4))
	// A rune wider than the limit forms its own piece.
	assert.Equal(t, []string{"€", "€"}, SplitUTF8("€€", 2))
}

func TestFormatLineLimit(t *testing.T) {
	assert.Equal(t, 256, FormatText.LineLimit(256))
	assert.Equal(t, 768, FormatHex.LineLimit(256))
	assert.Equal(t, "hex", FormatHex.String())
}
