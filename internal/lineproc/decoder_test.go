package lineproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderHoldsPartialSequence(t *testing.T) {
	d, err := NewDecoder("utf-8")
	require.NoError(t, err)

	out, err := d.Decode([]byte{'a', 0xe2, 0x82})
	require.NoError(t, err)
	assert.Equal(t, "a", string(out))
	assert.Equal(t, 2, d.Pending())

	out, err = d.Decode([]byte{0xac, 'b'})
	require.NoError(t, err)
	assert.Equal(t, "€b", string(out))
	assert.Zero(t, d.Pending())
}

func TestDecoderLegacyCharsets(t *testing.T) {
	tests := []struct {
		charset string
		in      []byte
		want    string
	}{
		{"latin1", []byte{0xe9}, "é"},
		{"cp437", []byte{0xc9, 0xcd, 0xbb}, "╔═╗"},
		{"windows-1252", []byte{0x80}, "€"},
		{"Shift_JIS", []byte{0x82, 0xa0}, "あ"},
	}
	for _, tc := range tests {
		t.Run(tc.charset, func(t *testing.T) {
			d, err := NewDecoder(tc.charset)
			require.NoError(t, err)
			out, err := d.Decode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(out))
		})
	}
}

func TestDecoderLargeChunkGrowsBuffer(t *testing.T) {
	d, err := NewDecoder("latin1")
	require.NoError(t, err)
	in := make([]byte, 10000)
	for i := range in {
		in[i] = 0xe9
	}
	out, err := d.Decode(in)
	require.NoError(t, err)
	assert.Len(t, []rune(string(out)), 10000)
}

func TestDecoderReset(t *testing.T) {
	d, err := NewDecoder("")
	require.NoError(t, err)
	_, _ = d.Decode([]byte{0xe2})
	d.Reset()
	assert.Zero(t, d.Pending())
}
