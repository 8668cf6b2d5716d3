package logindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilterBlankDisables(t *testing.T) {
	for _, q := range []string{"", "   ", "\t"} {
		f, err := NewFilter(FilterOptions{Query: q, Regex: true})
		require.NoError(t, err)
		assert.Nil(t, f)
	}
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name string
		opts FilterOptions
		line string
		want bool
	}{
		{"substring exact hit", FilterOptions{Query: "Critical", CaseSensitive: true}, "Critical: X", true},
		{"substring exact miss on case", FilterOptions{Query: "critical", CaseSensitive: true}, "Critical: X", false},
		{"substring insensitive", FilterOptions{Query: "critical"}, "CRITICAL: X", true},
		{"invert", FilterOptions{Query: "Y", CaseSensitive: true, Invert: true}, "Info: Y", false},
		{"invert keeps non match", FilterOptions{Query: "Y", CaseSensitive: true, Invert: true}, "Critical: X", true},
		{"regex sensitive", FilterOptions{Query: `^Err\d+`, Regex: true, CaseSensitive: true}, "Err42 boom", true},
		{"regex sensitive case miss", FilterOptions{Query: `^err\d+`, Regex: true, CaseSensitive: true}, "Err42 boom", false},
		{"regex insensitive", FilterOptions{Query: `^err\d+`, Regex: true}, "ERR42 boom", true},
		{"regex metachars literal in substring", FilterOptions{Query: "a.c"}, "abc", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFilter(tc.opts)
			require.NoError(t, err)
			require.NotNil(t, f)
			assert.Equal(t, tc.want, f.Matches(tc.line))
		})
	}
}

func TestNewFilterInvalidRegex(t *testing.T) {
	f, err := NewFilter(FilterOptions{Query: "([", Regex: true})
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
