package logindex

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern is returned when a regex query does not compile.
var ErrInvalidPattern = errors.New("invalid search pattern")

// FilterOptions describes a search request.
type FilterOptions struct {
	Query         string
	CaseSensitive bool
	Regex         bool
	Invert        bool
}

// ActiveFilter is a compiled filter.
type ActiveFilter struct {
	Query         string
	LowerQuery    string
	CaseSensitive bool
	Regex         *regexp.Regexp
	Invert        bool
}

// NewFilter compiles opts. A blank query returns nil, meaning no filtering.
func NewFilter(opts FilterOptions) (*ActiveFilter, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}
	f := &ActiveFilter{
		Query:         opts.Query,
		LowerQuery:    strings.ToLower(opts.Query),
		CaseSensitive: opts.CaseSensitive,
		Invert:        opts.Invert,
	}
	if opts.Regex {
		pattern := opts.Query
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
		}
		f.Regex = re
	}
	return f, nil
}

// Matches tests one line of text.
func (f *ActiveFilter) Matches(text string) bool {
	var hit bool
	switch {
	case f.Regex != nil:
		hit = f.Regex.MatchString(text)
	case f.CaseSensitive:
		hit = strings.Contains(text, f.Query)
	default:
		hit = strings.Contains(strings.ToLower(text), f.LowerQuery)
	}
	return hit != f.Invert
}
