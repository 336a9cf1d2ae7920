package catalog

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when a title pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid title pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// TitleFilter selects maps by title using doublestar globs.
//
// A title passes if it matches at least one include (or no includes are set)
// and no exclude. TitleFilter is safe for concurrent use.
type TitleFilter struct {
	includes []string
	excludes []string
}

// NewTitleFilter compiles includes and excludes.
func NewTitleFilter(includes, excludes []string) (*TitleFilter, error) {
	for _, p := range append(append([]string(nil), includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}
	return &TitleFilter{
		includes: append([]string(nil), includes...),
		excludes: append([]string(nil), excludes...),
	}, nil
}

// Match reports whether title passes the filter. A nil filter passes all.
func (f *TitleFilter) Match(title string) bool {
	if f == nil {
		return true
	}
	if len(f.includes) > 0 && !anyMatch(f.includes, title) {
		return false
	}
	return !anyMatch(f.excludes, title)
}

func anyMatch(patterns []string, s string) bool {
	for _, p := range patterns {
		// Patterns were validated in NewTitleFilter.
		if ok, _ := doublestar.Match(p, s); ok {
			return true
		}
	}
	return false
}
