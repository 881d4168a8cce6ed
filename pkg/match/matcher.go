// Package match selects object keys with doublestar include/exclude
// patterns and derives the listing prefixes those patterns need.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Errors returned by New.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with the offending pattern.
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

// Config configures a Matcher.
type Config struct {
	// Includes are patterns a key must match (at least one). Required.
	Includes []string `mapstructure:"includes" yaml:"includes"`

	// Excludes are patterns a key must not match.
	Excludes []string `mapstructure:"excludes" yaml:"excludes"`

	// IncludeHidden admits keys with a segment starting with '.'.
	IncludeHidden bool `mapstructure:"include_hidden" yaml:"include_hidden"`
}

// Matcher evaluates keys against include and exclude patterns. It is safe
// for concurrent use.
type Matcher struct {
	includes      []string
	excludes      []string
	prefixes      []string
	includeHidden bool
}

// New compiles cfg. Backslash separators in patterns are converted to
// slashes; backslash escapes of glob metacharacters are kept.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		prefixes:      DerivePrefixes(includes),
		includeHidden: cfg.IncludeHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		n := NormalizePattern(p)
		if !doublestar.ValidatePattern(n) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, n)
	}
	return out, nil
}

// Match reports whether key is hidden-eligible, matches an include and
// matches no exclude. Keys are compared as-is.
func (m *Matcher) Match(key string) bool {
	if !m.includeHidden && IsHidden(key) {
		return false
	}
	if !anyMatch(m.includes, key) {
		return false
	}
	return !anyMatch(m.excludes, key)
}

func anyMatch(patterns []string, key string) bool {
	for _, p := range patterns {
		// Patterns were validated in New, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

// Prefixes returns the deduplicated listing prefixes. A single "" means a
// full listing is required.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

// HasEmptyPrefix reports whether a full listing is required.
func (m *Matcher) HasEmptyPrefix() bool {
	return len(m.prefixes) == 1 && m.prefixes[0] == ""
}

// IsHidden reports whether any slash-separated segment starts with '.'.
func IsHidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
