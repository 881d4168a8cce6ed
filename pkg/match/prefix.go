package match

import (
	"sort"
	"strings"
)

// isMeta reports whether c opens a glob construct.
func isMeta(c byte) bool {
	return c == '*' || c == '?' || c == '[' || c == '{'
}

// isEscapable reports whether a backslash before c is an escape.
func isEscapable(c byte) bool {
	return isMeta(c) || c == ']' || c == '}' || c == '\\'
}

// NormalizePattern turns unescaped backslashes into slashes so Windows-style
// patterns ("data\2024\**") work, while keeping escapes such as "\*".
func NormalizePattern(pattern string) string {
	if !strings.ContainsRune(pattern, '\\') {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(pattern) && isEscapable(pattern[i+1]) {
			b.WriteByte('\\')
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		b.WriteByte('/')
	}
	return b.String()
}

// DerivePrefix returns the literal key prefix a pattern can only match
// under, truncated to the last complete path segment.
//
//	"data/2024/**/*.shp"   -> "data/2024/"
//	"*.json"               -> ""
//	"exports/roads.zip"    -> "exports/roads.zip"
//	"data/file\*.txt"      -> "data/file*.txt"
func DerivePrefix(pattern string) string {
	pattern = NormalizePattern(pattern)

	var lit strings.Builder
	lastSlash := -1
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) && isEscapable(pattern[i+1]) {
			lit.WriteByte(pattern[i+1])
			i++
			continue
		}
		if isMeta(c) {
			if lastSlash < 0 {
				return ""
			}
			return lit.String()[:lastSlash+1]
		}
		lit.WriteByte(c)
		if c == '/' {
			lastSlash = lit.Len() - 1
		}
	}
	return lit.String()
}

// DerivePrefixes derives a prefix per pattern and drops prefixes covered by
// a shorter one. The result is sorted; [""] means a full listing.
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		d := DerivePrefix(p)
		if d == "" {
			return []string{""}
		}
		prefixes = append(prefixes, d)
	}

	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) < len(prefixes[j]) })
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		covered := false
		for _, kept := range out {
			if strings.HasPrefix(p, kept) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
