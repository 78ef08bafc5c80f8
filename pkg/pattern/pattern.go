// Package pattern implements the path and user-agent patterns shared by the
// botmd filters: glob-style strings and compiled regular expressions, plus the
// allow/disallow rule set that combines them.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptyPattern is returned when a pattern string is blank.
var ErrEmptyPattern = errors.New("pattern must not be empty")

const multiSegmentPlaceholder = "\x00MULTI\x00"

// Pattern is either a glob-style string or a regular expression.
// The zero value never matches.
type Pattern struct {
	raw  string
	re   *regexp.Regexp
	glob *regexp.Regexp
}

// Glob builds a string pattern. Wildcards are compiled once here.
func Glob(s string) Pattern {
	p := Pattern{raw: s}
	if strings.Contains(s, "*") {
		p.glob = compileGlob(s)
	}
	return p
}

// Regexp wraps an already compiled expression.
func Regexp(re *regexp.Regexp) Pattern {
	if re == nil {
		return Pattern{}
	}
	return Pattern{raw: re.String(), re: re}
}

// MustRegexp compiles expr and panics on failure. Intended for package-level catalogs.
func MustRegexp(expr string) Pattern {
	return Regexp(regexp.MustCompile(expr))
}

// RegexpPrefix marks a configuration string as a regular expression.
const RegexpPrefix = "regex:"

// Parse turns a configuration string into a Pattern. Strings starting with
// "regex:" compile to regular expressions (use "(?i)" for case-insensitive
// matching); anything else is a glob.
func Parse(s string) (Pattern, error) {
	if strings.TrimSpace(s) == "" {
		return Pattern{}, ErrEmptyPattern
	}
	expr, ok := strings.CutPrefix(s, RegexpPrefix)
	if !ok {
		return Glob(s), nil
	}
	if strings.TrimSpace(expr) == "" {
		return Pattern{}, ErrEmptyPattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %q: %w", s, err)
	}
	return Regexp(re), nil
}

// ParseAll parses every entry, stopping at the first failure.
func ParseAll(values []string) ([]Pattern, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]Pattern, 0, len(values))
	for _, v := range values {
		p, err := Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// compileGlob escapes the literal text, then expands "**" to any characters
// and a lone "*" to exactly one path segment. The placeholder pass keeps "**"
// from being consumed as two single-segment wildcards.
func compileGlob(s string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(s)
	quoted = strings.ReplaceAll(quoted, `\*\*`, multiSegmentPlaceholder)
	quoted = strings.ReplaceAll(quoted, `\*`, `[^/]+`)
	quoted = strings.ReplaceAll(quoted, multiSegmentPlaceholder, `.*`)
	return regexp.MustCompile("^" + quoted + "$")
}

// String returns the source text of the pattern.
func (p Pattern) String() string {
	return p.raw
}

// IsZero reports whether the pattern is empty.
func (p Pattern) IsZero() bool {
	return p.raw == "" && p.re == nil
}

// IsRegexp reports whether the pattern is a regular expression.
func (p Pattern) IsRegexp() bool {
	return p.re != nil
}

// Regexp returns the compiled expression for regex patterns, nil otherwise.
func (p Pattern) Regexp() *regexp.Regexp {
	return p.re
}

// Match reports whether candidate matches p using path semantics.
func Match(candidate string, p Pattern) bool {
	if candidate == "" || p.IsZero() {
		return false
	}
	if p.re != nil {
		return p.re.MatchString(candidate)
	}
	if p.raw == candidate {
		return true
	}
	if prefix, ok := strings.CutSuffix(p.raw, "/**"); ok {
		return candidate == prefix || strings.HasPrefix(candidate, prefix+"/")
	}
	if prefix, ok := strings.CutSuffix(p.raw, "/*"); ok {
		rest, found := strings.CutPrefix(candidate, prefix+"/")
		if !found {
			return false
		}
		return !strings.Contains(rest, "/")
	}
	if p.glob != nil {
		return p.glob.MatchString(candidate)
	}
	return false
}

// MatchAny reports whether any pattern matches candidate.
func MatchAny(candidate string, patterns []Pattern) bool {
	return matchAnyWith(candidate, patterns, Match)
}

func matchAnyWith(candidate string, patterns []Pattern, match MatchFunc) bool {
	for _, p := range patterns {
		if match(candidate, p) {
			return true
		}
	}
	return false
}
