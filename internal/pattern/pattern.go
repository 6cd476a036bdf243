// Package pattern implements the path-pattern matcher from spec §4.3:
// "*" matches a single path segment, "**" matches any number (including
// zero) of segments, "?" matches one character, "/" is the separator.
//
// Grounded on github.com/gobwas/glob (the library other pack repos,
// e.g. kedacore/keda, use for this exact kind of path-segment
// globbing), compiled with '/' as the path separator so "*"/"?" never
// cross a segment boundary while "**" does.
package pattern

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// Matcher is a compiled path pattern.
type Matcher struct {
	raw string
	g   glob.Glob
}

// Compile validates and compiles a pattern string. Patterns must begin
// with "/" (spec §4.3).
func Compile(raw string) (*Matcher, error) {
	if err := change.ValidatePatternPath(raw); err != nil {
		return nil, err
	}
	// A bare "/**/" in gobwas/glob needs at least one character between
	// the slashes, so it is widened to also match a single "/" (zero
	// segments): "/a/**/b.json" then matches "/a/b.json".
	g, err := glob.Compile(strings.ReplaceAll(raw, "/**/", "{/,/**/}"), '/')
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeInvalidPattern, err, "malformed pattern %q", raw)
	}
	return &Matcher{raw: raw, g: g}, nil
}

// MustCompile is Compile but panics on error; for patterns fixed at
// call sites (e.g. "/**").
func MustCompile(raw string) *Matcher {
	m, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether path (a validated concrete file or directory
// path) matches the pattern. Matching is case-sensitive.
func (m *Matcher) Match(path string) bool {
	return m.g.Match(path)
}

// String returns the original pattern text.
func (m *Matcher) String() string { return m.raw }

