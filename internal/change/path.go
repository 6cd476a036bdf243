package change

import (
	"strings"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// ValidatePath enforces the file-path grammar from spec §6:
//
//	/ (segment /)* segment
//	segment = [A-Za-z0-9_.-]+ excluding exactly "." and ".."
//
// Paths must start with "/", contain no ".."/"." components, no
// consecutive "/", and no backslashes or control characters.
func ValidatePath(path string) error {
	if path == "" || path[0] != '/' {
		return dogerrors.New(dogerrors.CodeInvalidPath, "path %q must start with /", path)
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		return dogerrors.New(dogerrors.CodeInvalidPath, "path %q must not end with /", path)
	}
	if strings.Contains(path, "\\") {
		return dogerrors.New(dogerrors.CodeInvalidPath, "path %q must not contain backslashes", path)
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return dogerrors.New(dogerrors.CodeInvalidPath, "path %q contains a control character", path)
		}
	}
	if path == "/" {
		return nil
	}
	segments := strings.Split(path[1:], "/")
	for _, seg := range segments {
		if seg == "" {
			return dogerrors.New(dogerrors.CodeInvalidPath, "path %q has a consecutive /", path)
		}
		if seg == "." || seg == ".." {
			return dogerrors.New(dogerrors.CodeInvalidPath, "path %q has a %q component", path, seg)
		}
		for _, r := range seg {
			if !isSegmentRune(r) {
				return dogerrors.New(dogerrors.CodeInvalidPath, "path %q has an illegal character %q", path, r)
			}
		}
	}
	return nil
}

func isSegmentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	}
	return false
}

// ValidatePatternPath checks a pattern string rather than a concrete
// file path: it must start with "/" and contain no backslash or control
// character. Segments are not checked against the file-path grammar, so
// "*", "**", "?" and any other printable character are accepted.
func ValidatePatternPath(pattern string) error {
	if pattern == "" || pattern[0] != '/' {
		return dogerrors.New(dogerrors.CodeInvalidPattern, "pattern %q must start with /", pattern)
	}
	if strings.Contains(pattern, "\\") {
		return dogerrors.New(dogerrors.CodeInvalidPattern, "pattern %q must not contain backslashes", pattern)
	}
	for _, r := range pattern {
		if r < 0x20 || r == 0x7f {
			return dogerrors.New(dogerrors.CodeInvalidPattern, "pattern %q contains a control character", pattern)
		}
	}
	return nil
}

// Dir returns the parent directory path of p ("/" for top-level
// entries), assuming p has already been validated.
func Dir(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Base returns the final path segment of p.
func Base(p string) string {
	idx := strings.LastIndexByte(p, '/')
	return p[idx+1:]
}

// IsAncestor reports whether dir is a non-strict directory ancestor of
// path, i.e. path == dir or path is nested under dir.
func IsAncestor(dir, path string) bool {
	if dir == "/" {
		return true
	}
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+"/")
}
