// Package revision implements the Revision value type from spec §3: a
// signed, non-zero integer where positive values are absolute and
// negative values are relative to HEAD.
package revision

import (
	"fmt"
	"strconv"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// Revision is a signed, non-zero integer labeling a point in a
// repository's history. Construct with New; the zero value is invalid
// and New rejects it.
type Revision int64

// HeadRevision is the canonical spelling of "the latest revision".
const HeadRevision Revision = -1

// New validates and returns a Revision from a raw integer. Zero is
// never a valid revision (spec §3).
func New(n int64) (Revision, error) {
	if n == 0 {
		return 0, dogerrors.Wrap(dogerrors.CodeInvalidRevision, nil, "revision must be non-zero")
	}
	return Revision(n), nil
}

// Parse accepts the textual forms used in command payloads: a bare
// integer ("42", "-1") as well as the literal "head" (case-insensitive)
// as a synonym for -1.
func Parse(s string) (Revision, error) {
	if s == "" {
		return 0, dogerrors.New(dogerrors.CodeInvalidRevision, "empty revision string")
	}
	if lower := toLower(s); lower == "head" {
		return HeadRevision, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dogerrors.Wrap(dogerrors.CodeInvalidRevision, err, "malformed revision %q", s)
	}
	return New(n)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// IsRelative reports whether r is expressed relative to HEAD (i.e.
// negative).
func (r Revision) IsRelative() bool { return r < 0 }

// Int64 returns the raw integer value.
func (r Revision) Int64() int64 { return int64(r) }

func (r Revision) String() string {
	return fmt.Sprintf("%d", int64(r))
}

// Normalize resolves r against the current head (an absolute, positive
// revision number) and returns an absolute Revision >= 1. It fails with
// RevisionNotFound if the resolved absolute value would be <= 0 or >
// head, matching spec §3's invariant that normalize "fails if the
// absolute value would be <= 0 or > current HEAD".
//
// head must itself already be an absolute, positive revision number.
func Normalize(r Revision, head int64) (Revision, error) {
	if head <= 0 {
		return 0, dogerrors.New(dogerrors.CodeRevisionNotFound, "repository has no commits yet")
	}
	var abs int64
	if r.IsRelative() {
		// -1 == head, -2 == head-1, ...
		abs = head + int64(r) + 1
	} else {
		abs = int64(r)
	}
	if abs <= 0 || abs > head {
		return 0, dogerrors.New(dogerrors.CodeRevisionNotFound, "revision %s does not exist (head is %d)", r, head)
	}
	return Revision(abs), nil
}

// Forward returns r advanced by delta revisions, saturating at head
// rather than overflowing past it. r must already be absolute.
func Forward(r Revision, delta int64, head int64) Revision {
	n := int64(r) + delta
	if n > head {
		n = head
	}
	return Revision(n)
}

// Backward returns r moved back by delta revisions, saturating at the
// initial revision (1) rather than going to zero or negative.
func Backward(r Revision, delta int64) Revision {
	n := int64(r) - delta
	if n < 1 {
		n = 1
	}
	return Revision(n)
}

// Range normalizes a (from, to) pair and returns them in ascending
// order, matching the history() contract ("order is ascending from the
// smaller revision to the larger, regardless of arg order").
func Range(from, to Revision, head int64) (lo, hi Revision, err error) {
	nf, err := Normalize(from, head)
	if err != nil {
		return 0, 0, err
	}
	nt, err := Normalize(to, head)
	if err != nil {
		return 0, 0, err
	}
	if nf <= nt {
		return nf, nt, nil
	}
	return nt, nf, nil
}
