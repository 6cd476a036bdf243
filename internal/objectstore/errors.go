package objectstore

import (
	"errors"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// ErrObjectNotFound is returned by Read* when the requested hash is
// absent from the store (spec §4.1). It is an object-store-internal
// signal: callers (internal/repository) translate it into the
// appropriate domain error (EntryNotFound, RevisionNotFound, ...)
// depending on what was being looked up, rather than it leaking
// straight to clients.
var ErrObjectNotFound = errors.New("objectstore: object not found")

// ErrRefConflict is returned by UpdateRef when the current ref value
// does not match RefUpdate.OldExpected (or the ref already exists when
// OldExpected is nil).
var ErrRefConflict = errors.New("objectstore: ref conflict")

func errInvalidHash(s string) error {
	return dogerrors.New(dogerrors.CodeInvalidArgument, "malformed object hash %q", s)
}

func wrapStorageErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, format, args...)
}
