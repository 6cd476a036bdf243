// Package change defines the data model types shared by the commit
// engine: EntryType, Entry, ChangeKind and Change. These are tagged
// unions (spec §9 "Tagged variants instead of hierarchy") rather than a
// class hierarchy, mirroring the teacher's flat *Args-per-operation
// shape in internal/rpc/protocol.go.
package change

import (
	"encoding/json"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// EntryType discriminates the three kinds of tree entry (spec §3).
type EntryType string

const (
	EntryJSON      EntryType = "JSON"
	EntryText      EntryType = "TEXT"
	EntryDirectory EntryType = "DIRECTORY"
)

// Entry is an immutable (path, type, content) tuple. Content is a
// json.RawMessage for JSON entries, a UTF-8 string for TEXT entries
// (wrapped in a JSON string so Entry can be marshaled uniformly), and
// nil for DIRECTORY entries.
type Entry struct {
	Path    string          `json:"path"`
	Type    EntryType       `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// TextContent decodes a TEXT entry's content back into a Go string.
func (e Entry) TextContent() (string, error) {
	if e.Type != EntryText {
		return "", dogerrors.New(dogerrors.CodeInvalidArgument, "entry %q is not TEXT", e.Path)
	}
	var s string
	if err := json.Unmarshal(e.Content, &s); err != nil {
		return "", dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "entry %q has malformed text content", e.Path)
	}
	return s, nil
}

// NewJSONEntry builds a JSON entry, validating that content is
// well-formed JSON.
func NewJSONEntry(path string, content json.RawMessage) (Entry, error) {
	if err := ValidatePath(path); err != nil {
		return Entry{}, err
	}
	if !json.Valid(content) {
		return Entry{}, dogerrors.New(dogerrors.CodeInvalidArgument, "entry %q content is not valid JSON", path)
	}
	return Entry{Path: path, Type: EntryJSON, Content: content}, nil
}

// NewTextEntry builds a TEXT entry from a Go string.
func NewTextEntry(path, text string) (Entry, error) {
	if err := ValidatePath(path); err != nil {
		return Entry{}, err
	}
	raw, err := json.Marshal(text)
	if err != nil {
		return Entry{}, dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "failed to encode text entry %q", path)
	}
	return Entry{Path: path, Type: EntryText, Content: raw}, nil
}

// NewDirectoryEntry builds a directory entry.
func NewDirectoryEntry(path string) (Entry, error) {
	if err := ValidatePath(path); err != nil {
		return Entry{}, err
	}
	return Entry{Path: path, Type: EntryDirectory}, nil
}

// Kind discriminates the six planned-mutation variants from spec §3.
type Kind string

const (
	KindUpsertJSON      Kind = "UPSERT_JSON"
	KindUpsertText      Kind = "UPSERT_TEXT"
	KindApplyJSONPatch  Kind = "APPLY_JSON_PATCH"
	KindApplyTextPatch  Kind = "APPLY_TEXT_PATCH"
	KindRename          Kind = "RENAME"
	KindRemove          Kind = "REMOVE"
)

// Change is a planned mutation: a Kind plus a Path plus a
// Kind-dependent Content payload (the target path for RENAME, the
// patch body for the APPLY_* kinds, the new value for the UPSERT_*
// kinds, unused for REMOVE).
type Change struct {
	Kind    Kind            `json:"kind"`
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content,omitempty"`
}

// TargetPath returns the rename target for a KindRename change.
func (c Change) TargetPath() (string, error) {
	if c.Kind != KindRename {
		return "", dogerrors.New(dogerrors.CodeInvalidArgument, "change is not a RENAME")
	}
	var target string
	if err := json.Unmarshal(c.Content, &target); err != nil {
		return "", dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "RENAME change has malformed target path")
	}
	return target, nil
}

// TextContent decodes the Go string payload of an UPSERT_TEXT or
// APPLY_TEXT_PATCH change.
func (c Change) TextContent() (string, error) {
	var s string
	if err := json.Unmarshal(c.Content, &s); err != nil {
		return "", dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "change %q has malformed text content", c.Path)
	}
	return s, nil
}

// Validate checks that the change's Kind is known, that its Path (and a
// RENAME's target) is a valid file path, and that UPSERT_JSON content is
// valid JSON. It does not check a path's extension against the Kind.
func (c Change) Validate() error {
	switch c.Kind {
	case KindUpsertJSON, KindUpsertText, KindApplyJSONPatch, KindApplyTextPatch, KindRemove:
		if err := ValidatePath(c.Path); err != nil {
			return err
		}
	case KindRename:
		if err := ValidatePath(c.Path); err != nil {
			return err
		}
		target, err := c.TargetPath()
		if err != nil {
			return err
		}
		if err := ValidatePath(target); err != nil {
			return err
		}
	default:
		return dogerrors.New(dogerrors.CodeInvalidArgument, "unknown change kind %q", c.Kind)
	}
	switch c.Kind {
	case KindUpsertJSON, KindApplyJSONPatch:
		if c.Kind == KindUpsertJSON && !json.Valid(c.Content) {
			return dogerrors.New(dogerrors.CodeInvalidArgument, "change %q content is not valid JSON", c.Path)
		}
	}
	return nil
}

// MarkupKind discriminates Commit.Markup (spec §3).
type MarkupKind string

const (
	MarkupPlaintext MarkupKind = "PLAINTEXT"
	MarkupMarkdown  MarkupKind = "MARKDOWN"
	MarkupUnknown   MarkupKind = "UNKNOWN"
)
