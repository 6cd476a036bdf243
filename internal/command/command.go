// Package command defines the tagged Command union the executor
// applies (spec §4.6, serialization rules in spec §6): an envelope
// carrying a type discriminator and a type-specific payload, so a
// replicated log entry is just one self-describing JSON value.
//
// Grounded on the teacher's internal/rpc/protocol.go: an Operation
// string constant + envelope{Operation, Args json.RawMessage} pairing,
// generalized here to Type + Payload, with one *Payload struct per
// command type instead of per-RPC-operation.
package command

import (
	"encoding/json"
	"time"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
)

// Type discriminates the Command variants of spec §4.6.
type Type string

const (
	TypeCreateProject                Type = "CREATE_PROJECT"
	TypeRemoveProject                Type = "REMOVE_PROJECT"
	TypeUnremoveProject              Type = "UNREMOVE_PROJECT"
	TypePurgeProject                 Type = "PURGE_PROJECT"
	TypeCreateRepository             Type = "CREATE_REPOSITORY"
	TypeRemoveRepository             Type = "REMOVE_REPOSITORY"
	TypeUnremoveRepository           Type = "UNREMOVE_REPOSITORY"
	TypePurgeRepository              Type = "PURGE_REPOSITORY"
	TypePush                         Type = "PUSH"
	TypeCreateSession                Type = "CREATE_SESSION"
	TypeRemoveSession                Type = "REMOVE_SESSION"
	TypeUpdateServerStatus           Type = "UPDATE_SERVER_STATUS"
	TypeMigrateToEncryptedRepository Type = "MIGRATE_TO_ENCRYPTED_REPOSITORY"
	TypeForcePush                    Type = "FORCE_PUSH"
)

// Command is the envelope every mutating operation is wrapped in
// before it reaches the executor (spec §6: "serializable as JSON with
// a discriminator field `type` and timestamp/author metadata").
type Command struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Author    string          `json:"author,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// ForceBypass is set when this command is wrapped by ForcePush
	// (spec §4.6: "wraps any of the above, bypasses read-only mode").
	// It is carried as a flag rather than nesting the whole command a
	// second time, since every other field already describes the
	// wrapped operation.
	ForceBypass bool `json:"force_bypass,omitempty"`
}

// Normalize applies spec §6's backward-compatibility defaulting:
// missing timestamp/author default to "now"/SYSTEM.
func (c *Command) Normalize(now time.Time) {
	if c.Timestamp == 0 {
		c.Timestamp = now.Unix()
	}
	if c.Author == "" {
		c.Author = "SYSTEM"
	}
}

// CreateProjectPayload is the payload for TypeCreateProject.
type CreateProjectPayload struct {
	Name string `json:"name"`
}

// RemoveProjectPayload is the payload for TypeRemoveProject,
// TypeUnremoveProject, and TypePurgeProject (all name-only).
type RemoveProjectPayload struct {
	Name string `json:"name"`
}

// CreateRepositoryPayload is the payload for TypeCreateRepository.
type CreateRepositoryPayload struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

// RepositoryNamePayload is the payload for TypeRemoveRepository,
// TypeUnremoveRepository, and TypePurgeRepository.
type RepositoryNamePayload struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

// PushPayload is the payload for TypePush: a commit request against a
// known base revision (spec §4.6 "Push(base, summary, detail, markup,
// changes)").
type PushPayload struct {
	Project string            `json:"project"`
	Repo    string            `json:"repo"`
	Base    int64             `json:"base"`
	Summary string            `json:"summary"`
	Detail  string            `json:"detail,omitempty"`
	Markup  change.MarkupKind `json:"markup,omitempty"`
	Changes []change.Change   `json:"changes"`
}

// SessionPayload is the payload for TypeCreateSession and
// TypeRemoveSession.
type SessionPayload struct {
	SessionID string `json:"session_id"`
	Subject   string `json:"subject,omitempty"`
}

// UpdateServerStatusPayload is the payload for TypeUpdateServerStatus.
type UpdateServerStatusPayload struct {
	Status string `json:"status"`
}

// MigrateToEncryptedRepositoryPayload is the payload for
// TypeMigrateToEncryptedRepository.
type MigrateToEncryptedRepositoryPayload struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

// NewPush builds a Command wrapping a PushPayload, JSON-encoding the
// payload eagerly so callers (the replication log, audit trail) always
// see a fully-formed envelope.
func NewPush(project, repo string, base int64, summary, detail string, markup change.MarkupKind, changes []change.Change, author string, ts int64) (Command, error) {
	payload, err := json.Marshal(PushPayload{
		Project: project, Repo: repo, Base: base,
		Summary: summary, Detail: detail, Markup: markup, Changes: changes,
	})
	if err != nil {
		return Command{}, err
	}
	return Command{Type: TypePush, Timestamp: ts, Author: author, Payload: payload}, nil
}

// WrapForcePush wraps cmd as a ForcePush command: spec §4.6 describes
// ForcePush as wrapping any other command to bypass non-WRITABLE
// rejection, which this models as a flag rather than double-nesting.
func WrapForcePush(cmd Command) Command {
	cmd.ForceBypass = true
	return cmd
}

// Signature is a convenience alias so command payloads that need an
// author identity (rather than just a display string) can reuse the
// object store's Signature shape.
type Signature = objectstore.Signature
