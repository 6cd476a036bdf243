// Package audit records every executed Command to an append-only
// JSONL trail (SPEC_FULL §12 "Audit trail for mutating commands"):
// who issued it, what it was, when, and whether it succeeded.
//
// Grounded on the teacher's internal/audit/audit.go wholesale — same
// append-only JSONL-line-per-event shape, same EnsureFile/Append split
// — repurposed from logging LLM/tool interactions to logging executed
// Commands. ID generation is switched from the teacher's
// crypto/rand+hex to google/uuid.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/centraldogma-project/centraldogma/internal/command"
)

// FileName is the audit log file name stored under a server's data
// directory.
const FileName = "audit.jsonl"

// Entry is one append-only audit record of a Command's execution.
type Entry struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Type      command.Type `json:"type"`
	Author    string       `json:"author"`
	Project   string       `json:"project,omitempty"`
	Repo      string       `json:"repo,omitempty"`
	Revision  int64        `json:"revision,omitempty"` // resulting revision, for Push
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
}

func path(dir string) string {
	return filepath.Join(dir, FileName)
}

// EnsureFile creates dir/FileName if it does not exist.
func EnsureFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}
	p := path(dir)
	_, statErr := os.Stat(p)
	if statErr == nil {
		return p, nil
	}
	if !os.IsNotExist(statErr) {
		return "", fmt.Errorf("failed to stat audit log: %w", statErr)
	}
	if err := os.WriteFile(p, []byte{}, 0o644); err != nil {
		return "", fmt.Errorf("failed to create audit log: %w", err)
	}
	return p, nil
}

// Append appends an event to dir/FileName as a single JSON line. This
// is intentionally append-only: callers must not mutate existing lines.
func Append(dir string, e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.Type == "" {
		return "", fmt.Errorf("type is required")
	}

	p, err := EnsureFile(dir)
	if err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush audit log: %w", err)
	}

	return e.ID, nil
}

// RecordCommand appends an Entry built from an executed Command and
// its outcome.
func RecordCommand(dir string, cmd command.Command, project, repo string, revision int64, execErr error) error {
	e := &Entry{
		Type:     cmd.Type,
		Author:   cmd.Author,
		Project:  project,
		Repo:     repo,
		Revision: revision,
		Success:  execErr == nil,
	}
	if execErr != nil {
		e.Error = execErr.Error()
	}
	_, err := Append(dir, e)
	return err
}
