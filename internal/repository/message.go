package repository

import (
	"encoding/json"
	"strings"

	"github.com/centraldogma-project/centraldogma/internal/change"
)

// commitMessage is the JSON payload spec §6 requires be embedded in
// every commit's message field, so a history walk can recover the
// revision number without any side-channel state.
type commitMessage struct {
	Summary  string            `json:"summary"`
	Detail   string            `json:"detail"`
	Markup   change.MarkupKind `json:"markup"`
	Revision int64             `json:"revision"`
}

func encodeCommitMessage(summary, detail string, markup change.MarkupKind, revision int64) string {
	raw, _ := json.Marshal(commitMessage{Summary: summary, Detail: detail, Markup: markup, Revision: revision})
	return string(raw)
}

// decodeCommitMessage recovers the structured fields from a commit
// message, falling back to treating the whole message as the summary
// (with an UNKNOWN markup and a caller-supplied revision) for legacy
// repositories whose messages predate the JSON convention.
func decodeCommitMessage(raw string, fallbackRevision int64) commitMessage {
	var m commitMessage
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m.Revision != 0 {
		return m
	}
	firstLine := raw
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		firstLine = raw[:idx]
	}
	return commitMessage{Summary: firstLine, Markup: change.MarkupUnknown, Revision: fallbackRevision}
}
