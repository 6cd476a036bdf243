package executor

import (
	"encoding/json"

	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/repository"
)

func decodePayload(cmd command.Command, out any) error {
	if err := json.Unmarshal(cmd.Payload, out); err != nil {
		return dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "decode %s payload", cmd.Type)
	}
	return nil
}

// authorOf builds the commit/catalog Signature spec §6 expects from a
// command's author string: Central Dogma's wire format carries a
// single display string, not a (name, email) pair, so email is left
// empty — the object store's Signature already tolerates that (spec §3
// doesn't require a non-empty email, only non-empty name for commits
// other than the initial one).
func authorOf(cmd command.Command) objectstore.Signature {
	return objectstore.Signature{Name: cmd.Author, When: cmd.Timestamp}
}

func repoCommitOptions() repository.CommitOptions {
	return repository.CommitOptions{}
}
