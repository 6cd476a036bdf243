package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/command"
)

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		require.NoError(t, json.Unmarshal(line, &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestEnsureFileCreatesEmptyLog(t *testing.T) {
	dir := t.TempDir()
	p, err := EnsureFile(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, FileName), p)

	info, err := os.Stat(p)
	require.NoError(t, err)
	require.Zero(t, info.Size())

	// calling it again on an existing file is a no-op, not an error
	p2, err := EnsureFile(dir)
	require.NoError(t, err)
	require.Equal(t, p, p2)
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	dir := t.TempDir()
	e := &Entry{Type: command.TypePush, Author: "alice", Success: true}
	id, err := Append(dir, e)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, id, e.ID)
	require.False(t, e.CreatedAt.IsZero())

	entries := readLines(t, filepath.Join(dir, FileName))
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)
	require.Equal(t, command.TypePush, entries[0].Type)
	require.True(t, entries[0].Success)
}

func TestAppendRequiresType(t *testing.T) {
	dir := t.TempDir()
	_, err := Append(dir, &Entry{Author: "alice"})
	require.Error(t, err)
}

func TestAppendIsCumulative(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		_, err := Append(dir, &Entry{Type: command.TypePush, Author: "alice"})
		require.NoError(t, err)
	}
	entries := readLines(t, filepath.Join(dir, FileName))
	require.Len(t, entries, 3)
}

func TestRecordCommandSuccessAndFailure(t *testing.T) {
	dir := t.TempDir()
	cmd, err := command.NewPush("proj", "dogma", 3, "summary", "", "", nil, "bob", 1000)
	require.NoError(t, err)

	require.NoError(t, RecordCommand(dir, cmd, "proj", "dogma", 4, nil))
	require.NoError(t, RecordCommand(dir, cmd, "proj", "dogma", 0, errors.New("conflict")))

	entries := readLines(t, filepath.Join(dir, FileName))
	require.Len(t, entries, 2)

	require.True(t, entries[0].Success)
	require.Empty(t, entries[0].Error)
	require.Equal(t, "proj", entries[0].Project)
	require.Equal(t, "dogma", entries[0].Repo)
	require.Equal(t, int64(4), entries[0].Revision)
	require.Equal(t, "bob", entries[0].Author)

	require.False(t, entries[1].Success)
	require.Equal(t, "conflict", entries[1].Error)
}
