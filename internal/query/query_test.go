package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

func entryLookup(entries map[string]change.Entry) EntryLookup {
	return func(path string) (change.Entry, error) {
		e, ok := entries[path]
		if !ok {
			return change.Entry{}, dogerrors.ErrEntryNotFound
		}
		return e, nil
	}
}

func jsonEntry(t *testing.T, path, raw string) change.Entry {
	t.Helper()
	e, err := change.NewJSONEntry(path, json.RawMessage(raw))
	require.NoError(t, err)
	return e
}

func TestIdentityQuery(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/a.json": jsonEntry(t, "/a.json", `{"x":1}`),
	})
	got, err := Eval(Identity("/a.json"), lookup)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(got))
}

func TestJSONPathQuery(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/a.json": jsonEntry(t, "/a.json", `{"a":{"b":42}}`),
	})
	got, err := Eval(JSONPath("/a.json", "a.b"), lookup)
	require.NoError(t, err)
	require.Equal(t, "42", string(got))
}

func TestJSONPathQueryOnTextEntryFails(t *testing.T) {
	text, err := change.NewTextEntry("/a.txt", "hello")
	require.NoError(t, err)
	lookup := entryLookup(map[string]change.Entry{"/a.txt": text})
	_, err = Eval(JSONPath("/a.txt", "a"), lookup)
	require.ErrorIs(t, err, dogerrors.ErrQueryFailed)
}

func TestMergeQueryDeepMergeRightWins(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/base.json":     jsonEntry(t, "/base.json", `{"a":1,"nested":{"x":1,"y":2}}`),
		"/override.json": jsonEntry(t, "/override.json", `{"a":2,"nested":{"y":3}}`),
	})
	got, err := Eval(Merge([]MergeSource{{Path: "/base.json"}, {Path: "/override.json"}}, ""), lookup)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2,"nested":{"x":1,"y":3}}`, string(got))
}

func TestMergeQueryArraysAreReplacedNotConcatenated(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/base.json":     jsonEntry(t, "/base.json", `{"list":[1,2,3]}`),
		"/override.json": jsonEntry(t, "/override.json", `{"list":[9]}`),
	})
	got, err := Eval(Merge([]MergeSource{{Path: "/base.json"}, {Path: "/override.json"}}, ""), lookup)
	require.NoError(t, err)
	require.JSONEq(t, `{"list":[9]}`, string(got))
}

func TestMergeQuerySkipsMissingOptionalSource(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/base.json": jsonEntry(t, "/base.json", `{"a":1}`),
	})
	got, err := Eval(Merge([]MergeSource{{Path: "/base.json"}, {Path: "/missing.json", Optional: true}}, ""), lookup)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(got))
}

func TestMergeQueryMissingRequiredSourceFails(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/base.json": jsonEntry(t, "/base.json", `{"a":1}`),
	})
	_, err := Eval(Merge([]MergeSource{{Path: "/base.json"}, {Path: "/missing.json"}}, ""), lookup)
	require.ErrorIs(t, err, dogerrors.ErrEntryNotFound)
}

func TestMergeQueryWithFilter(t *testing.T) {
	lookup := entryLookup(map[string]change.Entry{
		"/base.json":     jsonEntry(t, "/base.json", `{"a":1,"nested":{"x":1}}`),
		"/override.json": jsonEntry(t, "/override.json", `{"nested":{"y":2}}`),
	})
	got, err := Eval(Merge([]MergeSource{{Path: "/base.json"}, {Path: "/override.json"}}, "nested"), lookup)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1,"y":2}`, string(got))
}
