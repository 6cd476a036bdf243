package repository

import (
	"encoding/json"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/require"
)

func mustJSONString(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return raw
}

func textPatchFor(t *testing.T, before, after string) string {
	t.Helper()
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	patches := dmp.PatchMake(before, diffs)
	return dmp.PatchToText(patches)
}
