package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrank/pkg/ranker"
)

func TestIndexCmd_LoadsFile(t *testing.T) {
	// Given: a JSONL corpus
	dir := testEnv(t)

	// When: indexing it
	out, err := run(t, dir, "", "index", writeCorpus(t))

	// Then: every passage is written with the static model
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 4 passages")
	assert.Contains(t, out, "Indexed 4 passages")
	assert.Contains(t, out, "static")
}

func TestIndexCmd_Stdin(t *testing.T) {
	dir := testEnv(t)

	out, err := run(t, dir, "một\n\nhai\nba\n", "index", "-")

	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 3 passages")
}

func TestIndexCmd_MissingFile(t *testing.T) {
	dir := testEnv(t)

	_, err := run(t, dir, "", "index", "/nonexistent/passages.jsonl")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

func TestIndexCmd_AppendThenRecreate(t *testing.T) {
	// Given: an index holding the corpus
	dir := testEnv(t)
	indexCorpus(t, dir)

	// When: recreating it with a single passage
	_, err := run(t, dir, "chỉ một đoạn\n", "index", "-", "--recreate")
	require.NoError(t, err)

	// Then: only that passage remains
	out, err := run(t, dir, "", "status", "--json")
	require.NoError(t, err)
	var st ranker.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Documents)
}
