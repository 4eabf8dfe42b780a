package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrank/pkg/ranker"
)

func TestStatusCmd_NoIndex(t *testing.T) {
	dir := testEnv(t)

	out, err := run(t, dir, "", "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Index does not exist")
	assert.Contains(t, out, "none (unavailable)")
}

func TestStatusCmd_JSON(t *testing.T) {
	// Given: an indexed corpus
	dir := testEnv(t)
	indexCorpus(t, dir)

	// When: asking for status as JSON
	out, err := run(t, dir, "", "status", "--json")

	// Then: the index and models are described
	require.NoError(t, err)
	var st ranker.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.IndexExists)
	assert.Equal(t, len(corpus), st.Documents)
	assert.Equal(t, 384, st.Dimensions)
	assert.Equal(t, "local", st.Backend)
	assert.Equal(t, "closed", st.Breaker)
	assert.True(t, st.EmbedderAvailable)
}

func TestStatusCmd_Text(t *testing.T) {
	dir := testEnv(t)
	indexCorpus(t, dir)

	out, err := run(t, dir, "", "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Index ready with 4 passages")
	assert.True(t, strings.Contains(out, "Embedder:"))
}

