package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

var corpus = []string{
	"Ông Trần Bá Dương sinh năm 1960 tại Quảng Nam.",
	"Thaco là tập đoàn ô tô lớn tại Việt Nam.",
	"Chủ tịch hội đồng quản trị Thaco là ông Trần Bá Dương.",
	"Nhà máy lắp ráp đặt tại khu kinh tế mở Chu Lai.",
}

// testEnv points every command at a local index under a temp dir with the
// offline embedder and no reranker. It returns the --config-dir to use.
func testEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("AMANRANK_INDEX_BACKEND", "local")
	t.Setenv("AMANRANK_INDEX_PATH", filepath.Join(home, "index"))
	t.Setenv("AMANRANK_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("AMANRANK_RERANKER_PROVIDER", "none")
	return t.TempDir()
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, configDir string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config-dir", configDir}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

// writeCorpus writes corpus as JSON lines and returns the file path.
func writeCorpus(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	for _, p := range corpus {
		sb.WriteString(`{"text": "` + p + `"}` + "\n")
	}
	path := filepath.Join(t.TempDir(), "passages.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

// indexCorpus loads corpus into the test index.
func indexCorpus(t *testing.T, configDir string) {
	t.Helper()
	_, err := run(t, configDir, "", "index", writeCorpus(t))
	require.NoError(t, err)
}

// ============================================================================
// Root
// ============================================================================

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"search", "retrieve", "index", "status", "batch", "rerank-web", "serve", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_InvalidConfigIsReported(t *testing.T) {
	// Given: an invalid backend in the environment
	dir := testEnv(t)
	t.Setenv("AMANRANK_INDEX_BACKEND", "elastic")

	// When: running a command that needs configuration
	_, err := run(t, dir, "", "status")

	// Then: the configuration error surfaces
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestRootCmd_ProfilesWritten(t *testing.T) {
	dir := testEnv(t)
	heap := filepath.Join(t.TempDir(), "heap.prof")

	_, err := run(t, dir, "", "--profile-mem", heap, "version", "--short")

	require.NoError(t, err)
	info, err := os.Stat(heap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPrintError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "coded error has hint and code",
			err:  amerrors.ConfigError("bad backend", nil).WithSuggestion("use local"),
			want: []string{"Error: bad backend", "Hint: use local", "Code: ERR_102_CONFIG_INVALID"},
		},
		{
			name: "plain error",
			err:  assert.AnError,
			want: []string{"Error: " + assert.AnError.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			printError(buf, tt.err)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

// ============================================================================
// version
// ============================================================================

func TestVersionCmd(t *testing.T) {
	dir := testEnv(t)

	out, err := run(t, dir, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)

	out, err = run(t, dir, "", "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)

	out, err = run(t, dir, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "amanrank dev"))
}

func TestVersionCmd_Verbose(t *testing.T) {
	dir := testEnv(t)

	out, err := run(t, dir, "", "version", "--verbose")

	require.NoError(t, err)
	assert.Contains(t, out, "amanrank dev")
	assert.Contains(t, out, "Platform:")
	assert.Contains(t, out, "Backends")
	assert.Contains(t, out, "blevesearch/bleve:")
	assert.Contains(t, out, "opensearch-project/opensearch-go:")
}

func TestVersionCmd_FlagsExclusive(t *testing.T) {
	dir := testEnv(t)

	_, err := run(t, dir, "", "version", "--json", "--short")

	require.Error(t, err)
}

func TestShortModule(t *testing.T) {
	tests := map[string]string{
		"github.com/blevesearch/bleve/v2":                "blevesearch/bleve",
		"github.com/opensearch-project/opensearch-go/v4": "opensearch-project/opensearch-go",
		"github.com/coder/hnsw":                          "coder/hnsw",
		"modernc.org/sqlite":                             "sqlite",
		"github.com/foo/vector":                          "foo/vector",
	}
	for in, want := range tests {
		assert.Equal(t, want, shortModule(in), in)
	}
}
