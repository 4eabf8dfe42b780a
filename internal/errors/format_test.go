package errors

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: an error with a suggestion
	err := ConfigError("reranker.timeout must be positive", nil).
		WithSuggestion("Set reranker.timeout in .amanrank.yaml")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "Error: reranker.timeout must be positive")
	assert.Contains(t, out, "Hint: Set reranker.timeout")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
}

func TestFormatForCLI_StandardError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.NotContains(t, out, "Hint:")
}

func TestFormatForCLI_NilError(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatForLog_AmanError(t *testing.T) {
	// Given: an error with details and a cause
	err := New(ErrCodeSearchFailed, "hybrid query failed", errors.New("503")).
		WithDetail("z", "1").
		WithDetail("a", "2")

	// When: building log attributes
	attrs := FormatForLog(err)

	// Then: code first, details sorted by key
	require.Len(t, attrs, 8)
	assert.Equal(t, slog.String("error_code", ErrCodeSearchFailed), attrs[0])
	assert.Equal(t, slog.String("cause", "503"), attrs[5])
	assert.Equal(t, slog.String("detail_a", "2"), attrs[6])
	assert.Equal(t, slog.String("detail_z", "1"), attrs[7])
}

func TestFormatForLog_PlainError(t *testing.T) {
	attrs := FormatForLog(errors.New("plain"))

	require.Len(t, attrs, 1)
	assert.Equal(t, slog.String("error", "plain"), attrs[0])
	assert.Nil(t, FormatForLog(nil))
}
