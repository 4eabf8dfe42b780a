package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error type for amanrank.
// It carries enough context to decide between degrading and stopping.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches another AmanError by code, so errors.Is works against the
// exported sentinels below.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNoEmbeddingModel  = &AmanError{Code: ErrCodeNoEmbeddingModel}
	ErrDimensionMismatch = &AmanError{Code: ErrCodeDimensionMismatch}
	ErrIndexNotFound     = &AmanError{Code: ErrCodeIndexNotFound}
	ErrQueryEmpty        = &AmanError{Code: ErrCodeQueryEmpty}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NoEmbeddingModelError reports that no model in the ordered fallback list
// could be loaded.
func NoEmbeddingModelError(models []string, cause error) *AmanError {
	return New(ErrCodeNoEmbeddingModel,
		fmt.Sprintf("no embedding model could be loaded (tried %v)", models), cause).
		WithSuggestion("Start the embedding server or set embeddings.models to a model it serves")
}

// DimensionMismatchError reports an embedder whose vectors do not fit the index.
func DimensionMismatchError(indexDims, embedderDims int, model string) *AmanError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("index expects %d dimensions but embedder %s produces %d", indexDims, model, embedderDims), nil).
		WithDetail("index_dimensions", fmt.Sprint(indexDims)).
		WithDetail("embedder_dimensions", fmt.Sprint(embedderDims)).
		WithSuggestion("Query with the model the index was built with, or rebuild it with 'amanrank index --recreate'")
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *AmanError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error anywhere in the chain is a retryable AmanError.
func IsRetryable(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error anywhere in the chain has fatal severity.
func IsFatal(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first AmanError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first AmanError in the chain.
func GetCategory(err error) Category {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
