package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type used across docsearch.
// The code decides how the error is classified, logged and rendered to clients.
type Error struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_NAME").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
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
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InvalidName reports an index or field name that fails the name pattern.
func InvalidName(message string) *Error {
	return New(ErrCodeInvalidName, message, nil)
}

// InvalidSpec reports a malformed field declaration.
func InvalidSpec(message string, cause error) *Error {
	return New(ErrCodeInvalidSpec, message, cause)
}

// InvalidQuery reports query text (or a bookmark) that cannot be parsed.
func InvalidQuery(message string, cause error) *Error {
	return New(ErrCodeInvalidQuery, message, cause)
}

// ValidationFailure reports a document that violates an existing field type.
func ValidationFailure(message string) *Error {
	return New(ErrCodeValidationFailed, message, nil)
}

// IndexNotFound reports a lookup of an index that has never been created.
func IndexNotFound(name string) *Error {
	return New(ErrCodeIndexNotFound, fmt.Sprintf("index [%s] does not exist", name), nil).
		WithDetail("index", name)
}

// MissingParameter reports a request lacking a required parameter.
func MissingParameter(message string) *Error {
	return New(ErrCodeMissingParameter, message, nil)
}

// EngineError reports an I/O or text-engine failure.
func EngineError(message string, cause error) *Error {
	return New(ErrCodeEngine, message, cause)
}

// ResourceUnavailable reports an engine or storage handle that could not be obtained.
func ResourceUnavailable(message string, cause error) *Error {
	return New(ErrCodeResourceUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if e, ok := As(err); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// GetCode extracts the error code from an Error.
// Returns empty string if err carries no Error.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from an Error.
// Returns empty string if err carries no Error.
func GetCategory(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return ""
}
