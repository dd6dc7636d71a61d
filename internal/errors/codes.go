// Package errors provides structured error handling for docsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and IO errors
//   - 3XX: Network errors
//   - 4XX: Validation errors (client errors)
//   - 5XX: Internal and engine errors (server errors)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates storage and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates engine and internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStorageFailed = "ERR_201_STORAGE_FAILED"
	ErrCodeIndexLocked   = "ERR_202_INDEX_LOCKED"
	ErrCodeSchemaCorrupt = "ERR_203_SCHEMA_CORRUPT"
	ErrCodeCorruptIndex  = "ERR_204_CORRUPT_INDEX"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeRemoteSyncFailed   = "ERR_303_REMOTE_SYNC_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidName      = "ERR_401_INVALID_NAME"
	ErrCodeInvalidSpec      = "ERR_402_INVALID_SPEC"
	ErrCodeInvalidQuery     = "ERR_403_INVALID_QUERY"
	ErrCodeValidationFailed = "ERR_404_VALIDATION_FAILED"
	ErrCodeIndexNotFound    = "ERR_405_INDEX_NOT_FOUND"
	ErrCodeMissingParameter = "ERR_406_MISSING_PARAMETER"

	// Internal errors (500-599)
	ErrCodeInternal            = "ERR_501_INTERNAL"
	ErrCodeEngine              = "ERR_502_ENGINE"
	ErrCodeResourceUnavailable = "ERR_503_RESOURCE_UNAVAILABLE"
	ErrCodeQueueFull           = "ERR_504_QUEUE_FULL"
	ErrCodeEngineClosed        = "ERR_505_ENGINE_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "401" from "ERR_401_INVALID_NAME")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeSchemaCorrupt:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	if categoryFromCode(code) == CategoryValidation {
		return SeverityInfo
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeRemoteSyncFailed,
		ErrCodeQueueFull, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
