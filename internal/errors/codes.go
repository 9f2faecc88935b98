// Package errors provides structured error handling for Quarry.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Extraction errors (unreadable or corrupt documents)
//   - 3XX: Embedding errors (model unavailable, input too large)
//   - 4XX: Index storage errors
//   - 5XX: Query errors
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryExtract indicates document extraction errors.
	CategoryExtract Category = "EXTRACT"
	// CategoryEmbed indicates embedding generation errors.
	CategoryEmbed Category = "EMBED"
	// CategoryStore indicates index storage errors.
	CategoryStore Category = "STORE"
	// CategoryQuery indicates query execution errors.
	CategoryQuery Category = "QUERY"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the batch can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeInvalidInput   = "ERR_103_INVALID_INPUT"

	// Extraction errors (200-299)
	ErrCodeExtractionFailed  = "ERR_201_EXTRACTION_FAILED"
	ErrCodeUnsupportedFormat = "ERR_202_UNSUPPORTED_FORMAT"
	ErrCodeFileTooLarge      = "ERR_203_FILE_TOO_LARGE"
	ErrCodeFileNotFound      = "ERR_204_FILE_NOT_FOUND"

	// Embedding errors (300-399)
	ErrCodeEmbeddingFailed   = "ERR_301_EMBEDDING_FAILED"
	ErrCodeModelUnavailable  = "ERR_302_MODEL_UNAVAILABLE"
	ErrCodeDimensionMismatch = "ERR_303_DIMENSION_MISMATCH"

	// Index storage errors (400-499)
	ErrCodeIndexWriteFailed = "ERR_401_INDEX_WRITE_FAILED"
	ErrCodeCorruptIndex     = "ERR_402_CORRUPT_INDEX"
	ErrCodeRegistryFailed   = "ERR_403_REGISTRY_FAILED"

	// Query errors (500-599)
	ErrCodeQueryFailed  = "ERR_501_QUERY_FAILED"
	ErrCodeQueryTimeout = "ERR_502_QUERY_TIMEOUT"

	// Internal errors (600-699)
	ErrCodeInternal = "ERR_601_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryExtract
	case '3':
		return CategoryEmbed
	case '4':
		return CategoryStore
	case '5':
		return CategoryQuery
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingFailed, ErrCodeModelUnavailable:
		return true
	default:
		return false
	}
}
