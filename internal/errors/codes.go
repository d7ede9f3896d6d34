// Package errors provides the structured error taxonomy for codeindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (discovery, file access, data directory)
//   - 3XX: Network errors (embedding provider, vector store)
//   - 4XX: Validation errors (schema, input)
//   - 5XX: Internal errors (parse, pipeline)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates errors talking to an external backend.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input or schema validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates pipeline errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current run.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails one operation; the run continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownBackend = "ERR_103_UNKNOWN_BACKEND"
	ErrCodeMissingAPIKey  = "ERR_104_MISSING_API_KEY"

	// IO errors (200-299)
	ErrCodeRootUnreadable = "ERR_201_ROOT_UNREADABLE"
	ErrCodeFileRead       = "ERR_202_FILE_READ"
	ErrCodeDataDirLocked  = "ERR_203_DATA_DIR_LOCKED"
	ErrCodeCorruptIndex   = "ERR_204_CORRUPT_INDEX"

	// Network errors (300-399)
	ErrCodeEmbeddingFailed      = "ERR_301_EMBEDDING_FAILED"
	ErrCodeEmbeddingUnreachable = "ERR_302_EMBEDDING_UNREACHABLE"
	ErrCodeStoreFailed          = "ERR_303_STORE_FAILED"
	ErrCodeStoreTransient       = "ERR_304_STORE_TRANSIENT"

	// Validation errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeSchemaMismatch = "ERR_402_SCHEMA_MISMATCH"
	ErrCodeInvalidPath    = "ERR_403_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal  = "ERR_501_INTERNAL"
	ErrCodeParse     = "ERR_502_PARSE_FAILED"
	ErrCodeIndexFile = "ERR_503_INDEX_FILE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
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
	case ErrCodeRootUnreadable, ErrCodeSchemaMismatch, ErrCodeCorruptIndex,
		ErrCodeEmbeddingUnreachable, ErrCodeDataDirLocked:
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
	case ErrCodeStoreTransient, ErrCodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
