package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomy_CodesAndSeverity(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		name     string
		err      error
		code     string
		category Category
		fatal    bool
	}{
		{"discovery", &DiscoveryError{Root: "/nope", Cause: cause}, ErrCodeRootUnreadable, CategoryIO, true},
		{"parse", &ParseError{FilePath: "b.py", Cause: cause}, ErrCodeParse, CategoryInternal, false},
		{"embedding", &EmbeddingError{Provider: "ollama", Cause: cause}, ErrCodeEmbeddingFailed, CategoryNetwork, false},
		{"embedding unreachable", &EmbeddingError{Provider: "ollama", Cause: cause, Unreachable: true}, ErrCodeEmbeddingUnreachable, CategoryNetwork, true},
		{"store", &StoreError{Backend: "hnsw", Op: "upsert", Cause: cause}, ErrCodeStoreFailed, CategoryNetwork, false},
		{"schema", &SchemaMismatchError{Collection: "code", Existing: 384, Requested: 768}, ErrCodeSchemaMismatch, CategoryValidation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a taxonomy error wrapped by a caller
			wrapped := fmt.Errorf("index file: %w", tt.err)

			// Then: the code, category, and fatality survive wrapping
			assert.Equal(t, tt.code, GetCode(wrapped))
			assert.Equal(t, tt.category, GetCategory(wrapped))
			assert.Equal(t, tt.fatal, IsFatal(wrapped))
		})
	}
}

func TestParseError_MessageIncludesLine(t *testing.T) {
	err := &ParseError{FilePath: "b.py", Line: 3, Cause: errors.New("syntax error")}

	assert.Equal(t, "parse b.py: line 3: syntax error", err.Error())
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(&EmbeddingError{Unreachable: true, Cause: errors.New("refused")}))
	assert.False(t, IsUnavailable(&EmbeddingError{Cause: errors.New("400")}))
	assert.True(t, IsUnavailable(fmt.Errorf("x: %w", &StoreError{Transient: true, Cause: errors.New("503")})))
	assert.False(t, IsUnavailable(&ParseError{FilePath: "a.go"}))
	assert.False(t, IsUnavailable(nil))
}

func TestCodedError_IsMatchesByCode(t *testing.T) {
	// Given: two coded errors with the same code
	a := New(ErrCodeConfigInvalid, "bad workers", nil)
	b := ConfigError("bad debounce", nil)

	// Then: errors.Is matches on code
	assert.True(t, errors.Is(fmt.Errorf("load: %w", a), b))
	assert.False(t, errors.Is(a, New(ErrCodeInternal, "x", nil)))
}

func TestCodedError_Retryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeStoreTransient, "503", nil)))
	assert.False(t, IsRetryable(ValidationError("bad", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCodedError_WithDetailAndSuggestion(t *testing.T) {
	err := ConfigError("unknown provider", nil).
		WithDetail("provider", "bogus").
		WithSuggestion("use ollama, hosted, or static")

	assert.Equal(t, "bogus", err.Details["provider"])
	assert.Equal(t, "[ERR_102_CONFIG_INVALID] unknown provider", err.Error())
	assert.Equal(t, SeverityError, err.Severity)
}

// schemaCause stands in for a backend error that carries the schema code.
type schemaCause struct{}

func (schemaCause) Error() string     { return "dimension mismatch: expected 32, got 16" }
func (schemaCause) ErrorCode() string { return ErrCodeSchemaMismatch }

func TestIsFatal_LooksPastNonFatalWrapper(t *testing.T) {
	// Given a schema error wrapped in a non-fatal store error
	err := fmt.Errorf("index a.py: %w", &StoreError{Backend: "hnsw", Op: "upsert", Cause: schemaCause{}})

	// Then the outer code is reported but the run is still failed
	assert.Equal(t, ErrCodeStoreFailed, GetCode(err))
	assert.True(t, IsFatal(err))
	assert.True(t, IsFatal(errors.Join(errors.New("other"), schemaCause{})))
	assert.False(t, IsFatal(&StoreError{Backend: "hnsw", Op: "upsert", Cause: errors.New("disk full")}))
	assert.False(t, IsFatal(nil))
}
