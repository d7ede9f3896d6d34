package errors

import (
	"errors"
	"fmt"
)

// DiscoveryError means the discovery root does not exist, is not a
// directory, or cannot be read. It is fatal to the run.
type DiscoveryError struct {
	Root  string
	Cause error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Root, e.Cause)
}

func (e *DiscoveryError) Unwrap() error     { return e.Cause }
func (e *DiscoveryError) ErrorCode() string { return ErrCodeRootUnreadable }

// ParseError is a per-file failure to parse source into a syntax tree.
type ParseError struct {
	FilePath string
	Line     int
	Cause    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.FilePath, e.Line, e.Cause)
	}
	return fmt.Sprintf("parse %s: %v", e.FilePath, e.Cause)
}

func (e *ParseError) Unwrap() error     { return e.Cause }
func (e *ParseError) ErrorCode() string { return ErrCodeParse }

// EmbeddingError wraps a provider failure. Unreachable is set when the
// provider could not be contacted at all (connection refused, DNS).
type EmbeddingError struct {
	Provider    string
	Cause       error
	Unreachable bool
}

func (e *EmbeddingError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("embedding provider %s unreachable: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

func (e *EmbeddingError) ErrorCode() string {
	if e.Unreachable {
		return ErrCodeEmbeddingUnreachable
	}
	return ErrCodeEmbeddingFailed
}

// IsRetryable is false: gateways retry internally before returning.
func (e *EmbeddingError) IsRetryable() bool { return false }

// StoreError is a vector store operation failure. Transient covers
// network failures and server-side 5xx responses.
type StoreError struct {
	Backend   string
	Op        string
	Cause     error
	Transient bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) ErrorCode() string {
	if e.Transient {
		return ErrCodeStoreTransient
	}
	return ErrCodeStoreFailed
}

func (e *StoreError) IsRetryable() bool { return e.Transient }

// SchemaMismatchError means an existing collection has a different vector
// size than the embedding provider produces.
type SchemaMismatchError struct {
	Collection string
	Existing   int
	Requested  int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("collection %q has vector size %d, embedding provider produces %d",
		e.Collection, e.Existing, e.Requested)
}

func (e *SchemaMismatchError) ErrorCode() string { return ErrCodeSchemaMismatch }

// IsUnavailable reports whether err means a backend could not be reached
// even after the gateway's own retries.
func IsUnavailable(err error) bool {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return ee.Unreachable
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}
