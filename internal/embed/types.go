package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"syscall"
	"time"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// Batch limits
const (
	// DefaultBatchSize is the default number of texts per request
	DefaultBatchSize = 32

	// MaxOllamaBatchSize caps a single /api/embed request
	MaxOllamaBatchSize = 256

	// MaxHostedBatchSize caps a single hosted /embeddings request
	MaxHostedBatchSize = 2048

	// DefaultTimeout bounds each HTTP attempt
	DefaultTimeout = 30 * time.Second
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result has the
	// same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// statusError is a non-2xx provider response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return http.StatusText(e.Status) + ": " + e.Body
}

// retryableHTTP reports whether a failed attempt may succeed when repeated:
// network failures, timeouts, 429 and 5xx responses.
func retryableHTTP(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	var de *dimensionError
	return !errors.As(err, &de)
}

// dimensionError is a response whose vectors do not have the configured
// size. It is a schema error: retrying cannot fix it.
type dimensionError struct {
	model string
	want  int
	got   int
}

func (e *dimensionError) Error() string {
	return fmt.Sprintf("model %s returned %d-dimensional vectors, configured %d", e.model, e.got, e.want)
}

func (e *dimensionError) ErrorCode() string { return cierrors.ErrCodeSchemaMismatch }

// unreachable reports whether err means the provider could not be contacted.
func unreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// wrapFailure converts the final error of a request into an EmbeddingError.
// Context cancellation passes through untouched.
func wrapFailure(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && !isAttemptTimeout(err)) {
		return err
	}
	return &cierrors.EmbeddingError{Provider: provider, Cause: err, Unreachable: unreachable(err)}
}

// attemptTimeoutError marks a per-attempt deadline so it is not mistaken for
// the caller's own context expiring.
type attemptTimeoutError struct{ timeout time.Duration }

func (e *attemptTimeoutError) Error() string {
	return "request timed out after " + e.timeout.String()
}

func (e *attemptTimeoutError) Unwrap() error { return context.DeadlineExceeded }

func isAttemptTimeout(err error) bool {
	var te *attemptTimeoutError
	return errors.As(err, &te)
}
