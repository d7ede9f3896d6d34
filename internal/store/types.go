// Package store provides the vector store gateway (hnsw+bbolt, SQLite,
// Qdrant) and the bleve keyword index kept beside it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceEuclid Distance = "euclid"
)

// ParseDistance normalizes a configured metric name.
func ParseDistance(s string) (Distance, error) {
	switch Distance(s) {
	case DistanceCosine, "":
		return DistanceCosine, nil
	case DistanceEuclid:
		return DistanceEuclid, nil
	}
	return "", cierrors.ConfigError(fmt.Sprintf("unknown distance %q", s), nil)
}

// Payload is the metadata stored with each vector.
type Payload struct {
	FilePath      string               `json:"file_path"`
	Content       string               `json:"content"`
	StartLine     int                  `json:"start_line"`
	EndLine       int                  `json:"end_line"`
	Kind          string               `json:"kind"`
	Language      string               `json:"language,omitempty"`
	Name          string               `json:"name,omitempty"`
	Relationships []chunk.Relationship `json:"relationships,omitempty"`
}

// Point is a persisted vector with its payload. ID is the chunk id.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// PointFromChunk builds the point for an extracted chunk.
func PointFromChunk(c chunk.Chunk, vector []float32) Point {
	return Point{
		ID:     c.ID,
		Vector: vector,
		Payload: Payload{
			FilePath:      c.FilePath,
			Content:       c.Content,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			Kind:          string(c.Kind),
			Language:      c.Language,
			Name:          c.Name,
			Relationships: c.Relationships,
		},
	}
}

// Result is one query hit. Higher scores are more similar.
type Result struct {
	Point
	Score float32
}

// Health is the outcome of a store health check.
type Health struct {
	Backend     string        `json:"backend"`
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency"`
	Collections []string      `json:"collections,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// VectorStore is the vector database gateway. Implementations retry
// transient failures internally and return *errors.StoreError otherwise.
type VectorStore interface {
	// EnsureCollection creates the collection if absent. An existing
	// collection with a different vector size is a *errors.SchemaMismatchError.
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error

	// Upsert inserts or overwrites points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeleteByFilePath removes every point whose payload file path matches.
	DeleteByFilePath(ctx context.Context, collection, filePath string) error

	// PointsByFilePath returns the points of one file in insertion order.
	PointsByFilePath(ctx context.Context, collection, filePath string) ([]Point, error)

	// Query returns up to topK points by descending similarity. Equal scores
	// are ordered by first insertion.
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Health checks the backend.
	Health(ctx context.Context) Health

	Close() error
}

// ErrCollectionNotFound is returned for operations on a missing collection.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

// ErrDimensionMismatch indicates a vector of the wrong size for its collection.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ErrorCode marks the mismatch as a schema error, which fails the run.
func (e ErrDimensionMismatch) ErrorCode() string { return cierrors.ErrCodeSchemaMismatch }

func storeErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *cierrors.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &cierrors.StoreError{Backend: backend, Op: op, Cause: err}
}
