package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Kind classifies the declaration a chunk was extracted from.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindOther    Kind = "other"
)

// Relation is the kind of link recorded by symbol enrichment.
type Relation string

const (
	RelationDefinition Relation = "definition"
	RelationReference  Relation = "reference"
)

// Range is an inclusive, 1-based line span.
type Range struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Relationship links a chunk to a definition or reference elsewhere.
type Relationship struct {
	TargetFile  string   `json:"target_file"`
	TargetRange Range    `json:"target_range"`
	Relation    Relation `json:"relation"`
}

// Chunk is a span of source extracted for indexing.
type Chunk struct {
	ID            string         // ChunkID(FilePath, StartLine, EndLine)
	FilePath      string         // Root-relative, forward slashes
	Content       string         // Raw source text of the span
	StartLine     int            // 1-indexed
	EndLine       int            // Inclusive
	Kind          Kind           // function, method, class, other
	Language      string         // go, python, ...
	Name          string         // Declared name, empty for other
	Relationships []Relationship // Set only by Enrich
}

// idLength is the number of hex characters kept from the digest.
const idLength = 32

// ChunkID derives the upsert key for a span. The same file and line range
// always produce the same id.
func ChunkID(filePath string, startLine, endLine int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", filePath, startLine, endLine)))
	return hex.EncodeToString(sum[:])[:idLength]
}
