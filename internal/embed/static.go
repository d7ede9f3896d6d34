package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticDimensions is the default dimension for the static embedder.
const StaticDimensions = 256

// Feature weights. Identifier words carry meaning; character trigrams
// give partial credit to near-identical spellings.
const (
	wordWeight    = 0.7
	trigramWeight = 0.3
)

var errStaticClosed = errors.New("static embedder is closed")

// StaticEmbedder projects identifier words and character trigrams into a
// fixed-size vector with signed feature hashing. It needs no network or
// model and is deterministic, for tests and offline use.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// NewStaticEmbedder creates a static embedder producing dims-sized vectors.
// A non-positive dims selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed implements Embedder. Blank text embeds to the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Available(ctx) {
		return nil, errStaticClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.project(text), nil
}

// EmbedBatch implements Embedder.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.Available(ctx) {
		return nil, errStaticClosed
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.project(text)
	}
	return out, nil
}

func (e *StaticEmbedder) project(text string) []float32 {
	v := make([]float32, e.dims)
	text = strings.TrimSpace(text)
	if text == "" {
		return v
	}

	add := func(feature string, weight float32) {
		idx, sign := e.bucket(feature)
		v[idx] += sign * weight
	}
	for _, w := range filterStopWords(tokenize(text)) {
		add("w:"+w, wordWeight)
	}
	letters := compact(text)
	for i := 0; i+3 <= len(letters); i++ {
		add("t:"+string(letters[i:i+3]), trigramWeight)
	}
	return normalizeVector(v)
}

// bucket hashes a feature to an index and a sign, so unrelated features
// that collide tend to cancel rather than add up.
func (e *StaticEmbedder) bucket(feature string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int((sum & (1<<63 - 1)) % uint64(e.dims)), sign
}

// compact lowercases text and keeps letters and digits only.
func compact(text string) []rune {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, unicode.ToLower(r))
		}
	}
	return out
}

// tokenize splits text into lowercase words, breaking identifiers on
// underscores and case changes: "parse_JSONValue" gives parse, json, value.
func tokenize(text string) []string {
	var words []string
	flush := func(r []rune) {
		if len(r) > 0 {
			words = append(words, strings.ToLower(string(r)))
		}
	}

	runes := []rune(text)
	start := -1
	for i, r := range runes {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if start >= 0 {
				flush(runes[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		if unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush(runes[start:i])
				start = i
			}
		}
	}
	if start >= 0 {
		flush(runes[start:])
	}
	return words
}

func filterStopWords(words []string) []string {
	out := words[:0:0]
	for _, w := range words {
		if !programmingStopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// Dimensions implements Embedder.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName implements Embedder.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available reports whether the embedder is open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close implements Embedder. Closing twice is harmless.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
