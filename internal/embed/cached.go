package embed

import (
	"context"
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of cached vectors.
// At 768 dimensions that is roughly 30MB.
const DefaultEmbeddingCacheSize = 10000

type cacheKey [sha256.Size]byte

// CachedEmbedder wraps an Embedder with an LRU keyed by model and content
// hash, so chunks whose text did not change are not re-embedded.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[cacheKey, []float32]
}

// NewCachedEmbedder wraps inner. A non-positive size selects
// DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[cacheKey, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) cacheKey {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var k cacheKey
	copy(k[:], h.Sum(nil))
	return k
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. Only misses reach the inner embedder,
// once per distinct text, in one call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]cacheKey, len(texts))

	var misses []string
	pending := make(map[cacheKey][]int)
	for i, text := range texts {
		k := c.key(text)
		keys[i] = k
		if vec, ok := c.cache.Get(k); ok {
			out[i] = vec
			continue
		}
		if _, seen := pending[k]; !seen {
			misses = append(misses, text)
		}
		pending[k] = append(pending[k], i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(misses))
	}
	for j, text := range misses {
		k := c.key(text)
		c.cache.Add(k, vecs[j])
		for _, i := range pending[k] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

// Dimensions implements Embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName implements Embedder.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available implements Embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
