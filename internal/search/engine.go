// Package search answers queries against an index: semantic search over the
// vector store, keyword search over the bleve side-index, or both fused with
// reciprocal rank fusion.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/codeindex/internal/embed"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/store"
)

// Mode selects which indexes answer a query.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
)

// ParseMode normalizes a mode name. Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeVector, ModeKeyword:
		return m, nil
	}
	return "", cierrors.ValidationError(fmt.Sprintf("unknown search mode %q", s), nil)
}

const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// Options narrows a query.
type Options struct {
	TopK int
	Mode Mode
	// Language keeps only chunks of this language.
	Language string
	// PathPrefix keeps only chunks under this root-relative directory or file.
	PathPrefix string
}

// Result is one ranked chunk.
type Result struct {
	ID        string  `json:"id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Kind      string  `json:"kind,omitempty"`
	Name      string  `json:"name,omitempty"`
	Language  string  `json:"language,omitempty"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	// VectorScore and KeywordScore are the raw per-index scores.
	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	InBothLists  bool    `json:"in_both_lists,omitempty"`
}

// Keyword is the text index used for keyword and hybrid search.
// *store.KeywordIndex implements it.
type Keyword interface {
	Search(ctx context.Context, query string, limit int) ([]store.KeywordHit, error)
}

// Engine runs queries. Keyword may be nil, in which case hybrid search
// degrades to vector search.
type Engine struct {
	Embedder   embed.Embedder
	Store      store.VectorStore
	Keyword    Keyword
	Collection string
	Weights    Weights
	Logger     *slog.Logger
}

// Search returns up to opts.TopK chunks for query.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, cierrors.ValidationError("query is required", nil)
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	topK = min(topK, MaxTopK)
	if mode == ModeHybrid && e.Keyword == nil {
		mode = ModeVector
	}
	if mode == ModeKeyword && e.Keyword == nil {
		return nil, cierrors.New(cierrors.ErrCodeInvalidInput, "keyword index is disabled", nil).
			WithSuggestion("set keyword.disabled to false and re-index")
	}

	logger := logging.WithSource(e.logger(), "search")
	start := time.Now()

	// Filters are applied after ranking, so over-fetch when they are set.
	fetch := topK
	if opts.Language != "" || opts.PathPrefix != "" {
		fetch = topK * 5
	}
	if mode == ModeHybrid {
		fetch *= 2
	}

	var (
		vector  []store.Result
		keyword []store.KeywordHit
	)
	if mode != ModeKeyword {
		if vector, err = e.vectorSearch(ctx, query, fetch); err != nil {
			return nil, err
		}
	}
	if mode != ModeVector {
		if keyword, err = e.Keyword.Search(ctx, query, fetch); err != nil {
			return nil, err
		}
	}

	var ranked []*fused
	switch mode {
	case ModeVector:
		ranked = single(nil, vector)
	case ModeKeyword:
		ranked = single(keyword, nil)
	default:
		w := e.Weights
		if w == (Weights{}) {
			w = DefaultWeights()
		}
		ranked = fuse(keyword, vector, w, DefaultRRFConstant)
	}

	payloads := newPayloadCache(e.Store, e.Collection)
	results := make([]Result, 0, min(topK, len(ranked)))
	for _, f := range ranked {
		if len(results) == topK {
			break
		}
		r, ok, err := e.materialize(ctx, f, payloads)
		if err != nil {
			return nil, err
		}
		if !ok || !matches(r, opts) {
			continue
		}
		results = append(results, r)
	}

	logger.Debug("search complete",
		slog.String("mode", string(mode)),
		slog.Int("vector_hits", len(vector)),
		slog.Int("keyword_hits", len(keyword)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, limit int) ([]store.Result, error) {
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.Store.Query(ctx, e.Collection, vec, limit)
	if errors.Is(err, store.ErrCollectionNotFound) {
		return nil, nil
	}
	return hits, err
}

// single ranks one list on its own scores.
func single(keyword []store.KeywordHit, vector []store.Result) []*fused {
	out := make([]*fused, 0, len(keyword)+len(vector))
	for i := range vector {
		s := float64(vector[i].Score)
		out = append(out, &fused{id: vector[i].ID, score: s, vectorScore: s, vectorRank: i + 1, vector: &vector[i]})
	}
	for i := range keyword {
		s := keyword[i].Score
		out = append(out, &fused{id: keyword[i].ID, score: s, keywordScore: s, keywordRank: i + 1, keyword: &keyword[i]})
	}
	return out
}

// materialize turns a ranked id into a Result. Keyword-only hits carry no
// content, so their payload is looked up in the vector store. A hit whose
// point is gone reports ok=false.
func (e *Engine) materialize(ctx context.Context, f *fused, payloads *payloadCache) (Result, bool, error) {
	r := Result{
		ID:           f.id,
		Score:        f.score,
		VectorScore:  f.vectorScore,
		KeywordScore: f.keywordScore,
		InBothLists:  f.inBoth(),
	}

	var p store.Payload
	switch {
	case f.vector != nil:
		p = f.vector.Payload
	case f.keyword != nil:
		found, ok, err := payloads.get(ctx, f.keyword.FilePath, f.id)
		if err != nil || !ok {
			return r, false, err
		}
		p = found
	}

	r.FilePath = p.FilePath
	r.StartLine = p.StartLine
	r.EndLine = p.EndLine
	r.Kind = p.Kind
	r.Name = p.Name
	r.Language = p.Language
	r.Content = p.Content
	return r, true, nil
}

func matches(r Result, opts Options) bool {
	if opts.Language != "" && !strings.EqualFold(r.Language, opts.Language) {
		return false
	}
	if prefix := strings.Trim(opts.PathPrefix, "/"); prefix != "" {
		if r.FilePath != prefix && !strings.HasPrefix(r.FilePath, prefix+"/") {
			return false
		}
	}
	return true
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// payloadCache loads each file's points at most once per query.
type payloadCache struct {
	store      store.VectorStore
	collection string
	files      map[string]map[string]store.Payload
}

func newPayloadCache(s store.VectorStore, collection string) *payloadCache {
	return &payloadCache{store: s, collection: collection, files: make(map[string]map[string]store.Payload)}
}

func (c *payloadCache) get(ctx context.Context, filePath, id string) (store.Payload, bool, error) {
	byID, ok := c.files[filePath]
	if !ok {
		points, err := c.store.PointsByFilePath(ctx, c.collection, filePath)
		if err != nil && !errors.Is(err, store.ErrCollectionNotFound) {
			return store.Payload{}, false, err
		}
		byID = make(map[string]store.Payload, len(points))
		for _, p := range points {
			byID[p.ID] = p.Payload
		}
		c.files[filePath] = byID
	}
	p, ok := byID[id]
	return p, ok, nil
}
