package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

const (
	codeTokenizerName  = "codeindex_code_tokenizer"
	codeStopFilterName = "codeindex_code_stop"
	codeAnalyzerName   = "codeindex_code"

	fieldContent  = "content"
	fieldFilePath = "file_path"
	fieldName     = "name"
	fieldStart    = "start_line"
	fieldEnd      = "end_line"

	// scrollPage bounds one file lookup page.
	scrollPage = 1000
)

// keywordStopWords are language keywords too common to rank on.
var keywordStopWords = map[string]struct{}{
	"func": {}, "function": {}, "def": {}, "class": {}, "return": {}, "var": {},
	"let": {}, "const": {}, "if": {}, "else": {}, "for": {}, "while": {},
	"import": {}, "package": {}, "from": {}, "the": {}, "and": {}, "self": {},
	"this": {}, "new": {}, "pub": {}, "fn": {}, "nil": {}, "null": {}, "true": {},
	"false": {}, "int": {}, "string": {}, "err": {},
}

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName,
		func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
			return codeTokenizer{}, nil
		})
	_ = registry.RegisterTokenFilter(codeStopFilterName,
		func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
			return codeStopFilter{}, nil
		})
}

var identRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// splitIdentifier breaks snake_case, camelCase and acronym runs apart:
// "parseHTTPRequest" yields parse, HTTP, Request.
func splitIdentifier(word string) []string {
	var out []string
	for _, part := range strings.Split(word, "_") {
		if part == "" {
			continue
		}
		runes := []rune(part)
		start := 0
		for i := 1; i < len(runes); i++ {
			if !unicode.IsUpper(runes[i]) {
				continue
			}
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
				out = append(out, string(runes[start:i]))
				start = i
			}
		}
		out = append(out, string(runes[start:]))
	}
	return out
}

// codeTokenizer emits each identifier both whole and split, so "getUserID"
// matches queries for "getuserid", "user" and "id".
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	var stream analysis.TokenStream
	pos := 1
	for _, loc := range identRegex.FindAllIndex(input, -1) {
		word := string(input[loc[0]:loc[1]])
		parts := splitIdentifier(word)
		emit := func(term string, start, end int) {
			if len(term) < 2 {
				return
			}
			stream = append(stream, &analysis.Token{
				Term:     []byte(term),
				Start:    start,
				End:      end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
		if len(parts) > 1 {
			emit(word, loc[0], loc[1])
		}
		offset := loc[0]
		for _, p := range parts {
			idx := strings.Index(string(input[offset:loc[1]]), p)
			if idx < 0 {
				idx = 0
			}
			start := offset + idx
			emit(p, start, start+len(p))
			offset = start + len(p)
		}
	}
	return stream
}

type codeStopFilter struct{}

func (codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, stop := keywordStopWords[string(tok.Term)]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func keywordMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name, codeStopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("add code analyzer: %w", err)
	}
	im.DefaultAnalyzer = codeAnalyzerName

	doc := bleve.NewDocumentMapping()

	path := bleve.NewTextFieldMapping()
	path.Analyzer = keyword.Name
	doc.AddFieldMappingsAt(fieldFilePath, path)

	text := bleve.NewTextFieldMapping()
	text.Analyzer = codeAnalyzerName
	text.Store = false
	doc.AddFieldMappingsAt(fieldContent, text)

	name := bleve.NewTextFieldMapping()
	name.Analyzer = codeAnalyzerName
	doc.AddFieldMappingsAt(fieldName, name)

	doc.AddFieldMappingsAt(fieldStart, bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt(fieldEnd, bleve.NewNumericFieldMapping())

	im.DefaultMapping = doc
	return im, nil
}

type keywordDoc struct {
	Content   string `json:"content"`
	FilePath  string `json:"file_path"`
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// KeywordHit is one keyword search result.
type KeywordHit struct {
	ID        string  `json:"id"`
	FilePath  string  `json:"file_path"`
	Name      string  `json:"name,omitempty"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
}

// KeywordIndex is a bleve side-index over chunk text, kept in sync with
// the vector store per file.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	logger *slog.Logger
	closed bool
}

// OpenKeywordIndex opens the index at path, creating it if needed. An
// empty path gives an in-memory index. A corrupt index is cleared.
func OpenKeywordIndex(path string, logger *slog.Logger) (*KeywordIndex, error) {
	logger = logging.WithSource(logger, "store.keyword")
	im, err := keywordMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storeErr("keyword", "open", err)
		}
		if verr := checkKeywordMeta(path); verr != nil {
			logger.Warn("keyword index corrupt, clearing",
				slog.String("path", path),
				slog.String("error", verr.Error()))
			if err := os.RemoveAll(path); err != nil {
				return nil, storeErr("keyword", "open", err)
			}
		}
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, im)
		} else if err != nil && errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
			logger.Warn("keyword index open failed, recreating",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, storeErr("keyword", "open", rmErr)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, storeErr("keyword", "open", err)
	}
	return &KeywordIndex{index: idx, path: path, logger: logger}, nil
}

// checkKeywordMeta reports a half-written index directory.
func checkKeywordMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json: %w", err)
	}
	return nil
}

// IndexFile replaces every document of filePath with chunks.
func (k *KeywordIndex) IndexFile(ctx context.Context, filePath string, chunks []chunk.Chunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return storeErr("keyword", "index", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stale, err := k.idsForFile(ctx, filePath)
	if err != nil {
		return storeErr("keyword", "index", err)
	}
	batch := k.index.NewBatch()
	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = struct{}{}
		if err := batch.Index(c.ID, keywordDoc{
			Content:   c.Content,
			FilePath:  c.FilePath,
			Name:      c.Name,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		}); err != nil {
			return storeErr("keyword", "index", err)
		}
	}
	for _, id := range stale {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return storeErr("keyword", "index", err)
	}
	return nil
}

// RemoveFile drops every document of filePath.
func (k *KeywordIndex) RemoveFile(ctx context.Context, filePath string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return storeErr("keyword", "remove", ErrClosed)
	}

	ids, err := k.idsForFile(ctx, filePath)
	if err != nil {
		return storeErr("keyword", "remove", err)
	}
	if len(ids) == 0 {
		return nil
	}
	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return storeErr("keyword", "remove", err)
	}
	return nil
}

func (k *KeywordIndex) idsForFile(ctx context.Context, filePath string) ([]string, error) {
	q := bleve.NewTermQuery(filePath)
	q.SetField(fieldFilePath)

	var ids []string
	for from := 0; ; from += scrollPage {
		req := bleve.NewSearchRequestOptions(q, scrollPage, from, false)
		res, err := k.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < scrollPage {
			return ids, nil
		}
	}
}

// Search runs a match query over chunk text and names.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, storeErr("keyword", "search", ErrClosed)
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []KeywordHit{}, nil
	}

	content := bleve.NewMatchQuery(query)
	content.SetField(fieldContent)
	name := bleve.NewMatchQuery(query)
	name.SetField(fieldName)
	name.SetBoost(2)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(content, name))
	req.Size = limit
	req.Fields = []string{fieldFilePath, fieldName, fieldStart, fieldEnd}
	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, storeErr("keyword", "search", err)
	}

	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := KeywordHit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields[fieldFilePath].(string); ok {
			hit.FilePath = v
		}
		if v, ok := h.Fields[fieldName].(string); ok {
			hit.Name = v
		}
		if v, ok := h.Fields[fieldStart].(float64); ok {
			hit.StartLine = int(v)
		}
		if v, ok := h.Fields[fieldEnd].(float64); ok {
			hit.EndLine = int(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (k *KeywordIndex) Count() (int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0, storeErr("keyword", "count", ErrClosed)
	}
	n, err := k.index.DocCount()
	if err != nil {
		return 0, storeErr("keyword", "count", err)
	}
	return int(n), nil
}

// Close flushes and closes the index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
