package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig holds the settings for a local Ollama server. Zero fields
// take defaults in NewOllamaEmbedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions, when zero, is learned from the first response.
	Dimensions int

	// BatchSize is the number of texts per /api/embed call, capped at
	// MaxOllamaBatchSize.
	BatchSize int

	// Timeout applies to each attempt separately.
	Timeout time.Duration

	Retry    cierrors.RetryConfig
	PoolSize int
}

func (c *OllamaConfig) applyDefaults() {
	c.Host = strings.TrimRight(c.Host, "/")
	if c.Host == "" {
		c.Host = DefaultOllamaHost
	}
	if c.Model == "" {
		c.Model = DefaultOllamaModel
	}
	switch {
	case c.BatchSize <= 0:
		c.BatchSize = DefaultBatchSize
	case c.BatchSize > MaxOllamaBatchSize:
		c.BatchSize = MaxOllamaBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry.Multiplier == 0 {
		c.Retry = cierrors.DefaultRetryConfig()
	}
	c.Retry.Retryable = retryableHTTP
}

// /api/embed and /api/tags wire types.
type (
	ollamaEmbedRequest struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	ollamaEmbedResponse struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	ollamaModel struct {
		Name string `json:"name"`
	}
	ollamaTags struct {
		Models []ollamaModel `json:"models"`
	}
)

// OllamaEmbedder talks to Ollama's HTTP API. Construction makes no
// request; the server is first contacted by Available or EmbedBatch.
type OllamaEmbedder struct {
	cfg       OllamaConfig
	http      *http.Client
	transport *http.Transport
	log       *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

func NewOllamaEmbedder(cfg OllamaConfig, logger *slog.Logger) *OllamaEmbedder {
	cfg.applyDefaults()
	tr := newTransport(cfg.PoolSize)
	return &OllamaEmbedder{
		cfg:       cfg,
		http:      &http.Client{Transport: tr},
		transport: tr,
		log:       logging.WithSource(logger, "embed.ollama"),
		dims:      cfg.Dimensions,
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends the non-blank texts in groups of BatchSize and returns
// one vector per input in input order. Blank texts get zero vectors.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	out := make([][]float32, len(texts))

	idx := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			idx = append(idx, i)
		}
	}
	for len(idx) > 0 {
		group := idx[:min(len(idx), e.cfg.BatchSize)]
		idx = idx[len(group):]

		input := make([]string, 0, len(group))
		for _, i := range group {
			input = append(input, texts[i])
		}
		vecs, err := e.embedRetrying(ctx, input)
		if err != nil {
			return nil, wrapFailure("ollama", err)
		}
		for k, i := range group {
			out[i] = vecs[k]
		}
	}

	dims := e.Dimensions()
	for i, v := range out {
		if v == nil {
			out[i] = make([]float32, dims)
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) embedRetrying(ctx context.Context, input []string) ([][]float32, error) {
	attempt := 0
	return cierrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
		attempt++
		vecs, err := e.post(ctx, input)
		if err != nil {
			e.log.Debug("ollama embed attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("texts", len(input)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

// post makes one /api/embed call and normalizes the returned vectors.
func (e *OllamaEmbedder) post(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	var resp ollamaEmbedResponse
	err = doJSON(ctx, e.http, e.cfg.Timeout, http.MethodPost, e.cfg.Host+"/api/embed", body, nil, &resp)
	if err != nil {
		return nil, err
	}
	if got := len(resp.Embeddings); got != len(input) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", got, len(input))
	}

	vecs := make([][]float32, 0, len(input))
	for _, raw := range resp.Embeddings {
		v := make([]float32, len(raw))
		for j := range raw {
			v[j] = float32(raw[j])
		}
		vecs = append(vecs, normalizeVector(v))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = len(vecs[0])
	}
	for _, v := range vecs {
		if len(v) != e.dims {
			return nil, &dimensionError{model: e.cfg.Model, want: e.dims, got: len(v)}
		}
	}
	return vecs, nil
}

// Dimensions is 0 until configured or learned from a response.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Available reports whether the server answers and has the model pulled.
// An unknown dimension is resolved here with a one-text request.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}

	var tags ollamaTags
	if err := doJSON(ctx, e.http, e.cfg.Timeout, http.MethodGet, e.cfg.Host+"/api/tags", nil, nil, &tags); err != nil {
		e.log.Debug("ollama unreachable", slog.String("host", e.cfg.Host), slog.String("error", err.Error()))
		return false
	}
	if !hasModel(tags.Models, e.cfg.Model) {
		e.log.Warn("embedding model not pulled", slog.String("model", e.cfg.Model))
		return false
	}

	if e.Dimensions() > 0 {
		return true
	}
	if _, err := e.post(ctx, []string{"dimension check"}); err != nil {
		e.log.Debug("dimension check failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// hasModel matches case-insensitively, and on the name before ":" so
// "nomic-embed-text" finds "nomic-embed-text:latest".
func hasModel(models []ollamaModel, want string) bool {
	want = strings.ToLower(want)
	wantBase, _, _ := strings.Cut(want, ":")
	for _, m := range models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || base == wantBase {
			return true
		}
	}
	return false
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close drops idle connections. It is safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
