package embed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

// Hosted API headers
const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
)

// HostedConfig configures an OpenAI-compatible embedding API.
type HostedConfig struct {
	// BaseURL is the API root; requests go to BaseURL + "/embeddings"
	BaseURL string

	Model      string
	Dimensions int

	// APIKey is sent as a bearer token when set
	APIKey string

	// SigningSecret, when set, adds an HMAC-SHA256 signature of
	// "<timestamp>.<body>" to every request
	SigningSecret string

	// BatchSize for each request (default: 32, max: 2048)
	BatchSize int

	// RequestsPerSecond throttles requests (0 = unlimited)
	RequestsPerSecond float64

	Timeout time.Duration
	Retry   cierrors.RetryConfig
}

type hostedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type hostedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// HostedEmbedder calls a remote embedding API with optional request signing.
type HostedEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    HostedConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HostedEmbedder)(nil)

// NewHostedEmbedder creates a hosted embedder.
func NewHostedEmbedder(cfg HostedConfig, logger *slog.Logger) (*HostedEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, cierrors.ConfigError("hosted embeddings need embeddings.host", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, cierrors.ConfigError("hosted embeddings need embeddings.dimensions", nil)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxHostedBatchSize {
		cfg.BatchSize = MaxHostedBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = cierrors.DefaultRetryConfig()
	}
	cfg.Retry.Retryable = retryableHTTP

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	transport := newTransport(defaultPoolSize)
	return &HostedEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		limiter:   limiter,
		logger:    logging.WithSource(logger, "embed.hosted"),
		now:       time.Now,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>" under secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Embed generates embedding for a single text
func (e *HostedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in sub-batches, preserving input order.
func (e *HostedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		vecs, err := cierrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
			return e.doEmbed(ctx, texts[start:end])
		})
		if err != nil {
			return nil, wrapFailure("hosted", err)
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *HostedEmbedder) doEmbed(ctx context.Context, input []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Providers reject empty strings; a single space embeds to a near-zero vector.
	sanitized := make([]string, len(input))
	for i, s := range input {
		if strings.TrimSpace(s) == "" {
			s = " "
		}
		sanitized[i] = s
	}
	body, err := json.Marshal(hostedRequest{Model: e.config.Model, Input: sanitized, Dimensions: e.config.Dimensions})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{}
	if e.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + e.config.APIKey
	}
	if e.config.SigningSecret != "" {
		ts := strconv.FormatInt(e.now().Unix(), 10)
		headers[TimestampHeader] = ts
		headers[SignatureHeader] = "sha256=" + Sign(e.config.SigningSecret, ts, body)
	}

	var resp hostedResponse
	if err := doJSON(ctx, e.client, e.config.Timeout, http.MethodPost, e.config.BaseURL+"/embeddings", body, headers, &resp); err != nil {
		e.logger.Debug("embedding_attempt_failed",
			slog.Int("texts_count", len(input)),
			slog.String("error", err.Error()))
		return nil, err
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Data), len(input))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != e.config.Dimensions {
			return nil, &dimensionError{model: e.config.Model, want: e.config.Dimensions, got: len(d.Embedding)}
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension
func (e *HostedEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier
func (e *HostedEmbedder) ModelName() string {
	return e.config.Model
}

// Available embeds a short test string.
func (e *HostedEmbedder) Available(ctx context.Context) bool {
	_, err := e.doEmbed(ctx, []string{"availability check"})
	if err != nil {
		e.logger.Debug("hosted provider not available", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Close releases resources
func (e *HostedEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
