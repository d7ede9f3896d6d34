package embed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Aman-CERP/codeindex/internal/config"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server
	ProviderOllama ProviderType = "ollama"

	// ProviderHosted uses an OpenAI-compatible API with request signing
	ProviderHosted ProviderType = "hosted"

	// ProviderStatic uses hash-based embeddings (tests, offline)
	ProviderStatic ProviderType = "static"
)

// ParseProvider normalizes a provider name.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderHosted, ProviderStatic:
		return p, nil
	default:
		return "", cierrors.New(cierrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown embedding provider %q", s), nil).
			WithSuggestion("set embeddings.provider to ollama, hosted, or static")
	}
}

// NewEmbedder builds the embedder selected by cfg.Provider. When
// cfg.CacheSize is positive the result is wrapped in a CachedEmbedder.
func NewEmbedder(cfg config.EmbeddingsConfig, timeout time.Duration, logger *slog.Logger) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	switch provider {
	case ProviderOllama:
		embedder = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    timeout,
			Retry:      cierrors.DefaultRetryConfig(),
		}, logger)

	case ProviderHosted:
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, cierrors.New(cierrors.ErrCodeMissingAPIKey,
				fmt.Sprintf("hosted embeddings need an API key in $%s", cfg.APIKeyEnv), nil).
				WithSuggestion("export " + cfg.APIKeyEnv + " or change embeddings.api_key_env")
		}
		hosted, err := NewHostedEmbedder(HostedConfig{
			BaseURL:           cfg.Host,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			APIKey:            apiKey,
			SigningSecret:     os.Getenv(cfg.SigningSecretEnv),
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           timeout,
			Retry:             cierrors.DefaultRetryConfig(),
		}, logger)
		if err != nil {
			return nil, err
		}
		embedder = hosted

	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	}

	if cfg.CacheSize > 0 && provider != ProviderStatic {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}
