package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/codeindex/internal/config"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// Files created under the data directory.
const (
	HNSWFileName   = "vectors.db"
	SQLiteFileName = "vectors.sqlite"
	KeywordDirName = "keyword.bleve"
)

// New opens the configured vector store. Relative store paths resolve
// against dataDir.
func New(cfg config.StoreConfig, dataDir string, timeout time.Duration, logger *slog.Logger) (VectorStore, error) {
	path := func(def string) string {
		if cfg.Path == "" {
			return filepath.Join(dataDir, def)
		}
		if filepath.IsAbs(cfg.Path) {
			return cfg.Path
		}
		return filepath.Join(dataDir, cfg.Path)
	}

	var (
		s   VectorStore
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", backendHNSW:
		s, err = NewHNSWStore(HNSWConfig{Path: path(HNSWFileName), Logger: logger})
	case backendSQLite:
		s, err = NewSQLiteStore(path(SQLiteFileName), logger)
	case backendQdrant:
		var key string
		if cfg.APIKeyEnv != "" {
			key = os.Getenv(cfg.APIKeyEnv)
		}
		s, err = NewQdrantStore(QdrantConfig{URL: cfg.URL, APIKey: key, Timeout: timeout, Logger: logger})
	default:
		return nil, cierrors.New(cierrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown store backend %q", cfg.Backend), nil).
			WithSuggestion("use hnsw, sqlite, or qdrant")
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenKeyword opens the keyword index under dataDir, or returns nil when
// it is disabled.
func OpenKeyword(cfg config.KeywordConfig, dataDir string, logger *slog.Logger) (*KeywordIndex, error) {
	if cfg.Disabled {
		return nil, nil
	}
	return OpenKeywordIndex(filepath.Join(dataDir, KeywordDirName), logger)
}
