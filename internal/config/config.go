// Package config loads codeindex configuration from defaults, the user
// config file, the project config file, and CODEINDEX_* environment
// variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// ProjectConfigName is the per-repository configuration file.
const ProjectConfigName = ".codeindex.yaml"

// DefaultDataDir holds the local store files, relative to the project root.
const DefaultDataDir = ".codeindex"

// Config represents the complete codeindex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Keyword    KeywordConfig    `yaml:"keyword" json:"keyword"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig configures which files discovery yields.
type PathsConfig struct {
	// Exclude holds gitignore-style patterns applied on top of .gitignore.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// MaxFileSizeMB skips larger files.
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of ollama, hosted, static.
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Dimensions is required for hosted and static; ollama asks the model.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	BatchSize  int `yaml:"batch_size" json:"batch_size"`
	// Host is the provider base URL. Empty picks the provider default.
	Host    string `yaml:"host" json:"host"`
	Timeout string `yaml:"timeout" json:"timeout"`

	// APIKeyEnv names the environment variable holding the hosted API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// SigningSecretEnv names the variable holding the request signing secret.
	SigningSecretEnv  string  `yaml:"signing_secret_env" json:"signing_secret_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// CacheSize is the number of embeddings kept in the LRU cache (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// StoreConfig configures the vector store.
type StoreConfig struct {
	// Backend is one of hnsw, sqlite, qdrant.
	Backend    string `yaml:"backend" json:"backend"`
	Collection string `yaml:"collection" json:"collection"`
	// Distance is cosine or euclid.
	Distance string `yaml:"distance" json:"distance"`
	// Path overrides the store file location (hnsw, sqlite).
	Path string `yaml:"path" json:"path"`
	// URL is the qdrant REST endpoint.
	URL       string `yaml:"url" json:"url"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// KeywordConfig configures the bleve text index kept beside the vectors.
type KeywordConfig struct {
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// IndexingConfig configures the coordinator.
type IndexingConfig struct {
	// Workers bounds how many files are processed concurrently.
	Workers int `yaml:"workers" json:"workers"`
	// EscalateAfter is how many consecutive backend-unavailable file
	// failures turn a run into an error.
	EscalateAfter int `yaml:"escalate_after" json:"escalate_after"`
}

// WatchConfig configures the change watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir,
		Paths: PathsConfig{
			MaxFileSizeMB: 10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "ollama",
			Model:             "nomic-embed-text",
			BatchSize:         32,
			Timeout:           "30s",
			APIKeyEnv:         "CODEINDEX_API_KEY",
			SigningSecretEnv:  "CODEINDEX_SIGNING_SECRET",
			RequestsPerSecond: 5,
			CacheSize:         10000,
		},
		Store: StoreConfig{
			Backend:    "hnsw",
			Collection: "code",
			Distance:   "cosine",
			URL:        "http://localhost:6333",
			APIKeyEnv:  "QDRANT_API_KEY",
			Timeout:    "10s",
		},
		Indexing: IndexingConfig{
			Workers:       4,
			EscalateAfter: 5,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration file path:
// $XDG_CONFIG_HOME/codeindex/config.yaml or ~/.config/codeindex/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codeindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codeindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "codeindex", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/codeindex/config.yaml)
//  3. Project config (.codeindex.yaml in dir)
//  4. Environment variables (CODEINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := filepath.Join(dir, ProjectConfigName); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads an explicit config file on top of defaults and env.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cierrors.New(cierrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cierrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(o *Config) {
	setInt(&c.Version, o.Version)
	setString(&c.DataDir, o.DataDir)

	// Excludes accumulate across layers.
	c.Paths.Exclude = append(c.Paths.Exclude, o.Paths.Exclude...)
	setInt(&c.Paths.MaxFileSizeMB, o.Paths.MaxFileSizeMB)

	e, oe := &c.Embeddings, o.Embeddings
	setString(&e.Provider, oe.Provider)
	setString(&e.Model, oe.Model)
	setInt(&e.Dimensions, oe.Dimensions)
	setInt(&e.BatchSize, oe.BatchSize)
	setString(&e.Host, oe.Host)
	setString(&e.Timeout, oe.Timeout)
	setString(&e.APIKeyEnv, oe.APIKeyEnv)
	setString(&e.SigningSecretEnv, oe.SigningSecretEnv)
	if oe.RequestsPerSecond != 0 {
		e.RequestsPerSecond = oe.RequestsPerSecond
	}
	setInt(&e.CacheSize, oe.CacheSize)

	s, so := &c.Store, o.Store
	setString(&s.Backend, so.Backend)
	setString(&s.Collection, so.Collection)
	setString(&s.Distance, so.Distance)
	setString(&s.Path, so.Path)
	setString(&s.URL, so.URL)
	setString(&s.APIKeyEnv, so.APIKeyEnv)
	setString(&s.Timeout, so.Timeout)

	if o.Keyword.Disabled {
		c.Keyword.Disabled = true
	}

	setInt(&c.Indexing.Workers, o.Indexing.Workers)
	setInt(&c.Indexing.EscalateAfter, o.Indexing.EscalateAfter)
	setString(&c.Watch.Debounce, o.Watch.Debounce)

	setString(&c.Logging.Level, o.Logging.Level)
	setString(&c.Logging.File, o.Logging.File)
	setInt(&c.Logging.MaxSizeMB, o.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, o.Logging.MaxFiles)
	if o.Logging.Stderr {
		c.Logging.Stderr = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies CODEINDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	envString := map[string]*string{
		"CODEINDEX_DATA_DIR":            &c.DataDir,
		"CODEINDEX_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"CODEINDEX_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"CODEINDEX_EMBEDDINGS_HOST":     &c.Embeddings.Host,
		"CODEINDEX_STORE_BACKEND":       &c.Store.Backend,
		"CODEINDEX_STORE_COLLECTION":    &c.Store.Collection,
		"CODEINDEX_STORE_URL":           &c.Store.URL,
		"CODEINDEX_WATCH_DEBOUNCE":      &c.Watch.Debounce,
		"CODEINDEX_LOG_LEVEL":           &c.Logging.Level,
	}
	for key, dst := range envString {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envInt := map[string]*int{
		"CODEINDEX_EMBEDDINGS_DIMENSIONS": &c.Embeddings.Dimensions,
		"CODEINDEX_INDEX_WORKERS":         &c.Indexing.Workers,
	}
	for key, dst := range envInt {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
}

var (
	validProviders = map[string]bool{"ollama": true, "hosted": true, "static": true}
	validBackends  = map[string]bool{"hnsw": true, "sqlite": true, "qdrant": true}
	validDistances = map[string]bool{"cosine": true, "euclid": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate returns a config error describing the first invalid value.
func (c *Config) Validate() error {
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return invalid("embeddings.provider", c.Embeddings.Provider, "ollama, hosted, or static")
	}
	if c.Embeddings.Provider != "ollama" && c.Embeddings.Dimensions <= 0 {
		return invalid("embeddings.dimensions", strconv.Itoa(c.Embeddings.Dimensions),
			"a positive vector size for the "+c.Embeddings.Provider+" provider")
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size", strconv.Itoa(c.Embeddings.BatchSize), "a positive batch size")
	}
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		return invalid("store.backend", c.Store.Backend, "hnsw, sqlite, or qdrant")
	}
	if c.Store.Collection == "" {
		return invalid("store.collection", "", "a collection name")
	}
	if !validDistances[strings.ToLower(c.Store.Distance)] {
		return invalid("store.distance", c.Store.Distance, "cosine or euclid")
	}
	if c.Indexing.Workers < 1 || c.Indexing.Workers > 16 {
		return invalid("indexing.workers", strconv.Itoa(c.Indexing.Workers), "between 1 and 16")
	}
	if c.Indexing.EscalateAfter < 1 {
		return invalid("indexing.escalate_after", strconv.Itoa(c.Indexing.EscalateAfter), "at least 1")
	}
	for field, v := range map[string]string{
		"watch.debounce":     c.Watch.Debounce,
		"embeddings.timeout": c.Embeddings.Timeout,
		"store.timeout":      c.Store.Timeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return invalid(field, v, "a positive duration such as 500ms")
		}
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("logging.level", c.Logging.Level, "debug, info, warn, or error")
	}
	return nil
}

func invalid(field, got, want string) error {
	return cierrors.ConfigError(fmt.Sprintf("%s must be %s, got %q", field, want, got), nil).
		WithDetail("field", field).
		WithSuggestion(fmt.Sprintf("fix %s in %s or the environment", field, ProjectConfigName))
}

// DebounceWindow returns the parsed watch debounce.
func (c *Config) DebounceWindow() time.Duration {
	return mustDuration(c.Watch.Debounce, 500*time.Millisecond)
}

// EmbeddingTimeout returns the per-request embedding timeout.
func (c *Config) EmbeddingTimeout() time.Duration {
	return mustDuration(c.Embeddings.Timeout, 30*time.Second)
}

// StoreTimeout returns the per-request store timeout.
func (c *Config) StoreTimeout() time.Duration {
	return mustDuration(c.Store.Timeout, 10*time.Second)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ResolveDataDir returns the absolute data directory for a project root.
func (c *Config) ResolveDataDir(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// a project config file. It returns startDir (absolute) if neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for dir := absDir; ; {
		if dirExists(filepath.Join(dir, ".git")) || fileExists(filepath.Join(dir, ProjectConfigName)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
