// Package config loads amanrank configuration from defaults, YAML files and
// AMANRANK_* environment variables. A Config is built once at startup and is
// read-only afterwards.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/logging"
)

// Backend and provider names.
const (
	BackendOpenSearch = "opensearch"
	BackendLocal      = "local"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"

	RerankerHTTP = "http"
	RerankerNone = "none"
)

// ProjectConfigNames are the project config file names, in lookup order.
var ProjectConfigNames = []string{".amanrank.yaml", ".amanrank.yml"}

// Config represents the complete amanrank configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Keywords   KeywordsConfig   `yaml:"keywords" json:"keywords"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Breaker    BreakerConfig    `yaml:"breaker" json:"breaker"`
}

// IndexConfig configures the passage index.
type IndexConfig struct {
	// Backend is "opensearch" (remote REST) or "local" (bleve + hnsw + sqlite).
	Backend string `yaml:"backend" json:"backend"`
	URL     string `yaml:"url" json:"url"`
	Name    string `yaml:"name" json:"name"`

	Username string `yaml:"username" json:"username"`
	// Password is only read from AMANRANK_INDEX_PASSWORD.
	Password string `yaml:"-" json:"-"`

	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout"`

	// Path is the directory of the local backend.
	Path string `yaml:"path" json:"path"`
	// BulkSize is the number of documents per bulk request when loading.
	BulkSize int `yaml:"bulk_size" json:"bulk_size"`
}

// EmbeddingsConfig configures the query/passage embedder.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Models is the ordered fallback list; the first model that loads wins.
	Models []string `yaml:"models" json:"models"`
	// APIKey is only read from AMANRANK_OPENAI_API_KEY.
	APIKey string `yaml:"-" json:"-"`

	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	CacheSize int           `yaml:"cache_size" json:"cache_size"`
	// Dimensions is used by the static provider only.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// RerankerConfig configures the cross-encoder service.
type RerankerConfig struct {
	// Provider is "http" or "none". With "none" ranking is keyword-only.
	Provider string        `yaml:"provider" json:"provider"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Models   []string      `yaml:"models" json:"models"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig configures retrieval depth and score fusion.
type SearchConfig struct {
	// RetrieveTopK is the candidate count of the chat path.
	RetrieveTopK int `yaml:"retrieve_top_k" json:"retrieve_top_k"`
	// SearchTopK is the candidate count used by the CLI by default.
	SearchTopK int `yaml:"search_top_k" json:"search_top_k"`
	// TopK is the number of passages returned after reranking.
	TopK int `yaml:"top_k" json:"top_k"`
	// RerankTopK is the result count of the web result reranker.
	RerankTopK int `yaml:"rerank_top_k" json:"rerank_top_k"`

	KeywordPool int `yaml:"keyword_pool" json:"keyword_pool"`
	ZeroPool    int `yaml:"zero_pool" json:"zero_pool"`

	// CrossWeight + KeywordWeight must equal 1.0.
	CrossWeight   float64 `yaml:"cross_weight" json:"cross_weight"`
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// NormalizeKeywordScore maps keyword scores into [0,1) before fusion.
	NormalizeKeywordScore bool `yaml:"normalize_keyword_score" json:"normalize_keyword_score"`

	MatchBoost  float64 `yaml:"match_boost" json:"match_boost"`
	PhraseBoost float64 `yaml:"phrase_boost" json:"phrase_boost"`
}

// KeywordsConfig holds the word lists of the keyword scorer.
type KeywordsConfig struct {
	TriggerWords       []string `yaml:"trigger_words" json:"trigger_words"`
	Important          []string `yaml:"important" json:"important"`
	MinProperNounWords int      `yaml:"min_proper_noun_words" json:"min_proper_noun_words"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// BreakerConfig configures the circuit breaker in front of the index.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32 `yaml:"max_failures" json:"max_failures"`
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout"`
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	HalfOpenRequests uint32 `yaml:"half_open_requests" json:"half_open_requests"`
	// Interval clears failure counts while closed. Zero never clears.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DefaultMinProperNounWords is the shortest run of capitalized words that
// counts as a name. 1 also scores single capitalized words.
const DefaultMinProperNounWords = 2

// Default word lists of the keyword scorer.
var (
	DefaultTriggerWords = []string{"sinh", "năm", "born"}
	DefaultImportant    = []string{
		"giám đốc", "chủ tịch", "tổng giám đốc", "phó", "trưởng",
		"ông", "bà", "director", "chairman",
	}
	DefaultEmbeddingModels = []string{
		"paraphrase-multilingual-MiniLM-L12-v2",
		"all-MiniLM-L12-v2",
		"all-MiniLM-L6-v2",
	}
	DefaultRerankerModels = []string{
		"cross-encoder/ms-marco-MiniLM-L-12-v2",
		"cross-encoder/ms-marco-MiniLM-L-6-v2",
	}
)

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Backend:  BackendOpenSearch,
			URL:      "http://localhost:9200",
			Name:     "chatbot_docs",
			Timeout:  10 * time.Second,
			Path:     defaultIndexPath(),
			BulkSize: 50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   ProviderOllama,
			Endpoint:   "http://localhost:11434",
			Models:     append([]string(nil), DefaultEmbeddingModels...),
			Timeout:    10 * time.Second,
			BatchSize:  32,
			CacheSize:  1000,
			Dimensions: 384,
		},
		Reranker: RerankerConfig{
			Provider: RerankerHTTP,
			Endpoint: "http://localhost:8080",
			Models:   append([]string(nil), DefaultRerankerModels...),
			Timeout:  30 * time.Second,
		},
		Search: SearchConfig{
			RetrieveTopK:  30,
			SearchTopK:    50,
			TopK:          10,
			RerankTopK:    5,
			KeywordPool:   15,
			ZeroPool:      10,
			CrossWeight:   0.7,
			KeywordWeight: 0.3,
			MatchBoost:    0.5,
			PhraseBoost:   1.0,
		},
		Keywords: KeywordsConfig{
			TriggerWords:       append([]string(nil), DefaultTriggerWords...),
			Important:          append([]string(nil), DefaultImportant...),
			MinProperNounWords: DefaultMinProperNounWords,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxFailures:      5,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 3,
			Interval:         time.Minute,
		},
	}
}

func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrank", "index")
	}
	return filepath.Join(home, ".amanrank", "index")
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/amanrank/config.yaml, or ~/.config/amanrank/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrank", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrank", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrank", "config.yaml")
}

// Load loads configuration for the given directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config ($XDG_CONFIG_HOME/amanrank/config.yaml)
//  3. Project config (.amanrank.yaml or .amanrank.yml in dir)
//  4. Environment variables (AMANRANK_*)
//
// The result is validated; any failure is a fatal configuration error.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if path := FindProjectConfig(dir); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FindProjectConfig returns the project config file in dir, or "".
// .yaml takes precedence over .yml.
func FindProjectConfig(dir string) string {
	for _, name := range ProjectConfigNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// loadYAML overlays the keys present in the file onto c.
// Keys absent from the file keep their current value, so explicit false
// and zero values are honoured.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeConfigPermission,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return amerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies AMANRANK_* environment variable overrides.
// Credentials are only ever read here.
func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		env string
		dst *string
	}{
		{"AMANRANK_INDEX_BACKEND", &c.Index.Backend},
		{"AMANRANK_INDEX_URL", &c.Index.URL},
		{"AMANRANK_INDEX_NAME", &c.Index.Name},
		{"AMANRANK_INDEX_PATH", &c.Index.Path},
		{"AMANRANK_INDEX_USERNAME", &c.Index.Username},
		{"AMANRANK_INDEX_PASSWORD", &c.Index.Password},
		{"AMANRANK_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider},
		{"AMANRANK_EMBEDDINGS_ENDPOINT", &c.Embeddings.Endpoint},
		{"AMANRANK_OPENAI_API_KEY", &c.Embeddings.APIKey},
		{"AMANRANK_RERANKER_PROVIDER", &c.Reranker.Provider},
		{"AMANRANK_RERANKER_ENDPOINT", &c.Reranker.Endpoint},
		{"AMANRANK_LOG_LEVEL", &c.Logging.Level},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("AMANRANK_EMBEDDINGS_MODELS"); v != "" {
		c.Embeddings.Models = splitList(v)
	}
	if v := os.Getenv("AMANRANK_RERANKER_MODELS"); v != "" {
		c.Reranker.Models = splitList(v)
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{"AMANRANK_CROSS_WEIGHT", &c.Search.CrossWeight},
		{"AMANRANK_KEYWORD_WEIGHT", &c.Search.KeywordWeight},
	}
	for _, f := range floats {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return amerrors.ConfigError(fmt.Sprintf("%s must be a number, got %q", f.env, v), err)
		}
		*f.dst = parsed
	}

	if v := os.Getenv("AMANRANK_INDEX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return amerrors.ConfigError(fmt.Sprintf("AMANRANK_INDEX_TIMEOUT must be a duration, got %q", v), err)
		}
		c.Index.Timeout = d
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration. Every failure is a fatal
// configuration error.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return amerrors.ConfigError(fmt.Sprintf(format, args...), nil).
			WithSuggestion("Fix the value in .amanrank.yaml or the matching AMANRANK_* variable")
	}

	switch c.Index.Backend {
	case BackendOpenSearch:
		if c.Index.URL == "" {
			return invalid("index.url is required for the opensearch backend")
		}
	case BackendLocal:
		if c.Index.Path == "" {
			return invalid("index.path is required for the local backend")
		}
	default:
		return invalid("index.backend must be 'opensearch' or 'local', got %q", c.Index.Backend)
	}
	if c.Index.Name == "" {
		return invalid("index.name must not be empty")
	}
	if c.Index.Timeout <= 0 {
		return invalid("index.timeout must be positive, got %s", c.Index.Timeout)
	}
	if c.Index.BulkSize <= 0 {
		return invalid("index.bulk_size must be positive, got %d", c.Index.BulkSize)
	}

	switch c.Embeddings.Provider {
	case ProviderOllama, ProviderOpenAI:
		if c.Embeddings.Endpoint == "" {
			return invalid("embeddings.endpoint is required for provider %s", c.Embeddings.Provider)
		}
	case ProviderStatic:
		if c.Embeddings.Dimensions <= 0 {
			return invalid("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
		}
	default:
		return invalid("embeddings.provider must be 'ollama', 'openai' or 'static', got %q", c.Embeddings.Provider)
	}
	if len(c.Embeddings.Models) == 0 && c.Embeddings.Provider != ProviderStatic {
		return invalid("embeddings.models must list at least one model")
	}
	if c.Embeddings.Timeout <= 0 {
		return invalid("embeddings.timeout must be positive, got %s", c.Embeddings.Timeout)
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.CacheSize < 0 {
		return invalid("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	switch c.Reranker.Provider {
	case RerankerHTTP:
		if c.Reranker.Endpoint == "" {
			return invalid("reranker.endpoint is required for the http reranker")
		}
		if len(c.Reranker.Models) == 0 {
			return invalid("reranker.models must list at least one model")
		}
	case RerankerNone:
	default:
		return invalid("reranker.provider must be 'http' or 'none', got %q", c.Reranker.Provider)
	}
	if c.Reranker.Timeout <= 0 {
		return invalid("reranker.timeout must be positive, got %s", c.Reranker.Timeout)
	}

	s := c.Search
	for name, v := range map[string]int{
		"search.retrieve_top_k": s.RetrieveTopK,
		"search.search_top_k":   s.SearchTopK,
		"search.top_k":          s.TopK,
		"search.rerank_top_k":   s.RerankTopK,
	} {
		if v <= 0 {
			return invalid("%s must be positive, got %d", name, v)
		}
	}
	if s.KeywordPool < 0 || s.ZeroPool < 0 || s.KeywordPool+s.ZeroPool == 0 {
		return invalid("search.keyword_pool and search.zero_pool must be non-negative and not both zero")
	}
	if s.CrossWeight < 0 || s.CrossWeight > 1 {
		return invalid("search.cross_weight must be between 0 and 1, got %g", s.CrossWeight)
	}
	if s.KeywordWeight < 0 || s.KeywordWeight > 1 {
		return invalid("search.keyword_weight must be between 0 and 1, got %g", s.KeywordWeight)
	}
	if sum := s.CrossWeight + s.KeywordWeight; math.Abs(sum-1.0) > 0.01 {
		return invalid("search.cross_weight + search.keyword_weight must equal 1.0, got %.2f", sum)
	}
	if s.MatchBoost < 0 || s.PhraseBoost < 0 {
		return invalid("search.match_boost and search.phrase_boost must be non-negative")
	}

	if n := c.Keywords.MinProperNounWords; n < 1 || n > 2 {
		return invalid("keywords.min_proper_noun_words must be 1 or 2, got %d", n)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	if c.Breaker.Enabled {
		if c.Breaker.MaxFailures == 0 {
			return invalid("breaker.max_failures must be positive")
		}
		if c.Breaker.OpenTimeout <= 0 {
			return invalid("breaker.open_timeout must be positive, got %s", c.Breaker.OpenTimeout)
		}
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
// Credentials are tagged yaml:"-" and never written.
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

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
