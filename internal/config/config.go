// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.blinko/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: embedding provider selection, credentials, model, dimensions
//   - Embedding override: a dedicated key/endpoint for embeddings that takes
//     precedence over the general provider credentials
//   - Retrieval: top-K, score threshold
//   - Indexing: collection name, exclusion tag, rebuild pacing
//   - Storage: PostgreSQL connection
//
// Security: sensitive fields (API keys, passwords) are masked in
// MarshalJSON and never logged in clear text.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidDimensions indicates the embedding dimensions are out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidTopK indicates the retrieval top-K value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidThreshold indicates the score threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid score threshold")

	// ErrInvalidPostgres indicates the PostgreSQL settings are incomplete.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidCollection indicates the vector collection name is unusable.
	ErrInvalidCollection = errors.New("invalid collection name")
)

// Embedding provider identifiers used in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderVoyage = "voyage"
)

// Defaults mirroring the shipped product configuration.
const (
	// DefaultOpenAIEmbeddingModel is used when the provider is OpenAI-compatible.
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

	// DefaultVoyageEmbeddingModel is used when the provider is Voyage.
	DefaultVoyageEmbeddingModel = "voyage-3-large"

	// DefaultCollection is the single vector collection holding the note corpus.
	DefaultCollection = "blinko"

	// DefaultScoreThreshold drops similarity hits at or below this score.
	DefaultScoreThreshold = 0.3

	// DefaultTopK is the number of nearest records fetched per query.
	DefaultTopK = 20
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// Embedding provider and credentials
	Provider    string `mapstructure:"provider" json:"provider"`         // "openai" (default) or "voyage"
	APIKey      string `mapstructure:"api_key" json:"api_key"`           // SENSITIVE: masked in MarshalJSON
	APIEndpoint string `mapstructure:"api_endpoint" json:"api_endpoint"` // optional base URL for OpenAI-compatible backends

	// Embedding-specific override. When EmbeddingAPIKey is set it takes
	// precedence over the general provider credentials, letting a chat LLM
	// provider be mixed with a different embedding provider.
	EmbeddingModel       string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingAPIKey      string `mapstructure:"embedding_api_key" json:"embedding_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbeddingAPIEndpoint string `mapstructure:"embedding_api_endpoint" json:"embedding_api_endpoint"`
	EmbeddingDimensions  int    `mapstructure:"embedding_dimensions" json:"embedding_dimensions"`

	// Retrieval configuration
	TopK           int     `mapstructure:"top_k" json:"top_k"`
	ScoreThreshold float64 `mapstructure:"score_threshold" json:"score_threshold"`

	// Indexing configuration
	Collection     string  `mapstructure:"collection" json:"collection"`
	ExcludeTagName string  `mapstructure:"exclude_tag_name" json:"exclude_tag_name"` // notes containing this tag name are never embedded
	EmbedRateLimit float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // embedding calls per second during rebuild (0 = unlimited)

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".blinko")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("embedding_model", "")
	v.SetDefault("embedding_dimensions", 1536)

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("score_threshold", DefaultScoreThreshold)

	v.SetDefault("collection", DefaultCollection)
	v.SetDefault("embed_rate_limit", 0)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "blinko")
	v.SetDefault("postgres_password", "blinko_dev_password")
	v.SetDefault("postgres_db_name", "blinko")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds sensitive environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "BLINKO_AI_PROVIDER")
	mustBind("api_key", "BLINKO_AI_API_KEY")
	mustBind("api_endpoint", "BLINKO_AI_API_ENDPOINT")
	mustBind("embedding_model", "BLINKO_EMBEDDING_MODEL")
	mustBind("embedding_api_key", "BLINKO_EMBEDDING_API_KEY")
	mustBind("embedding_api_endpoint", "BLINKO_EMBEDDING_API_ENDPOINT")
	mustBind("postgres_password", "BLINKO_POSTGRES_PASSWORD")
}

// parseDatabaseURL overrides the PostgreSQL fields from a postgres:// URL
// when one is supplied. Highest priority source for storage settings.
func (c *Config) parseDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := filepath.Base(u.Path); name != "." && name != "/" && name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// ResolvedEmbeddingModel returns the configured embedding model, falling
// back to the provider's default. Voyage keeps its own default even when
// the embedding credential override is set, since the override stays on
// the Voyage transport.
func (c *Config) ResolvedEmbeddingModel() string {
	if c.EmbeddingModel != "" {
		return c.EmbeddingModel
	}
	if c.Provider == ProviderVoyage {
		return DefaultVoyageEmbeddingModel
	}
	return DefaultOpenAIEmbeddingModel
}

// PostgresURL assembles a postgres:// connection URL from the individual
// storage fields.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// Validate fails fast on configuration the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderVoyage:
	default:
		return fmt.Errorf("%w: %q (supported: openai, voyage)", ErrInvalidProvider, c.Provider)
	}

	if c.APIKey == "" && c.EmbeddingAPIKey == "" {
		return fmt.Errorf("%w: set api_key or embedding_api_key", ErrMissingAPIKey)
	}

	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 16000 {
		return fmt.Errorf("%w: %d (must be 1-16000)", ErrInvalidDimensions, c.EmbeddingDimensions)
	}

	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.TopK)
	}

	if c.ScoreThreshold < 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("%w: %g (must be in [0, 1))", ErrInvalidThreshold, c.ScoreThreshold)
	}

	if c.Collection == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCollection)
	}

	if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
		return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}

	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked to prevent substring matching; longer ones keep two characters on
// each end for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new secret fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	a.EmbeddingAPIKey = maskSecret(a.EmbeddingAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
