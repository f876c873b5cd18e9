// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Index, Embedding, Search, Fusion, Breaker, Cache, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Sparse    SparseConfig    `yaml:"sparse"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Database  DatabaseConfig  `yaml:"database"`
	Builder   BuilderConfig   `yaml:"builder"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings for the query surface.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// IndexConfig fixes the shape of the vector spaces and where the index is
// persisted.
type IndexConfig struct {
	DataDir         string   `yaml:"dataDir"`
	InMemory        bool     `yaml:"inMemory"`
	Dimension       int      `yaml:"dimension"`
	Languages       []string `yaml:"languages"`
	DefaultLanguage string   `yaml:"defaultLanguage"`
	// CrossLingual stores every language in one shared vector space.
	CrossLingual bool `yaml:"crossLingual"`
}

// SupportsLanguage reports whether lang is one of the configured languages.
func (c IndexConfig) SupportsLanguage(lang string) bool {
	return slices.Contains(c.Languages, lang)
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	Token     string `yaml:"token"`
	CacheSize int    `yaml:"cacheSize"`
}

// SearchConfig controls query limits and per-stage deadlines.
type SearchConfig struct {
	DefaultLimit     int           `yaml:"defaultLimit"`
	MaxResults       int           `yaml:"maxResults"`
	CandidatePool    int           `yaml:"candidatePool"`
	MaxQueryLength   int           `yaml:"maxQueryLength"`
	QueryTimeout     time.Duration `yaml:"queryTimeout"`
	EmbedTimeout     time.Duration `yaml:"embedTimeout"`
	RetrievalTimeout time.Duration `yaml:"retrievalTimeout"`
}

// SparseConfig tunes lexical scoring.
type SparseConfig struct {
	// PartialCeiling caps non-exact scores so that only exact phrases reach 1.
	PartialCeiling float64 `yaml:"partialCeiling"`
}

// FusionConfig holds fusion weights and the confidence calibration curve.
type FusionConfig struct {
	DenseWeight            float64 `yaml:"denseWeight"`
	SparseWeight           float64 `yaml:"sparseWeight"`
	Steepness              float64 `yaml:"steepness"`
	Midpoint               float64 `yaml:"midpoint"`
	LowConfidenceThreshold float64 `yaml:"lowConfidenceThreshold"`
}

// CircuitConfig configures one circuit breaker.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	CoolDown         time.Duration `yaml:"coolDown"`
	Window           time.Duration `yaml:"window"`
}

// BreakerConfig holds the breakers guarding the dense retrieval path.
type BreakerConfig struct {
	Embedder    CircuitConfig `yaml:"embedder"`
	VectorIndex CircuitConfig `yaml:"vectorIndex"`
}

// CacheConfig controls result caching.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	OccupationEvents string `yaml:"occupationEvents"`
}

// DatabaseConfig points at the occupation catalog. Driver is "postgres" or
// "sqlite"; Path is only used by sqlite.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// BuilderConfig controls bulk index builds.
type BuilderConfig struct {
	Workers       int           `yaml:"workers"`
	RetryAttempts int           `yaml:"retryAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging around pipeline stages.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Index: IndexConfig{
			DataDir:         "data/index",
			Dimension:       768,
			Languages:       []string{"en", "hi", "ta", "bn", "mr"},
			DefaultLanguage: "en",
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Host:      "http://localhost:11434/v1",
			Model:     "paraphrase-multilingual-mpnet-base-v2",
			CacheSize: 10000,
		},
		Search: SearchConfig{
			DefaultLimit:     5,
			MaxResults:       10,
			CandidatePool:    50,
			MaxQueryLength:   500,
			QueryTimeout:     2 * time.Second,
			EmbedTimeout:     800 * time.Millisecond,
			RetrievalTimeout: 500 * time.Millisecond,
		},
		Sparse: SparseConfig{
			PartialCeiling: 0.95,
		},
		Fusion: FusionConfig{
			DenseWeight:            0.6,
			SparseWeight:           0.4,
			Steepness:              10,
			Midpoint:               0.5,
			LowConfidenceThreshold: 0.3,
		},
		Breaker: BreakerConfig{
			Embedder: CircuitConfig{
				FailureThreshold: 5,
				CoolDown:         30 * time.Second,
				Window:           time.Minute,
			},
			VectorIndex: CircuitConfig{
				FailureThreshold: 5,
				CoolDown:         15 * time.Second,
				Window:           time.Minute,
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "redis",
			TTL:        time.Hour,
			MaxEntries: 1000,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "nco-indexer",
			Topics: KafkaTopics{
				OccupationEvents: "occupation-events",
			},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "data/nco.db",
			Host:            "localhost",
			Port:            5432,
			Database:        "nco",
			User:            "nco",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Builder: BuilderConfig{
			Workers:       4,
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Index.Languages) == 0 {
		return fmt.Errorf("index.languages: at least one language must be supported")
	}
	if !c.Index.SupportsLanguage(c.Index.DefaultLanguage) {
		return fmt.Errorf("index.defaultLanguage %q is not in index.languages", c.Index.DefaultLanguage)
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search: need 0 < defaultLimit (%d) <= maxResults (%d)", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	if c.Search.CandidatePool < c.Search.MaxResults {
		return fmt.Errorf("search.candidatePool (%d) must be at least maxResults (%d)", c.Search.CandidatePool, c.Search.MaxResults)
	}
	if t := c.Fusion.LowConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("fusion.lowConfidenceThreshold must be between 0 and 1, got %v", t)
	}
	if c.Fusion.DenseWeight < 0 || c.Fusion.SparseWeight < 0 || c.Fusion.DenseWeight+c.Fusion.SparseWeight <= 0 {
		return fmt.Errorf("fusion weights must be non-negative with a positive sum")
	}
	if c.Fusion.Steepness <= 0 {
		return fmt.Errorf("fusion.steepness must be positive, got %v", c.Fusion.Steepness)
	}
	if p := c.Sparse.PartialCeiling; p <= 0 || p >= 1 {
		return fmt.Errorf("sparse.partialCeiling must be in (0,1), got %v", p)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	return nil
}

// applyEnvOverrides reads NCO_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NCO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NCO_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("NCO_INDEX_DIMENSION"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Index.Dimension = dim
		}
	}
	if v := os.Getenv("NCO_INDEX_LANGUAGES"); v != "" {
		cfg.Index.Languages = strings.Split(v, ",")
	}
	if v := os.Getenv("NCO_INDEX_DEFAULT_LANGUAGE"); v != "" {
		cfg.Index.DefaultLanguage = v
	}
	if v := os.Getenv("NCO_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("NCO_EMBEDDING_HOST"); v != "" {
		cfg.Embedding.Host = v
	}
	if v := os.Getenv("NCO_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("NCO_EMBEDDING_TOKEN"); v != "" {
		cfg.Embedding.Token = v
	}
	if v := os.Getenv("NCO_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("NCO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("NCO_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NCO_DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("NCO_DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("NCO_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("NCO_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NCO_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NCO_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NCO_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NCO_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("NCO_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
