// Package config loads research.yaml with viper and applies env overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/research/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
	"github.com/Kocoro-lab/Shannon/go/research/internal/livedata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/reports"
	"github.com/Kocoro-lab/Shannon/go/research/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/research/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/research/internal/synthesis"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/research/internal/vectordb"
)

// DefaultPath is used when neither an explicit path nor CONFIG_PATH is set.
const DefaultPath = "./config/research.yaml"

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	MetricsPort  int           `mapstructure:"metrics_port" yaml:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// RedisConfig is shared by the embedding cache (go-redis v8) and the live
// data cache (go-redis v9).
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Config is the full service configuration.
type Config struct {
	Environment string            `mapstructure:"environment" yaml:"environment"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Database    reports.Config    `mapstructure:"database" yaml:"database"`
	Tracing     tracing.Config    `mapstructure:"tracing" yaml:"tracing"`
	LLM         llm.Config        `mapstructure:"llm" yaml:"llm"`
	Embeddings  embeddings.Config `mapstructure:"embeddings" yaml:"embeddings"`
	VectorDB    vectordb.Config   `mapstructure:"vectordb" yaml:"vectordb"`
	Retrieval   retrieval.Config  `mapstructure:"retrieval" yaml:"retrieval"`
	LiveData    livedata.Config   `mapstructure:"live_data" yaml:"live_data"`
	Synthesis   synthesis.Options `mapstructure:"synthesis" yaml:"synthesis"`
	Scoring     scoring.Config    `mapstructure:"scoring" yaml:"scoring"`
	Insights    insights.Config   `mapstructure:"insights" yaml:"insights"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("http.port", 8081)
	v.SetDefault("http.metrics_port", 2112)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 150*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "research")
	v.SetDefault("database.database", "research")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.default_credits", reports.DefaultCredits)

	v.SetDefault("tracing.service_name", "research-synthesizer")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("llm.provider", llm.ProviderService)
	v.SetDefault("llm.model_tier", "large")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("embeddings.default_model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 5*time.Second)
	v.SetDefault("embeddings.cache_ttl", time.Hour)

	v.SetDefault("vectordb.enabled", true)
	v.SetDefault("vectordb.host", "localhost")
	v.SetDefault("vectordb.port", 6333)
	v.SetDefault("vectordb.document_chunks", "document_chunks")
	v.SetDefault("vectordb.top_k", 8)
	v.SetDefault("vectordb.timeout", 5*time.Second)
	v.SetDefault("vectordb.mmr_lambda", 0.7)
	v.SetDefault("vectordb.mmr_pool_multiplier", 3)

	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.mmr_lambda", 0.7)

	v.SetDefault("live_data.max_results", 5)
	v.SetDefault("live_data.timeout", 8*time.Second)
	v.SetDefault("live_data.rate_per_second", 2.0)
	v.SetDefault("live_data.burst", 4)
	v.SetDefault("live_data.cache_ttl", 10*time.Minute)

	def := synthesis.DefaultOptions()
	v.SetDefault("synthesis.max_document_sources", def.MaxDocumentSources)
	v.SetDefault("synthesis.max_live_sources", def.MaxLiveSources)
	v.SetDefault("synthesis.max_prompt_sources", def.MaxPromptSources)
	v.SetDefault("synthesis.max_insights", def.MaxInsights)
	v.SetDefault("synthesis.document_timeout", def.DocumentTimeout)
	v.SetDefault("synthesis.live_data_timeout", def.LiveDataTimeout)
	v.SetDefault("synthesis.generation_timeout", def.GenerationTimeout)
	v.SetDefault("synthesis.retry_backoff", def.RetryBackoff)
	v.SetDefault("synthesis.registry.duplicate_overlap", def.Registry.DuplicateOverlap)

	sc := scoring.DefaultConfig()
	v.SetDefault("scoring.penalty_per_marker", sc.PenaltyPerMarker)
	v.SetDefault("scoring.penalty_floor", sc.PenaltyFloor)
	v.SetDefault("scoring.half_life", sc.HalfLife)
	v.SetDefault("scoring.combine", sc.Combine)

	ic := insights.DefaultConfig()
	v.SetDefault("insights.max_insights", ic.MaxInsights)
	v.SetDefault("insights.max_chars", ic.MaxChars)
}

// ResolvePath returns path, CONFIG_PATH, or DefaultPath, in that order.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the config file (a missing file means defaults), then applies
// env overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case llm.ProviderService, llm.ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", llm.ProviderService, llm.ProviderOpenAI, c.LLM.Provider)
	}
	if c.Scoring.Combine != scoring.CombineMean && c.Scoring.Combine != scoring.CombineMax {
		return fmt.Errorf("scoring.combine must be %q or %q, got %q", scoring.CombineMean, scoring.CombineMax, c.Scoring.Combine)
	}
	if c.Scoring.PenaltyFloor < 0 || c.Scoring.PenaltyFloor > 1 {
		return fmt.Errorf("scoring.penalty_floor must be within [0,1], got %v", c.Scoring.PenaltyFloor)
	}
	if o := c.Synthesis.Registry.DuplicateOverlap; o < 0 || o > 1 {
		return fmt.Errorf("synthesis.registry.duplicate_overlap must be within [0,1], got %v", o)
	}
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be positive, got %d", c.HTTP.Port)
	}
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.HTTP.Port = x
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.HTTP.MetricsPort = x
		}
	}

	if v := os.Getenv("LLM_SERVICE_URL"); v != "" {
		c.LLM.BaseURL = v
		c.Embeddings.BaseURL = v
		c.LiveData.BaseURL = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.Database.Port = x
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Database.Database = v
	}

	if v := os.Getenv("QDRANT_HOST"); v != "" {
		c.VectorDB.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			c.VectorDB.Port = x
		}
	}

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
		c.Tracing.Enabled = true
	}
}
