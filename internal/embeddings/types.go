package embeddings

import "time"

// Config controls the embedding client.
type Config struct {
	// BaseURL points to the LLM service exposing /embeddings/.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// DefaultModel is used when callers pass no model.
	DefaultModel string `mapstructure:"default_model" yaml:"default_model"`
	// Timeout bounds each outbound call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// EnableRedis adds the shared Redis cache behind the in-process LRU.
	EnableRedis bool `mapstructure:"enable_redis" yaml:"enable_redis"`
	// CacheTTL is the Redis entry lifetime.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// LRUTTL is the in-process entry lifetime.
	LRUTTL time.Duration `mapstructure:"lru_ttl" yaml:"lru_ttl"`
	// MaxLRU bounds the in-process cache.
	MaxLRU int `mapstructure:"max_lru" yaml:"max_lru"`
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.LRUTTL == 0 {
		c.LRUTTL = 30 * time.Minute
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	return c
}
