package vectordb

import "time"

// Config controls the Qdrant client.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
	// DocumentChunks is the collection holding embedded document chunks.
	DocumentChunks string        `mapstructure:"document_chunks" yaml:"document_chunks"`
	TopK           int           `mapstructure:"top_k" yaml:"top_k"`
	Threshold      float64       `mapstructure:"threshold" yaml:"threshold"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ExpectedEmbeddingDim is checked against the collection at startup when positive.
	ExpectedEmbeddingDim int `mapstructure:"expected_embedding_dim" yaml:"expected_embedding_dim"`
	// MMR (diversity) re-ranking of the candidate pool.
	MMREnabled        bool    `mapstructure:"mmr_enabled" yaml:"mmr_enabled"`
	MMRLambda         float64 `mapstructure:"mmr_lambda" yaml:"mmr_lambda"`
	MMRPoolMultiplier int     `mapstructure:"mmr_pool_multiplier" yaml:"mmr_pool_multiplier"`
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.DocumentChunks == "" {
		c.DocumentChunks = "document_chunks"
	}
	if c.TopK == 0 {
		c.TopK = 8
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MMRLambda == 0 {
		c.MMRLambda = 0.7
	}
	if c.MMRPoolMultiplier == 0 {
		c.MMRPoolMultiplier = 3
	}
	return c
}

// DocumentHit is one scored chunk returned by a search.
type DocumentHit struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
	// Vector is set only when the search asked for vectors (MMR).
	Vector []float32 `json:"-"`
}

// CollectionInfo holds basic information about a collection.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}
