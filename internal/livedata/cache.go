package livedata

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
)

// Cache stores search results per query. Implementations are best effort.
type Cache interface {
	Get(ctx context.Context, key string) ([]citations.Evidence, bool, error)
	Set(ctx context.Context, key string, evidence []citations.Evidence, ttl time.Duration) error
}

// CacheKey derives the cache key for a query. Case and whitespace do not matter.
func CacheKey(query string, maxResults int) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s", maxResults, norm)))
	return "live:" + hex.EncodeToString(sum[:])
}

// cachedEvidence is the stored form of one result.
type cachedEvidence struct {
	Text      string     `json:"text"`
	Title     string     `json:"title"`
	Locator   string     `json:"locator"`
	Score     float64    `json:"score"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	CachedAt  time.Time  `json:"cached_at"`
}

// RedisCache keeps results as JSON in Redis behind a breaker.
type RedisCache struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// NewRedisCache wraps client.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker("redis-live", circuitbreaker.RedisSettings().ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("redis-live", "live-data", cb)
	return &RedisCache{client: client, cb: cb, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]citations.Evidence, bool, error) {
	var raw []byte
	err := c.cb.Execute(ctx, func() error {
		var getErr error
		raw, getErr = c.client.Get(ctx, key).Bytes()
		if errors.Is(getErr, redis.Nil) {
			return nil
		}
		return getErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("live cache get: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	var stored []cachedEvidence
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("decode live cache entry: %w", err)
	}
	out := make([]citations.Evidence, 0, len(stored))
	for _, s := range stored {
		out = append(out, citations.Evidence{
			Text:           s.Text,
			Title:          s.Title,
			Locator:        s.Locator,
			RelevanceScore: s.Score,
			Timestamp:      s.Timestamp,
		})
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, evidence []citations.Evidence, ttl time.Duration) error {
	now := time.Now().UTC()
	stored := make([]cachedEvidence, 0, len(evidence))
	for _, ev := range evidence {
		stored = append(stored, cachedEvidence{
			Text:      ev.Text,
			Title:     ev.Title,
			Locator:   ev.Locator,
			Score:     ev.RelevanceScore,
			Timestamp: ev.Timestamp,
			CachedAt:  now,
		})
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	err = c.cb.Execute(ctx, func() error {
		return c.client.Set(ctx, key, raw, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("live cache set: %w", err)
	}
	return nil
}
