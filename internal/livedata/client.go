// Package livedata searches live web sources through the LLM service's
// web_search tool.
package livedata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	ometrics "github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

const defaultRelevance = 0.5

// ErrSearchFailed is returned when the tool reports success=false.
var ErrSearchFailed = errors.New("live search failed")

// Config controls the live data client.
type Config struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	MaxResults    int           `mapstructure:"max_results" yaml:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst" yaml:"burst"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Client runs rate-limited, cached web searches.
type Client struct {
	cfg     Config
	httpw   *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	cache   Cache
	logger  *zap.Logger
}

// NewClient builds a client. cache may be nil.
func NewClient(cfg Config, cache Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	return &Client{
		cfg:     c,
		httpw:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: c.Timeout}, "web-search", "llm-service", logger),
		limiter: rate.NewLimiter(rate.Limit(c.RatePerSecond), c.Burst),
		cache:   cache,
		logger:  logger,
	}
}

type executeRequest struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

type executeResponse struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output"`
	Error   string          `json:"error"`
}

type searchResult struct {
	Title         string      `json:"title"`
	URL           string      `json:"url"`
	Text          string      `json:"text"`
	Snippet       string      `json:"snippet"`
	Content       string      `json:"content"`
	Score         *float64    `json:"score"`
	PublishedDate interface{} `json:"published_date"`
}

// Search returns live evidence for query in the tool's ranking order.
func (c *Client) Search(ctx context.Context, query string) ([]citations.Evidence, error) {
	key := CacheKey(query, c.cfg.MaxResults)
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("Live cache read failed", zap.Error(err))
		case ok:
			ometrics.LiveCacheHits.Inc()
			return cached, nil
		default:
			ometrics.LiveCacheMisses.Inc()
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("live search rate limit: %w", err)
	}

	results, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}
	evidence := make([]citations.Evidence, 0, len(results))
	for _, r := range results {
		if ev, ok := toEvidence(r); ok {
			evidence = append(evidence, ev)
		}
	}

	if c.cache != nil && len(evidence) > 0 {
		if err := c.cache.Set(ctx, key, evidence, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("Live cache write failed", zap.Error(err))
		}
	}
	return evidence, nil
}

func (c *Client) execute(ctx context.Context, query string) ([]searchResult, error) {
	url := c.cfg.BaseURL + "/tools/execute"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	buf, err := json.Marshal(executeRequest{
		ToolName:   "web_search",
		Parameters: map[string]interface{}{"query": query, "max_results": c.cfg.MaxResults},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("live search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var er executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode live search response: %w", err)
	}
	if !er.Success {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, er.Error)
	}
	return decodeOutput(er.Output)
}

// decodeOutput accepts a bare result array or {"results": [...]}.
func decodeOutput(raw json.RawMessage) ([]searchResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var list []searchResult
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode live search output: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Results []searchResult `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode live search output: %w", err)
	}
	return wrapped.Results, nil
}

func toEvidence(r searchResult) (citations.Evidence, bool) {
	if strings.TrimSpace(r.URL) == "" {
		return citations.Evidence{}, false
	}
	locator, err := citations.NormalizeURL(r.URL)
	if err != nil {
		return citations.Evidence{}, false
	}
	text := firstNonEmpty(r.Text, r.Snippet, r.Content)
	if text == "" {
		return citations.Evidence{}, false
	}
	score := defaultRelevance
	if r.Score != nil {
		score = *r.Score
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title, _ = citations.ExtractDomain(locator)
	}
	return citations.Evidence{
		Text:           text,
		Title:          title,
		Locator:        locator,
		RelevanceScore: score,
		Timestamp:      parsePublished(r.PublishedDate),
	}, true
}

// parsePublished accepts RFC3339, a bare date or unix seconds.
func parsePublished(v interface{}) *time.Time {
	var t time.Time
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t = parsed
		} else if parsed, err := time.Parse("2006-01-02", s); err == nil {
			t = parsed
		} else if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
			t = time.Unix(secs, 0)
		} else {
			return nil
		}
	case float64:
		if val <= 0 {
			return nil
		}
		t = time.Unix(int64(val), 0)
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
