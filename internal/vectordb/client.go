package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	ometrics "github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// ErrDisabled is returned by searches on a disabled client.
var ErrDisabled = errors.New("vectordb: search called while disabled")

// Client is a minimal Qdrant HTTP client.
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a client for cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	base := c.Host
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	httpw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: c.Timeout}, "qdrant", "vectordb", logger)
	return &Client{cfg: c, base: strings.TrimRight(base, "/"), httpw: httpw, log: logger}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

type qdrantQueryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
	WithVector     bool      `json:"with_vector,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
	Vector  []float64              `json:"vector,omitempty"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse is the nested shape returned by /points/query.
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// SearchDocumentChunks returns up to limit chunks nearest to vec, best first.
// With MMR enabled the pool is widened and vectors are fetched so the caller
// can re-rank.
func (c *Client) SearchDocumentChunks(ctx context.Context, vec []float32, limit int) ([]DocumentHit, error) {
	if c == nil || !c.cfg.Enabled {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = c.cfg.TopK
	}
	pool := limit
	if c.cfg.MMREnabled {
		pool = limit * c.cfg.MMRPoolMultiplier
	}
	points, err := c.search(ctx, c.cfg.DocumentChunks, vec, pool, c.cfg.Threshold)
	if err != nil {
		return nil, err
	}

	hits := make([]DocumentHit, 0, len(points))
	for _, p := range points {
		hit := DocumentHit{Score: p.Score, Payload: p.Payload}
		if p.ID != nil {
			hit.ID = fmt.Sprintf("%v", p.ID)
		}
		if hit.Payload == nil {
			hit.Payload = map[string]interface{}{}
		}
		if len(p.Vector) > 0 {
			hit.Vector = make([]float32, len(p.Vector))
			for i, f := range p.Vector {
				hit.Vector[i] = float32(f)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (c *Client) search(ctx context.Context, collection string, vec []float32, limit int, threshold float64) ([]qdrantPoint, error) {
	start := time.Now()
	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, urlQuery)
	defer span.End()

	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	buf, err := json.Marshal(qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, WithVector: c.cfg.MMREnabled})
	if err != nil {
		return nil, err
	}

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)
		return c.httpw.Do(req)
	}
	fail := func(err error) ([]qdrantPoint, error) {
		ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		span.RecordError(err)
		return nil, err
	}

	resp, err := call(urlQuery, buf)
	if err != nil {
		return fail(fmt.Errorf("qdrant query: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var qr qdrantQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			return fail(fmt.Errorf("decode qdrant query response: %w", err))
		}
		ometrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
		return qr.Result.Points, nil
	}

	// Older servers only expose /points/search.
	c.log.Debug("Qdrant /points/query unavailable, falling back to /points/search",
		zap.String("collection", collection),
		zap.Int("status", resp.StatusCode),
	)
	legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true, "with_vector": c.cfg.MMREnabled}
	if threshold > 0 {
		legacy["score_threshold"] = threshold
	}
	buf2, err := json.Marshal(legacy)
	if err != nil {
		return fail(err)
	}
	resp2, err := call(fmt.Sprintf("%s/collections/%s/points/search", c.base, collection), buf2)
	if err != nil {
		return fail(fmt.Errorf("qdrant query/search failed: %w", err))
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("qdrant status %d", resp2.StatusCode))
	}
	var sr qdrantSearchResponse
	if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
		return fail(fmt.Errorf("decode qdrant search response: %w", err))
	}
	ometrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
	return sr.Result, nil
}
