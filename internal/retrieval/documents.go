// Package retrieval turns a question into ranked document evidence by
// embedding it and searching the document chunk collection.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/research/internal/vectordb"
)

// Embedder produces query vectors.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error)
}

// ChunkSearcher finds document chunks near a vector.
type ChunkSearcher interface {
	SearchDocumentChunks(ctx context.Context, vec []float32, limit int) ([]vectordb.DocumentHit, error)
}

// Config controls document retrieval.
type Config struct {
	TopK           int     `mapstructure:"top_k" yaml:"top_k"`
	EmbeddingModel string  `mapstructure:"embedding_model" yaml:"embedding_model"`
	MMREnabled     bool    `mapstructure:"mmr_enabled" yaml:"mmr_enabled"`
	MMRLambda      float64 `mapstructure:"mmr_lambda" yaml:"mmr_lambda"`
}

// DocumentRetriever searches uploaded documents.
type DocumentRetriever struct {
	embedder Embedder
	searcher ChunkSearcher
	cfg      Config
	logger   *zap.Logger
}

// NewDocumentRetriever wires a retriever.
func NewDocumentRetriever(embedder Embedder, searcher ChunkSearcher, cfg Config, logger *zap.Logger) *DocumentRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.MMRLambda == 0 {
		cfg.MMRLambda = 0.7
	}
	return &DocumentRetriever{embedder: embedder, searcher: searcher, cfg: cfg, logger: logger}
}

// Search returns evidence ordered by relevance, highest first.
func (r *DocumentRetriever) Search(ctx context.Context, query string) ([]citations.Evidence, error) {
	vec, err := r.embedder.GenerateEmbedding(ctx, query, r.cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.searcher.SearchDocumentChunks(ctx, vec, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("search document chunks: %w", err)
	}

	if r.cfg.MMREnabled && len(hits) > 1 && lo.EveryBy(hits, func(h vectordb.DocumentHit) bool { return len(h.Vector) > 0 }) {
		hits = mmrReorder(vec, hits, r.cfg.MMRLambda)
	}
	if len(hits) > r.cfg.TopK {
		hits = hits[:r.cfg.TopK]
	}

	evidence := lo.FilterMap(hits, func(h vectordb.DocumentHit, _ int) (citations.Evidence, bool) {
		ev := toEvidence(h)
		return ev, strings.TrimSpace(ev.Text) != ""
	})
	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].RelevanceScore > evidence[j].RelevanceScore
	})

	r.logger.Debug("Document retrieval completed",
		zap.Int("hits", len(hits)),
		zap.Int("evidence", len(evidence)),
	)
	return evidence, nil
}

func toEvidence(h vectordb.DocumentHit) citations.Evidence {
	p := h.Payload
	fileName := payloadString(p, "file_name")
	locator := firstString(p, "source", "url", "file_name")
	if locator == "" && h.ID != "" {
		locator = "chunk:" + h.ID
	}
	if page, ok := payloadInt(p, "page"); ok && !isURL(locator) {
		locator = fmt.Sprintf("%s#page=%d", locator, page)
	}
	title := firstString(p, "title", "file_name")
	if title == "" {
		title = fileName
	}
	return citations.Evidence{
		Text:           firstString(p, "text", "content"),
		Title:          title,
		Locator:        locator,
		RelevanceScore: h.Score,
	}
}

func firstString(p map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := payloadString(p, k); s != "" {
			return s
		}
	}
	return ""
}

func payloadString(p map[string]interface{}, key string) string {
	if s, ok := p[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func payloadInt(p map[string]interface{}, key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), v > 0
	case int:
		return v, v > 0
	}
	return 0, false
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
