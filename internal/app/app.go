// Package app wires configured collaborators into a Synthesizer.
package app

import (
	"context"
	"errors"
	"fmt"

	redisv8 "github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
	"github.com/Kocoro-lab/Shannon/go/research/internal/livedata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/reports"
	"github.com/Kocoro-lab/Shannon/go/research/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/research/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/research/internal/synthesis"
	"github.com/Kocoro-lab/Shannon/go/research/internal/vectordb"
)

// App holds the wired components. Store is nil when no database is configured.
type App struct {
	Config      *config.Config
	Synthesizer *synthesis.Synthesizer
	Store       *reports.Store
	Scorer      *scoring.Calculator
	Extractor   *insights.Extractor

	closers []func() error
}

// Build constructs every component the configuration enables. Optional
// collaborators that fail to come up are logged and left out.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg}

	extractor, err := insights.NewExtractor(cfg.Insights)
	if err != nil {
		return nil, fmt.Errorf("insight extractor: %w", err)
	}
	a.Extractor = extractor
	a.Scorer = scoring.NewCalculator(cfg.Scoring)

	gen, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("text generator: %w", err)
	}

	var docs synthesis.DocumentRetriever
	if cfg.Embeddings.BaseURL != "" && cfg.VectorDB.Enabled {
		docs = a.documentRetriever(ctx, cfg, logger)
	} else {
		logger.Info("Document retrieval disabled", zap.Bool("vectordb_enabled", cfg.VectorDB.Enabled))
	}

	var live synthesis.LiveDataClient
	if cfg.LiveData.BaseURL != "" {
		var cache livedata.Cache
		if cfg.Redis.Enabled() {
			rc := redisv9.NewClient(&redisv9.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			a.closers = append(a.closers, rc.Close)
			cache = livedata.NewRedisCache(rc, logger)
		}
		live = livedata.NewClient(cfg.LiveData, cache, logger)
	} else {
		logger.Info("Live data retrieval disabled")
	}

	if cfg.Database.Enabled() {
		db, err := reports.Open(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		store := reports.NewStore(db, cfg.Database.DefaultCredits, logger)
		a.closers = append(a.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = store
	}

	a.Synthesizer = synthesis.New(docs, live, gen, extractor, a.Scorer, cfg.Synthesis, logger)
	return a, nil
}

func (a *App) documentRetriever(ctx context.Context, cfg *config.Config, logger *zap.Logger) synthesis.DocumentRetriever {
	var cache embeddings.EmbeddingCache
	if cfg.Redis.Enabled() && cfg.Embeddings.EnableRedis {
		rc := redisv8.NewClient(&redisv8.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, rc.Close)
		rw := circuitbreaker.NewRedisWrapper(rc, "embeddings", logger)
		if c, err := embeddings.NewRedisCache(ctx, rw); err == nil {
			cache = c
		} else {
			logger.Warn("Embedding cache unavailable, using in-process cache only", zap.Error(err))
		}
	}
	emb := embeddings.NewService(cfg.Embeddings, cache, logger)

	vc := vectordb.NewClient(cfg.VectorDB, logger)
	if cfg.VectorDB.ExpectedEmbeddingDim > 0 {
		if err := vc.ValidateEmbeddingDimensions(ctx); err != nil {
			var mismatch vectordb.DimensionMismatchError
			if errors.As(err, &mismatch) {
				logger.Error("Document collection dimension mismatch", zap.Error(err))
			} else {
				logger.Warn("Could not validate document collection", zap.Error(err))
			}
		}
	}

	rcfg := cfg.Retrieval
	if rcfg.EmbeddingModel == "" {
		rcfg.EmbeddingModel = cfg.Embeddings.DefaultModel
	}
	return retrieval.NewDocumentRetriever(emb, vc, rcfg, logger)
}

// Close releases clients and the database handle.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
