package synthesis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
	ometrics "github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// Options bounds one synthesis pass.
type Options struct {
	MaxDocumentSources int                       `mapstructure:"max_document_sources" yaml:"max_document_sources"`
	MaxLiveSources     int                       `mapstructure:"max_live_sources" yaml:"max_live_sources"`
	MaxPromptSources   int                       `mapstructure:"max_prompt_sources" yaml:"max_prompt_sources"`
	// MaxInsights of 0 defers to the extractor's own limit.
	MaxInsights        int                       `mapstructure:"max_insights" yaml:"max_insights"`
	DocumentTimeout    time.Duration             `mapstructure:"document_timeout" yaml:"document_timeout"`
	LiveDataTimeout    time.Duration             `mapstructure:"live_data_timeout" yaml:"live_data_timeout"`
	GenerationTimeout  time.Duration             `mapstructure:"generation_timeout" yaml:"generation_timeout"`
	RetryBackoff       time.Duration             `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	Registry           citations.RegistryOptions `mapstructure:"registry" yaml:"registry"`
}

// DefaultOptions returns the pass defaults.
func DefaultOptions() Options {
	return Options{
		MaxDocumentSources: 8,
		MaxLiveSources:     5,
		MaxPromptSources:   5,
		DocumentTimeout:    10 * time.Second,
		LiveDataTimeout:    8 * time.Second,
		GenerationTimeout:  60 * time.Second,
		RetryBackoff:       2 * time.Second,
		Registry:           citations.RegistryOptions{DuplicateOverlap: citations.DefaultDuplicateOverlap},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxDocumentSources <= 0 {
		o.MaxDocumentSources = def.MaxDocumentSources
	}
	if o.MaxLiveSources <= 0 {
		o.MaxLiveSources = def.MaxLiveSources
	}
	if o.MaxPromptSources < 0 {
		o.MaxPromptSources = 0
	}
	if o.MaxInsights < 0 {
		o.MaxInsights = 0
	}
	if o.DocumentTimeout <= 0 {
		o.DocumentTimeout = def.DocumentTimeout
	}
	if o.LiveDataTimeout <= 0 {
		o.LiveDataTimeout = def.LiveDataTimeout
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = def.GenerationTimeout
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	return o
}

// Synthesizer runs synthesis passes. It holds no per-request state; every
// pass builds its own registry.
type Synthesizer struct {
	docs      DocumentRetriever
	live      LiveDataClient
	gen       TextGenerator
	extractor *insights.Extractor
	scorer    *scoring.Calculator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// New wires a Synthesizer. docs and live may be nil; a nil extractor or
// scorer falls back to defaults.
func New(docs DocumentRetriever, live LiveDataClient, gen TextGenerator, extractor *insights.Extractor, scorer *scoring.Calculator, opts Options, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor, _ = insights.NewExtractor(insights.DefaultConfig())
	}
	if scorer == nil {
		scorer = scoring.NewCalculator(scoring.DefaultConfig())
	}
	return &Synthesizer{
		docs:      docs,
		live:      live,
		gen:       gen,
		extractor: extractor,
		scorer:    scorer,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used as the freshness reference time.
func (s *Synthesizer) WithClock(now func() time.Time) *Synthesizer {
	s.now = now
	return s
}

// Synthesize runs one pass. Only generation failures and empty queries are
// returned as errors; retrieval problems degrade the response instead.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*EnhancedResponse, error) {
	return s.synthesize(ctx, req, 1)
}

// SynthesizeWithRetry runs a pass and, if generation failed, runs it once
// more after the configured backoff.
func (s *Synthesizer) SynthesizeWithRetry(ctx context.Context, req Request) (*EnhancedResponse, error) {
	resp, err := s.synthesize(ctx, req, 1)
	if err == nil || !errors.Is(err, ErrGenerationFailure) || ctx.Err() != nil {
		return resp, err
	}

	s.logger.Warn("Synthesis pass failed, retrying once",
		zap.Duration("backoff", s.opts.RetryBackoff),
		zap.Error(err),
	)
	ometrics.SynthesisRetries.Inc()

	timer := time.NewTimer(s.opts.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, err
	case <-timer.C:
	}
	return s.synthesize(ctx, req, 2)
}

func (s *Synthesizer) synthesize(ctx context.Context, req Request, attempt int) (*EnhancedResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	now := s.now()
	ctx, span := tracing.StartSpan(ctx, "synthesis.pass", attribute.Int("attempt", attempt))
	defer span.End()

	docs, live, warnings := s.retrieve(ctx, query)

	reg := citations.NewRegistry(s.opts.Registry)
	s.register(reg, docs, citations.SourceDocument, s.opts.MaxDocumentSources)
	s.register(reg, live, citations.SourceLiveData, s.opts.MaxLiveSources)

	raw, err := s.generate(ctx, query, reg.Numbered(s.opts.MaxPromptSources), attempt)
	if err != nil {
		span.RecordError(err)
		ometrics.RecordSynthesisMetrics("generation_failed", time.Since(start).Seconds())
		s.logger.Error("Synthesis pass aborted",
			zap.Int("attempt", attempt),
			zap.Int("registered_sources", reg.Len()),
			zap.Error(err),
		)
		return nil, err
	}

	linked := citations.Link(raw, reg)
	maxInsights := s.opts.MaxInsights
	if req.MaxInsights > 0 {
		maxInsights = req.MaxInsights
	}
	found := s.extractor.Extract(linked.Text, reg, maxInsights)
	scores := s.scorer.Score(linked.Ordered, linked.Unresolved, linked.Live(), now)

	resp := Assemble(linked.Text, linked.Ordered, linked.Unresolved, found, scores)
	if len(linked.Unresolved) > 0 {
		warnings = append(warnings, WarnUnresolvedCitations)
		s.logger.Warn("Generated text cites unknown sources",
			zap.Strings("unresolved", linked.Unresolved),
		)
	}
	resp.Query = query
	resp.Warnings = warnings
	resp.GeneratedAt = now

	ometrics.RecordSynthesisMetrics("ok", time.Since(start).Seconds())
	ometrics.RecordResponseMetrics(resp.Confidence, resp.Freshness,
		len(resp.Citations.Documents), len(resp.Citations.LiveData),
		len(resp.UnresolvedMarkers), len(resp.Insights))
	span.SetAttributes(
		attribute.Int("total_sources", resp.TotalSources),
		attribute.Float64("confidence", resp.Confidence),
		attribute.Float64("freshness", resp.Freshness),
	)
	s.logger.Info("Synthesis pass completed",
		zap.Int("attempt", attempt),
		zap.Int("registered_sources", reg.Len()),
		zap.Int("total_sources", resp.TotalSources),
		zap.Int("insights", len(resp.Insights)),
		zap.Float64("confidence", resp.Confidence),
		zap.Float64("freshness", resp.Freshness),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// retrieve queries documents and live data concurrently and waits for both.
func (s *Synthesizer) retrieve(ctx context.Context, query string) (docs, live []citations.Evidence, warnings []string) {
	var wg sync.WaitGroup
	var docErr, liveErr error
	liveAttempted := false

	wg.Add(1)
	go func() {
		defer wg.Done()
		if s.docs == nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, s.opts.DocumentTimeout)
		defer cancel()
		cctx, span := tracing.StartSpan(cctx, "synthesis.retrieve_documents")
		defer span.End()
		docs, docErr = s.docs.Search(cctx, query)
		ometrics.RecordRetrievalMetrics(string(citations.SourceDocument), len(docs), docErr)
	}()

	if s.live != nil {
		liveAttempted = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.opts.LiveDataTimeout)
			defer cancel()
			cctx, span := tracing.StartSpan(cctx, "synthesis.retrieve_live_data")
			defer span.End()
			live, liveErr = s.live.Search(cctx, query)
			ometrics.RecordRetrievalMetrics(string(citations.SourceLiveData), len(live), liveErr)
		}()
	}

	wg.Wait()

	if docErr != nil {
		s.logger.Warn("Document retrieval failed, continuing without documents", zap.Error(docErr))
		docs = nil
		warnings = append(warnings, WarnDocumentRetrievalFailed)
	} else if len(docs) == 0 {
		warnings = append(warnings, WarnNoDocuments)
	}
	if liveErr != nil {
		s.logger.Warn("Live data unavailable, continuing without live sources", zap.Error(liveErr))
		live = nil
	}
	if liveAttempted && liveErr != nil {
		warnings = append(warnings, WarnLiveDataUnavailable)
	}
	return docs, live, warnings
}

// register numbers evidence in retriever order until limit distinct sources exist.
func (s *Synthesizer) register(reg *citations.Registry, evidence []citations.Evidence, sourceType citations.SourceType, limit int) {
	highest := 0
	for _, ev := range evidence {
		if highest >= limit {
			return
		}
		if strings.TrimSpace(ev.Text) == "" {
			continue
		}
		src, err := reg.Register(ev, sourceType)
		if err != nil {
			s.logger.Warn("Skipping evidence", zap.String("locator", ev.Locator), zap.Error(err))
			continue
		}
		if seq := src.Key().Seq; seq > highest {
			highest = seq
		}
	}
}

func (s *Synthesizer) generate(ctx context.Context, query string, sources []citations.NumberedSource, attempt int) (string, error) {
	if s.gen == nil {
		return "", &GenerationError{Attempt: attempt, Err: errNoGenerator}
	}
	gctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()

	raw, err := s.gen.Generate(gctx, query, sources)
	if err != nil {
		return "", &GenerationError{Attempt: attempt, Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return "", &GenerationError{Attempt: attempt, Err: errEmptyGeneration}
	}
	return raw, nil
}
