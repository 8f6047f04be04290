package synthesis

import (
	"context"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
)

// DocumentRetriever searches uploaded documents. Results are ordered by
// relevance, highest first, and may be empty.
type DocumentRetriever interface {
	Search(ctx context.Context, query string) ([]citations.Evidence, error)
}

// LiveDataClient searches live external sources. Results carry timestamps.
type LiveDataClient interface {
	Search(ctx context.Context, query string) ([]citations.Evidence, error)
}

// TextGenerator writes an answer that cites sources by their numbered ids.
type TextGenerator interface {
	Generate(ctx context.Context, query string, sources []citations.NumberedSource) (string, error)
}

// Request is one synthesis call.
type Request struct {
	Query string `json:"query"`
	// MaxInsights overrides the configured limit when positive.
	MaxInsights int `json:"max_insights,omitempty"`
}

// Warning codes reported on degraded responses.
const (
	WarnNoDocuments             = "no_documents"
	WarnDocumentRetrievalFailed = "document_retrieval_failed"
	WarnLiveDataUnavailable     = "live_data_unavailable"
	WarnUnresolvedCitations     = "unresolved_citations"
)

// CitationLists splits referenced sources by namespace, each in first-seen order.
type CitationLists struct {
	Documents []citations.CitationSource `json:"documents"`
	LiveData  []citations.CitationSource `json:"live_data"`
}

// LiveDataRef is a live source listed in the live data block.
type LiveDataRef struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Locator   string     `json:"locator"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LiveDataBlock summarizes the live sources that contributed to an answer.
type LiveDataBlock struct {
	Summary     string        `json:"summary"`
	SourceCount int           `json:"source_count"`
	MostRecent  *time.Time    `json:"most_recent,omitempty"`
	Sources     []LiveDataRef `json:"sources"`
}

// EnhancedResponse is the structured answer produced by one pass.
type EnhancedResponse struct {
	Query       string `json:"query,omitempty"`
	SummaryText string `json:"summary_text"`
	// CitationOrder lists every referenced id in order of first appearance.
	CitationOrder     []string              `json:"citation_order"`
	Citations         CitationLists         `json:"citations"`
	Insights          []insights.KeyInsight `json:"insights"`
	LiveDataBlock     *LiveDataBlock        `json:"live_data_block,omitempty"`
	Confidence        float64               `json:"confidence"`
	Freshness         float64               `json:"freshness"`
	TotalSources      int                   `json:"total_sources"`
	UnresolvedMarkers []string              `json:"unresolved_markers,omitempty"`
	Warnings          []string              `json:"warnings,omitempty"`
	GeneratedAt       time.Time             `json:"generated_at"`
}
