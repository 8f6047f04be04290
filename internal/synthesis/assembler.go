package synthesis

import (
	"fmt"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
	"github.com/Kocoro-lab/Shannon/go/research/internal/scoring"
)

// Assemble composes the response from already validated parts. It does no
// scoring or validation and keeps every citation and insight in the order given.
func Assemble(text string, ordered []citations.CitationSource, unresolved []string, ins []insights.KeyInsight, scores scoring.Scores) *EnhancedResponse {
	resp := &EnhancedResponse{
		SummaryText:   text,
		CitationOrder: make([]string, 0, len(ordered)),
		Citations: CitationLists{
			Documents: []citations.CitationSource{},
			LiveData:  []citations.CitationSource{},
		},
		Insights:     append([]insights.KeyInsight{}, ins...),
		Confidence:   scores.Confidence,
		Freshness:    scores.Freshness,
		TotalSources: len(ordered),
	}
	if len(unresolved) > 0 {
		resp.UnresolvedMarkers = append([]string{}, unresolved...)
	}

	for _, src := range ordered {
		resp.CitationOrder = append(resp.CitationOrder, src.ID)
		if src.IsLive() {
			resp.Citations.LiveData = append(resp.Citations.LiveData, src)
		} else {
			resp.Citations.Documents = append(resp.Citations.Documents, src)
		}
	}

	if len(resp.Citations.LiveData) > 0 {
		resp.LiveDataBlock = buildLiveDataBlock(resp.Citations.LiveData)
	}
	return resp
}

func buildLiveDataBlock(live []citations.CitationSource) *LiveDataBlock {
	block := &LiveDataBlock{SourceCount: len(live), Sources: make([]LiveDataRef, 0, len(live))}
	var recentTitle string
	for _, src := range live {
		block.Sources = append(block.Sources, LiveDataRef{
			ID:        src.ID,
			Title:     src.Title,
			Locator:   src.Locator,
			Timestamp: src.Timestamp,
		})
		if src.Timestamp != nil && (block.MostRecent == nil || src.Timestamp.After(*block.MostRecent)) {
			ts := *src.Timestamp
			block.MostRecent = &ts
			recentTitle = src.Title
		}
	}

	noun := "sources"
	if len(live) == 1 {
		noun = "source"
	}
	block.Summary = fmt.Sprintf("%d live %s contributed to this answer", len(live), noun)
	if block.MostRecent != nil {
		label := recentTitle
		if label == "" {
			label = "untitled"
		}
		block.Summary += fmt.Sprintf("; most recent: %s (%s)", label, block.MostRecent.UTC().Format(time.RFC3339))
	}
	block.Summary += "."
	return block
}
