package synthesis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
	"github.com/Kocoro-lab/Shannon/go/research/internal/scoring"
)

func linkedSources(t *testing.T, text string) citations.LinkResult {
	t.Helper()
	reg := citations.NewRegistry(citations.RegistryOptions{})
	older := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	for _, ev := range []citations.Evidence{
		{Text: "quarterly filing", Title: "10-Q", Locator: "10q.pdf", RelevanceScore: 0.6},
		{Text: "analyst note", Title: "Note", Locator: "note.pdf", RelevanceScore: 0.4},
	} {
		_, err := reg.Register(ev, citations.SourceDocument)
		require.NoError(t, err)
	}
	for _, ev := range []citations.Evidence{
		{Text: "older wire", Title: "Old wire", Locator: "https://a.example/1", RelevanceScore: 0.5, Timestamp: &older},
		{Text: "newer wire", Title: "Wire report", Locator: "https://b.example/2", RelevanceScore: 0.5, Timestamp: &newer},
	} {
		_, err := reg.Register(ev, citations.SourceLiveData)
		require.NoError(t, err)
	}
	return citations.Link(text, reg)
}

func TestAssembleSplitsByNamespaceInFirstSeenOrder(t *testing.T) {
	linked := linkedSources(t, "Prices moved [L2] after the filing [2], see also [1] and [L1] and [L2].")
	resp := Assemble(linked.Text, linked.Ordered, linked.Unresolved, nil, scoring.Scores{Confidence: 0.5, Freshness: 0.7})

	assert.Equal(t, []string{"L2", "2", "1", "L1"}, resp.CitationOrder)
	assert.Equal(t, 4, resp.TotalSources)
	require.Len(t, resp.Citations.Documents, 2)
	assert.Equal(t, "2", resp.Citations.Documents[0].ID)
	assert.Equal(t, "1", resp.Citations.Documents[1].ID)
	require.Len(t, resp.Citations.LiveData, 2)
	assert.Equal(t, "L2", resp.Citations.LiveData[0].ID)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.Equal(t, 0.7, resp.Freshness)
	assert.NotNil(t, resp.Insights)
}

func TestAssembleLiveDataBlock(t *testing.T) {
	linked := linkedSources(t, "Both wires agree [L1][L2].")
	resp := Assemble(linked.Text, linked.Ordered, nil, nil, scoring.Scores{})

	require.NotNil(t, resp.LiveDataBlock)
	block := resp.LiveDataBlock
	assert.Equal(t, 2, block.SourceCount)
	require.NotNil(t, block.MostRecent)
	assert.Equal(t, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), *block.MostRecent)
	assert.Equal(t, "2 live sources contributed to this answer; most recent: Wire report (2026-10-18T12:00:00Z).", block.Summary)
	assert.Equal(t, []string{"L1", "L2"}, []string{block.Sources[0].ID, block.Sources[1].ID})
}

func TestAssembleSingleLiveSourceWithoutTimestamp(t *testing.T) {
	reg := citations.NewRegistry(citations.RegistryOptions{})
	_, err := reg.Register(citations.Evidence{Text: "undated", Title: "Feed", Locator: "https://c.example"}, citations.SourceLiveData)
	require.NoError(t, err)
	linked := citations.Link("Feed says so [L1].", reg)

	resp := Assemble(linked.Text, linked.Ordered, nil, nil, scoring.Scores{})
	require.NotNil(t, resp.LiveDataBlock)
	assert.Nil(t, resp.LiveDataBlock.MostRecent)
	assert.Equal(t, "1 live source contributed to this answer.", resp.LiveDataBlock.Summary)
}

func TestAssembleWithoutLiveSources(t *testing.T) {
	linked := linkedSources(t, "Documents only [1].")
	resp := Assemble(linked.Text, linked.Ordered, nil, nil, scoring.Scores{Confidence: 0.6})

	assert.Nil(t, resp.LiveDataBlock)
	assert.Empty(t, resp.Citations.LiveData)
	assert.NotNil(t, resp.Citations.LiveData)
}

func TestAssembleEmpty(t *testing.T) {
	resp := Assemble("No sources were cited.", nil, nil, nil, scoring.Scores{})

	assert.Equal(t, "No sources were cited.", resp.SummaryText)
	assert.Equal(t, 0, resp.TotalSources)
	assert.Nil(t, resp.UnresolvedMarkers)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []any{}, decoded["citation_order"])
	assert.Equal(t, []any{}, decoded["insights"])
	assert.NotContains(t, decoded, "live_data_block")
	assert.NotContains(t, decoded, "unresolved_markers")
}

func TestAssembleKeepsInsightOrderAndCopies(t *testing.T) {
	ins := []insights.KeyInsight{
		{ID: "insight-1", Text: "b", ImportanceScore: 0.4},
		{ID: "insight-2", Text: "a", ImportanceScore: 0.9},
	}
	resp := Assemble("x", nil, []string{"9"}, ins, scoring.Scores{})

	assert.Equal(t, "insight-1", resp.Insights[0].ID)
	ins[0].ID = "mutated"
	assert.Equal(t, "insight-1", resp.Insights[0].ID)
	assert.Equal(t, []string{"9"}, resp.UnresolvedMarkers)
}
