package insights

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
)

func registry(t *testing.T, docs, live int) *citations.Registry {
	t.Helper()
	reg := citations.NewRegistry(citations.RegistryOptions{})
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for i := 0; i < docs; i++ {
		_, err := reg.Register(citations.Evidence{Text: "doc", Locator: "doc-" + string(rune('a'+i)), RelevanceScore: 0.8}, citations.SourceDocument)
		require.NoError(t, err)
	}
	for i := 0; i < live; i++ {
		_, err := reg.Register(citations.Evidence{Text: "live", Locator: "https://x.example/" + string(rune('a'+i)), RelevanceScore: 0.8, Timestamp: &now}, citations.SourceLiveData)
		require.NoError(t, err)
	}
	return reg
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)
	return e
}

func TestExtractClauseLevelSupport(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 2, 1)

	got := e.Extract("Accuracy rose 40% [1] while live reports confirm continued gains [L1].", reg, 5)

	require.Len(t, got, 2)
	assert.Equal(t, "insight-1", got[0].ID)
	assert.Equal(t, CategoryDataPoint, got[0].Category)
	assert.Equal(t, "Accuracy rose 40%", got[0].Text)
	assert.Equal(t, []string{"1"}, got[0].SupportingCitationIDs)
	assert.InDelta(t, 0.65, got[0].ImportanceScore, 1e-9)

	assert.Equal(t, CategoryTrend, got[1].Category)
	assert.Equal(t, []string{"L1"}, got[1].SupportingCitationIDs)
	assert.InDelta(t, 0.55, got[1].ImportanceScore, 1e-9)

	dataPoints := 0
	for _, in := range got {
		if in.Category == CategoryDataPoint {
			dataPoints++
		}
	}
	assert.Equal(t, 1, dataPoints)
}

func TestClassifyPriority(t *testing.T) {
	e := newExtractor(t)
	tests := []struct {
		claim string
		want  Category
	}{
		{"The study found that therefore costs increased 5%", CategoryFinding},
		{"Therefore, costs increased 10%", CategoryConclusion},
		{"Costs increased 10% recently", CategoryDataPoint},
		{"Adoption is increasingly common in hospitals", CategoryTrend},
		{"Revenue increased substantially", CategoryOther},
		{"Revenue was 5.5 billion in 2023", CategoryDataPoint},
		{"The new index is 3x faster than the old one", CategoryDataPoint},
		{"Unemployment stood at 4.1% in March", CategoryDataPoint},
		{"Chapter 5 covers the apples", CategoryOther},
		{"The sky is blue", CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.claim, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Classify(tt.claim))
		})
	}
}

func TestExtractDropsUnsupportedClaims(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 1, 0)
	text := "Unsupported claim that has no marker. Another claim with a bad marker [9]. Supported claim stands here [1]."

	got := e.Extract(text, reg, 5)

	require.Len(t, got, 1)
	assert.Equal(t, "Supported claim stands here.", got[0].Text)
	assert.Equal(t, []string{"1"}, got[0].SupportingCitationIDs)
}

func TestExtractTrailingMarkerBelongsToPreviousSentence(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 1, 0)

	got := e.Extract("Costs fell sharply last year. [1] Unrelated follow up sentence here.", reg, 5)

	require.Len(t, got, 1)
	assert.Equal(t, "Costs fell sharply last year.", got[0].Text)
	assert.Equal(t, []string{"1"}, got[0].SupportingCitationIDs)
}

func TestExtractTruncatesAndDefaults(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 1, 0)
	var b strings.Builder
	for i := 0; i < 7; i++ {
		b.WriteString("Claim number " + string(rune('a'+i)) + " stands here [1]. ")
	}

	assert.Len(t, e.Extract(b.String(), reg, 0), DefaultMaxInsights)
	assert.Len(t, e.Extract(b.String(), reg, 2), 2)
}

func TestExtractStableTies(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 2, 0)

	got := e.Extract("Alpha beta gamma [1]; delta epsilon zeta [2].", reg, 5)

	require.Len(t, got, 2)
	assert.Equal(t, got[0].ImportanceScore, got[1].ImportanceScore)
	assert.Equal(t, "Alpha beta gamma", got[0].Text)
	assert.Equal(t, "delta epsilon zeta.", got[1].Text)
}

func TestExtractImportanceIsClamped(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 5, 0)

	got := e.Extract("The trial found that survival rose 50% [1][2][3][4][5].", reg, 5)

	require.Len(t, got, 1)
	assert.Equal(t, CategoryFinding, got[0].Category)
	assert.Equal(t, 1.0, got[0].ImportanceScore)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, got[0].SupportingCitationIDs)
}

func TestExtractDeduplicatesClaims(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 2, 0)

	got := e.Extract("Prices rose 5% last quarter [1]. Prices rose 5% last quarter [2].", reg, 5)

	require.Len(t, got, 1)
	assert.Equal(t, []string{"1"}, got[0].SupportingCitationIDs)
}

func TestExtractBoundedAndSupported(t *testing.T) {
	e := newExtractor(t)
	reg := registry(t, 3, 2)
	text := "Researchers found that latency dropped 30% [1][L1]. This suggests caching matters [2]. " +
		"Usage is increasingly mobile [L2]. Some filler sentence without support. Totals reached 1,200 units [3][9]."

	got := e.Extract(text, reg, 10)

	require.NotEmpty(t, got)
	for _, in := range got {
		assert.GreaterOrEqual(t, in.ImportanceScore, 0.0)
		assert.LessOrEqual(t, in.ImportanceScore, 1.0)
		require.NotEmpty(t, in.SupportingCitationIDs)
		for _, id := range in.SupportingCitationIDs {
			assert.NotEqual(t, "9", id)
		}
	}
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].ImportanceScore, got[i].ImportanceScore)
	}
}

func TestExtractNilRegistry(t *testing.T) {
	e := newExtractor(t)
	assert.Empty(t, e.Extract("A claim with a marker [1].", nil, 5))
}

func TestRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("finding:\n  - we observed\n"), 0o644))

	cfg := DefaultConfig()
	cfg.RulesPath = path
	e, err := NewExtractor(cfg)
	require.NoError(t, err)

	assert.Equal(t, CategoryFinding, e.Classify("we observed a change in behavior"))
	assert.Equal(t, CategoryOther, e.Classify("the study found that nothing else"))
	assert.Equal(t, CategoryConclusion, e.Classify("in conclusion the plan works"))
}

func TestReloadMissingRules(t *testing.T) {
	e := newExtractor(t)
	cfg := DefaultConfig()
	cfg.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, e.Reload(cfg))
	assert.Equal(t, CategoryFinding, e.Classify("the study found that it works"), "previous rules stay active")
}

func TestCategoryJSON(t *testing.T) {
	b, err := json.Marshal(KeyInsight{ID: "insight-1", Category: CategoryDataPoint, SupportingCitationIDs: []string{"1"}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"category":"DataPoint"`)

	var in KeyInsight
	require.NoError(t, json.Unmarshal(b, &in))
	assert.Equal(t, CategoryDataPoint, in.Category)

	var c Category
	assert.Error(t, c.UnmarshalText([]byte("rumor")))
}
