package citations

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAssignsPerNamespaceIDs(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	d1, err := reg.Register(Evidence{Text: "alpha beta", Locator: "report.pdf", RelevanceScore: 0.9}, SourceDocument)
	require.NoError(t, err)
	l1, err := reg.Register(Evidence{Text: "live one", Locator: "https://news.example.com/a", RelevanceScore: 0.8, Timestamp: &ts}, SourceLiveData)
	require.NoError(t, err)
	d2, err := reg.Register(Evidence{Text: "gamma delta", Locator: "notes.pdf", RelevanceScore: 0.7}, SourceDocument)
	require.NoError(t, err)
	l2, err := reg.Register(Evidence{Text: "live two", Locator: "https://news.example.com/b", RelevanceScore: 0.6, Timestamp: &ts}, SourceLiveData)
	require.NoError(t, err)

	assert.Equal(t, "1", d1.ID)
	assert.Equal(t, "2", d2.ID)
	assert.Equal(t, "L1", l1.ID)
	assert.Equal(t, "L2", l2.ID)
	assert.Equal(t, Key{Namespace: SourceLiveData, Seq: 2}, l2.Key())
	assert.Equal(t, 4, reg.Len())

	docs := reg.SourcesOf(SourceDocument)
	require.Len(t, docs, 2)
	assert.Equal(t, []string{"1", "2"}, []string{docs[0].ID, docs[1].ID})
}

func TestRegistryNearDuplicates(t *testing.T) {
	tests := []struct {
		name    string
		first   Evidence
		second  Evidence
		sameID  bool
		secondT SourceType
	}{
		{
			name:   "same locator same text",
			first:  Evidence{Text: "Revenue grew 12% in Q3.", Locator: "q3.pdf"},
			second: Evidence{Text: "revenue grew 12% in q3", Locator: "Q3.pdf "},
			sameID: true,
		},
		{
			name:   "tracking params ignored",
			first:  Evidence{Text: "Storm warning issued for the coast", Locator: "https://www.example.com/story/"},
			second: Evidence{Text: "Storm warning issued for the coast", Locator: "https://example.com/story?utm_source=x"},
			sameID: true,
		},
		{
			name:   "same locator different passage",
			first:  Evidence{Text: "The first chapter covers setup and install", Locator: "guide.pdf"},
			second: Evidence{Text: "Appendix B lists every error code", Locator: "guide.pdf"},
			sameID: false,
		},
		{
			name:   "same text different locator",
			first:  Evidence{Text: "identical passage", Locator: "a.pdf"},
			second: Evidence{Text: "identical passage", Locator: "b.pdf"},
			sameID: false,
		},
		{
			name:    "namespaces never merge",
			first:   Evidence{Text: "identical passage", Locator: "https://example.com/x"},
			second:  Evidence{Text: "identical passage", Locator: "https://example.com/x"},
			secondT: SourceLiveData,
			sameID:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(RegistryOptions{})
			a, err := reg.Register(tt.first, SourceDocument)
			require.NoError(t, err)
			st := tt.secondT
			if st == "" {
				st = SourceDocument
			}
			b, err := reg.Register(tt.second, st)
			require.NoError(t, err)
			if tt.sameID {
				assert.Equal(t, a.ID, b.ID)
				assert.Equal(t, 1, reg.Len())
			} else {
				assert.Equal(t, 2, reg.Len())
			}
		})
	}
}

func TestRegistryDuplicateKeepsFirstRelevance(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	_, err := reg.Register(Evidence{Text: "same", Locator: "a.pdf", RelevanceScore: 0.4}, SourceDocument)
	require.NoError(t, err)
	dup, err := reg.Register(Evidence{Text: "same", Locator: "a.pdf", RelevanceScore: 0.95}, SourceDocument)
	require.NoError(t, err)
	assert.Equal(t, 0.4, dup.RelevanceScore)
}

func TestRegistryRelevancePassThrough(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.37, 0.37},
		{1.4, 1},
		{-0.2, 0},
		{math.NaN(), 0},
	}
	reg := NewRegistry(RegistryOptions{})
	for i, tt := range tests {
		src, err := reg.Register(Evidence{Text: "passage", Locator: string(rune('a' + i)), RelevanceScore: tt.in}, SourceDocument)
		require.NoError(t, err)
		assert.Equal(t, tt.want, src.RelevanceScore)
	}
}

func TestRegistryRejectsUnknownSourceType(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	_, err := reg.Register(Evidence{Text: "x"}, SourceType("rumor"))
	assert.ErrorIs(t, err, ErrUnknownSourceType)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry(RegistryOptions{})
	b := NewRegistry(RegistryOptions{})
	_, _ = a.Register(Evidence{Text: "x", Locator: "x"}, SourceDocument)
	_, _ = a.Register(Evidence{Text: "y", Locator: "y"}, SourceDocument)
	src, err := b.Register(Evidence{Text: "z", Locator: "z"}, SourceDocument)
	require.NoError(t, err)
	assert.Equal(t, "1", src.ID)
}

func TestNormalizeLocator(t *testing.T) {
	assert.Equal(t, "https://example.com/a?q=1", NormalizeLocator("HTTPS://WWW.Example.com/a/?q=1&utm_medium=mail#frag"))
	assert.Equal(t, "report.pdf#page=3", NormalizeLocator("  Report.PDF#page=3 "))
	assert.Equal(t, "", NormalizeLocator("   "))
}

func TestTextOverlap(t *testing.T) {
	assert.Equal(t, 1.0, TextOverlap("", ""))
	assert.Equal(t, 0.0, TextOverlap("abc", ""))
	assert.Equal(t, 1.0, TextOverlap("A b, c.", "c b a"))
	assert.InDelta(t, 0.5, TextOverlap("a b c", "b c d"), 1e-9)
}

func TestRegistryNumbered(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	ts := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	_, _ = reg.Register(Evidence{Text: "live a", Locator: "https://a.example", Timestamp: &ts}, SourceLiveData)
	_, _ = reg.Register(Evidence{Text: "doc a", Locator: "a.pdf"}, SourceDocument)
	_, _ = reg.Register(Evidence{Text: "doc b", Locator: "b.pdf"}, SourceDocument)
	_, _ = reg.Register(Evidence{Text: "live b", Locator: "https://b.example"}, SourceLiveData)

	all := reg.Numbered(0)
	got := make([]string, 0, len(all))
	for _, n := range all {
		got = append(got, n.ID)
	}
	assert.Equal(t, []string{"1", "2", "L1", "L2"}, got)
	assert.Equal(t, "live a", all[2].Snippet)
	assert.Equal(t, &ts, all[2].Timestamp)

	assert.Len(t, reg.Numbered(1), 2)
}
