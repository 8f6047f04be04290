package insights

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
)

// DefaultMaxInsights bounds the output when the caller passes no limit.
const DefaultMaxInsights = 5

const minClaimWords = 3

// Weights are the terms of the importance score.
type Weights struct {
	PerCitation float64 `mapstructure:"per_citation" yaml:"per_citation"`
	CitationCap float64 `mapstructure:"citation_cap" yaml:"citation_cap"`
	Numeric     float64 `mapstructure:"numeric" yaml:"numeric"`
	Position    float64 `mapstructure:"position" yaml:"position"`
	Finding     float64 `mapstructure:"finding" yaml:"finding"`
	Conclusion  float64 `mapstructure:"conclusion" yaml:"conclusion"`
	DataPoint   float64 `mapstructure:"data_point" yaml:"data_point"`
	Trend       float64 `mapstructure:"trend" yaml:"trend"`
	Other       float64 `mapstructure:"other" yaml:"other"`
}

// DefaultWeights favors Findings and Trends over generic text.
func DefaultWeights() Weights {
	return Weights{
		PerCitation: 0.15,
		CitationCap: 0.45,
		Numeric:     0.15,
		Position:    0.15,
		Finding:     0.30,
		Conclusion:  0.20,
		DataPoint:   0.20,
		Trend:       0.25,
		Other:       0.05,
	}
}

func (w Weights) category(c Category) float64 {
	switch c {
	case CategoryFinding:
		return w.Finding
	case CategoryConclusion:
		return w.Conclusion
	case CategoryDataPoint:
		return w.DataPoint
	case CategoryTrend:
		return w.Trend
	default:
		return w.Other
	}
}

// Config controls extraction.
type Config struct {
	MaxInsights int     `mapstructure:"max_insights" yaml:"max_insights"`
	MaxChars    int     `mapstructure:"max_chars" yaml:"max_chars"`
	RulesPath   string  `mapstructure:"rules_path" yaml:"rules_path"`
	Weights     Weights `mapstructure:"weights" yaml:"weights"`
}

// DefaultConfig returns the built-in extraction settings.
func DefaultConfig() Config {
	return Config{MaxInsights: DefaultMaxInsights, MaxChars: 240, Weights: DefaultWeights()}
}

// Extractor mines ranked, citation-backed insights from generated text.
// It is safe for concurrent use; Reload swaps rules atomically.
type Extractor struct {
	mu    sync.RWMutex
	cfg   Config
	rules *compiledRules
}

// NewExtractor compiles the rules named by cfg (or the built-in ones).
func NewExtractor(cfg Config) (*Extractor, error) {
	e := &Extractor{}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the rules and weights.
func (e *Extractor) Reload(cfg Config) error {
	if cfg.MaxInsights <= 0 {
		cfg.MaxInsights = DefaultMaxInsights
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultConfig().MaxChars
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	rules := DefaultRules()
	if cfg.RulesPath != "" {
		r, err := LoadRules(cfg.RulesPath)
		if err != nil {
			return err
		}
		rules = r
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return fmt.Errorf("compile insight rules: %w", err)
	}

	e.mu.Lock()
	e.cfg = cfg
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Classify returns the category of one claim.
func (e *Extractor) Classify(claim string) Category {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules.classify(claim)
}

type candidate struct {
	insight KeyInsight
	order   int
}

// Extract returns at most maxInsights insights, highest importance first.
// Claims whose markers resolve to no registered source are dropped.
func (e *Extractor) Extract(text string, reg citations.Resolver, maxInsights int) []KeyInsight {
	e.mu.RLock()
	cfg := e.cfg
	rules := e.rules
	e.mu.RUnlock()

	if maxInsights <= 0 {
		maxInsights = cfg.MaxInsights
	}

	units, sentenceCount := segment(text)
	seenClaims := make(map[string]bool)
	var cands []candidate

	for i, u := range units {
		support := resolveSupport(u.text, reg)
		if len(support) == 0 {
			continue
		}
		claim := cleanClaim(u.text)
		if wordCount(claim) < minClaimWords {
			continue
		}
		norm := strings.ToLower(claim)
		if seenClaims[norm] {
			continue
		}
		seenClaims[norm] = true

		cat := rules.classify(claim)
		cands = append(cands, candidate{
			insight: KeyInsight{
				Text:                  truncateRunes(claim, cfg.MaxChars),
				Category:              cat,
				ImportanceScore:       importance(cfg.Weights, len(support), numericPattern.MatchString(claim), u.sentence, sentenceCount, cat),
				SupportingCitationIDs: support,
			},
			order: i,
		})
	}

	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].insight.ImportanceScore > cands[b].insight.ImportanceScore
	})
	if len(cands) > maxInsights {
		cands = cands[:maxInsights]
	}

	out := make([]KeyInsight, len(cands))
	for i, c := range cands {
		c.insight.ID = fmt.Sprintf("insight-%d", i+1)
		out[i] = c.insight
	}
	return out
}

// resolveSupport returns the distinct registered ids cited in s, in order.
func resolveSupport(s string, reg citations.Resolver) []string {
	if reg == nil {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, m := range citations.FindMarkers(s) {
		if !m.Valid {
			continue
		}
		src, ok := reg.Lookup(m.Key)
		if !ok || seen[src.ID] {
			continue
		}
		seen[src.ID] = true
		ids = append(ids, src.ID)
	}
	return ids
}

func importance(w Weights, markers int, numeric bool, sentence, sentences int, cat Category) float64 {
	score := float64(markers) * w.PerCitation
	if score > w.CitationCap {
		score = w.CitationCap
	}
	if numeric {
		score += w.Numeric
	}
	if sentences > 0 {
		score += w.Position * (1 - float64(sentence)/float64(sentences))
	}
	score += w.category(cat)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
