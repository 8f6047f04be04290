// Package scoring computes the confidence and freshness of a synthesized answer.
package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
)

// Freshness combination policies.
const (
	CombineMean = "mean"
	CombineMax  = "max"
)

// Config holds the scoring constants.
type Config struct {
	// PenaltyPerMarker is subtracted from the resolution factor for each unresolved marker.
	PenaltyPerMarker float64 `mapstructure:"penalty_per_marker" yaml:"penalty_per_marker"`
	// PenaltyFloor is the lowest the resolution factor can go.
	PenaltyFloor float64 `mapstructure:"penalty_floor" yaml:"penalty_floor"`
	// HalfLife is the age at which a live source's recency weight is 0.5.
	HalfLife time.Duration `mapstructure:"half_life" yaml:"half_life"`
	// Combine is "mean" or "max".
	Combine string `mapstructure:"combine" yaml:"combine"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PenaltyPerMarker: 0.10,
		PenaltyFloor:     0.30,
		HalfLife:         72 * time.Hour,
		Combine:          CombineMean,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PenaltyPerMarker <= 0 {
		c.PenaltyPerMarker = def.PenaltyPerMarker
	}
	if c.PenaltyFloor <= 0 || c.PenaltyFloor > 1 {
		c.PenaltyFloor = def.PenaltyFloor
	}
	if c.HalfLife <= 0 {
		c.HalfLife = def.HalfLife
	}
	if c.Combine != CombineMax {
		c.Combine = CombineMean
	}
	return c
}

// Scores is the pair of bounded quality metrics.
type Scores struct {
	Confidence float64 `json:"confidence"`
	Freshness  float64 `json:"freshness"`
}

// Calculator scores linked citations. Its constants can be swapped at runtime.
type Calculator struct {
	mu  sync.RWMutex
	cfg Config
}

// NewCalculator returns a Calculator; zero fields in cfg take defaults.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg.withDefaults()}
}

// Config returns the active constants.
func (c *Calculator) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Update replaces the constants.
func (c *Calculator) Update(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

// Score computes confidence over ordered and freshness over live, with ages
// measured against now.
func (c *Calculator) Score(ordered []citations.CitationSource, unresolved []string, live []citations.CitationSource, now time.Time) Scores {
	cfg := c.Config()
	return Scores{
		Confidence: Confidence(ordered, unresolved, cfg),
		Freshness:  Freshness(live, now, cfg),
	}
}

// Confidence is the mean relevance of the referenced sources times the
// resolution penalty. No referenced sources means zero confidence.
func Confidence(ordered []citations.CitationSource, unresolved []string, cfg Config) float64 {
	if len(ordered) == 0 {
		return 0
	}
	cfg = cfg.withDefaults()
	sum := 0.0
	for _, src := range ordered {
		sum += clamp01(src.RelevanceScore)
	}
	return clamp01(sum / float64(len(ordered)) * ResolutionPenalty(len(unresolved), cfg))
}

// ResolutionPenalty is 1 with no unresolved markers, otherwise decreases by
// PenaltyPerMarker per marker down to PenaltyFloor.
func ResolutionPenalty(unresolved int, cfg Config) float64 {
	if unresolved <= 0 {
		return 1
	}
	cfg = cfg.withDefaults()
	return math.Max(cfg.PenaltyFloor, 1-cfg.PenaltyPerMarker*float64(unresolved))
}

// Freshness combines the recency weights of live sources. Non-live entries are
// ignored; with no live sources the result is exactly 0.
func Freshness(live []citations.CitationSource, now time.Time, cfg Config) float64 {
	cfg = cfg.withDefaults()
	n := 0
	sum, best := 0.0, 0.0
	for _, src := range live {
		if !src.IsLive() {
			continue
		}
		w := RecencyWeight(src.Timestamp, now, cfg.HalfLife)
		n++
		sum += w
		if w > best {
			best = w
		}
	}
	if n == 0 {
		return 0
	}
	if cfg.Combine == CombineMax {
		return clamp01(best)
	}
	return clamp01(sum / float64(n))
}

// RecencyWeight decays exponentially with age: 1 at age 0, 0.5 at halfLife.
// Timestamps in the future count as age 0; a missing timestamp weighs 0.
func RecencyWeight(ts *time.Time, now time.Time, halfLife time.Duration) float64 {
	if ts == nil || ts.IsZero() {
		return 0
	}
	if halfLife <= 0 {
		halfLife = DefaultConfig().HalfLife
	}
	age := now.Sub(*ts)
	if age < 0 {
		age = 0
	}
	return clamp01(math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours()))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
