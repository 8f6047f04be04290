package citations

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// DefaultDuplicateOverlap is the text overlap at or above which two evidences
// with the same locator are treated as the same source.
const DefaultDuplicateOverlap = 0.85

// RegistryOptions tunes near-duplicate detection.
type RegistryOptions struct {
	DuplicateOverlap float64 `mapstructure:"duplicate_overlap" yaml:"duplicate_overlap"`
}

type entry struct {
	source  CitationSource
	locator string
}

// Registry numbers the evidence of a single synthesis pass. A Registry must
// not be shared between passes; it is filled once, before any reader runs.
type Registry struct {
	opts    RegistryOptions
	next    map[SourceType]int
	entries map[Key]entry
	order   []Key
}

// NewRegistry creates an empty per-request registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.DuplicateOverlap <= 0 || opts.DuplicateOverlap > 1 {
		opts.DuplicateOverlap = DefaultDuplicateOverlap
	}
	return &Registry{
		opts:    opts,
		next:    map[SourceType]int{SourceDocument: 0, SourceLiveData: 0},
		entries: make(map[Key]entry),
	}
}

// Register numbers ev in the namespace of sourceType. A near-duplicate of an
// already registered source in the same namespace returns the existing source.
func (r *Registry) Register(ev Evidence, sourceType SourceType) (CitationSource, error) {
	if !sourceType.Valid() {
		return CitationSource{}, fmt.Errorf("register %q: %w", sourceType, ErrUnknownSourceType)
	}

	locator := NormalizeLocator(ev.Locator)
	if existing, ok := r.findDuplicate(ev, locator, sourceType); ok {
		return existing, nil
	}

	r.next[sourceType]++
	key := Key{Namespace: sourceType, Seq: r.next[sourceType]}
	src := CitationSource{
		ID:             key.ID(),
		SourceType:     sourceType,
		Title:          ev.Title,
		Locator:        ev.Locator,
		RelevanceScore: sanitizeScore(ev.RelevanceScore),
		Timestamp:      ev.Timestamp,
		Snippet:        ev.Text,
		key:            key,
	}
	r.entries[key] = entry{source: src, locator: locator}
	r.order = append(r.order, key)
	return src, nil
}

func (r *Registry) findDuplicate(ev Evidence, locator string, sourceType SourceType) (CitationSource, bool) {
	if locator == "" {
		return CitationSource{}, false
	}
	for _, key := range r.order {
		if key.Namespace != sourceType {
			continue
		}
		e := r.entries[key]
		if e.locator != locator {
			continue
		}
		if TextOverlap(e.source.Snippet, ev.Text) >= r.opts.DuplicateOverlap {
			return e.source, true
		}
	}
	return CitationSource{}, false
}

// Lookup implements Resolver.
func (r *Registry) Lookup(key Key) (CitationSource, bool) {
	e, ok := r.entries[key]
	if !ok {
		return CitationSource{}, false
	}
	return e.source, true
}

// Len returns the number of distinct registered sources.
func (r *Registry) Len() int { return len(r.order) }

// Sources returns all registered sources in registration order.
func (r *Registry) Sources() []CitationSource {
	return lo.Map(r.order, func(k Key, _ int) CitationSource { return r.entries[k].source })
}

// SourcesOf returns the registered sources of one namespace, by sequence.
func (r *Registry) SourcesOf(sourceType SourceType) []CitationSource {
	return lo.Filter(r.Sources(), func(s CitationSource, _ int) bool { return s.SourceType == sourceType })
}

func sanitizeScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Numbered lists the sources for a generation prompt: documents first, then
// live data, each in id order and capped at perNamespace (0 = no cap).
func (r *Registry) Numbered(perNamespace int) []NumberedSource {
	var out []NumberedSource
	for _, ns := range []SourceType{SourceDocument, SourceLiveData} {
		for i, src := range r.SourcesOf(ns) {
			if perNamespace > 0 && i >= perNamespace {
				break
			}
			out = append(out, NumberedSource{
				ID:         src.ID,
				SourceType: src.SourceType,
				Title:      src.Title,
				Locator:    src.Locator,
				Snippet:    src.Snippet,
				Timestamp:  src.Timestamp,
			})
		}
	}
	return out
}
