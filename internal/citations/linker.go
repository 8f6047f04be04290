package citations

import (
	"regexp"
	"strconv"
)

// markerPattern matches document markers [n] and live data markers [Ln].
var markerPattern = regexp.MustCompile(`\[(L?)(\d+)\]`)

// Marker is one citation marker found in text.
type Marker struct {
	Raw   string
	Key   Key
	Valid bool // false when the digits do not fit an int
	Start int
	End   int
}

// ID is the canonical id the marker refers to.
func (m Marker) ID() string {
	if !m.Valid {
		return m.Raw[1 : len(m.Raw)-1]
	}
	return m.Key.ID()
}

// FindMarkers returns every marker in text, left to right.
func FindMarkers(text string) []Marker {
	locs := markerPattern.FindAllStringSubmatchIndex(text, -1)
	out := make([]Marker, 0, len(locs))
	for _, loc := range locs {
		ns := SourceDocument
		if loc[3] > loc[2] {
			ns = SourceLiveData
		}
		m := Marker{Raw: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]}
		seq, err := strconv.Atoi(text[loc[4]:loc[5]])
		if err == nil {
			m.Key = Key{Namespace: ns, Seq: seq}
			m.Valid = true
		}
		out = append(out, m)
	}
	return out
}

// LinkResult is the outcome of validating the markers in generated text.
type LinkResult struct {
	// Text is the validated text; markers are never removed, including unresolved ones.
	Text string
	// Ordered holds each referenced source once, in order of first appearance,
	// with FirstSeenOrder set per namespace.
	Ordered []CitationSource
	// Unresolved holds the ids of markers with no registered source, once each.
	Unresolved []string
}

// Live returns the live data sources in Ordered.
func (lr LinkResult) Live() []CitationSource {
	var out []CitationSource
	for _, c := range lr.Ordered {
		if c.IsLive() {
			out = append(out, c)
		}
	}
	return out
}

// Link resolves every marker in text against reg. It never fails: markers
// without a registry entry are reported in Unresolved and left in the text.
func Link(text string, reg Resolver) LinkResult {
	res := LinkResult{Text: text}
	seen := make(map[string]bool)
	counters := map[SourceType]int{}

	for _, m := range FindMarkers(text) {
		id := m.ID()
		if seen[id] {
			continue
		}
		seen[id] = true

		var src CitationSource
		found := false
		if m.Valid && reg != nil {
			src, found = reg.Lookup(m.Key)
		}
		if !found {
			res.Unresolved = append(res.Unresolved, id)
			continue
		}
		counters[src.SourceType]++
		src.FirstSeenOrder = counters[src.SourceType]
		res.Ordered = append(res.Ordered, src)
	}
	return res
}
