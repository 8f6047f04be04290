package citations

import (
	"errors"
	"strconv"
	"time"
)

// SourceType identifies the citation namespace a source belongs to.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceLiveData SourceType = "live_data"
)

// Valid reports whether t is one of the known namespaces.
func (t SourceType) Valid() bool {
	return t == SourceDocument || t == SourceLiveData
}

// Prefix is the marker prefix used inside brackets ("" for documents, "L" for live data).
func (t SourceType) Prefix() string {
	if t == SourceLiveData {
		return "L"
	}
	return ""
}

// ErrUnknownSourceType is returned when registering evidence with a namespace outside the closed set.
var ErrUnknownSourceType = errors.New("unknown source type")

// Key is the composite (namespace, sequence) identity of a registered source.
type Key struct {
	Namespace SourceType
	Seq       int
}

// ID renders the key the way it appears inside a marker: "3" or "L3".
func (k Key) ID() string {
	return k.Namespace.Prefix() + strconv.Itoa(k.Seq)
}

// Evidence is one retrieved passage or snippet before it is numbered.
type Evidence struct {
	Text           string     `json:"text"`
	Title          string     `json:"title"`
	Locator        string     `json:"locator"`
	RelevanceScore float64    `json:"relevance_score"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// CitationSource is a numbered source. FirstSeenOrder is zero until the source
// is referenced by linked text.
type CitationSource struct {
	ID             string     `json:"id"`
	SourceType     SourceType `json:"source_type"`
	Title          string     `json:"title"`
	Locator        string     `json:"locator"`
	RelevanceScore float64    `json:"relevance_score"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	FirstSeenOrder int        `json:"first_seen_order,omitempty"`

	Snippet string `json:"-"`
	key     Key
}

// Key returns the composite key of the source.
func (c CitationSource) Key() Key { return c.key }

// IsLive reports whether the source is in the live data namespace.
func (c CitationSource) IsLive() bool { return c.SourceType == SourceLiveData }

// Resolver looks up registered sources by composite key.
type Resolver interface {
	Lookup(key Key) (CitationSource, bool)
}

// NumberedSource is a registered source as presented to the text generator.
type NumberedSource struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	Locator    string     `json:"locator"`
	Snippet    string     `json:"snippet"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}
