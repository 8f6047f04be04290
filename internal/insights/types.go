package insights

import (
	"fmt"
	"strings"
)

// Category is the closed set of insight kinds. Unmatched text is Other.
type Category int

const (
	CategoryOther Category = iota
	CategoryFinding
	CategoryConclusion
	CategoryDataPoint
	CategoryTrend
)

// priority is the fixed classification order; the first matching category wins.
var priority = []Category{CategoryFinding, CategoryConclusion, CategoryDataPoint, CategoryTrend}

func (c Category) String() string {
	switch c {
	case CategoryFinding:
		return "Finding"
	case CategoryConclusion:
		return "Conclusion"
	case CategoryDataPoint:
		return "DataPoint"
	case CategoryTrend:
		return "Trend"
	default:
		return "Other"
	}
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name, case-insensitively.
func (c *Category) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "finding":
		*c = CategoryFinding
	case "conclusion":
		*c = CategoryConclusion
	case "datapoint", "data_point":
		*c = CategoryDataPoint
	case "trend":
		*c = CategoryTrend
	case "other", "":
		*c = CategoryOther
	default:
		return fmt.Errorf("unknown insight category %q", string(b))
	}
	return nil
}

// KeyInsight is a short claim backed by at least one resolved citation.
type KeyInsight struct {
	ID                    string   `json:"id"`
	Text                  string   `json:"text"`
	Category              Category `json:"category"`
	ImportanceScore       float64  `json:"importance_score"`
	SupportingCitationIDs []string `json:"supporting_citation_ids"`
}
