package insights

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules lists the phrases that signal each category. DataPoint needs a
// numeric token plus one of DataPointVerbs.
type Rules struct {
	Finding        []string `yaml:"finding"`
	Conclusion     []string `yaml:"conclusion"`
	DataPointVerbs []string `yaml:"data_point_verbs"`
	Trend          []string `yaml:"trend"`
}

// DefaultRules returns the built-in phrase lists.
func DefaultRules() Rules {
	return Rules{
		Finding: []string{
			"found that", "find that", "finds that",
			"shows that", "show that", "showed that", "shown that",
			"demonstrates", "demonstrated", "demonstrate",
			"reveals", "revealed", "discovered", "identified",
		},
		Conclusion: []string{
			"therefore", "thus", "hence", "consequently",
			"this suggests", "suggests that", "this indicates",
			"in conclusion", "overall", "as a result", "in summary",
		},
		DataPointVerbs: []string{
			"rose", "rise", "rises", "increased", "increase", "increases",
			"fell", "fall", "falls", "decreased", "decrease", "decreases",
			"grew", "grow", "grows", "dropped", "drop", "declined", "decline",
			"reached", "reaches", "totaled", "totalled", "exceeded", "exceeds",
			"doubled", "tripled", "improved", "improves", "reduced", "reduces",
			"climbed", "jumped", "surged", "averaged", "accounts for", "accounted for",
			"reported", "recorded", "measured", "estimated",
			"more than", "less than", "higher", "lower", "compared",
			"is", "was", "are", "were", "stood at", "stands at", "amounted to",
			"faster", "slower", "larger", "smaller", "greater", "fewer", "cheaper",
		},
		Trend: []string{
			"increasingly", "recent", "recently", "emerging", "trend", "trends",
			"growing", "continues to", "continued", "over time",
			"year-over-year", "shift toward", "shifting", "momentum",
		},
	}
}

// LoadRules reads a YAML rules file. Categories left empty in the file keep
// their built-in phrases.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read insight rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse insight rules %s: %w", path, err)
	}
	def := DefaultRules()
	if len(r.Finding) == 0 {
		r.Finding = def.Finding
	}
	if len(r.Conclusion) == 0 {
		r.Conclusion = def.Conclusion
	}
	if len(r.DataPointVerbs) == 0 {
		r.DataPointVerbs = def.DataPointVerbs
	}
	if len(r.Trend) == 0 {
		r.Trend = def.Trend
	}
	return r, nil
}

var numericPattern = regexp.MustCompile(`\d`)

type compiledRules struct {
	phrases map[Category]*regexp.Regexp
	verbs   *regexp.Regexp
}

func compileRules(r Rules) (*compiledRules, error) {
	cr := &compiledRules{phrases: make(map[Category]*regexp.Regexp, 3)}
	for cat, list := range map[Category][]string{
		CategoryFinding:    r.Finding,
		CategoryConclusion: r.Conclusion,
		CategoryTrend:      r.Trend,
	} {
		re, err := phraseRegexp(list)
		if err != nil {
			return nil, fmt.Errorf("%s rules: %w", cat, err)
		}
		cr.phrases[cat] = re
	}
	verbs, err := phraseRegexp(r.DataPointVerbs)
	if err != nil {
		return nil, fmt.Errorf("data point verbs: %w", err)
	}
	cr.verbs = verbs
	return cr, nil
}

// phraseRegexp builds a case-insensitive whole-word alternation, or nil for an empty list.
func phraseRegexp(phrases []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func (cr *compiledRules) classify(claim string) Category {
	for _, cat := range priority {
		if cr.matches(cat, claim) {
			return cat
		}
	}
	return CategoryOther
}

func (cr *compiledRules) matches(cat Category, claim string) bool {
	if cat == CategoryDataPoint {
		return cr.verbs != nil && numericPattern.MatchString(claim) && cr.verbs.MatchString(claim)
	}
	re := cr.phrases[cat]
	return re != nil && re.MatchString(claim)
}
