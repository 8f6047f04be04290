package insights

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	sentenceBoundary = regexp.MustCompile(`[.!?]+\s+|\n+`)
	leadingMarkers   = regexp.MustCompile(`^(?:\s*\[L?\d+\])+`)
	clauseBoundary   = regexp.MustCompile(`(?i)\s*;\s*|,?\s+\b(?:while|whereas|although|but)\b\s+`)
	markerToken      = regexp.MustCompile(`\s*\[L?\d+\]`)
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
	bulletPrefix     = regexp.MustCompile(`^(?:[-*•]\s+|\d+[.)]\s+|#+\s+)`)
)

// unit is one claim-bearing clause of the text.
type unit struct {
	text     string
	sentence int
}

// splitSentences splits on terminal punctuation followed by whitespace and on
// line breaks. Markers that open a sentence belong to the previous one.
func splitSentences(text string) []string {
	var raw []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		end := loc[0] + len(strings.TrimRightFunc(text[loc[0]:loc[1]], unicode.IsSpace))
		raw = append(raw, text[last:end])
		last = loc[1]
	}
	if last < len(text) {
		raw = append(raw, text[last:])
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if lead := leadingMarkers.FindString(s); lead != "" && len(out) > 0 {
			out[len(out)-1] += " " + strings.TrimSpace(lead)
			s = strings.TrimSpace(s[len(lead):])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// segment splits text into clause units tagged with their sentence index.
func segment(text string) ([]unit, int) {
	sentences := splitSentences(text)
	var units []unit
	for i, s := range sentences {
		for _, clause := range clauseBoundary.Split(s, -1) {
			clause = strings.TrimSpace(clause)
			if clause != "" {
				units = append(units, unit{text: clause, sentence: i})
			}
		}
	}
	return units, len(sentences)
}

// cleanClaim strips markers, list bullets and redundant whitespace.
func cleanClaim(s string) string {
	s = markerToken.ReplaceAllString(s, "")
	s = bulletPrefix.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.Join(strings.Fields(s), " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func wordCount(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max])) + "..."
}
