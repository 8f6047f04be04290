// Package llm implements answer generators that cite numbered sources.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
)

const maxSnippetRunes = 600

// SystemPrompt instructs the model to answer only from the listed sources.
const SystemPrompt = `You are a research analyst. Answer the user's question using only the sources listed.

Citation rules:
- Cite document sources as [n] and live web sources as [Ln], using exactly the ids shown.
- Put the marker right after the claim it supports. A claim may cite several sources, e.g. [1][L2].
- Never invent ids that are not listed. If no source supports a claim, leave it out.
- If the sources do not answer the question, say so plainly.

Write a concise answer in plain prose, most important findings first.`

// BuildUserContent lists the sources followed by the question.
func BuildUserContent(query string, sources []citations.NumberedSource) string {
	var sb strings.Builder

	if len(sources) == 0 {
		sb.WriteString("## Available Sources:\n(none)\n")
	} else {
		sb.WriteString("## Available Sources:\n")
		for _, s := range sources {
			title := s.Title
			if title == "" {
				title = s.Locator
			}
			meta := s.Locator
			if s.Timestamp != nil {
				meta += ", " + s.Timestamp.UTC().Format(time.RFC3339)
			}
			sb.WriteString(fmt.Sprintf("[%s] %s (%s)\n", s.ID, title, meta))
			if snippet := truncate(strings.TrimSpace(s.Snippet), maxSnippetRunes); snippet != "" {
				sb.WriteString(fmt.Sprintf("    Content: %s\n", snippet))
			}
		}
	}

	sb.WriteString("\n## Question:\n")
	sb.WriteString(strings.TrimSpace(query))
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
