package synthesis

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/parsers"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

var (
	blankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	spaces     = regexp.MustCompile(`[ \t\p{Zs}]+`)
)

// FormatContext renders results as the knowledge block of the response prompt.
func FormatContext(results []model.SearchResult) string {
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("Result %d (Namespace: %s, Score: %.2f):\n%s",
			i+1, r.Namespace, r.RelevanceScore, r.Content))
	}
	return strings.Join(parts, "\n\n")
}

// Clean strips markdown fences and collapses runs of blank lines.
func Clean(s string) string {
	s = parsers.StripFences(s)
	s = strings.ReplaceAll(s, "```", "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Polish applies the local-language style rules: forbidden words are removed,
// whitespace is collapsed and the text is cut to maxRunes, at the last sentence
// mark when there is one.
func Polish(s string, forbidden []string, maxRunes int) string {
	for _, w := range forbidden {
		if w = strings.TrimSpace(w); w != "" {
			s = strings.ReplaceAll(s, w, "")
		}
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(spaces.ReplaceAllString(l, " ")); l != "" {
			kept = append(kept, l)
		}
	}
	s = strings.Join(kept, "\n")
	return cutAtSentence(s, maxRunes)
}

func cutAtSentence(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)[:maxRunes]
	for i := len(runes) - 1; i > 0; i-- {
		if runes[i] == '။' || runes[i] == '၊' {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return strings.TrimSpace(string(runes))
}

// AppendNote adds the escalation notice after the reply body.
func AppendNote(body, note string) string {
	if body == "" {
		return note
	}
	if strings.HasSuffix(body, note) {
		return body
	}
	return body + "\n\n" + note
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
