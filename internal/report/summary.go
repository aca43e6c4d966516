package report

import (
	"fmt"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/mattn/go-runewidth"
)

// PassSummary carries the per-pass counts shown to the operator.
type PassSummary struct {
	Pass       string `json:"pass"`
	Candidates int    `json:"candidates"`
	Deleted    int    `json:"deleted"`
	Deployed   int    `json:"deployed"`
	Conflicted int    `json:"conflicted"`
	Unmapped   int    `json:"unmapped"`
	Skipped    int    `json:"skipped"`
}

const summaryTemplate = `Pass {{pass}}: {{candidates}} candidates
{{#each rows}}{{this}}
{{/each}}`

// RenderSummary renders the per-pass summary block with aligned count
// columns.
func RenderSummary(s PassSummary) (string, error) {
	labels := []struct {
		name  string
		count int
	}{
		{"deployed", s.Deployed},
		{"deleted", s.Deleted},
		{"conflicted", s.Conflicted},
		{"unmapped", s.Unmapped},
		{"skipped", s.Skipped},
	}

	width := 0
	for _, l := range labels {
		if w := runewidth.StringWidth(l.name); w > width {
			width = w
		}
	}

	rows := make([]string, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, fmt.Sprintf("  %s %d", runewidth.FillRight(l.name, width), l.count))
	}

	out, err := raymond.Render(summaryTemplate, map[string]interface{}{
		"pass":       s.Pass,
		"candidates": s.Candidates,
		"rows":       rows,
	})
	if err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}
