// Package goldmark renders agent output (plans, code summaries, test
// reports) to ANSI-styled terminal text using goldmark for parsing and
// lipgloss for styling.
package goldmark

import "github.com/fwojciec/crew"

// Render parses markdown source and returns ANSI-styled terminal output.
// Paragraphs and list items are word-wrapped to width. Code blocks keep
// their lines and get a numbered gutter. GFM tables are drawn with borders.
func Render(source string, width int, theme crew.Theme) string {
	if source == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	return newRenderer(theme).render([]byte(source), width)
}

// Headings returns the plain text of every heading in source, in document
// order. Plans use headings for their steps.
func Headings(source string) []string {
	if source == "" {
		return nil
	}
	return newRenderer(crew.DefaultTheme()).headings([]byte(source))
}
