package bubbletea

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
)

var _ Block = (*ArtifactsBlock)(nil)

// ArtifactsBlock lists the files written under the artifacts root, in the
// order they were first reported.
type ArtifactsBlock struct {
	paths     []string
	collapsed bool
	styles    Styles
}

// NewArtifactsBlock creates an empty, expanded ArtifactsBlock.
func NewArtifactsBlock(styles Styles) *ArtifactsBlock {
	return &ArtifactsBlock{styles: styles}
}

// Add records path and reports whether it was new.
func (b *ArtifactsBlock) Add(path string) bool {
	if slices.Contains(b.paths, path) {
		return false
	}
	b.paths = append(b.paths, path)
	return true
}

// Paths returns the recorded paths.
func (b *ArtifactsBlock) Paths() []string { return b.paths }

func (b *ArtifactsBlock) Update(msg tea.Msg) (Block, tea.Cmd) {
	if _, ok := msg.(ToggleMsg); ok {
		b.collapsed = !b.collapsed
	}
	return b, nil
}

func (b *ArtifactsBlock) View(width int) string {
	indicator := "▼"
	if b.collapsed {
		indicator = "▶"
	}
	header := b.styles.Accent.Render(fmt.Sprintf("%s artifacts (%d)", indicator, len(b.paths)))
	if b.collapsed {
		return header
	}
	var s strings.Builder
	s.WriteString(header)
	for _, p := range b.paths {
		s.WriteString("\n  ")
		s.WriteString(runewidth.Truncate(p, max(width-2, 1), "…"))
	}
	return s.String()
}
