package bubbletea

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/crew"
)

var _ Block = (*ErrorBlock)(nil)

// ErrorBlock renders a pipeline failure. Metrics carried by a
// *crew.PipelineError are summarized below the message.
type ErrorBlock struct {
	err    error
	styles Styles
}

// NewErrorBlock creates an ErrorBlock.
func NewErrorBlock(err error, styles Styles) *ErrorBlock {
	return &ErrorBlock{err: err, styles: styles}
}

func (b *ErrorBlock) Update(msg tea.Msg) (Block, tea.Cmd) {
	return b, nil
}

func (b *ErrorBlock) View(width int) string {
	content := b.styles.Error.Render(fmt.Sprintf("Error: %v", b.err))
	var pe *crew.PipelineError
	if errors.As(b.err, &pe) {
		t := pe.Metrics.Total
		content += "\n" + b.styles.Muted.Render(fmt.Sprintf(
			"%d API calls, %d tokens, %d errors before failure", t.APICalls, t.TotalTokens, t.Errors))
	}
	return lipgloss.NewStyle().Width(width).Render(content)
}
