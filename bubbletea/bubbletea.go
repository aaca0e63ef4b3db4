// Package bubbletea provides a Bubble Tea TUI that follows a crew pipeline
// run stage by stage.
package bubbletea

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/crew"
)

// PipelineFunc runs the pipeline on one project description. The onEvent
// callback is called for each progress event. The function blocks until the
// run completes or the context is cancelled.
type PipelineFunc func(ctx context.Context, description string, onEvent crew.EventHandler) (*crew.PipelineResult, error)

// Run creates and runs the Bubble Tea TUI program. It blocks until the program
// exits and returns the final model. When ctx is cancelled, the program quits.
func Run(ctx context.Context, m Model) (Model, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	final, err := p.Run()
	if err != nil {
		return m, err
	}
	fm, ok := final.(Model)
	if !ok {
		return m, fmt.Errorf("unexpected final model %T", final)
	}
	return fm, nil
}

// EventMsg wraps a pipeline event for delivery to the Bubble Tea model.
type EventMsg struct {
	Event crew.Event
}

// PipelineDoneMsg signals that the pipeline run has returned.
type PipelineDoneMsg struct {
	Result *crew.PipelineResult
	Err    error
}

// startMsg asks the model to start a run with the current input.
type startMsg struct{}
