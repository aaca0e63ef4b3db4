package bubbletea

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/goldmark"
	"github.com/mattn/go-runewidth"
)

var _ Block = (*StageBlock)(nil)

// StageStatus is the progress of one pipeline stage.
type StageStatus int

const (
	StagePending StageStatus = iota
	StageRunning
	StageDone
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageRunning:
		return "running"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	}
	return "pending"
}

type activityKind int

const (
	activityInfo activityKind = iota
	activityTool
	activityError
)

type activity struct {
	kind activityKind
	text string
}

// StageBlock renders one stage: a header with its progress, the activity
// log of tool calls and iterations, and the final output as markdown.
type StageBlock struct {
	agent      crew.AgentName
	status     StageStatus
	activity   []activity
	output     string
	iterations int
	toolCalls  int
	collapsed  bool
	theme      crew.Theme
	styles     Styles
}

// NewStageBlock creates a pending StageBlock that starts expanded.
func NewStageBlock(agent crew.AgentName, theme crew.Theme, styles Styles) *StageBlock {
	return &StageBlock{agent: agent, theme: theme, styles: styles}
}

// Agent returns the stage's agent name.
func (b *StageBlock) Agent() crew.AgentName { return b.agent }

// Status returns the stage progress.
func (b *StageBlock) Status() StageStatus { return b.status }

// Output returns the raw output of a completed stage.
func (b *StageBlock) Output() string { return b.output }

// Start marks the stage as running.
func (b *StageBlock) Start() { b.status = StageRunning }

// SetTools records the tools discovered for the stage.
func (b *StageBlock) SetTools(names []string) {
	if len(names) == 0 {
		b.log(activityInfo, "no tools")
		return
	}
	b.log(activityInfo, "tools: "+strings.Join(names, ", "))
}

// Iteration records a model call.
func (b *StageBlock) Iteration(n int) {
	b.iterations = n
	b.log(activityInfo, fmt.Sprintf("iteration %d", n))
}

// ToolCall records a tool invocation.
func (b *StageBlock) ToolCall(name string) {
	b.toolCalls++
	b.log(activityTool, "→ "+name)
}

// ToolError records a tool that reported a failure back to the model.
func (b *StageBlock) ToolError(name string) {
	b.log(activityError, "✗ "+name+" returned an error")
}

// Complete marks the stage done with its final result.
func (b *StageBlock) Complete(res crew.AgentRunResult) {
	b.status = StageDone
	b.output = res.RawOutput
	b.iterations = res.IterationCount
	b.toolCalls = res.ToolCallCount
}

// Fail marks the stage failed.
func (b *StageBlock) Fail(err error) {
	b.status = StageFailed
	if err != nil {
		b.log(activityError, err.Error())
	}
}

func (b *StageBlock) log(kind activityKind, text string) {
	b.activity = append(b.activity, activity{kind: kind, text: text})
}

func (b *StageBlock) Update(msg tea.Msg) (Block, tea.Cmd) {
	if _, ok := msg.(ToggleMsg); ok {
		b.collapsed = !b.collapsed
	}
	return b, nil
}

func (b *StageBlock) View(width int) string {
	indicator := "▼"
	if b.collapsed {
		indicator = "▶"
	}
	header := b.styles.Stage.Render(indicator+" "+string(b.agent)) + "  " + b.summary()
	if b.collapsed {
		return header
	}

	inner := max(width-2, 1)
	pad := lipgloss.NewStyle().PaddingLeft(2)
	var s strings.Builder
	s.WriteString(header)
	for _, a := range b.activity {
		line := runewidth.Truncate(a.text, inner, "…")
		s.WriteString("\n")
		s.WriteString(pad.Render(b.activityStyle(a.kind).Render(line)))
	}
	if b.output != "" {
		s.WriteString("\n\n")
		s.WriteString(pad.Render(goldmark.Render(b.output, inner, b.theme)))
	}
	return s.String()
}

func (b *StageBlock) summary() string {
	switch b.status {
	case StageRunning:
		return b.styles.Muted.Render(fmt.Sprintf("running · %d tool calls", b.toolCalls))
	case StageDone:
		return b.styles.Success.Render(fmt.Sprintf("✓ %d iterations · %d tool calls", b.iterations, b.toolCalls))
	case StageFailed:
		return b.styles.Error.Render("✗ failed")
	}
	return b.styles.Muted.Render("pending")
}

func (b *StageBlock) activityStyle(kind activityKind) lipgloss.Style {
	switch kind {
	case activityTool:
		return b.styles.ToolCall
	case activityError:
		return b.styles.Error
	}
	return b.styles.Muted
}
