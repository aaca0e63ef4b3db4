package bubbletea

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/crew"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

var _ tea.Model = Model{}

// Model is the Bubble Tea model for the crew TUI.
type Model struct {
	// Input holds the project description. Exported for test access.
	Input textinput.Model
	// Viewport is the scrollable run log. Exported for test access.
	Viewport viewport.Model
	// Spinner animates the running stage. Exported for test access.
	Spinner spinner.Model

	run       PipelineFunc
	theme     crew.Theme
	styles    Styles
	autoStart bool

	blocks     []Block
	blockFocus int // index of focused collapsible block (-1 = none)
	stages     map[crew.AgentName]*StageBlock
	artifacts  *ArtifactsBlock

	sessionID  string
	lastStatus string
	result     *crew.PipelineResult
	cancelled  bool

	running bool
	cancel  context.CancelFunc
	eventCh chan crew.Event
	doneCh  chan PipelineDoneMsg
	err     error
	ready   bool
}

// New creates a TUI Model. A non-empty description starts the run as soon
// as the program starts; otherwise the user types one and presses Enter.
func New(run PipelineFunc, description string, theme crew.Theme) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe the program to build..."
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 0
	ti.SetValue(description)

	styles := NewStyles(theme)
	return Model{
		Input:      ti,
		Spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Stage)),
		run:        run,
		theme:      theme,
		styles:     styles,
		autoStart:  strings.TrimSpace(description) != "",
		blockFocus: -1,
		stages:     make(map[crew.AgentName]*StageBlock, 3),
	}
}

// Running returns whether a pipeline run is in progress.
func (m Model) Running() bool { return m.running }

// Err returns the error of the last run, if any. Cancellation is not an error.
func (m Model) Err() error { return m.err }

// Result returns the result of the last successful run.
func (m Model) Result() *crew.PipelineResult { return m.result }

// SessionID returns the metrics session of the current or last run.
func (m Model) SessionID() string { return m.sessionID }

// Stage returns the block of the given stage, or nil before it started.
func (m Model) Stage(agent crew.AgentName) *StageBlock { return m.stages[agent] }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.autoStart {
		return func() tea.Msg { return startMsg{} }
	}
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m = m.handleWindowSize(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case startMsg:
		if m.running {
			return m, nil
		}
		text := strings.TrimSpace(m.Input.Value())
		if text == "" {
			return m, nil
		}
		return m.submitInput(text)

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m = m.processEvent(msg.Event)
		m.Viewport.SetContent(m.renderContent())
		m.Viewport.GotoBottom()
		if m.eventCh != nil {
			return m, listenForEvent(m.eventCh, m.doneCh)
		}
		return m, nil

	case PipelineDoneMsg:
		m.running = false
		m.cancel = nil
		m.eventCh = nil
		m.doneCh = nil
		m = m.finish(msg)
		m.Viewport.SetContent(m.renderContent())
		m.Viewport.GotoBottom()
		m = m.updateBlockFocus()
		cmds = append(cmds, m.Input.Focus())
		return m, tea.Batch(cmds...)
	}

	// Viewport always receives messages for scrolling (keyboard and mouse).
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.Input.View())
	return b.String()
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	headerHeight := 1
	inputHeight := 1
	statusHeight := 1
	borderHeight := 3 // newlines between sections
	vpHeight := max(msg.Height-headerHeight-inputHeight-statusHeight-borderHeight, 1)

	if !m.ready {
		m.Viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.Viewport.Width = msg.Width
		m.Viewport.Height = vpHeight
	}
	m.Viewport.SetContent(m.renderContent())
	m.Input.Width = msg.Width
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.running {
			if m.cancel != nil {
				m.cancel()
			}
			m.lastStatus = "Cancelling..."
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		if m.running {
			return m, nil
		}
		text := strings.TrimSpace(m.Input.Value())
		if text == "" {
			return m, nil
		}
		return m.submitInput(text)

	case tea.KeyTab:
		if m.blockFocus >= 0 {
			block, cmd := m.blocks[m.blockFocus].Update(ToggleMsg{})
			m.blocks[m.blockFocus] = block
			m.Viewport.SetContent(m.renderContent())
			return m, cmd
		}
		return m, nil

	case tea.KeyShiftTab:
		m = m.cycleFocusPrev()
		m.Viewport.SetContent(m.renderContent())
		return m, nil
	}

	var cmd tea.Cmd
	var cmds []tea.Cmd
	// Character keys go to the input only, so typing never scrolls.
	if msg.Type != tea.KeyRunes {
		m.Viewport, cmd = m.Viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) submitInput(text string) (tea.Model, tea.Cmd) {
	m.Input.SetValue("")
	m.Input.Blur()
	m.err = nil
	m.result = nil
	m.cancelled = false
	m.sessionID = ""
	m.lastStatus = "Starting..."

	// Each run starts from a clean log.
	m.blocks = nil
	m.blockFocus = -1
	m.stages = make(map[crew.AgentName]*StageBlock, 3)
	m.artifacts = nil
	m.Viewport.SetContent("")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.eventCh = make(chan crew.Event, 256)
	m.doneCh = make(chan PipelineDoneMsg, 1)
	m.running = true

	return m, tea.Batch(
		startPipeline(m.run, ctx, text, m.eventCh, m.doneCh),
		listenForEvent(m.eventCh, m.doneCh),
		m.Spinner.Tick,
	)
}

// processEvent routes a pipeline event to the block it concerns.
func (m Model) processEvent(evt crew.Event) Model {
	m.lastStatus = evt.String()
	switch e := evt.(type) {
	case crew.EventPipelineStarted:
		m.sessionID = e.SessionID
	case crew.EventStageStarted:
		b := NewStageBlock(e.Agent, m.theme, m.styles)
		b.Start()
		m.stages[e.Agent] = b
		m.blocks = append(m.blocks, b)
		m = m.updateBlockFocus()
	case crew.EventToolsLoaded:
		if b := m.stages[e.Agent]; b != nil {
			b.SetTools(e.Tools)
		}
	case crew.EventModelCall:
		if b := m.stages[e.Agent]; b != nil {
			b.Iteration(e.Iteration)
		}
	case crew.EventToolCall:
		if b := m.stages[e.Agent]; b != nil {
			b.ToolCall(e.Tool)
		}
	case crew.EventToolResult:
		if b := m.stages[e.Agent]; b != nil && e.IsError {
			b.ToolError(e.Tool)
		}
	case crew.EventStageCompleted:
		if b := m.stages[e.Result.Agent]; b != nil {
			b.Complete(e.Result)
		}
	case crew.EventArtifact:
		m = m.addArtifact(e.Path)
	case crew.EventPipelineFailed:
		if b := m.stages[e.Agent]; b != nil {
			b.Fail(nil)
		}
	}
	return m
}

func (m Model) addArtifact(path string) Model {
	if m.artifacts == nil {
		m.artifacts = NewArtifactsBlock(m.styles)
		m.blocks = append(m.blocks, m.artifacts)
	}
	m.artifacts.Add(path)
	return m
}

func (m Model) finish(msg PipelineDoneMsg) Model {
	switch {
	case errors.Is(msg.Err, context.Canceled):
		m.cancelled = true
		for _, b := range m.stages {
			if b.Status() == StageRunning {
				b.Fail(nil)
			}
		}
	case msg.Err != nil:
		m.err = msg.Err
		m.blocks = append(m.blocks, NewErrorBlock(msg.Err, m.styles))
	}
	if msg.Result != nil {
		m.result = msg.Result
		for _, p := range msg.Result.Artifacts {
			m = m.addArtifact(p)
		}
	}
	return m
}

func (m Model) renderContent() string {
	if len(m.blocks) == 0 {
		return ""
	}
	var b strings.Builder
	for i, block := range m.blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block.View(m.Viewport.Width))
	}
	return b.String()
}

func collapsible(b Block) bool {
	switch b.(type) {
	case *StageBlock, *ArtifactsBlock:
		return true
	}
	return false
}

// updateBlockFocus scans backwards to find the last collapsible block.
func (m Model) updateBlockFocus() Model {
	m.blockFocus = -1
	for i := len(m.blocks) - 1; i >= 0; i-- {
		if collapsible(m.blocks[i]) {
			m.blockFocus = i
			return m
		}
	}
	return m
}

// cycleFocusPrev moves blockFocus to the previous collapsible block, wrapping around.
func (m Model) cycleFocusPrev() Model {
	start := m.blockFocus - 1
	if start < 0 {
		start = len(m.blocks) - 1
	}
	for i := range len(m.blocks) {
		idx := (start - i + len(m.blocks)) % len(m.blocks)
		if collapsible(m.blocks[idx]) {
			m.blockFocus = idx
			return m
		}
	}
	m.blockFocus = -1
	return m
}

// header renders the stage progress line. Stage names are dropped when the
// line does not fit the terminal.
func (m Model) header() string {
	type cell struct {
		mark, name string
		status     StageStatus
	}
	cells := make([]cell, 0, 3)
	plainWidth := 0
	for i, a := range crew.Agents() {
		status := StagePending
		if b := m.stages[a]; b != nil {
			status = b.Status()
		}
		c := cell{mark: m.stageMark(status), name: string(a), status: status}
		cells = append(cells, c)
		if i > 0 {
			plainWidth += uniseg.StringWidth(" → ")
		}
		plainWidth += uniseg.StringWidth(c.name) + 2
	}
	showNames := m.Viewport.Width == 0 || plainWidth <= m.Viewport.Width

	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		label := c.mark
		if showNames {
			label += " " + c.name
		}
		parts = append(parts, m.stageStyle(c.status).Render(label))
	}
	return strings.Join(parts, m.styles.Muted.Render(" → "))
}

func (m Model) stageMark(s StageStatus) string {
	switch s {
	case StageRunning:
		if m.running {
			return m.Spinner.View()
		}
		return "●"
	case StageDone:
		return "✓"
	case StageFailed:
		return "✗"
	}
	return "○"
}

func (m Model) stageStyle(s StageStatus) lipgloss.Style {
	switch s {
	case StageRunning:
		return m.styles.Stage
	case StageDone:
		return m.styles.Success
	case StageFailed:
		return m.styles.Error
	}
	return m.styles.Muted
}

func (m Model) statusLine() string {
	if m.err != nil {
		return m.styles.Error.Render(m.truncate(fmt.Sprintf("Error: %v", m.err)))
	}
	if m.running {
		return m.styles.Muted.Render(m.truncate(m.lastStatus))
	}
	if m.cancelled {
		return m.styles.Muted.Render("Cancelled. Enter to run again, Ctrl+C to quit")
	}
	if m.result != nil {
		t := m.result.Metrics.Total
		return m.styles.Success.Render(m.truncate(fmt.Sprintf(
			"Done in %.2fs · %d API calls · %d tokens · Enter to run again, Ctrl+C to quit",
			m.result.Metrics.ExecutionTimeSeconds(), t.APICalls, t.TotalTokens)))
	}
	return m.styles.Muted.Render("Enter to run, Ctrl+C to quit")
}

func (m Model) truncate(s string) string {
	if m.Viewport.Width <= 0 {
		return s
	}
	return runewidth.Truncate(s, m.Viewport.Width, "…")
}

// startPipeline runs the pipeline in a goroutine and signals completion.
func startPipeline(run PipelineFunc, ctx context.Context, description string, eventCh chan<- crew.Event, doneCh chan<- PipelineDoneMsg) tea.Cmd {
	return func() tea.Msg {
		res, err := run(ctx, description, func(e crew.Event) {
			select {
			case eventCh <- e:
			case <-ctx.Done():
			}
		})
		close(eventCh)
		doneCh <- PipelineDoneMsg{Result: res, Err: err}
		return nil
	}
}

// listenForEvent waits for the next event from the channel.
// When the channel closes, it returns the PipelineDoneMsg from doneCh.
func listenForEvent(ch <-chan crew.Event, doneCh <-chan PipelineDoneMsg) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return <-doneCh
		}
		return EventMsg{Event: evt}
	}
}
