package crew

import (
	"fmt"
	"strings"
	"time"
)

// Event is a sealed interface representing a pipeline progress event.
// Every event renders as a human-readable status line via String.
// Events are informational and never affect control flow.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
	String() string
}

// EventHandler receives progress events. A nil handler discards them.
type EventHandler func(Event)

// Emit calls h with e when h is non-nil.
func (h EventHandler) Emit(e Event) {
	if h != nil {
		h(e)
	}
}

// StatusLines adapts a callback taking human-readable strings into an
// EventHandler.
func StatusLines(fn func(string)) EventHandler {
	if fn == nil {
		return nil
	}
	return func(e Event) { fn(e.String()) }
}

// EventPipelineStarted signals the start of a pipeline run.
type EventPipelineStarted struct {
	SessionID string
}

func (EventPipelineStarted) event() {}

func (e EventPipelineStarted) String() string {
	return fmt.Sprintf("Pipeline started (session %s)", e.SessionID)
}

// EventStageStarted signals that a stage is launching its tool process.
type EventStageStarted struct {
	Agent AgentName
}

func (EventStageStarted) event() {}

func (e EventStageStarted) String() string {
	return fmt.Sprintf("Starting %s agent", e.Agent)
}

// EventToolsLoaded reports the tools discovered for a stage.
type EventToolsLoaded struct {
	Agent AgentName
	Tools []string
}

func (EventToolsLoaded) event() {}

func (e EventToolsLoaded) String() string {
	return fmt.Sprintf("%s tools loaded: %s", e.Agent, strings.Join(e.Tools, ", "))
}

// EventModelCall signals a model call for the given iteration.
type EventModelCall struct {
	Agent     AgentName
	Iteration int
}

func (EventModelCall) event() {}

func (e EventModelCall) String() string {
	return fmt.Sprintf("%s thinking (iteration %d)", e.Agent, e.Iteration)
}

// EventToolCall signals that a tool is about to be invoked.
type EventToolCall struct {
	Agent AgentName
	Tool  string
}

func (EventToolCall) event() {}

func (e EventToolCall) String() string {
	return fmt.Sprintf("%s calling tool %s", e.Agent, e.Tool)
}

// EventToolResult reports a tool invocation that completed. IsError marks
// a tool-reported failure that was passed back to the model.
type EventToolResult struct {
	Agent   AgentName
	Tool    string
	IsError bool
}

func (EventToolResult) event() {}

func (e EventToolResult) String() string {
	if e.IsError {
		return fmt.Sprintf("%s tool %s returned an error", e.Agent, e.Tool)
	}
	return fmt.Sprintf("%s tool %s done", e.Agent, e.Tool)
}

// EventStageCompleted carries the result of a finished stage.
type EventStageCompleted struct {
	Result AgentRunResult
}

func (EventStageCompleted) event() {}

func (e EventStageCompleted) String() string {
	return fmt.Sprintf("%s agent completed (%d iterations, %d tool calls)",
		e.Result.Agent, e.Result.IterationCount, e.Result.ToolCallCount)
}

// EventArtifact reports a file written under the artifacts root.
type EventArtifact struct {
	Path string
}

func (EventArtifact) event() {}

func (e EventArtifact) String() string {
	return "artifact written: " + e.Path
}

// EventPipelineCompleted signals that all stages succeeded.
type EventPipelineCompleted struct {
	Duration time.Duration
}

func (EventPipelineCompleted) event() {}

func (e EventPipelineCompleted) String() string {
	return fmt.Sprintf("Pipeline completed in %.2fs", e.Duration.Seconds())
}

// EventPipelineFailed signals that a stage failed and the run was aborted.
type EventPipelineFailed struct {
	Agent AgentName
	Err   error
}

func (EventPipelineFailed) event() {}

func (e EventPipelineFailed) String() string {
	return fmt.Sprintf("Pipeline failed in %s stage: %v", e.Agent, e.Err)
}

// Interface compliance checks.
var (
	_ Event = EventPipelineStarted{}
	_ Event = EventStageStarted{}
	_ Event = EventToolsLoaded{}
	_ Event = EventModelCall{}
	_ Event = EventToolCall{}
	_ Event = EventToolResult{}
	_ Event = EventStageCompleted{}
	_ Event = EventArtifact{}
	_ Event = EventPipelineCompleted{}
	_ Event = EventPipelineFailed{}
)
