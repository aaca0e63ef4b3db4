package crew_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fwojciec/crew"
	"github.com/stretchr/testify/assert"
)

func TestEventTypeSwitch_Exhaustive(t *testing.T) {
	t.Parallel()
	events := []crew.Event{
		crew.EventPipelineStarted{SessionID: "20260101_000000"},
		crew.EventStageStarted{Agent: crew.AgentPlanner},
		crew.EventToolsLoaded{Agent: crew.AgentPlanner, Tools: []string{"create_plan"}},
		crew.EventModelCall{Agent: crew.AgentPlanner, Iteration: 1},
		crew.EventToolCall{Agent: crew.AgentPlanner, Tool: "create_plan"},
		crew.EventToolResult{Agent: crew.AgentPlanner, Tool: "create_plan"},
		crew.EventStageCompleted{Result: crew.AgentRunResult{Agent: crew.AgentPlanner}},
		crew.EventArtifact{Path: "code/app.py"},
		crew.EventPipelineCompleted{Duration: time.Second},
		crew.EventPipelineFailed{Agent: crew.AgentTester, Err: errors.New("boom")},
	}
	assert.Len(t, events, 10, "update slice and switch when adding new Event types")
	for _, e := range events {
		switch e.(type) {
		case crew.EventPipelineStarted:
		case crew.EventStageStarted:
		case crew.EventToolsLoaded:
		case crew.EventModelCall:
		case crew.EventToolCall:
		case crew.EventToolResult:
		case crew.EventStageCompleted:
		case crew.EventArtifact:
		case crew.EventPipelineCompleted:
		case crew.EventPipelineFailed:
		default:
			t.Fatalf("unexpected event type: %T", e)
		}
	}
}

func TestEvent_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		event crew.Event
		want  string
	}{
		{crew.EventStageStarted{Agent: crew.AgentDeveloper}, "Starting developer agent"},
		{crew.EventToolsLoaded{Agent: crew.AgentDeveloper, Tools: []string{"write_file", "read_file"}}, "developer tools loaded: write_file, read_file"},
		{crew.EventModelCall{Agent: crew.AgentTester, Iteration: 3}, "tester thinking (iteration 3)"},
		{crew.EventToolCall{Agent: crew.AgentDeveloper, Tool: "write_file"}, "developer calling tool write_file"},
		{crew.EventToolResult{Agent: crew.AgentDeveloper, Tool: "read_file", IsError: true}, "developer tool read_file returned an error"},
		{crew.EventStageCompleted{Result: crew.AgentRunResult{Agent: crew.AgentPlanner, IterationCount: 2, ToolCallCount: 1}}, "planner agent completed (2 iterations, 1 tool calls)"},
		{crew.EventArtifact{Path: "code/app.py"}, "artifact written: code/app.py"},
		{crew.EventPipelineCompleted{Duration: 1500 * time.Millisecond}, "Pipeline completed in 1.50s"},
		{crew.EventPipelineFailed{Agent: crew.AgentTester, Err: errors.New("boom")}, "Pipeline failed in tester stage: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.event.String())
		})
	}
}

func TestStatusLines(t *testing.T) {
	t.Parallel()

	t.Run("forwards rendered lines", func(t *testing.T) {
		t.Parallel()
		var lines []string
		h := crew.StatusLines(func(s string) { lines = append(lines, s) })
		h.Emit(crew.EventStageStarted{Agent: crew.AgentPlanner})
		assert.Equal(t, []string{"Starting planner agent"}, lines)
	})

	t.Run("nil callback yields nil handler", func(t *testing.T) {
		t.Parallel()
		h := crew.StatusLines(nil)
		assert.Nil(t, h)
		assert.NotPanics(t, func() { h.Emit(crew.EventArtifact{Path: "x"}) })
	})
}
