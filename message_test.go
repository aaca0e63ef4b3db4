package crew_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fwojciec/crew"
	"github.com/stretchr/testify/assert"
)

func TestMessageTypeSwitch_Exhaustive(t *testing.T) {
	t.Parallel()
	messages := []crew.Message{
		crew.SystemMessage{Content: "you are a planner"},
		crew.HumanMessage{Content: "hello", Timestamp: time.Now()},
		crew.AssistantMessage{Content: []crew.ContentBlock{crew.TextBlock{Text: "hi"}}},
		crew.ToolMessage{ToolCallID: "tc_1", ToolName: "read_file"},
	}
	assert.Len(t, messages, 4, "update slice and switch when adding new Message types")
	for _, msg := range messages {
		switch msg.(type) {
		case crew.SystemMessage:
		case crew.HumanMessage:
		case crew.AssistantMessage:
		case crew.ToolMessage:
		default:
			t.Fatalf("unexpected message type: %T", msg)
		}
	}
}

func TestMessage_Role(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  crew.Message
		want crew.Role
	}{
		{"SystemMessage", crew.SystemMessage{}, crew.RoleSystem},
		{"HumanMessage", crew.HumanMessage{}, crew.RoleHuman},
		{"AssistantMessage", crew.AssistantMessage{}, crew.RoleAssistant},
		{"ToolMessage", crew.ToolMessage{}, crew.RoleTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.msg.Role())
		})
	}
}

func TestAssistantMessage_Text(t *testing.T) {
	t.Parallel()

	t.Run("concatenates text blocks", func(t *testing.T) {
		t.Parallel()
		msg := crew.AssistantMessage{Content: []crew.ContentBlock{
			crew.ThinkingBlock{Thinking: "let me think"},
			crew.TextBlock{Text: "Step 1. "},
			crew.ToolCallBlock{ID: "tc_1", Name: "write_file"},
			crew.TextBlock{Text: "Step 2."},
		}}
		assert.Equal(t, "Step 1. Step 2.", msg.Text())
	})

	t.Run("empty without text blocks", func(t *testing.T) {
		t.Parallel()
		msg := crew.AssistantMessage{Content: []crew.ContentBlock{crew.ToolCallBlock{ID: "tc_1", Name: "x"}}}
		assert.Empty(t, msg.Text())
	})
}

func TestAssistantMessage_ToolCalls(t *testing.T) {
	t.Parallel()

	t.Run("preserves emission order", func(t *testing.T) {
		t.Parallel()
		msg := crew.AssistantMessage{Content: []crew.ContentBlock{
			crew.ToolCallBlock{ID: "tc_1", Name: "create_folder", Arguments: json.RawMessage(`{"folder_name":"src"}`)},
			crew.TextBlock{Text: "then"},
			crew.ToolCallBlock{ID: "tc_2", Name: "write_file", Arguments: json.RawMessage(`{"filename":"src/app.py"}`)},
		}}
		calls := msg.ToolCalls()
		assert.Len(t, calls, 2)
		assert.Equal(t, "create_folder", calls[0].Name)
		assert.Equal(t, "write_file", calls[1].Name)
	})

	t.Run("nil without tool calls", func(t *testing.T) {
		t.Parallel()
		msg := crew.AssistantMessage{Content: []crew.ContentBlock{crew.TextBlock{Text: "done"}}}
		assert.Nil(t, msg.ToolCalls())
	})
}

func TestSplitSystem(t *testing.T) {
	t.Parallel()

	t.Run("leading system message", func(t *testing.T) {
		t.Parallel()
		msgs := []crew.Message{
			crew.SystemMessage{Content: "prompt"},
			crew.HumanMessage{Content: "input"},
		}
		system, rest := crew.SplitSystem(msgs)
		assert.Equal(t, "prompt", system)
		assert.Equal(t, []crew.Message{crew.HumanMessage{Content: "input"}}, rest)
	})

	t.Run("no system message", func(t *testing.T) {
		t.Parallel()
		msgs := []crew.Message{crew.HumanMessage{Content: "input"}}
		system, rest := crew.SplitSystem(msgs)
		assert.Empty(t, system)
		assert.Equal(t, msgs, rest)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		system, rest := crew.SplitSystem(nil)
		assert.Empty(t, system)
		assert.Empty(t, rest)
	})
}
