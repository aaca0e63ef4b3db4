package crew

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is a sealed interface representing a conversation message.
// The unexported marker method prevents external implementations.
// Role() returns the message's role without requiring a type switch.
type Message interface {
	isMessage()
	Role() Role
}

// SystemMessage carries the role prompt that seeds an agent conversation.
type SystemMessage struct {
	Content string
}

func (SystemMessage) isMessage() {}

// Role returns RoleSystem.
func (SystemMessage) Role() Role { return RoleSystem }

// HumanMessage carries the serialized stage input.
type HumanMessage struct {
	Content   string
	Timestamp time.Time
}

func (HumanMessage) isMessage() {}

// Role returns RoleHuman.
func (HumanMessage) Role() Role { return RoleHuman }

// AssistantMessage represents one model turn.
type AssistantMessage struct {
	Content       []ContentBlock
	StopReason    StopReason
	RawStopReason string
	Usage         Usage
	Timestamp     time.Time
}

func (AssistantMessage) isMessage() {}

// Role returns RoleAssistant.
func (AssistantMessage) Role() Role { return RoleAssistant }

// Text concatenates the text blocks of the turn. Thinking and tool call
// blocks are skipped.
func (m AssistantMessage) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if tb, ok := block.(TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool call requests of the turn in emission order.
func (m AssistantMessage) ToolCalls() []ToolCallBlock {
	var calls []ToolCallBlock
	for _, block := range m.Content {
		if tc, ok := block.(ToolCallBlock); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolMessage carries the result of one tool invocation, correlated to the
// request by ToolCallID.
type ToolMessage struct {
	ToolCallID string
	ToolName   string
	Content    string
	IsError    bool
	Timestamp  time.Time
}

func (ToolMessage) isMessage() {}

// Role returns RoleTool.
func (ToolMessage) Role() Role { return RoleTool }

// ContentBlock is a sealed interface representing a block of assistant content.
// The unexported marker method prevents external implementations.
type ContentBlock interface {
	contentBlock()
}

// TextBlock contains text content.
type TextBlock struct {
	Text string
}

func (TextBlock) contentBlock() {}

// ThinkingBlock contains thinking/reasoning content. Signature is an opaque
// provider token that must be echoed back on later turns.
type ThinkingBlock struct {
	Thinking  string
	Signature []byte
}

func (ThinkingBlock) contentBlock() {}

// ToolCallBlock is a tool call request emitted by the model.
type ToolCallBlock struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

func (ToolCallBlock) contentBlock() {}

// Interface compliance checks.
var (
	_ Message = SystemMessage{}
	_ Message = HumanMessage{}
	_ Message = AssistantMessage{}
	_ Message = ToolMessage{}

	_ ContentBlock = TextBlock{}
	_ ContentBlock = ThinkingBlock{}
	_ ContentBlock = ToolCallBlock{}
)
