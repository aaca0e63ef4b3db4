package crew

import "strings"

// EstimateTokens approximates a token count as one token per four bytes.
// It is stable and grows monotonically with the length of text; it is not
// a tokenizer.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// SerializeMessages renders messages as the flat text the token estimator
// measures. Each message contributes its role and content; tool calls
// contribute their name and raw arguments.
func SerializeMessages(msgs ...Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(string(msg.Role()))
		b.WriteString(": ")
		switch m := msg.(type) {
		case SystemMessage:
			b.WriteString(m.Content)
		case HumanMessage:
			b.WriteString(m.Content)
		case ToolMessage:
			b.WriteString(m.Content)
		case AssistantMessage:
			for _, block := range m.Content {
				switch bl := block.(type) {
				case TextBlock:
					b.WriteString(bl.Text)
				case ThinkingBlock:
					b.WriteString(bl.Thinking)
				case ToolCallBlock:
					b.WriteString(bl.Name)
					b.Write(bl.Arguments)
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
