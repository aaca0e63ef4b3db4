package crew

// Request carries the conversation and generation parameters for one model
// call. The provider uses its own defaults when fields are zero/nil.
// A SystemMessage, when present, must be the first message.
type Request struct {
	Model       string // model ID, provider-specific; empty = provider default
	Messages    []Message
	Tools       []Tool
	MaxTokens   int      // 0 = provider default
	Temperature *float64 // nil = provider default
}

// SplitSystem separates a leading SystemMessage from the rest of the
// conversation.
func SplitSystem(msgs []Message) (string, []Message) {
	if len(msgs) == 0 {
		return "", msgs
	}
	if sm, ok := msgs[0].(SystemMessage); ok {
		return sm.Content, msgs[1:]
	}
	return "", msgs
}
