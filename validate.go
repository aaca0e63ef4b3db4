package crew

import "fmt"

// Validate checks universal constraints on Request.
// Provider implementations may apply additional provider-specific validation.
func (r Request) Validate() error {
	if r.Temperature != nil {
		if *r.Temperature < 0 || *r.Temperature > 2 {
			return fmt.Errorf("temperature must be in [0, 2], got %g: %w", *r.Temperature, ErrValidation)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d: %w", r.MaxTokens, ErrValidation)
	}
	for i, msg := range r.Messages {
		if _, ok := msg.(SystemMessage); ok && i != 0 {
			return fmt.Errorf("system message at position %d: %w", i, ErrValidation)
		}
		if err := ValidateMessage(msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// ValidateMessage checks that a message is well formed for its role.
func ValidateMessage(msg Message) error {
	switch m := msg.(type) {
	case SystemMessage, HumanMessage:
		return nil
	case AssistantMessage:
		return validateBlocks(m.Content)
	case ToolMessage:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message for %q has no call id: %w", m.ToolName, ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %T: %w", msg, ErrValidation)
	}
}

func validateBlocks(blocks []ContentBlock) error {
	for _, b := range blocks {
		switch bl := b.(type) {
		case TextBlock, ThinkingBlock:
		case ToolCallBlock:
			if bl.Name == "" {
				return fmt.Errorf("tool call %q has no name: %w", bl.ID, ErrValidation)
			}
		default:
			return fmt.Errorf("unknown content block type %T in %s message: %w", b, RoleAssistant, ErrValidation)
		}
	}
	return nil
}
