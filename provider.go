package crew

import "context"

// Provider is a strategy pattern interface for LLM providers.
//
// Generate submits the full conversation and returns one assistant turn.
// Request is passed by value; providers must not modify the caller's
// Messages or Tools elements.
type Provider interface {
	Generate(ctx context.Context, req Request) (AssistantMessage, error)
}
