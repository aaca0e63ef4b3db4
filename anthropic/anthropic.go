// Package anthropic implements [crew.Provider] for the Anthropic Messages API.
//
// It wraps github.com/anthropics/anthropic-sdk-go. Each Generate call is one
// non-streaming Messages.New request; consecutive tool results are merged
// into a single user turn as the API requires.
package anthropic

import "github.com/anthropics/anthropic-sdk-go"

const (
	defaultModel     = anthropic.ModelClaudeSonnet4_20250514
	defaultMaxTokens = 8192
)
